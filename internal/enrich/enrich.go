// Package enrich runs multi-pass regex heuristics over loosely structured
// screenplay text: scene headings, character cues, genre scoring, and beat
// positions. It is deliberately heuristic; screenplay formatting in the wild
// is too inconsistent for a formal grammar to survive.
package enrich

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Scene is one INT./EXT. heading with its position in the script.
type Scene struct {
	Idx       int    `json:"idx"`
	Heading   string `json:"heading"`
	Interior  bool   `json:"interior"`
	Location  string `json:"location"`
	TimeOfDay string `json:"time_of_day,omitempty"`
	Line      int    `json:"line"`
}

// CharacterStat counts how often a character cue appears.
type CharacterStat struct {
	Name string `json:"name"`
	Cues int    `json:"cues"`
}

// Analysis is the full enrichment output for one script.
type Analysis struct {
	Scenes     []Scene         `json:"scenes"`
	Characters []CharacterStat `json:"characters"`
	Genres     []GenreScore    `json:"genres"`
	Beats      []Beat          `json:"beats"`
	Outline    []string        `json:"outline"`
}

var (
	// INT. KITCHEN - NIGHT, EXT. STREET - DAY, INT./EXT. CAR - CONTINUOUS
	sceneHeadingRe = regexp.MustCompile(`^\s*(INT\.?/EXT\.?|EXT\.?/INT\.?|I/E\.?|INT|EXT)[\.\s]+(.+)$`)
	// Trailing time-of-day marker after a dash.
	timeOfDayRe = regexp.MustCompile(`\s*[-–]\s*(DAY|NIGHT|DUSK|DAWN|MORNING|EVENING|AFTERNOON|CONTINUOUS|LATER|SAME)\s*$`)
	// A character cue is a short ALL-CAPS line, optionally with a V.O./O.S.
	// qualifier, that is not itself a scene heading or transition.
	characterCueRe = regexp.MustCompile(`^\s{0,40}([A-Z][A-Z0-9 .'\-]{1,30}?)(\s*\((?:V\.O\.|O\.S\.|O\.C\.|CONT'D)\))?\s*$`)
	transitionRe   = regexp.MustCompile(`^\s*(FADE (IN|OUT|TO)|CUT TO|DISSOLVE TO|SMASH CUT|MATCH CUT|THE END)[:.\s]*$`)
)

// Analyze runs every pass over the script text.
func Analyze(text string) *Analysis {
	lines := strings.Split(text, "\n")
	scenes := extractScenes(lines)
	characters := extractCharacters(lines)
	genres := scoreGenres(text)
	beats := placeBeats(scenes)
	return &Analysis{
		Scenes:     scenes,
		Characters: characters,
		Genres:     genres,
		Beats:      beats,
		Outline:    buildOutline(scenes, beats),
	}
}

var locationCaser = cases.Title(language.English)

func extractScenes(lines []string) []Scene {
	var scenes []Scene
	for lineNo, line := range lines {
		match := sceneHeadingRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if match == nil {
			continue
		}
		marker := strings.ToUpper(match[1])
		rest := strings.TrimSpace(match[2])

		timeOfDay := ""
		if tod := timeOfDayRe.FindStringSubmatch(rest); tod != nil {
			timeOfDay = strings.ToUpper(tod[1])
			rest = strings.TrimSpace(timeOfDayRe.ReplaceAllString(rest, ""))
		}
		scenes = append(scenes, Scene{
			Idx:       len(scenes) + 1,
			Heading:   strings.TrimSpace(strings.ToUpper(match[1]) + " " + strings.TrimSpace(match[2])),
			Interior:  strings.HasPrefix(marker, "INT") || strings.HasPrefix(marker, "I/E"),
			Location:  locationCaser.String(strings.ToLower(rest)),
			TimeOfDay: timeOfDay,
			Line:      lineNo + 1,
		})
	}
	return scenes
}

func extractCharacters(lines []string) []CharacterStat {
	counts := make(map[string]int)
	for i, line := range lines {
		line = strings.TrimRight(line, "\r")
		if sceneHeadingRe.MatchString(line) || transitionRe.MatchString(line) {
			continue
		}
		match := characterCueRe.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		name := strings.TrimSpace(match[1])
		// A cue introduces dialog: the next non-empty line must exist and the
		// name must not be a single stray word like "NO" or "STOP".
		if len(name) < 2 || !nextLineHasText(lines, i) {
			continue
		}
		if strings.Count(name, " ") > 3 {
			continue
		}
		counts[name]++
	}

	stats := make([]CharacterStat, 0, len(counts))
	for name, cues := range counts {
		// One-off matches are usually shouted action words, not characters.
		if cues < 2 {
			continue
		}
		stats = append(stats, CharacterStat{Name: name, Cues: cues})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Cues != stats[j].Cues {
			return stats[i].Cues > stats[j].Cues
		}
		return stats[i].Name < stats[j].Name
	})
	return stats
}

func nextLineHasText(lines []string, idx int) bool {
	for i := idx + 1; i < len(lines) && i <= idx+2; i++ {
		if strings.TrimSpace(lines[i]) != "" {
			return true
		}
	}
	return false
}

func buildOutline(scenes []Scene, beats []Beat) []string {
	beatByScene := make(map[int]string, len(beats))
	for _, beat := range beats {
		beatByScene[beat.SceneIdx] = beat.Name
	}
	outline := make([]string, 0, len(scenes))
	for _, scene := range scenes {
		entry := scene.Heading
		if name, ok := beatByScene[scene.Idx]; ok {
			entry += " [" + name + "]"
		}
		outline = append(outline, entry)
	}
	return outline
}
