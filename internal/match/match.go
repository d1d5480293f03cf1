// Package match cross-references a film slug list against the parsed script
// tree: which scripts have a film, which films have no script, and the other
// way around. Titles are normalized before comparison so "Heat-1995" and
// "heat" line up.
package match

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// sampleCap bounds the example lists embedded in the report file.
const sampleCap = 10

var (
	trailingYearRe = regexp.MustCompile(`-\d{4}$`)
	punctuationRe  = regexp.MustCompile(`[^\w\s]`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
)

// NormalizeTitle strips a trailing release year, punctuation, and case so
// slug variants of the same title compare equal.
func NormalizeTitle(title string) string {
	clean := trailingYearRe.ReplaceAllString(title, "")
	clean = punctuationRe.ReplaceAllString(clean, "")
	clean = whitespaceRe.ReplaceAllString(clean, " ")
	return strings.ToLower(strings.TrimSpace(clean))
}

// Pair is one script/film match.
type Pair struct {
	Script     string `json:"script"`
	Film       string `json:"film"`
	Normalized string `json:"normalized"`
}

// Stats summarizes a matching run.
type Stats struct {
	TotalFilms      int     `json:"total_films"`
	TotalScripts    int     `json:"total_scripts"`
	MatchesFound    int     `json:"matches_found"`
	MatchPercentage float64 `json:"match_percentage"`
}

// Result is the full outcome of one run.
type Result struct {
	Matches          []Pair   `json:"matches"`
	UnmatchedScripts []string `json:"unmatched_scripts"`
	UnmatchedFilms   []string `json:"unmatched_films"`
	Stats            Stats    `json:"stats"`
}

// Match cross-references film titles against script names.
func Match(films, scripts []string) *Result {
	filmIndex := make(map[string]string, len(films))
	for _, film := range films {
		filmIndex[NormalizeTitle(film)] = film
	}
	scriptIndex := make(map[string]string, len(scripts))
	for _, script := range scripts {
		scriptIndex[NormalizeTitle(script)] = script
	}

	result := &Result{
		Stats: Stats{TotalFilms: len(films), TotalScripts: len(scripts)},
	}
	for normalized, script := range scriptIndex {
		if film, ok := filmIndex[normalized]; ok {
			result.Matches = append(result.Matches, Pair{
				Script:     script,
				Film:       film,
				Normalized: normalized,
			})
		} else {
			result.UnmatchedScripts = append(result.UnmatchedScripts, script)
		}
	}
	for normalized, film := range filmIndex {
		if _, ok := scriptIndex[normalized]; !ok {
			result.UnmatchedFilms = append(result.UnmatchedFilms, film)
		}
	}

	sort.Slice(result.Matches, func(i, j int) bool {
		return result.Matches[i].Normalized < result.Matches[j].Normalized
	})
	sort.Strings(result.UnmatchedScripts)
	sort.Strings(result.UnmatchedFilms)

	result.Stats.MatchesFound = len(result.Matches)
	if len(scripts) > 0 {
		result.Stats.MatchPercentage = float64(len(result.Matches)) / float64(len(scripts)) * 100
	}
	return result
}

// LoadFilms reads the film slug list (a JSON string array).
func LoadFilms(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("match: read film slugs: %w", err)
	}
	var films []string
	if err := json.Unmarshal(raw, &films); err != nil {
		return nil, fmt.Errorf("match: parse film slugs: %w", err)
	}
	return films, nil
}

// LoadScripts lists the parsed script names (file stems under parsedDir).
func LoadScripts(parsedDir string) ([]string, error) {
	entries, err := os.ReadDir(parsedDir)
	if err != nil {
		return nil, fmt.Errorf("match: read parsed tree: %w", err)
	}
	scripts := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		scripts = append(scripts, strings.TrimSuffix(entry.Name(), ".json"))
	}
	return scripts, nil
}

// report is the capped-sample JSON written for review: the full unmatched
// lists can run to thousands of entries, samples are enough to eyeball the
// normalization.
type report struct {
	GeneratedAt            time.Time `json:"generated_at"`
	Summary                Stats     `json:"summary"`
	Matches                []Pair    `json:"matches"`
	SampleUnmatchedScripts []string  `json:"sample_unmatched_scripts"`
	SampleUnmatchedFilms   []string  `json:"sample_unmatched_films"`
}

// WriteReport writes the capped-sample report next to the scrape tree.
func (r *Result) WriteReport(path string) error {
	rep := report{
		GeneratedAt:            time.Now().UTC(),
		Summary:                r.Stats,
		Matches:                capPairs(r.Matches),
		SampleUnmatchedScripts: capStrings(r.UnmatchedScripts),
		SampleUnmatchedFilms:   capStrings(r.UnmatchedFilms),
	}
	encoded, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("match: encode report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("match: create report directory: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return fmt.Errorf("match: write report: %w", err)
	}
	return nil
}

func capPairs(pairs []Pair) []Pair {
	if len(pairs) > sampleCap {
		return pairs[:sampleCap]
	}
	return pairs
}

func capStrings(values []string) []string {
	if len(values) > sampleCap {
		return values[:sampleCap]
	}
	return values
}
