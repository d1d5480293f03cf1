package enrich

import (
	"regexp"
	"sort"
	"strings"
)

// GenreScore is one genre with its keyword-hit score, normalized to the
// strongest genre in the script (the top genre always scores 1.0).
type GenreScore struct {
	Genre string  `json:"genre"`
	Score float64 `json:"score"`
	Hits  int     `json:"hits"`
}

// genreKeywords maps each genre to the vocabulary that signals it. Word
// lists, not semantics: the same blunt instrument the enrichment has always
// been.
var genreKeywords = map[string][]string{
	"action": {
		"explosion", "gun", "chase", "fight", "punch", "weapon", "soldier",
		"bullet", "helicopter", "crash", "attack", "escape",
	},
	"comedy": {
		"laugh", "joke", "funny", "hilarious", "awkward", "grin", "giggle",
		"prank", "sarcastic",
	},
	"drama": {
		"cry", "tears", "divorce", "funeral", "confession", "betrayal",
		"forgive", "grief", "regret",
	},
	"horror": {
		"scream", "blood", "monster", "darkness", "terror", "corpse", "demon",
		"haunted", "nightmare", "shadow",
	},
	"romance": {
		"kiss", "love", "heart", "embrace", "wedding", "passion", "tender",
		"longing",
	},
	"scifi": {
		"spaceship", "robot", "alien", "laser", "planet", "galaxy", "android",
		"portal", "quantum", "cyborg",
	},
	"thriller": {
		"detective", "murder", "suspect", "conspiracy", "hostage", "stalker",
		"ransom", "surveillance", "assassin",
	},
	"western": {
		"saloon", "sheriff", "horse", "revolver", "outlaw", "ranch", "duel",
		"frontier",
	},
}

// scoreGenres counts whole-word keyword hits per genre and normalizes.
func scoreGenres(text string) []GenreScore {
	lowered := strings.ToLower(text)

	scores := make([]GenreScore, 0, len(genreKeywords))
	maxHits := 0
	for genre, keywords := range genreKeywords {
		hits := 0
		for _, keyword := range keywords {
			hits += countWord(lowered, keyword)
		}
		if hits == 0 {
			continue
		}
		scores = append(scores, GenreScore{Genre: genre, Hits: hits})
		if hits > maxHits {
			maxHits = hits
		}
	}
	if maxHits == 0 {
		return nil
	}
	for i := range scores {
		scores[i].Score = float64(scores[i].Hits) / float64(maxHits)
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Hits != scores[j].Hits {
			return scores[i].Hits > scores[j].Hits
		}
		return scores[i].Genre < scores[j].Genre
	})
	return scores
}

// Keyword patterns are compiled once; \b keeps "gun" from matching "begun".
var wordRes = func() map[string]*regexp.Regexp {
	res := make(map[string]*regexp.Regexp)
	for _, keywords := range genreKeywords {
		for _, keyword := range keywords {
			res[keyword] = regexp.MustCompile(`\b` + regexp.QuoteMeta(keyword) + `s?\b`)
		}
	}
	return res
}()

func countWord(text, word string) int {
	return len(wordRes[word].FindAllStringIndex(text, -1))
}
