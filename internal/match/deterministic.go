// Package match implements the cheap tiers of the classification cascade:
// keyword/fuzzy matching against configured intent keywords, and embedding
// similarity against per-intent centroids.
package match

import (
	"strings"
	"unicode"

	"github.com/pelangihq/intentd/pkg/models"
	"github.com/sahilm/fuzzy"
)

// Result is one matcher outcome.
type Result struct {
	Intent string
	Score  float64
	Tier   models.Tier
}

// Deterministic matches message text against per-intent keyword lists.
// Exact or substring hits short-circuit at confidence 1.0; otherwise a
// fuzzy pass scores each keyword by normalized edit distance and the best
// intent wins if it clears the threshold. No network I/O.
type Deterministic struct {
	defaultThreshold float64
}

// NewDeterministic creates the matcher with a global fuzzy threshold used
// by intents without an override.
func NewDeterministic(defaultThreshold float64) *Deterministic {
	if defaultThreshold <= 0 || defaultThreshold > 1 {
		defaultThreshold = 0.8
	}
	return &Deterministic{defaultThreshold: defaultThreshold}
}

// Match returns the best matching intent, or ok=false. lang restricts the
// keyword groups consulted; an empty or unknown lang consults all groups.
// Ties keep the earliest intent in declaration order.
func (d *Deterministic) Match(text, lang string, intents []models.IntentDefinition) (Result, bool) {
	norm := Normalize(text)
	if norm == "" {
		return Result{}, false
	}
	tokens := strings.Fields(norm)

	var best Result
	for _, intent := range intents {
		keywords := keywordsForLang(intent, lang)
		if len(keywords) == 0 {
			continue
		}

		// Tier 1: exact or substring keyword hit.
		for _, kw := range keywords {
			nkw := Normalize(kw)
			if nkw == "" {
				continue
			}
			if norm == nkw || strings.Contains(norm, nkw) {
				return Result{Intent: intent.Name, Score: 1.0, Tier: models.TierKeyword}, true
			}
		}

		// Tier 2: fuzzy similarity, best keyword wins.
		score := d.fuzzyScore(norm, tokens, keywords)
		threshold := intent.Threshold
		if threshold <= 0 {
			threshold = d.defaultThreshold
		}
		if score >= threshold && score > best.Score {
			best = Result{Intent: intent.Name, Score: score, Tier: models.TierFuzzy}
		}
	}

	return best, best.Intent != ""
}

// fuzzyScore returns the best normalized similarity between the message
// and any keyword. A subsequence pre-filter skips keywords that share no
// character structure with the message before the edit-distance pass.
func (d *Deterministic) fuzzyScore(norm string, tokens, keywords []string) float64 {
	normalized := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if nkw := Normalize(kw); nkw != "" {
			normalized = append(normalized, nkw)
		}
	}
	if len(normalized) == 0 {
		return 0
	}

	candidates := make(map[int]bool, len(normalized))
	for _, m := range fuzzy.Find(norm, normalized) {
		candidates[m.Index] = true
	}
	for _, tok := range tokens {
		for _, m := range fuzzy.Find(tok, normalized) {
			candidates[m.Index] = true
		}
	}

	best := 0.0
	for i, nkw := range normalized {
		if len(candidates) > 0 && !candidates[i] {
			continue
		}
		if s := similarity(norm, nkw); s > best {
			best = s
		}
		for _, tok := range tokens {
			if s := similarity(tok, nkw); s > best {
				best = s
			}
		}
	}
	return best
}

func keywordsForLang(intent models.IntentDefinition, lang string) []string {
	if lang != "" {
		if kws, ok := intent.Keywords[lang]; ok {
			return kws
		}
	}
	var all []string
	for _, kws := range intent.Keywords {
		all = append(all, kws...)
	}
	return all
}

// Normalize lowercases, strips punctuation, and collapses whitespace.
func Normalize(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			if !lastSpace {
				sb.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

// similarity is 1 - editDistance/maxLen, so identical strings score 1.0.
func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 0
	}
	return 1.0 - float64(editDistance(ra, rb))/float64(maxLen)
}

// editDistance is the Levenshtein distance over runes, two-row DP.
func editDistance(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
