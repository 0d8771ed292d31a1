// Package resolve links verified mentions to entities. Resolution is
// tiered: deterministic attendee matching first, then candidate retrieval
// and scoring, with explicit ambiguity when no candidate clearly wins.
package resolve

import (
	"strings"

	"github.com/kairoshq/kairos/pkg/types"
)

// Resolution thresholds.
const (
	// HighConfidence links a mention automatically.
	HighConfidence = 0.85

	// LowConfidence is the floor below which a candidate is not worth
	// keeping; with no candidate above it a new entity is created.
	LowConfidence = 0.30

	// LinkMargin is the minimum lead the best candidate needs over the
	// runner-up for an automatic link. A narrow lead means ambiguity.
	LinkMargin = 0.15

	// AttendeeGate is the minimum name similarity for an attendee's
	// entity to enter the candidate pool.
	AttendeeGate = 0.5

	// LooseSimilarity is the minimum name similarity for entities from
	// recent meetings to enter the candidate pool.
	LooseSimilarity = 0.4

	// MaxCandidates caps the pool offered to the scorer, keeping the
	// most recently seen.
	MaxCandidates = 20

	// LookbackDays and LookbackMeetings bound the recent-meeting
	// candidate source.
	LookbackDays     = 30
	LookbackMeetings = 20
)

// Similarity tiers. An exact token match ("sam" against "sam johnson")
// outranks a token prefix ("sam" against "samuel johnson"); both clear
// the automatic-link threshold, so a lone nickname resolves, while two
// plausible holders of the same nickname land within LinkMargin of each
// other and stay ambiguous.
const (
	scoreExact       = 1.0
	scoreTokenMatch  = 0.90
	scoreTokenPrefix = 0.87
	fuzzyScale       = 0.8
)

// NameSimilarity scores how well a mention text matches a candidate name,
// in [0,1]. Both inputs are normalized before comparison.
func NameSimilarity(mention, name string) float64 {
	a := types.NormalizeText(mention)
	b := types.NormalizeText(name)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return scoreExact
	}

	aTokens := strings.Fields(a)
	bTokens := strings.Fields(b)

	if tokensMatch(aTokens, bTokens, func(x, y string) bool { return x == y }) {
		return scoreTokenMatch
	}
	if tokensMatch(aTokens, bTokens, tokenPrefix) {
		return scoreTokenPrefix
	}

	return diceCoefficient(a, b) * fuzzyScale
}

// tokensMatch reports whether every token of the shorter side matches
// some token of the longer side under the given predicate.
func tokensMatch(a, b []string, match func(short, long string) bool) bool {
	short, long := a, b
	if len(b) < len(a) {
		short, long = b, a
	}
	if len(short) == 0 {
		return false
	}
	for _, s := range short {
		found := false
		for _, l := range long {
			if match(s, l) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// tokenPrefix matches abbreviations like "sam" against "samuel". Very
// short prefixes are too promiscuous to count.
func tokenPrefix(short, long string) bool {
	if len(short) < 3 {
		return short == long
	}
	return strings.HasPrefix(long, short) || strings.HasPrefix(short, long)
}

// diceCoefficient computes the Sørensen–Dice coefficient over character
// bigrams, a cheap fuzzy measure tolerant of transpositions and typos.
func diceCoefficient(a, b string) float64 {
	if len(a) < 2 || len(b) < 2 {
		return 0
	}

	bigrams := make(map[string]int)
	for i := 0; i+2 <= len(a); i++ {
		bigrams[a[i:i+2]]++
	}

	matches := 0
	for i := 0; i+2 <= len(b); i++ {
		if bigrams[b[i:i+2]] > 0 {
			bigrams[b[i:i+2]]--
			matches++
		}
	}

	return 2.0 * float64(matches) / float64(len(a)+len(b)-2)
}
