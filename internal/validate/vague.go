package validate

import (
	"strings"
)

// vagueThreshold is the score at or above which an objective is routed
// to clarification instead of planning.
const vagueThreshold = 0.7

var vaguePhrases = []string{
	"make it better", "improve things", "fix it", "fix things", "do something",
	"clean up", "sort it out", "make it work", "handle it", "deal with it",
	"or something", "you know", "whatever works", "somehow",
}

var vagueWords = map[string]bool{
	"something": true, "stuff": true, "things": true, "somehow": true,
	"better": true, "nicer": true, "whatever": true, "etc": true,
	"maybe": true, "probably": true,
}

// concreteMarkers are signals the user knows what they want: paths,
// code identifiers, version numbers, error text.
func hasConcreteMarker(text string) bool {
	for _, f := range strings.Fields(text) {
		if strings.ContainsAny(f, "/._-") && len(f) > 3 {
			return true
		}
		if strings.ToUpper(f) != f && strings.ToLower(f) != f { // mixedCase identifier
			return true
		}
	}
	return strings.Contains(text, "\"") || strings.Contains(text, "`")
}

// VaguenessScore rates how underspecified an objective is in [0, 1].
// Short objectives made of filler words score high; anything naming a
// file, identifier, or error scores low.
func VaguenessScore(objective string) float64 {
	text := strings.ToLower(strings.TrimSpace(objective))
	if text == "" {
		return 1.0
	}

	score := 0.0
	words := strings.Fields(text)

	switch {
	case len(words) <= 2:
		score += 0.5
	case len(words) <= 4:
		score += 0.3
	case len(words) <= 7:
		score += 0.1
	}

	for _, p := range vaguePhrases {
		if strings.Contains(text, p) {
			score += 0.35
			break
		}
	}

	vagueCount := 0
	for _, w := range words {
		if vagueWords[strings.Trim(w, ".,!?")] {
			vagueCount++
		}
	}
	if len(words) > 0 {
		score += 0.6 * float64(vagueCount) / float64(len(words))
	}

	if hasConcreteMarker(objective) {
		score -= 0.4
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// IsVague reports whether the objective should short-circuit to a
// clarification plan.
func IsVague(objective string) bool {
	return VaguenessScore(objective) >= vagueThreshold
}
