package extract

import (
	"regexp"
	"strings"
)

var numbered = regexp.MustCompile(`^\d+\.`)

// ParseFacts keeps the numbered lines of a model response, stripped of their
// numbering. Any other line is ignored.
func ParseFacts(response string) []string {
	var facts []string
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		loc := numbered.FindStringIndex(line)
		if loc == nil {
			continue
		}
		fact := strings.TrimSpace(line[loc[1]:])
		if fact == "" {
			continue
		}
		facts = append(facts, fact)
	}
	return facts
}

// Dedupe removes exact duplicates, keeping first-seen order. Strings are
// compared byte for byte with no normalization.
func Dedupe(facts []string) []string {
	seen := make(map[string]struct{}, len(facts))
	out := make([]string, 0, len(facts))
	for _, f := range facts {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
