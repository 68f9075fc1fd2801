package ncm

import "regexp"

// Two digits, then three more pairs each optionally preceded by one non-digit
// separator, not embedded in a longer word or digit run.
var codePattern = regexp.MustCompile(`\b\d{2}\D?\d{2}\D?\d{2}\D?\d{2}\b`)

// Extract returns the normalized codes found in text, without repeats, in
// order of first appearance. Codes are not checked against any registry.
func Extract(text string) []string {
	matches := codePattern.FindAllString(text, -1)
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		code := Normalize(m)
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}
