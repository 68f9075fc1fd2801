package pipeline

import (
	"strings"

	"ncmcheck/internal/util"
)

// JoinText cleans each part and joins the non-empty ones with newlines.
func JoinText(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(util.CleanText(p)); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}
