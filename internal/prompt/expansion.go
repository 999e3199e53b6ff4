package prompt

import (
	"fmt"
	"strings"
)

// Shortfall describes why a draft was rejected.
type Shortfall struct {
	Length      int
	MinLength   int
	MissingMeta bool
	Violations  []string
}

// Expansion builds the correction prompt. The draft is embedded verbatim.
func Expansion(draft string, s Shortfall) string {
	var b strings.Builder
	b.WriteString("CORRECTION REQUIRED: the draft below failed review.\n")
	if s.Length < s.MinLength {
		fmt.Fprintf(&b, "- It is too short (%d characters; at least %d required). Expand it with more legal analysis, historical context and concrete local examples. Do not repeat yourself.\n",
			s.Length, s.MinLength)
	}
	if s.MissingMeta {
		fmt.Fprintf(&b, "- The hidden <!-- %s {...} --> block is missing or is not valid JSON. Include it.\n", MetaMarker)
	}
	if len(s.Violations) > 0 {
		fmt.Fprintf(&b, "- Remove these disallowed phrases: %s.\n", quotedList(s.Violations))
	}
	b.WriteString("Return the complete revised article as HTML, not a diff.\n\n")
	b.WriteString("DRAFT TO REVISE:\n")
	b.WriteString(draft)
	return b.String()
}
