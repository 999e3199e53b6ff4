// Package validate checks generated articles and drives the bounded
// self-correction loop.
package validate

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/sells-group/article-engine/internal/prompt"
)

// Policy defaults.
const (
	DefaultMinLength   = 7500
	DefaultMaxAttempts = 3
)

// DefaultDisallowedTokens are phrases a draft may not contain.
var DefaultDisallowedTokens = []string{"delve deeper", "comprehensive guide", "important to note", "—"}

var metaRe = regexp.MustCompile(`(?s)<!--\s*` + prompt.MetaMarker + `\s*(\{.*?\})\s*-->`)

// Policy holds the numeric and lexical output constraints.
type Policy struct {
	MinLength        int      `mapstructure:"min_length"`
	MaxAttempts      int      `mapstructure:"max_attempts"`
	DisallowedTokens []string `mapstructure:"disallowed_tokens"`
}

// DefaultPolicy returns the production policy.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:        DefaultMinLength,
		MaxAttempts:      DefaultMaxAttempts,
		DisallowedTokens: append([]string(nil), DefaultDisallowedTokens...),
	}
}

// ForLength returns a copy whose MinLength is at least required.
func (p Policy) ForLength(required int) Policy {
	if required > p.MinLength {
		p.MinLength = required
	}
	return p
}

// Report is the outcome of checking one draft.
type Report struct {
	Length     int      `json:"length"`
	MinLength  int      `json:"min_length"`
	HasMeta    bool     `json:"has_meta"`
	Meta       string   `json:"meta,omitempty"`
	Violations []string `json:"violations,omitempty"`
	Passed     bool     `json:"passed"`
}

// Shortfall converts the report into correction instructions.
func (r Report) Shortfall() prompt.Shortfall {
	return prompt.Shortfall{
		Length:      r.Length,
		MinLength:   r.MinLength,
		MissingMeta: !r.HasMeta,
		Violations:  r.Violations,
	}
}

// Check measures text against the policy: rune length, a well-formed
// metadata block and the absence of disallowed tokens (case-insensitive).
func (p Policy) Check(text string) Report {
	r := Report{
		Length:    utf8.RuneCountInString(text),
		MinLength: p.MinLength,
	}

	r.Meta, r.HasMeta = ExtractMeta(text)

	lower := strings.ToLower(text)
	for _, tok := range p.DisallowedTokens {
		if tok == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(tok)) {
			r.Violations = append(r.Violations, tok)
		}
	}

	r.Passed = r.Length >= r.MinLength && r.HasMeta && len(r.Violations) == 0
	return r
}

// ShouldCorrect reports whether another correction round is warranted after
// attempt corrections have already been made.
func (p Policy) ShouldCorrect(r Report, attempt int) bool {
	return !r.Passed && attempt < p.MaxAttempts
}

// ExtractMeta returns the JSON object inside the metadata comment and whether
// it is well formed.
func ExtractMeta(text string) (string, bool) {
	m := metaRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	raw := strings.TrimSpace(m[1])
	if !gjson.Valid(raw) || !gjson.Parse(raw).IsObject() {
		return "", false
	}
	return raw, true
}

// Score rates a report in [0,1]. A passing draft takes the self-reported
// factual_integrity when present. Otherwise the score is the length ratio,
// reduced when the metadata block is missing and for each violation.
func Score(r Report) float64 {
	if r.Passed {
		if fi := gjson.Get(r.Meta, "factual_integrity"); fi.Type == gjson.Number && fi.Float() > 0 {
			return clamp01(fi.Float())
		}
		return 1
	}

	score := 1.0
	if r.MinLength > 0 {
		score = math.Min(1, float64(r.Length)/float64(r.MinLength))
	}
	if !r.HasMeta {
		score *= 0.8
	}
	score *= math.Pow(0.9, float64(len(r.Violations)))
	return clamp01(math.Round(score*1000) / 1000)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
