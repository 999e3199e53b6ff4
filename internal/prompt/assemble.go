// Package prompt builds the generation and correction prompts sent to the
// router. Everything here is pure and deterministic.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sells-group/article-engine/internal/model"
)

// MetaMarker opens the hidden metadata comment in generated HTML.
const MetaMarker = "ARTICLE_META"

// FallbackContext is used when retrieval returned nothing.
const FallbackContext = "[SYSTEM_NOTE] No specific articles found. Defaulting to Chapter 1: Sovereignty of the People."

// Defaults for Options.
const (
	DefaultPersona   = "You are an expert civic educator writing long-form explainers grounded in constitutional text."
	DefaultAuthor    = "ARTICLE ENGINE"
	DefaultMinLength = 7500
)

// Options are the deployment-level knobs of the assembler.
type Options struct {
	Persona   string
	Author    string
	MinLength int
	// DisallowedTokens are listed in the style rules so the model avoids them.
	DisallowedTokens []string
}

func (o Options) withDefaults() Options {
	if o.Persona == "" {
		o.Persona = DefaultPersona
	}
	if o.Author == "" {
		o.Author = DefaultAuthor
	}
	if o.MinLength <= 0 {
		o.MinLength = DefaultMinLength
	}
	return o
}

// Prompt is the assembled request: the user-turn text and the system instruction.
type Prompt struct {
	Text   string
	System string
}

// SourceLabel is the provenance label written before a fragment.
func SourceLabel(ref string) string {
	return "[SRC:" + ref + "]"
}

// Assemble builds the generation prompt. Sections always appear in the same
// order: role, task parameters, context, structure and style, output format.
func Assemble(p model.JobPayload, rc model.RetrievedContext, tone Tone, opts Options) Prompt {
	opts = opts.withDefaults()

	minLength := opts.MinLength
	if p.RequiredLength > minLength {
		minLength = p.RequiredLength
	}

	var b strings.Builder

	section(&b, "ROLE")
	b.WriteString(opts.Persona)
	b.WriteString("\nVoice: ")
	b.WriteString(orDash(tone.Voice))
	b.WriteString("\n\n")

	section(&b, "TASK")
	fmt.Fprintf(&b, "TOPIC: %s\n", orDash(p.Topic))
	fmt.Fprintf(&b, "ANGLE: %s\n", orDash(p.Angle))
	fmt.Fprintf(&b, "AUDIENCE: %s\n", orDash(p.Audience))
	fmt.Fprintf(&b, "TONE: %s\n", orDash(tone.Name))
	fmt.Fprintf(&b, "KEYWORDS: %s\n", keywordsJSON(p.Keywords))
	fmt.Fprintf(&b, "TARGET LENGTH: at least %d characters\n\n", minLength)

	section(&b, "CONTEXT")
	b.WriteString(contextBlock(rc))
	b.WriteString("\n\n")

	section(&b, "STRUCTURE")
	b.WriteString("1. Lede: open with a short, practical human example of the topic.\n")
	b.WriteString("2. Nut graf: explain why this matters now and outline the piece.\n")
	b.WriteString("3. Body: develop the argument under well-placed h2/h3 headings.\n")
	b.WriteString("4. Data callouts: give every numeric claim a short [DATA: ...] callout.\n")
	b.WriteString("5. Close: end with a memorable perspective that leaves the reader empowered.\n\n")

	section(&b, "STYLE")
	b.WriteString("- Do not use em-dashes; use colons or full stops.\n")
	for _, rule := range tone.Rules {
		b.WriteString("- ")
		b.WriteString(rule)
		b.WriteByte('\n')
	}
	if len(opts.DisallowedTokens) > 0 {
		fmt.Fprintf(&b, "- Never write these phrases: %s.\n", quotedList(opts.DisallowedTokens))
	}
	b.WriteString("- Every paragraph must carry legal or social substance.\n")
	if !rc.Empty() {
		b.WriteString("- Cite the sources you rely on with their [SRC:...] labels.\n")
	}
	b.WriteString("\n")

	section(&b, "OUTPUT FORMAT")
	b.WriteString("Output semantic HTML only (h1, h2, h3, p, blockquote, ul, ol, table).\n")
	b.WriteString("Wrap everything in <article>. The first heading is the title.\n")
	b.WriteString("Include this hidden metadata block, filled in, as valid JSON:\n")
	b.WriteString(metaTemplate(opts.Author, p.Keywords))
	b.WriteByte('\n')

	system := fmt.Sprintf("%s Author: %s. Minimum %d characters.", opts.Persona, opts.Author, minLength)
	return Prompt{Text: b.String(), System: system}
}

func contextBlock(rc model.RetrievedContext) string {
	if rc.Empty() {
		return FallbackContext
	}
	lines := make([]string, 0, len(rc.Fragments))
	for _, f := range rc.Fragments {
		lines = append(lines, SourceLabel(f.SourceRef)+" "+f.Text)
	}
	return strings.Join(lines, "\n\n")
}

func metaTemplate(author string, keywords []string) string {
	return fmt.Sprintf("<!-- %s {\"author\": %s, \"factual_integrity\": 0.0, \"intersections\": %s, \"status\": \"GREEN\"} -->",
		MetaMarker, jsonString(author), keywordsJSON(keywords))
}

func section(b *strings.Builder, name string) {
	b.WriteString("=== ")
	b.WriteString(name)
	b.WriteString(" ===\n")
}

func keywordsJSON(keywords []string) string {
	if keywords == nil {
		keywords = []string{}
	}
	out, _ := json.Marshal(keywords)
	return string(out)
}

func jsonString(s string) string {
	out, _ := json.Marshal(s)
	return string(out)
}

func quotedList(items []string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = fmt.Sprintf("%q", it)
	}
	return strings.Join(quoted, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
