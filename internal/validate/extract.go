package validate

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/article-engine/internal/model"
	"github.com/sells-group/article-engine/internal/prompt"
)

const maxExcerptRunes = 240

var dashReplacer = strings.NewReplacer("—", ":", " - ", ": ")

// Sanitize replaces em-dashes and spaced hyphens with colons.
func Sanitize(text string) string {
	return dashReplacer.Replace(text)
}

// TitleAndExcerpt pulls the first heading and first paragraph out of the
// generated HTML, falling back to the title-cased topic.
func TitleAndExcerpt(html, topic string) (title, excerpt string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		title = collapse(doc.Find("h1").First().Text())
		if title == "" {
			title = collapse(doc.Find("h2").First().Text())
		}
		doc.Find("p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			excerpt = collapse(s.Text())
			return excerpt == ""
		})
	}

	if title == "" {
		title = cases.Title(language.English).String(strings.TrimSpace(topic))
	}
	if excerpt == "" {
		excerpt = "A deep-dive into " + strings.TrimSpace(topic) + "."
	}
	return title, truncateRunes(excerpt, maxExcerptRunes)
}

// CitedSources returns the refs from rc whose provenance label appears in
// content, in retrieval order.
func CitedSources(content string, rc model.RetrievedContext) []string {
	var cited []string
	seen := make(map[string]bool)
	for _, f := range rc.Fragments {
		if f.SourceRef == "" || seen[f.SourceRef] {
			continue
		}
		if strings.Contains(content, prompt.SourceLabel(f.SourceRef)) {
			cited = append(cited, f.SourceRef)
			seen[f.SourceRef] = true
		}
	}
	return cited
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)[:n]
	cut := string(r)
	if i := strings.LastIndex(cut, " "); i > n/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:") + "..."
}
