package mail

import (
	"fmt"
	"html/template"
	"strings"

	"ScholarSnap/internal/domain"
)

var summaryHTML = template.Must(template.New("summary").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><style>
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 700px; margin: 0 auto; padding: 20px; color: #333; }
h3 { color: #0f3460; margin-bottom: 6px; }
.section { margin-bottom: 18px; }
li { margin-bottom: 4px; }
</style></head><body>
{{- range .}}
<div class="section">
{{- if .Heading}}<h3>{{.Heading}}</h3>{{end}}
{{- range .Blocks}}
{{- if .Items}}<ul>{{range .Items}}<li>{{.}}</li>{{end}}</ul>
{{- else if .Link}}<p><a href="{{.Link}}">{{.Link}}</a></p>
{{- else}}<p>{{.Text}}</p>{{end}}
{{- end}}
</div>
{{- end}}
</body></html>
`))

type htmlSection struct {
	Heading string
	Blocks  []htmlBlock
}

type htmlBlock struct {
	Text  string
	Link  string
	Items []string
}

// RenderHTML renders the summary body as escaped HTML: one heading per known
// section, "- " lines as bullet lists, bare URLs as links.
func RenderHTML(body string) (string, error) {
	var sections []htmlSection
	for _, s := range domain.ParseSummary(body) {
		sections = append(sections, htmlSection{Heading: s.Heading, Blocks: toBlocks(s.Lines)})
	}

	var b strings.Builder
	if err := summaryHTML.Execute(&b, sections); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return b.String(), nil
}

func toBlocks(lines []string) []htmlBlock {
	var (
		blocks    []htmlBlock
		paragraph []string
		items     []string
	)
	flushParagraph := func() {
		if len(paragraph) > 0 {
			blocks = append(blocks, htmlBlock{Text: strings.Join(paragraph, " ")})
			paragraph = nil
		}
	}
	flushItems := func() {
		if len(items) > 0 {
			blocks = append(blocks, htmlBlock{Items: items})
			items = nil
		}
	}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
			flushParagraph()
			flushItems()
		case strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") || strings.HasPrefix(line, "• "):
			flushParagraph()
			items = append(items, strings.TrimSpace(line[strings.Index(line, " ")+1:]))
		case isURL(line):
			flushParagraph()
			flushItems()
			blocks = append(blocks, htmlBlock{Link: line})
		default:
			flushItems()
			paragraph = append(paragraph, line)
		}
	}
	flushParagraph()
	flushItems()
	return blocks
}

func isURL(s string) bool {
	return !strings.ContainsAny(s, " \t") && (strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://"))
}
