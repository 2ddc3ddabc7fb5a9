package llm

import (
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"ScholarSnap/internal/domain"
)

var summaryPrompt = template.Must(template.New("summary").Parse(`You are a research assistant helping summarize academic papers clearly and concisely.

Paper title: {{.Title}}
Paper URL: {{.URL}}

Below is the paper content:
{{.Text}}

Write a friendly and informative summary that:
1. Explains the main idea and motivation in simple language.
2. Highlights the key methods or approach.
3. Lists the main results or findings.
4. Ends with a short note on why this research matters.

Include a final section called '` + domain.HeaderLink + `' with the paper URL.

Format your response like this:
` + domain.HeaderTitle + `
{{.Title}}
` + domain.HeaderSummary + `
<your short, clear summary (150-200 words)>

` + domain.HeaderInsights + `
- Insight 1
- Insight 2
- Insight 3

` + domain.HeaderLink + `
{{.URL}}`))

type promptInput struct {
	Title string
	URL   string
	Text  string
}

// BuildPrompt renders the summary prompt. maxChars > 0 truncates the paper
// text on a rune boundary.
func BuildPrompt(text, title, url string, maxChars int) (string, error) {
	var b strings.Builder
	err := summaryPrompt.Execute(&b, promptInput{
		Title: title,
		URL:   url,
		Text:  truncateRunes(text, maxChars),
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return b.String(), nil
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == max {
			return s[:i]
		}
		count++
	}
	return s
}

func finish(logger *slog.Logger, body, title, url string) (domain.SummaryResult, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.SummaryResult{}, fmt.Errorf("model returned an empty summary")
	}
	if missing := domain.MissingHeaders(body); len(missing) > 0 {
		logger.Warn("summary is missing sections", "missing", missing)
	}
	return domain.SummaryResult{Title: title, URL: url, Body: body}, nil
}
