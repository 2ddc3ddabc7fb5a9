package domain

import "strings"

// Section headers of the summary body. Mail rendering and downstream readers
// depend on these exact strings.
const (
	HeaderTitle    = "✏️ Paper Title"
	HeaderSummary  = "🧠 Summary"
	HeaderInsights = "🔑 Key Insights"
	HeaderLink     = "🔗 Paper Link"
)

// RequiredHeaders lists the headers in the order they must appear.
var RequiredHeaders = []string{HeaderTitle, HeaderSummary, HeaderInsights, HeaderLink}

// SummarySection is one header plus the lines beneath it.
type SummarySection struct {
	Heading string
	Lines   []string
}

// ParseSummary splits a summary body on the known headers. Text before the
// first header lands in a section with an empty heading. Header matching
// ignores leading emoji and surrounding markdown emphasis.
func ParseSummary(body string) []SummarySection {
	var (
		sections []SummarySection
		current  *SummarySection
	)

	for _, raw := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		line := strings.TrimRight(raw, " \t")
		if heading, ok := matchHeader(line); ok {
			sections = append(sections, SummarySection{Heading: heading})
			current = &sections[len(sections)-1]
			continue
		}
		if current == nil {
			if strings.TrimSpace(line) == "" {
				continue
			}
			sections = append(sections, SummarySection{})
			current = &sections[len(sections)-1]
		}
		current.Lines = append(current.Lines, line)
	}

	for i := range sections {
		sections[i].Lines = trimBlank(sections[i].Lines)
	}
	return sections
}

// MissingHeaders returns required headers absent from body.
func MissingHeaders(body string) []string {
	found := map[string]bool{}
	for _, s := range ParseSummary(body) {
		found[s.Heading] = true
	}
	var missing []string
	for _, h := range RequiredHeaders {
		if !found[h] {
			missing = append(missing, h)
		}
	}
	return missing
}

func matchHeader(line string) (string, bool) {
	key := normalizeHeader(line)
	if key == "" {
		return "", false
	}
	for _, h := range RequiredHeaders {
		if normalizeHeader(h) == key {
			return h, true
		}
	}
	return "", false
}

func normalizeHeader(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "*#_ :")
	s = strings.TrimLeftFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	})
	return strings.ToLower(strings.TrimSpace(s))
}

func trimBlank(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
