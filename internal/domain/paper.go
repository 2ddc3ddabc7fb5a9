package domain

import "time"

// PaperReference identifies one candidate paper returned by a paper source.
type PaperReference struct {
	ID           string
	Title        string
	CanonicalURL string
	// ContentURL locates the raw document (PDF) consumed by the extractor.
	ContentURL string
	Abstract   string
	Published  time.Time
}

// PaperQuery narrows the catalog lookup.
type PaperQuery struct {
	Category   string
	MaxResults int
	SortBy     string
	SortOrder  string
}

// SummaryResult is the formatted summary produced once per run.
type SummaryResult struct {
	Title string
	URL   string
	Body  string
}
