package arxiv

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"

	"ScholarSnap/internal/domain"
	"ScholarSnap/internal/scanner"
)

// DefaultEndpoint is the public arXiv query API.
const DefaultEndpoint = "https://export.arxiv.org/api/query"

// FeedScanner queries the arXiv Atom API.
type FeedScanner struct {
	client   *Client
	endpoint string
	logger   *slog.Logger
}

var _ scanner.Scanner = (*FeedScanner)(nil)

// NewFeedScanner builds the "api" strategy.
func NewFeedScanner(client *Client, endpoint string, logger *slog.Logger) *FeedScanner {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FeedScanner{client: client, endpoint: endpoint, logger: logger}
}

// Name identifies the strategy inside the registry.
func (f *FeedScanner) Name() string {
	return "api"
}

// Scan returns the feed entries in the order arXiv sorted them.
func (f *FeedScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.PaperReference, error) {
	queryURL, err := buildQueryURL(f.endpoint, req.Query)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Get(ctx, queryURL)
	if err != nil {
		return nil, fmt.Errorf("query arxiv: %w", err)
	}
	defer resp.Body.Close()

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse arxiv feed: %w", err)
	}

	papers := make([]domain.PaperReference, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		paper := toPaper(item)
		if paper.ContentURL == "" {
			f.logger.Warn("skip entry without document link", "id", item.GUID, "title", paper.Title)
			continue
		}
		papers = append(papers, paper)
	}

	f.logger.Debug("arxiv feed parsed", "entries", len(feed.Items), "papers", len(papers))
	return papers, nil
}

func toPaper(item *gofeed.Item) domain.PaperReference {
	canonical := item.GUID
	if canonical == "" {
		canonical = item.Link
	}

	paper := domain.PaperReference{
		ID:           strings.TrimPrefix(strings.TrimPrefix(canonical, "http://arxiv.org/abs/"), "https://arxiv.org/abs/"),
		Title:        CollapseSpaces(item.Title),
		CanonicalURL: canonical,
		ContentURL:   pdfURL(item, canonical),
		Abstract:     CollapseSpaces(item.Description),
	}
	if item.PublishedParsed != nil {
		paper.Published = *item.PublishedParsed
	}
	return paper
}

func pdfURL(item *gofeed.Item, canonical string) string {
	for _, link := range item.Links {
		if strings.Contains(link, "/pdf/") {
			return link
		}
	}
	if strings.Contains(canonical, "/abs/") {
		return strings.Replace(canonical, "/abs/", "/pdf/", 1)
	}
	return ""
}

func buildQueryURL(endpoint string, q domain.PaperQuery) (string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid arxiv endpoint %s: %w", endpoint, err)
	}

	maxResults := q.MaxResults
	if maxResults <= 0 {
		maxResults = 1
	}

	query := parsed.Query()
	query.Set("search_query", "cat:"+q.Category)
	query.Set("start", "0")
	query.Set("max_results", strconv.Itoa(maxResults))
	if q.SortBy != "" {
		query.Set("sortBy", q.SortBy)
	}
	if q.SortOrder != "" {
		query.Set("sortOrder", q.SortOrder)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// CollapseSpaces folds runs of whitespace (arXiv wraps titles) into single spaces.
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
