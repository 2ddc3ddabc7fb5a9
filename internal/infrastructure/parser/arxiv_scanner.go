package parser

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"ScholarSnap/internal/domain"
	"ScholarSnap/internal/infrastructure/arxiv"
	"ScholarSnap/internal/scanner"
)

// DefaultListingURL is the "new submissions" page for all of computer science.
const DefaultListingURL = "https://arxiv.org/list/cs/new"

var dateExpr = regexp.MustCompile(`\d{1,2} [A-Za-z]{3} \d{4}`)

// ListingScanner reads the newest entries from an arXiv HTML listing page.
type ListingScanner struct {
	client     *arxiv.Client
	listingURL string
	pageSize   int
	logger     *slog.Logger
}

var _ scanner.Scanner = (*ListingScanner)(nil)

// NewListingScanner wires the shared arXiv client; pageSize defaults to 25.
func NewListingScanner(client *arxiv.Client, listingURL string, logger *slog.Logger) *ListingScanner {
	if listingURL == "" {
		listingURL = DefaultListingURL
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ListingScanner{client: client, listingURL: listingURL, pageSize: 25, logger: logger}
}

// Name identifies the strategy inside the registry.
func (l *ListingScanner) Name() string {
	return "listing"
}

// Scan returns up to Query.MaxResults entries in listing order (newest first).
func (l *ListingScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.PaperReference, error) {
	limit := req.Query.MaxResults
	if limit <= 0 {
		limit = 1
	}

	pageURL, err := buildPageURL(l.listingURL, 0, l.pageSize)
	if err != nil {
		return nil, err
	}

	doc, err := l.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	base, _ := url.Parse(pageURL)
	papers := l.extractPapers(doc, base, limit)
	l.logger.Debug("listing parsed", "url", pageURL, "papers", len(papers))
	return papers, nil
}

func (l *ListingScanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	resp, err := l.client.Get(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("request listing: %w", err)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	return doc, nil
}

func (l *ListingScanner) extractPapers(doc *goquery.Document, base *url.URL, limit int) []domain.PaperReference {
	var collected []domain.PaperReference

	doc.Find("dl > dt").EachWithBreak(func(i int, dt *goquery.Selection) bool {
		paper, err := parseEntry(dt, dt.Next(), base)
		if err != nil {
			l.logger.Debug("skip listing entry", "index", i, "error", err)
			return true
		}
		collected = append(collected, paper)
		return len(collected) < limit
	})

	return collected
}

func parseEntry(dt, dd *goquery.Selection, base *url.URL) (domain.PaperReference, error) {
	link := dt.Find("a[href*=\"/abs/\"]").First()
	href, ok := link.Attr("href")
	if !ok || href == "" {
		return domain.PaperReference{}, fmt.Errorf("entry has no abstract link")
	}

	id := strings.TrimSpace(link.Text())
	if id == "" {
		id = href[strings.LastIndex(href, "/abs/")+len("/abs/"):]
	}
	id = strings.TrimPrefix(id, "arXiv:")

	canonical := resolve(base, href)

	contentURL := strings.Replace(canonical, "/abs/", "/pdf/", 1)
	if pdfHref, ok := dt.Find("a[href*=\"/pdf/\"]").First().Attr("href"); ok && pdfHref != "" {
		contentURL = resolve(base, pdfHref)
	}

	title := strings.TrimSpace(dd.Find(".list-title").First().Text())
	title = strings.TrimPrefix(title, "Title:")
	title = arxiv.CollapseSpaces(title)

	abstract := dd.Find("p.mathjax").First().Text()
	abstract = strings.TrimPrefix(strings.TrimSpace(abstract), "Abstract:")
	abstract = arxiv.CollapseSpaces(abstract)

	dateText := strings.TrimSpace(dd.Find(".list-date").First().Text())
	if dateText == "" {
		dateText = strings.TrimSpace(dd.Find(".list-dateline").First().Text())
	}

	var publishedAt time.Time
	if match := dateExpr.FindString(dateText); match != "" {
		if parsed, err := time.Parse("2 Jan 2006", match); err == nil {
			publishedAt = parsed
		}
	}

	return domain.PaperReference{
		ID:           id,
		Title:        title,
		CanonicalURL: canonical,
		ContentURL:   contentURL,
		Abstract:     abstract,
		Published:    publishedAt,
	}, nil
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil || base == nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func buildPageURL(base string, skip, pageSize int) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid listing url %s: %w", base, err)
	}

	query := parsed.Query()
	query.Set("skip", strconv.Itoa(skip))
	query.Set("show", strconv.Itoa(pageSize))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
