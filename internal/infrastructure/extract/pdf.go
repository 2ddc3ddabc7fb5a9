package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"ScholarSnap/internal/domain"
	"ScholarSnap/internal/infrastructure/arxiv"
	"ScholarSnap/internal/ports"
)

const defaultMaxBytes = 50 << 20

// PDFExtractor downloads a PDF and returns its plain text.
type PDFExtractor struct {
	client   *arxiv.Client
	maxBytes int64
	logger   *slog.Logger
}

var _ ports.Extractor = (*PDFExtractor)(nil)

// NewPDFExtractor wires the shared arXiv client. maxBytes <= 0 uses 50 MiB.
func NewPDFExtractor(client *arxiv.Client, maxBytes int64, logger *slog.Logger) *PDFExtractor {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &PDFExtractor{client: client, maxBytes: maxBytes, logger: logger}
}

// ExtractText accepts an http(s) URL or a local file path. Failures return ""
// and an error wrapping domain.ErrExtractionFailed.
func (e *PDFExtractor) ExtractText(ctx context.Context, locator string) (string, error) {
	data, err := e.load(ctx, locator)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrExtractionFailed, err)
	}

	text, err := PlainText(data)
	if err != nil {
		return "", err
	}

	e.logger.Debug("pdf extracted", "locator", locator, "bytes", len(data), "chars", len(text))
	return text, nil
}

func (e *PDFExtractor) load(ctx context.Context, locator string) ([]byte, error) {
	if !strings.HasPrefix(locator, "http://") && !strings.HasPrefix(locator, "https://") {
		data, err := os.ReadFile(strings.TrimPrefix(locator, "file://"))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", locator, err)
		}
		return data, nil
	}

	resp, err := e.client.Get(ctx, locator)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > e.maxBytes {
		return nil, fmt.Errorf("document exceeds %d bytes", e.maxBytes)
	}
	return data, nil
}

// PlainText extracts text from an in-memory PDF. The parser panics on some
// malformed inputs; those are reported as errors.
func PlainText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: malformed pdf: %v", domain.ErrExtractionFailed, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: open pdf: %w", domain.ErrExtractionFailed, err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: read text: %w", domain.ErrExtractionFailed, err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("%w: read text: %w", domain.ErrExtractionFailed, err)
	}
	return buf.String(), nil
}
