package extract

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ScholarSnap/internal/domain"
	"ScholarSnap/internal/infrastructure/arxiv"
)

// minimalPDF assembles a one-page PDF with a correct xref table.
func minimalPDF(text string) []byte {
	content := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", len(objects)+1)
	b.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return []byte(b.String())
}

func TestPlainText(t *testing.T) {
	text, err := PlainText(minimalPDF("Hello Scholar"))
	require.NoError(t, err)
	assert.Contains(t, text, "Hello Scholar")
}

func TestPlainTextMalformed(t *testing.T) {
	for _, input := range [][]byte{nil, []byte("not a pdf"), []byte("%PDF-1.4\ngarbage")} {
		text, err := PlainText(input)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrExtractionFailed)
		assert.Empty(t, text)
	}
}

func TestExtractTextFromURL(t *testing.T) {
	doc := minimalPDF("Downloaded Paper")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(doc)
	}))
	defer server.Close()

	ex := NewPDFExtractor(arxiv.NewClient(server.Client(), 0, ""), 0, nil)
	text, err := ex.ExtractText(context.Background(), server.URL+"/pdf/2610.00001")
	require.NoError(t, err)
	assert.Contains(t, text, "Downloaded Paper")
}

func TestExtractTextFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paper.pdf")
	require.NoError(t, os.WriteFile(path, minimalPDF("Local Paper"), 0o600))

	ex := NewPDFExtractor(arxiv.NewClient(nil, 0, ""), 0, nil)
	text, err := ex.ExtractText(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, text, "Local Paper")
}

func TestExtractTextFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/large":
			_, _ = w.Write(make([]byte, 2048))
		default:
			_, _ = w.Write([]byte("<html>not a pdf</html>"))
		}
	}))
	defer server.Close()

	ex := NewPDFExtractor(arxiv.NewClient(server.Client(), 0, ""), 1024, nil)
	for _, path := range []string{"/missing", "/large", "/html"} {
		text, err := ex.ExtractText(context.Background(), server.URL+path)
		require.Error(t, err, path)
		assert.ErrorIs(t, err, domain.ErrExtractionFailed, path)
		assert.Empty(t, text, path)
	}

	_, err := ex.ExtractText(context.Background(), filepath.Join(t.TempDir(), "absent.pdf"))
	assert.ErrorIs(t, err, domain.ErrExtractionFailed)
}
