package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ScholarSnap/internal/domain"
	"ScholarSnap/internal/ports"
)

const defaultAPIBase = "https://api.telegram.org"

// Reporter posts run outcomes to a Telegram chat via bot API.
type Reporter struct {
	botToken     string
	chatID       string
	onlyFailures bool
	apiBase      string
	client       *http.Client
}

var _ ports.RunReporter = (*Reporter)(nil)

// NewReporter registers bot token and chat identifier. With onlyFailures set,
// successful runs are not posted.
func NewReporter(botToken, chatID string, onlyFailures bool) *Reporter {
	return &Reporter{
		botToken:     botToken,
		chatID:       chatID,
		onlyFailures: onlyFailures,
		apiBase:      defaultAPIBase,
		client:       &http.Client{Timeout: 5 * time.Second},
	}
}

// WithAPIBase points the reporter at a different bot API host.
func (r *Reporter) WithAPIBase(base string, client *http.Client) *Reporter {
	r.apiBase = strings.TrimRight(base, "/")
	if client != nil {
		r.client = client
	}
	return r
}

// Report posts one run outcome.
func (r *Reporter) Report(ctx context.Context, result domain.RunResult) error {
	if r.onlyFailures && result.OK() && len(result.LogFailures) == 0 {
		return nil
	}
	return r.send(ctx, FormatRun(result))
}

func (r *Reporter) send(ctx context.Context, text string) error {
	if r.botToken == "" || r.chatID == "" || r.client == nil {
		return fmt.Errorf("telegram reporter misconfigured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", r.apiBase, r.botToken)
	form := url.Values{}
	form.Set("chat_id", r.chatID)
	form.Set("text", text)
	form.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}

	return nil
}

// FormatRun renders a run as a short plain-text status message.
func FormatRun(result domain.RunResult) string {
	var b strings.Builder
	switch result.Outcome {
	case domain.OutcomeSuccess:
		b.WriteString("✅ ScholarSnap run succeeded")
	case domain.OutcomeNoOp:
		b.WriteString("💤 ScholarSnap run had nothing to do")
	default:
		b.WriteString("❌ ScholarSnap run failed")
	}
	if result.RunID != "" {
		fmt.Fprintf(&b, " (%s)", result.RunID)
	}
	b.WriteString("\n")

	if result.Paper != nil {
		fmt.Fprintf(&b, "Paper: %s\n%s\n", result.Paper.Title, result.Paper.CanonicalURL)
	}
	fmt.Fprintf(&b, "Delivered: %d, skipped: %d", len(result.Delivered), len(result.Skipped))
	if len(result.Undelivered) > 0 {
		fmt.Fprintf(&b, ", undelivered: %s", strings.Join(result.Undelivered, ", "))
	}
	b.WriteString("\n")
	if len(result.LogFailures) > 0 {
		fmt.Fprintf(&b, "Not logged (may repeat): %s\n", strings.Join(result.LogFailures, ", "))
	}
	if result.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", result.Reason)
	}
	if result.Err != nil {
		fmt.Fprintf(&b, "Error: %v\n", result.Err)
	}
	return strings.TrimRight(b.String(), "\n")
}
