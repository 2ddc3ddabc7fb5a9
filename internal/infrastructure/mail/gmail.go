package mail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"ScholarSnap/internal/domain"
	"ScholarSnap/internal/ports"
)

// TokenSource yields a valid OAuth2 access token for the mailbox.
type TokenSource interface {
	Acquire(ctx context.Context) (*oauth2.Token, error)
}

// GmailNotifier sends through the Gmail API users.messages.send call.
type GmailNotifier struct {
	tokens     TokenSource
	user       string
	from       string
	endpoint   string
	httpClient *http.Client
	now        func() time.Time
	logger     *slog.Logger
}

var _ ports.Notifier = (*GmailNotifier)(nil)

// GmailOptions tunes the Gmail transport; zero values are fine for production.
type GmailOptions struct {
	User       string
	From       string
	Endpoint   string
	HTTPClient *http.Client
}

// NewGmailNotifier wires a token source.
func NewGmailNotifier(tokens TokenSource, opts GmailOptions, logger *slog.Logger) *GmailNotifier {
	if opts.User == "" {
		opts.User = "me"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &GmailNotifier{
		tokens:     tokens,
		user:       opts.User,
		from:       opts.From,
		endpoint:   opts.Endpoint,
		httpClient: opts.HTTPClient,
		now:        time.Now,
		logger:     logger,
	}
}

// Authorize acquires (and refreshes if needed) the access token once and
// returns a sender bound to it.
func (g *GmailNotifier) Authorize(ctx context.Context) (ports.Sender, error) {
	tok, err := g.tokens.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	clientCtx := context.WithValue(context.Background(), oauth2.HTTPClient, g.httpClient)
	client := oauth2.NewClient(clientCtx, oauth2.StaticTokenSource(tok))

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: gmail service: %w", domain.ErrCredentials, err)
	}
	return &gmailSender{notifier: g, svc: svc}, nil
}

type gmailSender struct {
	notifier *GmailNotifier
	svc      *gmail.Service
}

func (s *gmailSender) Send(ctx context.Context, msg domain.Message) (string, error) {
	raw, err := BuildMIME(s.notifier.from, msg, s.notifier.now())
	if err != nil {
		return "", err
	}

	sent, err := s.svc.Users.Messages.Send(s.notifier.user, &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gmail send: %w", err)
	}

	s.notifier.logger.Info("email sent", "to", msg.To, "id", sent.Id)
	return sent.Id, nil
}
