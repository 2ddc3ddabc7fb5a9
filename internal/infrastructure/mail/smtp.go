package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"ScholarSnap/internal/domain"
	"ScholarSnap/internal/ports"
)

// SMTPNotifier sends through a plain SMTP relay with optional STARTTLS and PLAIN auth.
type SMTPNotifier struct {
	host     string
	port     int
	username string
	password string
	from     string
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

var _ ports.Notifier = (*SMTPNotifier)(nil)

// NewSMTPNotifier builds the relay transport.
func NewSMTPNotifier(host string, port int, username, password, from string, logger *slog.Logger) *SMTPNotifier {
	if port == 0 {
		port = 587
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SMTPNotifier{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		timeout:  time.Minute,
		now:      time.Now,
		logger:   logger,
	}
}

// Authorize connects and authenticates once; the returned sender reuses the
// session for every message and must be closed.
func (n *SMTPNotifier) Authorize(ctx context.Context) (ports.Sender, error) {
	addr := net.JoinHostPort(n.host, strconv.Itoa(n.port))

	dialer := &net.Dialer{Timeout: n.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	_ = conn.SetDeadline(n.deadline(ctx))

	client, err := smtp.NewClient(conn, n.host)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: n.host, MinVersion: tls.VersionTLS12}); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("starttls: %w", err)
		}
	}

	if n.username != "" {
		if err := client.Auth(smtp.PlainAuth("", n.username, n.password, n.host)); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("%w: smtp auth: %w", domain.ErrCredentials, err)
		}
	}

	return &smtpSender{notifier: n, conn: conn, client: client}, nil
}

// deadline is the earlier of ctx's deadline and now plus the per-call timeout.
func (n *SMTPNotifier) deadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(n.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return deadline
}

type smtpSender struct {
	notifier *SMTPNotifier
	// conn underlies client (also after STARTTLS); every call sets its own deadline on it.
	conn   net.Conn
	client *smtp.Client
	count  int
}

func (s *smtpSender) Send(ctx context.Context, msg domain.Message) (string, error) {
	if len(msg.To) == 0 {
		return "", errors.New("message has no recipients")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	_ = s.conn.SetDeadline(s.notifier.deadline(ctx))
	if s.count > 0 {
		if err := s.client.Reset(); err != nil {
			return "", fmt.Errorf("smtp reset: %w", err)
		}
	}
	s.count++

	raw, err := BuildMIME(s.notifier.from, msg, s.notifier.now())
	if err != nil {
		return "", err
	}

	if err := s.client.Mail(s.notifier.from); err != nil {
		return "", fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range msg.To {
		if err := s.client.Rcpt(rcpt); err != nil {
			return "", fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}

	w, err := s.client.Data()
	if err != nil {
		return "", fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("smtp end data: %w", err)
	}

	id := fmt.Sprintf("smtp-%d-%d", s.notifier.now().UnixNano(), s.count)
	s.notifier.logger.Info("email sent", "to", msg.To, "id", id)
	return id, nil
}

// Close ends the SMTP session.
func (s *smtpSender) Close() error {
	_ = s.conn.SetDeadline(time.Now().Add(s.notifier.timeout))
	if err := s.client.Quit(); err != nil {
		return s.client.Close()
	}
	return nil
}
