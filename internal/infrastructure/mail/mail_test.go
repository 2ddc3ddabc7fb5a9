package mail

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	netmail "net/mail"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"ScholarSnap/internal/domain"
)

const summaryBody = `✏️ Paper Title
Sparse <Experts> & Friends
🧠 Summary
Routing tokens to experts
keeps compute flat.

🔑 Key Insights
- Gates learn <b>fast</b>
- Load balancing matters
- Scale helps

🔗 Paper Link
http://arxiv.org/abs/2610.01234v1`

func testMessage() domain.Message {
	return domain.Message{
		To:      []string{"a@x.com"},
		Subject: "📚 New paper summary: Sparse Experts",
		Text:    summaryBody,
	}
}

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML(summaryBody)
	require.NoError(t, err)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	var headings []string
	doc.Find("h3").Each(func(_ int, s *goquery.Selection) { headings = append(headings, s.Text()) })
	assert.Equal(t, domain.RequiredHeaders, headings)

	assert.Equal(t, 3, doc.Find("li").Length())
	assert.Equal(t, "Gates learn <b>fast</b>", doc.Find("li").First().Text())
	assert.Zero(t, doc.Find("li b").Length(), "model output must be escaped")
	assert.Contains(t, html, "Sparse &lt;Experts&gt; &amp; Friends")
	assert.Contains(t, html, "<p>Routing tokens to experts keeps compute flat.</p>")

	href, ok := doc.Find("a").Attr("href")
	require.True(t, ok)
	assert.Equal(t, "http://arxiv.org/abs/2610.01234v1", href)
}

func TestRenderHTMLWithoutHeaders(t *testing.T) {
	html, err := RenderHTML("just one line\n\nand <another>")
	require.NoError(t, err)
	assert.Contains(t, html, "<p>just one line</p>")
	assert.Contains(t, html, "<p>and &lt;another&gt;</p>")
	assert.NotContains(t, html, "<h3>")
}

func parseMIME(t *testing.T, raw []byte) (*netmail.Message, map[string]string) {
	t.Helper()
	msg, err := netmail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/alternative", mediaType)

	parts := map[string]string{}
	mr := multipart.NewReader(msg.Body, params["boundary"])
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		b, err := io.ReadAll(p)
		require.NoError(t, err)
		ct, _, _ := mime.ParseMediaType(p.Header.Get("Content-Type"))
		// quoted-printable text parts travel with CRLF line breaks
		parts[ct] = strings.ReplaceAll(string(b), "\r\n", "\n")
	}
	return msg, parts
}

func TestBuildMIME(t *testing.T) {
	date := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	raw, err := BuildMIME("bot@example.com", testMessage(), date)
	require.NoError(t, err)

	msg, parts := parseMIME(t, raw)
	assert.Equal(t, "bot@example.com", msg.Header.Get("From"))
	assert.Equal(t, "a@x.com", msg.Header.Get("To"))

	subject, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "📚 New paper summary: Sparse Experts", subject)

	sent, err := msg.Header.Date()
	require.NoError(t, err)
	assert.True(t, sent.Equal(date))

	assert.Equal(t, summaryBody, parts["text/plain"])
	assert.Contains(t, parts["text/html"], "<h3>"+domain.HeaderInsights+"</h3>")
}

func TestBuildMIMEKeepsProvidedHTML(t *testing.T) {
	m := testMessage()
	m.HTML = "<p>custom</p>"
	raw, err := BuildMIME("", m, time.Now())
	require.NoError(t, err)

	msg, parts := parseMIME(t, raw)
	assert.Empty(t, msg.Header.Get("From"))
	assert.Equal(t, "<p>custom</p>", parts["text/html"])
}

type staticTokens struct {
	tok *oauth2.Token
	err error
}

func (s staticTokens) Acquire(context.Context) (*oauth2.Token, error) { return s.tok, s.err }

func TestGmailNotifierSend(t *testing.T) {
	var (
		gotAuth string
		gotRaw  []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/gmail/v1/users/me/messages/send", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		var body struct {
			Raw string `json:"raw"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		var err error
		gotRaw, err = base64.URLEncoding.DecodeString(body.Raw)
		assert.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg-123","threadId":"t-1"}`))
	}))
	defer server.Close()

	notifier := NewGmailNotifier(
		staticTokens{tok: &oauth2.Token{AccessToken: "access-1", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}},
		GmailOptions{Endpoint: server.URL + "/", HTTPClient: server.Client()},
		nil,
	)

	sender, err := notifier.Authorize(context.Background())
	require.NoError(t, err)

	id, err := sender.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, "msg-123", id)
	assert.Equal(t, "Bearer access-1", gotAuth)

	_, parts := parseMIME(t, gotRaw)
	assert.Equal(t, summaryBody, parts["text/plain"])
}

func TestGmailNotifierSendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"insufficient scope"}}`))
	}))
	defer server.Close()

	notifier := NewGmailNotifier(
		staticTokens{tok: &oauth2.Token{AccessToken: "access-1"}},
		GmailOptions{Endpoint: server.URL + "/", HTTPClient: server.Client()},
		nil,
	)
	sender, err := notifier.Authorize(context.Background())
	require.NoError(t, err)

	_, err = sender.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestGmailNotifierAuthorizeError(t *testing.T) {
	notifier := NewGmailNotifier(staticTokens{err: domain.ErrCredentials}, GmailOptions{}, nil)
	_, err := notifier.Authorize(context.Background())
	assert.ErrorIs(t, err, domain.ErrCredentials)
}

type smtpCapture struct {
	from string
	rcpt []string
	data string
}

// fakeSMTP accepts one session and reports every completed DATA transaction.
func fakeSMTP(t *testing.T) (string, int, <-chan smtpCapture) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	out := make(chan smtpCapture, 8)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		tp := textproto.NewConn(conn)
		_ = tp.PrintfLine("220 fake ESMTP")
		var cur smtpCapture
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			cmd := strings.ToUpper(line)
			switch {
			case strings.HasPrefix(cmd, "EHLO"):
				_ = tp.PrintfLine("250-fake")
				_ = tp.PrintfLine("250 8BITMIME")
			case strings.HasPrefix(cmd, "MAIL FROM:"):
				cur = smtpCapture{from: strings.Trim(line[len("MAIL FROM:"):], "<> ")}
				if i := strings.Index(cur.from, ">"); i >= 0 {
					cur.from = cur.from[:i]
				}
				_ = tp.PrintfLine("250 ok")
			case strings.HasPrefix(cmd, "RCPT TO:"):
				cur.rcpt = append(cur.rcpt, strings.Trim(line[len("RCPT TO:"):], "<> "))
				_ = tp.PrintfLine("250 ok")
			case cmd == "DATA":
				_ = tp.PrintfLine("354 go ahead")
				b, err := tp.ReadDotBytes()
				if err != nil {
					return
				}
				cur.data = string(b)
				out <- cur
				_ = tp.PrintfLine("250 queued")
			case cmd == "RSET", cmd == "NOOP":
				_ = tp.PrintfLine("250 ok")
			case cmd == "QUIT":
				_ = tp.PrintfLine("221 bye")
				return
			default:
				_ = tp.PrintfLine("502 not implemented")
			}
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port, out
}

func TestSMTPNotifierSendsEachMessage(t *testing.T) {
	host, port, captured := fakeSMTP(t)

	notifier := NewSMTPNotifier(host, port, "", "", "bot@example.com", nil)
	sender, err := notifier.Authorize(context.Background())
	require.NoError(t, err)

	for _, rcpt := range []string{"a@x.com", "b@y.com"} {
		m := testMessage()
		m.To = []string{rcpt}
		id, err := sender.Send(context.Background(), m)
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	}
	require.NoError(t, sender.(io.Closer).Close())

	for _, want := range []string{"a@x.com", "b@y.com"} {
		select {
		case c := <-captured:
			assert.Equal(t, "bot@example.com", c.from)
			assert.Equal(t, []string{want}, c.rcpt)
			msg, err := netmail.ReadMessage(bufio.NewReader(strings.NewReader(c.data)))
			require.NoError(t, err)
			assert.Equal(t, want, msg.Header.Get("To"))
		case <-time.After(5 * time.Second):
			t.Fatalf("message for %s not received", want)
		}
	}
}

func TestSMTPNotifierDialError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	_, err = NewSMTPNotifier("127.0.0.1", addr.Port, "", "", "bot@example.com", nil).Authorize(context.Background())
	assert.Error(t, err)
}

func TestSMTPSessionOutlivesAuthorizeDeadline(t *testing.T) {
	host, port, captured := fakeSMTP(t)
	notifier := NewSMTPNotifier(host, port, "", "", "bot@example.com", nil)

	authCtx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	sender, err := notifier.Authorize(authCtx)
	require.NoError(t, err)
	cancel()
	time.Sleep(400 * time.Millisecond)

	for _, rcpt := range []string{"a@x.com", "b@y.com"} {
		sendCtx, sendCancel := context.WithTimeout(context.Background(), time.Minute)
		m := testMessage()
		m.To = []string{rcpt}
		_, err := sender.Send(sendCtx, m)
		sendCancel()
		require.NoError(t, err, rcpt)
	}
	require.NoError(t, sender.(io.Closer).Close())

	for _, want := range []string{"a@x.com", "b@y.com"} {
		select {
		case c := <-captured:
			assert.Equal(t, []string{want}, c.rcpt)
		case <-time.After(5 * time.Second):
			t.Fatalf("message for %s not received", want)
		}
	}
}

func TestSMTPSendHonoursCancelledContext(t *testing.T) {
	host, port, captured := fakeSMTP(t)
	notifier := NewSMTPNotifier(host, port, "", "", "bot@example.com", nil)

	sender, err := notifier.Authorize(context.Background())
	require.NoError(t, err)
	defer func() { _ = sender.(io.Closer).Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sender.Send(ctx, testMessage())
	require.ErrorIs(t, err, context.Canceled)

	select {
	case c := <-captured:
		t.Fatalf("message unexpectedly delivered to %v", c.rcpt)
	case <-time.After(100 * time.Millisecond):
	}
}
