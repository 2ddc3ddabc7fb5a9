package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"

	"ScholarSnap/internal/domain"
)

// googleExpiryLayout is what google-auth writes into token.json.
const googleExpiryLayout = "2006-01-02T15:04:05.999999Z"

// TokenStore loads a stored OAuth2 token, refreshes it when expired and
// writes the refreshed token back. It never starts an interactive consent flow.
type TokenStore struct {
	credentialsFile string
	tokenFile       string
	scopes          []string
	httpClient      *http.Client
	logger          *slog.Logger

	mu sync.Mutex
}

// NewTokenStore wires the client secrets file and the token file.
// httpClient is used for refresh calls; nil means http.DefaultClient.
func NewTokenStore(credentialsFile, tokenFile string, httpClient *http.Client, logger *slog.Logger) *TokenStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &TokenStore{
		credentialsFile: credentialsFile,
		tokenFile:       tokenFile,
		scopes:          []string{gmail.GmailSendScope},
		httpClient:      httpClient,
		logger:          logger,
	}
}

// Acquire returns a valid access token. Every failure wraps domain.ErrCredentials.
func (s *TokenStore) Acquire(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, tok, err := s.readToken()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCredentials, err)
	}
	if tok.Valid() {
		return tok, nil
	}
	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token in %s is expired and has no refresh token", domain.ErrCredentials, s.tokenFile)
	}

	conf, err := s.oauthConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCredentials, err)
	}

	if s.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	}
	refreshed, err := conf.TokenSource(ctx, tok).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refresh token: %w", domain.ErrCredentials, err)
	}

	if err := s.writeToken(raw, refreshed); err != nil {
		// the refreshed token is usable for this run even if it could not be saved
		s.logger.Warn("persist refreshed token failed", "file", s.tokenFile, "error", err)
	} else {
		s.logger.Info("oauth token refreshed", "expiry", refreshed.Expiry)
	}
	return refreshed, nil
}

func (s *TokenStore) readToken() (map[string]any, *oauth2.Token, error) {
	b, err := os.ReadFile(s.tokenFile)
	if err != nil {
		return nil, nil, fmt.Errorf("read token file: %w", err)
	}

	raw := map[string]any{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, nil, fmt.Errorf("parse token file %s: %w", s.tokenFile, err)
	}

	tok := &oauth2.Token{
		AccessToken:  stringField(raw, "access_token"),
		TokenType:    stringField(raw, "token_type"),
		RefreshToken: stringField(raw, "refresh_token"),
	}
	if tok.AccessToken == "" {
		tok.AccessToken = stringField(raw, "token")
	}
	if exp := stringField(raw, "expiry"); exp != "" {
		tok.Expiry, err = parseExpiry(exp)
		if err != nil {
			return nil, nil, fmt.Errorf("parse token expiry %q: %w", exp, err)
		}
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, nil, fmt.Errorf("token file %s holds neither access nor refresh token", s.tokenFile)
	}
	return raw, tok, nil
}

func (s *TokenStore) oauthConfig(raw map[string]any) (*oauth2.Config, error) {
	if s.credentialsFile != "" {
		b, err := os.ReadFile(s.credentialsFile)
		if err == nil {
			conf, err := google.ConfigFromJSON(b, s.scopes...)
			if err != nil {
				return nil, fmt.Errorf("parse client secrets %s: %w", s.credentialsFile, err)
			}
			return conf, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read client secrets: %w", err)
		}
	}

	// google-auth token files carry the client identity themselves
	clientID := stringField(raw, "client_id")
	tokenURI := stringField(raw, "token_uri")
	if clientID == "" || tokenURI == "" {
		return nil, fmt.Errorf("no client secrets file and token file has no client identity")
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: stringField(raw, "client_secret"),
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURI},
		Scopes:       s.scopes,
	}, nil
}

func (s *TokenStore) writeToken(raw map[string]any, tok *oauth2.Token) error {
	if _, googleLayout := raw["token"]; googleLayout {
		raw["token"] = tok.AccessToken
		raw["expiry"] = tok.Expiry.UTC().Format(googleExpiryLayout)
	} else {
		raw["access_token"] = tok.AccessToken
		raw["token_type"] = tok.TokenType
		raw["expiry"] = tok.Expiry.Format(time.RFC3339Nano)
	}
	if tok.RefreshToken != "" {
		raw["refresh_token"] = tok.RefreshToken
	}

	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.tokenFile), ".token-*.json")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp token file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("chmod token file: %w", err)
	}
	return os.Rename(tmp.Name(), s.tokenFile)
}

func parseExpiry(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	return time.Parse(googleExpiryLayout, v)
}

func stringField(raw map[string]any, key string) string {
	if v, ok := raw[key].(string); ok {
		return v
	}
	return ""
}
