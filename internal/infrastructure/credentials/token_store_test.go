package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ScholarSnap/internal/domain"
)

type tokenServer struct {
	*httptest.Server
	calls atomic.Int32
}

func newTokenServer(t *testing.T, status int) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "refresh-1", r.Form.Get("refresh_token"))
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh-access","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
}

func readJSON(t *testing.T, path string) map[string]any {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func clientSecrets(tokenURL string) map[string]any {
	return map[string]any{
		"installed": map[string]any{
			"client_id":     "client-1",
			"client_secret": "secret-1",
			"auth_uri":      "https://accounts.example.com/auth",
			"token_uri":     tokenURL,
			"redirect_uris": []string{"http://localhost"},
		},
	}
}

func TestAcquireValidTokenSkipsRefresh(t *testing.T) {
	srv := newTokenServer(t, http.StatusOK)
	dir := t.TempDir()
	creds, tokenPath := filepath.Join(dir, "credentials.json"), filepath.Join(dir, "token.json")
	writeJSON(t, creds, clientSecrets(srv.URL))
	writeJSON(t, tokenPath, map[string]any{
		"access_token":  "still-good",
		"token_type":    "Bearer",
		"refresh_token": "refresh-1",
		"expiry":        time.Now().Add(time.Hour).Format(time.RFC3339),
	})

	store := NewTokenStore(creds, tokenPath, srv.Client(), nil)
	tok, err := store.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "still-good", tok.AccessToken)
	assert.Zero(t, srv.calls.Load())
}

func TestAcquireRefreshesAndPersists(t *testing.T) {
	srv := newTokenServer(t, http.StatusOK)
	dir := t.TempDir()
	creds, tokenPath := filepath.Join(dir, "credentials.json"), filepath.Join(dir, "token.json")
	writeJSON(t, creds, clientSecrets(srv.URL))
	writeJSON(t, tokenPath, map[string]any{
		"access_token":  "stale",
		"token_type":    "Bearer",
		"refresh_token": "refresh-1",
		"expiry":        time.Now().Add(-time.Hour).Format(time.RFC3339),
	})

	store := NewTokenStore(creds, tokenPath, srv.Client(), nil)
	tok, err := store.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", tok.AccessToken)
	assert.Equal(t, int32(1), srv.calls.Load())

	saved := readJSON(t, tokenPath)
	assert.Equal(t, "fresh-access", saved["access_token"])
	assert.Equal(t, "refresh-1", saved["refresh_token"])

	// second call reads the persisted token and needs no refresh
	tok, err = store.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", tok.AccessToken)
	assert.Equal(t, int32(1), srv.calls.Load())
}

func TestAcquireGoogleAuthLayout(t *testing.T) {
	srv := newTokenServer(t, http.StatusOK)
	tokenPath := filepath.Join(t.TempDir(), "token.json")
	writeJSON(t, tokenPath, map[string]any{
		"token":         "stale",
		"refresh_token": "refresh-1",
		"token_uri":     srv.URL,
		"client_id":     "client-1",
		"client_secret": "secret-1",
		"scopes":        []string{"https://www.googleapis.com/auth/gmail.send"},
		"account":       "",
		"expiry":        time.Now().Add(-time.Hour).UTC().Format("2006-01-02T15:04:05.000000Z"),
	})

	// no client secrets file: the token file carries the client identity
	store := NewTokenStore(filepath.Join(t.TempDir(), "missing.json"), tokenPath, srv.Client(), nil)
	tok, err := store.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", tok.AccessToken)

	saved := readJSON(t, tokenPath)
	assert.Equal(t, "fresh-access", saved["token"])
	assert.NotContains(t, saved, "access_token")
	assert.Equal(t, "", saved["account"], "unknown fields survive the rewrite")
}

func TestAcquireFailures(t *testing.T) {
	expired := time.Now().Add(-time.Hour).Format(time.RFC3339)

	tests := []struct {
		name   string
		token  map[string]any
		status int
	}{
		{name: "missing token file"},
		{name: "no refresh token", token: map[string]any{"access_token": "stale", "expiry": expired}, status: http.StatusOK},
		{name: "refresh rejected", token: map[string]any{"access_token": "stale", "refresh_token": "refresh-1", "expiry": expired}, status: http.StatusBadRequest},
		{name: "empty token", token: map[string]any{"expiry": expired}, status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTokenServer(t, tt.status)
			dir := t.TempDir()
			creds, tokenPath := filepath.Join(dir, "credentials.json"), filepath.Join(dir, "token.json")
			writeJSON(t, creds, clientSecrets(srv.URL))
			if tt.token != nil {
				writeJSON(t, tokenPath, tt.token)
			}

			_, err := NewTokenStore(creds, tokenPath, srv.Client(), nil).Acquire(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrCredentials, fmt.Sprint(err))
		})
	}
}
