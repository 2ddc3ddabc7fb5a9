package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ScholarSnap/internal/domain"
)

func TestReporterPostsFailure(t *testing.T) {
	var (
		path   string
		chatID string
		text   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.NoError(t, r.ParseForm())
		chatID = r.PostForm.Get("chat_id")
		text = r.PostForm.Get("text")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	rep := NewReporter("123:abc", "42", true).WithAPIBase(srv.URL, srv.Client())
	err := rep.Report(context.Background(), domain.RunResult{
		RunID:       "run-9",
		Outcome:     domain.OutcomeFailure,
		Reason:      "notify",
		Err:         errors.New("smtp 550"),
		Paper:       &domain.PaperReference{Title: "Sparse Experts", CanonicalURL: "http://arxiv.org/abs/1"},
		Delivered:   []string{"a@x.com"},
		Undelivered: []string{"b@x.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/bot123:abc/sendMessage", path)
	assert.Equal(t, "42", chatID)
	assert.Contains(t, text, "failed (run-9)")
	assert.Contains(t, text, "Sparse Experts")
	assert.Contains(t, text, "undelivered: b@x.com")
	assert.Contains(t, text, "Error: smtp 550")
}

func TestReporterOnlyFailuresSkipsSuccess(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer srv.Close()

	rep := NewReporter("t", "c", true).WithAPIBase(srv.URL, srv.Client())
	require.NoError(t, rep.Report(context.Background(), domain.RunResult{Outcome: domain.OutcomeSuccess}))
	assert.False(t, called)

	require.NoError(t, rep.Report(context.Background(), domain.RunResult{
		Outcome:     domain.OutcomeSuccess,
		LogFailures: []string{"a@x.com"},
	}))
	assert.True(t, called, "log failures are always reported")
}

func TestReporterErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewReporter("t", "c", false).WithAPIBase(srv.URL, srv.Client()).
		Report(context.Background(), domain.RunResult{Outcome: domain.OutcomeNoOp})
	assert.ErrorContains(t, err, "401")

	err = NewReporter("", "", false).Report(context.Background(), domain.RunResult{})
	assert.ErrorContains(t, err, "misconfigured")
}
