package domain

import "errors"

// Failure classes of a pipeline run. Collaborator errors are wrapped with one
// of these so callers can classify them with errors.Is.
var (
	ErrSourceUnavailable   = errors.New("paper source unavailable")
	ErrExtractionFailed    = errors.New("document extraction failed")
	ErrEmptyDocument       = errors.New("document text is empty")
	ErrSummarizationFailed = errors.New("summarization failed")
	ErrCredentials         = errors.New("delivery credentials unavailable")
	ErrNotificationFailed  = errors.New("notification failed")
	ErrLogWriteFailed      = errors.New("notification log write failed")
)
