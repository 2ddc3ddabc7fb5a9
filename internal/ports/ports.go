package ports

import (
	"context"
	"time"

	"ScholarSnap/internal/domain"
)

// PaperSource queries an upstream catalog for the newest matching papers.
type PaperSource interface {
	FetchLatest(ctx context.Context, query domain.PaperQuery) ([]domain.PaperReference, error)
}

// Extractor turns a raw document locator into plain text.
type Extractor interface {
	ExtractText(ctx context.Context, locator string) (string, error)
}

// Summarizer asks a language model for the formatted summary of one paper.
type Summarizer interface {
	Summarize(ctx context.Context, text, title, url string) (domain.SummaryResult, error)
}

// NotificationLog is the dedup authority: who was told about what, and when.
type NotificationLog interface {
	HasBeenNotifiedToday(ctx context.Context, recipient string) (bool, error)
	RecordNotification(ctx context.Context, record domain.NotificationRecord) error
}

// Notifier acquires delivery credentials once per run and returns a Sender
// bound to them.
type Notifier interface {
	Authorize(ctx context.Context) (Sender, error)
}

// Sender delivers one message and returns the transport's delivery id.
type Sender interface {
	Send(ctx context.Context, msg domain.Message) (string, error)
}

// RunReporter makes a run outcome observable (metrics, alerts).
type RunReporter interface {
	Report(ctx context.Context, result domain.RunResult) error
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}

// TaskQueue carries run requests from the beat process to workers.
type TaskQueue interface {
	Enqueue(ctx context.Context, task domain.Task) (string, error)
	Consume(ctx context.Context, handler func(context.Context, domain.Task) domain.TaskResult) error
}
