package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ScholarSnap/internal/domain"
	"ScholarSnap/internal/ports"
)

// EmptyTextPolicy decides what happens when extraction yields no text.
type EmptyTextPolicy string

const (
	// EmptyTextAbstract summarizes the catalog abstract instead; fails if that is empty too.
	EmptyTextAbstract EmptyTextPolicy = "abstract"
	// EmptyTextProceed summarizes the empty text anyway.
	EmptyTextProceed EmptyTextPolicy = "proceed"
	// EmptyTextFail aborts the run.
	EmptyTextFail EmptyTextPolicy = "fail"
)

// Timeouts bounds each external call; zero means no step deadline.
type Timeouts struct {
	Fetch     time.Duration
	Extract   time.Duration
	Summarize time.Duration
	Notify    time.Duration
	Store     time.Duration
}

// PipelineDeps wires all driven adapters and run policy into the orchestration pipeline.
type PipelineDeps struct {
	Source     ports.PaperSource
	Extractor  ports.Extractor
	Summarizer ports.Summarizer
	Log        ports.NotificationLog
	Notifier   ports.Notifier

	Recipients    []string
	Query         domain.PaperQuery
	SubjectPrefix string
	EmptyText     EmptyTextPolicy
	LogWorkers    int
	Timeouts      Timeouts

	Clock    func() time.Time
	NewRunID func() string
	Logger   *slog.Logger
}

// Pipeline implements the fetch, extract, summarize, notify, log workflow.
type Pipeline struct {
	source     ports.PaperSource
	extractor  ports.Extractor
	summarizer ports.Summarizer
	log        ports.NotificationLog
	notifier   ports.Notifier

	recipients    []string
	query         domain.PaperQuery
	subjectPrefix string
	emptyText     EmptyTextPolicy
	logWorkers    int
	timeouts      Timeouts

	now      func() time.Time
	newRunID func() string
	logger   *slog.Logger
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		source:        deps.Source,
		extractor:     deps.Extractor,
		summarizer:    deps.Summarizer,
		log:           deps.Log,
		notifier:      deps.Notifier,
		recipients:    append([]string(nil), deps.Recipients...),
		query:         deps.Query,
		subjectPrefix: deps.SubjectPrefix,
		emptyText:     deps.EmptyText,
		logWorkers:    deps.LogWorkers,
		timeouts:      deps.Timeouts,
		now:           deps.Clock,
		newRunID:      deps.NewRunID,
		logger:        deps.Logger,
	}
	if p.emptyText == "" {
		p.emptyText = EmptyTextAbstract
	}
	if p.logWorkers <= 0 {
		p.logWorkers = 1
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.newRunID == nil {
		p.newRunID = uuid.NewString
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	return p
}

// Run executes exactly one end-to-end run. It never panics and never returns
// an error directly: every failure is folded into the result.
func (p *Pipeline) Run(ctx context.Context) (result domain.RunResult) {
	result = domain.RunResult{RunID: p.newRunID(), StartedAt: p.now()}
	logger := p.logger.With("run_id", result.RunID)

	defer func() {
		if r := recover(); r != nil {
			result.Outcome = domain.OutcomeFailure
			result.Reason = "panic"
			result.Err = fmt.Errorf("pipeline panic: %v", r)
			logger.Error("pipeline panicked", "panic", r, "stack", string(debug.Stack()))
		}
		result.FinishedAt = p.now()
	}()

	if err := p.validate(); err != nil {
		return fail(result, err, "pipeline misconfigured")
	}

	logger.Info("run started", "recipients", len(p.recipients))
	return p.run(ctx, logger, result)
}

func (p *Pipeline) validate() error {
	var missing []string
	if p.source == nil {
		missing = append(missing, "source")
	}
	if p.extractor == nil {
		missing = append(missing, "extractor")
	}
	if p.summarizer == nil {
		missing = append(missing, "summarizer")
	}
	if p.log == nil {
		missing = append(missing, "notification log")
	}
	if p.notifier == nil {
		missing = append(missing, "notifier")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing collaborators: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, result domain.RunResult) domain.RunResult {
	// 1. newest paper
	stepCtx, cancel := stepContext(ctx, p.timeouts.Fetch)
	papers, err := p.source.FetchLatest(stepCtx, p.query)
	cancel()
	if err != nil {
		return fail(result, wrap(domain.ErrSourceUnavailable, err), "fetch paper")
	}
	if len(papers) == 0 {
		logger.Info("no paper available")
		return noOp(result, "no paper available")
	}
	paper := papers[0]
	result.Paper = &paper
	logger = logger.With("paper_id", paper.ID)
	logger.Info("paper selected", "title", paper.Title, "url", paper.CanonicalURL)

	// 2. text
	text, err := p.extract(ctx, logger, paper)
	if err != nil {
		return fail(result, err, "extract text")
	}

	// 3. one summary for every recipient
	stepCtx, cancel = stepContext(ctx, p.timeouts.Summarize)
	summary, err := p.summarizer.Summarize(stepCtx, text, paper.Title, paper.CanonicalURL)
	cancel()
	if err != nil {
		return fail(result, wrap(domain.ErrSummarizationFailed, err), "summarize")
	}
	if strings.TrimSpace(summary.Body) == "" {
		return fail(result, fmt.Errorf("%w: empty summary", domain.ErrSummarizationFailed), "summarize")
	}
	logger.Info("summary ready", "chars", len(summary.Body))

	// 4. dedup
	effective := p.filterRecipients(ctx, logger, &result)
	if len(effective) == 0 {
		logger.Info("all recipients already notified today", "skipped", len(result.Skipped))
		return noOp(result, "all recipients already notified today")
	}

	// 5. send
	sendErr := p.send(ctx, logger, &result, effective, paper, summary)

	// 6. log whoever actually received it
	p.record(ctx, logger, &result, paper, summary)

	if sendErr != nil {
		return fail(result, sendErr, "notify")
	}
	result.Outcome = domain.OutcomeSuccess
	return result
}

func (p *Pipeline) extract(ctx context.Context, logger *slog.Logger, paper domain.PaperReference) (string, error) {
	stepCtx, cancel := stepContext(ctx, p.timeouts.Extract)
	text, err := p.extractor.ExtractText(stepCtx, paper.ContentURL)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return "", wrap(domain.ErrExtractionFailed, ctx.Err())
		}
		logger.Warn("extraction failed, continuing with empty text", "error", err)
		text = ""
	}

	if strings.TrimSpace(text) != "" {
		return text, nil
	}

	switch p.emptyText {
	case EmptyTextProceed:
		logger.Warn("document text is empty, summarizing anyway")
		return "", nil
	case EmptyTextFail:
		return "", domain.ErrEmptyDocument
	default:
		if strings.TrimSpace(paper.Abstract) == "" {
			return "", fmt.Errorf("%w: no abstract to fall back to", domain.ErrEmptyDocument)
		}
		logger.Warn("document text is empty, summarizing the abstract")
		return paper.Abstract, nil
	}
}

func (p *Pipeline) filterRecipients(ctx context.Context, logger *slog.Logger, result *domain.RunResult) []string {
	effective := make([]string, 0, len(p.recipients))
	for _, recipient := range p.recipients {
		stepCtx, cancel := stepContext(ctx, p.timeouts.Store)
		notified, err := p.log.HasBeenNotifiedToday(stepCtx, recipient)
		cancel()
		switch {
		case err != nil:
			// a duplicate is preferable to a silently skipped recipient
			logger.Warn("dedup check failed, keeping recipient", "recipient", recipient, "error", err)
			effective = append(effective, recipient)
		case notified:
			result.Skipped = append(result.Skipped, recipient)
		default:
			effective = append(effective, recipient)
		}
	}
	return effective
}

func (p *Pipeline) send(
	ctx context.Context,
	logger *slog.Logger,
	result *domain.RunResult,
	effective []string,
	paper domain.PaperReference,
	summary domain.SummaryResult,
) error {
	stepCtx, cancel := stepContext(ctx, p.timeouts.Notify)
	sender, err := p.notifier.Authorize(stepCtx)
	cancel()
	if err != nil {
		result.Undelivered = append(result.Undelivered, effective...)
		if errors.Is(err, domain.ErrCredentials) {
			return fmt.Errorf("%w: %w", domain.ErrNotificationFailed, err)
		}
		return fmt.Errorf("%w: %w: %w", domain.ErrNotificationFailed, domain.ErrCredentials, err)
	}
	if closer, ok := sender.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Warn("close mail session", "error", err)
			}
		}()
	}

	title := summary.Title
	if title == "" {
		title = paper.Title
	}

	for i, recipient := range effective {
		msg := domain.Message{
			To:      []string{recipient},
			Subject: p.subjectPrefix + title,
			Text:    summary.Body,
		}

		stepCtx, cancel := stepContext(ctx, p.timeouts.Notify)
		id, err := sender.Send(stepCtx, msg)
		cancel()
		if err != nil {
			result.Undelivered = append(result.Undelivered, effective[i:]...)
			logger.Error("send failed, stopping", "recipient", recipient, "remaining", len(effective)-i, "error", err)
			return wrap(domain.ErrNotificationFailed, err)
		}
		result.Delivered = append(result.Delivered, recipient)
		logger.Info("summary delivered", "recipient", recipient, "delivery_id", id)
	}
	return nil
}

func (p *Pipeline) record(
	ctx context.Context,
	logger *slog.Logger,
	result *domain.RunResult,
	paper domain.PaperReference,
	summary domain.SummaryResult,
) {
	if len(result.Delivered) == 0 {
		return
	}

	failed := make([]bool, len(result.Delivered))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(p.logWorkers)
	for i, recipient := range result.Delivered {
		g.Go(func() error {
			stepCtx, cancel := stepContext(ctx, p.timeouts.Store)
			defer cancel()

			err := p.log.RecordNotification(stepCtx, domain.NotificationRecord{
				Recipient:  recipient,
				PaperTitle: paper.Title,
				PaperURL:   paper.CanonicalURL,
				Summary:    summary.Body,
			})
			if err != nil {
				logger.Error("notification log write failed",
					"recipient", recipient,
					"error", fmt.Errorf("%w: %w", domain.ErrLogWriteFailed, err))
				mu.Lock()
				failed[i] = true
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, recipient := range result.Delivered {
		if failed[i] {
			result.LogFailures = append(result.LogFailures, recipient)
		}
	}
}

func stepContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func wrap(sentinel, err error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

func fail(result domain.RunResult, err error, reason string) domain.RunResult {
	result.Outcome = domain.OutcomeFailure
	result.Reason = reason
	result.Err = err
	return result
}

func noOp(result domain.RunResult, reason string) domain.RunResult {
	result.Outcome = domain.OutcomeNoOp
	result.Reason = reason
	return result
}
