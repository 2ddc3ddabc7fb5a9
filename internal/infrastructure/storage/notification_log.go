package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"ScholarSnap/internal/domain"
	"ScholarSnap/internal/ports"
)

// Supported drivers; the names match what lib/pq and modernc register.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const sqliteTimeLayout = "2006-01-02 15:04:05.000000"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ErrLegacySchema is returned by Init when an existing table stores sent_at in
// a form the day window cannot be computed against.
var ErrLegacySchema = errors.New("notification log: incompatible sent_at column")

// NotificationLog persists sent summaries and answers the per-day dedup question.
type NotificationLog struct {
	db      *sql.DB
	driver  string
	table   string
	loc     *time.Location
	now     func() time.Time
	builder sq.StatementBuilderType
}

var _ ports.NotificationLog = (*NotificationLog)(nil)

// Option customizes a NotificationLog.
type Option func(*NotificationLog)

// WithTable overrides the default "logs" table.
func WithTable(name string) Option {
	return func(l *NotificationLog) {
		if name != "" {
			l.table = name
		}
	}
}

// WithClock injects the time source used for SentAt and the day window.
func WithClock(now func() time.Time) Option {
	return func(l *NotificationLog) {
		if now != nil {
			l.now = now
		}
	}
}

// Open connects to the database and checks it is reachable.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// one writer; also keeps ":memory:" databases on a single connection
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// NewNotificationLog wires a sql.DB. loc defines the calendar day used for dedup.
func NewNotificationLog(db *sql.DB, driver string, loc *time.Location, opts ...Option) (*NotificationLog, error) {
	if db == nil {
		return nil, errors.New("notification log: nil db")
	}
	if loc == nil {
		loc = time.UTC
	}

	l := &NotificationLog{
		db:     db,
		driver: driver,
		table:  "logs",
		loc:    loc,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	if !tableNamePattern.MatchString(l.table) {
		return nil, fmt.Errorf("notification log: invalid table name %q", l.table)
	}

	switch driver {
	case DriverPostgres:
		l.builder = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	case DriverSQLite:
		l.builder = sq.StatementBuilder.PlaceholderFormat(sq.Question)
	default:
		return nil, fmt.Errorf("notification log: unsupported driver %q", driver)
	}
	return l, nil
}

// Init creates the table and its lookup index when missing.
func (l *NotificationLog) Init(ctx context.Context) error {
	var table string
	switch l.driver {
	case DriverPostgres:
		table = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id SERIAL PRIMARY KEY,
    sent_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    email TEXT NOT NULL,
    paper_title TEXT NOT NULL,
    paper_url TEXT NOT NULL,
    summary TEXT NOT NULL
)`, l.table)
	default:
		table = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    sent_at TEXT NOT NULL,
    email TEXT NOT NULL,
    paper_title TEXT NOT NULL,
    paper_url TEXT NOT NULL,
    summary TEXT NOT NULL
)`, l.table)
	}

	if _, err := l.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("create table %s: %w", l.table, err)
	}

	index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_email_sent_at ON %s (email, sent_at)`, l.table, l.table)
	if _, err := l.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("create index on %s: %w", l.table, err)
	}
	return l.checkSentAt(ctx)
}

// checkSentAt rejects tables created elsewhere whose sent_at column holds zone-less
// wall-clock values. Rows written that way would be read as UTC and shift the
// dedup window by the zone offset.
func (l *NotificationLog) checkSentAt(ctx context.Context) error {
	var q sq.SelectBuilder
	switch l.driver {
	case DriverPostgres:
		q = l.builder.
			Select("data_type").
			From("information_schema.columns").
			Where(sq.Eq{"table_name": strings.ToLower(l.table), "column_name": "sent_at"}).
			Where("table_schema = current_schema()")
	default:
		q = l.builder.
			Select("type").
			From(fmt.Sprintf("pragma_table_info('%s')", l.table)).
			Where(sq.Eq{"name": "sent_at"})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build column query: %w", err)
	}

	var declared string
	if err := l.db.QueryRowContext(ctx, query, args...).Scan(&declared); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: table %s has no sent_at column", ErrLegacySchema, l.table)
		}
		return fmt.Errorf("inspect %s.sent_at: %w", l.table, err)
	}

	if !sentAtCompatible(l.driver, declared) {
		return fmt.Errorf("%w: %s.sent_at is %q; %s", ErrLegacySchema, l.table, declared, l.migrationHint())
	}
	return nil
}

func sentAtCompatible(driver, declared string) bool {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if driver == DriverPostgres {
		return declared == "timestamp with time zone"
	}
	return declared == "text"
}

func (l *NotificationLog) migrationHint() string {
	if l.driver == DriverPostgres {
		return fmt.Sprintf("migrate with ALTER TABLE %s ALTER COLUMN sent_at TYPE TIMESTAMPTZ USING sent_at AT TIME ZONE '%s', or configure a new database.table",
			l.table, l.loc.String())
	}
	return "configure a new database.table"
}

// HasBeenNotifiedToday reports whether a record exists for recipient whose
// sent_at falls on today's date in the configured zone.
func (l *NotificationLog) HasBeenNotifiedToday(ctx context.Context, recipient string) (bool, error) {
	start, end := l.dayWindow()

	query, args, err := l.builder.
		Select("1").
		From(l.table).
		Where(sq.Eq{"email": recipient}).
		Where(sq.GtOrEq{"sent_at": l.bindTime(start)}).
		Where(sq.Lt{"sent_at": l.bindTime(end)}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build dedup query: %w", err)
	}

	var one int
	err = l.db.QueryRowContext(ctx, query, args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("query notifications for %s: %w", recipient, err)
	}
	return true, nil
}

// RecordNotification appends one row stamped with the current time.
func (l *NotificationLog) RecordNotification(ctx context.Context, record domain.NotificationRecord) error {
	sentAt := l.now()

	query, args, err := l.builder.
		Insert(l.table).
		Columns("sent_at", "email", "paper_title", "paper_url", "summary").
		Values(l.bindTime(sentAt), record.Recipient, record.PaperTitle, record.PaperURL, record.Summary).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert notification for %s: %w", record.Recipient, err)
	}
	return nil
}

// Recent returns the newest records first.
func (l *NotificationLog) Recent(ctx context.Context, limit int) ([]domain.NotificationRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query, args, err := l.builder.
		Select("id", "sent_at", "email", "paper_title", "paper_url", "summary").
		From(l.table).
		OrderBy("sent_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var records []domain.NotificationRecord
	for rows.Next() {
		var (
			rec    domain.NotificationRecord
			sentAt scannedTime
		)
		if err := rows.Scan(&rec.ID, &sentAt, &rec.Recipient, &rec.PaperTitle, &rec.PaperURL, &rec.Summary); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		rec.SentAt = sentAt.Time.In(l.loc)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return records, nil
}

func (l *NotificationLog) dayWindow() (time.Time, time.Time) {
	now := l.now().In(l.loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, l.loc)
	return start, start.AddDate(0, 0, 1)
}

// bindTime maps an instant onto the column representation. SQLite stores
// fixed-width UTC text so range comparisons stay lexicographic.
func (l *NotificationLog) bindTime(t time.Time) any {
	t = t.UTC().Truncate(time.Microsecond)
	if l.driver == DriverSQLite {
		return t.Format(sqliteTimeLayout)
	}
	return t
}

type scannedTime struct {
	Time time.Time
}

func (s *scannedTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		s.Time = v
		return nil
	case string:
		return s.parse(v)
	case []byte:
		return s.parse(string(v))
	case nil:
		s.Time = time.Time{}
		return nil
	default:
		return fmt.Errorf("unsupported sent_at type %T", src)
	}
}

func (s *scannedTime) parse(v string) error {
	t, err := time.ParseInLocation(sqliteTimeLayout, v, time.UTC)
	if err != nil {
		return fmt.Errorf("parse sent_at %q: %w", v, err)
	}
	s.Time = t
	return nil
}
