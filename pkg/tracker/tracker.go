package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nexus-agent/nexus/pkg/models"
)

// Tracker records and queries routing history.
type Tracker interface {
	// Record stores the outcome of one route.
	Record(ctx context.Context, rec models.CallRecord) error
	// Query returns call records matching opts, newest first.
	Query(ctx context.Context, opts QueryOpts) ([]models.CallRecord, error)
	// Summary aggregates records since the given time by backend and category.
	Summary(ctx context.Context, since time.Time) ([]models.HistorySummary, error)
	// Cleanup deletes records created before cutoff.
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)
	// Close releases resources.
	Close() error
}

// QueryOpts filters Query results. Zero values match everything.
type QueryOpts struct {
	RequestID string
	Backend   string
	Category  models.Category
	Since     time.Time
	Limit     int
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db        *sql.DB
	retention time.Duration
	done      chan struct{}
	wg        sync.WaitGroup
}

const createTable = `
CREATE TABLE IF NOT EXISTS call_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	category TEXT NOT NULL,
	backend TEXT NOT NULL DEFAULT '',
	cache_hit INTEGER NOT NULL DEFAULT 0,
	attempts INTEGER NOT NULL DEFAULT 0,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	success INTEGER NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_calls_time ON call_records(created_at);
CREATE INDEX IF NOT EXISTS idx_calls_backend ON call_records(backend, created_at);
`

// New opens the history database and runs auto-migration. When retention
// is positive, records older than it are pruned hourly.
func New(dbPath string, retention time.Duration) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	t := &SQLiteTracker{db: db, retention: retention, done: make(chan struct{})}
	if retention > 0 {
		t.wg.Add(1)
		go t.retentionLoop()
	}
	return t, nil
}

// Record stores a call record.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.CallRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO call_records (request_id, category, backend, cache_hit, attempts, latency_ms, success, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, string(rec.Category), rec.Backend, rec.CacheHit, rec.Attempts,
		rec.LatencyMs, rec.Success, rec.Error, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record call: %w", err)
	}
	return nil
}

// Query returns call records matching opts, newest first. The default
// limit is 100.
func (t *SQLiteTracker) Query(ctx context.Context, opts QueryOpts) ([]models.CallRecord, error) {
	q := `SELECT id, request_id, category, backend, cache_hit, attempts, latency_ms, success, error, created_at
		FROM call_records WHERE 1=1`
	var args []any

	if opts.RequestID != "" {
		q += " AND request_id = ?"
		args = append(args, opts.RequestID)
	}
	if opts.Backend != "" {
		q += " AND backend = ?"
		args = append(args, opts.Backend)
	}
	if opts.Category != "" {
		q += " AND category = ?"
		args = append(args, string(opts.Category))
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since)
	}

	q += " ORDER BY created_at DESC, id DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := t.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	var records []models.CallRecord
	for rows.Next() {
		var r models.CallRecord
		var category string
		if err := rows.Scan(&r.ID, &r.RequestID, &category, &r.Backend, &r.CacheHit, &r.Attempts,
			&r.LatencyMs, &r.Success, &r.Error, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		r.Category = models.Category(category)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Summary aggregates records by backend and category. Exhausted routes are
// grouped under an empty backend name.
func (t *SQLiteTracker) Summary(ctx context.Context, since time.Time) ([]models.HistorySummary, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT backend, category, COUNT(*), SUM(cache_hit), SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), AVG(latency_ms)
		 FROM call_records WHERE created_at >= ?
		 GROUP BY backend, category ORDER BY backend, category`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.HistorySummary
	for rows.Next() {
		var s models.HistorySummary
		var category string
		if err := rows.Scan(&s.Backend, &category, &s.RequestCount, &s.CacheHits, &s.Failures, &s.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		s.Category = models.Category(category)
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Cleanup deletes records created before cutoff.
func (t *SQLiteTracker) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := t.db.ExecContext(ctx, `DELETE FROM call_records WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("history cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (t *SQLiteTracker) Close() error {
	close(t.done)
	t.wg.Wait()
	return t.db.Close()
}

func (t *SQLiteTracker) retentionLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			_, _ = t.Cleanup(context.Background(), time.Now().UTC().Add(-t.retention))
		}
	}
}
