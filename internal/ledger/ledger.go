// ABOUTME: SQLite audit ledger for posted reviews using modernc.org/sqlite
// ABOUTME: Additive observability only; the JSON state files remain the coordination ground truth

package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Review is one posted review.
type Review struct {
	ID        string
	ThreadID  string
	Channel   string
	Provider  string
	Text      string
	CreatedAt time.Time
}

// Ledger records every review the scheduler delivers.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the ledger database at path. The schema is
// created if it doesn't exist; parent directories are created if needed.
func Open(path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ledger")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	l := &Ledger{db: db, logger: logger}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("review ledger initialized", "path", path)
	return l, nil
}

func (l *Ledger) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS reviews (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			provider TEXT NOT NULL,
			review TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_reviews_thread
			ON reviews(thread_id, created_at);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Append records a review. Generates ID and CreatedAt if not set.
func (l *Ledger) Append(ctx context.Context, r *Review) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO reviews (id, thread_id, channel, provider, review, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.ThreadID, r.Channel, r.Provider, r.Text, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting review: %w", err)
	}
	return nil
}

// Recent returns the newest reviews, newest first. limit <= 0 defaults
// to 10.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Review, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, thread_id, channel, provider, review, created_at
		FROM reviews
		ORDER BY created_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying reviews: %w", err)
	}
	defer rows.Close()

	var out []Review
	for rows.Next() {
		var r Review
		if err := rows.Scan(&r.ID, &r.ThreadID, &r.Channel, &r.Provider, &r.Text, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning review: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountSince returns how many reviews were recorded at or after the
// cutoff.
func (l *Ledger) CountSince(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reviews WHERE created_at >= ?`, cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting reviews: %w", err)
	}
	return n, nil
}

// RecordReview implements the scheduler's sink. Failures are logged, not
// propagated; the review already happened.
func (l *Ledger) RecordReview(ctx context.Context, threadID, channel, providerName, text string) {
	err := l.Append(ctx, &Review{
		ThreadID: threadID,
		Channel:  channel,
		Provider: providerName,
		Text:     text,
	})
	if err != nil {
		l.logger.Warn("review not recorded in ledger", "thread_id", threadID, "error", err)
	}
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
