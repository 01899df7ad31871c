package confidence

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Invocation records one calculate or update call. Purely observational,
// it never feeds back into scoring.
type Invocation struct {
	Operation  string    `json:"operation"`
	DecisionID string    `json:"decision_id"`
	Algorithm  string    `json:"algorithm"`
	Score      float64   `json:"score"`
	Timestamp  time.Time `json:"timestamp"`
}

// InvocationFilter narrows Query results. Zero fields match everything.
type InvocationFilter struct {
	DecisionID string
	Since      time.Time
	Until      time.Time
}

const analyticsSchema = `
CREATE TABLE IF NOT EXISTS confidence_invocations (
    operation TEXT NOT NULL,
    decision_id TEXT NOT NULL,
    algorithm TEXT NOT NULL,
    score REAL NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_confidence_invocations_decision
    ON confidence_invocations (decision_id, recorded_at);
`

// Analytics buffers scoring invocations in memory and flushes them to
// SQLite periodically. The database is optional; without one the buffer
// is still queryable but Flush is a no-op.
type Analytics struct {
	mu     sync.Mutex
	buffer []Invocation
	db     *sql.DB
}

// NewAnalytics creates an in-memory recorder.
func NewAnalytics() *Analytics {
	return &Analytics{}
}

// NewAnalyticsWithDB creates a recorder flushing to the given SQLite
// database path.
func NewAnalyticsWithDB(dbPath string) (*Analytics, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening analytics database: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), analyticsSchema); err != nil {
		return nil, fmt.Errorf("creating analytics schema: %w", err)
	}
	return &Analytics{db: db}, nil
}

// Close releases the database connection, if any.
func (a *Analytics) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Record appends one invocation to the buffer.
func (a *Analytics) Record(_ context.Context, inv Invocation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buffer = append(a.buffer, inv)
}

// Query returns buffered invocations matching the filter, oldest first.
func (a *Analytics) Query(filter InvocationFilter) []Invocation {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []Invocation
	for _, inv := range a.buffer {
		if filter.DecisionID != "" && inv.DecisionID != filter.DecisionID {
			continue
		}
		if !filter.Since.IsZero() && inv.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && inv.Timestamp.After(filter.Until) {
			continue
		}
		out = append(out, inv)
	}
	return out
}

// Flush writes the buffer to SQLite in one transaction and drains it.
// A failed flush rolls back and keeps the buffer, so the next flush
// retries without duplicating rows.
func (a *Analytics) Flush(ctx context.Context) {
	if a.db == nil {
		return
	}

	a.mu.Lock()
	pending := make([]Invocation, len(a.buffer))
	copy(pending, a.buffer)
	a.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		log.Error().Err(err).Msg("analytics flush failed")
		return
	}
	for _, inv := range pending {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO confidence_invocations (operation, decision_id, algorithm, score, recorded_at)
			 VALUES (?, ?, ?, ?, ?)`,
			inv.Operation, inv.DecisionID, inv.Algorithm, inv.Score, inv.Timestamp); err != nil {
			log.Error().Err(err).Msg("analytics flush failed")
			_ = tx.Rollback()
			return
		}
	}
	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Msg("analytics flush failed")
		return
	}

	a.mu.Lock()
	a.buffer = a.buffer[len(pending):]
	a.mu.Unlock()
}

// Stored returns persisted invocations for a decision, oldest first.
func (a *Analytics) Stored(ctx context.Context, decisionID string) ([]Invocation, error) {
	if a.db == nil {
		return nil, nil
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT operation, decision_id, algorithm, score, recorded_at
		 FROM confidence_invocations WHERE decision_id = ? ORDER BY recorded_at`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("querying analytics: %w", err)
	}
	defer rows.Close()

	var out []Invocation
	for rows.Next() {
		var inv Invocation
		if err := rows.Scan(&inv.Operation, &inv.DecisionID, &inv.Algorithm, &inv.Score, &inv.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning analytics row: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}
