package memory

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/wesheets/promethios-sub018/internal/cryptoutil"
)

// snapshot is the persisted layout of one collection. Reloading must allow
// VerifyIntegrity to re-derive the same root from the same leaves.
type snapshot struct {
	Entities   map[string]json.RawMessage `json:"entities"`
	LeafHashes map[string]string          `json:"leaf_hashes"`
	RootHash   string                     `json:"root_hash"`
}

// Persister writes sealed collection snapshots to SQLite. Snapshots are
// encrypted at rest with NaCl secretbox using the operator's snapshot key.
type Persister struct {
	db  *sql.DB
	key [32]byte
}

const persistSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
    collection TEXT PRIMARY KEY,
    sealed BLOB NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS cycle_metrics (
    cycle INTEGER NOT NULL,
    metrics_json TEXT NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
`

// NewPersister opens (or creates) the snapshot database. The key must be
// 32 raw bytes or 64 hex characters.
func NewPersister(dbPath, key string) (*Persister, error) {
	keyBytes, err := cryptoutil.Key32(key)
	if err != nil {
		return nil, fmt.Errorf("snapshot key: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot database: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), persistSchema); err != nil {
		return nil, fmt.Errorf("creating snapshot schema: %w", err)
	}

	return &Persister{db: db, key: keyBytes}, nil
}

// Close releases the database connection.
func (p *Persister) Close() error {
	return p.db.Close()
}

// save seals and upserts one collection snapshot.
func (p *Persister) save(ctx context.Context, name string, snap snapshot) error {
	plain, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("serializing %s snapshot: %w", name, err)
	}

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plain, &nonce, &p.key)

	_, err = p.db.ExecContext(ctx,
		`INSERT INTO snapshots (collection, sealed, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(collection) DO UPDATE SET sealed = excluded.sealed, updated_at = excluded.updated_at`,
		name, sealed, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing %s snapshot: %w", name, err)
	}
	return nil
}

// load opens and unseals one collection snapshot. Missing snapshots return
// sql.ErrNoRows.
func (p *Persister) load(ctx context.Context, name string) (snapshot, error) {
	var sealed []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT sealed FROM snapshots WHERE collection = ?`, name).Scan(&sealed)
	if err != nil {
		return snapshot{}, err
	}
	if len(sealed) < 24 {
		return snapshot{}, fmt.Errorf("%s snapshot is truncated", name)
	}

	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, &p.key)
	if !ok {
		return snapshot{}, fmt.Errorf("unsealing %s snapshot: wrong key or corrupted data", name)
	}

	var snap snapshot
	if err := json.Unmarshal(plain, &snap); err != nil {
		return snapshot{}, fmt.Errorf("decoding %s snapshot: %w", name, err)
	}
	return snap, nil
}

// saveCycleMetrics appends cycle metrics rows.
func (p *Persister) saveCycleMetrics(ctx context.Context, metrics []CycleMetrics) error {
	for _, m := range metrics {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("serializing cycle metrics: %w", err)
		}
		if _, err := p.db.ExecContext(ctx,
			`INSERT INTO cycle_metrics (cycle, metrics_json, recorded_at) VALUES (?, ?, ?)`,
			m.Cycle, string(data), m.RecordedAt); err != nil {
			return fmt.Errorf("writing cycle metrics: %w", err)
		}
	}
	return nil
}

// cycleHistory reads persisted cycle metrics, oldest first.
func (p *Persister) cycleHistory(ctx context.Context) ([]CycleMetrics, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT metrics_json FROM cycle_metrics ORDER BY cycle, recorded_at`)
	if err != nil {
		return nil, fmt.Errorf("querying cycle metrics: %w", err)
	}
	defer rows.Close()

	var out []CycleMetrics
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning cycle metrics row: %w", err)
		}
		var m CycleMetrics
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return nil, fmt.Errorf("decoding cycle metrics: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Persist serializes all three collections (and any buffered cycle
// metrics) to durable storage. Failures are logged, never thrown —
// in-memory state remains authoritative for the running process.
func (s *Store) Persist(ctx context.Context) {
	if s.persister == nil {
		return
	}

	s.mu.Lock()
	snaps := map[string]snapshot{
		CollectionFeedback:    snapshotOf(s.feedback.entities, s.feedback.leaves, s.feedback.root),
		CollectionPatterns:    snapshotOf(s.patterns.entities, s.patterns.leaves, s.patterns.root),
		CollectionAdaptations: snapshotOf(s.adaptations.entities, s.adaptations.leaves, s.adaptations.root),
	}
	metrics := make([]CycleMetrics, len(s.cycleMetrics))
	copy(metrics, s.cycleMetrics)
	s.cycleMetrics = s.cycleMetrics[:0]
	s.mu.Unlock()

	for name, snap := range snaps {
		if err := s.persister.save(ctx, name, snap); err != nil {
			persistFailures.Add(ctx, 1, withCollection(name))
			log.Error().Err(err).Str("collection", name).Msg("snapshot persistence failed")
		}
	}
	if err := s.persister.saveCycleMetrics(ctx, metrics); err != nil {
		log.Error().Err(err).Msg("cycle metrics persistence failed")
	}
}

// Load restores all three collections from the most recent snapshots,
// replacing in-memory state. Missing snapshots leave the corresponding
// collection empty.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := restoreCollection(ctx, s.persister, CollectionFeedback, &s.feedback); err != nil {
		return err
	}
	if err := restoreCollection(ctx, s.persister, CollectionPatterns, &s.patterns); err != nil {
		return err
	}
	if err := restoreCollection(ctx, s.persister, CollectionAdaptations, &s.adaptations); err != nil {
		return err
	}
	return nil
}

func snapshotOf[T any](entities map[string]T, leaves map[string]string, root string) snapshot {
	snap := snapshot{
		Entities:   make(map[string]json.RawMessage, len(entities)),
		LeafHashes: make(map[string]string, len(leaves)),
		RootHash:   root,
	}
	for id, e := range entities {
		data, err := json.Marshal(e)
		if err != nil {
			// Entities were serialized for leaf hashing already; a failure
			// here would have surfaced at store time.
			continue
		}
		snap.Entities[id] = data
	}
	for id, leaf := range leaves {
		snap.LeafHashes[id] = leaf
	}
	return snap
}

func restoreCollection[T any](ctx context.Context, p *Persister, name string, c *collection[T]) error {
	snap, err := p.load(ctx, name)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading %s snapshot: %w", name, err)
	}

	entities := make(map[string]T, len(snap.Entities))
	for id, raw := range snap.Entities {
		var e T
		if err := json.Unmarshal(raw, &e); err != nil {
			return fmt.Errorf("decoding %s entity %s: %w", name, id, err)
		}
		entities[id] = e
	}
	c.entities = entities
	c.leaves = snap.LeafHashes
	c.root = snap.RootHash
	return nil
}
