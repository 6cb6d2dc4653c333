package vitals

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
)

// StateKey is the row key under which the store blob is saved.
const StateKey = "bananapuck.state"

// State is the serialized form of a Store.
type State struct {
	HistoryData map[string][]HistoryPoint `json:"historyData"`
	Alerts      []Alert                   `json:"alerts"`
}

// Persister loads and saves the store blob. Load returns nil, nil when
// nothing was saved yet.
type Persister interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state State) error
}

// SQLitePersister keeps the blob in the vitals_state table.
type SQLitePersister struct {
	db *sql.DB
}

// NewSQLitePersister creates a persister backed by db. The vitals
// migrations must have run.
func NewSQLitePersister(db *sql.DB) *SQLitePersister {
	return &SQLitePersister{db: db}
}

// Load reads the saved blob. Returns nil, nil if not found.
func (p *SQLitePersister) Load(ctx context.Context) (*State, error) {
	var payload string
	err := p.db.QueryRowContext(ctx,
		`SELECT payload FROM vitals_state WHERE key = ?`, StateKey,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load vitals state: %w", err)
	}

	var st State
	if err := json.Unmarshal([]byte(payload), &st); err != nil {
		return nil, fmt.Errorf("decode vitals state: %w", err)
	}
	return &st, nil
}

// Save overwrites the blob.
func (p *SQLitePersister) Save(ctx context.Context, state State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode vitals state: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO vitals_state (key, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		StateKey, string(payload), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save vitals state: %w", err)
	}
	return nil
}

// Snapshot returns a deep copy of the store contents.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// snapshotLocked must be called with s.mu held.
func (s *Store) snapshotLocked() State {
	st := State{
		HistoryData: make(map[string][]HistoryPoint, len(s.history)),
		Alerts:      slices.Clone(s.alerts),
	}
	for metric, points := range s.history {
		st.HistoryData[metric] = slices.Clone(points)
	}
	if st.Alerts == nil {
		st.Alerts = []Alert{}
	}
	return st
}

// Restore replaces the store contents with state. Series are re-sorted,
// trimmed to the point cap and pruned against the retention horizon; an
// empty state yields an empty store.
func (s *Store) Restore(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = make(map[string][]HistoryPoint, len(state.HistoryData))
	for metric, points := range state.HistoryData {
		if len(points) == 0 {
			continue
		}
		series := slices.Clone(points)
		slices.SortStableFunc(series, func(a, b HistoryPoint) int { return a.Time.Compare(b.Time) })
		if over := len(series) - s.maxPoints; over > 0 {
			series = slices.Delete(series, 0, over)
		}
		s.history[metric] = series
	}
	s.alerts = slices.Clone(state.Alerts)
	s.pruneLocked(s.clock())
	s.seq++
	s.savedSeq = s.seq
}

// Load restores the store from its persister. A store without a persister
// stays empty.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	st, err := s.persister.Load(ctx)
	if err != nil {
		return err
	}
	if st == nil {
		return nil
	}
	s.Restore(*st)
	s.logger.Info("vitals state restored",
		zap.Int("metrics", len(st.HistoryData)),
		zap.Int("alerts", len(st.Alerts)),
	)
	return nil
}

// persist saves state unless a newer snapshot has already been written.
// Failures are logged and counted; in-memory state is authoritative.
func (s *Store) persist(ctx context.Context, state State, seq uint64) {
	if s.persister == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if seq <= s.savedSeq {
		return
	}
	if err := s.persister.Save(ctx, state); err != nil {
		persistFailures.Inc()
		s.logger.Warn("failed to persist vitals state", zap.Error(err))
		return
	}
	s.savedSeq = seq
}
