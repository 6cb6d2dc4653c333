package vitals

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/HerbHall/bananapuck/internal/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HistoryPoint is one stored reading of a metric.
type HistoryPoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Alert is one threshold breach. Type is the metric key and identifies the
// alert group; ID is unique per entry.
type Alert struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Level        Level     `json:"level"`
	Message      string    `json:"message"`
	Value        float64   `json:"value"`
	Time         time.Time `json:"time"`
	Acknowledged bool      `json:"acknowledged"`
	Source       string    `json:"source,omitempty"` // "local" or "remote"
}

// AlertGroup is the active view of one metric: every unacknowledged entry
// raised since the group was last fully acknowledged.
type AlertGroup struct {
	Type        string      `json:"type"`
	Level       Level       `json:"level"`
	Message     string      `json:"message"`
	Value       float64     `json:"value"`
	Count       int         `json:"occurrences"`
	FirstAt     time.Time   `json:"first_at"`
	LastAt      time.Time   `json:"last_at"`
	Occurrences []time.Time `json:"timestamps"`
}

// OccurrencePolicy decides how repeated breaches of an unacknowledged
// group are recorded.
type OccurrencePolicy string

const (
	// PolicyPerTick appends a timestamped entry for every breaching sample.
	PolicyPerTick OccurrencePolicy = "per_tick"
	// PolicyCoalesce keeps a single entry until the group is acknowledged.
	PolicyCoalesce OccurrencePolicy = "coalesce"
)

// Hooks are invoked after the store lock is released.
type Hooks struct {
	OnSample      func(s telemetry.Sample, levels map[string]Level)
	OnAlert       func(a Alert)
	OnAcknowledge func(metricType string, count int)
}

// Options configure a Store. Zero fields fall back to DefaultConfig values.
type Options struct {
	Thresholds Thresholds
	Metrics    []string
	Policy     OccurrencePolicy
	AlertLevel Level
	Retention  time.Duration
	MaxPoints  int
	Persister  Persister
	Clock      func() time.Time
	Logger     *zap.Logger
	Hooks      Hooks
}

// Store owns the rolling per-metric history and the alert list. All
// mutation goes through Ingest, Acknowledge, AcknowledgeAll, ImportRemote
// and Prune. It is safe for concurrent use; overlapping poll ticks may
// ingest at the same time.
type Store struct {
	thresholds Thresholds
	metrics    []string
	policy     OccurrencePolicy
	alertLevel Level
	retention  time.Duration
	maxPoints  int
	persister  Persister
	clock      func() time.Time
	logger     *zap.Logger
	hooks      Hooks

	mu      sync.RWMutex
	history map[string][]HistoryPoint
	alerts  []Alert
	latest  *telemetry.Sample
	levels  map[string]Level
	seq     uint64 // bumped on every mutation

	persistMu sync.Mutex
	savedSeq  uint64
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	def := DefaultConfig()
	s := &Store{
		thresholds: opts.Thresholds,
		metrics:    opts.Metrics,
		policy:     opts.Policy,
		alertLevel: opts.AlertLevel,
		retention:  opts.Retention,
		maxPoints:  opts.MaxPoints,
		persister:  opts.Persister,
		clock:      opts.Clock,
		logger:     opts.Logger,
		hooks:      opts.Hooks,
		history:    make(map[string][]HistoryPoint),
		levels:     make(map[string]Level),
	}
	if s.thresholds == nil {
		s.thresholds = DefaultThresholds()
	}
	if len(s.metrics) == 0 {
		s.metrics = def.Metrics
	}
	if s.policy == "" {
		s.policy = PolicyPerTick
	}
	if s.alertLevel == LevelSafe {
		s.alertLevel = LevelDanger
	}
	if s.retention <= 0 {
		s.retention = def.Retention
	}
	if s.maxPoints <= 0 {
		s.maxPoints = def.MaxPoints
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Classify classifies value against this store's thresholds.
func (s *Store) Classify(metric string, value float64) Level {
	return s.thresholds.Classify(metric, value)
}

// Thresholds returns the bands this store classifies against.
func (s *Store) Thresholds() Thresholds {
	return s.thresholds
}

// Ingest records every tracked metric present in sample, raises alerts for
// breaching readings, prunes expired entries and persists the result.
// Absent metrics are skipped; Ingest never fails.
func (s *Store) Ingest(ctx context.Context, sample telemetry.Sample) {
	now := s.clock()
	ts := sample.Timestamp
	if ts.IsZero() {
		ts = now
		sample.Timestamp = now
	}

	var raised []Alert
	levels := make(map[string]Level)

	s.mu.Lock()
	latest := sample
	s.latest = &latest
	for _, metric := range s.metrics {
		v, ok := sample.Value(metric)
		if !ok {
			continue
		}
		s.appendPoint(metric, HistoryPoint{Time: ts, Value: v})

		level := s.thresholds.Classify(metric, v)
		levels[metric] = level
		s.levels[metric] = level
		if level < s.alertLevel {
			continue
		}
		if a, ok := s.raiseLocked(metric, level, v, ts, sample.DeviceTime); ok {
			raised = append(raised, a)
		}
	}
	s.pruneLocked(now)
	s.seq++
	state, seq := s.snapshotLocked(), s.seq
	s.mu.Unlock()

	if s.hooks.OnSample != nil {
		s.hooks.OnSample(sample, levels)
	}
	for _, a := range raised {
		s.logger.Warn("alert raised",
			zap.String("type", a.Type),
			zap.String("level", a.Level.String()),
			zap.Float64("value", a.Value),
			zap.Time("time", a.Time),
		)
		if s.hooks.OnAlert != nil {
			s.hooks.OnAlert(a)
		}
	}

	s.persist(ctx, state, seq)
}

// appendPoint adds p and evicts the oldest points beyond maxPoints.
// Must be called with s.mu held.
func (s *Store) appendPoint(metric string, p HistoryPoint) {
	points := append(s.history[metric], p)
	if over := len(points) - s.maxPoints; over > 0 {
		points = slices.Delete(points, 0, over)
	}
	s.history[metric] = points
}

// raiseLocked opens or extends the group for metric. A device-stamped
// breach with the same timestamp as an unacknowledged entry is a replay of
// the same reading (overlapping polls) and is not recorded twice.
// Only local entries are compared; imported remote alerts never suppress
// a locally computed one.
// Must be called with s.mu held.
func (s *Store) raiseLocked(metric string, level Level, value float64, ts time.Time, deviceTime bool) (Alert, bool) {
	for _, a := range s.alerts {
		if a.Source == "remote" || a.Type != metric || a.Acknowledged {
			continue
		}
		if s.policy == PolicyCoalesce || (deviceTime && a.Time.Equal(ts)) {
			return Alert{}, false
		}
	}
	a := Alert{
		ID:      uuid.NewString(),
		Type:    metric,
		Level:   level,
		Message: s.thresholds.alertMessage(metric, level, value),
		Value:   value,
		Time:    ts,
		Source:  "local",
	}
	s.alerts = append(s.alerts, a)
	return a, true
}

// ImportRemote merges alerts computed by the device backend. Entries are
// matched by remote ID, or by type and time when the ID is empty. An entry
// with neither ID nor timestamp matches the unacknowledged remote entry of
// the same type and message, since every poll would otherwise stamp it
// anew. A known entry only ever moves from unacknowledged to acknowledged.
// Returns the alerts that were new to the store.
func (s *Store) ImportRemote(ctx context.Context, remote []telemetry.RemoteAlert) []Alert {
	var added []Alert

	s.mu.Lock()
	changed := false
	for _, r := range remote {
		id := "remote-" + r.ID
		if r.ID == "" {
			id = fmt.Sprintf("remote-%s-%d", r.Type, r.Timestamp.UnixMilli())
		}
		idx := slices.IndexFunc(s.alerts, func(a Alert) bool { return a.ID == id })
		if idx < 0 && r.ID == "" && !r.DeviceTime {
			idx = slices.IndexFunc(s.alerts, func(a Alert) bool {
				return a.Source == "remote" && !a.Acknowledged && a.Type == r.Type && a.Message == r.Message
			})
		}
		if idx >= 0 {
			if r.Acknowledged && !s.alerts[idx].Acknowledged {
				s.alerts[idx].Acknowledged = true
				changed = true
			}
			continue
		}
		level, err := ParseLevel(r.Level)
		if err != nil || level == LevelSafe {
			level = LevelDanger
		}
		a := Alert{
			ID:           id,
			Type:         r.Type,
			Level:        level,
			Message:      r.Message,
			Time:         r.Timestamp,
			Acknowledged: r.Acknowledged,
			Source:       "remote",
		}
		s.alerts = append(s.alerts, a)
		added = append(added, a)
		changed = true
	}
	if !changed {
		s.mu.Unlock()
		return nil
	}
	s.pruneLocked(s.clock())
	s.seq++
	state, seq := s.snapshotLocked(), s.seq
	s.mu.Unlock()

	for _, a := range added {
		if !a.Acknowledged && s.hooks.OnAlert != nil {
			s.hooks.OnAlert(a)
		}
	}
	s.persist(ctx, state, seq)
	return added
}

// Acknowledge marks every unacknowledged alert of metricType as seen and
// returns how many changed. Acknowledging an already acknowledged group is
// a no-op.
func (s *Store) Acknowledge(ctx context.Context, metricType string) int {
	return s.acknowledge(ctx, metricType, func(a Alert) bool { return a.Type == metricType })
}

// AcknowledgeAll acknowledges every active alert regardless of type.
func (s *Store) AcknowledgeAll(ctx context.Context) int {
	return s.acknowledge(ctx, "", func(Alert) bool { return true })
}

func (s *Store) acknowledge(ctx context.Context, metricType string, match func(Alert) bool) int {
	s.mu.Lock()
	n := 0
	for i := range s.alerts {
		if !s.alerts[i].Acknowledged && match(s.alerts[i]) {
			s.alerts[i].Acknowledged = true
			n++
		}
	}
	if n == 0 {
		s.mu.Unlock()
		return 0
	}
	s.seq++
	state, seq := s.snapshotLocked(), s.seq
	s.mu.Unlock()

	s.logger.Info("alerts acknowledged", zap.String("type", metricType), zap.Int("count", n))
	if s.hooks.OnAcknowledge != nil {
		s.hooks.OnAcknowledge(metricType, n)
	}
	s.persist(ctx, state, seq)
	return n
}

// ActiveAlerts returns one group per metric with at least one
// unacknowledged alert, most recently breached first.
func (s *Store) ActiveAlerts() []AlertGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeAlertsLocked()
}

// activeAlertsLocked must be called with s.mu held.
func (s *Store) activeAlertsLocked() []AlertGroup {
	byType := make(map[string]*AlertGroup)
	var order []string
	for _, a := range s.alerts {
		if a.Acknowledged {
			continue
		}
		g, ok := byType[a.Type]
		if !ok {
			g = &AlertGroup{Type: a.Type, FirstAt: a.Time, LastAt: a.Time}
			byType[a.Type] = g
			order = append(order, a.Type)
		}
		g.Count++
		g.Occurrences = append(g.Occurrences, a.Time)
		g.Level = max(g.Level, a.Level)
		if a.Time.Before(g.FirstAt) {
			g.FirstAt = a.Time
		}
		if !a.Time.Before(g.LastAt) {
			g.LastAt = a.Time
			g.Message = a.Message
			g.Value = a.Value
		}
	}

	groups := make([]AlertGroup, 0, len(order))
	for _, typ := range order {
		g := byType[typ]
		slices.SortFunc(g.Occurrences, func(a, b time.Time) int { return a.Compare(b) })
		groups = append(groups, *g)
	}
	slices.SortStableFunc(groups, func(a, b AlertGroup) int {
		if c := b.LastAt.Compare(a.LastAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Type, b.Type)
	})
	return groups
}

// HistoryAlerts returns every alert, acknowledged or not, raised within
// window of now, newest first. A non-positive window returns everything
// retained.
func (s *Store) HistoryAlerts(window time.Duration) []Alert {
	cutoff := s.windowStart(window)

	s.mu.RLock()
	out := make([]Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if !a.Time.Before(cutoff) {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b Alert) int { return b.Time.Compare(a.Time) })
	return out
}

// HistorySeries returns a fresh, chronologically ordered copy of the
// metric's points within window of now.
func (s *Store) HistorySeries(metric string, window time.Duration) []HistoryPoint {
	cutoff := s.windowStart(window)

	s.mu.RLock()
	points := s.history[metric]
	out := make([]HistoryPoint, 0, len(points))
	for _, p := range points {
		if !p.Time.Before(cutoff) {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b HistoryPoint) int { return a.Time.Compare(b.Time) })
	return out
}

func (s *Store) windowStart(window time.Duration) time.Time {
	if window <= 0 {
		return time.Time{}
	}
	return s.clock().Add(-window)
}

// Latest returns the most recently ingested sample.
func (s *Store) Latest() (telemetry.Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return telemetry.Sample{}, false
	}
	return *s.latest, true
}

// Levels returns the last classification of each metric seen.
func (s *Store) Levels() map[string]Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.levelsLocked()
}

// levelsLocked must be called with s.mu held.
func (s *Store) levelsLocked() map[string]Level {
	out := make(map[string]Level, len(s.levels))
	for k, v := range s.levels {
		out[k] = v
	}
	return out
}

// Metrics returns the tracked metric keys in ingestion order.
func (s *Store) Metrics() []string {
	return slices.Clone(s.metrics)
}

// Prune drops alerts and points older than the retention horizon relative
// to now and persists the result when anything was removed.
func (s *Store) Prune(ctx context.Context, now time.Time) (points, alerts int) {
	s.mu.Lock()
	points, alerts = s.pruneLocked(now)
	if points+alerts == 0 {
		s.mu.Unlock()
		return 0, 0
	}
	s.seq++
	state, seq := s.snapshotLocked(), s.seq
	s.mu.Unlock()

	s.logger.Debug("pruned expired entries",
		zap.Int("points", points),
		zap.Int("alerts", alerts),
	)
	s.persist(ctx, state, seq)
	return points, alerts
}

// pruneLocked removes entries strictly older than now - retention.
// Must be called with s.mu held.
func (s *Store) pruneLocked(now time.Time) (points, alerts int) {
	cutoff := now.Add(-s.retention)
	expired := func(t time.Time) bool { return t.Before(cutoff) }

	for metric, series := range s.history {
		before := len(series)
		series = slices.DeleteFunc(series, func(p HistoryPoint) bool { return expired(p.Time) })
		points += before - len(series)
		if len(series) == 0 {
			delete(s.history, metric)
			continue
		}
		s.history[metric] = series
	}

	before := len(s.alerts)
	s.alerts = slices.DeleteFunc(s.alerts, func(a Alert) bool { return expired(a.Time) })
	alerts = before - len(s.alerts)
	return points, alerts
}
