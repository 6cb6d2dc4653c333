package vitals

import (
	"context"
	"testing"
	"time"

	"github.com/HerbHall/bananapuck/internal/store"
	"github.com/HerbHall/bananapuck/internal/testutil"
)

func testPersister(t *testing.T) *SQLitePersister {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background(), "vitals", migrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewSQLitePersister(db.DB())
}

func TestSQLitePersister_LoadEmpty(t *testing.T) {
	p := testPersister(t)

	st, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st != nil {
		t.Errorf("Load() = %+v, want nil for an empty table", st)
	}
}

func TestSQLitePersister_SaveOverwrites(t *testing.T) {
	p := testPersister(t)
	ctx := context.Background()

	first := State{HistoryData: map[string][]HistoryPoint{"hr": {{Time: t0, Value: 70}}}}
	second := State{HistoryData: map[string][]HistoryPoint{"temp": {{Time: t0, Value: 98}}}}
	if err := p.Save(ctx, first); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := p.Save(ctx, second); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := p.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := got.HistoryData["hr"]; ok {
		t.Error("first snapshot survived a later save")
	}
	if len(got.HistoryData["temp"]) != 1 {
		t.Errorf("temp = %v, want 1 point", got.HistoryData["temp"])
	}

	var rows int
	if err := p.db.QueryRow(`SELECT COUNT(*) FROM vitals_state`).Scan(&rows); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 1 {
		t.Errorf("rows = %d, want a single fixed-key record", rows)
	}
}

func TestStore_RoundTrip(t *testing.T) {
	p := testPersister(t)
	ctx := context.Background()

	s, clock := newTestStore(t, func(o *Options) { o.Persister = p })
	ingestAt(t, s, clock, t0, testutil.WithHR(150))
	ingestAt(t, s, clock, t0.Add(time.Minute), testutil.WithHR(152), testutil.WithTemp(110))
	ingestAt(t, s, clock, t0.Add(2*time.Minute), testutil.WithBreathing(30))
	s.Acknowledge(ctx, "temp")

	reloaded, _ := newTestStore(t, func(o *Options) {
		o.Persister = p
		o.Clock = clock.Now
	})
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	want, got := s.Snapshot(), reloaded.Snapshot()
	if len(got.HistoryData) != len(want.HistoryData) {
		t.Fatalf("metrics = %d, want %d", len(got.HistoryData), len(want.HistoryData))
	}
	for metric, points := range want.HistoryData {
		gotPoints := got.HistoryData[metric]
		if len(gotPoints) != len(points) {
			t.Fatalf("%s: %d points, want %d", metric, len(gotPoints), len(points))
		}
		for i := range points {
			if !gotPoints[i].Time.Equal(points[i].Time) || gotPoints[i].Value != points[i].Value {
				t.Errorf("%s[%d] = %+v, want %+v", metric, i, gotPoints[i], points[i])
			}
		}
	}

	if len(got.Alerts) != len(want.Alerts) {
		t.Fatalf("alerts = %d, want %d", len(got.Alerts), len(want.Alerts))
	}
	for i := range want.Alerts {
		w, g := want.Alerts[i], got.Alerts[i]
		if g.ID != w.ID || g.Type != w.Type || g.Level != w.Level || g.Acknowledged != w.Acknowledged ||
			g.Message != w.Message || g.Value != w.Value || !g.Time.Equal(w.Time) {
			t.Errorf("alert %d = %+v, want %+v", i, g, w)
		}
	}

	groups := reloaded.ActiveAlerts()
	if len(groups) != 2 {
		t.Errorf("active groups after reload = %d, want 2 (hr, breathing)", len(groups))
	}
}

func TestStore_RestorePrunesAndCaps(t *testing.T) {
	s, _ := newTestStore(t, func(o *Options) { o.MaxPoints = 2 })

	old := t0.Add(-31 * 24 * time.Hour)
	s.Restore(State{
		HistoryData: map[string][]HistoryPoint{
			"hr": {
				{Time: t0.Add(-time.Minute), Value: 71},
				{Time: t0.Add(-3 * time.Minute), Value: 69},
				{Time: t0.Add(-2 * time.Minute), Value: 70},
			},
			"temp":  {{Time: old, Value: 98}},
			"empty": {},
		},
		Alerts: []Alert{
			{ID: "a", Type: "hr", Level: LevelDanger, Time: old},
			{ID: "b", Type: "hr", Level: LevelDanger, Time: t0},
		},
	})

	hr := s.HistorySeries("hr", 0)
	if len(hr) != 2 || hr[0].Value != 70 || hr[1].Value != 71 {
		t.Errorf("hr = %v, want the two newest points in order", hr)
	}
	if got := s.HistorySeries("temp", 0); len(got) != 0 {
		t.Errorf("temp = %v, want expired point pruned", got)
	}
	if got := s.HistoryAlerts(0); len(got) != 1 || got[0].ID != "b" {
		t.Errorf("alerts = %+v, want only b", got)
	}
}

func TestModule_InitRestoresState(t *testing.T) {
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	first := newTestModule(t, db)
	first.Ingest(ctx, testutil.NewSample(testutil.WithHR(150)))

	second := newTestModule(t, db)
	if got := second.Store().ActiveAlerts(); len(got) != 1 || got[0].Type != "hr" {
		t.Errorf("restored active = %+v, want hr", got)
	}
}
