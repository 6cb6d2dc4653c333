package poller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/bananapuck/internal/config"
	"github.com/HerbHall/bananapuck/internal/telemetry"
	"github.com/HerbHall/bananapuck/internal/vitals"
	"github.com/HerbHall/bananapuck/pkg/plugin"
	"github.com/HerbHall/bananapuck/pkg/plugin/plugintest"
	"github.com/HerbHall/bananapuck/pkg/roles"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func TestPluginContract(t *testing.T) {
	plugintest.TestPluginContract(t, func() plugin.Plugin { return New() })
}

// fakeSink records what the pollers deliver.
type fakeSink struct {
	mu      sync.Mutex
	samples []telemetry.Sample
	remote  [][]telemetry.RemoteAlert
	got     chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{got: make(chan struct{}, 16)}
}

func (f *fakeSink) Ingest(_ context.Context, s telemetry.Sample) {
	f.mu.Lock()
	f.samples = append(f.samples, s)
	f.mu.Unlock()
	f.got <- struct{}{}
}

func (f *fakeSink) ImportRemote(_ context.Context, alerts []telemetry.RemoteAlert) {
	f.mu.Lock()
	f.remote = append(f.remote, alerts)
	f.mu.Unlock()
	f.got <- struct{}{}
}

func (f *fakeSink) wait(t *testing.T, n int) {
	t.Helper()
	for range n {
		select {
		case <-f.got:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for sink delivery")
		}
	}
}

// newTestModule initializes a module whose URLs point at srv.
func newTestModule(t *testing.T, srv *httptest.Server) *Module {
	t.Helper()
	v := viper.New()
	v.Set("telemetry_url", srv.URL+"/data")
	v.Set("alerts_url", srv.URL+"/alerts")
	v.Set("ack_url", srv.URL+"/ack")
	v.Set("clear_url", srv.URL+"/clear")
	v.Set("interval", "250ms")

	m := New()
	if err := m.Init(context.Background(), plugin.Dependencies{
		Logger: zap.NewNop(),
		Config: config.New(v),
	}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := m.ValidateConfig(); err != nil {
		t.Fatalf("ValidateConfig() error = %v", err)
	}
	return m
}

// ackLog records acknowledgments seen by the fake backend.
type ackLog struct {
	mu   sync.Mutex
	seen []string
}

func (l *ackLog) add(s string) {
	l.mu.Lock()
	l.seen = append(l.seen, s)
	l.mu.Unlock()
}

func (l *ackLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.seen...)
}

func backend(t *testing.T) (*httptest.Server, *ackLog) {
	t.Helper()
	acks := &ackLog{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /data", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"hr": 150, "breathing": 14, "temp": 98.4}`))
	})
	mux.HandleFunc("GET /alerts", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id": "a1", "type": "gps", "message": "GPS lost", "level": "warning"}]`))
	})
	mux.HandleFunc("POST /ack", func(_ http.ResponseWriter, r *http.Request) {
		var body struct{ Type string }
		_ = json.NewDecoder(r.Body).Decode(&body)
		acks.add(body.Type)
	})
	mux.HandleFunc("POST /clear", func(http.ResponseWriter, *http.Request) {
		acks.add("*")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, acks
}

func TestInit_Defaults(t *testing.T) {
	m := New()
	if err := m.Init(context.Background(), plugin.Dependencies{Logger: zap.NewNop()}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	want := DefaultConfig()
	if m.cfg != want {
		t.Errorf("cfg = %+v, want %+v", m.cfg, want)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero interval", func(c *Config) { c.Interval = 0 }, true},
		{"alerts without interval", func(c *Config) {
			c.AlertsURL = "http://device/alerts"
			c.AlertsInterval = 0
		}, true},
		{"alerts interval unused", func(c *Config) { c.AlertsInterval = 0 }, false},
		{"negative timeout", func(c *Config) { c.Timeout = -time.Second }, true},
		{"bad scheme", func(c *Config) { c.TelemetryURL = "ftp://device/data" }, true},
		{"relative url", func(c *Config) { c.AckURL = "/ack" }, true},
		{"https ok", func(c *Config) { c.ClearURL = "https://device/clear" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestModule_PollsIntoSink(t *testing.T) {
	srv, _ := backend(t)
	m := newTestModule(t, srv)
	sink := newFakeSink()
	m.sink = sink
	ticker := NewManualTicker()
	m.newTicker = ticker.Factory()

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop(context.Background()) //nolint:errcheck // test cleanup

	// Both pollers fire immediately on start.
	sink.wait(t, 2)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.samples) != 1 || *sink.samples[0].HR != 150 {
		t.Errorf("samples = %+v, want one with hr 150", sink.samples)
	}
	if len(sink.remote) != 1 || sink.remote[0][0].Type != "gps" {
		t.Errorf("remote = %+v, want one gps batch", sink.remote)
	}
}

func TestModule_ResolvesVitalsSink(t *testing.T) {
	srv, _ := backend(t)
	m := newTestModule(t, srv)
	ticker := NewManualTicker()
	m.newTicker = ticker.Factory()

	v := vitals.New()
	if err := v.Init(context.Background(), plugin.Dependencies{Logger: zap.NewNop()}); err != nil {
		t.Fatalf("vitals Init() error = %v", err)
	}
	m.plugins = resolver{v}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(v.Store().ActiveAlerts()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	_ = m.Stop(context.Background())

	active := v.Store().ActiveAlerts()
	types := map[string]bool{}
	for _, g := range active {
		types[g.Type] = true
	}
	if !types["hr"] || !types["gps"] {
		t.Errorf("active alert types = %v, want hr and gps", types)
	}
}

func TestModule_IdleWithoutSink(t *testing.T) {
	srv, _ := backend(t)
	m := newTestModule(t, srv)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if m.samples != nil || m.alerts != nil {
		t.Error("pollers created without a sink")
	}
	if got := m.Health(context.Background()); got.Status != "degraded" {
		t.Errorf("Health() = %q, want degraded", got.Status)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestModule_Forwarding(t *testing.T) {
	srv, acks := backend(t)
	m := newTestModule(t, srv)

	var fwd roles.AlertForwarder = m
	if err := fwd.ForwardAck(context.Background(), "water"); err != nil {
		t.Fatalf("ForwardAck() error = %v", err)
	}
	if err := fwd.ForwardClear(context.Background()); err != nil {
		t.Fatalf("ForwardClear() error = %v", err)
	}
	got := acks.list()
	if len(got) != 2 || got[0] != "water" || got[1] != "*" {
		t.Errorf("backend saw %v, want [water *]", got)
	}
}

func TestModule_ForwardingNotConfigured(t *testing.T) {
	m := New()
	if err := m.ForwardAck(context.Background(), "hr"); !errors.Is(err, roles.ErrNotConfigured) {
		t.Errorf("ForwardAck before Init = %v, want ErrNotConfigured", err)
	}

	if err := m.Init(context.Background(), plugin.Dependencies{Logger: zap.NewNop()}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := m.ForwardClear(context.Background()); !errors.Is(err, roles.ErrNotConfigured) {
		t.Errorf("ForwardClear without clear_url = %v, want ErrNotConfigured", err)
	}
}

func TestModule_HealthAndStatus(t *testing.T) {
	srv, _ := backend(t)
	m := newTestModule(t, srv)
	sink := newFakeSink()
	m.sink = sink
	ticker := NewManualTicker()
	m.newTicker = ticker.Factory()

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop(context.Background()) //nolint:errcheck // test cleanup
	sink.wait(t, 2)

	h := m.Health(context.Background())
	if h.Status != "healthy" {
		t.Errorf("Health() = %q, want healthy", h.Status)
	}
	if h.Details["ticks"] != "1" {
		t.Errorf("ticks = %q, want 1", h.Details["ticks"])
	}

	w := httptest.NewRecorder()
	m.handleStatus(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp StatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Telemetry == nil || !resp.Telemetry.Running {
		t.Errorf("telemetry stats = %+v, want running", resp.Telemetry)
	}
	if resp.Alerts == nil {
		t.Error("alerts stats missing")
	}
}

type resolver struct{ p plugin.Plugin }

func (r resolver) Resolve(name string) (plugin.Plugin, bool) {
	return r.p, name == r.p.Info().Name
}

func (r resolver) ResolveByRole(role string) []plugin.Plugin {
	for _, have := range r.p.Info().Roles {
		if have == role {
			return []plugin.Plugin{r.p}
		}
	}
	return nil
}
