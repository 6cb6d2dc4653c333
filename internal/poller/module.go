package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/HerbHall/bananapuck/internal/config"
	"github.com/HerbHall/bananapuck/internal/telemetry"
	"github.com/HerbHall/bananapuck/pkg/plugin"
	"github.com/HerbHall/bananapuck/pkg/roles"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
	_ plugin.Validator     = (*Module)(nil)
	_ roles.AlertForwarder = (*Module)(nil)
)

// Module implements the Poller plugin: it feeds the telemetry sink from
// the device backend and relays acknowledgments back to it.
type Module struct {
	logger    *zap.Logger
	cfg       Config
	client    *Client
	plugins   plugin.PluginResolver
	sink      roles.TelemetrySink
	newTicker TickerFactory

	samples *Poller[telemetry.Sample]
	alerts  *Poller[[]telemetry.RemoteAlert]
}

// New creates a new Poller plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "poller",
		Version:      "0.1.0",
		Description:  "Device telemetry and alert polling",
		Dependencies: []string{"vitals"},
		Roles:        []string{roles.RoleAlertForwarder},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if m.logger == nil {
		m.logger = zap.NewNop()
	}

	m.cfg = DefaultConfig()
	if err := config.Decode(deps.Config, &m.cfg); err != nil {
		return fmt.Errorf("unmarshal poller config: %w", err)
	}

	m.plugins = deps.Plugins
	m.client = NewClient(m.cfg.endpoints(), m.cfg.Timeout)

	m.logger.Info("poller module initialized",
		zap.String("telemetry_url", m.cfg.TelemetryURL),
		zap.Duration("interval", m.cfg.Interval),
		zap.String("alerts_url", m.cfg.AlertsURL),
		zap.Duration("alerts_interval", m.cfg.AlertsInterval),
	)
	return nil
}

// ValidateConfig implements plugin.Validator.
func (m *Module) ValidateConfig() error {
	return m.cfg.Validate()
}

func (m *Module) Start(ctx context.Context) error {
	sink := m.resolveSink()
	if sink == nil {
		m.logger.Warn("no telemetry sink registered, polling disabled")
		return nil
	}
	opts := Options{
		Timeout:   m.cfg.Timeout,
		NewTicker: m.newTicker,
	}

	if m.cfg.TelemetryURL != "" {
		opts.Logger = m.logger.Named("telemetry")
		m.samples = NewPoller("telemetry", m.client.FetchSample, sink.Ingest, opts)
		if err := m.samples.Start(context.WithoutCancel(ctx), m.cfg.Interval); err != nil {
			return fmt.Errorf("start telemetry poller: %w", err)
		}
	}
	if m.cfg.AlertsURL != "" {
		opts.Logger = m.logger.Named("alerts")
		m.alerts = NewPoller("alerts", m.client.FetchAlerts, sink.ImportRemote, opts)
		if err := m.alerts.Start(context.WithoutCancel(ctx), m.cfg.AlertsInterval); err != nil {
			return fmt.Errorf("start alerts poller: %w", err)
		}
	}

	m.logger.Info("poller module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.samples != nil {
		m.samples.Stop()
	}
	if m.alerts != nil {
		m.alerts.Stop()
	}
	m.logger.Info("poller module stopped")
	return nil
}

// resolveSink returns the injected sink or the first plugin filling the
// telemetry sink role.
func (m *Module) resolveSink() roles.TelemetrySink {
	if m.sink != nil {
		return m.sink
	}
	if m.plugins == nil {
		return nil
	}
	for _, p := range m.plugins.ResolveByRole(roles.RoleTelemetrySink) {
		if s, ok := p.(roles.TelemetrySink); ok {
			return s
		}
	}
	return nil
}

// ForwardAck implements roles.AlertForwarder.
func (m *Module) ForwardAck(ctx context.Context, alertType string) error {
	if m.client == nil {
		return roles.ErrNotConfigured
	}
	return m.client.Ack(ctx, alertType)
}

// ForwardClear implements roles.AlertForwarder.
func (m *Module) ForwardClear(ctx context.Context) error {
	if m.client == nil {
		return roles.ErrNotConfigured
	}
	return m.client.Clear(ctx)
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.samples == nil {
		return plugin.HealthStatus{Status: "degraded", Message: "telemetry polling disabled"}
	}
	st := m.samples.Stats()
	details := map[string]string{
		"ticks":                strconv.FormatInt(st.Ticks, 10),
		"failures":             strconv.FormatInt(st.Failures, 10),
		"consecutive_failures": strconv.FormatInt(st.ConsecutiveFailures, 10),
	}
	status := "healthy"
	if st.ConsecutiveFailures > 0 {
		status = "degraded"
	}
	if !st.Running {
		status = "unhealthy"
	}
	return plugin.HealthStatus{Status: status, Details: details}
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/status", Handler: m.handleStatus},
	}
}

// StatusResponse is the body of GET /poller/status.
type StatusResponse struct {
	TelemetryURL string `json:"telemetry_url"`
	AlertsURL    string `json:"alerts_url,omitempty"`
	Telemetry    *Stats `json:"telemetry,omitempty"`
	Alerts       *Stats `json:"alerts,omitempty"`
}

// handleStatus returns poll counters.
//
//	@Summary		Poller status
//	@Description	Returns tick and failure counters for the telemetry and alerts pollers.
//	@Tags			poller
//	@Produce		json
//	@Success		200 {object} StatusResponse
//	@Router			/poller/status [get]
func (m *Module) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		TelemetryURL: m.cfg.TelemetryURL,
		AlertsURL:    m.cfg.AlertsURL,
	}
	if m.samples != nil {
		st := m.samples.Stats()
		resp.Telemetry = &st
	}
	if m.alerts != nil {
		st := m.alerts.Stats()
		resp.Alerts = &st
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
