package vitals

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

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
	_ roles.TelemetrySink  = (*Module)(nil)
)

// Module implements the Vitals plugin: it owns the alert and history
// store and serves it over HTTP.
type Module struct {
	logger  *zap.Logger
	cfg     Config
	store   *Store
	bus     plugin.EventBus
	plugins plugin.PluginResolver
	persist bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new Vitals plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "vitals",
		Version:     "0.1.0",
		Description: "Vital sign thresholds, alerting and rolling history",
		Required:    true,
		Roles:       []string{roles.RoleTelemetrySink},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if m.logger == nil {
		m.logger = zap.NewNop()
	}

	m.cfg = DefaultConfig()
	if err := config.Decode(deps.Config, &m.cfg); err != nil {
		return fmt.Errorf("unmarshal vitals config: %w", err)
	}

	var persister Persister
	if deps.Store != nil && m.cfg.Persist {
		if err := deps.Store.Migrate(ctx, "vitals", migrations()); err != nil {
			return fmt.Errorf("vitals migrations: %w", err)
		}
		persister = NewSQLitePersister(deps.Store.DB())
		m.persist = true
	}

	m.bus = deps.Bus
	m.plugins = deps.Plugins

	opts := m.cfg.StoreOptions()
	opts.Persister = persister
	opts.Logger = m.logger.Named("store")
	opts.Hooks = Hooks{
		OnSample:      m.onSample,
		OnAlert:       m.onAlert,
		OnAcknowledge: m.onAcknowledge,
	}
	m.store = NewStore(opts)

	if err := m.store.Load(ctx); err != nil {
		// A corrupt or unreadable blob must not keep the dashboard down.
		m.logger.Warn("failed to restore vitals state, starting empty", zap.Error(err))
	}
	activeAlerts.Set(float64(len(m.store.ActiveAlerts())))

	m.logger.Info("vitals module initialized",
		zap.Duration("retention", m.cfg.Retention),
		zap.Int("max_points", m.cfg.MaxPoints),
		zap.String("alert_level", opts.AlertLevel.String()),
		zap.String("occurrence_policy", m.cfg.OccurrencePolicy),
		zap.Bool("persist", m.persist),
	)
	return nil
}

// ValidateConfig implements plugin.Validator.
func (m *Module) ValidateConfig() error {
	return m.cfg.Validate()
}

func (m *Module) Start(_ context.Context) error {
	m.ctx, m.cancel = context.WithCancel(context.Background())
	if m.cfg.MaintenanceInterval > 0 {
		m.startMaintenance()
	}
	m.logger.Info("vitals module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("vitals module stopped")
	return nil
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	details := map[string]string{
		"persistence": "disabled",
	}
	if m.persist {
		details["persistence"] = "sqlite"
	}
	status := "healthy"
	if m.store == nil {
		return plugin.HealthStatus{Status: "unhealthy", Message: "store not initialized", Details: details}
	}
	groups := m.store.ActiveAlerts()
	details["active_alerts"] = strconv.Itoa(len(groups))
	if latest, ok := m.store.Latest(); ok {
		details["last_sample"] = latest.Timestamp.UTC().Format(time.RFC3339)
	} else {
		status = "degraded"
		details["last_sample"] = "never"
	}
	return plugin.HealthStatus{Status: status, Details: details}
}

// Store returns the underlying alert and history store.
func (m *Module) Store() *Store {
	return m.store
}

// Ingest implements roles.TelemetrySink.
func (m *Module) Ingest(ctx context.Context, sample telemetry.Sample) {
	if m.store == nil {
		return
	}
	m.store.Ingest(ctx, sample)
}

// ImportRemote implements roles.TelemetrySink.
func (m *Module) ImportRemote(ctx context.Context, alerts []telemetry.RemoteAlert) {
	if m.store == nil {
		return
	}
	if added := m.store.ImportRemote(ctx, alerts); len(added) > 0 {
		m.logger.Debug("imported remote alerts", zap.Int("count", len(added)))
	}
}

func (m *Module) onSample(s telemetry.Sample, levels map[string]Level) {
	for metric, level := range levels {
		if v, ok := s.Value(metric); ok {
			metricValue.WithLabelValues(metric).Set(v)
		}
		metricLevel.WithLabelValues(metric).Set(float64(level))
	}
	m.publishEvent(context.Background(), TopicSample, SampleEvent{Sample: s, Levels: levels})
}

func (m *Module) onAlert(a Alert) {
	alertsTotal.WithLabelValues(a.Type, a.Level.String()).Inc()
	activeAlerts.Set(float64(len(m.store.ActiveAlerts())))
	m.publishEvent(context.Background(), TopicAlertTriggered, AlertEvent{Alert: a})
}

func (m *Module) onAcknowledge(metricType string, count int) {
	activeAlerts.Set(float64(len(m.store.ActiveAlerts())))
	m.publishEvent(context.Background(), TopicAlertAcknowledged, AcknowledgedEvent{Type: metricType, Count: count})
}

// publishEvent publishes an event to the event bus.
func (m *Module) publishEvent(ctx context.Context, topic string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.PublishAsync(ctx, plugin.Event{
		Topic:     topic,
		Source:    "vitals",
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

// startMaintenance launches a background goroutine that prunes expired
// entries between samples, so an idle device still ages out.
func (m *Module) startMaintenance() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.MaintenanceInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.ctx.Done():
				return
			case now := <-ticker.C:
				points, alerts := m.store.Prune(m.ctx, now)
				if points+alerts > 0 {
					m.logger.Info("pruned expired vitals",
						zap.Int("points", points),
						zap.Int("alerts", alerts),
					)
					activeAlerts.Set(float64(len(m.store.ActiveAlerts())))
				}
			}
		}
	}()
}

// forwarder returns the plugin relaying acknowledgments to the device
// backend, if any.
func (m *Module) forwarder() roles.AlertForwarder {
	if m.plugins == nil {
		return nil
	}
	for _, p := range m.plugins.ResolveByRole(roles.RoleAlertForwarder) {
		if f, ok := p.(roles.AlertForwarder); ok {
			return f
		}
	}
	return nil
}
