// Package roles defines typed contracts for plugin roles.
// Plugins that fill a role (declared via PluginInfo.Roles) should implement
// the corresponding interface so callers can use type-safe access via
// PluginResolver.ResolveByRole followed by a type assertion.
package roles

import (
	"context"
	"errors"

	"github.com/HerbHall/bananapuck/internal/telemetry"
)

// Role name constants match the strings used in PluginInfo.Roles.
const (
	RoleTelemetrySink  = "telemetry_sink"
	RoleAlertForwarder = "alert_forwarder"
)

// ErrNotConfigured is returned by a role implementation whose backing
// endpoint is not configured. Callers treat it as "nothing to do".
var ErrNotConfigured = errors.New("role endpoint not configured")

// TelemetrySink is implemented by plugins that consume decoded device
// readings and backend-computed alerts.
type TelemetrySink interface {
	// Ingest records one sample. It never fails; absent fields are skipped.
	Ingest(ctx context.Context, sample telemetry.Sample)

	// ImportRemote merges alerts reported by the device backend.
	ImportRemote(ctx context.Context, alerts []telemetry.RemoteAlert)
}

// AlertForwarder is implemented by plugins that relay acknowledgments to
// the device backend so both sides agree on what has been seen.
type AlertForwarder interface {
	// ForwardAck acknowledges one alert type remotely.
	ForwardAck(ctx context.Context, alertType string) error

	// ForwardClear acknowledges every remote alert.
	ForwardClear(ctx context.Context) error
}
