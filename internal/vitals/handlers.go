package vitals

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/HerbHall/bananapuck/internal/export"
	"github.com/HerbHall/bananapuck/pkg/plugin"
	"github.com/HerbHall/bananapuck/pkg/roles"
	"go.uber.org/zap"
)

// defaultWindow is the history window used when no hours parameter is given.
const defaultWindow = 24 * time.Hour

// errBadWindow is returned for an unparseable or negative hours parameter.
var errBadWindow = errors.New("hours must be a non-negative number")

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/current", Handler: m.handleCurrent},
		{Method: "GET", Path: "/thresholds", Handler: m.handleThresholds},
		{Method: "GET", Path: "/alerts", Handler: m.handleActiveAlerts},
		{Method: "GET", Path: "/alerts/history", Handler: m.handleAlertHistory},
		{Method: "POST", Path: "/alerts/ack", Handler: m.handleAcknowledge},
		{Method: "POST", Path: "/alerts/clear", Handler: m.handleClear},
		{Method: "GET", Path: "/history/{metric}", Handler: m.handleSeries},
		{Method: "GET", Path: "/export/alerts.csv", Handler: m.handleExportAlerts},
		{Method: "GET", Path: "/export/history/{file}", Handler: m.handleExportSeries},
	}
}

// CurrentResponse is the body of GET /vitals/current.
type CurrentResponse struct {
	View   View             `json:"view"`
	Levels map[string]Level `json:"levels"`
	Active []AlertGroup     `json:"active_alerts"`
}

// handleCurrent returns the rendered latest sample.
//
//	@Summary		Current readings
//	@Description	Returns the most recent sample rendered for display, with per-metric levels.
//	@Tags			vitals
//	@Produce		json
//	@Success		200 {object} CurrentResponse
//	@Failure		503 {object} map[string]any
//	@Router			/vitals/current [get]
func (m *Module) handleCurrent(w http.ResponseWriter, _ *http.Request) {
	if m.store == nil {
		vitalsWriteError(w, http.StatusServiceUnavailable, "vitals store not available")
		return
	}
	snap := m.store.Current()
	vitalsWriteJSON(w, http.StatusOK, CurrentResponse{
		View:   Render(snap),
		Levels: snap.Levels,
		Active: snap.Active,
	})
}

// handleThresholds returns the classification bands in effect.
//
//	@Summary		Thresholds
//	@Description	Returns the threshold band of every classified metric.
//	@Tags			vitals
//	@Produce		json
//	@Success		200 {object} map[string]Threshold
//	@Router			/vitals/thresholds [get]
func (m *Module) handleThresholds(w http.ResponseWriter, _ *http.Request) {
	if m.store == nil {
		vitalsWriteError(w, http.StatusServiceUnavailable, "vitals store not available")
		return
	}
	vitalsWriteJSON(w, http.StatusOK, m.store.Thresholds())
}

// handleActiveAlerts returns the active alert groups.
//
//	@Summary		Active alerts
//	@Description	Returns one group per metric with unacknowledged alerts, most recent first.
//	@Tags			vitals
//	@Produce		json
//	@Success		200 {array} AlertGroup
//	@Router			/vitals/alerts [get]
func (m *Module) handleActiveAlerts(w http.ResponseWriter, _ *http.Request) {
	if m.store == nil {
		vitalsWriteError(w, http.StatusServiceUnavailable, "vitals store not available")
		return
	}
	vitalsWriteJSON(w, http.StatusOK, m.store.ActiveAlerts())
}

// handleAlertHistory returns every alert inside the window.
//
//	@Summary		Alert history
//	@Description	Returns all alerts, acknowledged or not, raised within the window, newest first.
//	@Tags			vitals
//	@Produce		json
//	@Param			hours query number false "Window in hours (0 for everything retained)" default(24)
//	@Success		200 {array} Alert
//	@Failure		400 {object} map[string]any
//	@Router			/vitals/alerts/history [get]
func (m *Module) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	if m.store == nil {
		vitalsWriteError(w, http.StatusServiceUnavailable, "vitals store not available")
		return
	}
	window, err := vitalsParseWindow(r)
	if err != nil {
		vitalsWriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	vitalsWriteJSON(w, http.StatusOK, m.store.HistoryAlerts(window))
}

// AckRequest is the body of POST /vitals/alerts/ack.
type AckRequest struct {
	Type string `json:"type"`
}

// handleAcknowledge acknowledges one alert group.
//
//	@Summary		Acknowledge alerts
//	@Description	Marks every unacknowledged alert of the given type as seen and relays the acknowledgment to the device backend.
//	@Tags			vitals
//	@Accept			json
//	@Produce		json
//	@Param			request body AckRequest true "Alert type"
//	@Success		200 {object} roles.AckResult
//	@Failure		400 {object} map[string]any
//	@Router			/vitals/alerts/ack [post]
func (m *Module) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	if m.store == nil {
		vitalsWriteError(w, http.StatusServiceUnavailable, "vitals store not available")
		return
	}
	var req AckRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		vitalsWriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Type = strings.TrimSpace(req.Type)
	if req.Type == "" {
		vitalsWriteError(w, http.StatusBadRequest, "type is required")
		return
	}

	result := roles.AckResult{
		Type:         req.Type,
		Acknowledged: m.store.Acknowledge(r.Context(), req.Type),
		At:           time.Now().UTC(),
	}
	if f := m.forwarder(); f != nil {
		switch err := f.ForwardAck(r.Context(), req.Type); {
		case err == nil:
			result.Forwarded = true
		case !errors.Is(err, roles.ErrNotConfigured):
			m.logger.Warn("failed to forward acknowledgment", zap.String("type", req.Type), zap.Error(err))
		}
	}
	vitalsWriteJSON(w, http.StatusOK, result)
}

// handleClear acknowledges every active alert.
//
//	@Summary		Clear alerts
//	@Description	Acknowledges every active alert regardless of type.
//	@Tags			vitals
//	@Produce		json
//	@Success		200 {object} roles.AckResult
//	@Router			/vitals/alerts/clear [post]
func (m *Module) handleClear(w http.ResponseWriter, r *http.Request) {
	if m.store == nil {
		vitalsWriteError(w, http.StatusServiceUnavailable, "vitals store not available")
		return
	}
	result := roles.AckResult{
		Acknowledged: m.store.AcknowledgeAll(r.Context()),
		At:           time.Now().UTC(),
	}
	if f := m.forwarder(); f != nil {
		switch err := f.ForwardClear(r.Context()); {
		case err == nil:
			result.Forwarded = true
		case !errors.Is(err, roles.ErrNotConfigured):
			m.logger.Warn("failed to forward clear", zap.Error(err))
		}
	}
	vitalsWriteJSON(w, http.StatusOK, result)
}

// handleSeries returns a metric's history.
//
//	@Summary		Metric history
//	@Description	Returns the metric's points within the window in chronological order.
//	@Tags			vitals
//	@Produce		json
//	@Param			metric path string true "Metric key (hr, breathing, temp, water, distance)"
//	@Param			hours query number false "Window in hours" default(24)
//	@Success		200 {array} HistoryPoint
//	@Failure		400 {object} map[string]any
//	@Failure		404 {object} map[string]any
//	@Router			/vitals/history/{metric} [get]
func (m *Module) handleSeries(w http.ResponseWriter, r *http.Request) {
	if m.store == nil {
		vitalsWriteError(w, http.StatusServiceUnavailable, "vitals store not available")
		return
	}
	metric, ok := m.lookupMetric(w, r.PathValue("metric"))
	if !ok {
		return
	}
	window, err := vitalsParseWindow(r)
	if err != nil {
		vitalsWriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	vitalsWriteJSON(w, http.StatusOK, m.store.HistorySeries(metric, window))
}

// handleExportAlerts downloads the alert history as CSV.
//
//	@Summary		Export alerts
//	@Description	Downloads alerts within the window as CSV (Alert Type,Value,Timestamp).
//	@Tags			vitals
//	@Produce		text/csv
//	@Param			hours query number false "Window in hours" default(24)
//	@Success		200 {string} string
//	@Router			/vitals/export/alerts.csv [get]
func (m *Module) handleExportAlerts(w http.ResponseWriter, r *http.Request) {
	if m.store == nil {
		vitalsWriteError(w, http.StatusServiceUnavailable, "vitals store not available")
		return
	}
	window, err := vitalsParseWindow(r)
	if err != nil {
		vitalsWriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	vitalsWriteCSV(w, export.Filename("alerts", time.Now()), func(out io.Writer) error {
		return export.WriteAlerts(out, AlertRows(m.store.HistoryAlerts(window)))
	}, m.logger)
}

// handleExportSeries downloads a metric's history as CSV.
//
//	@Summary		Export metric history
//	@Description	Downloads a metric's points within the window as CSV (Time,Value).
//	@Tags			vitals
//	@Produce		text/csv
//	@Param			file path string true "Metric key with optional .csv suffix"
//	@Param			hours query number false "Window in hours" default(24)
//	@Success		200 {string} string
//	@Failure		404 {object} map[string]any
//	@Router			/vitals/export/history/{file} [get]
func (m *Module) handleExportSeries(w http.ResponseWriter, r *http.Request) {
	if m.store == nil {
		vitalsWriteError(w, http.StatusServiceUnavailable, "vitals store not available")
		return
	}
	metric, ok := m.lookupMetric(w, strings.TrimSuffix(r.PathValue("file"), ".csv"))
	if !ok {
		return
	}
	window, err := vitalsParseWindow(r)
	if err != nil {
		vitalsWriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	vitalsWriteCSV(w, export.Filename(metric, time.Now()), func(out io.Writer) error {
		return export.WriteSeries(out, SeriesPoints(m.store.HistorySeries(metric, window)))
	}, m.logger)
}

// lookupMetric writes a 404 and returns false for untracked metrics.
func (m *Module) lookupMetric(w http.ResponseWriter, metric string) (string, bool) {
	metric = strings.ToLower(strings.TrimSpace(metric))
	for _, known := range m.store.Metrics() {
		if known == metric {
			return metric, true
		}
	}
	vitalsWriteError(w, http.StatusNotFound, fmt.Sprintf("unknown metric %q", metric))
	return "", false
}

// AlertRows converts alerts for CSV export. Remote alerts carry no reading
// and export their message instead.
func AlertRows(alerts []Alert) []export.AlertRow {
	rows := make([]export.AlertRow, 0, len(alerts))
	for _, a := range alerts {
		row := export.AlertRow{Type: a.Type, Message: a.Message, Time: a.Time}
		if a.Source != "remote" {
			v := a.Value
			row.Value = &v
		}
		rows = append(rows, row)
	}
	return rows
}

// SeriesPoints converts history points for CSV export.
func SeriesPoints(points []HistoryPoint) []export.Point {
	out := make([]export.Point, 0, len(points))
	for _, p := range points {
		out = append(out, export.Point{Time: p.Time, Value: p.Value})
	}
	return out
}

func vitalsWriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func vitalsWriteError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "https://bananapuck.dev/problems/" + http.StatusText(status),
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}

func vitalsWriteCSV(w http.ResponseWriter, filename string, write func(io.Writer) error, logger *zap.Logger) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if err := write(w); err != nil {
		logger.Warn("failed to write csv export", zap.String("file", filename), zap.Error(err))
	}
}

// vitalsParseWindow reads the hours query parameter. Fractional hours are
// allowed; 0 selects everything retained.
func vitalsParseWindow(r *http.Request) (time.Duration, error) {
	s := r.URL.Query().Get("hours")
	if s == "" {
		return defaultWindow, nil
	}
	hours, err := strconv.ParseFloat(s, 64)
	if err != nil || hours < 0 || math.IsNaN(hours) || math.IsInf(hours, 0) {
		return 0, errBadWindow
	}
	return time.Duration(hours * float64(time.Hour)), nil
}
