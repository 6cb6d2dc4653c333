// Package export renders alert history and metric series as CSV.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Column headers of the two export modes.
var (
	AlertsHeader = []string{"Alert Type", "Value", "Timestamp"}
	SeriesHeader = []string{"Time", "Value"}
)

// AlertRow is one alert as exported. A nil Value means the alert carried
// no reading (backend-computed alerts) and Message is written instead.
type AlertRow struct {
	Type    string
	Value   *float64
	Message string
	Time    time.Time
}

// Point is one series entry as exported.
type Point struct {
	Time  time.Time
	Value float64
}

// WriteAlerts writes rows in the order given, preceded by AlertsHeader.
func WriteAlerts(w io.Writer, rows []AlertRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(AlertsHeader); err != nil {
		return fmt.Errorf("write alerts header: %w", err)
	}
	for _, r := range rows {
		value := r.Message
		if r.Value != nil {
			value = formatFloat(*r.Value)
		}
		if err := cw.Write([]string{r.Type, value, formatTime(r.Time)}); err != nil {
			return fmt.Errorf("write alert row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSeries writes points in the order given, preceded by SeriesHeader.
func WriteSeries(w io.Writer, points []Point) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SeriesHeader); err != nil {
		return fmt.Errorf("write series header: %w", err)
	}
	for _, p := range points {
		if err := cw.Write([]string{formatTime(p.Time), formatFloat(p.Value)}); err != nil {
			return fmt.Errorf("write series row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// AlertsCSV returns the alerts export as a string.
func AlertsCSV(rows []AlertRow) string {
	var buf bytes.Buffer
	_ = WriteAlerts(&buf, rows) // bytes.Buffer writes cannot fail
	return buf.String()
}

// SeriesCSV returns the series export as a string.
func SeriesCSV(points []Point) string {
	var buf bytes.Buffer
	_ = WriteSeries(&buf, points)
	return buf.String()
}

// Filename builds a download name such as "bananapuck-hr-20260314T120000Z.csv".
func Filename(kind string, at time.Time) string {
	return fmt.Sprintf("bananapuck-%s-%s.csv", kind, at.UTC().Format("20060102T150405Z"))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
