package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/HerbHall/bananapuck/internal/config"
	"github.com/HerbHall/bananapuck/internal/export"
	"github.com/HerbHall/bananapuck/internal/server"
	"github.com/HerbHall/bananapuck/internal/store"
	"github.com/HerbHall/bananapuck/internal/vitals"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// offlineFlags are shared by the subcommands that read a saved database
// without starting the server.
type offlineFlags struct {
	config string
	db     string
}

func (o *offlineFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&o.config, "config", "", "path to configuration file")
	fs.StringVar(&o.db, "db", "", "database path (default: database.path from config)")
}

// openVitals loads the persisted vitals state into a detached store.
func (o *offlineFlags) openVitals(ctx context.Context) (*vitals.Store, func(), error) {
	v, err := server.LoadConfig(o.config)
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	vc := vitals.DefaultConfig()
	if err := config.Decode(config.New(v).Sub("plugins.vitals"), &vc); err != nil {
		return nil, nil, fmt.Errorf("vitals configuration: %w", err)
	}

	path := o.db
	if path == "" {
		path = v.GetString("database.path")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, nil, fmt.Errorf("database %q: %w", path, err)
	}

	db, err := store.New(path)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx, "vitals", vitals.Migrations()); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("vitals migrations: %w", err)
	}

	opts := vc.StoreOptions()
	opts.Persister = vitals.NewSQLitePersister(db.DB())
	s := vitals.NewStore(opts)
	if err := s.Load(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("load vitals state: %w", err)
	}
	return s, func() { db.Close() }, nil
}

// runExport writes alert history or one metric's series as CSV.
func runExport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var of offlineFlags
	of.register(fs)
	mode := fs.String("mode", "alerts", "what to export: alerts or history")
	metric := fs.String("metric", "", "metric to export in history mode")
	hours := fs.Float64("hours", 0, "only include the last N hours (0: everything retained)")
	out := fs.String("out", "", `output file ("-" for stdout, default: generated name)`)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var kind string
	switch *mode {
	case "alerts":
		kind = "alerts"
	case "history":
		if *metric == "" {
			fmt.Fprintln(stderr, "export: -metric is required in history mode")
			return 2
		}
		kind = *metric
	default:
		fmt.Fprintf(stderr, "export: unknown mode %q\n", *mode)
		return 2
	}

	ctx := context.Background()
	s, closeDB, err := of.openVitals(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "export: %v\n", err)
		return 1
	}
	defer closeDB()

	window := time.Duration(*hours * float64(time.Hour))
	write := func(w io.Writer) error {
		return export.WriteAlerts(w, vitals.AlertRows(s.HistoryAlerts(window)))
	}
	if *mode == "history" {
		if !slices.Contains(s.Metrics(), *metric) {
			fmt.Fprintf(stderr, "export: unknown metric %q\n", *metric)
			return 1
		}
		write = func(w io.Writer) error {
			return export.WriteSeries(w, vitals.SeriesPoints(s.HistorySeries(*metric, window)))
		}
	}

	if *out == "-" {
		if err := write(stdout); err != nil {
			fmt.Fprintf(stderr, "export: %v\n", err)
			return 1
		}
		return 0
	}

	name := *out
	if name == "" {
		name = export.Filename(kind, time.Now())
	}
	f, err := os.Create(name)
	if err != nil {
		fmt.Fprintf(stderr, "export: %v\n", err)
		return 1
	}
	if err := errors.Join(write(f), f.Close()); err != nil {
		fmt.Fprintf(stderr, "export: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "wrote %s\n", name)
	return 0
}

// runReport prints the latest stored reading per metric and the active
// alert groups.
func runReport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var of offlineFlags
	of.register(fs)
	noColor := fs.Bool("no-color", false, "disable coloured levels")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *noColor {
		color.NoColor = true
	}

	s, closeDB, err := of.openVitals(context.Background())
	if err != nil {
		fmt.Fprintf(stderr, "report: %v\n", err)
		return 1
	}
	defer closeDB()

	if err := writeReport(stdout, s); err != nil {
		fmt.Fprintf(stderr, "report: %v\n", err)
		return 1
	}
	return 0
}

var (
	warningColor = color.New(color.FgYellow, color.Bold)
	dangerColor  = color.New(color.FgRed, color.Bold)
)

// levelText colours warning and danger; colour is dropped automatically
// when stdout is not a terminal.
func levelText(l vitals.Level) string {
	switch l {
	case vitals.LevelWarning:
		return warningColor.Sprint(l.String())
	case vitals.LevelDanger:
		return dangerColor.Sprint(l.String())
	default:
		return l.String()
	}
}

func writeReport(w io.Writer, s *vitals.Store) error {
	readings := tablewriter.NewWriter(w)
	readings.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})
	readings.Header([]string{"Metric", "Latest", "Level", "Points", "At"})
	var rows [][]string
	for _, metric := range s.Metrics() {
		series := s.HistorySeries(metric, 0)
		if len(series) == 0 {
			rows = append(rows, []string{metric, vitals.Placeholder, "", "0", ""})
			continue
		}
		last := series[len(series)-1]
		rows = append(rows, []string{
			metric,
			strconv.FormatFloat(last.Value, 'f', -1, 64),
			levelText(s.Classify(metric, last.Value)),
			strconv.Itoa(len(series)),
			last.Time.UTC().Format(time.RFC3339),
		})
	}
	if err := readings.Bulk(rows); err != nil {
		return err
	}
	if err := readings.Render(); err != nil {
		return err
	}

	active := s.ActiveAlerts()
	if len(active) == 0 {
		_, err := fmt.Fprintln(w, "\nNo active alerts.")
		return err
	}

	fmt.Fprintf(w, "\nActive alerts (%d):\n", len(active))
	alerts := tablewriter.NewWriter(w)
	alerts.Header([]string{"Type", "Level", "Count", "Last", "Message"})
	rows = nil
	for _, g := range active {
		rows = append(rows, []string{
			g.Type,
			levelText(g.Level),
			strconv.Itoa(g.Count),
			g.LastAt.UTC().Format(time.RFC3339),
			g.Message,
		})
	}
	if err := alerts.Bulk(rows); err != nil {
		return err
	}
	return alerts.Render()
}
