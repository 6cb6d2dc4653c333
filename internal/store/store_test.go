package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/HerbHall/bananapuck/pkg/plugin"
)

func tempDB(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New(%q): %v", path, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func countMigrations(t *testing.T, s *SQLiteStore, pluginName string) int {
	t.Helper()
	var count int
	err := s.DB().QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM _migrations WHERE plugin_name = ?", pluginName,
	).Scan(&count)
	if err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	return count
}

func TestNew_creates_database(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNew_invalid_path(t *testing.T) {
	if _, err := New("/nonexistent/path/to/db"); err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestNew_in_memory(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New(:memory:): %v", err)
	}
	defer s.Close()
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestTx_commit_and_rollback(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	if _, err := s.DB().ExecContext(ctx, "CREATE TABLE readings (id INTEGER PRIMARY KEY, metric TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	err := s.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO readings (id, metric) VALUES (1, 'hr')")
		return err
	})
	if err != nil {
		t.Fatalf("Tx commit: %v", err)
	}

	errBoom := errors.New("boom")
	err = s.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO readings (id, metric) VALUES (2, 'temp')"); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("Tx rollback error = %v, want errBoom", err)
	}

	var count int
	if err := s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM readings").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("got %d rows, want 1 (second insert rolled back)", count)
	}
}

func TestMigrate_applies_once(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	calls := 0
	migrations := []plugin.Migration{
		{Version: 1, Description: "create state table", Up: func(tx *sql.Tx) error {
			calls++
			_, err := tx.Exec("CREATE TABLE vitals_state (key TEXT PRIMARY KEY)")
			return err
		}},
		{Version: 2, Description: "add payload column", Up: func(tx *sql.Tx) error {
			calls++
			_, err := tx.Exec("ALTER TABLE vitals_state ADD COLUMN payload TEXT")
			return err
		}},
	}

	for range 2 {
		if err := s.Migrate(ctx, "vitals", migrations); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
	}
	if calls != 2 {
		t.Errorf("Up called %d times, want 2", calls)
	}
	if got := countMigrations(t, s, "vitals"); got != 2 {
		t.Errorf("got %d migration records, want 2", got)
	}
	if _, err := s.DB().ExecContext(ctx, "INSERT INTO vitals_state (key, payload) VALUES ('k', '{}')"); err != nil {
		t.Errorf("insert after migration: %v", err)
	}
}

func TestMigrate_partial_failure_preserves_earlier(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	migrations := []plugin.Migration{
		{Version: 1, Description: "ok migration", Up: func(tx *sql.Tx) error {
			_, err := tx.Exec("CREATE TABLE partial_test (id INTEGER)")
			return err
		}},
		{Version: 2, Description: "bad migration", Up: func(tx *sql.Tx) error {
			_, err := tx.Exec("INVALID SQL")
			return err
		}},
	}

	if err := s.Migrate(ctx, "partial", migrations); err == nil {
		t.Fatal("expected error from partial migration")
	}
	if got := countMigrations(t, s, "partial"); got != 1 {
		t.Errorf("expected 1 committed migration, got %d", got)
	}
}

func TestWAL_mode_enabled(t *testing.T) {
	s := tempDB(t)
	var mode string
	if err := s.DB().QueryRowContext(context.Background(), "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want %q", mode, "wal")
	}
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		name     string
		sequence []string
		wantErr  error
		stored   string
	}{
		{name: "first run", sequence: []string{"0.4.0"}, stored: "0.4.0"},
		{name: "same version", sequence: []string{"0.4.0", "0.4.0"}, stored: "0.4.0"},
		{name: "upgrade", sequence: []string{"0.4.0", "0.5.0"}, stored: "0.5.0"},
		{name: "patch upgrade", sequence: []string{"0.4.0", "0.4.1"}, stored: "0.4.1"},
		{name: "dev passes both ways", sequence: []string{"dev", "0.5.0", "dev"}, stored: "dev"},
		{name: "older binary rejected", sequence: []string{"0.5.0", "0.4.0"}, wantErr: ErrNewerSchema, stored: "0.5.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tempDB(t)
			ctx := context.Background()

			var err error
			for _, v := range tt.sequence {
				if err = s.CheckVersion(ctx, v); err != nil {
					break
				}
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("CheckVersion error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("CheckVersion: %v", err)
			}

			var stored string
			if err := s.DB().QueryRowContext(ctx, "SELECT app_version FROM _schema_meta WHERE id = 1").Scan(&stored); err != nil {
				t.Fatalf("query stored version: %v", err)
			}
			if stored != tt.stored {
				t.Errorf("stored version = %q, want %q", stored, tt.stored)
			}
		})
	}
}
