package vitals

import (
	"database/sql"

	"github.com/HerbHall/bananapuck/pkg/plugin"
)

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create vitals state table",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`CREATE TABLE IF NOT EXISTS vitals_state (
					key TEXT PRIMARY KEY,
					payload TEXT NOT NULL,
					updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`)
				return err
			},
		},
	}
}

// Migrations exposes the vitals schema for tools that open the database
// without the plugin registry (the export and report commands).
func Migrations() []plugin.Migration {
	return migrations()
}
