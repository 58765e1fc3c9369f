package sqlite

import (
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the database at path and creates the schema if needed.
// File databases run in WAL mode with a 5s busy timeout for concurrent batch
// writers.
func InitDB(path string) (*sql.DB, error) {
	dsn := path
	if !strings.HasPrefix(path, ":memory:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		dsn = path + sep + "_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS corrections (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		doc_type        TEXT NOT NULL,
		field_name      TEXT NOT NULL,
		previous_value  TEXT NOT NULL,
		corrected_value TEXT NOT NULL,
		created_at      DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_corrections_type_date ON corrections(doc_type, created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
