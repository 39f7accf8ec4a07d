package dbclient

import (
	"fmt"
	"strings"

	"sheetsync/internal/domain"

	_ "modernc.org/sqlite"
)

var sqliteDialect = &dialect{
	name:        "sqlite",
	placeholder: questionMark,
	quoteChar:   `"`,
	listColumns: `SELECT name FROM pragma_table_info(?) ORDER BY cid`,
	createTable: func(table string) []string {
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s" (
				"superjoin_id" TEXT PRIMARY KEY NOT NULL,
				"created_at" INTEGER NOT NULL,
				"updated_at" INTEGER NOT NULL
			)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "idx_%s_updated_at" ON "%s" ("updated_at")`, table, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "idx_%s_created_at" ON "%s" ("created_at")`, table, table),
		}
	},
}

// buildSQLiteDSN opens the file in WAL mode with a busy timeout for concurrent access.
func buildSQLiteDSN(conn *domain.DatabaseConnection) string {
	if conn.DSN != "" {
		return conn.DSN
	}
	path := conn.Host
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// newSQLiteStore creates a table store on a SQLite file.
func newSQLiteStore(conn *domain.DatabaseConnection) (*sqlTableStore, error) {
	s, err := newSQLTableStore(buildSQLiteDSN(conn), sqliteDialect, conn)
	if err != nil {
		return nil, err
	}
	// One connection: SQLite has a single writer and extra ones hit SQLITE_BUSY.
	s.db.SetMaxOpenConns(1)
	return s, nil
}
