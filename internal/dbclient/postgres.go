package dbclient

import (
	"fmt"

	"sheetsync/internal/domain"

	_ "github.com/lib/pq"
)

var postgresDialect = &dialect{
	name:        "postgres",
	placeholder: dollarN,
	quoteChar:   `"`,
	listColumns: `SELECT column_name FROM information_schema.columns
		 WHERE table_schema = current_schema() AND table_name = $1
		 ORDER BY ordinal_position`,
	createTable: func(table string) []string {
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s" (
				"superjoin_id" VARCHAR(64) PRIMARY KEY,
				"created_at" BIGINT NOT NULL,
				"updated_at" BIGINT NOT NULL
			)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "idx_%s_updated_at" ON "%s" ("updated_at")`, table, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "idx_%s_created_at" ON "%s" ("created_at")`, table, table),
		}
	},
}

// buildPostgresDSN constructs a Postgres connection string from a DatabaseConnection.
func buildPostgresDSN(conn *domain.DatabaseConnection) string {
	if conn.DSN != "" {
		return conn.DSN
	}
	port := conn.Port
	if port == 0 {
		port = 5432
	}
	sslMode := conn.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		conn.Host, port, conn.Username, conn.Password, conn.Database, sslMode,
	)
}
