package dbclient

import (
	"fmt"

	"sheetsync/internal/domain"

	_ "github.com/go-sql-driver/mysql"
)

var mysqlDialect = &dialect{
	name:        "mysql",
	placeholder: questionMark,
	quoteChar:   "`",
	listColumns: `SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS
		 WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		 ORDER BY ORDINAL_POSITION`,
	createTable: func(table string) []string {
		return []string{
			fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s` ("+
				"`superjoin_id` VARCHAR(64) NOT NULL PRIMARY KEY, "+
				"`created_at` BIGINT NOT NULL, "+
				"`updated_at` BIGINT NOT NULL, "+
				"INDEX `idx_updated_at` (`updated_at`), "+
				"INDEX `idx_created_at` (`created_at`)"+
				") DEFAULT CHARSET=utf8mb4", table),
		}
	},
}

// buildMySQLDSN constructs a MySQL DSN from a DatabaseConnection.
func buildMySQLDSN(conn *domain.DatabaseConnection) string {
	if conn.DSN != "" {
		return conn.DSN
	}
	port := conn.Port
	if port == 0 {
		port = 3306
	}
	// Format: user:password@tcp(host:port)/dbname?charset=utf8mb4
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4",
		conn.Username, conn.Password, conn.Host, port, conn.Database,
	)
	if conn.SSLMode == "require" {
		dsn += "&tls=true"
	}
	return dsn
}
