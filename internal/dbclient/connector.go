package dbclient

import (
	"fmt"
	"time"

	"sheetsync/internal/domain"
)

// DefaultTimeout bounds a single store call when the connection sets none.
const DefaultTimeout = 10 * time.Second

// NewTableStore creates a TableStore for the given database connection.
func NewTableStore(conn *domain.DatabaseConnection) (domain.TableStore, error) {
	switch conn.Driver {
	case domain.DatabaseDriverSQLite:
		return newSQLiteStore(conn)
	case domain.DatabaseDriverMySQL:
		return newSQLTableStore(buildMySQLDSN(conn), mysqlDialect, conn)
	case domain.DatabaseDriverPostgres:
		return newSQLTableStore(buildPostgresDSN(conn), postgresDialect, conn)
	case domain.DatabaseDriverMongoDB:
		return newMongoStore(conn)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", conn.Driver)
	}
}
