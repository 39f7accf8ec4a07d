package domain

import "time"

// DatabaseDriver represents the type of database engine backing the synced table.
type DatabaseDriver string

const (
	DatabaseDriverMySQL    DatabaseDriver = "mysql"
	DatabaseDriverPostgres DatabaseDriver = "postgres"
	DatabaseDriverMongoDB  DatabaseDriver = "mongodb"
	DatabaseDriverSQLite   DatabaseDriver = "sqlite"
)

// DefaultTable is the table the engine syncs when none is configured.
const DefaultTable = "spreadsheet_data"

// DatabaseConnection holds what is needed to reach the store.
// When DSN is set it is used verbatim and the discrete fields are ignored.
type DatabaseConnection struct {
	Driver   DatabaseDriver `mapstructure:"driver" json:"driver"`
	DSN      string         `mapstructure:"dsn" json:"-"`
	Host     string         `mapstructure:"host" json:"host"` // hostname or file path (sqlite)
	Port     int            `mapstructure:"port" json:"port"` // 0 for sqlite
	Database string         `mapstructure:"database" json:"database"`
	Username string         `mapstructure:"username" json:"username"`
	Password string         `mapstructure:"password" json:"-"`
	SSLMode  string         `mapstructure:"ssl_mode" json:"sslMode"`
	Table    string         `mapstructure:"table" json:"table"`

	// Timeout bounds every individual store call.
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}
