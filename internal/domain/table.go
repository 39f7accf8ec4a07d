package domain

import (
	"context"
	"time"
)

// TableStore is the relational (or document) store holding the synced table.
// Implementations must only ever receive identifiers that already passed
// schema.ValidIdentifier; they quote them again per dialect.
type TableStore interface {
	// Table returns the name of the synced table.
	Table() string

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// EnsureTable creates the table with its system columns if it does not exist.
	EnsureTable(ctx context.Context) error

	// Columns returns the declared columns in declaration order.
	Columns(ctx context.Context) ([]Column, error)

	// AddColumn adds a nullable text column.
	AddColumn(ctx context.Context, name string) error

	// DropColumn removes a column and its data.
	DropColumn(ctx context.Context, name string) error

	// Insert persists a new record with its identity and timestamps.
	Insert(ctx context.Context, rec Record) error

	// UpdateFields applies fields onto an existing record and sets updated_at.
	// Returns false when no record has that identity.
	UpdateFields(ctx context.Context, id string, fields map[string]string, updatedAt time.Time) (bool, error)

	// Get returns one record or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// FindRecentByValue returns the newest record whose column equals value and
	// whose created_at is after createdAfter, or nil when there is none.
	FindRecentByValue(ctx context.Context, column, value string, createdAfter time.Time) (*Record, error)

	// ChangedSince returns records with updated_at strictly after since.
	ChangedSince(ctx context.Context, since time.Time) ([]Record, error)

	// ListIdentities returns every identity currently stored.
	ListIdentities(ctx context.Context) ([]string, error)

	// List returns all records ordered by creation time.
	List(ctx context.Context) ([]Record, error)

	// Delete removes the given identities and returns how many rows went away.
	Delete(ctx context.Context, ids []string) (int64, error)

	// Truncate removes every record.
	Truncate(ctx context.Context) (int64, error)

	// Close releases the connection.
	Close() error
}
