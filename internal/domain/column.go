package domain

// ColumnRole separates engine-owned columns from user data columns.
type ColumnRole string

const (
	RoleIdentity        ColumnRole = "identity"
	RoleSystemTimestamp ColumnRole = "system-timestamp"
	RoleUser            ColumnRole = "user"
)

// ColumnKind is the storage kind of a column. User columns are always text so
// that values from the source are never coerced.
type ColumnKind string

const (
	KindIdentityKey ColumnKind = "identity-key"
	KindTimestamp   ColumnKind = "timestamp"
	KindText        ColumnKind = "text"
)

// Column describes one column of the synced table.
type Column struct {
	Name     string     `json:"name"`
	Kind     ColumnKind `json:"kind"`
	Nullable bool       `json:"nullable"`
	Role     ColumnRole `json:"role"`
}

// UserColumn returns the descriptor for a nullable text data column.
func UserColumn(name string) Column {
	return Column{Name: name, Kind: KindText, Nullable: true, Role: RoleUser}
}

// SystemColumns returns the engine-owned columns in declaration order.
func SystemColumns() []Column {
	return []Column{
		{Name: IdentityColumn, Kind: KindIdentityKey, Role: RoleIdentity},
		{Name: CreatedAtColumn, Kind: KindTimestamp, Role: RoleSystemTimestamp},
		{Name: UpdatedAtColumn, Kind: KindTimestamp, Role: RoleSystemTimestamp},
	}
}

// SchemaSnapshot is the ordered column set currently declared on the store.
type SchemaSnapshot struct {
	Table   string   `json:"table"`
	Columns []Column `json:"columns"`
}

// Has reports whether the snapshot declares a column with the given name.
func (s SchemaSnapshot) Has(name string) bool {
	for _, c := range s.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// UserColumns returns only the data columns, in declaration order.
func (s SchemaSnapshot) UserColumns() []string {
	var names []string
	for _, c := range s.Columns {
		if c.Role == RoleUser {
			names = append(names, c.Name)
		}
	}
	return names
}
