package domain

import (
	"encoding/json"
	"time"
)

// Reserved physical column names. They are owned by the engine and never
// written by ordinary edit traffic.
const (
	IdentityColumn  = "superjoin_id"
	CreatedAtColumn = "created_at"
	UpdatedAtColumn = "updated_at"
)

// Record is one logical row of the synced table.
// Fields maps normalized column name → text value; NULL cells are omitted.
type Record struct {
	ID        string            `json:"superjoin_id"`
	Fields    map[string]string `json:"-"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// MarshalJSON flattens the record the way the source expects it: user fields
// side by side with the identity and the two timestamps.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		out[k] = v
	}
	out[IdentityColumn] = r.ID
	out["createdAt"] = r.CreatedAt.UTC().Format(time.RFC3339Nano)
	out["updatedAt"] = r.UpdatedAt.UTC().Format(time.RFC3339Nano)
	return json.Marshal(out)
}

// SyncRequest is an inbound edit from the source: the header row as the source
// currently sees it plus the values of one row keyed by raw header.
type SyncRequest struct {
	Headers []string       `json:"headers"`
	Row     map[string]any `json:"row"`
}

// IngestStatus is the outcome of ingesting one row.
type IngestStatus string

const (
	StatusCreated IngestStatus = "created"
	StatusUpdated IngestStatus = "updated"
	StatusMerged  IngestStatus = "merged"
	StatusSkipped IngestStatus = "skipped"
	StatusQueued  IngestStatus = "queued"
)

// IngestResult is returned to the source so it can learn the assigned identity.
type IngestResult struct {
	Status   IngestStatus `json:"status"`
	Identity string       `json:"identity,omitempty"`
	JobID    string       `json:"jobId,omitempty"`
}

// CellUpdate is a single-cell edit coming from the dashboard.
type CellUpdate struct {
	Identity string `json:"superjoin_id"`
	Column   string `json:"column"`
	Value    any    `json:"value"`
}

// ReconcileRequest carries the authoritative state of the source.
type ReconcileRequest struct {
	ActiveIdentities []string `json:"activeIdentities"`
	ActiveColumns    []string `json:"activeColumns"`
}

// OpFailure describes one reconciliation operation that did not complete.
type OpFailure struct {
	Operation string `json:"operation"` // "truncate" | "delete_rows" | "drop_column"
	Target    string `json:"target"`
	Error     string `json:"error"`
}

// ReconcileResult summarizes a prune run.
type ReconcileResult struct {
	RowsDeleted    int64       `json:"rowsDeleted"`
	Truncated      bool        `json:"truncated"`
	ColumnsDropped []string    `json:"columnsDropped"`
	Failures       []OpFailure `json:"failures,omitempty"`
}

// PushPayload is what the outbound notifier sends to the source.
type PushPayload struct {
	Updates  []Record `json:"updates"`
	ValidIDs []string `json:"valid_ids"`
}
