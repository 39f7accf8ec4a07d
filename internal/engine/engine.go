// Package engine turns one inbound source row into a store write. A row
// carrying an identity updates that record; a row without one is merged into a
// record created moments ago with the same primary value, or becomes a new
// record.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"sheetsync/internal/domain"
	"sheetsync/internal/schema"

	"github.com/google/uuid"
)

// DefaultMergeWindow is how long a freshly created record absorbs identity-less
// rows with the same primary value.
const DefaultMergeWindow = 15 * time.Second

// Config tunes the engine.
type Config struct {
	MergeWindow time.Duration `mapstructure:"merge_window"`
}

// DecisionKind is the branch taken for one row.
type DecisionKind int

const (
	DecideCreate DecisionKind = iota
	DecideUpdate
	DecideMerge
)

func (k DecisionKind) String() string {
	switch k {
	case DecideCreate:
		return "create"
	case DecideUpdate:
		return "update"
	case DecideMerge:
		return "merge"
	}
	return "unknown"
}

// Decision is the outcome of Decide: what to do with a row and on which record.
type Decision struct {
	Kind     DecisionKind
	Identity string            // target record; empty for Create
	Fields   map[string]string // normalized column → text, identity stripped
	Primary  string            // primary column used for the merge lookup, if any
}

// Engine applies source rows to the store.
type Engine struct {
	store  domain.TableStore
	schema *schema.Synchronizer
	logger *log.Logger
	window time.Duration
	now    func() time.Time
	newID  func() string
}

// New creates an Engine. If logger is nil, a default logger writing to stderr
// is used.
func New(store domain.TableStore, sync *schema.Synchronizer, cfg Config, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	window := cfg.MergeWindow
	if window <= 0 {
		window = DefaultMergeWindow
	}
	return &Engine{
		store:  store,
		schema: sync,
		logger: logger,
		window: window,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

// SetClock replaces the time source.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// MergeWindow returns the configured merge window.
func (e *Engine) MergeWindow() time.Duration { return e.window }

// Ingest synchronizes the schema with the request's headers and applies the row.
// Schema errors abort before any row write.
func (e *Engine) Ingest(ctx context.Context, req domain.SyncRequest) (domain.IngestResult, error) {
	snap, err := e.schema.EnsureSchema(ctx, req.Headers)
	if err != nil {
		return domain.IngestResult{}, fmt.Errorf("ensure schema: %w", err)
	}

	d, err := e.Decide(ctx, snap, req)
	if err != nil {
		return domain.IngestResult{}, err
	}
	return e.Apply(ctx, d)
}

// Decide picks the branch for a row against the given schema snapshot. It
// reads the store but never writes.
func (e *Engine) Decide(ctx context.Context, snap domain.SchemaSnapshot, req domain.SyncRequest) (Decision, error) {
	identity, fields := SplitRow(snap, req.Row)

	if identity != "" {
		return Decision{Kind: DecideUpdate, Identity: identity, Fields: fields}, nil
	}

	d := Decision{Kind: DecideCreate, Fields: fields}
	primary := PrimaryColumn(snap, req.Headers)
	if primary == "" {
		return d, nil
	}
	d.Primary = primary

	value, ok := fields[primary]
	if !ok || value == "" {
		return d, nil
	}

	recent, err := e.store.FindRecentByValue(ctx, primary, value, e.now().Add(-e.window))
	if err != nil {
		return Decision{}, fmt.Errorf("merge lookup on %s: %w", primary, err)
	}
	if recent != nil {
		d.Kind = DecideMerge
		d.Identity = recent.ID
	}
	return d, nil
}

// Apply executes a decision.
func (e *Engine) Apply(ctx context.Context, d Decision) (domain.IngestResult, error) {
	now := e.now()

	switch d.Kind {
	case DecideUpdate, DecideMerge:
		ok, err := e.store.UpdateFields(ctx, d.Identity, d.Fields, now)
		if err != nil {
			return domain.IngestResult{}, fmt.Errorf("%s %s: %w", d.Kind, d.Identity, err)
		}
		if !ok {
			if d.Kind == DecideUpdate {
				// Unknown identity: never insert under a foreign identity.
				e.logger.Printf("skip: identity %s not found", d.Identity)
				return domain.IngestResult{Status: domain.StatusSkipped, Identity: d.Identity}, nil
			}
			// The merge target vanished (pruned) between lookup and write.
			return e.create(ctx, d.Fields, now)
		}
		if d.Kind == DecideMerge {
			e.logger.Printf("merged into %s on %s", d.Identity, d.Primary)
			return domain.IngestResult{Status: domain.StatusMerged, Identity: d.Identity}, nil
		}
		return domain.IngestResult{Status: domain.StatusUpdated, Identity: d.Identity}, nil

	case DecideCreate:
		return e.create(ctx, d.Fields, now)
	}
	return domain.IngestResult{}, fmt.Errorf("unknown decision %d", d.Kind)
}

func (e *Engine) create(ctx context.Context, fields map[string]string, now time.Time) (domain.IngestResult, error) {
	rec := domain.Record{
		ID:        e.newID(),
		Fields:    fields,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.Insert(ctx, rec); err != nil {
		return domain.IngestResult{}, fmt.Errorf("create: %w", err)
	}
	e.logger.Printf("created %s", rec.ID)
	return domain.IngestResult{Status: domain.StatusCreated, Identity: rec.ID}, nil
}

// SplitRow normalizes a raw row against the snapshot. It returns the identity
// (if the row carries one) and the user fields. Keys that are not user columns
// of the snapshot are dropped.
func SplitRow(snap domain.SchemaSnapshot, row map[string]any) (string, map[string]string) {
	user := make(map[string]bool)
	for _, name := range snap.UserColumns() {
		user[name] = true
	}

	var identity string
	fields := make(map[string]string, len(row))
	for key, raw := range row {
		if schema.IsIdentity(key) {
			identity = strings.TrimSpace(Text(raw))
			continue
		}
		if schema.IsReserved(key) {
			continue
		}
		name := schema.Normalize(key)
		if !user[name] {
			continue
		}
		fields[name] = Text(raw)
	}
	return identity, fields
}

// PrimaryColumn returns the first header that normalizes to a user column of
// the snapshot, or "" when there is none.
func PrimaryColumn(snap domain.SchemaSnapshot, headers []string) string {
	for _, h := range headers {
		if strings.TrimSpace(h) == "" || schema.IsReserved(h) {
			continue
		}
		name := schema.Normalize(h)
		for _, c := range snap.Columns {
			if c.Name == name && c.Role == domain.RoleUser {
				return name
			}
		}
	}
	return ""
}

// Text renders a source cell value as stored text. Numbers never use exponent
// notation; nil becomes the empty string.
func Text(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
