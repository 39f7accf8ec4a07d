package dbclient

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"sheetsync/internal/domain"
	"sheetsync/internal/schema"
)

// sqlTableStore is the shared TableStore implementation for MySQL, Postgres, and SQLite.
type sqlTableStore struct {
	db      *sql.DB
	d       *dialect
	table   string
	timeout time.Duration
}

// newSQLTableStore opens a pooled connection for the given driver.
func newSQLTableStore(dsn string, d *dialect, conn *domain.DatabaseConnection) (*sqlTableStore, error) {
	table := conn.Table
	if table == "" {
		table = domain.DefaultTable
	}
	if !schema.ValidIdentifier(table) || len(table) > schema.MaxColumnLength {
		return nil, fmt.Errorf("table name %q: %w", table, domain.ErrInvalidColumn)
	}
	timeout := conn.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	db, err := sql.Open(d.name, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(10 * time.Minute)

	return &sqlTableStore{db: db, d: d, table: table, timeout: timeout}, nil
}

func (s *sqlTableStore) Table() string { return s.table }

func (s *sqlTableStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *sqlTableStore) Close() error {
	return s.db.Close()
}

// ── Structure ──────────────────────────────────────────────

func (s *sqlTableStore) EnsureTable(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	for _, stmt := range s.d.createTable(s.table) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table %s: %w", s.table, err)
		}
	}
	return nil
}

func (s *sqlTableStore) Columns(ctx context.Context) ([]domain.Column, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.columns(ctx)
}

func (s *sqlTableStore) columns(ctx context.Context) ([]domain.Column, error) {
	rows, err := s.db.QueryContext(ctx, s.d.listColumns, s.table)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	var cols []domain.Column
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols = append(cols, schema.Describe(name))
	}
	return cols, rows.Err()
}

func (s *sqlTableStore) AddColumn(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	col, err := s.d.ident(name)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", s.d.mustIdent(s.table), col)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		// Another process may have added it between our read and this write.
		if cols, cerr := s.columns(ctx); cerr == nil && hasColumn(cols, name) {
			return nil
		}
		return fmt.Errorf("alter table: %w", err)
	}
	return nil
}

func (s *sqlTableStore) DropColumn(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	col, err := s.d.ident(name)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", s.d.mustIdent(s.table), col)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("alter table: %w", err)
	}
	return nil
}

// ── Rows ───────────────────────────────────────────────────

func (s *sqlTableStore) Insert(ctx context.Context, rec domain.Record) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	p := &params{d: s.d}
	cols := []string{
		s.d.mustIdent(domain.IdentityColumn),
		s.d.mustIdent(domain.CreatedAtColumn),
		s.d.mustIdent(domain.UpdatedAtColumn),
	}
	marks := []string{p.add(rec.ID), p.add(rec.CreatedAt.UnixMilli()), p.add(rec.UpdatedAt.UnixMilli())}

	for _, k := range sortedKeys(rec.Fields) {
		col, err := s.d.ident(k)
		if err != nil {
			return err
		}
		cols = append(cols, col)
		marks = append(marks, p.add(rec.Fields[k]))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.d.mustIdent(s.table), strings.Join(cols, ", "), strings.Join(marks, ", "))
	if _, err := s.db.ExecContext(ctx, query, p.args...); err != nil {
		return fmt.Errorf("insert %s: %w", rec.ID, err)
	}
	return nil
}

func (s *sqlTableStore) UpdateFields(ctx context.Context, id string, fields map[string]string, updatedAt time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	p := &params{d: s.d}
	setClauses := make([]string, 0, len(fields)+1)
	for _, k := range sortedKeys(fields) {
		col, err := s.d.ident(k)
		if err != nil {
			return false, err
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", col, p.add(fields[k])))
	}
	setClauses = append(setClauses, fmt.Sprintf("%s = %s", s.d.mustIdent(domain.UpdatedAtColumn), p.add(updatedAt.UnixMilli())))

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		s.d.mustIdent(s.table), strings.Join(setClauses, ", "),
		s.d.mustIdent(domain.IdentityColumn), p.add(id))
	result, err := s.db.ExecContext(ctx, query, p.args...)
	if err != nil {
		return false, fmt.Errorf("update %s: %w", id, err)
	}
	if affected, _ := result.RowsAffected(); affected > 0 {
		return true, nil
	}
	// MySQL reports 0 affected rows when nothing changed; confirm existence.
	return s.exists(ctx, id)
}

func (s *sqlTableStore) exists(ctx context.Context, id string) (bool, error) {
	p := &params{d: s.d}
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = %s",
		s.d.mustIdent(s.table), s.d.mustIdent(domain.IdentityColumn), p.add(id))
	var one int
	err := s.db.QueryRowContext(ctx, query, p.args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", id, err)
	}
	return true, nil
}

func (s *sqlTableStore) Get(ctx context.Context, id string) (*domain.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	p := &params{d: s.d}
	where := fmt.Sprintf("%s = %s", s.d.mustIdent(domain.IdentityColumn), p.add(id))
	recs, err := s.selectRecords(ctx, where, "", 1, p.args)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s: %w", id, domain.ErrNotFound)
	}
	return &recs[0], nil
}

func (s *sqlTableStore) FindRecentByValue(ctx context.Context, column, value string, createdAfter time.Time) (*domain.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	col, err := s.d.ident(column)
	if err != nil {
		return nil, err
	}
	p := &params{d: s.d}
	where := fmt.Sprintf("%s = %s AND %s > %s",
		col, p.add(value), s.d.mustIdent(domain.CreatedAtColumn), p.add(createdAfter.UnixMilli()))
	order := s.d.mustIdent(domain.CreatedAtColumn) + " DESC"
	recs, err := s.selectRecords(ctx, where, order, 1, p.args)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

func (s *sqlTableStore) ChangedSince(ctx context.Context, since time.Time) ([]domain.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	p := &params{d: s.d}
	where := fmt.Sprintf("%s > %s", s.d.mustIdent(domain.UpdatedAtColumn), p.add(since.UnixMilli()))
	return s.selectRecords(ctx, where, s.d.mustIdent(domain.UpdatedAtColumn)+" ASC", 0, p.args)
}

func (s *sqlTableStore) List(ctx context.Context) ([]domain.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.selectRecords(ctx, "", s.d.mustIdent(domain.CreatedAtColumn)+" ASC", 0, nil)
}

func (s *sqlTableStore) ListIdentities(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf("SELECT %s FROM %s",
		s.d.mustIdent(domain.IdentityColumn), s.d.mustIdent(s.table))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqlTableStore) Delete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	p := &params{d: s.d}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
		s.d.mustIdent(s.table), s.d.mustIdent(domain.IdentityColumn), p.list(ids))
	result, err := s.db.ExecContext(ctx, query, p.args...)
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

func (s *sqlTableStore) Truncate(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, "DELETE FROM "+s.d.mustIdent(s.table))
	if err != nil {
		return 0, fmt.Errorf("truncate: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// selectRecords reads full rows. Column names come from the result set, so
// columns added by a concurrent schema sync are picked up without a reload.
func (s *sqlTableStore) selectRecords(ctx context.Context, where, orderBy string, limit int, args []any) ([]domain.Record, error) {
	query := "SELECT * FROM " + s.d.mustIdent(s.table)
	if where != "" {
		query += " WHERE " + where
	}
	if orderBy != "" {
		query += " ORDER BY " + orderBy
	}
	if limit > 0 {
		query += " LIMIT " + strconv.Itoa(limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	var out []domain.Record
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rec, err := toRecord(cols, values)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	return out, nil
}

// toRecord maps a scanned row onto a Record. NULL user cells are omitted.
func toRecord(cols []string, values []any) (domain.Record, error) {
	rec := domain.Record{Fields: make(map[string]string, len(cols))}
	for i, name := range cols {
		v := values[i]
		switch name {
		case domain.IdentityColumn:
			rec.ID = formatValue(v)
		case domain.CreatedAtColumn:
			ms, err := toInt64(v)
			if err != nil {
				return rec, fmt.Errorf("created_at: %w", err)
			}
			rec.CreatedAt = time.UnixMilli(ms)
		case domain.UpdatedAtColumn:
			ms, err := toInt64(v)
			if err != nil {
				return rec, fmt.Errorf("updated_at: %w", err)
			}
			rec.UpdatedAt = time.UnixMilli(ms)
		default:
			if v == nil {
				continue
			}
			rec.Fields[name] = formatValue(v)
		}
	}
	return rec, nil
}

// formatValue converts a database value to text.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case string:
		return val
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}

// toInt64 reads a BIGINT that drivers hand back as int64 or, in MySQL's text
// protocol, as bytes.
func toInt64(v any) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case int32:
		return int64(val), nil
	case int:
		return int64(val), nil
	case float64:
		return int64(val), nil
	case []byte:
		return strconv.ParseInt(string(val), 10, 64)
	case string:
		return strconv.ParseInt(val, 10, 64)
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func hasColumn(cols []domain.Column, name string) bool {
	for _, c := range cols {
		if c.Name == name {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
