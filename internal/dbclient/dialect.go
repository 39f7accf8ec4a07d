package dbclient

import (
	"fmt"
	"strings"

	"sheetsync/internal/schema"
)

// dialect captures the statement differences between the SQL backends.
// Identifiers are validated before quoting; values always travel as bind
// parameters.
type dialect struct {
	// name is the database/sql driver name.
	name string

	// placeholder returns the bind marker for the n-th (1-based) argument.
	placeholder func(n int) string

	// quoteChar wraps identifiers.
	quoteChar string

	// listColumns lists column names of one table in declaration order.
	// It takes the table name as its only argument.
	listColumns string

	// createTable returns the statements that create the synced table.
	createTable func(table string) []string
}

// ident validates and quotes an identifier.
func (d *dialect) ident(name string) (string, error) {
	if !schema.ValidIdentifier(name) {
		return "", fmt.Errorf("identifier %q: invalid", name)
	}
	if len(name) > schema.MaxColumnLength {
		return "", fmt.Errorf("identifier %q: longer than %d bytes", name, schema.MaxColumnLength)
	}
	return d.quoteChar + name + d.quoteChar, nil
}

// mustIdent quotes identifiers that are compile-time constants.
func (d *dialect) mustIdent(name string) string {
	q, err := d.ident(name)
	if err != nil {
		panic(err)
	}
	return q
}

// params accumulates bind arguments and hands out matching placeholders.
type params struct {
	d    *dialect
	args []any
}

func (p *params) add(v any) string {
	p.args = append(p.args, v)
	return p.d.placeholder(len(p.args))
}

func (p *params) list(values []string) string {
	marks := make([]string, len(values))
	for i, v := range values {
		marks[i] = p.add(v)
	}
	return strings.Join(marks, ", ")
}

func questionMark(int) string { return "?" }

func dollarN(n int) string { return fmt.Sprintf("$%d", n) }
