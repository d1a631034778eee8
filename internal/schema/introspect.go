package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Table is one user table with its column names in declaration order.
type Table struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// System tables excluded from introspection. The LIKE filter in the query
// already drops the sqlite_ prefix; the denylist guards the exact names that
// have shown up outside that prefix on older databases.
var systemTables = map[string]struct{}{
	"sqlite_sequence": {},
	"sqlite_stat1":    {},
	"sqlite_stat2":    {},
	"sqlite_stat3":    {},
	"sqlite_stat4":    {},
}

type Introspector struct {
	db *sql.DB
}

func NewIntrospector(db *sql.DB) *Introspector {
	return &Introspector{db: db}
}

// Tables enumerates user tables and their columns, ordered by table name.
// The result feeds the generation prompt, so ordering must be stable.
func (i *Introspector) Tables(ctx context.Context) ([]Table, error) {
	names, err := i.tableNames(ctx)
	if err != nil {
		return nil, err
	}

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		columns, err := i.columns(ctx, name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, Table{Name: name, Columns: columns})
	}
	return tables, nil
}

func (i *Introspector) tableNames(ctx context.Context) ([]string, error) {
	query := `
SELECT name
FROM sqlite_master
WHERE type = 'table'
  AND name NOT LIKE 'sqlite_%'
ORDER BY name`

	rows, err := i.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		if _, system := systemTables[name]; system {
			continue
		}
		if strings.HasPrefix(name, "askdb_") {
			// Bookkeeping tables (schema migrations) are not user data.
			continue
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table names: %w", err)
	}
	return names, nil
}

func (i *Introspector) columns(ctx context.Context, table string) ([]string, error) {
	rows, err := i.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("table info for %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column name: %w", err)
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns for %q: %w", table, err)
	}
	return columns, nil
}
