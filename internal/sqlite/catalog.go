package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/ledgerkeep/pkg/types"
)

// reservedPrefix marks the engine's own catalog objects, which are never
// listed or dropped.
const reservedPrefix = "sqlite_"

// ListObjects returns every non-reserved structural object of the main
// schema in creation order.
func (e *Engine) ListObjects(ctx context.Context) ([]types.SchemaObject, error) {
	return listObjects(ctx, e, "main")
}

// ListObjects returns the non-reserved objects of the main schema.
func (t *Tx) ListObjects(ctx context.Context) ([]types.SchemaObject, error) {
	return listObjects(ctx, t, "main")
}

func listObjects(ctx context.Context, r runner, schema string) ([]types.SchemaObject, error) {
	q := fmt.Sprintf(
		`SELECT type, name, tbl_name, COALESCE(sql, '') FROM %s.sqlite_master
		 WHERE name NOT LIKE 'sqlite\_%%' ESCAPE '\' ORDER BY rowid`,
		quoteIdent(schema),
	)
	rows, err := r.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing %s objects: %w", schema, err)
	}
	defer rows.Close()

	var out []types.SchemaObject
	for rows.Next() {
		var o types.SchemaObject
		if err := rows.Scan(&o.Type, &o.Name, &o.TableName, &o.SQL); err != nil {
			return nil, fmt.Errorf("scanning %s object: %w", schema, err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s objects: %w", schema, err)
	}
	return out, nil
}

// CountTables returns the number of non-reserved tables.
func (e *Engine) CountTables(ctx context.Context) (int, error) {
	var n int
	err := e.QueryRow(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\'`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting tables: %w", err)
	}
	return n, nil
}

// TableNames returns the non-reserved table names.
func (e *Engine) TableNames(ctx context.Context) ([]string, error) {
	objs, err := e.ListObjects(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, o := range objs {
		if o.Type == types.ObjectTable {
			names = append(names, o.Name)
		}
	}
	return names, nil
}

// dropOrder drops dependents before the tables they hang off.
var dropOrder = []string{types.ObjectTrigger, types.ObjectView, types.ObjectIndex, types.ObjectTable}

// DropUserObjects drops every non-reserved object inside one transaction and
// returns how many objects were dropped.
func (e *Engine) DropUserObjects(ctx context.Context) (int, error) {
	var n int
	err := e.InTx(ctx, func(tx *Tx) error {
		var err error
		n, err = tx.DropUserObjects(ctx)
		return err
	})
	return n, err
}

// DropUserObjects drops every non-reserved object of the main schema.
func (t *Tx) DropUserObjects(ctx context.Context) (int, error) {
	objs, err := t.ListObjects(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, kind := range dropOrder {
		for _, o := range objs {
			if o.Type != kind || strings.HasPrefix(o.Name, reservedPrefix) {
				continue
			}
			stmt := fmt.Sprintf("DROP %s IF EXISTS main.%s", strings.ToUpper(kind), quoteIdent(o.Name))
			if _, err := t.Exec(ctx, stmt); err != nil {
				return n, fmt.Errorf("dropping %s %s: %w", kind, o.Name, err)
			}
			n++
		}
	}
	return n, nil
}

// Vacuum compacts the store file. It cannot run inside a transaction.
func (e *Engine) Vacuum(ctx context.Context) error {
	if _, err := e.Exec(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// DeleteRow removes a single row by rowid.
func (t *Tx) DeleteRow(ctx context.Context, table string, rowID int64) (int64, error) {
	res, err := t.Exec(ctx, fmt.Sprintf("DELETE FROM main.%s WHERE rowid = ?", quoteIdent(table)), rowID)
	if err != nil {
		return 0, fmt.Errorf("deleting %s row %d: %w", table, rowID, err)
	}
	return res.RowsAffected()
}

// quoteIdent quotes an identifier for interpolation into SQL.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
