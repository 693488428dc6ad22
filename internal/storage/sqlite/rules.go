package sqlite

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nostrguard/proxy/internal/rulestore"
)

// ListEnabledOrdered implements rulestore.Repository: the hot path the
// Rule Store Facade calls on every reload.
func (db *DB) ListEnabledOrdered(ctx context.Context) ([]rulestore.Row, error) {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT id, name, query_text, enabled, rule_order, updated_at
		 FROM filter_rules WHERE enabled = 1 ORDER BY rule_order ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rulestore.Row
	for rows.Next() {
		var r rulestore.Row
		var enabled int64
		var updatedAt string
		if err := rows.Scan(&r.ID, &r.Name, &r.QueryText, &enabled, &r.Order, &updatedAt); err != nil {
			return nil, err
		}
		r.Enabled = enabled != 0
		r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRules returns every rule, enabled or not, for the admin view.
func (db *DB) ListRules(ctx context.Context) ([]rulestore.Row, error) {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT id, name, query_text, enabled, rule_order, updated_at
		 FROM filter_rules ORDER BY rule_order ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rulestore.Row
	for rows.Next() {
		var r rulestore.Row
		var enabled int64
		var updatedAt string
		if err := rows.Scan(&r.ID, &r.Name, &r.QueryText, &enabled, &r.Order, &updatedAt); err != nil {
			return nil, err
		}
		r.Enabled = enabled != 0
		r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertRule creates or replaces a rule row, assigning a UUIDv7 id on
// first insert so rows sort roughly in creation order even without the
// rule_order column.
func (db *DB) UpsertRule(ctx context.Context, row rulestore.Row) error {
	if row.ID == "" {
		row.ID = uuid.Must(uuid.NewV7()).String()
	}
	_, err := db.sql.ExecContext(ctx,
		`INSERT INTO filter_rules (id, name, query_text, enabled, rule_order, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name, query_text = excluded.query_text,
		   enabled = excluded.enabled, rule_order = excluded.rule_order,
		   updated_at = excluded.updated_at`,
		row.ID, row.Name, row.QueryText, boolToInt(row.Enabled), row.Order,
		row.UpdatedAt.UTC().Format(time.RFC3339))
	return err
}

// DeleteRule removes a rule by id.
func (db *DB) DeleteRule(ctx context.Context, id string) error {
	_, err := db.sql.ExecContext(ctx, `DELETE FROM filter_rules WHERE id = ?`, id)
	return err
}
