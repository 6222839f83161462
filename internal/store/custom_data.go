package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/DreamCats/ctxportal/internal/errs"
)

const customDataColumns = "id, category, key, value, timestamp, phase_name"

// LogCustomData stores value as JSON text under (category, key). Earlier
// rows for the same pair are kept; readers take the latest.
func (db *DB) LogCustomData(ctx context.Context, category, key string, value any) (int64, error) {
	if strings.TrimSpace(category) == "" {
		return 0, errs.Invalid("category", "must not be empty")
	}
	if strings.TrimSpace(key) == "" {
		return 0, errs.Invalid("key", "must not be empty")
	}

	data, err := json.Marshal(value)
	if err != nil {
		return 0, errs.Invalid("value", fmt.Sprintf("not JSON encodable: %v", err))
	}

	var id int64
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		phase, err := currentPhase(ctx, tx)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO custom_data (category, key, value, timestamp, phase_name) VALUES (?, ?, ?, ?, ?)",
			category, key, string(data), formatTimestamp(db.now()), phase,
		)
		if err != nil {
			return fmt.Errorf("failed to insert custom data: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// GetCustomDatum returns one row by id or ErrNotFound
func (db *DB) GetCustomDatum(ctx context.Context, id int64) (*CustomDatum, error) {
	row := db.sqlDB.QueryRowContext(ctx, "SELECT "+customDataColumns+" FROM custom_data WHERE id = ?", id)
	c, err := scanCustomDatum(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("custom data %d: %w", id, ErrNotFound)
	}
	return c, err
}

// GetCustomData returns the latest row for (category, key) or ErrNotFound
func (db *DB) GetCustomData(ctx context.Context, category, key string) (*CustomDatum, error) {
	row := db.sqlDB.QueryRowContext(ctx,
		"SELECT "+customDataColumns+" FROM custom_data WHERE category = ? AND key = ? ORDER BY id DESC LIMIT 1",
		category, key,
	)
	c, err := scanCustomDatum(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("custom data %s/%s: %w", category, key, ErrNotFound)
	}
	return c, err
}

// ListCustomData lists rows of a category, or all rows when category is
// empty, ordered by category, key and id.
func (db *DB) ListCustomData(ctx context.Context, category string) ([]*CustomDatum, error) {
	query := "SELECT " + customDataColumns + " FROM custom_data"
	var args []any
	if category != "" {
		query += " WHERE category = ?"
		args = append(args, category)
	}
	query += " ORDER BY category, key, id"
	return db.queryCustomData(ctx, query, args...)
}

// SearchCustomData does a substring match over key and value text
func (db *DB) SearchCustomData(ctx context.Context, term, category string, limit int) ([]*CustomDatum, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + escapeLike(term) + "%"
	query := "SELECT " + customDataColumns + " FROM custom_data WHERE (key LIKE ? ESCAPE '\\' OR value LIKE ? ESCAPE '\\')"
	args := []any{pattern, pattern}
	if category != "" {
		query += " AND category = ?"
		args = append(args, category)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)
	return db.queryCustomData(ctx, query, args...)
}

// DeleteCustomData removes every row for (category, key) and their
// embeddings. It returns the deleted ids.
func (db *DB) DeleteCustomData(ctx context.Context, category, key string) ([]int64, error) {
	var ids []int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT id FROM custom_data WHERE category = ? AND key = ?", category, key)
		if err != nil {
			return errs.Storage("delete custom data", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return errs.Storage("delete custom data", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return errs.Storage("delete custom data", err)
		}
		if len(ids) == 0 {
			return fmt.Errorf("custom data %s/%s: %w", category, key, ErrNotFound)
		}

		for _, id := range ids {
			if err := deleteItemTx(ctx, tx, KindCustomData, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (db *DB) queryCustomData(ctx context.Context, query string, args ...any) ([]*CustomDatum, error) {
	rows, err := db.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query custom data: %w", err)
	}
	defer rows.Close()

	var out []*CustomDatum
	for rows.Next() {
		c, err := scanCustomDatum(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCustomDatum(s rowScanner) (*CustomDatum, error) {
	var c CustomDatum
	var value, phase sql.NullString
	var ts string
	if err := s.Scan(&c.ID, &c.Category, &c.Key, &value, &ts, &phase); err != nil {
		return nil, err
	}
	t, err := parseTimeString(ts)
	if err != nil {
		return nil, err
	}
	c.Timestamp = t
	c.Value = value.String
	c.PhaseName = phase.String
	return &c, nil
}
