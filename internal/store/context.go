package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// DeleteMarker as a patch value removes the key from a context document.
const DeleteMarker = "__DELETE__"

// ContextDoc selects one of the two single-row context documents.
type ContextDoc string

const (
	ProductContext ContextDoc = "product_context"
	ActiveContext  ContextDoc = "active_context"
)

// ParseContextDoc accepts "product"/"active" and the table names.
func ParseContextDoc(s string) (ContextDoc, error) {
	switch s {
	case "product", string(ProductContext):
		return ProductContext, nil
	case "active", string(ActiveContext):
		return ActiveContext, nil
	}
	return "", fmt.Errorf("unknown context %q", s)
}

func (c ContextDoc) table() string {
	if c == ActiveContext {
		return "active_context"
	}
	return "product_context"
}

// GetContext returns the document, or nil when it was never written.
func (db *DB) GetContext(ctx context.Context, doc ContextDoc) (map[string]any, error) {
	return getContext(ctx, db.sqlDB, doc)
}

func getContext(ctx context.Context, q queryRower, doc ContextDoc) (map[string]any, error) {
	var data sql.NullString
	err := q.QueryRowContext(ctx, "SELECT data FROM "+doc.table()+" WHERE id = 1").Scan(&data)
	if err == sql.ErrNoRows || (err == nil && (!data.Valid || data.String == "")) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", doc, err)
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(data.String), &out); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", doc, err)
	}
	return out, nil
}

// UpdateContext replaces the document with content when it is non-nil, then
// applies patch key by key. The merged document is returned.
func (db *DB) UpdateContext(ctx context.Context, doc ContextDoc, content, patch map[string]any) (map[string]any, error) {
	var merged map[string]any
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getContext(ctx, tx, doc)
		if err != nil {
			return err
		}
		if current == nil {
			current = map[string]any{}
		}
		if content != nil {
			current = make(map[string]any, len(content))
			for k, v := range content {
				current[k] = v
			}
		}
		for k, v := range patch {
			if s, ok := v.(string); ok && s == DeleteMarker {
				delete(current, k)
				continue
			}
			current[k] = v
		}

		data, err := json.Marshal(current)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", doc, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO "+doc.table()+" (id, data) VALUES (1, ?) ON CONFLICT(id) DO UPDATE SET data = excluded.data",
			string(data),
		); err != nil {
			return fmt.Errorf("failed to write %s: %w", doc, err)
		}
		merged = current
		return nil
	})
	return merged, err
}
