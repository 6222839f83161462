package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/DreamCats/ctxportal/internal/errs"
)

// ListIDs returns every id of a kind in ascending order.
func (db *DB) ListIDs(ctx context.Context, kind ItemKind) ([]int64, error) {
	rows, err := db.sqlDB.QueryContext(ctx, "SELECT id FROM "+kind.table()+" ORDER BY id")
	if err != nil {
		return nil, errs.Storage("list "+string(kind), err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Storage("list "+string(kind), err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("list "+string(kind), err)
	}
	return ids, nil
}

// GetItem loads a record of any kind. A missing row yields (nil, nil) so
// callers hydrating stale references can drop it without error handling.
func (db *DB) GetItem(ctx context.Context, kind ItemKind, id int64) (Record, error) {
	var (
		rec Record
		err error
	)
	switch kind {
	case KindDecision:
		rec, err = db.GetDecision(ctx, id)
	case KindProgress:
		rec, err = db.GetProgressItem(ctx, id)
	case KindPattern:
		rec, err = db.GetPattern(ctx, id)
	case KindCustomData:
		rec, err = db.GetCustomDatum(ctx, id)
	default:
		return nil, fmt.Errorf("unknown item type %q", kind)
	}
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Storage("get "+string(kind), err)
	}
	return rec, nil
}

func (db *DB) deleteItem(ctx context.Context, kind ItemKind, id int64) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return deleteItemTx(ctx, tx, kind, id)
	})
}

// deleteItemTx removes the source row and prunes its vectors for every
// embedding model.
func deleteItemTx(ctx context.Context, tx *sql.Tx, kind ItemKind, id int64) error {
	res, err := tx.ExecContext(ctx, "DELETE FROM "+kind.table()+" WHERE id = ?", id)
	if err != nil {
		return errs.Storage("delete "+string(kind), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM item_embeddings WHERE item_type = ? AND item_id = ?", string(kind), id,
	); err != nil {
		return errs.Storage("prune embeddings", err)
	}
	return nil
}
