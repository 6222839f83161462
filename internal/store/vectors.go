package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/DreamCats/ctxportal/internal/errs"
	"github.com/DreamCats/ctxportal/internal/logging"
)

// VectorStore persists embeddings in item_embeddings, one row per
// (item_type, item_id, embedding_model).
type VectorStore struct {
	db *DB
}

// NewVectorStore creates a new vector store
func NewVectorStore(db *DB) *VectorStore {
	return &VectorStore{db: db}
}

// UpsertResult reports a batch write. Orphaned counts items whose source row
// was deleted before the batch committed; no vector is written for them.
type UpsertResult struct {
	Written  int
	Orphaned int
}

// VectorScan is the outcome of QueryByProvider. Skipped counts rows whose
// blob could not be decoded at the requested dimension.
type VectorScan struct {
	Rows    []Embedding
	Skipped int
}

// Upsert writes a single embedding
func (v *VectorStore) Upsert(ctx context.Context, e Embedding) (UpsertResult, error) {
	return v.UpsertBatch(ctx, []Embedding{e})
}

// UpsertBatch replaces the rows for every embedding in one transaction.
// Either all rows commit or none do.
func (v *VectorStore) UpsertBatch(ctx context.Context, batch []Embedding) (UpsertResult, error) {
	if len(batch) == 0 {
		return UpsertResult{}, nil
	}
	if err := validateBatch(batch); err != nil {
		return UpsertResult{}, err
	}
	return v.writeBatch(ctx, batch, nil)
}

// ReplaceKind swaps every vector of one kind under model for batch in a
// single transaction, so readers see either the old set or the new one. An
// empty batch clears the kind.
func (v *VectorStore) ReplaceKind(ctx context.Context, model string, kind ItemKind, batch []Embedding) (UpsertResult, error) {
	if model == "" {
		return UpsertResult{}, errs.Invalid("embedding_model", "must not be empty")
	}
	if _, err := ParseKind(string(kind)); err != nil {
		return UpsertResult{}, err
	}
	if err := validateBatch(batch); err != nil {
		return UpsertResult{}, err
	}
	for _, e := range batch {
		if e.Model != model || e.Kind != kind {
			return UpsertResult{}, errs.Invalid("batch", fmt.Sprintf("%s %d under %s does not belong to %s/%s", e.Kind, e.ItemID, e.Model, kind, model))
		}
	}

	return v.writeBatch(ctx, batch, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM item_embeddings WHERE embedding_model = ? AND item_type = ?", model, string(kind),
		); err != nil {
			return fmt.Errorf("failed to clear %s vectors: %w", kind, err)
		}
		return nil
	})
}

func validateBatch(batch []Embedding) error {
	for i := range batch {
		if len(batch[i].Vector) == 0 {
			return errs.Invalid("vector", fmt.Sprintf("empty vector for %s %d", batch[i].Kind, batch[i].ItemID))
		}
		if batch[i].Model == "" {
			return errs.Invalid("embedding_model", "must not be empty")
		}
	}
	return nil
}

// writeBatch inserts batch in one transaction, after running prepare in
// the same transaction when it is set.
func (v *VectorStore) writeBatch(ctx context.Context, batch []Embedding, prepare func(tx *sql.Tx) error) (UpsertResult, error) {
	var result UpsertResult
	now := v.db.now()
	err := v.db.withTx(ctx, func(tx *sql.Tx) error {
		if prepare != nil {
			if err := prepare(tx); err != nil {
				return err
			}
		}

		stmts := make(map[ItemKind]*sql.Stmt)
		defer func() {
			for _, s := range stmts {
				s.Close()
			}
		}()

		for _, e := range batch {
			stmt, ok := stmts[e.Kind]
			if !ok {
				// Insert only while the source row exists, so a delete that
				// raced a slow encode leaves no orphan behind.
				var err error
				stmt, err = tx.PrepareContext(ctx, `
					INSERT OR REPLACE INTO item_embeddings
						(item_type, item_id, embedding_model, embedding, text_content, created_at)
					SELECT ?, ?, ?, ?, ?, ?
					WHERE EXISTS (SELECT 1 FROM `+e.Kind.table()+` WHERE id = ?)`)
				if err != nil {
					return fmt.Errorf("failed to prepare statement: %w", err)
				}
				stmts[e.Kind] = stmt
			}

			created := e.CreatedAt
			if created.IsZero() {
				created = now
			}
			res, err := stmt.ExecContext(ctx,
				string(e.Kind), e.ItemID, e.Model, EncodeVector(e.Vector), e.TextContent, formatTimestamp(created), e.ItemID,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert %s %d: %w", e.Kind, e.ItemID, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				result.Orphaned++
				continue
			}
			result.Written++
		}
		return nil
	})
	if err != nil {
		return UpsertResult{}, errs.Storage("upsert embeddings", err)
	}
	return result, nil
}

// Get returns the stored embedding for one item under one model, or
// ErrNotFound.
func (v *VectorStore) Get(ctx context.Context, kind ItemKind, itemID int64, model string) (*Embedding, error) {
	row := v.db.sqlDB.QueryRowContext(ctx, `
		SELECT item_type, item_id, embedding_model, embedding, text_content, created_at
		FROM item_embeddings WHERE item_type = ? AND item_id = ? AND embedding_model = ?`,
		string(kind), itemID, model,
	)
	var e Embedding
	var blob []byte
	var text sql.NullString
	var created string
	var itemType string
	if err := row.Scan(&itemType, &e.ItemID, &e.Model, &blob, &text, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("embedding %s %d %s: %w", kind, itemID, model, ErrNotFound)
		}
		return nil, errs.Storage("get embedding", err)
	}
	vec, err := DecodeVector(blob, 0)
	if err != nil {
		return nil, errs.Storage("get embedding", err)
	}
	e.Kind = ItemKind(itemType)
	e.Vector = vec
	e.TextContent = text.String
	if e.CreatedAt, err = parseTimeString(created); err != nil {
		return nil, errs.Storage("get embedding", err)
	}
	return &e, nil
}

// QueryByProvider scans all vectors stored under model, optionally limited to
// kinds. Rows whose blob is not a whole number of float64s, or whose length
// differs from dimension (when dimension > 0), are skipped and counted.
func (v *VectorStore) QueryByProvider(ctx context.Context, model string, kinds []ItemKind, dimension int) (*VectorScan, error) {
	query := "SELECT item_type, item_id, embedding, text_content FROM item_embeddings WHERE embedding_model = ?"
	args := []any{model}
	if len(kinds) > 0 {
		marks := make([]string, len(kinds))
		for i, k := range kinds {
			marks[i] = "?"
			args = append(args, string(k))
		}
		query += " AND item_type IN (" + strings.Join(marks, ", ") + ")"
	}
	query += " ORDER BY item_type, item_id"

	rows, err := v.db.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Storage("scan embeddings", err)
	}
	defer rows.Close()

	scan := &VectorScan{}
	for rows.Next() {
		var itemType string
		var itemID int64
		var blob []byte
		var text sql.NullString
		if err := rows.Scan(&itemType, &itemID, &blob, &text); err != nil {
			return nil, errs.Storage("scan embeddings", err)
		}

		vec, err := DecodeVector(blob, dimension)
		if err != nil {
			scan.Skipped++
			logging.Warn("Skipping malformed embedding", map[string]interface{}{
				"item_type": itemType,
				"item_id":   itemID,
				"model":     model,
				"reason":    err.Error(),
			})
			continue
		}

		scan.Rows = append(scan.Rows, Embedding{
			Kind:        ItemKind(itemType),
			ItemID:      itemID,
			Model:       model,
			Vector:      vec,
			TextContent: text.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("scan embeddings", err)
	}

	return scan, nil
}

// Count returns the number of vectors stored under model
func (v *VectorStore) Count(ctx context.Context, model string) (int, error) {
	var n int
	if err := v.db.sqlDB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM item_embeddings WHERE embedding_model = ?", model,
	).Scan(&n); err != nil {
		return 0, errs.Storage("count embeddings", err)
	}
	return n, nil
}

// CountForItem returns the number of rows for (kind, id) across all models
func (v *VectorStore) CountForItem(ctx context.Context, kind ItemKind, itemID int64) (int, error) {
	var n int
	if err := v.db.sqlDB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM item_embeddings WHERE item_type = ? AND item_id = ?", string(kind), itemID,
	).Scan(&n); err != nil {
		return 0, errs.Storage("count embeddings", err)
	}
	return n, nil
}

// EncodeVector serializes components as consecutive little-endian float64s.
func EncodeVector(vector []float64) []byte {
	buf := make([]byte, len(vector)*8)
	for i, f := range vector {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector. A non-zero dimension must
// match the decoded length.
func DecodeVector(blob []byte, dimension int) ([]float64, error) {
	if len(blob) == 0 || len(blob)%8 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 8", len(blob))
	}
	n := len(blob) / 8
	if dimension > 0 && n != dimension {
		return nil, fmt.Errorf("dimension mismatch: blob has %d components, want %d", n, dimension)
	}

	vector := make([]float64, n)
	for i := range vector {
		vector[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[i*8:]))
	}
	return vector, nil
}
