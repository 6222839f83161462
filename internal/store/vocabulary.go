package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/DreamCats/ctxportal/internal/errs"
)

// SaveVocabulary stores the serialized lexical vocabulary for a model,
// replacing the previous fit.
func (db *DB) SaveVocabulary(ctx context.Context, model string, payload []byte) error {
	_, err := db.sqlDB.ExecContext(ctx, `
		INSERT INTO lexical_vocabulary (embedding_model, payload, fitted_at) VALUES (?, ?, ?)
		ON CONFLICT(embedding_model) DO UPDATE SET payload = excluded.payload, fitted_at = excluded.fitted_at`,
		model, string(payload), formatTimestamp(db.now()),
	)
	if err != nil {
		return errs.Storage("save vocabulary", err)
	}
	return nil
}

// LoadVocabulary returns the last saved vocabulary for model or ErrNotFound.
func (db *DB) LoadVocabulary(ctx context.Context, model string) ([]byte, error) {
	var payload string
	err := db.sqlDB.QueryRowContext(ctx,
		"SELECT payload FROM lexical_vocabulary WHERE embedding_model = ?", model,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("vocabulary %s: %w", model, ErrNotFound)
	}
	if err != nil {
		return nil, errs.Storage("load vocabulary", err)
	}
	return []byte(payload), nil
}
