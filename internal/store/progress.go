package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/DreamCats/ctxportal/internal/errs"
)

// ProgressFilter narrows GetProgress. Zero values mean no restriction.
type ProgressFilter struct {
	Status   string
	ParentID *int64
	Limit    int
}

// ProgressUpdate carries the fields to change; nil fields are left alone.
type ProgressUpdate struct {
	Status      *string
	Description *string
	ParentID    *int64
}

func (u ProgressUpdate) empty() bool {
	return u.Status == nil && u.Description == nil && u.ParentID == nil
}

const progressColumns = "id, description, status, timestamp, parent_id, phase_name"

// LogProgress inserts a progress entry stamped with the current phase
func (db *DB) LogProgress(ctx context.Context, description, status string, parentID *int64) (int64, error) {
	if strings.TrimSpace(description) == "" {
		return 0, errs.Invalid("description", "must not be empty")
	}
	if strings.TrimSpace(status) == "" {
		status = "TODO"
	}

	var id int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		phase, err := currentPhase(ctx, tx)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO progress (description, status, timestamp, parent_id, phase_name) VALUES (?, ?, ?, ?, ?)",
			description, status, formatTimestamp(db.now()), nullInt64(parentID), phase,
		)
		if err != nil {
			return fmt.Errorf("failed to insert progress: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// GetProgressItem returns one progress entry or ErrNotFound
func (db *DB) GetProgressItem(ctx context.Context, id int64) (*Progress, error) {
	row := db.sqlDB.QueryRowContext(ctx, "SELECT "+progressColumns+" FROM progress WHERE id = ?", id)
	p, err := scanProgress(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("progress %d: %w", id, ErrNotFound)
	}
	return p, err
}

// GetProgress lists progress entries newest first
func (db *DB) GetProgress(ctx context.Context, filter ProgressFilter) ([]*Progress, error) {
	query := "SELECT " + progressColumns + " FROM progress"
	var conds []string
	var args []any
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.ParentID != nil {
		conds = append(conds, "parent_id = ?")
		args = append(args, *filter.ParentID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query progress: %w", err)
	}
	defer rows.Close()

	var out []*Progress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProgress changes the given fields of an existing entry. The
// timestamp and phase are left as logged.
func (db *DB) UpdateProgress(ctx context.Context, id int64, update ProgressUpdate) error {
	if update.empty() {
		return errs.Invalid("update", "at least one field must be provided")
	}
	if update.Description != nil && strings.TrimSpace(*update.Description) == "" {
		return errs.Invalid("description", "must not be empty")
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM progress WHERE id = ?", id).Scan(&exists)
		if err == sql.ErrNoRows {
			return fmt.Errorf("progress %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return errs.Storage("update progress", err)
		}

		var sets []string
		var args []any
		if update.Status != nil {
			sets = append(sets, "status = ?")
			args = append(args, *update.Status)
		}
		if update.Description != nil {
			sets = append(sets, "description = ?")
			args = append(args, *update.Description)
		}
		if update.ParentID != nil {
			sets = append(sets, "parent_id = ?")
			args = append(args, *update.ParentID)
		}
		args = append(args, id)

		if _, err := tx.ExecContext(ctx, "UPDATE progress SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
			return errs.Storage("update progress", err)
		}
		return nil
	})
}

// DeleteProgress removes a progress entry and its embeddings
func (db *DB) DeleteProgress(ctx context.Context, id int64) error {
	return db.deleteItem(ctx, KindProgress, id)
}

func scanProgress(s rowScanner) (*Progress, error) {
	var p Progress
	var ts string
	var parent sql.NullInt64
	var phase sql.NullString
	if err := s.Scan(&p.ID, &p.Description, &p.Status, &ts, &parent, &phase); err != nil {
		return nil, err
	}
	t, err := parseTimeString(ts)
	if err != nil {
		return nil, err
	}
	p.Timestamp = t
	if parent.Valid {
		v := parent.Int64
		p.ParentID = &v
	}
	p.PhaseName = phase.String
	return &p, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
