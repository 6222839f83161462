package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/DreamCats/ctxportal/internal/errs"
)

// PatternFilter narrows GetPatterns
type PatternFilter struct {
	TagsAll []string
	Limit   int
}

const patternColumns = "id, name, description, tags, timestamp, phase_name"

// LogPattern inserts a system pattern stamped with the current phase
func (db *DB) LogPattern(ctx context.Context, name, description string, tags []string) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, errs.Invalid("name", "must not be empty")
	}

	var id int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		phase, err := currentPhase(ctx, tx)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO system_patterns (name, description, tags, timestamp, phase_name) VALUES (?, ?, ?, ?, ?)",
			name, description, joinTags(tags), formatTimestamp(db.now()), phase,
		)
		if err != nil {
			return fmt.Errorf("failed to insert pattern: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// GetPattern returns one pattern or ErrNotFound
func (db *DB) GetPattern(ctx context.Context, id int64) (*Pattern, error) {
	row := db.sqlDB.QueryRowContext(ctx, "SELECT "+patternColumns+" FROM system_patterns WHERE id = ?", id)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pattern %d: %w", id, ErrNotFound)
	}
	return p, err
}

// GetPatterns lists patterns newest first
func (db *DB) GetPatterns(ctx context.Context, filter PatternFilter) ([]*Pattern, error) {
	query := "SELECT " + patternColumns + " FROM system_patterns"
	where, args := tagConditions(filter.TagsAll, nil)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()

	var out []*Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePattern removes a pattern and its embeddings
func (db *DB) DeletePattern(ctx context.Context, id int64) error {
	return db.deleteItem(ctx, KindPattern, id)
}

func scanPattern(s rowScanner) (*Pattern, error) {
	var p Pattern
	var tags, ts string
	var phase sql.NullString
	if err := s.Scan(&p.ID, &p.Name, &p.Description, &tags, &ts, &phase); err != nil {
		return nil, err
	}
	t, err := parseTimeString(ts)
	if err != nil {
		return nil, err
	}
	p.Timestamp = t
	p.Tags = splitTags(tags)
	p.PhaseName = phase.String
	return &p, nil
}
