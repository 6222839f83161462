package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/DreamCats/ctxportal/internal/errs"
)

// DecisionFilter narrows GetDecisions. TagsAll requires every tag, TagsAny
// at least one.
type DecisionFilter struct {
	Limit   int
	TagsAll []string
	TagsAny []string
}

const decisionColumns = "id, summary, rationale, tags, timestamp, phase_name"

// LogDecision inserts a decision stamped with the current phase
func (db *DB) LogDecision(ctx context.Context, summary, rationale string, tags []string) (int64, error) {
	if strings.TrimSpace(summary) == "" {
		return 0, errs.Invalid("summary", "must not be empty")
	}

	var id int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		phase, err := currentPhase(ctx, tx)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO decisions (summary, rationale, tags, timestamp, phase_name) VALUES (?, ?, ?, ?, ?)",
			summary, rationale, joinTags(tags), formatTimestamp(db.now()), phase,
		)
		if err != nil {
			return fmt.Errorf("failed to insert decision: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// GetDecision returns one decision or ErrNotFound
func (db *DB) GetDecision(ctx context.Context, id int64) (*Decision, error) {
	row := db.sqlDB.QueryRowContext(ctx, "SELECT "+decisionColumns+" FROM decisions WHERE id = ?", id)
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("decision %d: %w", id, ErrNotFound)
	}
	return d, err
}

// GetDecisions lists decisions newest first
func (db *DB) GetDecisions(ctx context.Context, filter DecisionFilter) ([]*Decision, error) {
	query := "SELECT " + decisionColumns + " FROM decisions"
	where, args := tagConditions(filter.TagsAll, filter.TagsAny)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return queryDecisions(ctx, db.sqlDB, query, args...)
}

// SearchDecisions does a substring match over summary and rationale
func (db *DB) SearchDecisions(ctx context.Context, term string, limit int) ([]*Decision, error) {
	if limit <= 0 {
		limit = 5
	}
	pattern := "%" + escapeLike(term) + "%"
	return queryDecisions(ctx, db.sqlDB,
		"SELECT "+decisionColumns+" FROM decisions WHERE summary LIKE ? ESCAPE '\\' OR rationale LIKE ? ESCAPE '\\' ORDER BY id DESC LIMIT ?",
		pattern, pattern, limit,
	)
}

// DeleteDecision removes a decision and its embeddings
func (db *DB) DeleteDecision(ctx context.Context, id int64) error {
	return db.deleteItem(ctx, KindDecision, id)
}

func queryDecisions(ctx context.Context, q *sql.DB, query string, args ...any) ([]*Decision, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var out []*Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDecision(s rowScanner) (*Decision, error) {
	var d Decision
	var tags, ts string
	var phase sql.NullString
	if err := s.Scan(&d.ID, &d.Summary, &d.Rationale, &tags, &ts, &phase); err != nil {
		return nil, err
	}
	t, err := parseTimeString(ts)
	if err != nil {
		return nil, err
	}
	d.Timestamp = t
	d.Tags = splitTags(tags)
	d.PhaseName = phase.String
	return &d, nil
}

func joinTags(tags []string) string {
	clean := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" {
			clean = append(clean, t)
		}
	}
	return strings.Join(clean, ",")
}

func splitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// tagConditions matches whole tags inside the comma-joined column.
func tagConditions(allOf, anyOf []string) (string, []any) {
	var conds []string
	var args []any
	for _, tag := range allOf {
		conds = append(conds, "(',' || tags || ',') LIKE ? ESCAPE '\\'")
		args = append(args, "%,"+escapeLike(strings.TrimSpace(tag))+",%")
	}
	if len(anyOf) > 0 {
		ors := make([]string, 0, len(anyOf))
		for _, tag := range anyOf {
			ors = append(ors, "(',' || tags || ',') LIKE ? ESCAPE '\\'")
			args = append(args, "%,"+escapeLike(strings.TrimSpace(tag))+",%")
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}
	return strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
