package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PhaseSequence is the fixed development lifecycle, in order.
var PhaseSequence = []string{
	"research",
	"specification",
	"design",
	"architecture",
	"implementation",
	"testing",
	"security review",
	"qa validation",
	"integration",
	"deployment",
	"documentation",
	"project complete",
}

const (
	PhasePending  = "pending"
	PhaseActive   = "active"
	PhaseComplete = "complete"
)

// seedPhases inserts missing phases and activates the first one when none is
// active.
func (db *DB) seedPhases(ctx context.Context) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		for i, name := range PhaseSequence {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO phases (name, position, status) VALUES (?, ?, ?)",
				name, i, PhasePending,
			); err != nil {
				return fmt.Errorf("insert phase %s: %w", name, err)
			}
		}

		var active int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM phases WHERE status = ?", PhaseActive).Scan(&active); err != nil {
			return fmt.Errorf("count active phases: %w", err)
		}
		if active > 0 {
			return nil
		}

		// A finished lifecycle has no active phase and stays that way.
		var pending int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM phases WHERE status = ?", PhasePending).Scan(&pending); err != nil {
			return fmt.Errorf("count pending phases: %w", err)
		}
		if pending != len(PhaseSequence) {
			return nil
		}

		_, err := tx.ExecContext(ctx, "UPDATE phases SET status = ? WHERE name = ?", PhaseActive, PhaseSequence[0])
		return err
	})
}

// CurrentPhase returns the active phase, or the last completed one once the
// lifecycle has finished.
func (db *DB) CurrentPhase(ctx context.Context) (string, error) {
	return currentPhase(ctx, db.sqlDB)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func currentPhase(ctx context.Context, q queryRower) (string, error) {
	var name string
	err := q.QueryRowContext(ctx,
		"SELECT name FROM phases WHERE status = ? ORDER BY position LIMIT 1", PhaseActive,
	).Scan(&name)
	if err == nil {
		return name, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to fetch current phase: %w", err)
	}

	err = q.QueryRowContext(ctx,
		"SELECT name FROM phases WHERE status = ? ORDER BY position DESC LIMIT 1", PhaseComplete,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return PhaseSequence[0], nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to fetch current phase: %w", err)
	}
	return name, nil
}

// ListPhases returns all phases in lifecycle order
func (db *DB) ListPhases(ctx context.Context) ([]*Phase, error) {
	rows, err := db.sqlDB.QueryContext(ctx,
		"SELECT name, position, status, completion_date, deliverables FROM phases ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("failed to list phases: %w", err)
	}
	defer rows.Close()

	var phases []*Phase
	for rows.Next() {
		var p Phase
		var completed, deliverables sql.NullString
		if err := rows.Scan(&p.Name, &p.Position, &p.Status, &completed, &deliverables); err != nil {
			return nil, fmt.Errorf("failed to scan phase: %w", err)
		}
		if p.CompletionDate, err = parseNullTime(completed); err != nil {
			return nil, err
		}
		p.Deliverables = deliverables.String
		phases = append(phases, &p)
	}
	return phases, rows.Err()
}

// TransitionToNextPhase completes the active phase and activates its
// successor. It returns the new current phase. Completing the last phase
// leaves no phase active.
func (db *DB) TransitionToNextPhase(ctx context.Context) (string, error) {
	var next string
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		var position int
		err := tx.QueryRowContext(ctx,
			"SELECT name, position FROM phases WHERE status = ? ORDER BY position LIMIT 1", PhaseActive,
		).Scan(&current, &position)
		if err == sql.ErrNoRows {
			return fmt.Errorf("no active phase: lifecycle is complete")
		}
		if err != nil {
			return fmt.Errorf("failed to fetch current phase: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE phases SET status = ?, completion_date = ? WHERE name = ?",
			PhaseComplete, formatTimestamp(db.now()), current,
		); err != nil {
			return fmt.Errorf("failed to complete phase %s: %w", current, err)
		}

		next = current
		if position+1 < len(PhaseSequence) {
			next = PhaseSequence[position+1]
			if _, err := tx.ExecContext(ctx,
				"UPDATE phases SET status = ? WHERE name = ?", PhaseActive, next,
			); err != nil {
				return fmt.Errorf("failed to activate phase %s: %w", next, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return next, nil
}

// SetPhaseDeliverables records the deliverables note for a phase
func (db *DB) SetPhaseDeliverables(ctx context.Context, phase string, deliverables string) error {
	res, err := db.sqlDB.ExecContext(ctx,
		"UPDATE phases SET deliverables = ? WHERE name = ?",
		deliverables, strings.ToLower(strings.TrimSpace(phase)),
	)
	if err != nil {
		return fmt.Errorf("failed to update phase deliverables: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("phase %q: %w", phase, ErrNotFound)
	}
	return nil
}
