package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"schoolbus-backend/internal/models"
)

// maxChangeAttempts bounds how often a failing change event is retried
const maxChangeAttempts = 10

type statusChangeRow struct {
	ID        int64   `db:"id"`
	Operation string  `db:"op"`
	TripID    string  `db:"trip_id"`
	StudentID string  `db:"student_id"`
	Before    []byte  `db:"before"`
	After     []byte  `db:"after"`
	Attempts  int     `db:"attempts"`
	LastError *string `db:"last_error"`
}

func (r *statusChangeRow) toStatusChange() (models.StatusChange, error) {
	change := models.StatusChange{
		EventID:   r.ID,
		Operation: r.Operation,
		TripID:    r.TripID,
		StudentID: r.StudentID,
	}
	if len(r.Before) > 0 {
		var before models.PassengerStatus
		if err := json.Unmarshal(r.Before, &before); err != nil {
			return change, fmt.Errorf("event %d: bad before image: %w", r.ID, err)
		}
		change.Before = &before
	}
	if len(r.After) > 0 {
		var after models.PassengerStatus
		if err := json.Unmarshal(r.After, &after); err != nil {
			return change, fmt.Errorf("event %d: bad after image: %w", r.ID, err)
		}
		change.After = &after
	}
	return change, nil
}

// ProcessPendingChanges hands up to limit unprocessed change events, in
// commit order, to handle. Each event is claimed with SKIP LOCKED and marked
// in its own transaction, so several dispatchers can run side by side and a
// failed mark only repeats that one event. An event is marked processed only
// when handle succeeds; failures are kept for another attempt.
func ProcessPendingChanges(ctx context.Context, db *sqlx.DB, limit int, handle func(context.Context, models.StatusChange) error) (int, error) {
	processed := 0
	var lastID int64
	for i := 0; i < limit; i++ {
		id, ok, err := processNextChange(ctx, db, lastID, handle)
		if err != nil {
			return processed, err
		}
		if id == 0 {
			break
		}
		lastID = id
		if ok {
			processed++
		}
	}
	return processed, nil
}

// processNextChange claims the oldest pending event after afterID. It returns
// the event id (0 when none is pending) and whether handle succeeded.
func processNextChange(ctx context.Context, db *sqlx.DB, afterID int64, handle func(context.Context, models.StatusChange) error) (int64, bool, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT id, op, trip_id, student_id, before, after, attempts, last_error
		FROM status_change_events
		WHERE processed_at IS NULL AND attempts < $1 AND id > $2
		ORDER BY id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`
	var rows []statusChangeRow
	if err := tx.SelectContext(ctx, &rows, query, maxChangeAttempts, afterID); err != nil {
		return 0, false, fmt.Errorf("failed to claim change event: %w", err)
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	row := rows[0]

	change, err := row.toStatusChange()
	if err == nil {
		err = handle(ctx, change)
	}

	if err != nil {
		if _, markErr := tx.ExecContext(ctx,
			`UPDATE status_change_events SET attempts = attempts + 1, last_error = $2 WHERE id = $1`,
			row.ID, err.Error(),
		); markErr != nil {
			return row.ID, false, fmt.Errorf("failed to record change failure: %w", markErr)
		}
	} else if _, markErr := tx.ExecContext(ctx,
		`UPDATE status_change_events SET processed_at = $2 WHERE id = $1`,
		row.ID, time.Now().Unix(),
	); markErr != nil {
		return row.ID, false, fmt.Errorf("failed to mark change processed: %w", markErr)
	}

	if err := tx.Commit(); err != nil {
		return row.ID, false, fmt.Errorf("failed to commit change event %d: %w", row.ID, err)
	}
	return row.ID, err == nil, nil
}
