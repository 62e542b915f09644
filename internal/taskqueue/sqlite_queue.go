package taskqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// SQLiteQueue is a persistent Queue backed by SQLite with simple FIFO
// semantics based on an auto-incrementing row id. Delayed tasks become
// eligible once their not_before time has passed.
type SQLiteQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewSQLiteQueue initializes the tasks table in the given DB and
// returns a new queue.
func NewSQLiteQueue(db *sql.DB) (*SQLiteQueue, error) {
	q := &SQLiteQueue{
		db:           db,
		pollInterval: 20 * time.Millisecond,
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS activity_tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			instance_id TEXT NOT NULL,
			activity TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			input BLOB,
			timeout_ns INTEGER NOT NULL,
			enqueued_at INTEGER NOT NULL,
			not_before INTEGER NOT NULL
		);
	`)
	return err
}

var _ Queue = (*SQLiteQueue)(nil)

func (q *SQLiteQueue) Enqueue(ctx context.Context, t Task) error {
	var input []byte
	if t.Input != nil {
		var err error
		if input, err = json.Marshal(t.Input); err != nil {
			return err
		}
	}

	now := time.Now()
	enqueuedAt := t.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = now
	}
	notBefore := enqueuedAt.UnixNano()
	if !t.NotBefore.IsZero() {
		notBefore = t.NotBefore.UnixNano()
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO activity_tasks (task_id, instance_id, activity, attempt, input, timeout_ns, enqueued_at, not_before)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.InstanceID,
		t.Activity,
		t.Attempt,
		input,
		int64(t.Timeout),
		enqueuedAt.UnixNano(),
		notBefore,
	)
	return err
}

func (q *SQLiteQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		now := time.Now().UnixNano()

		tx, err := q.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}

		var (
			id          int64
			taskID      string
			instanceID  string
			activity    string
			attempt     int
			input       []byte
			timeoutNs   int64
			enqueuedInt int64
			notBefore   int64
		)

		row := tx.QueryRowContext(ctx, `
			SELECT id, task_id, instance_id, activity, attempt, input, timeout_ns, enqueued_at, not_before
			FROM activity_tasks
			WHERE not_before <= ?
			ORDER BY not_before, id
			LIMIT 1`, now)
		err = row.Scan(&id, &taskID, &instanceID, &activity, &attempt, &input, &timeoutNs, &enqueuedInt, &notBefore)
		if err != nil {
			_ = tx.Rollback()
			if errors.Is(err, sql.ErrNoRows) {
				// Nothing eligible: sleep a bit and retry.
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(q.pollInterval):
					continue
				}
			}
			return nil, err
		}

		// Delete the row we just claimed.
		if _, err := tx.ExecContext(ctx, `DELETE FROM activity_tasks WHERE id = ?`, id); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}

		var decoded map[string]any
		if len(input) > 0 {
			if err := json.Unmarshal(input, &decoded); err != nil {
				return nil, err
			}
		}

		return &Task{
			ID:         taskID,
			InstanceID: instanceID,
			Activity:   activity,
			Attempt:    attempt,
			Input:      decoded,
			Timeout:    time.Duration(timeoutNs),
			EnqueuedAt: time.Unix(0, enqueuedInt),
			NotBefore:  time.Unix(0, notBefore),
		}, nil
	}
}

func (q *SQLiteQueue) Len() int {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM activity_tasks`).Scan(&n); err != nil {
		return 0
	}
	return n
}
