package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/mlahtinen/virta/pkg/api"
)

// SQLiteStore is a Store backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing the
// driver, e.g.:
//
//	import _ "modernc.org/sqlite"
//
// Events and the snapshot are written in one transaction, so a reader
// never observes a snapshot ahead of or behind its history.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database
// and returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			workflow TEXT NOT NULL,
			status TEXT NOT NULL,
			stage TEXT NOT NULL,
			input BLOB,
			activities BLOB,
			output BLOB,
			error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			last_seq INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS history_events (
			instance_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			type TEXT NOT NULL,
			at INTEGER NOT NULL,
			activity TEXT NOT NULL DEFAULT '',
			attempt INTEGER NOT NULL DEFAULT 0,
			kind TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			payload BLOB,
			PRIMARY KEY (instance_id, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_instances_status ON instances(status);
	`)
	return err
}

func (s *SQLiteStore) CreateInstance(ctx context.Context, inst *api.WorkflowInstance, events ...api.HistoryEvent) error {
	return s.writeTx(ctx, func(tx *sql.Tx) error {
		input, activities, output, err := encodeInstance(inst)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO instances (id, workflow, status, stage, input, activities, output, error, created_at, updated_at, last_seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			inst.ID,
			inst.Workflow,
			string(inst.Status),
			string(inst.Stage),
			input,
			activities,
			output,
			inst.Error,
			inst.CreatedAt.UnixNano(),
			inst.UpdatedAt.UnixNano(),
			inst.LastSeq,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrInstanceExists
			}
			return err
		}
		return insertEvents(ctx, tx, events)
	})
}

func (s *SQLiteStore) AppendEvents(ctx context.Context, inst *api.WorkflowInstance, events ...api.HistoryEvent) error {
	return s.writeTx(ctx, func(tx *sql.Tx) error {
		input, activities, output, err := encodeInstance(inst)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE instances
			SET status = ?, stage = ?, input = ?, activities = ?, output = ?, error = ?, updated_at = ?, last_seq = ?
			WHERE id = ?`,
			string(inst.Status),
			string(inst.Stage),
			input,
			activities,
			output,
			inst.Error,
			inst.UpdatedAt.UnixNano(),
			inst.LastSeq,
			inst.ID,
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrInstanceNotFound
		}
		return insertEvents(ctx, tx, events)
	})
}

func (s *SQLiteStore) writeTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertEvents(ctx context.Context, tx *sql.Tx, events []api.HistoryEvent) error {
	for _, ev := range events {
		payload, err := encodePayload(ev.Payload)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO history_events (instance_id, seq, type, at, activity, attempt, kind, detail, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.InstanceID,
			ev.Seq,
			string(ev.Type),
			ev.At.UnixNano(),
			ev.Activity,
			ev.Attempt,
			string(ev.Kind),
			ev.Detail,
			payload,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow, status, stage, input, activities, output, error, created_at, updated_at, last_seq
		FROM instances
		WHERE id = ?`,
		id,
	)
	inst, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return inst, nil
}

func (s *SQLiteStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	query := `
		SELECT id, workflow, status, stage, input, activities, output, error, created_at, updated_at, last_seq
		FROM instances`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*api.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func (s *SQLiteStore) ListEvents(ctx context.Context, instanceID string, since int64) ([]api.HistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id, seq, type, at, activity, attempt, kind, detail, payload
		FROM history_events
		WHERE instance_id = ? AND seq > ?
		ORDER BY seq ASC`,
		instanceID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.HistoryEvent
	for rows.Next() {
		var (
			ev      api.HistoryEvent
			typ     string
			atN     int64
			kind    string
			payload []byte
		)
		if err := rows.Scan(&ev.InstanceID, &ev.Seq, &typ, &atN, &ev.Activity, &ev.Attempt, &kind, &ev.Detail, &payload); err != nil {
			return nil, err
		}
		ev.Type = api.EventType(typ)
		ev.At = time.Unix(0, atN)
		ev.Kind = api.FailureKind(kind)
		if ev.Payload, err = decodePayload(payload); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*api.WorkflowInstance, error) {
	var (
		inst       api.WorkflowInstance
		status     string
		stage      string
		input      []byte
		activities []byte
		output     []byte
		createdN   int64
		updatedN   int64
	)
	if err := row.Scan(&inst.ID, &inst.Workflow, &status, &stage, &input, &activities, &output, &inst.Error, &createdN, &updatedN, &inst.LastSeq); err != nil {
		return nil, err
	}
	inst.Status = api.Status(status)
	inst.Stage = api.Stage(stage)
	inst.CreatedAt = time.Unix(0, createdN)
	inst.UpdatedAt = time.Unix(0, updatedN)

	var err error
	if inst.Input, err = decodePayload(input); err != nil {
		return nil, err
	}
	if inst.Output, err = decodePayload(output); err != nil {
		return nil, err
	}
	inst.Activities = make(map[string]*api.ActivityState)
	if len(activities) > 0 {
		if err := json.Unmarshal(activities, &inst.Activities); err != nil {
			return nil, err
		}
	}
	return &inst, nil
}

func encodeInstance(inst *api.WorkflowInstance) (input, activities, output []byte, err error) {
	if input, err = encodePayload(inst.Input); err != nil {
		return nil, nil, nil, err
	}
	if activities, err = json.Marshal(inst.Activities); err != nil {
		return nil, nil, nil, err
	}
	if output, err = encodePayload(inst.Output); err != nil {
		return nil, nil, nil, err
	}
	return input, activities, output, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
