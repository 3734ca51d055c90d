// Package tasklog keeps a row per finished background task until the user
// acknowledges it.
package tasklog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/jaennil/guide_helper/backend/maps/pkg/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Entry describes a finished task.
type Entry struct {
	TaskID      int64     `json:"task_id"`
	Pool        string    `json:"pool"`
	Fingerprint string    `json:"fingerprint"`
	Description string    `json:"description"`
	State       string    `json:"state"`
	Items       int       `json:"items"`
	Failures    int       `json:"failures"`
	FinishedAt  time.Time `json:"finished_at"`
}

type Row struct {
	ID int64 `json:"id"`
	Entry
}

type Log struct {
	db     *sql.DB
	logger logger.Logger
}

func New(path string, l logger.Logger) (*Log, error) {
	l = logger.OrNop(l)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, err
	}

	t := &Log{
		db:     db,
		logger: l,
	}

	err = t.runMigrations()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate task log: %w", err)
	}

	l.Info("task log initialized", "path", path)

	return t, nil
}

func (t *Log) runMigrations() error {
	goose.SetBaseFS(migrations)

	err := goose.SetDialect("sqlite3")
	if err != nil {
		return err
	}

	err = goose.Up(t.db, "migrations")
	if err != nil {
		return err
	}

	return nil
}

func (t *Log) Close() error {
	return t.db.Close()
}

func (t *Log) Record(ctx context.Context, e Entry) error {
	t.logger.Debug("task log record", "task_id", e.TaskID, "pool", e.Pool, "state", e.State)

	query := `INSERT INTO task_log (task_id, pool, fingerprint, description, state, items, failures, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	finished := e.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	_, err := t.db.ExecContext(ctx, query, e.TaskID, e.Pool, e.Fingerprint, e.Description, e.State, e.Items, e.Failures, finished.Unix())
	if err != nil {
		t.logger.Error("task log record failed", "task_id", e.TaskID, "error", err)
		return err
	}

	return nil
}

// Pending lists the rows not yet acknowledged, oldest first.
func (t *Log) Pending(ctx context.Context) ([]Row, error) {
	query := `SELECT id, task_id, pool, fingerprint, description, state, items, failures, finished_at
	FROM task_log
	WHERE acknowledged = 0
	ORDER BY id`

	rows, err := t.db.QueryContext(ctx, query)
	if err != nil {
		t.logger.Error("task log query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var finished int64
		if err := rows.Scan(&r.ID, &r.TaskID, &r.Pool, &r.Fingerprint, &r.Description, &r.State, &r.Items, &r.Failures, &finished); err != nil {
			return nil, err
		}
		r.FinishedAt = time.Unix(finished, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Acknowledge hides one row. It reports whether the row was pending.
func (t *Log) Acknowledge(ctx context.Context, id int64) (bool, error) {
	res, err := t.db.ExecContext(ctx, `UPDATE task_log SET acknowledged = 1 WHERE id = ? AND acknowledged = 0`, id)
	if err != nil {
		t.logger.Error("task log acknowledge failed", "id", id, "error", err)
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (t *Log) AcknowledgeAll(ctx context.Context) (int64, error) {
	res, err := t.db.ExecContext(ctx, `UPDATE task_log SET acknowledged = 1 WHERE acknowledged = 0`)
	if err != nil {
		t.logger.Error("task log acknowledge all failed", "error", err)
		return 0, err
	}
	return res.RowsAffected()
}
