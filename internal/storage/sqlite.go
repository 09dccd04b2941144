package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"hivebot/internal/group"
	"hivebot/internal/task"
	logx "hivebot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Store implements task.Store and persists registered groups.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &Store{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- tasks ----

func (s *Store) CreateTask(ctx context.Context, t task.Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, group_folder, chat_jid, prompt, schedule_type, schedule_value, context_mode, next_run, status, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.GroupFolder, t.ChatJID, t.Prompt, string(t.ScheduleType), t.ScheduleValue,
		string(t.ContextMode), nullUnixMilli(t.NextRun), string(t.Status), t.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) GetTaskByID(ctx context.Context, id string) (task.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, group_folder, chat_jid, prompt, schedule_type, schedule_value, context_mode, next_run, status, created_at
		 FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, task.ErrNotFound
	}
	return t, err
}

func (s *Store) UpdateTask(ctx context.Context, t task.Task) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET chat_jid=?, prompt=?, schedule_type=?, schedule_value=?, context_mode=?, next_run=?, status=?
		 WHERE id = ?`,
		t.ChatJID, t.Prompt, string(t.ScheduleType), t.ScheduleValue, string(t.ContextMode),
		nullUnixMilli(t.NextRun), string(t.Status), t.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return task.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return task.ErrNotFound
	}
	return nil
}

func (s *Store) ListDueTasks(ctx context.Context, now time.Time) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, group_folder, chat_jid, prompt, schedule_type, schedule_value, context_mode, next_run, status, created_at
		 FROM tasks WHERE status = 'active' AND next_run IS NOT NULL AND next_run <= ?
		 ORDER BY next_run ASC`, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (task.Task, error) {
	var (
		t         task.Task
		sched     string
		mode      string
		status    string
		nextRun   sql.NullInt64
		createdAt string
	)
	err := r.Scan(&t.ID, &t.GroupFolder, &t.ChatJID, &t.Prompt, &sched, &t.ScheduleValue, &mode, &nextRun, &status, &createdAt)
	if err != nil {
		return task.Task{}, err
	}
	t.ScheduleType = task.ScheduleType(sched)
	t.ContextMode = task.ContextMode(mode)
	t.Status = task.Status(status)
	if nextRun.Valid {
		ts := time.UnixMilli(nextRun.Int64)
		t.NextRun = &ts
	}
	if at, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		t.CreatedAt = at
	}
	return t, nil
}

func nullUnixMilli(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

// ---- groups ----

func (s *Store) SaveGroup(ctx context.Context, g group.Group) error {
	var cc any
	if len(g.ContainerConfig) > 0 {
		cc = string(g.ContainerConfig)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups(jid, name, folder, trigger_word, requires_trigger, container_config, added_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(jid) DO UPDATE SET
		   name=excluded.name, folder=excluded.folder, trigger_word=excluded.trigger_word,
		   requires_trigger=excluded.requires_trigger, container_config=excluded.container_config`,
		g.JID, g.Name, g.Folder, g.Trigger, boolInt(g.RequiresTrigger), cc,
		g.AddedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) LoadGroups(ctx context.Context) (map[string]group.Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT jid, name, folder, trigger_word, requires_trigger, container_config, added_at FROM groups`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]group.Group)
	for rows.Next() {
		var (
			g       group.Group
			req     int
			cc      sql.NullString
			addedAt string
		)
		if err := rows.Scan(&g.JID, &g.Name, &g.Folder, &g.Trigger, &req, &cc, &addedAt); err != nil {
			return nil, err
		}
		g.RequiresTrigger = req != 0
		if cc.Valid && cc.String != "" {
			g.ContainerConfig = json.RawMessage(cc.String)
		}
		if at, err := time.Parse(time.RFC3339Nano, addedAt); err == nil {
			g.AddedAt = at
		}
		out[g.JID] = g
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
