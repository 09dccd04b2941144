package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hivebot/internal/task"
	logx "hivebot/pkg/logx"
)

type memStore struct {
	mu    sync.Mutex
	tasks map[string]task.Task
}

func newMemStore(ts ...task.Task) *memStore {
	m := &memStore{tasks: map[string]task.Task{}}
	for _, t := range ts {
		m.tasks[t.ID] = t
	}
	return m
}

func (m *memStore) CreateTask(_ context.Context, t task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
	return nil
}

func (m *memStore) GetTaskByID(_ context.Context, id string) (task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return task.Task{}, task.ErrNotFound
	}
	return t, nil
}

func (m *memStore) UpdateTask(_ context.Context, t task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return task.ErrNotFound
	}
	m.tasks[t.ID] = t
	return nil
}

func (m *memStore) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}

func (m *memStore) ListDueTasks(_ context.Context, now time.Time) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, t := range m.tasks {
		if t.Status == task.StatusActive && t.NextRun != nil && !t.NextRun.After(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

type recordingDeliverer struct {
	mu        sync.Mutex
	delivered []string
	err       error
}

func (d *recordingDeliverer) DeliverPrompt(_ context.Context, t task.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.delivered = append(d.delivered, t.ID)
	return nil
}

func seedTask(id string, st task.ScheduleType, value string, next time.Time) task.Task {
	return task.Task{
		ID: id, GroupFolder: "family", ChatJID: "200@tg", Prompt: "p",
		ScheduleType: st, ScheduleValue: value, ContextMode: task.ContextIsolated,
		NextRun: &next, Status: task.StatusActive, CreatedAt: time.Now(),
	}
}

func TestFireDueIntervalReschedules(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore(seedTask("t1", task.ScheduleInterval, "60000", t0.Add(-time.Second)))
	del := &recordingDeliverer{}

	s := New(Config{Location: time.UTC}, store, del, logx.Nop())
	s.now = func() time.Time { return t0 }

	s.FireDue(context.Background())

	require.Equal(t, []string{"t1"}, del.delivered)
	got, err := store.GetTaskByID(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, task.StatusActive, got.Status)
	require.Equal(t, t0.Add(time.Minute), *got.NextRun)

	// Nothing is due anymore; a second pass delivers nothing.
	s.FireDue(context.Background())
	require.Len(t, del.delivered, 1)
}

func TestFireDueOnceRetires(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore(seedTask("t1", task.ScheduleOnce, "2026-03-01T11:00:00Z", t0.Add(-time.Hour)))
	del := &recordingDeliverer{}

	s := New(Config{Location: time.UTC}, store, del, logx.Nop())
	s.now = func() time.Time { return t0 }

	s.FireDue(context.Background())

	require.Equal(t, []string{"t1"}, del.delivered)
	got, err := store.GetTaskByID(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, task.StatusPaused, got.Status)
	require.Nil(t, got.NextRun)
}

func TestFireDueDeliveryFailureRetries(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	next := t0.Add(-time.Second)
	store := newMemStore(seedTask("t1", task.ScheduleInterval, "60000", next))
	del := &recordingDeliverer{err: errors.New("inbox unavailable")}

	s := New(Config{Location: time.UTC}, store, del, logx.Nop())
	s.now = func() time.Time { return t0 }

	s.FireDue(context.Background())

	// next_run untouched: the task stays due for the next pass.
	got, err := store.GetTaskByID(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, next, *got.NextRun)

	del.err = nil
	s.FireDue(context.Background())
	require.Equal(t, []string{"t1"}, del.delivered)
}
