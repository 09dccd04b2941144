package ipc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hivebot/internal/group"
	"hivebot/internal/task"
	logx "hivebot/pkg/logx"
)

type sentMessage struct {
	JID  string
	Text string
}

// fakeHost records collaborator calls and lets tests inject failures.
type fakeHost struct {
	mu         sync.Mutex
	groups     map[string]group.Group
	sent       []sentMessage
	sendErr    error
	synced     int
	snapshots  map[string]int // folder -> writes
	registered []group.Group
}

func newFakeHost(groups ...group.Group) *fakeHost {
	h := &fakeHost{groups: map[string]group.Group{}, snapshots: map[string]int{}}
	for _, g := range groups {
		h.groups[g.JID] = g
	}
	return h
}

func (h *fakeHost) SendMessage(_ context.Context, jid, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendErr != nil {
		return h.sendErr
	}
	h.sent = append(h.sent, sentMessage{JID: jid, Text: text})
	return nil
}

func (h *fakeHost) RegisteredGroups() map[string]group.Group {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]group.Group, len(h.groups))
	for jid, g := range h.groups {
		out[jid] = g
	}
	return out
}

func (h *fakeHost) RegisterGroup(_ context.Context, g group.Group) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.groups[g.JID] = g
	h.registered = append(h.registered, g)
	return nil
}

func (h *fakeHost) SyncGroupMetadata(_ context.Context, force bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.synced++
	return nil
}

func (h *fakeHost) AvailableGroups(_ context.Context) ([]group.Info, error) {
	return []group.Info{{JID: "100@tg", Name: "Main"}}, nil
}

func (h *fakeHost) WriteGroupsSnapshot(_ context.Context, folder string, _ bool, _ []group.Info, _ []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshots[folder]++
	return nil
}

// memStore is an in-memory task.Store.
type memStore struct {
	mu        sync.Mutex
	tasks     map[string]task.Task
	createErr error
}

func newMemStore() *memStore { return &memStore{tasks: map[string]task.Task{}} }

func (m *memStore) CreateTask(_ context.Context, t task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
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
	if _, ok := m.tasks[id]; !ok {
		return task.ErrNotFound
	}
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

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// ---- helpers ----

func newTestScanner(t *testing.T, host Host, store task.Store) (*Scanner, string) {
	t.Helper()
	root := t.TempDir()
	s := NewScanner(Config{
		Root:       root,
		Interval:   time.Hour,
		MainFolder: "main",
		Location:   time.UTC,
	}, host, store, logx.Nop())
	return s, root
}

func writeEnvelope(t *testing.T, root, folder, sub, name, content string) string {
	t.Helper()
	dir := filepath.Join(root, folder, sub)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func mainGroup() group.Group {
	return group.Group{JID: "100@tg", Folder: "main", Name: "Main"}
}

func familyGroup() group.Group {
	return group.Group{JID: "200@tg", Folder: "family", Name: "Family"}
}

// ---- message processing ----

func TestSweepForwardsAuthorizedMessageOnce(t *testing.T) {
	t.Parallel()
	host := newFakeHost(mainGroup(), familyGroup())
	s, root := newTestScanner(t, host, newMemStore())

	p := writeEnvelope(t, root, "family", "messages", "m1.json",
		`{"type":"message","chatJid":"200@tg","text":"hello"}`)

	s.Sweep(context.Background())

	require.Equal(t, []sentMessage{{JID: "200@tg", Text: "hello"}}, host.sent)
	require.NoFileExists(t, p)

	// Idempotent: a second pass over the now-empty directory sends nothing.
	s.Sweep(context.Background())
	require.Len(t, host.sent, 1)
}

func TestSweepDeniesCrossTenantMessage(t *testing.T) {
	t.Parallel()
	host := newFakeHost(mainGroup(), familyGroup())
	s, root := newTestScanner(t, host, newMemStore())

	// family tries to message the main group's chat
	p := writeEnvelope(t, root, "family", "messages", "m1.json",
		`{"type":"message","chatJid":"100@tg","text":"let me in"}`)

	s.Sweep(context.Background())

	require.Empty(t, host.sent)
	// Denied is handled, not failed: the file is deleted, not quarantined.
	require.NoFileExists(t, p)
	require.NoDirExists(t, filepath.Join(root, ErrorsDirName))
}

func TestSweepMainMayMessageAnyChat(t *testing.T) {
	t.Parallel()
	host := newFakeHost(mainGroup(), familyGroup())
	s, root := newTestScanner(t, host, newMemStore())

	writeEnvelope(t, root, "main", "messages", "m1.json",
		`{"type":"message","chatJid":"200@tg","text":"broadcast"}`)

	s.Sweep(context.Background())
	require.Equal(t, []sentMessage{{JID: "200@tg", Text: "broadcast"}}, host.sent)
}

func TestSweepQuarantinesMalformedFile(t *testing.T) {
	t.Parallel()
	host := newFakeHost(mainGroup(), familyGroup())
	s, root := newTestScanner(t, host, newMemStore())

	p := writeEnvelope(t, root, "family", "messages", "junk.json", `{not json`)

	s.Sweep(context.Background())

	require.NoFileExists(t, p)
	require.FileExists(t, filepath.Join(root, ErrorsDirName, "family-junk.json"))
	require.Empty(t, host.sent)
}

func TestSweepQuarantinesOnSendFailure(t *testing.T) {
	t.Parallel()
	host := newFakeHost(mainGroup(), familyGroup())
	host.sendErr = errors.New("transport down")
	s, root := newTestScanner(t, host, newMemStore())

	p := writeEnvelope(t, root, "family", "messages", "m1.json",
		`{"type":"message","chatJid":"200@tg","text":"hi"}`)

	s.Sweep(context.Background())

	require.NoFileExists(t, p)
	require.FileExists(t, filepath.Join(root, ErrorsDirName, "family-m1.json"))
}

func TestSweepSkipsSymlinkedEntries(t *testing.T) {
	t.Parallel()
	host := newFakeHost(mainGroup(), familyGroup())
	s, root := newTestScanner(t, host, newMemStore())

	outside := t.TempDir()
	target := filepath.Join(outside, "evil.json")
	require.NoError(t, os.WriteFile(target, []byte(`{"type":"message","chatJid":"200@tg","text":"x"}`), 0o644))

	dir := filepath.Join(root, "family", "messages")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	link := filepath.Join(dir, "evil.json")
	require.NoError(t, os.Symlink(target, link))

	s.Sweep(context.Background())

	require.Empty(t, host.sent)
	// Skipped, not consumed: a symlink is not a trustworthy path to move.
	require.FileExists(t, target)
}

func TestSweepSkipsUnsafeFolderNames(t *testing.T) {
	t.Parallel()
	host := newFakeHost(mainGroup())
	s, root := newTestScanner(t, host, newMemStore())

	dir := filepath.Join(root, ".hidden", "messages")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	p := filepath.Join(dir, "m1.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"type":"message","chatJid":"100@tg","text":"x"}`), 0o644))

	s.Sweep(context.Background())

	require.Empty(t, host.sent)
	require.FileExists(t, p)
}

// ---- task commands ----

func TestScheduleTaskInterval(t *testing.T) {
	t.Parallel()
	host := newFakeHost(mainGroup(), familyGroup())
	store := newMemStore()
	s, root := newTestScanner(t, host, store)

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return t0 }

	writeEnvelope(t, root, "family", "tasks", "c1.json",
		`{"type":"schedule_task","prompt":"water the plants","schedule_type":"interval","schedule_value":"5000","targetJid":"200@tg"}`)

	s.Sweep(context.Background())

	require.Equal(t, 1, store.count())
	for _, got := range store.tasks {
		require.Equal(t, "family", got.GroupFolder)
		require.Equal(t, "200@tg", got.ChatJID)
		require.Equal(t, task.ScheduleInterval, got.ScheduleType)
		require.Equal(t, task.ContextIsolated, got.ContextMode)
		require.Equal(t, task.StatusActive, got.Status)
		require.NotNil(t, got.NextRun)
		require.Equal(t, t0.Add(5*time.Second), *got.NextRun)
	}
}

func TestScheduleTaskRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name    string
		payload string
	}{
		{"negative interval", `{"type":"schedule_task","prompt":"p","schedule_type":"interval","schedule_value":"-1","targetJid":"200@tg"}`},
		{"non-numeric interval", `{"type":"schedule_task","prompt":"p","schedule_type":"interval","schedule_value":"abc","targetJid":"200@tg"}`},
		{"bad cron", `{"type":"schedule_task","prompt":"p","schedule_type":"cron","schedule_value":"banana","targetJid":"200@tg"}`},
		{"bad once", `{"type":"schedule_task","prompt":"p","schedule_type":"once","schedule_value":"someday","targetJid":"200@tg"}`},
		{"missing prompt", `{"type":"schedule_task","schedule_type":"interval","schedule_value":"5000","targetJid":"200@tg"}`},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			host := newFakeHost(mainGroup(), familyGroup())
			store := newMemStore()
			s, root := newTestScanner(t, host, store)

			p := writeEnvelope(t, root, "family", "tasks", "c1.json", tc.payload)
			s.Sweep(context.Background())

			require.Equal(t, 0, store.count())
			// Rejected commands are consumed normally, never quarantined.
			require.NoFileExists(t, p)
			require.NoDirExists(t, filepath.Join(root, ErrorsDirName))
		})
	}
}

func TestScheduleTaskOncePastTimestampAccepted(t *testing.T) {
	t.Parallel()
	host := newFakeHost(mainGroup(), familyGroup())
	store := newMemStore()
	s, root := newTestScanner(t, host, store)

	writeEnvelope(t, root, "family", "tasks", "c1.json",
		`{"type":"schedule_task","prompt":"p","schedule_type":"once","schedule_value":"2001-01-01T00:00:00Z","targetJid":"200@tg","context_mode":"group"}`)

	s.Sweep(context.Background())

	require.Equal(t, 1, store.count())
	for _, got := range store.tasks {
		require.Equal(t, task.ContextGroup, got.ContextMode)
		require.Equal(t, 2001, got.NextRun.UTC().Year())
	}
}

func TestScheduleTaskCrossTenantDenied(t *testing.T) {
	t.Parallel()
	host := newFakeHost(mainGroup(), familyGroup())
	store := newMemStore()
	s, root := newTestScanner(t, host, store)

	// family targets main's chat
	writeEnvelope(t, root, "family", "tasks", "c1.json",
		`{"type":"schedule_task","prompt":"p","schedule_type":"interval","schedule_value":"5000","targetJid":"100@tg"}`)

	s.Sweep(context.Background())
	require.Equal(t, 0, store.count())

	// main may target any tenant
	writeEnvelope(t, root, "main", "tasks", "c2.json",
		`{"type":"schedule_task","prompt":"p","schedule_type":"interval","schedule_value":"5000","targetJid":"200@tg"}`)

	s.Sweep(context.Background())
	require.Equal(t, 1, store.count())
}

func TestScheduleTaskStoreFailureQuarantines(t *testing.T) {
	t.Parallel()
	host := newFakeHost(mainGroup(), familyGroup())
	store := newMemStore()
	store.createErr = errors.New("disk full")
	s, root := newTestScanner(t, host, store)

	writeEnvelope(t, root, "family", "tasks", "c1.json",
		`{"type":"schedule_task","prompt":"p","schedule_type":"interval","schedule_value":"5000","targetJid":"200@tg"}`)

	s.Sweep(context.Background())
	require.FileExists(t, filepath.Join(root, ErrorsDirName, "family-c1.json"))
}

func TestPauseResumeCancelOwnership(t *testing.T) {
	t.Parallel()
	host := newFakeHost(mainGroup(), familyGroup())
	store := newMemStore()
	s, root := newTestScanner(t, host, store)

	next := time.Now().Add(time.Hour)
	seed := task.Task{
		ID: "task-1", GroupFolder: "family", ChatJID: "200@tg", Prompt: "p",
		ScheduleType: task.ScheduleInterval, ScheduleValue: "60000",
		ContextMode: task.ContextIsolated, NextRun: &next,
		Status: task.StatusActive, CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateTask(context.Background(), seed))

	// Another tenant cannot pause it.
	writeEnvelope(t, root, "ops", "tasks", "c1.json", `{"type":"pause_task","taskId":"task-1"}`)
	s.Sweep(context.Background())
	got, err := store.GetTaskByID(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, task.StatusActive, got.Status)

	// The owner can.
	writeEnvelope(t, root, "family", "tasks", "c2.json", `{"type":"pause_task","taskId":"task-1"}`)
	s.Sweep(context.Background())
	got, err = store.GetTaskByID(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, task.StatusPaused, got.Status)

	// Main can resume anyone's task.
	writeEnvelope(t, root, "main", "tasks", "c3.json", `{"type":"resume_task","taskId":"task-1"}`)
	s.Sweep(context.Background())
	got, err = store.GetTaskByID(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, task.StatusActive, got.Status)

	// Cross-tenant cancel leaves the task untouched; owner cancel deletes it.
	writeEnvelope(t, root, "ops", "tasks", "c4.json", `{"type":"cancel_task","taskId":"task-1"}`)
	s.Sweep(context.Background())
	require.Equal(t, 1, store.count())

	writeEnvelope(t, root, "family", "tasks", "c5.json", `{"type":"cancel_task","taskId":"task-1"}`)
	s.Sweep(context.Background())
	require.Equal(t, 0, store.count())
}

func TestRefreshGroupsMainOnly(t *testing.T) {
	t.Parallel()
	host := newFakeHost(mainGroup(), familyGroup())
	s, root := newTestScanner(t, host, newMemStore())

	writeEnvelope(t, root, "family", "tasks", "c1.json", `{"type":"refresh_groups"}`)
	s.Sweep(context.Background())
	require.Equal(t, 0, host.synced)

	writeEnvelope(t, root, "main", "tasks", "c2.json", `{"type":"refresh_groups"}`)
	s.Sweep(context.Background())
	require.Equal(t, 1, host.synced)
	require.Equal(t, 1, host.snapshots["main"])
	require.Equal(t, 1, host.snapshots["family"])
}

func TestRegisterGroup(t *testing.T) {
	t.Parallel()
	host := newFakeHost(mainGroup())
	s, root := newTestScanner(t, host, newMemStore())

	// Non-main cannot register.
	writeEnvelope(t, root, "family", "tasks", "c1.json",
		`{"type":"register_group","jid":"300@tg","name":"Ops","folder":"ops","trigger":"@bot"}`)
	s.Sweep(context.Background())
	require.Empty(t, host.registered)

	// Traversal folder names are rejected outright.
	writeEnvelope(t, root, "main", "tasks", "c2.json",
		`{"type":"register_group","jid":"300@tg","name":"Ops","folder":"../escape","trigger":"@bot"}`)
	s.Sweep(context.Background())
	require.Empty(t, host.registered)

	// Main with a safe folder succeeds.
	writeEnvelope(t, root, "main", "tasks", "c3.json",
		`{"type":"register_group","jid":"300@tg","name":"Ops","folder":"ops","trigger":"@bot","requiresTrigger":true}`)
	s.Sweep(context.Background())
	require.Len(t, host.registered, 1)
	require.Equal(t, "ops", host.registered[0].Folder)
	require.True(t, host.registered[0].RequiresTrigger)
}

func TestEnvelopeIdentityClaimsIgnored(t *testing.T) {
	t.Parallel()
	host := newFakeHost(mainGroup(), familyGroup())
	s, root := newTestScanner(t, host, newMemStore())

	// The payload claims to be from main; the directory says family.
	// Unknown fields are simply ignored, and family's rules apply.
	writeEnvelope(t, root, "family", "messages", "m1.json",
		`{"type":"message","chatJid":"100@tg","text":"x","sourceGroup":"main","isMain":true}`)

	s.Sweep(context.Background())
	require.Empty(t, host.sent)
}

func TestStartIsIdempotentAndStops(t *testing.T) {
	t.Parallel()
	host := newFakeHost(mainGroup())
	s, _ := newTestScanner(t, host, newMemStore())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Start(ctx) // no-op, must not panic or double-run

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
	s.Stop(stopCtx) // second stop is safe
}
