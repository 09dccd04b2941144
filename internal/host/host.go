// Package host is the trusted side of the bus: it owns the tenant registry,
// speaks to the chat channel, provisions tenant namespaces, and writes group
// metadata snapshots into them.
package host

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"hivebot/internal/group"
	"hivebot/internal/task"
	"hivebot/internal/transport"
	logx "hivebot/pkg/logx"
)

// GroupStore persists the tenant registry across restarts.
type GroupStore interface {
	SaveGroup(ctx context.Context, g group.Group) error
	LoadGroups(ctx context.Context) (map[string]group.Group, error)
}

type Config struct {
	// Root is the IPC root directory.
	Root string
	// MetadataTTL bounds how stale the available-chats cache may get before
	// a non-forced sync refreshes it.
	MetadataTTL time.Duration
}

// Service implements ipc.Host.
type Service struct {
	cfg     Config
	reg     *group.Registry
	store   GroupStore
	adapter transport.Adapter
	log     logx.Logger

	metaMu     sync.Mutex
	available  []group.Info
	lastSynced time.Time
}

func New(cfg Config, reg *group.Registry, store GroupStore, adapter transport.Adapter, log logx.Logger) *Service {
	if cfg.MetadataTTL <= 0 {
		cfg.MetadataTTL = 5 * time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, reg: reg, store: store, adapter: adapter, log: log}
}

// LoadRegistry replaces the in-memory registry with the stored one and
// provisions a namespace for every known tenant.
func (s *Service) LoadRegistry(ctx context.Context) error {
	groups, err := s.store.LoadGroups(ctx)
	if err != nil {
		return fmt.Errorf("load groups: %w", err)
	}
	s.reg.Replace(groups)
	for _, g := range groups {
		if err := s.provisionNamespace(g.Folder); err != nil {
			s.log.Warn("cannot provision namespace",
				logx.String("folder", g.Folder), logx.Err(err))
		}
	}
	s.log.Info("registry loaded", logx.Int("groups", len(groups)))
	return nil
}

func (s *Service) Registry() *group.Registry { return s.reg }

// ---- ipc.Host ----

func (s *Service) SendMessage(ctx context.Context, jid, text string) error {
	return s.adapter.SendText(ctx, jid, text)
}

func (s *Service) RegisteredGroups() map[string]group.Group {
	return s.reg.Snapshot()
}

func (s *Service) RegisterGroup(ctx context.Context, g group.Group) error {
	if !group.ValidFolder(g.Folder) {
		return fmt.Errorf("invalid group folder %q", g.Folder)
	}
	if g.AddedAt.IsZero() {
		g.AddedAt = time.Now()
	}
	if err := s.store.SaveGroup(ctx, g); err != nil {
		return fmt.Errorf("persist group %s: %w", g.JID, err)
	}
	s.reg.Register(g)
	if err := s.provisionNamespace(g.Folder); err != nil {
		return fmt.Errorf("provision namespace %s: %w", g.Folder, err)
	}
	return nil
}

func (s *Service) SyncGroupMetadata(ctx context.Context, force bool) error {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	if !force && time.Since(s.lastSynced) < s.cfg.MetadataTTL && s.available != nil {
		return nil
	}
	chats, err := s.adapter.Chats(ctx)
	if err != nil {
		return fmt.Errorf("sync group metadata: %w", err)
	}
	s.available = chats
	s.lastSynced = time.Now()
	return nil
}

func (s *Service) AvailableGroups(ctx context.Context) ([]group.Info, error) {
	if err := s.SyncGroupMetadata(ctx, false); err != nil {
		return nil, err
	}
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	return append([]group.Info(nil), s.available...), nil
}

// groupsSnapshot is the groups.json document a tenant reads to learn which
// chats exist. Non-main tenants see only their own chat.
type groupsSnapshot struct {
	Groups    []snapshotEntry `json:"groups"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type snapshotEntry struct {
	JID        string `json:"jid"`
	Name       string `json:"name"`
	Registered bool   `json:"registered"`
}

func (s *Service) WriteGroupsSnapshot(ctx context.Context, folder string, isMain bool, available []group.Info, registered []string) error {
	dir, err := group.ResolveIPCPath(s.cfg.Root, folder)
	if err != nil {
		return err
	}
	regSet := make(map[string]bool, len(registered))
	for _, jid := range registered {
		regSet[jid] = true
	}

	snap := groupsSnapshot{UpdatedAt: time.Now()}
	for _, info := range available {
		if !isMain {
			owner, ok := s.reg.Get(info.JID)
			if !ok || owner.Folder != folder {
				continue
			}
		}
		snap.Groups = append(snap.Groups, snapshotEntry{
			JID:        info.JID,
			Name:       info.Name,
			Registered: regSet[info.JID],
		})
	}

	return writeJSONAtomic(filepath.Join(dir, "groups.json"), snap)
}

// ---- inbound (connector -> bus) ----

// HandleInbound routes a channel message into the owning tenant's inbox.
// Unregistered chats are ignored; trigger-gated groups only receive
// messages mentioning their trigger word.
func (s *Service) HandleInbound(ctx context.Context, in transport.Inbound) {
	g, ok := s.reg.Get(in.ChatJID)
	if !ok {
		return
	}
	if g.RequiresTrigger && g.Trigger != "" && !mentionsTrigger(in.Text, g.Trigger) {
		return
	}

	dir, err := group.ResolveIPCPath(s.cfg.Root, g.Folder)
	if err != nil {
		s.log.Warn("inbound dropped: bad namespace", logx.String("folder", g.Folder), logx.Err(err))
		return
	}
	inbox := filepath.Join(dir, "inbox")
	if err := os.MkdirAll(inbox, 0o755); err != nil {
		s.log.Error("cannot create inbox", logx.String("folder", g.Folder), logx.Err(err))
		return
	}

	doc := struct {
		ChatJID    string    `json:"chatJid"`
		Sender     string    `json:"sender"`
		Text       string    `json:"text"`
		ReceivedAt time.Time `json:"received_at"`
	}{in.ChatJID, in.Sender, in.Text, time.Now()}

	name := "msg-" + strconv.FormatInt(time.Now().UnixNano(), 10) + ".json"
	if err := writeJSONAtomic(filepath.Join(inbox, name), doc); err != nil {
		s.log.Error("cannot write inbound message",
			logx.String("folder", g.Folder), logx.Err(err))
	}
}

// DeliverPrompt drops a fired task's prompt into the owning tenant's inbox
// for the container to pick up.
func (s *Service) DeliverPrompt(_ context.Context, t task.Task) error {
	dir, err := group.ResolveIPCPath(s.cfg.Root, t.GroupFolder)
	if err != nil {
		return err
	}
	inbox := filepath.Join(dir, "inbox")
	if err := os.MkdirAll(inbox, 0o755); err != nil {
		return err
	}

	doc := struct {
		TaskID      string    `json:"taskId"`
		ChatJID     string    `json:"chatJid"`
		Prompt      string    `json:"prompt"`
		ContextMode string    `json:"context_mode"`
		FiredAt     time.Time `json:"fired_at"`
	}{t.ID, t.ChatJID, t.Prompt, string(t.ContextMode), time.Now()}

	name := t.ID + "-" + strconv.FormatInt(time.Now().UnixNano(), 10) + ".json"
	return writeJSONAtomic(filepath.Join(inbox, name), doc)
}

// provisionNamespace creates the directories a tenant's container expects.
func (s *Service) provisionNamespace(folder string) error {
	dir, err := group.ResolveIPCPath(s.cfg.Root, folder)
	if err != nil {
		return err
	}
	for _, sub := range []string{"messages", "tasks", "inbox"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return err
		}
	}
	return nil
}

// writeJSONAtomic writes via a temp file and same-directory rename, so a
// container never observes a half-written document.
func writeJSONAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".hivebot-tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(b); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// mentionsTrigger reports whether text contains trigger as a standalone
// token, case-insensitively. Occurrences embedded in a longer word don't
// count: trigger "hi" matches "hi there" but not "this".
func mentionsTrigger(text, trigger string) bool {
	trigger = strings.ToLower(strings.TrimSpace(trigger))
	if trigger == "" {
		return false
	}
	text = strings.ToLower(text)

	for from := 0; ; {
		i := strings.Index(text[from:], trigger)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(trigger)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		from = start + 1
	}
}

func boundaryBefore(text string, start int) bool {
	if start == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:start])
	return !isWordRune(r)
}

func boundaryAfter(text string, end int) bool {
	if end == len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[end:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
