package ipc

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"hivebot/internal/group"
	"hivebot/internal/task"
	logx "hivebot/pkg/logx"
)

// Host is everything the bus needs from the trusted host process: outbound
// sends, the tenant registry, and group metadata plumbing. Task persistence
// comes separately through task.Store.
type Host interface {
	SendMessage(ctx context.Context, jid, text string) error

	RegisteredGroups() map[string]group.Group
	RegisterGroup(ctx context.Context, g group.Group) error

	SyncGroupMetadata(ctx context.Context, force bool) error
	AvailableGroups(ctx context.Context) ([]group.Info, error)
	WriteGroupsSnapshot(ctx context.Context, folder string, isMain bool, available []group.Info, registered []string) error
}

// Config controls the namespace scanner.
type Config struct {
	// Root is the IPC root directory; each immediate subdirectory (except
	// the errors area) is one tenant namespace.
	Root string
	// Interval is the delay between the end of one pass and the start of
	// the next. A slow pass stretches the effective period; passes never
	// overlap.
	Interval time.Duration
	// MainFolder is the namespace of the distinguished main tenant.
	MainFolder string
	// Location is the time zone cron expressions are evaluated in.
	Location *time.Location
}

// Scanner polls the IPC root and drives message and task-command processing.
// One Scanner per process; Start is idempotent.
type Scanner struct {
	cfg   Config
	host  Host
	store task.Store
	log   logx.Logger

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	now func() time.Time
}

func NewScanner(cfg Config, host Host, store task.Store, log logx.Logger) *Scanner {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scanner{
		cfg:    cfg,
		host:   host,
		store:  store,
		log:    log,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		now:    time.Now,
	}
}

// Start launches the polling loop. Calling it on an already-running scanner
// is a no-op, not an error.
func (s *Scanner) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug("scanner already running")
		return
	}
	s.log.Info("ipc scanner started",
		logx.String("root", s.cfg.Root),
		logx.Duration("interval", s.cfg.Interval))

	go func() {
		defer close(s.doneCh)
		for {
			s.Sweep(ctx)

			// Re-arm only after the pass completes, so a slow pass
			// throttles the interval instead of overlapping itself.
			timer := time.NewTimer(s.cfg.Interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-s.stopCh:
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()
}

// Stop signals the loop and waits for the in-flight pass to finish, or for
// ctx to expire.
func (s *Scanner) Stop(ctx context.Context) {
	if !s.running.Load() {
		return
	}
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	select {
	case <-s.doneCh:
		s.log.Info("ipc scanner stopped")
	case <-ctx.Done():
	}
}

// Sweep runs one full pass over every tenant namespace. Exported so tests
// and the runner can drive the bus without the polling loop.
func (s *Scanner) Sweep(ctx context.Context) {
	entries, err := os.ReadDir(s.cfg.Root)
	if err != nil {
		s.log.Warn("cannot list ipc root", logx.String("root", s.cfg.Root), logx.Err(err))
		return
	}

	// One registry snapshot per pass; registration during a pass becomes
	// visible on the next one.
	registered := s.host.RegisteredGroups()

	for _, e := range entries {
		if !e.IsDir() || e.Name() == ErrorsDirName {
			continue
		}
		folder := e.Name()
		if !group.ValidFolder(folder) {
			s.log.Warn("skipping unsafe namespace folder", logx.String("folder", folder))
			continue
		}

		tenantDir, err := resolveWithin(s.cfg.Root, filepath.Join(s.cfg.Root, folder))
		if err != nil {
			s.log.Warn("namespace failed boundary check",
				logx.String("folder", folder), logx.Err(err))
			continue
		}

		isMain := folder == s.cfg.MainFolder
		s.processMessages(ctx, folder, tenantDir, isMain, registered)
		s.processTaskCommands(ctx, folder, tenantDir, isMain, registered)
	}
}

// listEnvelopes validates sub as a genuine directory inside tenantDir and
// returns the canonical paths of its *.json entries. A missing subdirectory
// is normal (the tenant just has nothing pending of that kind).
func (s *Scanner) listEnvelopes(tenant, tenantDir, sub string) []string {
	dir := filepath.Join(tenantDir, sub)
	if _, err := os.Lstat(dir); err != nil {
		return nil
	}
	if err := requireDir(dir); err != nil {
		s.log.Warn("ipc subdirectory is not a directory",
			logx.String("group", tenant), logx.String("sub", sub), logx.Err(err))
		return nil
	}
	resolved, err := resolveWithin(tenantDir, dir)
	if err != nil {
		s.log.Warn("ipc subdirectory failed boundary check",
			logx.String("group", tenant), logx.String("sub", sub), logx.Err(err))
		return nil
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		s.log.Warn("cannot list ipc subdirectory",
			logx.String("group", tenant), logx.String("sub", sub), logx.Err(err))
		return nil
	}

	var out []string
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			continue
		}
		p := filepath.Join(resolved, e.Name())
		if err := requireRegularFile(p); err != nil {
			s.log.Warn("skipping irregular ipc entry",
				logx.String("group", tenant), logx.String("file", e.Name()), logx.Err(err))
			continue
		}
		cp, err := resolveWithin(resolved, p)
		if err != nil {
			s.log.Warn("ipc entry failed boundary check",
				logx.String("group", tenant), logx.String("file", e.Name()), logx.Err(err))
			continue
		}
		out = append(out, cp)
	}
	return out
}

// consume deletes a processed file; failure to delete is logged but does not
// abort the pass.
func (s *Scanner) consume(tenant, path string) {
	if err := os.Remove(path); err != nil {
		s.log.Error("cannot delete processed ipc file",
			logx.String("group", tenant), logx.String("file", filepath.Base(path)), logx.Err(err))
	}
}
