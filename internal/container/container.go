// Package container keeps one sandbox container alive per registered group.
//
// Each container gets the group's exchange namespace bind-mounted at a fixed
// path; everything else about the group's runtime is opaque to the host and
// travels through the per-group container_config blob.
package container

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"

	"hivebot/internal/group"
	logx "hivebot/pkg/logx"
)

const (
	groupLabel = "hivebot.group"

	// namespaceTarget is where a group's exchange directory appears
	// inside its container.
	namespaceTarget = "/data/comms"
)

type Config struct {
	Image       string
	Env         []string
	BusRoot     string
	StopTimeout time.Duration
}

// overrides is the subset of a group's container_config the manager honors.
// Unknown fields are preserved by the registry but ignored here.
type overrides struct {
	Image string   `json:"image,omitempty"`
	Env   []string `json:"env,omitempty"`
}

type Manager struct {
	cli *client.Client
	cfg Config
	log logx.Logger

	mu      sync.Mutex
	running map[string]string // folder -> container ID
}

func NewManager(cfg Config, log logx.Logger) (*Manager, error) {
	if cfg.Image == "" {
		return nil, fmt.Errorf("container image is required")
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Manager{
		cli:     cli,
		cfg:     cfg,
		log:     log,
		running: make(map[string]string),
	}, nil
}

// Adopt picks up containers left over from a previous run so Reconcile
// doesn't start duplicates after a restart.
func (m *Manager) Adopt(ctx context.Context) error {
	list, err := m.cli.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("label", groupLabel)),
	})
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range list {
		folder := c.Labels[groupLabel]
		if folder == "" {
			continue
		}
		m.running[folder] = c.ID
		m.log.Info("adopted group container",
			logx.String("folder", folder),
			logx.String("container", shortID(c.ID)))
	}
	return nil
}

// Reconcile starts containers for groups that don't have one and stops
// containers whose group is no longer registered.
func (m *Manager) Reconcile(ctx context.Context, groups map[string]group.Group) error {
	m.mu.Lock()
	stale := make(map[string]string)
	for folder, id := range m.running {
		stale[folder] = id
	}
	m.mu.Unlock()

	var firstErr error
	for _, g := range groups {
		delete(stale, g.Folder)
		if err := m.ensure(ctx, g); err != nil {
			m.log.Warn("container start failed",
				logx.String("folder", g.Folder), logx.Err(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	for folder, id := range stale {
		if err := m.remove(ctx, folder, id); err != nil {
			m.log.Warn("container remove failed",
				logx.String("folder", folder), logx.Err(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m *Manager) ensure(ctx context.Context, g group.Group) error {
	m.mu.Lock()
	_, ok := m.running[g.Folder]
	m.mu.Unlock()
	if ok {
		return nil
	}

	image := m.cfg.Image
	env := append([]string(nil), m.cfg.Env...)
	if len(g.ContainerConfig) > 0 {
		var ov overrides
		if err := json.Unmarshal(g.ContainerConfig, &ov); err != nil {
			m.log.Warn("unreadable container_config; using defaults",
				logx.String("folder", g.Folder), logx.Err(err))
		} else {
			if ov.Image != "" {
				image = ov.Image
			}
			env = append(env, ov.Env...)
		}
	}
	env = append(env, "HIVEBOT_GROUP="+g.Folder)

	resp, err := m.cli.ContainerCreate(ctx,
		&container.Config{
			Image:  image,
			Env:    env,
			Labels: map[string]string{groupLabel: g.Folder},
		},
		&container.HostConfig{
			Mounts: []mount.Mount{{
				Type:   mount.TypeBind,
				Source: filepath.Join(m.cfg.BusRoot, g.Folder),
				Target: namespaceTarget,
			}},
			RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
		},
		nil, nil, containerName(g.Folder))
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	m.mu.Lock()
	m.running[g.Folder] = resp.ID
	m.mu.Unlock()
	m.log.Info("group container started",
		logx.String("folder", g.Folder),
		logx.String("container", shortID(resp.ID)),
		logx.String("image", image))
	return nil
}

func (m *Manager) remove(ctx context.Context, folder, id string) error {
	secs := int(m.cfg.StopTimeout / time.Second)
	if err := m.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	if err := m.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	m.mu.Lock()
	delete(m.running, folder)
	m.mu.Unlock()
	m.log.Info("group container removed",
		logx.String("folder", folder),
		logx.String("container", shortID(id)))
	return nil
}

// StopAll stops every tracked container. Containers are left in place so a
// later Adopt can pick them up again.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	tracked := make(map[string]string, len(m.running))
	for folder, id := range m.running {
		tracked[folder] = id
	}
	m.mu.Unlock()

	secs := int(m.cfg.StopTimeout / time.Second)
	for folder, id := range tracked {
		if err := m.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}); err != nil {
			m.log.Warn("container stop failed",
				logx.String("folder", folder), logx.Err(err))
		}
	}
}

func (m *Manager) Close() error { return m.cli.Close() }

func containerName(folder string) string { return "hivebot-" + folder }

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
