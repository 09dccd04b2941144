package ipc

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"hivebot/internal/group"
	"hivebot/internal/task"
	logx "hivebot/pkg/logx"
)

const tasksDirName = "tasks"

// processTaskCommands drains <tenant>/tasks/*.json. A handler returning an
// error means the instruction could not be processed (store/send failure,
// malformed content) and the file is quarantined. Semantic rejections -
// denied authorization, invalid schedule, missing fields - are handled
// instructions: the handler logs, returns nil, and the file is deleted.
func (s *Scanner) processTaskCommands(ctx context.Context, tenant, tenantDir string, isMain bool, registered map[string]group.Group) {
	for _, path := range s.listEnvelopes(tenant, tenantDir, tasksDirName) {
		name := filepath.Base(path)

		raw, err := os.ReadFile(path)
		if err != nil {
			s.log.Error("cannot read task command file",
				logx.String("group", tenant), logx.String("file", name), logx.Err(err))
			quarantine(s.log, s.cfg.Root, tenant, path)
			continue
		}

		env, err := decodeEnvelope(raw)
		if err != nil {
			s.log.Error("malformed task command file",
				logx.String("group", tenant), logx.String("file", name), logx.Err(err))
			quarantine(s.log, s.cfg.Root, tenant, path)
			continue
		}

		if err := s.handleCommand(ctx, env, tenant, isMain, registered); err != nil {
			s.log.Error("task command failed",
				logx.String("group", tenant), logx.String("file", name),
				logx.String("type", env.Type), logx.Err(err))
			quarantine(s.log, s.cfg.Root, tenant, path)
			continue
		}

		s.consume(tenant, path)
	}
}

func (s *Scanner) handleCommand(ctx context.Context, env Envelope, tenant string, isMain bool, registered map[string]group.Group) error {
	switch env.Type {
	case TypeScheduleTask:
		return s.handleScheduleTask(ctx, env, tenant, isMain, registered)
	case TypePauseTask:
		return s.handleSetTaskStatus(ctx, env, tenant, isMain, task.StatusPaused)
	case TypeResumeTask:
		return s.handleSetTaskStatus(ctx, env, tenant, isMain, task.StatusActive)
	case TypeCancelTask:
		return s.handleCancelTask(ctx, env, tenant, isMain)
	case TypeRefreshGroups:
		return s.handleRefreshGroups(ctx, tenant, isMain)
	case TypeRegisterGroup:
		return s.handleRegisterGroup(ctx, env, tenant, isMain)
	case TypeMessage:
		s.log.Warn("message envelope in tasks dir, dropping", logx.String("group", tenant))
		return nil
	default:
		// decodeEnvelope already screens types; keep the scanner alive anyway.
		s.log.Warn("unhandled command type", logx.String("group", tenant), logx.String("type", env.Type))
		return nil
	}
}

func (s *Scanner) handleScheduleTask(ctx context.Context, env Envelope, tenant string, isMain bool, registered map[string]group.Group) error {
	if env.Prompt == "" || env.ScheduleType == "" || env.ScheduleValue == "" || env.TargetJID == "" {
		s.log.Warn("schedule_task missing required fields",
			logx.String("group", tenant))
		return nil
	}

	owner, ok := registered[env.TargetJID]
	if !ok {
		s.log.Warn("schedule_task target is not a registered group",
			logx.String("group", tenant), logx.String("target", env.TargetJID))
		return nil
	}
	if !isMain && owner.Folder != tenant {
		s.log.Warn("schedule_task denied: target belongs to another group",
			logx.String("group", tenant),
			logx.String("target", env.TargetJID),
			logx.String("owner", owner.Folder))
		return nil
	}

	now := s.now()
	at, err := NextRun(env.ScheduleType, env.ScheduleValue, now, s.cfg.Location)
	if err != nil {
		s.log.Warn("schedule_task rejected: bad schedule",
			logx.String("group", tenant),
			logx.String("schedule_type", env.ScheduleType),
			logx.String("schedule_value", env.ScheduleValue),
			logx.Err(err))
		return nil
	}

	mode := task.ContextIsolated
	if task.ContextMode(env.ContextMode) == task.ContextGroup {
		mode = task.ContextGroup
	}

	t := task.Task{
		ID:            newTaskID(now),
		GroupFolder:   owner.Folder,
		ChatJID:       env.TargetJID,
		Prompt:        env.Prompt,
		ScheduleType:  task.ScheduleType(env.ScheduleType),
		ScheduleValue: env.ScheduleValue,
		ContextMode:   mode,
		NextRun:       &at,
		Status:        task.StatusActive,
		CreatedAt:     now,
	}
	if err := s.store.CreateTask(ctx, t); err != nil {
		return err
	}

	s.log.Info("task scheduled",
		logx.String("group", tenant),
		logx.String("task", t.ID),
		logx.String("schedule_type", env.ScheduleType),
		logx.Time("next_run", at))
	return nil
}

func (s *Scanner) handleSetTaskStatus(ctx context.Context, env Envelope, tenant string, isMain bool, status task.Status) error {
	t, ok, err := s.ownedTask(ctx, env, tenant, isMain)
	if err != nil || !ok {
		return err
	}
	t.Status = status
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return err
	}
	s.log.Info("task status changed",
		logx.String("group", tenant), logx.String("task", t.ID), logx.String("status", string(status)))
	return nil
}

func (s *Scanner) handleCancelTask(ctx context.Context, env Envelope, tenant string, isMain bool) error {
	t, ok, err := s.ownedTask(ctx, env, tenant, isMain)
	if err != nil || !ok {
		return err
	}
	if err := s.store.DeleteTask(ctx, t.ID); err != nil {
		return err
	}
	s.log.Info("task cancelled", logx.String("group", tenant), logx.String("task", t.ID))
	return nil
}

// ownedTask loads the task named by env.TaskID and applies the ownership
// rule shared by pause/resume/cancel. ok=false with nil error means the
// command was rejected (already logged) and should be dropped normally.
func (s *Scanner) ownedTask(ctx context.Context, env Envelope, tenant string, isMain bool) (task.Task, bool, error) {
	if env.TaskID == "" {
		s.log.Warn("task command missing taskId",
			logx.String("group", tenant), logx.String("type", env.Type))
		return task.Task{}, false, nil
	}
	t, err := s.store.GetTaskByID(ctx, env.TaskID)
	if errors.Is(err, task.ErrNotFound) {
		s.log.Warn("task command for unknown task",
			logx.String("group", tenant), logx.String("task", env.TaskID))
		return task.Task{}, false, nil
	}
	if err != nil {
		return task.Task{}, false, err
	}
	if !isMain && t.GroupFolder != tenant {
		s.log.Warn("task command denied: task owned by another group",
			logx.String("group", tenant),
			logx.String("task", t.ID),
			logx.String("owner", t.GroupFolder))
		return task.Task{}, false, nil
	}
	return t, true, nil
}

func (s *Scanner) handleRefreshGroups(ctx context.Context, tenant string, isMain bool) error {
	if !isMain {
		s.log.Warn("refresh_groups denied: main group only", logx.String("group", tenant))
		return nil
	}
	if err := s.host.SyncGroupMetadata(ctx, true); err != nil {
		return err
	}
	available, err := s.host.AvailableGroups(ctx)
	if err != nil {
		return err
	}

	// Re-read the registry: the sync may have changed it.
	registered := s.host.RegisteredGroups()
	jids := make([]string, 0, len(registered))
	for jid := range registered {
		jids = append(jids, jid)
	}
	for _, g := range registered {
		if err := s.host.WriteGroupsSnapshot(ctx, g.Folder, g.Folder == s.cfg.MainFolder, available, jids); err != nil {
			return err
		}
	}
	s.log.Info("group metadata refreshed",
		logx.String("group", tenant), logx.Int("groups", len(registered)))
	return nil
}

func (s *Scanner) handleRegisterGroup(ctx context.Context, env Envelope, tenant string, isMain bool) error {
	if !isMain {
		s.log.Warn("register_group denied: main group only", logx.String("group", tenant))
		return nil
	}
	if env.JID == "" || env.Name == "" || env.Folder == "" || env.Trigger == "" {
		s.log.Warn("register_group missing required fields", logx.String("group", tenant))
		return nil
	}
	if !group.ValidFolder(env.Folder) {
		s.log.Warn("register_group rejected: unsafe folder name",
			logx.String("group", tenant), logx.String("folder", env.Folder))
		return nil
	}

	g := group.Group{
		JID:             env.JID,
		Name:            env.Name,
		Folder:          env.Folder,
		Trigger:         env.Trigger,
		RequiresTrigger: env.RequiresTrigger,
		ContainerConfig: env.ContainerConfig,
		AddedAt:         s.now(),
	}
	if err := s.host.RegisterGroup(ctx, g); err != nil {
		return err
	}
	s.log.Info("group registered",
		logx.String("jid", g.JID), logx.String("folder", g.Folder), logx.String("by", tenant))
	return nil
}
