package ipc

import (
	"context"
	"os"
	"path/filepath"

	"hivebot/internal/group"
	logx "hivebot/pkg/logx"
)

const messagesDirName = "messages"

// processMessages drains <tenant>/messages/*.json: authorize, send, delete.
// Processing failures quarantine the file; denied sends are handled
// instructions and are deleted like successes.
func (s *Scanner) processMessages(ctx context.Context, tenant, tenantDir string, isMain bool, registered map[string]group.Group) {
	for _, path := range s.listEnvelopes(tenant, tenantDir, messagesDirName) {
		name := filepath.Base(path)

		raw, err := os.ReadFile(path)
		if err != nil {
			s.log.Error("cannot read message file",
				logx.String("group", tenant), logx.String("file", name), logx.Err(err))
			quarantine(s.log, s.cfg.Root, tenant, path)
			continue
		}

		env, err := decodeEnvelope(raw)
		if err != nil {
			s.log.Error("malformed message file",
				logx.String("group", tenant), logx.String("file", name), logx.Err(err))
			quarantine(s.log, s.cfg.Root, tenant, path)
			continue
		}

		if env.Type != TypeMessage {
			s.log.Warn("non-message envelope in messages dir, dropping",
				logx.String("group", tenant), logx.String("file", name), logx.String("type", env.Type))
			s.consume(tenant, path)
			continue
		}
		if env.ChatJID == "" || env.Text == "" {
			s.log.Warn("message envelope missing chatJid or text, dropping",
				logx.String("group", tenant), logx.String("file", name))
			s.consume(tenant, path)
			continue
		}

		if !s.authorizeSend(tenant, isMain, env.ChatJID, registered) {
			s.log.Warn("unauthorized message send attempt",
				logx.String("group", tenant),
				logx.String("target", env.ChatJID),
				logx.String("file", name))
			s.consume(tenant, path)
			continue
		}

		if err := s.host.SendMessage(ctx, env.ChatJID, env.Text); err != nil {
			s.log.Error("message send failed",
				logx.String("group", tenant), logx.String("target", env.ChatJID), logx.Err(err))
			quarantine(s.log, s.cfg.Root, tenant, path)
			continue
		}

		s.log.Debug("message forwarded",
			logx.String("group", tenant), logx.String("target", env.ChatJID))
		s.consume(tenant, path)
	}
}

// authorizeSend applies the outbound-message rule: main may reach any chat,
// a regular tenant only chats whose registered owner is that tenant itself.
func (s *Scanner) authorizeSend(tenant string, isMain bool, chatJID string, registered map[string]group.Group) bool {
	if isMain {
		return true
	}
	owner, ok := registered[chatJID]
	return ok && owner.Folder == tenant
}
