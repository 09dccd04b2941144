// Package transport abstracts the chat channel the host speaks through.
// The IPC core never imports a concrete adapter; it sees JIDs and text.
package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"hivebot/internal/group"
)

// Inbound is one message arriving from a chat the bot is a member of.
type Inbound struct {
	ChatJID  string
	ChatName string
	Sender   string
	Text     string
}

// Handler receives inbound messages. It must not block the poll loop.
type Handler func(ctx context.Context, in Inbound)

// Adapter is a chat-channel connector.
type Adapter interface {
	// Start begins receiving updates and dispatching them to the handler
	// installed with OnInbound. It does not block.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	OnInbound(h Handler)

	SendText(ctx context.Context, jid, text string) error

	// Chats lists the chats the adapter currently knows about.
	Chats(ctx context.Context) ([]group.Info, error)
}

// Telegram chat JIDs look like "<chatID>@tg".
const telegramJIDSuffix = "@tg"

// FormatTelegramJID renders a Telegram chat id as a bus JID.
func FormatTelegramJID(chatID int64) string {
	return strconv.FormatInt(chatID, 10) + telegramJIDSuffix
}

// ParseTelegramJID extracts the chat id from a "<chatID>@tg" JID.
func ParseTelegramJID(jid string) (int64, error) {
	raw, ok := strings.CutSuffix(jid, telegramJIDSuffix)
	if !ok {
		return 0, fmt.Errorf("not a telegram jid: %q", jid)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram jid %q: %w", jid, err)
	}
	return id, nil
}
