package ipc

import (
	"encoding/json"
	"fmt"
)

// Command kinds accepted on the bus. A message envelope uses TypeMessage;
// everything else is a task command.
const (
	TypeMessage       = "message"
	TypeScheduleTask  = "schedule_task"
	TypePauseTask     = "pause_task"
	TypeResumeTask    = "resume_task"
	TypeCancelTask    = "cancel_task"
	TypeRefreshGroups = "refresh_groups"
	TypeRegisterGroup = "register_group"
)

// Envelope is one decoded bus file. Fields are populated per Type; the
// handlers validate per-kind required fields before acting.
//
// Deliberately absent: any claim about who sent it. Source identity comes
// from the namespace directory alone.
type Envelope struct {
	Type string `json:"type"`

	// message
	ChatJID string `json:"chatJid,omitempty"`
	Text    string `json:"text,omitempty"`

	// schedule_task
	Prompt        string `json:"prompt,omitempty"`
	ScheduleType  string `json:"schedule_type,omitempty"`
	ScheduleValue string `json:"schedule_value,omitempty"`
	ContextMode   string `json:"context_mode,omitempty"`
	TargetJID     string `json:"targetJid,omitempty"`

	// pause_task / resume_task / cancel_task
	TaskID string `json:"taskId,omitempty"`

	// register_group
	JID             string          `json:"jid,omitempty"`
	Name            string          `json:"name,omitempty"`
	Folder          string          `json:"folder,omitempty"`
	Trigger         string          `json:"trigger,omitempty"`
	RequiresTrigger bool            `json:"requiresTrigger,omitempty"`
	ContainerConfig json.RawMessage `json:"containerConfig,omitempty"`
}

var knownTypes = map[string]bool{
	TypeMessage:       true,
	TypeScheduleTask:  true,
	TypePauseTask:     true,
	TypeResumeTask:    true,
	TypeCancelTask:    true,
	TypeRefreshGroups: true,
	TypeRegisterGroup: true,
}

// decodeEnvelope parses raw JSON into an Envelope. An unknown or missing
// type is a decode failure, not a handled rejection: the file goes to
// quarantine like any other malformed entry.
func decodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	if !knownTypes[env.Type] {
		return Envelope{}, fmt.Errorf("unknown envelope type %q", env.Type)
	}
	return env, nil
}
