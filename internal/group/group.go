package group

import (
	"encoding/json"
	"time"
)

// Group is one registered tenant: a chat identity (JID) bound to a
// filesystem namespace (Folder) under the IPC root.
//
// The Folder is the unit of trust for the IPC bus: a process writing into
// <ipc-root>/<folder>/ acts as that tenant, and nothing else. JIDs are
// opaque channel identities owned by the transport adapter.
type Group struct {
	JID             string          `json:"jid"`
	Name            string          `json:"name"`
	Folder          string          `json:"folder"`
	Trigger         string          `json:"trigger"`
	RequiresTrigger bool            `json:"requires_trigger"`
	ContainerConfig json.RawMessage `json:"container_config,omitempty"`
	AddedAt         time.Time       `json:"added_at"`
}

// Info describes a chat the transport adapter can currently see,
// independent of whether it is registered as a tenant.
type Info struct {
	JID  string `json:"jid"`
	Name string `json:"name"`
}
