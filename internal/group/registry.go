package group

import (
	"errors"
	"sync"
)

var ErrNotFound = errors.New("group not found")

// Registry is the in-memory tenant registry, keyed by JID.
//
// The IPC scanner reads it via Snapshot() once per tick; writes happen only
// through Register (host registration flows and the register_group command).
type Registry struct {
	mu     sync.RWMutex
	byJID  map[string]Group
	main   string // folder of the main tenant
}

func NewRegistry(mainFolder string) *Registry {
	return &Registry{
		byJID: make(map[string]Group),
		main:  mainFolder,
	}
}

// MainFolder returns the folder of the distinguished main tenant.
func (r *Registry) MainFolder() string { return r.main }

// IsMain reports whether folder is the main tenant's namespace.
func (r *Registry) IsMain(folder string) bool { return folder != "" && folder == r.main }

// Snapshot returns a copy of the full registry keyed by JID.
func (r *Registry) Snapshot() map[string]Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Group, len(r.byJID))
	for jid, g := range r.byJID {
		out[jid] = g
	}
	return out
}

// Get returns the group registered under jid.
func (r *Registry) Get(jid string) (Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.byJID[jid]
	return g, ok
}

// FindByFolder returns the group owning the given namespace folder.
func (r *Registry) FindByFolder(folder string) (Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, g := range r.byJID {
		if g.Folder == folder {
			return g, true
		}
	}
	return Group{}, false
}

// Register inserts or overwrites the group registered under g.JID.
func (r *Registry) Register(g Group) {
	r.mu.Lock()
	r.byJID[g.JID] = g
	r.mu.Unlock()
}

// Replace swaps the whole registry content (used when loading from storage).
func (r *Registry) Replace(groups map[string]Group) {
	cp := make(map[string]Group, len(groups))
	for jid, g := range groups {
		cp[jid] = g
	}
	r.mu.Lock()
	r.byJID = cp
	r.mu.Unlock()
}

// JIDs returns all registered chat identities.
func (r *Registry) JIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byJID))
	for jid := range r.byJID {
		out = append(out, jid)
	}
	return out
}
