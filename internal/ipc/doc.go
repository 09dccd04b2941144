// Package ipc implements the filesystem bus between the trusted host and
// the isolated per-group processes.
//
// Each tenant owns one namespace directory under the IPC root. The container
// drops JSON envelopes into <folder>/messages/ and <folder>/tasks/; the
// scanner picks them up, authorizes them, and executes or rejects them.
//
// The sender's identity is derived from the namespace directory the file was
// found in, never from envelope content. Everything else in this package
// exists to keep that statement true: canonical-path boundary checks,
// lstat-based symlink rejection, and quarantine for anything unprocessable.
package ipc
