// Package storage persists tasks and registered groups in SQLite.
//
// The database lives next to the IPC root on the host; the per-group
// containers never touch it directly, everything goes through the bus.
package storage
