package ipc

import (
	"math/rand"
	"strconv"
	"time"
)

// newTaskID builds a time-prefixed id with a random base36 suffix.
//
// The suffix is not cryptographic; at this platform's task volume the
// collision probability is negligible, and keeping the scheme stable keeps
// ids recognizable in logs and in the store.
func newTaskID(now time.Time) string {
	suffix := strconv.FormatUint(rand.Uint64(), 36)
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return "task-" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + suffix
}
