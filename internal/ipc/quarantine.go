package ipc

import (
	"fmt"
	"os"
	"path/filepath"

	logx "hivebot/pkg/logx"
)

// ErrorsDirName is the quarantine area under the IPC root.
const ErrorsDirName = "errors"

// quarantine moves an unprocessable file into <root>/errors/, renamed to
// <tenant>-<origName> so the same basename from two tenants cannot collide.
//
// The quarantine directory itself is boundary-checked first; if it resolves
// outside the IPC root the move is aborted rather than scattering files into
// untrusted territory. Move failures are logged, never fatal: one bad file
// must not stop the scanner.
func quarantine(log logx.Logger, root, tenant, src string) {
	dir := filepath.Join(root, ErrorsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Error("quarantine dir unavailable", logx.String("dir", dir), logx.Err(err))
		return
	}
	resolved, err := resolveWithin(root, dir)
	if err != nil {
		log.Error("quarantine dir escapes ipc root, aborting move",
			logx.String("dir", dir), logx.Err(err))
		return
	}

	dst := filepath.Join(resolved, fmt.Sprintf("%s-%s", tenant, filepath.Base(src)))
	if err := os.Rename(src, dst); err != nil {
		log.Error("quarantine move failed",
			logx.String("group", tenant), logx.String("file", src), logx.Err(err))
		return
	}
	log.Warn("file quarantined",
		logx.String("group", tenant),
		logx.String("file", filepath.Base(src)),
		logx.String("dest", dst))
}
