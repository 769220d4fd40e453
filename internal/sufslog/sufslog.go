// Package sufslog is the diagnostic-printf sink described in spec.md §1/§7:
// a place for mount failures to log before returning an error to their
// caller, and for the page-memory, slab and ATA layers to report invariant
// violations through Fatal. It wraps github.com/dsoprea/go-logging the way
// hellin-go-ext4's superblock reader does (github.com/dsoprea/go-logging is
// imported under the name "log"), so recoverable disk errors are recorded
// with call-chain context instead of a bare fmt.Printf.
package sufslog

import (
	log "github.com/dsoprea/go-logging"
)

var cls = log.NewLogContext("sufsos")

// Errorf records a recoverable I/O or policy failure (a failed superblock
// read, a mount validation failure, ...). It never panics and never aborts the
// caller; it mirrors the teacher's bare Printf diagnostic calls
// (mem.Phys_init, ufs.BootMemFS) but keeps the wrapped error available to
// upstream callers that want %+v-style stack context.
func Errorf(err error, format string, args ...interface{}) {
	if err != nil {
		err = log.Wrap(err)
	}
	cls.Errorf(nil, format, args...)
	if err != nil {
		cls.Debugf(nil, "%+v", err)
	}
}

// Infof records a non-error diagnostic (device probed, volume mounted).
func Infof(format string, args ...interface{}) {
	cls.Infof(nil, format, args...)
}

// Fatal reports a structural/invariant violation and panics, mirroring the
// bare-metal panic(msg, file, line) sink of spec.md §7. Callers at the
// bitmap/slab/ATA layers that hit a condition which would corrupt memory or
// disk if execution continued should call this instead of returning an
// error.
func Fatal(msg string) {
	log.Panic(errorString(msg))
}

type errorString string

func (e errorString) Error() string { return string(e) }
