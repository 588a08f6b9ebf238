// Package audit implements the Audit Sink component (spec.md §4.12): a
// maintenance helper that rotates the State Store's append-only audit
// stream once it crosses a size threshold, compressing the rolled segment.
// The Store owns writing new records; this package only owns rotation, so
// it can run on its own periodic loop without taking the Store's audit lock
// for the hot append path.
package audit

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Rotator rotates and compresses a line-delimited audit log once it exceeds
// MaxBytes.
type Rotator struct {
	Path     string
	MaxBytes int64
	Logger   *slog.Logger
}

// RotateIfNeeded compresses the current audit log into a timestamped
// ".gz" segment and truncates the live file, if it has grown past MaxBytes.
// Failures are logged and swallowed (spec.md §4.11 "failures are logged and
// swallowed" governs maintenance-loop work generally).
func (r *Rotator) RotateIfNeeded() {
	info, err := os.Stat(r.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger().Warn("audit rotation stat failed", "error", err)
		}
		return
	}
	if info.Size() < r.MaxBytes {
		return
	}

	if err := r.rotate(); err != nil {
		r.logger().Warn("audit rotation failed", "error", err)
	}
}

func (r *Rotator) rotate() error {
	src, err := os.Open(r.Path) //nolint:gosec // operator-configured audit path
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer src.Close()

	segment := filepath.Join(filepath.Dir(r.Path), fmt.Sprintf("%s.%d.gz", filepath.Base(r.Path), time.Now().Unix()))
	dst, err := os.Create(segment) //nolint:gosec // derived from operator-configured dir
	if err != nil {
		return fmt.Errorf("create audit segment: %w", err)
	}
	defer dst.Close()

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		return fmt.Errorf("compress audit segment: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("finalize audit segment: %w", err)
	}

	return os.Truncate(r.Path, 0)
}

func (r *Rotator) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
