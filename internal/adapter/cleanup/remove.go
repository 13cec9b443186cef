// Package cleanup deletes batch working files after a delay, off the
// request path. Deletion is idempotent and never raises: failures are
// logged and counted.
package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/fairyhunter13/biodata-screener/internal/adapter/observability"
	obsctx "github.com/fairyhunter13/biodata-screener/internal/observability"
)

// RemoveFile deletes one file. A missing file counts as success.
func RemoveFile(ctx context.Context, path string) bool {
	err := os.Remove(path)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		err = nil
	}
	return report(ctx, path, err)
}

// RemoveAll deletes a directory tree. A missing tree counts as success.
func RemoveAll(ctx context.Context, path string) bool {
	return report(ctx, path, os.RemoveAll(path))
}

// RemovePaths deletes every path, files first and directories last, and
// returns how many were removed or already gone.
func RemovePaths(ctx context.Context, paths []string) int {
	var dirs []string
	n := 0
	for _, p := range paths {
		if fi, err := os.Lstat(p); err == nil && fi.IsDir() {
			dirs = append(dirs, p)
			continue
		}
		if RemoveFile(ctx, p) {
			n++
		}
	}
	for _, d := range dirs {
		if RemoveAll(ctx, d) {
			n++
		}
	}
	return n
}

func report(ctx context.Context, path string, err error) bool {
	observability.RecordCleanup(err)
	if err != nil {
		obsctx.LoggerFromContext(ctx).Error("cleanup failed", slog.String("path", path), slog.Any("error", err))
		return false
	}
	return true
}
