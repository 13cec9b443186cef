package usecase

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fairyhunter13/biodata-screener/internal/domain"
)

// DownloadService serves working files until their deferred cleanup runs.
type DownloadService struct {
	WorkDir string
}

// NewDownloadService constructs a DownloadService rooted at workDir.
func NewDownloadService(workDir string) DownloadService {
	return DownloadService{WorkDir: workDir}
}

// Resolve returns the on-disk path of batchID/filename, confined to WorkDir.
func (s DownloadService) Resolve(batchID, filename string) (string, error) {
	if !validSegment(batchID) || !validSegment(filename) {
		return "", fmt.Errorf("%w: file not found", domain.ErrNotFound)
	}
	root, err := filepath.Abs(s.WorkDir)
	if err != nil {
		return "", fmt.Errorf("op=download.Resolve: %w", err)
	}
	p := filepath.Join(root, batchID, filename)
	rel, err := filepath.Rel(root, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: file not found", domain.ErrNotFound)
	}
	return p, nil
}

// Open opens the working file for reading. A missing file, including one
// already removed by cleanup, yields domain.ErrNotFound.
func (s DownloadService) Open(_ domain.Context, batchID, filename string) (*os.File, os.FileInfo, error) {
	p, err := s.Resolve(batchID, filename)
	if err != nil {
		return nil, nil, err
	}
	// #nosec G304 -- path confined to WorkDir above
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: file not found", domain.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("op=download.Open: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("op=download.Open: %w", err)
	}
	if fi.IsDir() {
		_ = f.Close()
		return nil, nil, fmt.Errorf("%w: file not found", domain.ErrNotFound)
	}
	return f, fi, nil
}

func validSegment(s string) bool {
	switch s {
	case "", ".", "..", domain.BatchDoneMarker:
		return false
	}
	return !strings.ContainsAny(s, "/\\\x00")
}
