// Package spool stores uploaded files on disk for the duration of one batch.
package spool

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dontdude/goscribe/internal/domain"
	"github.com/google/uuid"
)

// ext is appended to every spooled upload; the original name never reaches the filesystem.
const ext = ".blob"

// Spool writes uploads under a single directory.
type Spool struct {
	dir string
}

// New creates dir if missing.
func New(dir string) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp dir %s: %w: %w", dir, err, domain.ErrStartup)
	}
	return &Spool{dir: dir}, nil
}

// Dir returns the directory uploads are written to.
func (s *Spool) Dir() string {
	return s.dir
}

// Save streams r to a fresh <uuid>.blob file and returns the job describing it.
// A partially written file is removed on error.
func (s *Spool) Save(batchID, name string, r io.Reader) (domain.Job, error) {
	path := filepath.Join(s.dir, uuid.NewString()+ext)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return domain.Job{}, fmt.Errorf("creating %s: %w", path, err)
	}

	_, err = io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return domain.Job{}, fmt.Errorf("writing %s: %w", name, err)
	}

	return domain.Job{Name: name, Path: path, BatchID: batchID}, nil
}

// Remove deletes the upload of every job and its normalized audio.
func (s *Spool) Remove(jobs ...domain.Job) {
	for _, job := range jobs {
		for _, p := range []string{job.Path, domain.NormalizedPath(job.Path)} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				slog.Warn("Failed to remove temp file", "path", p, "error", err)
			}
		}
	}
}
