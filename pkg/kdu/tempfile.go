package kdu

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Temp file kinds created by the bridge.
const (
	tiffExt = ".tif"
	jp2Ext  = ".jp2"

	inputPrefix  = "tmp"
	outputPrefix = "tmp"
	pipePrefix   = "pipe_"
)

// TempFile is a file owned by exactly one job. Release deletes it; a
// deletion failure is logged and kept in ReleaseErr but never returned,
// so it cannot mask the job's own result.
type TempFile struct {
	path   string
	logger *slog.Logger

	once       sync.Once
	releaseErr error
}

// Path returns the absolute path of the file.
func (t *TempFile) Path() string {
	return t.path
}

// Release deletes the file. Only the first call does anything.
func (t *TempFile) Release() {
	t.once.Do(func() {
		err := os.Remove(t.path)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return
		}
		t.releaseErr = err
		t.logger.Warn("file not deleted", "path", t.path, "error", err)
	})
}

// ReleaseErr returns the deletion failure recorded by Release, if any.
func (t *TempFile) ReleaseErr() error {
	return t.releaseErr
}

// Scratch creates the temp files for one job and releases all of them
// together. It is meant to be used as
//
//	scratch := NewScratch(dir, logger)
//	defer scratch.Release()
//
// so that every return path, including panics and cancellation, cleans up.
type Scratch struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	files []*TempFile
}

// NewScratch returns a Scratch creating files in dir, or in os.TempDir()
// when dir is empty.
func NewScratch(dir string, logger *slog.Logger) *Scratch {
	if dir == "" {
		dir = os.TempDir()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scratch{dir: dir, logger: logger}
}

// Create makes a new empty file named <prefix><uuid><ext>. The file is
// created exclusively so two jobs can never share one.
func (s *Scratch) Create(prefix, ext string) (*TempFile, error) {
	dir, err := filepath.Abs(s.dir)
	if err != nil {
		return nil, fmt.Errorf("resolving temp dir %s: %w", s.dir, err)
	}
	path := filepath.Join(dir, prefix+uuid.NewString()+ext)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("closing temp file %s: %w", path, err)
	}

	t := &TempFile{path: path, logger: s.logger}
	s.mu.Lock()
	s.files = append(s.files, t)
	s.mu.Unlock()
	return t, nil
}

// Release deletes every file created by s.
func (s *Scratch) Release() {
	s.mu.Lock()
	files := s.files
	s.files = nil
	s.mu.Unlock()

	for _, t := range files {
		t.Release()
	}
}

// Files returns the files currently owned by s.
func (s *Scratch) Files() []*TempFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*TempFile(nil), s.files...)
}
