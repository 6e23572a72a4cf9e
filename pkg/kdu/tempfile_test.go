package kdu

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScratch_CreateAndRelease(t *testing.T) {
	dir := t.TempDir()
	s := NewScratch(dir, nil)

	in, err := s.Create(inputPrefix, tiffExt)
	require.NoError(t, err)
	pipe, err := s.Create(pipePrefix, jp2Ext)
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(in.Path()))
	assert.Equal(t, dir, filepath.Dir(in.Path()))
	assert.True(t, strings.HasPrefix(filepath.Base(in.Path()), "tmp"))
	assert.True(t, strings.HasSuffix(in.Path(), ".tif"))
	assert.True(t, strings.HasPrefix(filepath.Base(pipe.Path()), "pipe_"))
	assert.True(t, strings.HasSuffix(pipe.Path(), ".jp2"))
	assert.Len(t, s.Files(), 2)

	s.Release()
	assert.NoFileExists(t, in.Path())
	assert.NoFileExists(t, pipe.Path())
	assert.Empty(t, s.Files())

	// a second release is a no-op
	s.Release()
}

func TestScratch_UniqueNames(t *testing.T) {
	s := NewScratch(t.TempDir(), nil)
	defer s.Release()

	var mu sync.Mutex
	seen := map[string]bool{}
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := s.Create(inputPrefix, tiffExt)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			seen[f.Path()] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 50)
}

func TestTempFile_ReleaseOnce(t *testing.T) {
	s := NewScratch(t.TempDir(), nil)
	f, err := s.Create(outputPrefix, jp2Ext)
	require.NoError(t, err)

	f.Release()
	assert.NoFileExists(t, f.Path())

	// recreate the path; an already released file is never touched again
	require.NoError(t, os.WriteFile(f.Path(), []byte("x"), 0o600))
	f.Release()
	s.Release()
	assert.FileExists(t, f.Path())
	assert.NoError(t, f.ReleaseErr())
}

func TestTempFile_ReleaseFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	// a non-empty directory cannot be removed with os.Remove
	dir := filepath.Join(t.TempDir(), "busy")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "child"), 0o755))

	f := &TempFile{path: dir, logger: logger}
	assert.NotPanics(t, f.Release)
	assert.Error(t, f.ReleaseErr())
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "file not deleted")
	assert.Contains(t, buf.String(), dir)
}

func TestTempFile_MissingFileIsNotAnError(t *testing.T) {
	f := &TempFile{path: filepath.Join(t.TempDir(), "gone.jp2"), logger: slog.Default()}
	f.Release()
	assert.NoError(t, f.ReleaseErr())
}
