package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRoot(context.Background(), "abc123")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "abc123\n", out)
}

func TestCommand(t *testing.T) {
	out, err := run(t, "command", "--kakadu-home", "/opt/kakadu",
		"-i", "/data/in.tif", "-o", "/data/out.jp2",
		"--levels", "4", "--rate", "0.5", "--order", "lrcp", "--plt=false")
	require.NoError(t, err)

	line := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(line, filepath.Join("/opt/kakadu", "kdu_compress")+" -quiet -i "), line)
	assert.Contains(t, line, "-rate 0.5 Clevels=4")
	assert.Contains(t, line, "Corder=LRCP")
	assert.Contains(t, line, "ORGgen_plt=no")
	assert.NotContains(t, line, "-slope")
}

func TestCommand_RequiresHome(t *testing.T) {
	t.Setenv("KAKADU_HOME", "")
	_, err := run(t, "command", "-i", "/data/in.tif", "-o", "/data/out.jp2", "--levels", "2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kakadu home is not defined")
}

func TestProbe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 400, 300))))
	require.NoError(t, f.Close())

	out, err := run(t, "probe", path, "--format", "json")
	require.NoError(t, err)

	var got struct {
		Format string
		Width  int
		Height int
		TIFF   bool
		Levels int
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "png", got.Format)
	assert.Equal(t, 400, got.Width)
	assert.Equal(t, 300, got.Height)
	assert.False(t, got.TIFF)
	assert.Equal(t, 3, got.Levels)

	out, err = run(t, "probe", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Dimensions: 400x300")
}

// openFiles lists the paths this process holds open.
func openFiles(t *testing.T) []string {
	t.Helper()
	fds, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skip("no /proc/self/fd")
	}
	var paths []string
	for _, fd := range fds {
		if p, err := os.Readlink(filepath.Join("/proc/self/fd", fd.Name())); err == nil {
			paths = append(paths, p)
		}
	}
	return paths
}

func TestExecute_ClosesLogFileOnFailure(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := t.TempDir()
	logPath := filepath.Join(dir, "ctl.log")
	cfgPath := filepath.Join(dir, "config.yaml")
	yml := "logging:\n  level: LOUD\n  file: " + logPath + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(yml), 0o600))

	err := Execute(context.Background(), "abc123", []string{"--config", cfgPath, "compress", "-i", "in.tif", "-o", "out.jp2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")

	b, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(b), "Invalid log level")
	assert.NotContains(t, openFiles(t), logPath)
}
