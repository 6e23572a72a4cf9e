package kdu

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCommand_RateScenario(t *testing.T) {
	p := DefaultEncodeParams().WithRate(0.05).WithLevels(5)
	cmd, err := BuildCommand("/opt/kakadu/kdu_compress", "/data/in.tif", "/data/out.jp2", p)
	require.NoError(t, err)

	want := []string{
		"/opt/kakadu/kdu_compress", "-quiet",
		"-i", "/data/in.tif",
		"-o", "/data/out.jp2",
		"-rate", "0.05",
		"Clevels=5",
		"Cprecincts=" + DefaultPrecincts,
		"Clayers=8",
		"Corder=RPCL",
		"ORGtparts=R",
		"Cblk={64,64}",
		"ORGgen_plt=yes",
		"Creversible=no",
	}
	assert.Equal(t, want, cmd.Args)
	assert.False(t, cmd.Has("-slope"))
	assert.False(t, cmd.Has("-jp2_space"))
	assert.Equal(t, "/opt/kakadu/kdu_compress", cmd.Path())
}

func TestBuildCommand_Deterministic(t *testing.T) {
	p := DefaultEncodeParams().WithLevels(3)
	p.ColorSpace = "sLUM"
	p.UseReversible = true

	first, err := BuildCommand("kdu_compress", "/a/in.tif", "/a/out.jp2", p)
	require.NoError(t, err)
	for range 5 {
		again, err := BuildCommand("kdu_compress", "/a/in.tif", "/a/out.jp2", p)
		require.NoError(t, err)
		assert.Equal(t, first.Args, again.Args)
	}
	assert.True(t, first.Has("Creversible=yes"))
	assert.Equal(t, []string{"-jp2_space", "sLUM"}, first.Args[len(first.Args)-2:])
}

func TestBuildCommand_SlopeFallback(t *testing.T) {
	p := DefaultEncodeParams().WithLevels(4)
	p.Slope = nil
	cmd, err := BuildCommand("kdu_compress", "/in.tif", "/out.jp2", p)
	require.NoError(t, err)
	assert.Contains(t, cmd.String(), "-slope 51651 Clevels=4")

	p.Slope = new(int)
	*p.Slope = 40000
	cmd, err = BuildCommand("kdu_compress", "/in.tif", "/out.jp2", p)
	require.NoError(t, err)
	assert.Contains(t, cmd.String(), "-slope 40000 Clevels=4")
}

func TestBuildCommand_OmitsUnsetOptionals(t *testing.T) {
	p := &EncodeParams{Levels: 2}
	cmd, err := BuildCommand("kdu_compress", "/in.tif", "/out.jp2", p)
	require.NoError(t, err)
	assert.Equal(t, "kdu_compress -quiet -i /in.tif -o /out.jp2 -slope 51651 Clevels=2 ORGgen_plt=no Creversible=no", cmd.String())
}

func TestBuildCommand_QuotesSpaces(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "my scans", "page 1.tif")
	p := DefaultEncodeParams().WithLevels(1)
	p.Precincts = "{256,256}, {128,128}"

	cmd, err := BuildCommand("kdu_compress", in, StdoutSentinel, p)
	require.NoError(t, err)
	assert.Equal(t, `"`+in+`"`, cmd.Args[3])
	assert.Equal(t, StdoutSentinel, cmd.Args[5])
	assert.True(t, cmd.Has(`Cprecincts="{256,256}, {128,128}"`))

	argv := cmd.Argv()
	assert.Equal(t, in, argv[3])
	assert.Contains(t, argv, "Cprecincts={256,256}, {128,128}")
	for _, a := range argv {
		assert.False(t, strings.Contains(a, `"`), a)
	}
}

func TestBuildCommand_RelativePathsBecomeAbsolute(t *testing.T) {
	cmd, err := BuildCommand("kdu_compress", "in.tif", "out.jp2", DefaultEncodeParams().WithLevels(1))
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cmd.Args[3]))
	assert.True(t, filepath.IsAbs(cmd.Args[5]))
}

func TestBuildCommand_RequiresLevels(t *testing.T) {
	_, err := BuildCommand("kdu_compress", "/in.tif", "/out.jp2", DefaultEncodeParams())
	assert.Error(t, err)
	_, err = BuildCommand("kdu_compress", "/in.tif", "/out.jp2", nil)
	assert.Error(t, err)
}
