package kdu

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeOutput is what the stand-in engines write as their "JPEG 2000" stream.
const fakeOutput = "jP2 FAKE codestream"

// Script bodies for the stand-in engine. Every variant records its
// arguments, one per line, in args.txt in its working directory.
const (
	engineOK = `out=""
while [ $# -gt 0 ]; do
	if [ "$1" = "-o" ]; then out="$2"; fi
	shift
done
printf 'jP2 FAKE codestream' > "$out"
`
	engineDiagnostic = `echo "Kakadu Core Error: illegal Cblk value" >&2
exit 0
`
	engineEmpty = "exit 0\n"
	engineFails = "exit 3\n"
	engineSlow  = "exec sleep 30\n"
	engineEnv   = "printf '%s' \"$LD_LIBRARY_PATH\" > env.txt\n"
	engineLarge = "head -c 262144 /dev/zero\n"
)

// fakeEngine installs a shell script named kdu_compress into a fresh engine
// home and returns the platform pointing at it.
func fakeEngine(t *testing.T, body string) *Platform {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stand-in engine is a POSIX shell script")
	}
	home := t.TempDir()
	script := "#!/bin/sh\nprintf '%s\\n' \"$@\" > args.txt\n" + body
	require.NoError(t, os.WriteFile(filepath.Join(home, ExecutableName), []byte(script), 0o755))

	p, err := ResolvePlatform(home, runtime.GOOS, os.Getenv)
	require.NoError(t, err)
	return p
}

// engineArgs returns the arguments the stand-in engine last received, or
// nil when it never ran.
func engineArgs(t *testing.T, p *Platform) []string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(p.Home, "args.txt"))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
}

// argAfter returns the argument following flag.
func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
