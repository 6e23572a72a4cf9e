package kdu

import (
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
)

// ExecutableName is the base name of the compression engine.
const ExecutableName = "kdu_compress"

// OSFamily groups operating systems by how the engine must be launched.
type OSFamily int

const (
	// FamilyLinux covers Linux, Solaris/illumos and the other unix systems
	// that search LD_LIBRARY_PATH for shared libraries.
	FamilyLinux OSFamily = iota
	// FamilyDarwin covers macOS and iOS, which use DYLD_LIBRARY_PATH.
	FamilyDarwin
	// FamilyWindows needs no library variable and cannot write to a
	// stdout pipe by path.
	FamilyWindows
)

func (f OSFamily) String() string {
	switch f {
	case FamilyLinux:
		return "linux"
	case FamilyDarwin:
		return "darwin"
	case FamilyWindows:
		return "windows"
	default:
		return "unknown"
	}
}

// FamilyOf maps a GOOS value to its OSFamily.
func FamilyOf(goos string) OSFamily {
	switch goos {
	case "windows":
		return FamilyWindows
	case "darwin", "ios":
		return FamilyDarwin
	default:
		return FamilyLinux
	}
}

// LibraryPathVar returns the shared library search variable for the family.
func (f OSFamily) LibraryPathVar() string {
	switch f {
	case FamilyDarwin:
		return "DYLD_LIBRARY_PATH"
	case FamilyWindows:
		return ""
	default:
		return "LD_LIBRARY_PATH"
	}
}

// Platform is the process-wide engine configuration. It is resolved once
// at startup and never modified afterwards, so a single value can be
// shared by any number of concurrent jobs.
type Platform struct {
	Home           string   // engine home, also the engine's working directory
	Executable     string   // absolute path of kdu_compress
	Family         OSFamily // operating system family
	LibraryPathVar string   // LD_LIBRARY_PATH, DYLD_LIBRARY_PATH or "" on windows
	LibraryPath    string   // value injected for LibraryPathVar
	StdoutPiping   bool     // engine can write to StdoutSentinel

	environ []string
}

// DetectPlatform resolves the platform for the running process.
func DetectPlatform(home string) (*Platform, error) {
	return ResolvePlatform(home, runtime.GOOS, os.Getenv)
}

// ResolvePlatform resolves the platform for goos. Only the library path is
// read through getenv; the rest of the engine environment is os.Environ()
// at the time of the call. WithEnviron replaces it.
func ResolvePlatform(home, goos string, getenv func(string) string) (*Platform, error) {
	if strings.TrimSpace(home) == "" {
		return nil, newError(KindConfiguration, "resolve platform", ErrEngineHomeUnset)
	}
	if getenv == nil {
		getenv = os.Getenv
	}

	family := FamilyOf(goos)
	exe := ExecutableName
	if family == FamilyWindows {
		exe += ".exe"
	}

	p := &Platform{
		Home:           home,
		Executable:     filepath.Join(home, exe),
		Family:         family,
		LibraryPathVar: family.LibraryPathVar(),
		StdoutPiping:   family != FamilyWindows,
		environ:        os.Environ(),
	}
	if p.LibraryPathVar != "" {
		p.LibraryPath = getenv(p.LibraryPathVar)
	}
	return p, nil
}

// WithLibraryPath returns a copy of p injecting path instead of the
// ambient library path.
func (p *Platform) WithLibraryPath(path string) *Platform {
	c := *p
	c.LibraryPath = path
	return &c
}

// WithEnviron returns a copy of p whose engines see env, a list of
// KEY=value pairs, instead of the process environment. The library
// variable is still set from p.LibraryPath.
func (p *Platform) WithEnviron(env []string) *Platform {
	c := *p
	c.environ = slices.Clone(env)
	return &c
}

// WithStdoutPiping returns a copy of p with stdout routing forced on or off.
func (p *Platform) WithStdoutPiping(enabled bool) *Platform {
	c := *p
	c.StdoutPiping = enabled
	return &c
}

// Environ returns the engine's environment: the environment captured when
// p was resolved with the library variable set to p.LibraryPath.
func (p *Platform) Environ() []string {
	env := make([]string, 0, len(p.environ)+1)
	for _, kv := range p.environ {
		if p.LibraryPathVar != "" && strings.HasPrefix(kv, p.LibraryPathVar+"=") {
			continue
		}
		env = append(env, kv)
	}
	if p.LibraryPathVar != "" {
		env = append(env, p.LibraryPathVar+"="+p.LibraryPath)
	}
	return env
}
