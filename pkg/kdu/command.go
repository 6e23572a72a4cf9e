package kdu

import (
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// StdoutSentinel is the output path that routes the engine's output to its
// standard output.
const StdoutSentinel = "/dev/stdout"

// Command is a built engine invocation.
//
// Args is the logical argument vector, executable first, with values that
// contain spaces wrapped in double quotes. Argv is what is actually handed
// to the operating system.
type Command struct {
	Args []string
}

// BuildCommand maps an input path, output path and resolved parameters to
// the engine's argument vector. p.Levels must already be positive.
//
// The order is fixed:
//
//	<exe> -quiet -i <in> -o <out> (-rate r | -slope s) Clevels=n [Cprecincts=p]
//	  [Clayers=l] [Corder=o] [ORGtparts=t] [Cblk=b] ORGgen_plt=yes|no
//	  Creversible=yes|no [-jp2_space cs]
func BuildCommand(exe, input, output string, p *EncodeParams) (*Command, error) {
	if p == nil {
		return nil, fmt.Errorf("encode params are required")
	}
	if p.Levels <= 0 {
		return nil, fmt.Errorf("levels must be resolved before building a command, got %d", p.Levels)
	}

	args := []string{exe, "-quiet",
		"-i", escape(absPath(input)),
		"-o", escape(absPath(output)),
	}

	switch {
	case p.Rate != nil:
		args = append(args, "-rate", strconv.FormatFloat(*p.Rate, 'f', -1, 64))
	case p.Slope != nil:
		args = append(args, "-slope", strconv.Itoa(*p.Slope))
	default:
		args = append(args, "-slope", strconv.Itoa(DefaultSlope))
	}

	args = append(args, "Clevels="+strconv.Itoa(p.Levels))
	if p.Precincts != "" {
		args = append(args, "Cprecincts="+escape(p.Precincts))
	}
	if p.Layers > 0 {
		args = append(args, "Clayers="+strconv.Itoa(p.Layers))
	}
	if p.ProgressionOrder != "" {
		args = append(args, "Corder="+p.ProgressionOrder)
	}
	if p.PacketDivision != "" {
		args = append(args, "ORGtparts="+p.PacketDivision)
	}
	if p.CodeBlockSize != "" {
		args = append(args, "Cblk="+escape(p.CodeBlockSize))
	}
	args = append(args, "ORGgen_plt="+yesNo(p.InsertPLT))
	args = append(args, "Creversible="+yesNo(p.UseReversible))
	if p.ColorSpace != "" {
		args = append(args, "-jp2_space", p.ColorSpace)
	}

	return &Command{Args: args}, nil
}

// Path returns the executable.
func (c *Command) Path() string {
	return c.Args[0]
}

// String joins the logical arguments the way they would appear on a
// command line.
func (c *Command) String() string {
	return strings.Join(c.Args, " ")
}

// Argv returns the vector passed to the engine. The quotes added by escape
// only group words for a tokenizer; with no shell in between they are
// stripped here so the engine sees the bare value. Values that themselves
// contain quote characters are not supported.
func (c *Command) Argv() []string {
	argv := make([]string, len(c.Args))
	for i, arg := range c.Args {
		argv[i] = strings.ReplaceAll(arg, `"`, "")
	}
	return argv
}

// Has reports whether the logical vector contains arg.
func (c *Command) Has(arg string) bool {
	return slices.Contains(c.Args, arg)
}

func escape(value string) string {
	if strings.Contains(value, " ") {
		return `"` + value + `"`
	}
	return value
}

func absPath(path string) string {
	if path == StdoutSentinel {
		return path
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
