package kdu

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jpfielding/djatoka.go/pkg/imageio"
	"github.com/jpfielding/djatoka.go/pkg/logging"
)

// Imaging is what the compressor needs from an image library.
type Imaging interface {
	Dimensions(path string) (int, int, error)
	IsUncompressedTIFF(path string) bool
	ConvertImage(img image.Image, dst string) error
	ConvertFile(src, dst string) error
}

// Compressor turns images into JPEG 2000 by running kdu_compress.
// It is safe for concurrent use; every call owns its temp files.
type Compressor struct {
	platform *Platform
	executor *Executor
	imaging  Imaging
	defaults *EncodeParams
	tempDir  string
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures a Compressor.
type Option func(*Compressor)

// WithLogger sets the logger. Records carry the job attributes attached to
// the call's context.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Compressor) { c.logger = logger }
}

// WithTempDir sets where temp files are created. The default is os.TempDir().
func WithTempDir(dir string) Option {
	return func(c *Compressor) { c.tempDir = dir }
}

// WithImaging replaces the image collaborator.
func WithImaging(imaging Imaging) Option {
	return func(c *Compressor) { c.imaging = imaging }
}

// WithDefaults sets the parameters used when a call passes nil.
func WithDefaults(p *EncodeParams) Option {
	return func(c *Compressor) { c.defaults = p.Clone() }
}

// WithTimeout bounds every job. Zero means no bound beyond the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *Compressor) { c.timeout = d }
}

// New returns a Compressor running the engine described by platform.
func New(platform *Platform, opts ...Option) (*Compressor, error) {
	if platform == nil {
		return nil, newError(KindConfiguration, "new compressor", ErrEngineHomeUnset)
	}
	c := &Compressor{
		platform: platform,
		imaging:  imageio.Converter{},
		defaults: DefaultEncodeParams(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = logging.Component(c.logger, "kdu")
	c.executor = NewExecutor(platform, c.logger)
	return c, nil
}

// Name identifies the codec.
func (c *Compressor) Name() string {
	return "kakadu"
}

// Platform returns the platform the compressor launches engines under.
func (c *Compressor) Platform() *Platform {
	return c.platform
}

// Encode compresses img to w with the default parameters.
func (c *Compressor) Encode(w io.Writer, img image.Image) error {
	return c.CompressImage(context.Background(), img, w, nil)
}

// Command returns the invocation CompressFile would run for input and
// output, without running it. Levels are derived from input when p leaves
// them unset.
func (c *Compressor) Command(input, output string, p *EncodeParams) (*Command, error) {
	params, err := c.resolve(p)
	if err != nil {
		return nil, err
	}
	if err := c.levelsFromFile(params, input); err != nil {
		return nil, err
	}
	cmd, err := BuildCommand(c.platform.Executable, input, output, params)
	if err != nil {
		return nil, newError(KindParameters, "build command", err)
	}
	return cmd, nil
}

// CompressFile compresses the image file input into the JPEG 2000 file
// output. Uncompressed TIFF input is handed to the engine as is; any other
// readable format is converted to a temp TIFF first.
func (c *Compressor) CompressFile(ctx context.Context, input, output string, p *EncodeParams) error {
	ctx, cancel := c.begin(ctx, "compress-file")
	defer cancel()

	params, err := c.resolve(p)
	if err != nil {
		return err
	}
	scratch := NewScratch(c.tempDir, c.logger)
	defer scratch.Release()

	src, err := c.stageFile(ctx, scratch, input)
	if err != nil {
		return err
	}
	if err := c.levelsFromFile(params, src); err != nil {
		return err
	}
	if err := clearOutput(output, src); err != nil {
		return err
	}
	if _, err := c.run(ctx, src, output, params, nil); err != nil {
		return err
	}
	return checkOutput(output)
}

// CompressImageToFile compresses img into the JPEG 2000 file output.
func (c *Compressor) CompressImageToFile(ctx context.Context, img image.Image, output string, p *EncodeParams) error {
	ctx, cancel := c.begin(ctx, "compress-image-to-file")
	defer cancel()

	params, err := c.resolve(p)
	if err != nil {
		return err
	}
	scratch := NewScratch(c.tempDir, c.logger)
	defer scratch.Release()

	src, err := c.stageImage(scratch, img, params)
	if err != nil {
		return err
	}
	if err := clearOutput(output, src); err != nil {
		return err
	}
	if _, err := c.run(ctx, src, output, params, nil); err != nil {
		return err
	}
	return checkOutput(output)
}

// CompressImage compresses img and writes the JPEG 2000 stream to w.
func (c *Compressor) CompressImage(ctx context.Context, img image.Image, w io.Writer, p *EncodeParams) error {
	ctx, cancel := c.begin(ctx, "compress-image")
	defer cancel()

	params, err := c.resolve(p)
	if err != nil {
		return err
	}
	scratch := NewScratch(c.tempDir, c.logger)
	defer scratch.Release()

	src, err := c.stageImage(scratch, img, params)
	if err != nil {
		return err
	}
	out, err := scratch.Create(outputPrefix, jp2Ext)
	if err != nil {
		return newError(KindExecution, "create output", err)
	}
	if _, err := c.run(ctx, src, out.Path(), params, nil); err != nil {
		return err
	}
	return copyOutput(out.Path(), w)
}

// CompressReaderToFile compresses the TIFF read from r into the JPEG 2000
// file output.
func (c *Compressor) CompressReaderToFile(ctx context.Context, r io.Reader, output string, p *EncodeParams) error {
	ctx, cancel := c.begin(ctx, "compress-reader-to-file")
	defer cancel()

	params, err := c.resolve(p)
	if err != nil {
		return err
	}
	scratch := NewScratch(c.tempDir, c.logger)
	defer scratch.Release()

	src, err := c.stageReader(ctx, scratch, r, params)
	if err != nil {
		return err
	}
	if err := clearOutput(output, src); err != nil {
		return err
	}
	if _, err := c.run(ctx, src, output, params, nil); err != nil {
		return err
	}
	return checkOutput(output)
}

// CompressReader compresses the TIFF read from r and writes the JPEG 2000
// stream to w. Where the engine can write to its standard output the
// stream is copied to w while the engine runs; elsewhere it goes through
// a temp file that is copied to w afterwards.
func (c *Compressor) CompressReader(ctx context.Context, r io.Reader, w io.Writer, p *EncodeParams) error {
	ctx, cancel := c.begin(ctx, "compress-reader")
	defer cancel()

	params, err := c.resolve(p)
	if err != nil {
		return err
	}
	scratch := NewScratch(c.tempDir, c.logger)
	defer scratch.Release()

	src, err := c.stageReader(ctx, scratch, r, params)
	if err != nil {
		return err
	}

	if c.platform.StdoutPiping {
		x, err := c.run(ctx, src, StdoutSentinel, params, w)
		if err != nil {
			return err
		}
		if x.Written == 0 {
			return newError(KindExecution, "read output", ErrEmptyOutput)
		}
		return nil
	}

	pipe, err := scratch.Create(pipePrefix, jp2Ext)
	if err != nil {
		return newError(KindExecution, "create output", err)
	}
	if _, err := c.run(ctx, src, pipe.Path(), params, nil); err != nil {
		return err
	}
	return copyOutput(pipe.Path(), w)
}

// begin tags ctx with a job id and applies the compressor's timeout.
func (c *Compressor) begin(ctx context.Context, op string) (context.Context, context.CancelFunc) {
	ctx = logging.AppendCtx(ctx, slog.String("job", uuid.NewString()), slog.String("op", op))
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

func (c *Compressor) resolve(p *EncodeParams) (*EncodeParams, error) {
	if p == nil {
		p = c.defaults
	}
	params := p.Clone()
	if err := params.Validate(); err != nil {
		return nil, newError(KindParameters, "validate params", err)
	}
	return params, nil
}

func (c *Compressor) levelsFromFile(params *EncodeParams, path string) error {
	if params.Levels > 0 {
		return nil
	}
	w, h, err := c.imaging.Dimensions(path)
	if err != nil {
		return newError(KindInputFormat, "probe "+path, err)
	}
	params.Levels = LevelCount(w, h)
	return nil
}

// stageFile returns the path to hand the engine for input, converting it
// to a temp TIFF when it is not already an uncompressed one.
func (c *Compressor) stageFile(ctx context.Context, scratch *Scratch, input string) (string, error) {
	if _, err := os.Stat(input); err != nil {
		return "", newError(KindInputFormat, "open "+input, err)
	}
	if c.imaging.IsUncompressedTIFF(input) {
		return input, nil
	}

	c.logger.DebugContext(ctx, "converting input", "input", input)
	tmp, err := scratch.Create(inputPrefix, tiffExt)
	if err != nil {
		return "", newError(KindExecution, "create input", err)
	}
	if err := c.imaging.ConvertFile(input, tmp.Path()); err != nil {
		return "", newError(KindInputFormat, "convert "+input, fmt.Errorf("unrecognized file format: %w", err))
	}
	return tmp.Path(), nil
}

func (c *Compressor) stageImage(scratch *Scratch, img image.Image, params *EncodeParams) (string, error) {
	if img == nil {
		return "", newError(KindInputFormat, "convert image", errors.New("no image"))
	}
	b := img.Bounds()
	if params.Levels == 0 {
		params.Levels = LevelCount(b.Dx(), b.Dy())
	}
	tmp, err := scratch.Create(inputPrefix, tiffExt)
	if err != nil {
		return "", newError(KindExecution, "create input", err)
	}
	if err := c.imaging.ConvertImage(img, tmp.Path()); err != nil {
		return "", newError(KindInputFormat, "convert image", fmt.Errorf("unrecognized file format: %w", err))
	}
	return tmp.Path(), nil
}

var errUnexpectedFormat = errors.New("unexpected file format; expecting uncompressed TIFF")

// stageReader copies r to a temp file. Bytes that are not an uncompressed
// TIFF are converted when they decode as some other image.
func (c *Compressor) stageReader(ctx context.Context, scratch *Scratch, r io.Reader, params *EncodeParams) (string, error) {
	if r == nil {
		return "", newError(KindInputFormat, "stage input", errUnexpectedFormat)
	}
	staged, err := scratch.Create(inputPrefix, tiffExt)
	if err != nil {
		return "", newError(KindExecution, "create input", err)
	}
	if err := writeFile(staged.Path(), r); err != nil {
		return "", newError(KindInputFormat, "stage input", fmt.Errorf("%w: %w", errUnexpectedFormat, err))
	}

	src := staged.Path()
	if !c.imaging.IsUncompressedTIFF(src) {
		c.logger.DebugContext(ctx, "converting staged input")
		converted, err := scratch.Create(inputPrefix, tiffExt)
		if err != nil {
			return "", newError(KindExecution, "create input", err)
		}
		if err := c.imaging.ConvertFile(src, converted.Path()); err != nil {
			return "", newError(KindInputFormat, "stage input", fmt.Errorf("%w: %w", errUnexpectedFormat, err))
		}
		staged.Release()
		src = converted.Path()
	}

	if params.Levels == 0 {
		w, h, err := c.imaging.Dimensions(src)
		if err != nil {
			return "", newError(KindInputFormat, "probe input", fmt.Errorf("%w: %w", errUnexpectedFormat, err))
		}
		params.Levels = LevelCount(w, h)
	}
	return src, nil
}

func (c *Compressor) run(ctx context.Context, input, output string, params *EncodeParams, stdout io.Writer) (*Execution, error) {
	cmd, err := BuildCommand(c.platform.Executable, input, output, params)
	if err != nil {
		return nil, newError(KindParameters, "build command", err)
	}
	ctx = logging.AppendCtx(ctx, slog.String("params", params.Fingerprint()))
	x, err := c.executor.Run(ctx, cmd, stdout)
	if err != nil {
		return x, err
	}
	c.logger.InfoContext(ctx, "compressed", "output", output, "levels", params.Levels, "took", x.Duration)
	return x, nil
}

func writeFile(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// clearOutput removes a regular file left at output by an earlier run so
// that checkOutput only sees what this run wrote. Directories are left for
// the engine to reject.
func clearOutput(output, input string) error {
	if filepath.Clean(output) == filepath.Clean(input) {
		return nil
	}
	fi, err := os.Lstat(output)
	if err != nil || fi.IsDir() {
		return nil
	}
	if err := os.Remove(output); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return newError(KindExecution, "clear output "+output, err)
	}
	return nil
}

// checkOutput fails a run that exited cleanly but left nothing behind.
func checkOutput(path string) error {
	fi, err := os.Stat(path)
	if err != nil || fi.Size() == 0 {
		return newError(KindExecution, "check output "+path, ErrEmptyOutput)
	}
	return nil
}

func copyOutput(path string, w io.Writer) error {
	if err := checkOutput(path); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return newError(KindExecution, "open output", err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return newError(KindExecution, "copy output", err)
	}
	return nil
}
