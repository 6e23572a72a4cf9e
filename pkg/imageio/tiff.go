// Package imageio provides the image collaborators the compression bridge
// consumes: dimension probing, TIFF and uncompressed-TIFF detection, and
// materializing images as uncompressed TIFF files the engine can read.
//
// Decoders for TIFF, BMP, WebP, PNG, JPEG and GIF are registered, so any
// of those formats can be probed or converted.
package imageio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// TIFF tag and value constants used when inspecting the first IFD.
const (
	tagCompression     = 259
	compressionNone    = 1
	typeShort          = 3
	typeLong           = 4
	ifdEntrySize       = 12
	maxIFDEntries      = 4096
	tiffHeaderSize     = 8
	littleEndianHeader = "II*\x00"
	bigEndianHeader    = "MM\x00*"

	bigTIFFLittleEndian = "II+\x00"
	bigTIFFBigEndian    = "MM\x00+"
)

var (
	ErrNotTIFF         = errors.New("not a TIFF file")
	ErrUnsupportedTIFF = errors.New("unsupported TIFF variant")
)

// Info summarizes what the bridge needs to know about an input file.
type Info struct {
	Path         string
	Format       string // decoder name, e.g. "tiff", "png"
	Width        int
	Height       int
	TIFF         bool
	Compression  uint16 // TIFF compression tag, 0 when not a TIFF
	Uncompressed bool
}

// Inspect probes path for its format, dimensions and TIFF compression.
func Inspect(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	info := &Info{Path: path, Format: format, Width: cfg.Width, Height: cfg.Height}

	if c, err := compression(f); err == nil {
		info.TIFF = true
		info.Compression = c
		info.Uncompressed = c == compressionNone
	}
	return info, nil
}

// Dimensions returns the width and height of the image at path.
func Dimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(bufio.NewReader(f))
	if err != nil {
		return 0, 0, fmt.Errorf("decoding %s: %w", path, err)
	}
	return cfg.Width, cfg.Height, nil
}

// IsTIFF reports whether path starts with a TIFF byte-order header.
func IsTIFF(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	var header [4]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return false
	}
	h := string(header[:])
	return h == littleEndianHeader || h == bigEndianHeader
}

// IsUncompressedTIFF reports whether path is a TIFF whose first image is
// stored without compression.
func IsUncompressedTIFF(path string) bool {
	c, err := Compression(path)
	return err == nil && c == compressionNone
}

// Compression returns the compression tag of the first IFD of the TIFF at
// path. A missing tag means no compression.
func Compression(path string) (uint16, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return compression(f)
}

func compression(r io.ReaderAt) (uint16, error) {
	var header [tiffHeaderSize]byte
	if _, err := r.ReadAt(header[:], 0); err != nil {
		return 0, ErrNotTIFF
	}

	var order binary.ByteOrder
	switch string(header[:4]) {
	case littleEndianHeader:
		order = binary.LittleEndian
	case bigEndianHeader:
		order = binary.BigEndian
	case bigTIFFLittleEndian, bigTIFFBigEndian:
		return 0, ErrUnsupportedTIFF
	default:
		return 0, ErrNotTIFF
	}

	offset := int64(order.Uint32(header[4:]))
	var countBuf [2]byte
	if _, err := r.ReadAt(countBuf[:], offset); err != nil {
		return 0, fmt.Errorf("reading IFD at %d: %w", offset, err)
	}
	count := int(order.Uint16(countBuf[:]))
	if count > maxIFDEntries {
		return 0, fmt.Errorf("IFD at %d claims %d entries", offset, count)
	}

	entries := make([]byte, count*ifdEntrySize)
	if _, err := r.ReadAt(entries, offset+2); err != nil {
		return 0, fmt.Errorf("reading IFD entries: %w", err)
	}
	for i := 0; i < count; i++ {
		e := entries[i*ifdEntrySize : (i+1)*ifdEntrySize]
		if order.Uint16(e[0:2]) != tagCompression {
			continue
		}
		switch order.Uint16(e[2:4]) {
		case typeShort:
			return order.Uint16(e[8:10]), nil
		case typeLong:
			return uint16(order.Uint32(e[8:12])), nil
		default:
			return 0, fmt.Errorf("compression tag has unexpected type %d", order.Uint16(e[2:4]))
		}
	}
	return compressionNone, nil
}

// WriteTIFF encodes img to w as an uncompressed TIFF. Paletted and other
// images without a direct TIFF layout are expanded to RGBA first.
func WriteTIFF(w io.Writer, img image.Image) error {
	switch img.(type) {
	case *image.Gray, *image.Gray16, *image.RGBA, *image.RGBA64, *image.NRGBA, *image.NRGBA64:
	default:
		b := img.Bounds()
		rgba := image.NewRGBA(b)
		draw.Draw(rgba, b, img, b.Min, draw.Src)
		img = rgba
	}
	return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Uncompressed})
}

// Converter implements the image collaborators on the local filesystem.
type Converter struct{}

// Dimensions returns the width and height of the image at path.
func (Converter) Dimensions(path string) (int, int, error) {
	return Dimensions(path)
}

// IsUncompressedTIFF reports whether path can be handed to the engine as is.
func (Converter) IsUncompressedTIFF(path string) bool {
	return IsUncompressedTIFF(path)
}

// ConvertImage writes img to dst as an uncompressed TIFF.
func (Converter) ConvertImage(img image.Image, dst string) error {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return fmt.Errorf("invalid image dimensions %dx%d", b.Dx(), b.Dy())
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := WriteTIFF(bw, img); err != nil {
		f.Close()
		return fmt.Errorf("encoding tiff: %w", err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ConvertFile decodes the image at src, in any registered format, and
// writes it to dst as an uncompressed TIFF.
func (c Converter) ConvertFile(src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	img, _, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("decoding %s: %w", src, err)
	}
	return c.ConvertImage(img, dst)
}
