package kdu

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Defaults applied by DefaultEncodeParams.
const (
	DefaultSlope            = 51651
	DefaultPrecincts        = "{256,256},{256,256},{128,128}"
	DefaultLayers           = 8
	DefaultProgressionOrder = "RPCL"
	DefaultPacketDivision   = "R"
	DefaultCodeBlockSize    = "{64,64}"
)

// progressionOrders are the orders kdu_compress accepts for Corder.
var progressionOrders = []string{"LRCP", "RLCP", "RPCL", "PCRL", "CPRL"}

// colorSpaces are the -jp2_space names accepted by kdu_compress.
var colorSpaces = []string{"sRGB", "sLUM", "sYCC", "iccLUM", "iccRGB"}

// EncodeParams describes the intent of one compression job.
//
// Optional string fields use "" for "not set". Rate and Slope are
// alternative quality controls; Rate wins when both are present.
// Levels of 0 means "derive from the image dimensions".
type EncodeParams struct {
	Rate             *float64 // bits per pixel, -rate
	Slope            *int     // distortion-length slope, -slope
	Levels           int      // resolution levels, Clevels
	Precincts        string   // Cprecincts
	Layers           int      // quality layers, Clayers (0 = omit)
	ProgressionOrder string   // Corder
	PacketDivision   string   // ORGtparts
	CodeBlockSize    string   // Cblk
	InsertPLT        bool     // ORGgen_plt
	UseReversible    bool     // Creversible
	ColorSpace       string   // -jp2_space
}

// DefaultEncodeParams returns the parameters used when a caller supplies none.
func DefaultEncodeParams() *EncodeParams {
	slope := DefaultSlope
	return &EncodeParams{
		Slope:            &slope,
		Precincts:        DefaultPrecincts,
		Layers:           DefaultLayers,
		ProgressionOrder: DefaultProgressionOrder,
		PacketDivision:   DefaultPacketDivision,
		CodeBlockSize:    DefaultCodeBlockSize,
		InsertPLT:        true,
	}
}

// Clone returns a deep copy of p. A nil p clones the defaults.
func (p *EncodeParams) Clone() *EncodeParams {
	if p == nil {
		return DefaultEncodeParams()
	}
	c := *p
	if p.Rate != nil {
		r := *p.Rate
		c.Rate = &r
	}
	if p.Slope != nil {
		s := *p.Slope
		c.Slope = &s
	}
	return &c
}

// WithLevels returns a copy of p with Levels set.
func (p *EncodeParams) WithLevels(levels int) *EncodeParams {
	c := p.Clone()
	c.Levels = levels
	return c
}

// WithRate returns a copy of p using rate-based quality control.
func (p *EncodeParams) WithRate(rate float64) *EncodeParams {
	c := p.Clone()
	c.Rate = &rate
	return c
}

// WithSlope returns a copy of p using slope-based quality control. Any rate
// is cleared since it would otherwise take precedence.
func (p *EncodeParams) WithSlope(slope int) *EncodeParams {
	c := p.Clone()
	c.Rate = nil
	c.Slope = &slope
	return c
}

// Validate checks p for values the engine would reject and normalises the
// progression order to upper case.
func (p *EncodeParams) Validate() error {
	if p.Rate != nil && *p.Rate <= 0 {
		return fmt.Errorf("rate must be greater than 0, got %v", *p.Rate)
	}
	if p.Slope != nil && *p.Slope < 0 {
		return fmt.Errorf("slope must not be negative, got %d", *p.Slope)
	}
	if p.Levels < 0 {
		return fmt.Errorf("levels must not be negative, got %d", p.Levels)
	}
	if p.Layers < 0 {
		return fmt.Errorf("layers must not be negative, got %d", p.Layers)
	}
	if p.ProgressionOrder != "" {
		order := strings.ToUpper(p.ProgressionOrder)
		if !slices.Contains(progressionOrders, order) {
			return fmt.Errorf("unsupported progression order %q, want one of %s",
				p.ProgressionOrder, strings.Join(progressionOrders, ", "))
		}
		p.ProgressionOrder = order
	}
	if p.ColorSpace != "" && !slices.Contains(colorSpaces, p.ColorSpace) {
		return fmt.Errorf("unsupported colorspace %q, want one of %s",
			p.ColorSpace, strings.Join(colorSpaces, ", "))
	}
	return nil
}

// Fingerprint is a stable UUID for the parameter values, so log records of
// jobs encoded the same way can be grouped.
func (p *EncodeParams) Fingerprint() string {
	raw, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	hash := md5.Sum(raw)
	id, err := uuid.FromBytes(hash[:])
	if err != nil {
		return ""
	}
	return id.String()
}

// LevelCount derives a resolution level count from image dimensions: the
// largest side is halved until it drops below 96 pixels, and each halving
// adds a level. The result is never less than 1.
func LevelCount(width, height int) int {
	side := max(width, height)
	levels := 0
	for side >= 96 {
		side /= 2
		levels++
	}
	return max(levels, 1)
}
