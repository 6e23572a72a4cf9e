package cmd

import (
	"github.com/jpfielding/djatoka.go/pkg/kdu"
	"github.com/spf13/pflag"
)

// addParamFlags registers the encode parameter flags.
func addParamFlags(fs *pflag.FlagSet) {
	fs.Float64("rate", 0, "target bits per pixel (-rate); takes precedence over --slope")
	fs.Int("slope", kdu.DefaultSlope, "distortion-length slope (-slope)")
	fs.Int("levels", 0, "resolution levels (Clevels); 0 derives them from the image size")
	fs.String("precincts", kdu.DefaultPrecincts, "precinct sizes (Cprecincts)")
	fs.Int("layers", kdu.DefaultLayers, "quality layers (Clayers)")
	fs.String("order", kdu.DefaultProgressionOrder, "progression order (Corder): LRCP, RLCP, RPCL, PCRL, CPRL")
	fs.String("tparts", kdu.DefaultPacketDivision, "tile-part division (ORGtparts)")
	fs.String("cblk", kdu.DefaultCodeBlockSize, "code-block size (Cblk)")
	fs.Bool("plt", true, "insert packet length markers (ORGgen_plt)")
	fs.Bool("reversible", false, "reversible wavelet (Creversible)")
	fs.String("jp2-space", "", "JP2 colour space (-jp2_space): sRGB, sLUM, sYCC, iccLUM, iccRGB")
}

// paramsFromFlags applies every flag the user actually set on top of base.
func paramsFromFlags(fs *pflag.FlagSet, base *kdu.EncodeParams) *kdu.EncodeParams {
	p := base.Clone()
	if fs.Changed("slope") {
		v, _ := fs.GetInt("slope")
		p = p.WithSlope(v)
	}
	if fs.Changed("rate") {
		v, _ := fs.GetFloat64("rate")
		p = p.WithRate(v)
	}
	if fs.Changed("levels") {
		p.Levels, _ = fs.GetInt("levels")
	}
	if fs.Changed("precincts") {
		p.Precincts, _ = fs.GetString("precincts")
	}
	if fs.Changed("layers") {
		p.Layers, _ = fs.GetInt("layers")
	}
	if fs.Changed("order") {
		p.ProgressionOrder, _ = fs.GetString("order")
	}
	if fs.Changed("tparts") {
		p.PacketDivision, _ = fs.GetString("tparts")
	}
	if fs.Changed("cblk") {
		p.CodeBlockSize, _ = fs.GetString("cblk")
	}
	if fs.Changed("plt") {
		p.InsertPLT, _ = fs.GetBool("plt")
	}
	if fs.Changed("reversible") {
		p.UseReversible, _ = fs.GetBool("reversible")
	}
	if fs.Changed("jp2-space") {
		p.ColorSpace, _ = fs.GetString("jp2-space")
	}
	return p
}
