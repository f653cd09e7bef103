package pointcloud

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/stat"
)

// ViridisAnchors are the ten reference colours of the viridis map, the same
// list the chart visual maps use.
var ViridisAnchors = []string{
	"#440154", "#482777", "#3e4989", "#31688e", "#26828e",
	"#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725",
}

// Colormap is a 256-entry lookup table.
type Colormap [256]Color

// Viridis returns the viridis map interpolated from ViridisAnchors.
func Viridis() *Colormap {
	cm, err := FromAnchors(ViridisAnchors)
	if err != nil {
		panic(err)
	}
	return cm
}

// FromAnchors linearly interpolates a colormap through "#rrggbb" anchors.
func FromAnchors(anchors []string) (*Colormap, error) {
	if len(anchors) < 2 {
		return nil, fmt.Errorf("colormap needs at least 2 anchors, got %d", len(anchors))
	}
	cols := make([]Color, len(anchors))
	for i, a := range anchors {
		c, err := parseHex(a)
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}

	var cm Colormap
	segments := float64(len(cols) - 1)
	for i := range cm {
		pos := float64(i) / 255 * segments
		k := int(pos)
		if k >= len(cols)-1 {
			k = len(cols) - 2
		}
		t := pos - float64(k)
		a, b := cols[k], cols[k+1]
		cm[i] = Color{
			R: lerp8(a.R, b.R, t),
			G: lerp8(a.G, b.G, t),
			B: lerp8(a.B, b.B, t),
		}
	}
	return &cm, nil
}

func parseHex(s string) (Color, error) {
	if len(s) != 7 || s[0] != '#' {
		return Color{}, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

func lerp8(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*t))
}

// At maps v in [0, 1] to a colour. Out-of-range and NaN values are clamped.
func (cm *Colormap) At(v float64) Color {
	if math.IsNaN(v) || v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return cm[int(math.Round(v*255))]
}

// ColorizeIntensity colours the frame by intensity divided by its maximum.
// A frame without intensity is left unchanged.
func (f *Frame) ColorizeIntensity(cm *Colormap) {
	if len(f.Intensity) == 0 {
		return
	}
	var max float32
	for _, v := range f.Intensity {
		if v > max {
			max = v
		}
	}
	f.Colors = make([]Color, len(f.Intensity))
	if max <= 0 {
		for i := range f.Colors {
			f.Colors[i] = cm.At(0)
		}
		return
	}
	for i, v := range f.Intensity {
		f.Colors[i] = cm.At(float64(v / max))
	}
}

// ColorizeRange colours the frame by intensity stretched between the lo and
// hi quantiles, which keeps a few bright retro-reflectors from washing out
// the rest of the scan.
func (f *Frame) ColorizeRange(cm *Colormap, lo, hi float64) {
	if len(f.Intensity) == 0 {
		return
	}
	sorted := make([]float64, len(f.Intensity))
	for i, v := range f.Intensity {
		sorted[i] = float64(v)
	}
	sort.Float64s(sorted)
	qlo := stat.Quantile(lo, stat.Empirical, sorted, nil)
	qhi := stat.Quantile(hi, stat.Empirical, sorted, nil)

	f.Colors = make([]Color, len(f.Intensity))
	span := qhi - qlo
	for i, v := range f.Intensity {
		if span <= 0 {
			f.Colors[i] = cm.At(0)
			continue
		}
		f.Colors[i] = cm.At((float64(v) - qlo) / span)
	}
}

// ColorizeHeight colours the frame by z between its bounds.
func (f *Frame) ColorizeHeight(cm *Colormap) {
	min, max, ok := f.Bounds()
	if !ok {
		return
	}
	span := max.Z - min.Z
	f.Colors = make([]Color, len(f.Points))
	for i, p := range f.Points {
		if span <= 0 {
			f.Colors[i] = cm.At(0)
			continue
		}
		f.Colors[i] = cm.At((p.Z - min.Z) / span)
	}
}
