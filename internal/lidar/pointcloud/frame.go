package pointcloud

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// Color is an 8-bit RGB triple.
type Color struct {
	R, G, B uint8
}

// Frame is one timestamped point-cloud sample in a sequence.
type Frame struct {
	// Index is the frame's position within its dataset.
	Index int
	// Timestamp is zero when the source carries no time information.
	Timestamp time.Time
	// Points are in metres, in the sensor frame.
	Points []r3.Vec
	// Intensity and Colors are optional; when set they are parallel to Points.
	Intensity []float32
	Colors    []Color
	// Source names the file or stream the frame was read from.
	Source string
}

// Len returns the number of points.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Points)
}

// HasColors reports whether per-point colours are present.
func (f *Frame) HasColors() bool {
	return f != nil && len(f.Colors) > 0
}

// Validate checks that optional attributes are parallel to Points.
func (f *Frame) Validate() error {
	n := len(f.Points)
	if len(f.Intensity) != 0 && len(f.Intensity) != n {
		return fmt.Errorf("frame %d: %d intensity values for %d points", f.Index, len(f.Intensity), n)
	}
	if len(f.Colors) != 0 && len(f.Colors) != n {
		return fmt.Errorf("frame %d: %d colours for %d points", f.Index, len(f.Colors), n)
	}
	return nil
}

// Bounds returns the axis-aligned bounding box. ok is false for an empty frame.
func (f *Frame) Bounds() (min, max r3.Vec, ok bool) {
	if f.Len() == 0 {
		return r3.Vec{}, r3.Vec{}, false
	}
	min = r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	max = r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, p := range f.Points {
		min.X, max.X = math.Min(min.X, p.X), math.Max(max.X, p.X)
		min.Y, max.Y = math.Min(min.Y, p.Y), math.Max(max.Y, p.Y)
		min.Z, max.Z = math.Min(min.Z, p.Z), math.Max(max.Z, p.Z)
	}
	return min, max, true
}

// Centroid returns the mean point, or the origin for an empty frame.
func (f *Frame) Centroid() r3.Vec {
	if f.Len() == 0 {
		return r3.Vec{}
	}
	var sum r3.Vec
	for _, p := range f.Points {
		sum = r3.Add(sum, p)
	}
	return r3.Scale(1/float64(len(f.Points)), sum)
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	out := *f
	out.Points = append([]r3.Vec(nil), f.Points...)
	if f.Intensity != nil {
		out.Intensity = append([]float32(nil), f.Intensity...)
	}
	if f.Colors != nil {
		out.Colors = append([]Color(nil), f.Colors...)
	}
	return &out
}

// subset builds a new frame holding the points at the given indices.
func (f *Frame) subset(keep []int) *Frame {
	out := &Frame{
		Index:     f.Index,
		Timestamp: f.Timestamp,
		Source:    f.Source,
		Points:    make([]r3.Vec, len(keep)),
	}
	if len(f.Intensity) > 0 {
		out.Intensity = make([]float32, len(keep))
	}
	if len(f.Colors) > 0 {
		out.Colors = make([]Color, len(keep))
	}
	for j, i := range keep {
		out.Points[j] = f.Points[i]
		if out.Intensity != nil {
			out.Intensity[j] = f.Intensity[i]
		}
		if out.Colors != nil {
			out.Colors[j] = f.Colors[i]
		}
	}
	return out
}
