package pointcloud

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// DecimationMode selects how Decimate thins a frame.
type DecimationMode string

const (
	DecimationNone    DecimationMode = "none"
	DecimationUniform DecimationMode = "uniform"
	DecimationVoxel   DecimationMode = "voxel"
)

// ParseDecimationMode validates a mode name.
func ParseDecimationMode(s string) (DecimationMode, error) {
	switch m := DecimationMode(s); m {
	case DecimationNone, DecimationUniform, DecimationVoxel:
		return m, nil
	case "":
		return DecimationNone, nil
	}
	return "", fmt.Errorf("unknown decimation mode %q", s)
}

// Decimate returns a thinned copy of the frame; the receiver is not modified.
// Uniform keeps every Nth point so that about ratio of the points remain;
// ratio must be in (0, 1]. Voxel keeps the first point, in input order, of
// each occupied cube of edge leaf metres.
func (f *Frame) Decimate(mode DecimationMode, ratio, leaf float64) *Frame {
	switch mode {
	case DecimationUniform:
		if ratio <= 0 || ratio >= 1 {
			return f.Clone()
		}
		return f.subset(uniformKeep(len(f.Points), ratio))
	case DecimationVoxel:
		if leaf <= 0 || len(f.Points) == 0 {
			return f.Clone()
		}
		return f.subset(voxelKeep(f.Points, leaf))
	default:
		return f.Clone()
	}
}

func uniformKeep(n int, ratio float64) []int {
	target := int(float64(n) * ratio)
	if target <= 0 {
		target = 1
	}
	stride := n / target
	if stride < 1 {
		stride = 1
	}
	keep := make([]int, 0, target)
	for i := 0; i < n && len(keep) < target; i += stride {
		keep = append(keep, i)
	}
	return keep
}

func voxelKeep(points []r3.Vec, leaf float64) []int {
	inv := 1 / leaf
	seen := make(map[[3]int64]struct{}, len(points)/4)
	keep := make([]int, 0, len(points)/4)
	for i, p := range points {
		k := [3]int64{
			int64(math.Floor(p.X * inv)),
			int64(math.Floor(p.Y * inv)),
			int64(math.Floor(p.Z * inv)),
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keep = append(keep, i)
	}
	return keep
}
