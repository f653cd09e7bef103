package visualiser

import (
	"github.com/banshee-data/lidar-visualizer/internal/lidar/visualiser/pb"
)

// decimateWire returns a copy of frame keeping every Nth point so that
// roughly ratio of the points remain. A ratio outside (0, 1) returns frame
// unchanged. The input is never modified since it is shared between clients.
func decimateWire(frame *pb.Frame, ratio float32) *pb.Frame {
	n := len(frame.X)
	if ratio <= 0 || ratio >= 1 || n == 0 {
		return frame
	}

	targetCount := int(float32(n) * ratio)
	if targetCount <= 0 {
		targetCount = 1
	}
	stride := n / targetCount
	if stride < 1 {
		stride = 1
	}

	out := *frame
	out.X = make([]float32, 0, targetCount)
	out.Y = make([]float32, 0, targetCount)
	out.Z = make([]float32, 0, targetCount)
	out.RGB = nil
	out.Intensity = nil
	hasRGB := len(frame.RGB) == 3*n
	hasIntensity := len(frame.Intensity) == n
	if hasRGB {
		out.RGB = make([]byte, 0, 3*targetCount)
	}
	if hasIntensity {
		out.Intensity = make([]float32, 0, targetCount)
	}

	for i := 0; i < n && len(out.X) < targetCount; i += stride {
		out.X = append(out.X, frame.X[i])
		out.Y = append(out.Y, frame.Y[i])
		out.Z = append(out.Z, frame.Z[i])
		if hasRGB {
			out.RGB = append(out.RGB, frame.RGB[3*i:3*i+3]...)
		}
		if hasIntensity {
			out.Intensity = append(out.Intensity, frame.Intensity[i])
		}
	}
	return &out
}
