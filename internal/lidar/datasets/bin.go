package datasets

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/banshee-data/lidar-visualizer/internal/lidar/pointcloud"
)

const kittiRecordSize = 16

// readKITTIBin decodes a velodyne scan of little-endian float32 x, y, z,
// intensity records.
func readKITTIBin(data []byte, source string) (*pointcloud.Frame, error) {
	if len(data)%kittiRecordSize != 0 {
		return nil, fmt.Errorf("%w: %s size %d is not a multiple of %d (only the KITTI .bin layout is supported)",
			ErrUnsupportedFormat, source, len(data), kittiRecordSize)
	}
	n := len(data) / kittiRecordSize
	b := newCloudBuilder(n, true, false)
	for i := 0; i < n; i++ {
		rec := data[i*kittiRecordSize:]
		b.add(
			float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[0:4]))),
			float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[4:8]))),
			float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[8:12]))),
			math.Float32frombits(binary.LittleEndian.Uint32(rec[12:16])),
			pointcloud.Color{},
		)
	}
	return b.frame(source), nil
}
