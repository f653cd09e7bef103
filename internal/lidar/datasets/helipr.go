package datasets

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/banshee-data/lidar-visualizer/internal/lidar/pointcloud"
)

// heliprLayout describes the packed little-endian record of one HeLiPR
// sensor. colorOffset locates the attribute used for colouring.
type heliprLayout struct {
	name        string
	size        int
	colorOffset int
	colorType   scalarType
}

var heliprLayouts = []heliprLayout{
	// x y z f32, reflectivity u8, tag u8, line u8, offset_time u32
	{name: "avia", size: 19, colorOffset: 12, colorType: scalarType{kindUint, 1}},
	// x y z f32, reflectivity f32, velocity f32, time_offset_ns i32, line_index u8, intensity f32
	{name: "aeva", size: 29, colorOffset: 25, colorType: scalarType{kindFloat, 4}},
	// x y z f32, intensity f32, t u32, reflectivity u16, ring u16, ambient u16
	{name: "ouster", size: 26, colorOffset: 12, colorType: scalarType{kindFloat, 4}},
	// x y z f32, intensity f32, ring u16, time f32
	{name: "velodyne", size: 22, colorOffset: 12, colorType: scalarType{kindFloat, 4}},
}

// heliprLayoutFor picks the record layout from the sensor directory name.
func heliprLayoutFor(dir string) (heliprLayout, error) {
	base := strings.ToLower(filepath.Base(filepath.Clean(dir)))
	for _, l := range heliprLayouts {
		if strings.Contains(base, l.name) {
			return l, nil
		}
	}
	return heliprLayout{}, fmt.Errorf("%w: unsupported HeLiPR LiDAR type %q (directory name must contain avia, aeva, ouster or velodyne)",
		ErrUnsupportedFormat, filepath.Base(dir))
}

func (l heliprLayout) read(data []byte, source string) (*pointcloud.Frame, error) {
	if len(data)%l.size != 0 {
		return nil, fmt.Errorf("%w: %s size %d is not a multiple of the %s record size %d",
			ErrUnsupportedFormat, source, len(data), l.name, l.size)
	}
	n := len(data) / l.size
	b := newCloudBuilder(n, true, false)
	for i := 0; i < n; i++ {
		rec := data[i*l.size:]
		b.add(
			float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[0:4]))),
			float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[4:8]))),
			float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[8:12]))),
			float32(l.colorType.decode(rec[l.colorOffset:], binary.LittleEndian)),
			pointcloud.Color{},
		)
	}
	return b.frame(source), nil
}

func openHeLiPR(_ context.Context, dir string, opts Options) (Dataset, error) {
	layout, err := heliprLayoutFor(dir)
	if err != nil {
		return nil, err
	}
	fsys := opts.fs()
	files, err := listScans(fsys, dir, []string{".bin"}, opts.Pattern)
	if err != nil {
		return nil, err
	}
	return &fileDataset{fsys: fsys, files: files, read: layout.read}, nil
}
