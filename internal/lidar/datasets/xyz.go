package datasets

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/lidar-visualizer/internal/lidar/pointcloud"
)

// readXYZ decodes whitespace-separated "x y z [intensity]" lines. Blank lines
// and lines starting with '#' are ignored. The first data line decides
// whether intensity is present.
func readXYZ(data []byte, source string) (*pointcloud.Frame, error) {
	var b *cloudBuilder
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(strings.ReplaceAll(text, ",", " "))
		if len(fields) < 3 {
			return nil, fmt.Errorf("%w: %s line %d: expected at least 3 values", ErrUnsupportedFormat, source, line)
		}
		if b == nil {
			b = newCloudBuilder(1024, len(fields) >= 4, false)
		}

		var v [4]float64
		count := 3
		if b.hasI {
			count = 4
		}
		if len(fields) < count {
			return nil, fmt.Errorf("%w: %s line %d: expected %d values", ErrUnsupportedFormat, source, line, count)
		}
		for i := 0; i < count; i++ {
			f, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s line %d: %v", ErrUnsupportedFormat, source, line, err)
			}
			v[i] = f
		}
		b.add(v[0], v[1], v[2], float32(v[3]), pointcloud.Color{})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", source, err)
	}
	if b == nil {
		return &pointcloud.Frame{Source: source}, nil
	}
	return b.frame(source), nil
}
