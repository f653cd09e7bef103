package datasets

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/banshee-data/lidar-visualizer/internal/fsutil"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/network"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/parse"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/recorder"
)

// DefaultLoader is used for directories nothing more specific matches.
const DefaultLoader = "generic"

var unsupportedExtensions = map[string]string{
	".bag":  "rosbag",
	".mcap": "mcap",
	".db3":  "ROS 2 bag",
}

// Guess picks a loader for path. dataPath is the path to hand to Open, which
// differs from path when a single scan file stands for its directory.
func Guess(fsys fsutil.FileSystem, path string) (name, dataPath string, err error) {
	fsys = fsutil.OrOS(fsys)
	info, err := fsys.Stat(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to open %s: %w", path, err)
	}

	if info.IsDir() {
		if recorder.IsLog(fsys, path) {
			return "vrlog", path, nil
		}
		return DefaultLoader, path, nil
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".pcap" || ext == ".pcapng":
		size, err := network.SniffPayloadSize(fsys, path)
		if err != nil {
			return "", "", err
		}
		if size == parse.PACKET_SIZE_STANDARD || size == parse.PACKET_SIZE_SEQUENCE {
			return "hesai", path, nil
		}
		return "ouster", path, nil
	case ext == recorder.FileExtension:
		return "vrlog", path, nil
	case hasExtension(path, genericExtensions):
		return DefaultLoader, filepath.Dir(path), nil
	}

	if kind, ok := unsupportedExtensions[ext]; ok {
		return "", "", fmt.Errorf("%w: %s files are not supported, convert the %s to .pcd or .bin scans first", ErrUnsupportedFormat, ext, kind)
	}
	return "", "", fmt.Errorf("%w: cannot guess a dataloader for %s, pass --dataloader (available: %s)",
		ErrUnsupportedFormat, path, strings.Join(Available(), ", "))
}
