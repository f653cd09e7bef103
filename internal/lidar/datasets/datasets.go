// Package datasets turns on-disk LiDAR recordings into indexed sequences of
// point-cloud frames. Each supported layout is a named loader in a registry;
// the CLI selects one by name or lets Guess pick it from the path.
package datasets

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/banshee-data/lidar-visualizer/internal/db"
	"github.com/banshee-data/lidar-visualizer/internal/fsutil"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/pointcloud"
)

var (
	ErrUnknownLoader     = errors.New("unknown dataloader")
	ErrSequenceRequired  = errors.New(`you must specify a sequence "--sequence"`)
	ErrNoScans           = errors.New("no scans found")
	ErrIndexOutOfRange   = errors.New("frame index out of range")
	ErrMissingMetadata   = errors.New("missing metadata")
	ErrUnsupportedFormat = errors.New("unsupported format")
)

// Dataset is an indexed sequence of frames with a length known up front.
type Dataset interface {
	Len() int
	Frame(ctx context.Context, idx int) (*pointcloud.Frame, error)
	Close() error
}

// Options carries loader parameters from the command line.
type Options struct {
	Sequence *int
	Topic    string
	Meta     string
	Pattern  string
	Cache    *db.IndexCache
	FS       fsutil.FileSystem
}

func (o Options) fs() fsutil.FileSystem { return fsutil.OrOS(o.FS) }

// OpenFunc constructs a dataset from a path.
type OpenFunc func(ctx context.Context, path string, opts Options) (Dataset, error)

// Info describes a registered loader.
type Info struct {
	Name          string
	Description   string
	NeedsSequence bool
	Jumpable      bool
	UsesTopic     bool
	Extensions    []string
	Open          OpenFunc
}

var registry = map[string]Info{}

func register(info Info) {
	if _, dup := registry[info.Name]; dup {
		panic("datasets: duplicate loader " + info.Name)
	}
	registry[info.Name] = info
}

func init() {
	register(Info{
		Name:        "generic",
		Description: "directory of point cloud files (.bin, .pcd, .ply, .xyz)",
		Jumpable:    true,
		Extensions:  genericExtensions,
		Open:        openGeneric,
	})
	register(Info{
		Name:          "kitti",
		Description:   "KITTI odometry layout (sequences/NN/velodyne/*.bin)",
		NeedsSequence: true,
		Jumpable:      true,
		Extensions:    []string{".bin"},
		Open:          openKITTI,
	})
	register(Info{
		Name:        "helipr",
		Description: "HeLiPR sensor directory (Avia, Aeva, Ouster or Velodyne .bin records)",
		Jumpable:    true,
		Extensions:  []string{".bin"},
		Open:        openHeLiPR,
	})
	register(Info{
		Name:        "ouster",
		Description: "Ouster pcap with sensor metadata JSON",
		Jumpable:    true,
		Extensions:  []string{".pcap", ".pcapng"},
		Open:        openOuster,
	})
	register(Info{
		Name:        "hesai",
		Description: "Hesai Pandar40P pcap with angle calibration CSV",
		Jumpable:    true,
		Extensions:  []string{".pcap", ".pcapng"},
		Open:        openHesai,
	})
	register(Info{
		Name:        "vrlog",
		Description: "recording written by lidar_visualizer --record",
		Jumpable:    true,
		Extensions:  []string{".vrlog"},
		Open:        openVRLog,
	})
}

// Available returns the sorted loader names.
func Available() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func filter(keep func(Info) bool) []string {
	var names []string
	for _, name := range Available() {
		if keep(registry[name]) {
			names = append(names, name)
		}
	}
	return names
}

// SequenceLoaders returns the loaders that require --sequence.
func SequenceLoaders() []string {
	return filter(func(i Info) bool { return i.NeedsSequence })
}

// JumpableLoaders returns the loaders that honour --jump and --n-scans.
func JumpableLoaders() []string {
	return filter(func(i Info) bool { return i.Jumpable })
}

// TopicLoaders returns the loaders that read --topic.
func TopicLoaders() []string {
	return filter(func(i Info) bool { return i.UsesTopic })
}

// SupportedExtensions lists the point cloud file extensions of the generic
// loader.
func SupportedExtensions() []string {
	return append([]string(nil), genericExtensions...)
}

// Lookup finds a loader by case-insensitive name.
func Lookup(name string) (Info, error) {
	info, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Info{}, fmt.Errorf("%w %q, available: %s", ErrUnknownLoader, name, strings.Join(Available(), ", "))
	}
	return info, nil
}

// Open opens path with the named loader.
func Open(ctx context.Context, name, path string, opts Options) (Dataset, error) {
	info, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	if info.NeedsSequence && opts.Sequence == nil {
		return nil, ErrSequenceRequired
	}
	ds, err := info.Open(ctx, path, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", info.Name, err)
	}
	return ds, nil
}

// checkIndex validates idx against a dataset length.
func checkIndex(idx, n int) error {
	if idx < 0 || idx >= n {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, idx, n)
	}
	return nil
}
