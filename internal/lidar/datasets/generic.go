package datasets

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/banshee-data/lidar-visualizer/internal/fsutil"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/pointcloud"
)

var genericExtensions = []string{".bin", ".pcd", ".ply", ".xyz"}

type scanReader func(data []byte, source string) (*pointcloud.Frame, error)

var scanReaders = map[string]scanReader{
	".bin": readKITTIBin,
	".pcd": readPCD,
	".ply": readPLY,
	".xyz": readXYZ,
}

// fileDataset serves one frame per scan file.
type fileDataset struct {
	fsys  fsutil.FileSystem
	files []string
	read  func(data []byte, source string) (*pointcloud.Frame, error)
	// times overrides file modification times when non-nil.
	times func(idx int) (int64, bool)
}

func (d *fileDataset) Len() int { return len(d.files) }

func (d *fileDataset) Close() error { return nil }

func (d *fileDataset) Frame(ctx context.Context, idx int) (*pointcloud.Frame, error) {
	if err := checkIndex(idx, len(d.files)); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := d.files[idx]
	data, err := d.fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scan %s: %w", path, err)
	}
	frame, err := d.read(data, path)
	if err != nil {
		return nil, err
	}
	frame.Index = idx

	if d.times != nil {
		if ns, ok := d.times(idx); ok {
			frame.Timestamp = timeFromNanos(ns)
			return frame, nil
		}
	}
	if info, err := d.fsys.Stat(path); err == nil {
		frame.Timestamp = info.ModTime()
	}
	return frame, nil
}

// readByExtension dispatches to the reader for the file's extension.
func readByExtension(data []byte, source string) (*pointcloud.Frame, error) {
	read, ok := scanReaders[strings.ToLower(filepath.Ext(source))]
	if !ok {
		return nil, fmt.Errorf("%w: %s (supported: %s)", ErrUnsupportedFormat, source, strings.Join(genericExtensions, ", "))
	}
	return read(data, source)
}

func openGeneric(_ context.Context, path string, opts Options) (Dataset, error) {
	fsys := opts.fs()
	info, err := fsys.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	dir := path
	if !info.IsDir() {
		dir = filepath.Dir(path)
	}

	files, err := listScans(fsys, dir, genericExtensions, opts.Pattern)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(files[0]), ".bin") {
		log.Warn().Msg("reading .bin files, the only format supported is the KITTI format")
	}
	log.Debug().Str("dir", dir).Int("scans", len(files)).Msg("generic dataset opened")

	return &fileDataset{fsys: fsys, files: files, read: readByExtension}, nil
}
