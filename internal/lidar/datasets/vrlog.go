package datasets

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/banshee-data/lidar-visualizer/internal/lidar/pointcloud"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/recorder"
)

// vrlogDataset serves a recording through its replayer.
type vrlogDataset struct {
	*recorder.Replayer
}

func (d vrlogDataset) Frame(ctx context.Context, idx int) (*pointcloud.Frame, error) {
	if err := checkIndex(idx, d.Len()); err != nil {
		return nil, err
	}
	return d.Replayer.Frame(ctx, idx)
}

func openVRLog(_ context.Context, path string, opts Options) (Dataset, error) {
	fsys := opts.fs()
	if !recorder.IsLog(fsys, path) {
		return nil, fmt.Errorf("%s is not a recording (expected header.json and index.bin)", path)
	}
	rep, err := recorder.NewReplayer(fsys, path)
	if err != nil {
		return nil, err
	}
	if rep.Len() == 0 {
		return nil, fmt.Errorf("%w: recording %s has no frames", ErrNoScans, path)
	}
	h := rep.Header()
	log.Debug().Str("path", path).Str("id", h.ID).Str("loader", h.Loader).Int("frames", rep.Len()).Msg("recording opened")
	return vrlogDataset{rep}, nil
}
