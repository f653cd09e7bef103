package datasets

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lidar-visualizer/internal/lidar/parse"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/pointcloud"
)

// Reflectivity is stretched between these quantiles before colouring, which
// approximates the sensor SDK's auto exposure.
const (
	ousterColorLo = 0.03
	ousterColorHi = 0.97
)

// ousterSplitter starts a new frame whenever the packet frame id changes.
type ousterSplitter struct {
	dec     *parse.OusterDecoder
	last    int
	hasLast bool

	points    []r3.Vec
	intensity []float32
}

func (s *ousterSplitter) reset() {
	s.hasLast = false
	s.points, s.intensity = nil, nil
}

func (s *ousterSplitter) boundary(payload []byte) (bool, bool) {
	id, err := s.dec.FrameID(payload)
	if err != nil {
		return false, false
	}
	start := !s.hasLast || id != s.last
	s.last, s.hasLast = id, true
	return start, true
}

func (s *ousterSplitter) add(payload []byte) error {
	pkt, err := s.dec.DecodePacket(payload)
	if err != nil {
		return err
	}
	for _, r := range pkt.Returns {
		s.points = append(s.points, r.Point)
		s.intensity = append(s.intensity, float32(r.Reflectivity))
	}
	return nil
}

func (s *ousterSplitter) finish() *pointcloud.Frame {
	f := &pointcloud.Frame{Points: s.points, Intensity: s.intensity}
	f.ColorizeRange(viridis, ousterColorLo, ousterColorHi)
	s.points, s.intensity = nil, nil
	return f
}

func openOuster(ctx context.Context, path string, opts Options) (Dataset, error) {
	fsys := opts.fs()
	metaPath := opts.Meta
	if metaPath == "" {
		found, ok := longestPrefixMatch(fsys, filepath.Dir(path), filepath.Base(path), ".json", nil)
		if !ok {
			return nil, fmt.Errorf("%w: ouster pcap dataloader can't find a metadata json file next to %s, pass it with --meta",
				ErrMissingMetadata, path)
		}
		metaPath = found
	}
	log.Info().Str("meta", metaPath).Msg("ouster pcap dataloader: using metadata json")

	meta, err := parse.LoadOusterMetadata(fsys, metaPath)
	if err != nil {
		return nil, err
	}
	dec, err := parse.NewOusterDecoder(meta)
	if err != nil {
		return nil, err
	}

	return openPCAPDataset(ctx, path, opts, pcapConfig{
		loader: "ouster",
		params: fmt.Sprintf("profile=%s;port=%d;packet=%d;cols=%d", meta.Profile, meta.LidarPort, dec.PacketSize(), meta.ColumnsPerFrame),
		port:   meta.LidarPort,
		split:  &ousterSplitter{dec: dec},
	})
}
