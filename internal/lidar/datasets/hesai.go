package datasets

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lidar-visualizer/internal/lidar/parse"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/pointcloud"
)

const (
	firetimeSuffix = "_firetime"
	// hesaiWrapDegrees is the azimuth drop that marks a new revolution.
	hesaiWrapDegrees = 180.0
)

// hesaiSplitter starts a new frame when the azimuth wraps, either between
// the previous packet and this one or within this packet.
type hesaiSplitter struct {
	parser  *parse.Pandar40PParser
	lastAz  float64
	hasLast bool

	points    []r3.Vec
	intensity []float32
}

func (s *hesaiSplitter) reset() {
	s.hasLast = false
	s.points, s.intensity = nil, nil
}

func (s *hesaiSplitter) boundary(payload []byte) (bool, bool) {
	az, ok := hesaiBlockAzimuths(payload)
	if !ok {
		return false, false
	}
	start := !s.hasLast || s.lastAz-az[0] > hesaiWrapDegrees
	for i := 1; i < len(az); i++ {
		if az[i-1]-az[i] > hesaiWrapDegrees {
			start = true
		}
	}
	s.lastAz, s.hasLast = az[len(az)-1], true
	return start, true
}

// hesaiBlockAzimuths reads the raw block azimuths without decoding returns.
func hesaiBlockAzimuths(payload []byte) ([parse.BLOCKS_PER_PACKET]float64, bool) {
	var az [parse.BLOCKS_PER_PACKET]float64
	if !parse.IsPandar40PPacket(payload) {
		return az, false
	}
	for b := 0; b < parse.BLOCKS_PER_PACKET; b++ {
		block := payload[b*parse.BLOCK_SIZE:]
		if block[0] != 0xFF || block[1] != 0xEE {
			return az, false
		}
		az[b] = float64(uint16(block[2])|uint16(block[3])<<8) * parse.AZIMUTH_RESOLUTION
	}
	return az, true
}

func (s *hesaiSplitter) add(payload []byte) error {
	pkt, err := s.parser.ParsePacket(payload)
	if err != nil {
		return err
	}
	for _, r := range pkt.Returns {
		s.points = append(s.points, r.Point)
		s.intensity = append(s.intensity, float32(r.Reflectivity))
	}
	return nil
}

func (s *hesaiSplitter) finish() *pointcloud.Frame {
	f := &pointcloud.Frame{Points: s.points, Intensity: s.intensity}
	f.ColorizeIntensity(viridis)
	s.points, s.intensity = nil, nil
	return f
}

// firetimePath returns the firetime CSV that accompanies a calibration file.
func firetimePath(calibration string) string {
	ext := filepath.Ext(calibration)
	return strings.TrimSuffix(calibration, ext) + firetimeSuffix + ext
}

func openHesai(ctx context.Context, path string, opts Options) (Dataset, error) {
	fsys := opts.fs()
	calibration := opts.Meta
	if calibration == "" {
		found, ok := longestPrefixMatch(fsys, filepath.Dir(path), filepath.Base(path), ".csv", func(name string) bool {
			return strings.Contains(strings.ToLower(name), firetimeSuffix)
		})
		if !ok {
			return nil, fmt.Errorf("%w: hesai pcap dataloader can't find an angle calibration CSV next to %s, pass it with --meta",
				ErrMissingMetadata, path)
		}
		calibration = found
	}
	firetime := firetimePath(calibration)
	if !fsys.Exists(firetime) {
		firetime = ""
	}
	log.Info().Str("calibration", calibration).Str("firetime", firetime).Msg("hesai pcap dataloader: using calibration")

	config, err := parse.LoadPandar40PConfig(fsys, calibration, firetime)
	if err != nil {
		return nil, err
	}

	return openPCAPDataset(ctx, path, opts, pcapConfig{
		loader: "hesai",
		params: "pandar40p",
		port:   0,
		split:  &hesaiSplitter{parser: parse.NewPandar40PParser(*config)},
	})
}
