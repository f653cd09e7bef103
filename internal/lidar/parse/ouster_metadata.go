package parse

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/banshee-data/lidar-visualizer/internal/fsutil"
)

// Ouster UDP lidar profiles understood by the decoder.
const (
	OusterProfileLegacy = "LEGACY"
	OusterProfileRNG19  = "RNG19_RFL8_SIG16_NIR16"

	OusterDefaultLidarPort        = 7502
	OusterDefaultColumnsPerPacket = 16
)

// OusterMetadata is the subset of the sensor metadata JSON needed to turn
// lidar packets into points.
type OusterMetadata struct {
	ProductLine  string
	SerialNumber string
	LidarMode    string

	BeamAltitudeAngles        []float64 // degrees, one per row
	BeamAzimuthAngles         []float64 // degrees, one per row
	LidarOriginToBeamOriginMM float64
	LidarToSensorTransform    [16]float64 // row-major 4x4, translation in mm

	ColumnsPerFrame  int
	ColumnsPerPacket int
	PixelsPerColumn  int
	PixelShiftByRow  []int

	Profile   string
	LidarPort int
}

// first returns the first path that exists in the document. The sensor
// firmware moved most fields under nested objects around 2.x, so each value is
// looked up under both layouts.
func first(doc []byte, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := gjson.GetBytes(doc, p); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

func floats(r gjson.Result) []float64 {
	arr := r.Array()
	out := make([]float64, len(arr))
	for i, v := range arr {
		out[i] = v.Float()
	}
	return out
}

// ParseOusterMetadata decodes a metadata JSON document in either the legacy
// flat layout or the nested layout.
func ParseOusterMetadata(doc []byte) (*OusterMetadata, error) {
	if !gjson.ValidBytes(doc) {
		return nil, fmt.Errorf("invalid metadata JSON")
	}

	m := &OusterMetadata{
		ProductLine:  first(doc, "prod_line", "sensor_info.prod_line").String(),
		SerialNumber: first(doc, "prod_sn", "sensor_info.prod_sn").String(),
		LidarMode:    first(doc, "lidar_mode", "config_params.lidar_mode").String(),

		BeamAltitudeAngles:        floats(first(doc, "beam_altitude_angles", "beam_intrinsics.beam_altitude_angles")),
		BeamAzimuthAngles:         floats(first(doc, "beam_azimuth_angles", "beam_intrinsics.beam_azimuth_angles")),
		LidarOriginToBeamOriginMM: first(doc, "lidar_origin_to_beam_origin_mm", "beam_intrinsics.lidar_origin_to_beam_origin_mm").Float(),

		ColumnsPerFrame:  int(first(doc, "data_format.columns_per_frame", "lidar_data_format.columns_per_frame").Int()),
		ColumnsPerPacket: int(first(doc, "data_format.columns_per_packet", "lidar_data_format.columns_per_packet").Int()),
		PixelsPerColumn:  int(first(doc, "data_format.pixels_per_column", "lidar_data_format.pixels_per_column").Int()),

		Profile:   first(doc, "data_format.udp_profile_lidar", "lidar_data_format.udp_profile_lidar", "config_params.udp_profile_lidar").String(),
		LidarPort: int(first(doc, "udp_port_lidar", "config_params.udp_port_lidar").Int()),
	}

	for _, v := range first(doc, "data_format.pixel_shift_by_row", "lidar_data_format.pixel_shift_by_row").Array() {
		m.PixelShiftByRow = append(m.PixelShiftByRow, int(v.Int()))
	}

	transform := floats(first(doc, "lidar_to_sensor_transform", "lidar_intrinsics.lidar_to_sensor_transform"))
	switch len(transform) {
	case 16:
		copy(m.LidarToSensorTransform[:], transform)
	case 0:
		m.LidarToSensorTransform = identity4()
	default:
		return nil, fmt.Errorf("lidar_to_sensor_transform has %d values, expected 16", len(transform))
	}

	if m.Profile == "" {
		m.Profile = OusterProfileLegacy
	}
	if m.LidarPort == 0 {
		m.LidarPort = OusterDefaultLidarPort
	}
	if m.ColumnsPerPacket == 0 {
		m.ColumnsPerPacket = OusterDefaultColumnsPerPacket
	}
	if m.PixelsPerColumn == 0 {
		m.PixelsPerColumn = len(m.BeamAltitudeAngles)
	}
	if m.ColumnsPerFrame == 0 && m.LidarMode != "" {
		cols, err := columnsFromMode(m.LidarMode)
		if err != nil {
			return nil, err
		}
		m.ColumnsPerFrame = cols
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadOusterMetadata reads and parses a metadata file.
func LoadOusterMetadata(fsys fsutil.FileSystem, path string) (*OusterMetadata, error) {
	data, err := fsutil.OrOS(fsys).ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	m, err := ParseOusterMetadata(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse metadata %s: %w", path, err)
	}
	return m, nil
}

// columnsFromMode parses a lidar_mode such as "1024x10".
func columnsFromMode(mode string) (int, error) {
	cols, _, ok := strings.Cut(mode, "x")
	if !ok {
		return 0, fmt.Errorf("invalid lidar_mode %q", mode)
	}
	n, err := strconv.Atoi(cols)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid lidar_mode %q", mode)
	}
	return n, nil
}

// Validate checks the metadata is internally consistent.
func (m *OusterMetadata) Validate() error {
	h := m.PixelsPerColumn
	switch {
	case h <= 0:
		return fmt.Errorf("pixels_per_column must be positive")
	case len(m.BeamAltitudeAngles) != h:
		return fmt.Errorf("beam_altitude_angles has %d entries, expected %d", len(m.BeamAltitudeAngles), h)
	case len(m.BeamAzimuthAngles) != h:
		return fmt.Errorf("beam_azimuth_angles has %d entries, expected %d", len(m.BeamAzimuthAngles), h)
	case m.ColumnsPerFrame <= 0:
		return fmt.Errorf("columns_per_frame must be positive (set lidar_mode or data_format)")
	case m.ColumnsPerPacket <= 0:
		return fmt.Errorf("columns_per_packet must be positive")
	}
	switch m.Profile {
	case OusterProfileLegacy, OusterProfileRNG19:
	default:
		return fmt.Errorf("unsupported udp_profile_lidar %q", m.Profile)
	}
	return nil
}

func identity4() [16]float64 {
	return [16]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}
