package testutil

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
)

// HesaiPacket builds a 1262-byte Pandar40P packet. Every channel of block b
// reports the same raw distance (4 mm units) at azimuths[b] (0.01° units).
func HesaiPacket(azimuths [10]uint16, distance uint16, reflectivity uint8, motorRPM uint16) []byte {
	pkt := make([]byte, 1262)
	for b := 0; b < 10; b++ {
		block := pkt[b*124:]
		block[0], block[1] = 0xFF, 0xEE
		binary.LittleEndian.PutUint16(block[2:4], azimuths[b])
		for ch := 0; ch < 40; ch++ {
			off := 4 + ch*3
			binary.LittleEndian.PutUint16(block[off:off+2], distance)
			block[off+2] = reflectivity
		}
	}
	tail := pkt[1240:]
	binary.LittleEndian.PutUint16(tail[8:10], motorRPM)
	binary.LittleEndian.PutUint32(tail[10:14], 500000)
	tail[14] = 0x37
	tail[15] = 0x42
	copy(tail[16:22], []byte{24, 1, 2, 3, 4, 5})
	return pkt
}

// HesaiWrapAzimuths returns ten block azimuths starting at start and stepping
// by step hundredths of a degree, wrapping at 360°.
func HesaiWrapAzimuths(start, step int) [10]uint16 {
	var az [10]uint16
	for i := range az {
		az[i] = uint16((start + i*step) % 36000)
	}
	return az
}

// HesaiCalibrationCSV returns angle and firetime CSV files for 40 channels
// with elevations from -10° to +9.5° and no azimuth offsets.
func HesaiCalibrationCSV() (angles, firetimes []byte) {
	var a, f strings.Builder
	a.WriteString("Channel,Elevation,Azimuth\n")
	f.WriteString("Channel,fire time(μs)\n")
	for ch := 1; ch <= 40; ch++ {
		fmt.Fprintf(&a, "%d,%.1f,0\n", ch, float64(ch-21)*0.5)
		fmt.Fprintf(&f, "%d,0\n", ch)
	}
	return []byte(a.String()), []byte(f.String())
}

// OusterMetadataJSON builds a legacy-layout metadata document for a sensor
// with h rows, w columns per frame and the given packet profile. Beams point
// straight out with evenly spaced altitudes and no beam origin offset.
func OusterMetadataJSON(h, w, columnsPerPacket int, profile string) []byte {
	alt := make([]float64, h)
	az := make([]float64, h)
	for i := range alt {
		alt[i] = float64(h/2-i) * 1.0
	}
	doc := map[string]any{
		"prod_line":                      "OS-1-16",
		"prod_sn":                        "992000000001",
		"lidar_mode":                     fmt.Sprintf("%dx10", w),
		"beam_altitude_angles":           alt,
		"beam_azimuth_angles":            az,
		"lidar_origin_to_beam_origin_mm": 0.0,
		"lidar_to_sensor_transform":      []float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1},
		"data_format": map[string]any{
			"columns_per_packet": columnsPerPacket,
			"columns_per_frame":  w,
			"pixels_per_column":  h,
			"udp_profile_lidar":  profile,
		},
		"udp_port_lidar": 7502,
	}
	out, _ := json.Marshal(doc)
	return out
}

// OusterLegacyPacket builds a LEGACY lidar packet whose columns start at
// measurement id firstColumn. Every pixel carries rangeMM and reflectivity.
func OusterLegacyPacket(h, columnsPerPacket, frameID, firstColumn int, rangeMM uint32, reflectivity uint16, timestamp uint64) []byte {
	colSize := 16 + h*12 + 4
	pkt := make([]byte, columnsPerPacket*colSize)
	for c := 0; c < columnsPerPacket; c++ {
		col := pkt[c*colSize:]
		binary.LittleEndian.PutUint64(col[0:8], timestamp+uint64(c))
		binary.LittleEndian.PutUint16(col[8:10], uint16(firstColumn+c))
		binary.LittleEndian.PutUint16(col[10:12], uint16(frameID))
		for row := 0; row < h; row++ {
			px := col[16+row*12:]
			binary.LittleEndian.PutUint32(px[0:4], rangeMM)
			binary.LittleEndian.PutUint16(px[4:6], reflectivity)
		}
		binary.LittleEndian.PutUint32(col[colSize-4:], 0xFFFFFFFF)
	}
	return pkt
}

// OusterRNG19Packet builds an RNG19_RFL8_SIG16_NIR16 lidar packet.
func OusterRNG19Packet(h, columnsPerPacket, frameID, firstColumn int, rangeMM uint32, reflectivity uint8, timestamp uint64) []byte {
	colSize := 12 + h*12
	pkt := make([]byte, 32+columnsPerPacket*colSize+32)
	binary.LittleEndian.PutUint16(pkt[0:2], 1)
	binary.LittleEndian.PutUint16(pkt[2:4], uint16(frameID))
	for c := 0; c < columnsPerPacket; c++ {
		col := pkt[32+c*colSize:]
		binary.LittleEndian.PutUint64(col[0:8], timestamp+uint64(c))
		binary.LittleEndian.PutUint16(col[8:10], uint16(firstColumn+c))
		binary.LittleEndian.PutUint16(col[10:12], 1)
		for row := 0; row < h; row++ {
			px := col[12+row*12:]
			binary.LittleEndian.PutUint32(px[0:4], rangeMM)
			px[4] = reflectivity
		}
	}
	return pkt
}
