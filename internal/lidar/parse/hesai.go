// Package parse decodes raw LiDAR UDP payloads into calibrated 3D returns.
// It understands Hesai Pandar40P data packets and Ouster lidar packets in
// the LEGACY and RNG19_RFL8_SIG16_NIR16 profiles.
package parse

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

/*
Pandar40P packet layout (1262 bytes, or 1266 with a trailing UDP sequence):

	Data blocks (1240 bytes): 10 blocks × 124 bytes, starting at payload offset 0.
	  Each block: 0xFFEE preamble (2) + azimuth in 0.01° (2) + 40 × (distance 4mm (2) + reflectivity (1)).
	Tail (22 bytes):
	  Reserved(5) + HighTempFlag(1) + Reserved(2) + MotorSpeed RPM(2) + Timestamp µs(4) +
	  ReturnMode(1) + FactoryInfo(1) + DateTime(6) [+ UDPSequence(4)]
*/

// Pandar40P LiDAR packet structure constants
const (
	PACKET_SIZE_STANDARD = 1262 // without UDP sequence
	PACKET_SIZE_SEQUENCE = 1266 // with 4-byte UDP sequence
	BLOCKS_PER_PACKET    = 10
	CHANNELS_PER_BLOCK   = 40
	BYTES_PER_CHANNEL    = 3 // 2 bytes distance + 1 byte reflectivity
	TAIL_START           = 1240
	TAIL_SIZE            = 22
	SEQUENCE_SIZE        = 4
	BLOCK_PREAMBLE_SIZE  = 2
	AZIMUTH_SIZE         = 2
	BLOCK_SIZE           = BLOCK_PREAMBLE_SIZE + AZIMUTH_SIZE + (CHANNELS_PER_BLOCK * BYTES_PER_CHANNEL) // 124

	DISTANCE_RESOLUTION = 0.004 // metres per LSB
	AZIMUTH_RESOLUTION  = 0.01  // degrees per LSB
)

// IsPandar40PPacket reports whether a payload has a Pandar40P data packet size.
func IsPandar40PPacket(payload []byte) bool {
	return len(payload) == PACKET_SIZE_STANDARD || len(payload) == PACKET_SIZE_SEQUENCE
}

// Pandar40PConfig holds the per-channel calibration of one sensor.
type Pandar40PConfig struct {
	AngleCorrections    [CHANNELS_PER_BLOCK]AngleCorrection
	FiretimeCorrections [CHANNELS_PER_BLOCK]FiretimeCorrection
}

// AngleCorrection is a channel's elevation and azimuth offset in degrees.
type AngleCorrection struct {
	Channel   int
	Elevation float64
	Azimuth   float64
}

// FiretimeCorrection is a channel's firing delay in microseconds relative to
// the block start.
type FiretimeCorrection struct {
	Channel  int
	FireTime float64
}

// PacketTail is the decoded 22-byte tail (plus optional UDP sequence).
type PacketTail struct {
	HighTempFlag      uint8
	MotorSpeed        uint16 // RPM
	Timestamp         uint32 // microsecond part of UTC
	ReturnMode        uint8  // 0x37 strongest, 0x38 last, 0x39 dual
	FactoryInfo       uint8
	DateTime          [6]uint8 // year-2000, month, day, hour, minute, second
	CombinedTimestamp time.Time
	UDPSequence       uint32
}

// Return is one calibrated laser return.
type Return struct {
	Point        r3.Vec // metres; X right, Y forward, Z up
	Distance     float64
	Azimuth      float64 // corrected, degrees in [0, 360)
	Elevation    float64
	Reflectivity uint8
	Channel      int // 1-based
	Block        int
}

// Pandar40PPacket is a decoded data packet.
type Pandar40PPacket struct {
	Tail          PacketTail
	BlockAzimuths [BLOCKS_PER_PACKET]float64 // raw block azimuths, degrees
	Returns       []Return
}

// Pandar40PParser converts Pandar40P packets into calibrated returns.
type Pandar40PParser struct {
	config Pandar40PConfig
}

// NewPandar40PParser creates a parser for the given calibration.
func NewPandar40PParser(config Pandar40PConfig) *Pandar40PParser {
	return &Pandar40PParser{config: config}
}

// ParsePacket decodes one UDP payload. Channels with zero distance (no
// return) are skipped.
func (p *Pandar40PParser) ParsePacket(data []byte) (*Pandar40PPacket, error) {
	var sequence uint32
	packetData := data
	switch len(data) {
	case PACKET_SIZE_STANDARD:
	case PACKET_SIZE_SEQUENCE:
		sequence = binary.LittleEndian.Uint32(data[len(data)-SEQUENCE_SIZE:])
		packetData = data[:len(data)-SEQUENCE_SIZE]
	default:
		return nil, fmt.Errorf("invalid packet size: expected %d or %d, got %d",
			PACKET_SIZE_STANDARD, PACKET_SIZE_SEQUENCE, len(data))
	}

	tail, err := parseTail(packetData[TAIL_START:TAIL_START+TAIL_SIZE], sequence)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tail: %w", err)
	}

	pkt := &Pandar40PPacket{
		Tail:    *tail,
		Returns: make([]Return, 0, BLOCKS_PER_PACKET*CHANNELS_PER_BLOCK),
	}

	// Firing delays turn into azimuth offsets at the current spin rate.
	degPerMicrosecond := (360.0 * float64(tail.MotorSpeed) / 60.0) / 1e6

	for blockIdx := 0; blockIdx < BLOCKS_PER_PACKET; blockIdx++ {
		block := packetData[blockIdx*BLOCK_SIZE : (blockIdx+1)*BLOCK_SIZE]
		if preamble := binary.LittleEndian.Uint16(block[0:2]); preamble != 0xEEFF {
			return nil, fmt.Errorf("failed to parse block %d: invalid block preamble: expected 0xEEFF, got 0x%04X", blockIdx, preamble)
		}
		baseAzimuth := float64(binary.LittleEndian.Uint16(block[2:4])) * AZIMUTH_RESOLUTION
		pkt.BlockAzimuths[blockIdx] = baseAzimuth

		off := BLOCK_PREAMBLE_SIZE + AZIMUTH_SIZE
		for ch := 0; ch < CHANNELS_PER_BLOCK; ch, off = ch+1, off+BYTES_PER_CHANNEL {
			raw := binary.LittleEndian.Uint16(block[off : off+2])
			if raw == 0 {
				continue
			}
			angle := p.config.AngleCorrections[ch]
			firetime := p.config.FiretimeCorrections[ch]

			azimuth := math.Mod(baseAzimuth+angle.Azimuth+firetime.FireTime*degPerMicrosecond, 360)
			if azimuth < 0 {
				azimuth += 360
			}
			distance := float64(raw) * DISTANCE_RESOLUTION

			azRad := azimuth * math.Pi / 180.0
			elRad := angle.Elevation * math.Pi / 180.0
			cosEl := math.Cos(elRad)

			pkt.Returns = append(pkt.Returns, Return{
				Point: r3.Vec{
					X: distance * cosEl * math.Sin(azRad),
					Y: distance * cosEl * math.Cos(azRad),
					Z: distance * math.Sin(elRad),
				},
				Distance:     distance,
				Azimuth:      azimuth,
				Elevation:    angle.Elevation,
				Reflectivity: block[off+2],
				Channel:      ch + 1,
				Block:        blockIdx,
			})
		}
	}

	return pkt, nil
}

// parseTail decodes the 22-byte packet tail.
func parseTail(data []byte, udpSequence uint32) (*PacketTail, error) {
	if len(data) != TAIL_SIZE {
		return nil, fmt.Errorf("invalid tail size: expected %d, got %d", TAIL_SIZE, len(data))
	}

	tail := &PacketTail{
		HighTempFlag: data[5],
		MotorSpeed:   binary.LittleEndian.Uint16(data[8:10]),
		Timestamp:    binary.LittleEndian.Uint32(data[10:14]),
		ReturnMode:   data[14],
		FactoryInfo:  data[15],
		UDPSequence:  udpSequence,
	}
	copy(tail.DateTime[:], data[16:22])

	tail.CombinedTimestamp = time.Date(
		int(tail.DateTime[0])+2000, time.Month(tail.DateTime[1]), int(tail.DateTime[2]),
		int(tail.DateTime[3]), int(tail.DateTime[4]), int(tail.DateTime[5]),
		int(tail.Timestamp)*1000, time.UTC)

	return tail, nil
}
