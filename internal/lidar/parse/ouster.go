package parse

import (
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

/*
Ouster lidar packet layouts.

LEGACY: columns_per_packet columns, each
	header (16): timestamp ns u64, measurement_id u16, frame_id u16, encoder u32
	pixels (12 each): range mm u32 (low 20 bits), reflectivity u16, signal u16, nir u16, unused u16
	status (4): 0xFFFFFFFF when the column is valid

RNG19_RFL8_SIG16_NIR16:
	packet header (32): packet_type u16, frame_id u16, init_id u24, serial u40, ...
	columns, each
		header (12): timestamp ns u64, measurement_id u16, status u16 (bit 0 valid)
		pixels (12 each): range mm u32 (low 19 bits), reflectivity u8, unused u8, signal u16, nir u16, unused u16
	packet footer (32)
*/

const (
	ousterPixelSize = 12

	legacyColumnHeader = 16
	legacyColumnStatus = 4
	legacyRangeMask    = 0x000FFFFF

	rng19PacketHeader = 32
	rng19PacketFooter = 32
	rng19ColumnHeader = 12
	rng19RangeMask    = 0x0007FFFF

	ousterRangeUnit = 0.001 // metres per mm
)

// XYZLut maps (row, measurement id) pairs to unit direction vectors and
// offsets in the sensor frame, both already scaled so that
// point = range_mm * Direction + Offset gives metres.
type XYZLut struct {
	H, W      int
	direction []r3.Vec
	offset    []r3.Vec
}

// NewXYZLut builds the lookup table from beam intrinsics and applies the
// lidar-to-sensor transform.
func NewXYZLut(m *OusterMetadata) (*XYZLut, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	h, w := m.PixelsPerColumn, m.ColumnsPerFrame
	n := m.LidarOriginToBeamOriginMM

	// Row-major (H*W)x3 matrices so the rotation applies in one product.
	dirs := mat.NewDense(h*w, 3, nil)
	offs := mat.NewDense(h*w, 3, nil)
	for col := 0; col < w; col++ {
		encoder := 2 * math.Pi * (1 - float64(col)/float64(w))
		for row := 0; row < h; row++ {
			azimuth := -2 * math.Pi * m.BeamAzimuthAngles[row] / 360
			altitude := 2 * math.Pi * m.BeamAltitudeAngles[row] / 360

			dx := math.Cos(encoder+azimuth) * math.Cos(altitude)
			dy := math.Sin(encoder+azimuth) * math.Cos(altitude)
			dz := math.Sin(altitude)

			i := row*w + col
			dirs.SetRow(i, []float64{dx, dy, dz})
			offs.SetRow(i, []float64{
				n*math.Cos(encoder) - n*dx,
				n*math.Sin(encoder) - n*dy,
				-n * dz,
			})
		}
	}

	tf := mat.NewDense(4, 4, m.LidarToSensorTransform[:])
	rot := tf.Slice(0, 3, 0, 3)
	var rotDirs, rotOffs mat.Dense
	rotDirs.Mul(dirs, rot.T())
	rotOffs.Mul(offs, rot.T())

	translation := r3.Vec{X: tf.At(0, 3), Y: tf.At(1, 3), Z: tf.At(2, 3)}

	lut := &XYZLut{
		H:         h,
		W:         w,
		direction: make([]r3.Vec, h*w),
		offset:    make([]r3.Vec, h*w),
	}
	for i := 0; i < h*w; i++ {
		d := rotDirs.RawRowView(i)
		o := rotOffs.RawRowView(i)
		lut.direction[i] = r3.Scale(ousterRangeUnit, r3.Vec{X: d[0], Y: d[1], Z: d[2]})
		lut.offset[i] = r3.Scale(ousterRangeUnit, r3.Add(r3.Vec{X: o[0], Y: o[1], Z: o[2]}, translation))
	}
	return lut, nil
}

// Point returns the sensor-frame point in metres for a range in millimetres.
func (l *XYZLut) Point(row, col int, rangeMM uint32) r3.Vec {
	i := row*l.W + col
	return r3.Add(r3.Scale(float64(rangeMM), l.direction[i]), l.offset[i])
}

// OusterReturn is one non-zero pixel of a lidar packet.
type OusterReturn struct {
	Point        r3.Vec
	RangeMM      uint32
	Reflectivity uint16
	Signal       uint16
	NIR          uint16
	Row          int
	Column       int // measurement id
}

// OusterPacket is a decoded lidar packet.
type OusterPacket struct {
	FrameID   int
	Timestamp uint64 // ns, first valid column
	Columns   int    // valid columns
	Returns   []OusterReturn
}

// OusterDecoder decodes lidar packets of one sensor configuration.
type OusterDecoder struct {
	meta *OusterMetadata
	lut  *XYZLut
}

// NewOusterDecoder creates a decoder and its XYZ lookup table.
func NewOusterDecoder(m *OusterMetadata) (*OusterDecoder, error) {
	lut, err := NewXYZLut(m)
	if err != nil {
		return nil, err
	}
	return &OusterDecoder{meta: m, lut: lut}, nil
}

// Metadata returns the decoder's sensor metadata.
func (d *OusterDecoder) Metadata() *OusterMetadata { return d.meta }

// PacketSize is the expected lidar packet length in bytes.
func (d *OusterDecoder) PacketSize() int {
	h, cols := d.meta.PixelsPerColumn, d.meta.ColumnsPerPacket
	if d.meta.Profile == OusterProfileRNG19 {
		return rng19PacketHeader + cols*(rng19ColumnHeader+h*ousterPixelSize) + rng19PacketFooter
	}
	return cols * (legacyColumnHeader + h*ousterPixelSize + legacyColumnStatus)
}

// FrameID reads only the frame id of a packet. It is used by the counting
// pass, which does not need points.
func (d *OusterDecoder) FrameID(data []byte) (int, error) {
	if len(data) != d.PacketSize() {
		return 0, fmt.Errorf("invalid packet size: expected %d, got %d", d.PacketSize(), len(data))
	}
	if d.meta.Profile == OusterProfileRNG19 {
		return int(binary.LittleEndian.Uint16(data[2:4])), nil
	}
	return int(binary.LittleEndian.Uint16(data[10:12])), nil
}

// DecodePacket decodes a lidar packet. Invalid columns and zero ranges are
// skipped.
func (d *OusterDecoder) DecodePacket(data []byte) (*OusterPacket, error) {
	if len(data) != d.PacketSize() {
		return nil, fmt.Errorf("invalid packet size: expected %d, got %d", d.PacketSize(), len(data))
	}
	if d.meta.Profile == OusterProfileRNG19 {
		return d.decodeRNG19(data)
	}
	return d.decodeLegacy(data)
}

func (d *OusterDecoder) decodeLegacy(data []byte) (*OusterPacket, error) {
	h := d.meta.PixelsPerColumn
	colSize := legacyColumnHeader + h*ousterPixelSize + legacyColumnStatus
	pkt := &OusterPacket{
		FrameID: int(binary.LittleEndian.Uint16(data[10:12])),
		Returns: make([]OusterReturn, 0, d.meta.ColumnsPerPacket*h),
	}

	for c := 0; c < d.meta.ColumnsPerPacket; c++ {
		col := data[c*colSize : (c+1)*colSize]
		if binary.LittleEndian.Uint32(col[colSize-legacyColumnStatus:]) != 0xFFFFFFFF {
			continue
		}
		mid := int(binary.LittleEndian.Uint16(col[8:10]))
		if mid >= d.lut.W {
			return nil, fmt.Errorf("measurement id %d out of range (columns per frame %d)", mid, d.lut.W)
		}
		if pkt.Columns == 0 {
			pkt.Timestamp = binary.LittleEndian.Uint64(col[0:8])
		}
		pkt.Columns++

		for row := 0; row < h; row++ {
			px := col[legacyColumnHeader+row*ousterPixelSize:]
			rng := binary.LittleEndian.Uint32(px[0:4]) & legacyRangeMask
			if rng == 0 {
				continue
			}
			pkt.Returns = append(pkt.Returns, OusterReturn{
				Point:        d.lut.Point(row, mid, rng),
				RangeMM:      rng,
				Reflectivity: binary.LittleEndian.Uint16(px[4:6]),
				Signal:       binary.LittleEndian.Uint16(px[6:8]),
				NIR:          binary.LittleEndian.Uint16(px[8:10]),
				Row:          row,
				Column:       mid,
			})
		}
	}
	return pkt, nil
}

func (d *OusterDecoder) decodeRNG19(data []byte) (*OusterPacket, error) {
	h := d.meta.PixelsPerColumn
	colSize := rng19ColumnHeader + h*ousterPixelSize
	pkt := &OusterPacket{
		FrameID: int(binary.LittleEndian.Uint16(data[2:4])),
		Returns: make([]OusterReturn, 0, d.meta.ColumnsPerPacket*h),
	}

	body := data[rng19PacketHeader : len(data)-rng19PacketFooter]
	for c := 0; c < d.meta.ColumnsPerPacket; c++ {
		col := body[c*colSize : (c+1)*colSize]
		if binary.LittleEndian.Uint16(col[10:12])&0x1 == 0 {
			continue
		}
		mid := int(binary.LittleEndian.Uint16(col[8:10]))
		if mid >= d.lut.W {
			return nil, fmt.Errorf("measurement id %d out of range (columns per frame %d)", mid, d.lut.W)
		}
		if pkt.Columns == 0 {
			pkt.Timestamp = binary.LittleEndian.Uint64(col[0:8])
		}
		pkt.Columns++

		for row := 0; row < h; row++ {
			px := col[rng19ColumnHeader+row*ousterPixelSize:]
			rng := binary.LittleEndian.Uint32(px[0:4]) & rng19RangeMask
			if rng == 0 {
				continue
			}
			pkt.Returns = append(pkt.Returns, OusterReturn{
				Point:        d.lut.Point(row, mid, rng),
				RangeMM:      rng,
				Reflectivity: uint16(px[4]),
				Signal:       binary.LittleEndian.Uint16(px[6:8]),
				NIR:          binary.LittleEndian.Uint16(px[8:10]),
				Row:          row,
				Column:       mid,
			})
		}
	}
	return pkt, nil
}
