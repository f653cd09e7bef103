// Package network reads LiDAR UDP traffic from packet capture files.
package network

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/lidar-visualizer/internal/fsutil"
)

// ErrNotSeekable is returned by SeekOffset for captures that can only be
// read front to back (pcapng and gzip-compressed pcap).
var ErrNotSeekable = errors.New("capture does not support offset seeking")

const (
	pcapGlobalHeaderLen = 24
	pcapRecordHeaderLen = 16
)

// Packet is one UDP datagram read from a capture.
type Packet struct {
	Payload   []byte
	Timestamp time.Time
	DstPort   int
	// Offset is the byte offset of the packet's pcap record, usable with
	// SeekOffset. It is -1 when the capture is not seekable.
	Offset int64
}

type packetDataSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// PCAPReader iterates the UDP payloads of a capture file. Packets that are
// not UDP, or not addressed to the configured port, are skipped.
type PCAPReader struct {
	fsys     fsutil.FileSystem
	path     string
	file     fsutil.File
	src      packetDataSource
	port     int
	header   []byte
	seekable bool
	offset   int64

	packets uint64
}

// OpenPCAP opens a classic pcap or pcapng file. A udpPort of 0 accepts
// datagrams on any port.
func OpenPCAP(fsys fsutil.FileSystem, path string, udpPort int) (*PCAPReader, error) {
	f, err := fsutil.OrOS(fsys).Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read PCAP magic from %s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}

	r := &PCAPReader{fsys: fsys, path: path, file: f, port: udpPort, offset: -1}

	switch {
	case binary.LittleEndian.Uint32(magic) == 0x0a0d0d0a:
		ng, err := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to read pcapng header from %s: %w", path, err)
		}
		r.src = ng
	case magic[0] == 0x1f && magic[1] == 0x8b:
		pr, err := pcapgo.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to read gzip PCAP header from %s: %w", path, err)
		}
		r.src = pr
	default:
		r.header = make([]byte, pcapGlobalHeaderLen)
		if _, err := io.ReadFull(f, r.header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to read PCAP header from %s: %w", path, err)
		}
		if err := r.resetClassic(pcapGlobalHeaderLen); err != nil {
			f.Close()
			return nil, err
		}
	}
	return r, nil
}

// resetClassic restarts a classic pcap reader at the record starting at off.
// pcapgo buffers its input, so offsets are tracked from record lengths rather
// than from the file position.
func (r *PCAPReader) resetClassic(off int64) error {
	if _, err := r.file.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek %s to %d: %w", r.path, off, err)
	}
	pr, err := pcapgo.NewReader(io.MultiReader(bytes.NewReader(r.header), r.file))
	if err != nil {
		return fmt.Errorf("failed to read PCAP header from %s: %w", r.path, err)
	}
	r.src = pr
	r.seekable = true
	r.offset = off
	return nil
}

// Seekable reports whether SeekOffset is supported.
func (r *PCAPReader) Seekable() bool {
	return r.seekable
}

// SeekOffset positions the reader at a record offset previously reported in
// Packet.Offset.
func (r *PCAPReader) SeekOffset(off int64) error {
	if !r.seekable {
		return ErrNotSeekable
	}
	if off < pcapGlobalHeaderLen {
		return fmt.Errorf("invalid PCAP record offset %d", off)
	}
	return r.resetClassic(off)
}

// Rewind restarts the reader at the first packet.
func (r *PCAPReader) Rewind() error {
	if r.seekable {
		return r.resetClassic(pcapGlobalHeaderLen)
	}
	fresh, err := OpenPCAP(r.fsys, r.path, r.port)
	if err != nil {
		return err
	}
	r.file.Close()
	*r = *fresh
	return nil
}

// Next returns the next matching UDP packet, or io.EOF at the end of the capture.
func (r *PCAPReader) Next() (*Packet, error) {
	for {
		recordOffset := r.offset
		data, ci, err := r.src.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				// Truncated trailing record, common when a capture is cut short.
				return nil, io.EOF
			}
			return nil, err
		}
		if r.seekable {
			r.offset += pcapRecordHeaderLen + int64(ci.CaptureLength)
		}
		r.packets++

		packet := gopacket.NewPacket(data, r.src.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if r.port != 0 && int(udp.DstPort) != r.port {
			continue
		}

		return &Packet{
			Payload:   udp.Payload,
			Timestamp: ci.Timestamp,
			DstPort:   int(udp.DstPort),
			Offset:    recordOffset,
		}, nil
	}
}

// PacketsRead returns the number of capture records consumed so far,
// including those that were filtered out.
func (r *PCAPReader) PacketsRead() uint64 {
	return r.packets
}

// Close releases the underlying file.
func (r *PCAPReader) Close() error {
	return r.file.Close()
}

// SniffPayloadSize returns the size of the first UDP payload in a capture.
// Dataset guessing uses it to tell sensor families apart.
func SniffPayloadSize(fsys fsutil.FileSystem, path string) (int, error) {
	r, err := OpenPCAP(fsys, path, 0)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	p, err := r.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("no UDP packets in %s", path)
		}
		return 0, err
	}
	return len(p.Payload), nil
}
