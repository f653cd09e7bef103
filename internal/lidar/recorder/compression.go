package recorder

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how frame records are compressed inside a chunk.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionSnappy Compression = "snappy"
	CompressionLZ4    Compression = "lz4"
)

// ParseCompression accepts "snappy", "lz4" or "none". The empty string
// selects snappy.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CompressionSnappy, nil
	case CompressionNone, CompressionSnappy, CompressionLZ4:
		return c, nil
	}
	return "", fmt.Errorf("unknown compression %q, expected snappy, lz4 or none", s)
}

// lz4 records start with a mode byte and the uncompressed length, because
// CompressBlock refuses input it cannot shrink.
const (
	lz4Block  = 0
	lz4Stored = 1

	lz4HeaderLen = 5

	lz4HashTableSize = 1 << 16
)

func (c Compression) encode(data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionSnappy:
		return snappy.Encode(nil, data), nil
	case CompressionLZ4:
		out := make([]byte, lz4HeaderLen+lz4.CompressBlockBound(len(data)))
		binary.LittleEndian.PutUint32(out[1:lz4HeaderLen], uint32(len(data)))
		n, err := lz4.CompressBlock(data, out[lz4HeaderLen:], make([]int, lz4HashTableSize))
		if err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		if n == 0 || n >= len(data) {
			out[0] = lz4Stored
			return append(out[:lz4HeaderLen], data...), nil
		}
		out[0] = lz4Block
		return out[:lz4HeaderLen+n], nil
	}
	return nil, fmt.Errorf("unknown compression %q", string(c))
}

func (c Compression) decode(data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionSnappy:
		out, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("snappy: %w", err)
		}
		return out, nil
	case CompressionLZ4:
		if len(data) < lz4HeaderLen {
			return nil, fmt.Errorf("lz4: record too short (%d bytes)", len(data))
		}
		size := int(binary.LittleEndian.Uint32(data[1:lz4HeaderLen]))
		payload := data[lz4HeaderLen:]
		switch data[0] {
		case lz4Stored:
			if len(payload) != size {
				return nil, fmt.Errorf("lz4: stored record has %d bytes, header says %d", len(payload), size)
			}
			return payload, nil
		case lz4Block:
			out := make([]byte, size)
			n, err := lz4.UncompressBlock(payload, out)
			if err != nil {
				return nil, fmt.Errorf("lz4: %w", err)
			}
			if n != size {
				return nil, fmt.Errorf("lz4: decoded %d bytes, header says %d", n, size)
			}
			return out, nil
		}
		return nil, fmt.Errorf("lz4: unknown record mode %d", data[0])
	}
	return nil, fmt.Errorf("unknown compression %q", string(c))
}
