package recorder

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/banshee-data/lidar-visualizer/internal/fsutil"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/pointcloud"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/visualiser/pb"
)

// Replayer reads frames from a log by position. It serves the vrlog dataset
// loader.
type Replayer struct {
	fsys     fsutil.FileSystem
	basePath string
	header   LogHeader
	index    []IndexEntry

	mu           sync.Mutex
	currentChunk int
	chunkData    []byte
}

// NewReplayer opens a log for replay.
func NewReplayer(fsys fsutil.FileSystem, basePath string) (*Replayer, error) {
	fsys = fsutil.OrOS(fsys)
	r := &Replayer{
		fsys:         fsys,
		basePath:     basePath,
		currentChunk: -1,
	}

	headerData, err := fsys.ReadFile(filepath.Join(basePath, headerFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if err := json.Unmarshal(headerData, &r.header); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}
	if r.header.Compression == "" {
		r.header.Compression = CompressionNone
	}
	if _, err := ParseCompression(string(r.header.Compression)); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	indexData, err := fsys.ReadFile(filepath.Join(basePath, indexFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	if len(indexData)%indexEntrySize != 0 {
		return nil, fmt.Errorf("index is %d bytes, not a multiple of %d", len(indexData), indexEntrySize)
	}
	r.index = make([]IndexEntry, 0, len(indexData)/indexEntrySize)
	for off := 0; off < len(indexData); off += indexEntrySize {
		r.index = append(r.index, unmarshalIndexEntry(indexData[off:off+indexEntrySize]))
	}
	if uint64(len(r.index)) != r.header.TotalFrames {
		return nil, fmt.Errorf("index has %d entries, header says %d frames", len(r.index), r.header.TotalFrames)
	}

	return r, nil
}

// Header returns the log header.
func (r *Replayer) Header() LogHeader {
	return r.header
}

// Len returns the number of recorded frames.
func (r *Replayer) Len() int {
	return len(r.index)
}

// Entry returns the index entry of frame idx.
func (r *Replayer) Entry(idx int) (IndexEntry, error) {
	if idx < 0 || idx >= len(r.index) {
		return IndexEntry{}, fmt.Errorf("frame index out of range: %d not in [0, %d)", idx, len(r.index))
	}
	return r.index[idx], nil
}

// SeekToTimestamp returns the position of the first frame recorded at or
// after timestampNs, or the last frame when the timestamp is beyond the log.
func (r *Replayer) SeekToTimestamp(timestampNs int64) (int, error) {
	if len(r.index) == 0 {
		return 0, fmt.Errorf("log %s is empty", r.basePath)
	}
	i := sort.Search(len(r.index), func(i int) bool {
		return r.index[i].TimestampNs >= timestampNs
	})
	if i == len(r.index) {
		i--
	}
	return i, nil
}

// ReadFrame decodes the wire frame at position idx.
func (r *Replayer) ReadFrame(idx int) (*pb.Frame, error) {
	entry, err := r.Entry(idx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if int(entry.ChunkID) != r.currentChunk {
		if err := r.loadChunk(int(entry.ChunkID)); err != nil {
			return nil, err
		}
	}

	offset := uint64(entry.Offset)
	if offset+4 > uint64(len(r.chunkData)) {
		return nil, fmt.Errorf("invalid frame offset %d in chunk %d", entry.Offset, entry.ChunkID)
	}
	frameLen := uint64(binary.LittleEndian.Uint32(r.chunkData[offset:]))
	offset += 4
	if offset+frameLen > uint64(len(r.chunkData)) {
		return nil, fmt.Errorf("invalid frame length %d in chunk %d", frameLen, entry.ChunkID)
	}

	raw, err := r.header.Compression.decode(r.chunkData[offset : offset+frameLen])
	if err != nil {
		return nil, fmt.Errorf("failed to decompress frame %d: %w", idx, err)
	}
	return pb.UnmarshalFrame(raw)
}

// Frame returns the point cloud at position idx. The frame's Index is its
// position in the log.
func (r *Replayer) Frame(ctx context.Context, idx int) (*pointcloud.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wire, err := r.ReadFrame(idx)
	if err != nil {
		return nil, err
	}
	frame, err := wire.PointCloud()
	if err != nil {
		return nil, err
	}
	frame.Index = idx
	if frame.Source == "" {
		frame.Source = r.header.Source
	}
	return frame, nil
}

// loadChunk loads a chunk file into memory.
func (r *Replayer) loadChunk(chunkIdx int) error {
	data, err := r.fsys.ReadFile(chunkPath(r.basePath, chunkIdx))
	if err != nil {
		return fmt.Errorf("failed to read chunk: %w", err)
	}
	r.chunkData = data
	r.currentChunk = chunkIdx
	return nil
}

// Close releases the cached chunk.
func (r *Replayer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunkData = nil
	r.currentChunk = -1
	return nil
}
