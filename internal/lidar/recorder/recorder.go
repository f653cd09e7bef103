// Package recorder provides recording and replay of LiDAR frame data in the
// .vrlog directory format.
package recorder

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/banshee-data/lidar-visualizer/internal/fsutil"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/playback"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/pointcloud"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/visualiser/pb"
)

// FileExtension is the extension for lidar_visualizer recordings.
const FileExtension = ".vrlog"

// ChunkSize is the number of frames per chunk file.
const ChunkSize = 1000

// FormatVersion is written to every header.
const FormatVersion = "1.0"

const (
	headerFile     = "header.json"
	indexFile      = "index.bin"
	framesDir      = "frames"
	indexEntrySize = 24
)

// ErrClosed is returned when recording into a closed Recorder.
var ErrClosed = errors.New("recorder is closed")

// LogHeader contains metadata about a recorded log.
type LogHeader struct {
	Version     string      `json:"version"`
	ID          string      `json:"id"`
	Source      string      `json:"source"`
	Loader      string      `json:"loader"`
	TotalFrames uint64      `json:"total_frames"`
	StartNs     int64       `json:"start_ns"`
	EndNs       int64       `json:"end_ns"`
	Compression Compression `json:"compression"`
	CreatedNs   int64       `json:"created_ns"`
}

// IndexEntry is an entry in the seek index.
type IndexEntry struct {
	FrameID     uint64
	TimestampNs int64
	ChunkID     uint32
	Offset      uint32
}

func (e IndexEntry) marshal(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], e.FrameID)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(e.TimestampNs))
	binary.LittleEndian.PutUint32(buf[16:20], e.ChunkID)
	binary.LittleEndian.PutUint32(buf[20:24], e.Offset)
}

func unmarshalIndexEntry(buf []byte) IndexEntry {
	return IndexEntry{
		FrameID:     binary.LittleEndian.Uint64(buf[0:8]),
		TimestampNs: int64(binary.LittleEndian.Uint64(buf[8:16])),
		ChunkID:     binary.LittleEndian.Uint32(buf[16:20]),
		Offset:      binary.LittleEndian.Uint32(buf[20:24]),
	}
}

func chunkPath(basePath string, chunkIdx int) string {
	return filepath.Join(basePath, framesDir, fmt.Sprintf("chunk_%04d.bin", chunkIdx))
}

// IsLog reports whether path is a recording directory.
func IsLog(fsys fsutil.FileSystem, path string) bool {
	fsys = fsutil.OrOS(fsys)
	return fsys.Exists(filepath.Join(path, headerFile)) && fsys.Exists(filepath.Join(path, indexFile))
}

// Options configures a Recorder.
type Options struct {
	Source      string
	Loader      string
	Compression Compression
	FS          fsutil.FileSystem
}

// Recorder writes frames to a .vrlog directory. It implements
// playback.Renderer and records each distinct dataset index once.
type Recorder struct {
	fsys     fsutil.FileSystem
	basePath string

	header       LogHeader
	index        []IndexEntry
	currentChunk int
	chunk        io.WriteCloser
	chunkOffset  uint32
	seen         map[int64]bool

	frameCount uint64
	startNs    int64
	endNs      int64

	mu     sync.Mutex
	closed bool
}

var _ playback.Renderer = (*Recorder)(nil)

// NewRecorder creates a new Recorder that writes to the given directory.
// If path is empty, a timestamped directory is created in the temp dir.
func NewRecorder(basePath string, opts Options) (*Recorder, error) {
	if basePath == "" {
		basePath = filepath.Join(os.TempDir(), fmt.Sprintf("lidar_%d%s", time.Now().Unix(), FileExtension))
	}
	if opts.Compression == "" {
		opts.Compression = CompressionSnappy
	}
	if _, err := ParseCompression(string(opts.Compression)); err != nil {
		return nil, err
	}

	fsys := fsutil.OrOS(opts.FS)
	if err := fsys.MkdirAll(filepath.Join(basePath, framesDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &Recorder{
		fsys:         fsys,
		basePath:     basePath,
		currentChunk: -1,
		seen:         make(map[int64]bool),
		header: LogHeader{
			Version:     FormatVersion,
			ID:          uuid.NewString(),
			Source:      opts.Source,
			Loader:      opts.Loader,
			Compression: opts.Compression,
			CreatedNs:   time.Now().UnixNano(),
		},
	}, nil
}

// Render records the frame unless its index was already recorded.
func (r *Recorder) Render(_ context.Context, frame *pointcloud.Frame, view playback.View) error {
	wire := pb.NewFrame(frame)
	wire.Index = int64(view.Index)
	wire.TotalFrames = int64(view.Total)
	wire.Background = view.Background.String()
	wire.Progress = int64(view.Progress)

	r.mu.Lock()
	dup := r.seen[wire.Index]
	r.mu.Unlock()
	if dup {
		return nil
	}
	return r.Record(wire)
}

// Record writes a frame to the log.
func (r *Recorder) Record(frame *pb.Frame) error {
	if frame == nil {
		return fmt.Errorf("cannot record nil frame")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	if r.frameCount == 0 {
		r.startNs = frame.TimestampNS
	}
	r.endNs = frame.TimestampNS

	chunkIdx := int(r.frameCount / ChunkSize)
	if chunkIdx != r.currentChunk {
		if err := r.rotateChunk(chunkIdx); err != nil {
			return err
		}
	}

	raw, err := pb.MarshalFrame(frame)
	if err != nil {
		return fmt.Errorf("failed to serialize frame: %w", err)
	}
	data, err := r.header.Compression.encode(raw)
	if err != nil {
		return fmt.Errorf("failed to compress frame: %w", err)
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := r.chunk.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("failed to write frame length: %w", err)
	}
	if _, err := r.chunk.Write(data); err != nil {
		return fmt.Errorf("failed to write frame data: %w", err)
	}

	r.index = append(r.index, IndexEntry{
		FrameID:     uint64(frame.Index),
		TimestampNs: frame.TimestampNS,
		ChunkID:     uint32(chunkIdx),
		Offset:      r.chunkOffset,
	})
	r.seen[frame.Index] = true

	r.chunkOffset += uint32(4 + len(data))
	r.frameCount++
	return nil
}

// rotateChunk closes the current chunk and opens a new one.
func (r *Recorder) rotateChunk(chunkIdx int) error {
	if r.chunk != nil {
		if err := r.chunk.Close(); err != nil {
			return err
		}
	}

	w, err := r.fsys.Create(chunkPath(r.basePath, chunkIdx))
	if err != nil {
		return fmt.Errorf("failed to create chunk file: %w", err)
	}

	r.chunk = w
	r.currentChunk = chunkIdx
	r.chunkOffset = 0
	log.Debug().Str("path", r.basePath).Int("chunk", chunkIdx).Msg("recording chunk opened")
	return nil
}

// Close finalises the log and writes the header and index.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.chunk != nil {
		if err := r.chunk.Close(); err != nil {
			return fmt.Errorf("failed to close chunk: %w", err)
		}
	}

	r.header.TotalFrames = r.frameCount
	r.header.StartNs = r.startNs
	r.header.EndNs = r.endNs

	headerData, err := json.MarshalIndent(r.header, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if err := r.fsys.WriteFile(filepath.Join(r.basePath, headerFile), headerData, 0644); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	w, err := r.fsys.Create(filepath.Join(r.basePath, indexFile))
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	bw := bufio.NewWriter(w)
	var buf [indexEntrySize]byte
	for _, entry := range r.index {
		entry.marshal(buf[:])
		if _, err := bw.Write(buf[:]); err != nil {
			w.Close()
			return fmt.Errorf("failed to write index: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		w.Close()
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close index: %w", err)
	}

	log.Info().Str("path", r.basePath).Uint64("frames", r.frameCount).Str("id", r.header.ID).Msg("recording finalised")
	return nil
}

// Path returns the base path of the log.
func (r *Recorder) Path() string {
	return r.basePath
}

// Header returns the header as it will be written on Close.
func (r *Recorder) Header() LogHeader {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.header
	h.TotalFrames, h.StartNs, h.EndNs = r.frameCount, r.startNs, r.endNs
	return h
}

// FrameCount returns the number of frames recorded.
func (r *Recorder) FrameCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frameCount
}
