package datasets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/banshee-data/lidar-visualizer/internal/db"
	"github.com/banshee-data/lidar-visualizer/internal/fsutil"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/network"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/pointcloud"
)

// frameSplitter groups sensor packets into frames. Frames are split at packet
// granularity.
type frameSplitter interface {
	// reset forgets the previous packet and any partial frame.
	reset()
	// boundary classifies a payload. ok is false for packets that carry no
	// lidar data; start reports that the packet opens a new frame.
	boundary(payload []byte) (start, ok bool)
	// add decodes a packet into the frame under construction.
	add(payload []byte) error
	// finish returns the accumulated frame and clears the accumulator.
	finish() *pointcloud.Frame
}

// pcapDataset serves frames from a capture using the frame offsets recorded
// by a counting pass. Classic pcap files seek straight to a frame; pcapng
// and gzip captures are rewound and skipped forward instead.
type pcapDataset struct {
	mu      sync.Mutex
	path    string
	reader  *network.PCAPReader
	split   frameSplitter
	entries []db.FrameEntry

	next         int // index of the frame the reader is positioned at
	pending      *network.Packet
	pendingStart bool
}

type pcapConfig struct {
	loader string
	params string
	port   int
	split  frameSplitter
}

func openPCAPDataset(ctx context.Context, path string, opts Options, cfg pcapConfig) (*pcapDataset, error) {
	fsys := opts.fs()
	info, err := fsys.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s expects a pcap file, got directory %s", cfg.loader, path)
	}

	reader, err := network.OpenPCAP(fsys, path, cfg.port)
	if err != nil {
		return nil, err
	}
	d := &pcapDataset{path: path, reader: reader, split: cfg.split}

	key := db.IndexKey{
		Path:      absPath(fsys, path),
		Size:      info.Size(),
		ModTimeNS: info.ModTime().UnixNano(),
		Loader:    cfg.loader,
		Params:    cfg.params,
	}
	entries, hit := lookupIndex(ctx, opts.Cache, key)
	if !hit {
		log.Info().Str("path", path).Msg("pre-reading pcap to count the scans")
		start := time.Now()
		entries, err = d.count(ctx)
		if err != nil {
			reader.Close()
			return nil, err
		}
		log.Info().Int("scans", len(entries)).Dur("took", time.Since(start)).Msg("pcap scans counted")
		storeIndex(ctx, opts.Cache, key, entries)
		if err := d.rewind(); err != nil {
			reader.Close()
			return nil, err
		}
	}
	if len(entries) == 0 {
		reader.Close()
		return nil, fmt.Errorf("%w: no %s frames on UDP port %d in %s", ErrNoScans, cfg.loader, cfg.port, path)
	}
	d.entries = entries
	return d, nil
}

func absPath(fsys fsutil.FileSystem, path string) string {
	if _, ok := fsys.(fsutil.OSFileSystem); !ok {
		return filepath.Clean(path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func lookupIndex(ctx context.Context, cache *db.IndexCache, key db.IndexKey) ([]db.FrameEntry, bool) {
	if cache == nil {
		return nil, false
	}
	entries, ok, err := cache.Lookup(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("index cache lookup failed")
		return nil, false
	}
	if ok {
		log.Debug().Str("path", key.Path).Int("scans", len(entries)).Msg("index cache hit")
	}
	return entries, ok
}

func storeIndex(ctx context.Context, cache *db.IndexCache, key db.IndexKey, entries []db.FrameEntry) {
	if cache == nil {
		return
	}
	if err := cache.Store(ctx, key, entries); err != nil {
		log.Warn().Err(err).Msg("failed to store pcap index")
	}
}

// count walks the whole capture once and records where each frame starts.
func (d *pcapDataset) count(ctx context.Context) ([]db.FrameEntry, error) {
	d.split.reset()
	var entries []db.FrameEntry
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pkt, err := d.reader.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", d.path, err)
		}
		start, ok := d.split.boundary(pkt.Payload)
		if !ok {
			continue
		}
		if start || len(entries) == 0 {
			entries = append(entries, db.FrameEntry{
				Index:       len(entries),
				ByteOffset:  pkt.Offset,
				TimestampNS: pkt.Timestamp.UnixNano(),
			})
		}
	}
}

func (d *pcapDataset) rewind() error {
	if err := d.reader.Rewind(); err != nil {
		return err
	}
	d.split.reset()
	d.next = 0
	d.pending = nil
	return nil
}

func (d *pcapDataset) Len() int { return len(d.entries) }

func (d *pcapDataset) Close() error { return d.reader.Close() }

// Timestamp returns the capture time of the first packet of frame idx.
func (d *pcapDataset) Timestamp(idx int) (time.Time, error) {
	if err := checkIndex(idx, len(d.entries)); err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, d.entries[idx].TimestampNS).UTC(), nil
}

func (d *pcapDataset) Frame(ctx context.Context, idx int) (*pointcloud.Frame, error) {
	if err := checkIndex(idx, len(d.entries)); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.reader.Seekable() {
		if idx != d.next || d.pending == nil {
			if err := d.reader.SeekOffset(d.entries[idx].ByteOffset); err != nil {
				return nil, err
			}
			d.split.reset()
			d.pending = nil
			d.next = idx
		}
	} else {
		if idx < d.next {
			if err := d.rewind(); err != nil {
				return nil, err
			}
		}
		for d.next < idx {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if _, err := d.collect(false); err != nil {
				return nil, err
			}
		}
	}

	frame, err := d.collect(true)
	if err != nil {
		return nil, err
	}
	frame.Index = idx
	frame.Source = d.path
	frame.Timestamp = time.Unix(0, d.entries[idx].TimestampNS).UTC()
	return frame, nil
}

// collect reads the packets of the frame at d.next, decoding them when
// decode is set, and leaves the first packet of the following frame pending.
func (d *pcapDataset) collect(decode bool) (*pointcloud.Frame, error) {
	first := true
	for {
		pkt, start := d.pending, d.pendingStart
		d.pending = nil
		if pkt == nil {
			var err error
			pkt, err = d.reader.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", d.path, err)
			}
			var ok bool
			start, ok = d.split.boundary(pkt.Payload)
			if !ok {
				continue
			}
		}
		if start && !first {
			d.pending, d.pendingStart = pkt, true
			break
		}
		first = false
		if decode {
			if err := d.split.add(pkt.Payload); err != nil {
				log.Debug().Err(err).Int64("offset", pkt.Offset).Msg("skipping undecodable packet")
			}
		}
	}
	d.next++
	frame := d.split.finish()
	return frame, nil
}
