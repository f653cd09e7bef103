package datasets

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/banshee-data/lidar-visualizer/internal/fsutil"
)

func timeFromNanos(ns int64) time.Time { return time.Unix(0, ns).UTC() }

func openKITTI(_ context.Context, root string, opts Options) (Dataset, error) {
	if opts.Sequence == nil {
		return nil, ErrSequenceRequired
	}
	fsys := opts.fs()
	seqDir := filepath.Join(root, "sequences", fmt.Sprintf("%02d", *opts.Sequence))
	files, err := listScans(fsys, filepath.Join(seqDir, "velodyne"), []string{".bin"}, opts.Pattern)
	if err != nil {
		return nil, err
	}

	ds := &fileDataset{fsys: fsys, files: files, read: readKITTIBin}

	timesPath := filepath.Join(seqDir, "times.txt")
	if fsys.Exists(timesPath) {
		times, err := readKITTITimes(fsys, timesPath)
		if err != nil {
			return nil, err
		}
		if len(times) != len(files) {
			log.Warn().Int("times", len(times)).Int("scans", len(files)).
				Msg("times.txt length does not match scan count, using file times")
		} else {
			ds.times = func(idx int) (int64, bool) { return times[idx], true }
		}
	}
	return ds, nil
}

// readKITTITimes parses one timestamp in seconds per line.
func readKITTITimes(fsys fsutil.FileSystem, path string) ([]int64, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var times []int64
	sc := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		sec, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		times = append(times, int64(math.Round(sec*1e9)))
	}
	return times, sc.Err()
}
