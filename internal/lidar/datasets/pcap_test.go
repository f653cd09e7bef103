package datasets

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidar-visualizer/internal/db"
	"github.com/banshee-data/lidar-visualizer/internal/fsutil"
	"github.com/banshee-data/lidar-visualizer/internal/testutil"
)

var captureStart = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// hesaiCapture writes a capture of seven packets forming three frames:
// [0° 120° 240°], [359.5°→0.1° 120° 240°] and a trailing partial [0°].
func hesaiCapture(t *testing.T, fsys *fsutil.MemoryFileSystem) {
	t.Helper()
	starts := []int{0, 12000, 24000, 35950, 12000, 24000, 0}
	var dgs []testutil.Datagram
	for i, s := range starts {
		dgs = append(dgs, testutil.Datagram{
			Payload:   testutil.HesaiPacket(testutil.HesaiWrapAzimuths(s, 20), 2500, uint8(10*(i+1)), 600),
			Timestamp: captureStart.Add(time.Duration(i) * 10 * time.Millisecond),
			DstPort:   2368,
		})
	}
	require.NoError(t, fsys.WriteFile("/cap/drive.pcap", testutil.PCAP(t, dgs), 0644))
	angles, firetimes := testutil.HesaiCalibrationCSV()
	require.NoError(t, fsys.WriteFile("/cap/drive.csv", angles, 0644))
	require.NoError(t, fsys.WriteFile("/cap/drive_firetime.csv", firetimes, 0644))
}

func TestHesai(t *testing.T) {
	ctx := context.Background()
	fsys := fsutil.NewMemoryFileSystem()
	hesaiCapture(t, fsys)

	ds, err := Open(ctx, "hesai", "/cap/drive.pcap", Options{FS: fsys})
	require.NoError(t, err)
	defer ds.Close()
	require.Equal(t, 3, ds.Len())

	// Random access in any order matches the packet grouping.
	last, err := ds.Frame(ctx, 2)
	require.NoError(t, err)
	first, err := ds.Frame(ctx, 0)
	require.NoError(t, err)
	second, err := ds.Frame(ctx, 1)
	require.NoError(t, err)

	perPacket := last.Len()
	require.Positive(t, perPacket)
	assert.Equal(t, 3*perPacket, first.Len())
	assert.Equal(t, 3*perPacket, second.Len())
	assert.Len(t, first.Colors, first.Len())

	assert.Equal(t, captureStart.Add(30*time.Millisecond), second.Timestamp)
	assert.Equal(t, "/cap/drive.pcap", second.Source)
	assert.Equal(t, 1, second.Index)

	again, err := ds.Frame(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, second.Points, again.Points)

	_, err = ds.Frame(ctx, 3)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestHesai_MissingCalibration(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	hesaiCapture(t, fsys)
	require.NoError(t, fsys.RemoveAll("/cap/drive.csv"))

	_, err := Open(context.Background(), "hesai", "/cap/drive.pcap", Options{FS: fsys})
	assert.ErrorIs(t, err, ErrMissingMetadata)

	_, err = Open(context.Background(), "hesai", "/cap", Options{FS: fsys, Meta: "/cap/drive_firetime.csv"})
	assert.Error(t, err)
}

func TestFiretimePath(t *testing.T) {
	assert.Equal(t, "/cal/p40_firetime.csv", firetimePath("/cal/p40.csv"))
}

func ousterCapture(t *testing.T, fsys *fsutil.MemoryFileSystem) {
	t.Helper()
	const h, w, cpp = 4, 32, 16
	var dgs []testutil.Datagram
	add := func(payload []byte, port int) {
		dgs = append(dgs, testutil.Datagram{
			Payload:   payload,
			Timestamp: captureStart.Add(time.Duration(len(dgs)) * time.Millisecond),
			DstPort:   port,
		})
	}
	for frame := 1; frame <= 3; frame++ {
		add(testutil.OusterLegacyPacket(h, cpp, frame, 0, 5000, uint16(frame*10), 0), 7502)
		if frame == 3 {
			break
		}
		add([]byte("imu"), 7503)
		add(testutil.OusterLegacyPacket(h, cpp, frame, cpp, 5000, uint16(frame*20), 0), 7502)
	}
	require.NoError(t, fsys.WriteFile("/os/drive.pcap", testutil.PCAP(t, dgs), 0644))
	require.NoError(t, fsys.WriteFile("/os/drive.json", testutil.OusterMetadataJSON(h, w, cpp, "LEGACY"), 0644))
	require.NoError(t, fsys.WriteFile("/os/calib.json", []byte("{}"), 0644))
}

func TestOuster(t *testing.T) {
	ctx := context.Background()
	fsys := fsutil.NewMemoryFileSystem()
	ousterCapture(t, fsys)

	ds, err := Open(ctx, "ouster", "/os/drive.pcap", Options{FS: fsys})
	require.NoError(t, err)
	defer ds.Close()
	require.Equal(t, 3, ds.Len())

	f, err := ds.Frame(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2*16*4, f.Len())
	assert.Equal(t, captureStart, f.Timestamp)

	f, err = ds.Frame(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 16*4, f.Len())
	assert.Equal(t, captureStart.Add(6*time.Millisecond), f.Timestamp)
	assert.Len(t, f.Colors, f.Len())
}

func TestOuster_MissingMetadata(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	ousterCapture(t, fsys)
	require.NoError(t, fsys.RemoveAll("/os/drive.json"))
	require.NoError(t, fsys.RemoveAll("/os/calib.json"))

	_, err := Open(context.Background(), "ouster", "/os/drive.pcap", Options{FS: fsys})
	assert.ErrorIs(t, err, ErrMissingMetadata)
}

func TestPCAP_NoFramesOnPort(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	data := testutil.PCAP(t, []testutil.Datagram{{Payload: []byte("noise"), Timestamp: captureStart, DstPort: 7502}})
	require.NoError(t, fsys.WriteFile("/os/quiet.pcap", data, 0644))
	require.NoError(t, fsys.WriteFile("/os/quiet.json", testutil.OusterMetadataJSON(4, 32, 16, "LEGACY"), 0644))

	_, err := Open(context.Background(), "ouster", "/os/quiet.pcap", Options{FS: fsys})
	assert.ErrorIs(t, err, ErrNoScans)
}

func TestPCAP_IndexCache(t *testing.T) {
	ctx := context.Background()
	fsys := fsutil.NewMemoryFileSystem()
	hesaiCapture(t, fsys)

	cache, err := db.NewIndexCache(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer cache.Close()

	ds, err := Open(ctx, "hesai", "/cap/drive.pcap", Options{FS: fsys, Cache: cache})
	require.NoError(t, err)
	require.Equal(t, 3, ds.Len())
	require.NoError(t, ds.Close())

	stats, err := cache.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Indexes)
	assert.Equal(t, int64(3), stats.Frames)

	// A stored index is trusted as long as size and mtime match, so a
	// doctored entry list proves the counting pass was skipped.
	info, err := fsys.Stat("/cap/drive.pcap")
	require.NoError(t, err)
	key := db.IndexKey{
		Path:      "/cap/drive.pcap",
		Size:      info.Size(),
		ModTimeNS: info.ModTime().UnixNano(),
		Loader:    "hesai",
		Params:    "pandar40p",
	}
	entries, ok, err := cache.Lookup(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, cache.Store(ctx, key, entries[:2]))

	ds, err = Open(ctx, "hesai", "/cap/drive.pcap", Options{FS: fsys, Cache: cache})
	require.NoError(t, err)
	defer ds.Close()
	assert.Equal(t, 2, ds.Len())

	// Touching the capture invalidates the cached index.
	require.NoError(t, fsys.SetModTime("/cap/drive.pcap", captureStart))
	ds2, err := Open(ctx, "hesai", "/cap/drive.pcap", Options{FS: fsys, Cache: cache})
	require.NoError(t, err)
	defer ds2.Close()
	assert.Equal(t, 3, ds2.Len())
}
