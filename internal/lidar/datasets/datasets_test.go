package datasets

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidar-visualizer/internal/fsutil"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/recorder"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/visualiser/pb"
	"github.com/banshee-data/lidar-visualizer/internal/testutil"
)

func writeScans(t *testing.T, fsys *fsutil.MemoryFileSystem, dir string, names ...string) {
	t.Helper()
	for i, name := range names {
		scan := testutil.KITTIScan([][4]float32{{float32(i), 0, 0, 1}})
		require.NoError(t, fsys.WriteFile(dir+"/"+name, scan, 0644))
	}
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"generic", "hesai", "helipr", "kitti", "ouster", "vrlog"}, Available())
	assert.Equal(t, []string{"kitti"}, SequenceLoaders())
	assert.Equal(t, Available(), JumpableLoaders())
	assert.Empty(t, TopicLoaders())
	assert.Equal(t, []string{".bin", ".pcd", ".ply", ".xyz"}, SupportedExtensions())

	info, err := Lookup(" KITTI ")
	require.NoError(t, err)
	assert.Equal(t, "kitti", info.Name)
	assert.True(t, info.NeedsSequence)

	_, err = Lookup("rosbag")
	assert.ErrorIs(t, err, ErrUnknownLoader)
	assert.Contains(t, err.Error(), "generic, hesai")

	_, err = Open(context.Background(), "nope", "/x", Options{})
	assert.ErrorIs(t, err, ErrUnknownLoader)
}

func TestGeneric(t *testing.T) {
	ctx := context.Background()
	fsys := fsutil.NewMemoryFileSystem()
	writeScans(t, fsys, "/scans", "10.bin", "2.bin", "1.bin")
	require.NoError(t, fsys.WriteFile("/scans/notes.txt", []byte("hello"), 0644))
	stamp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, fsys.SetModTime("/scans/2.bin", stamp))

	ds, err := Open(ctx, "generic", "/scans", Options{FS: fsys})
	require.NoError(t, err)
	defer ds.Close()
	require.Equal(t, 3, ds.Len())

	f, err := ds.Frame(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Index)
	assert.Equal(t, "/scans/2.bin", f.Source)
	assert.True(t, stamp.Equal(f.Timestamp))
	assert.Equal(t, 1.0, f.Points[0].X)

	_, err = ds.Frame(ctx, 3)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = ds.Frame(ctx, -1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = ds.Frame(cancelled, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGeneric_FilePathAndPattern(t *testing.T) {
	ctx := context.Background()
	fsys := fsutil.NewMemoryFileSystem()
	writeScans(t, fsys, "/scans", "1.bin", "10.bin", "2.bin")

	ds, err := Open(ctx, "generic", "/scans/2.bin", Options{FS: fsys})
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())

	ds, err = Open(ctx, "generic", "/scans", Options{FS: fsys, Pattern: "1*"})
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())
	f, err := ds.Frame(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "/scans/10.bin", f.Source)
}

func TestGeneric_Errors(t *testing.T) {
	ctx := context.Background()
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.MkdirAll("/empty", 0755))
	require.NoError(t, fsys.WriteFile("/other/readme.md", []byte("#"), 0644))

	_, err := Open(ctx, "generic", "/empty", Options{FS: fsys})
	assert.ErrorIs(t, err, ErrNoScans)
	_, err = Open(ctx, "generic", "/other", Options{FS: fsys})
	assert.ErrorIs(t, err, ErrNoScans)
	_, err = Open(ctx, "generic", "/missing", Options{FS: fsys})
	assert.Error(t, err)

	require.NoError(t, fsys.WriteFile("/bad/0.bin", []byte{1, 2, 3}, 0644))
	ds, err := Open(ctx, "generic", "/bad", Options{FS: fsys})
	require.NoError(t, err)
	_, err = ds.Frame(ctx, 0)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestKITTI(t *testing.T) {
	ctx := context.Background()
	fsys := fsutil.NewMemoryFileSystem()
	writeScans(t, fsys, "/kitti/sequences/03/velodyne", "000000.bin", "000001.bin")
	require.NoError(t, fsys.WriteFile("/kitti/sequences/03/times.txt", []byte("0.000000e+00\n1.000000e-01\n"), 0644))

	_, err := Open(ctx, "kitti", "/kitti", Options{FS: fsys})
	assert.ErrorIs(t, err, ErrSequenceRequired)

	seq := 3
	ds, err := Open(ctx, "kitti", "/kitti", Options{FS: fsys, Sequence: &seq})
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())

	f, err := ds.Frame(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, time.Unix(0, 100_000_000).UTC(), f.Timestamp)
	assert.Equal(t, "/kitti/sequences/03/velodyne/000001.bin", f.Source)

	missing := 4
	_, err = Open(ctx, "kitti", "/kitti", Options{FS: fsys, Sequence: &missing})
	assert.Error(t, err)
}

func TestKITTI_TimesMismatchFallsBackToFileTimes(t *testing.T) {
	ctx := context.Background()
	fsys := fsutil.NewMemoryFileSystem()
	writeScans(t, fsys, "/k/sequences/00/velodyne", "000000.bin", "000001.bin")
	require.NoError(t, fsys.WriteFile("/k/sequences/00/times.txt", []byte("0.0\n"), 0644))
	stamp := time.Date(2011, 9, 26, 0, 0, 0, 0, time.UTC)
	require.NoError(t, fsys.SetModTime("/k/sequences/00/velodyne/000001.bin", stamp))

	seq := 0
	ds, err := Open(ctx, "kitti", "/k", Options{FS: fsys, Sequence: &seq})
	require.NoError(t, err)
	f, err := ds.Frame(ctx, 1)
	require.NoError(t, err)
	assert.True(t, stamp.Equal(f.Timestamp))

	require.NoError(t, fsys.WriteFile("/k/sequences/00/times.txt", []byte("zero\n"), 0644))
	_, err = Open(ctx, "kitti", "/k", Options{FS: fsys, Sequence: &seq})
	assert.Error(t, err)
}

func TestHeLiPRLayoutFor(t *testing.T) {
	tests := []struct {
		dir  string
		want string
		size int
	}{
		{"/data/Avia", "avia", 19},
		{"/data/Aeva/", "aeva", 29},
		{"/data/Ouster", "ouster", 26},
		{"/data/sensor_velodyne_vlp16", "velodyne", 22},
	}
	for _, tt := range tests {
		l, err := heliprLayoutFor(tt.dir)
		require.NoError(t, err, tt.dir)
		assert.Equal(t, tt.want, l.name)
		assert.Equal(t, tt.size, l.size)
	}

	_, err := heliprLayoutFor("/data/Livox")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestHeLiPR(t *testing.T) {
	ctx := context.Background()
	fsys := fsutil.NewMemoryFileSystem()

	// Two Velodyne records: x y z f32, intensity f32, ring u16, time f32.
	rec := make([]byte, 0, 44)
	for _, p := range [][4]float32{{1, 2, 3, 50}, {4, 5, 6, 100}} {
		rec = append(rec, testutil.KITTIScan([][4]float32{p})...)
		rec = append(rec, 0, 0, 0, 0, 0, 0)
	}
	require.NoError(t, fsys.WriteFile("/helipr/Velodyne/1690000000.bin", rec, 0644))

	ds, err := Open(ctx, "helipr", "/helipr/Velodyne", Options{FS: fsys})
	require.NoError(t, err)
	require.Equal(t, 1, ds.Len())
	f, err := ds.Frame(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 2, f.Len())
	assert.Equal(t, []float32{50, 100}, f.Intensity)
	assert.Equal(t, 6.0, f.Points[1].Z)

	require.NoError(t, fsys.WriteFile("/helipr/Aeva/0.bin", rec, 0644))
	ds, err = Open(ctx, "helipr", "/helipr/Aeva", Options{FS: fsys})
	require.NoError(t, err)
	_, err = ds.Frame(ctx, 0)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestVRLog(t *testing.T) {
	ctx := context.Background()
	fsys := fsutil.NewMemoryFileSystem()
	rec, err := recorder.NewRecorder("/run.vrlog", recorder.Options{FS: fsys, Source: "/scans", Loader: "generic"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, rec.Record(&pb.Frame{
			Index:       int64(10 + i),
			TimestampNS: int64(i+1) * 1000,
			X:           []float32{float32(i)},
			Y:           []float32{0},
			Z:           []float32{0},
		}))
	}
	require.NoError(t, rec.Close())

	name, dataPath, err := Guess(fsys, "/run.vrlog")
	require.NoError(t, err)
	assert.Equal(t, "vrlog", name)
	assert.Equal(t, "/run.vrlog", dataPath)

	ds, err := Open(ctx, name, dataPath, Options{FS: fsys})
	require.NoError(t, err)
	defer ds.Close()
	require.Equal(t, 3, ds.Len())

	f, err := ds.Frame(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, f.Index)
	assert.Equal(t, "/scans", f.Source)
	assert.Equal(t, 2.0, f.Points[0].X)

	_, err = ds.Frame(ctx, 3)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	_, err = Open(ctx, "vrlog", "/nowhere", Options{FS: fsys})
	assert.Error(t, err)

	empty, err := recorder.NewRecorder("/empty.vrlog", recorder.Options{FS: fsys})
	require.NoError(t, err)
	require.NoError(t, empty.Close())
	_, err = Open(ctx, "vrlog", "/empty.vrlog", Options{FS: fsys})
	assert.ErrorIs(t, err, ErrNoScans)
}

func TestGuess(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	writeScans(t, fsys, "/scans", "0.bin")
	require.NoError(t, fsys.WriteFile("/scans/cloud.pcd", []byte("x"), 0644))
	require.NoError(t, fsys.WriteFile("/drive.bag", []byte("x"), 0644))
	require.NoError(t, fsys.WriteFile("/notes.txt", []byte("x"), 0644))

	start := time.Unix(1700000000, 0)
	hesai := testutil.PCAP(t, []testutil.Datagram{
		{Payload: testutil.HesaiPacket(testutil.HesaiWrapAzimuths(0, 20), 250, 10, 600), Timestamp: start, DstPort: 2368},
	})
	require.NoError(t, fsys.WriteFile("/cap/hesai.pcap", hesai, 0644))
	ouster := testutil.PCAP(t, []testutil.Datagram{
		{Payload: testutil.OusterLegacyPacket(4, 16, 1, 0, 5000, 10, 0), Timestamp: start, DstPort: 7502},
	})
	require.NoError(t, fsys.WriteFile("/cap/os.pcap", ouster, 0644))

	tests := []struct {
		path     string
		wantName string
		wantPath string
	}{
		{"/scans", "generic", "/scans"},
		{"/scans/cloud.pcd", "generic", "/scans"},
		{"/cap/hesai.pcap", "hesai", "/cap/hesai.pcap"},
		{"/cap/os.pcap", "ouster", "/cap/os.pcap"},
	}
	for _, tt := range tests {
		name, dataPath, err := Guess(fsys, tt.path)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.wantName, name, tt.path)
		assert.Equal(t, tt.wantPath, dataPath, tt.path)
	}

	_, _, err := Guess(fsys, "/drive.bag")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Contains(t, err.Error(), "rosbag")

	_, _, err = Guess(fsys, "/notes.txt")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Contains(t, err.Error(), "--dataloader")

	_, _, err = Guess(fsys, "/missing")
	assert.Error(t, err)
}
