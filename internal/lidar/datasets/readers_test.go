package datasets

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lidar-visualizer/internal/lidar/pointcloud"
	"github.com/banshee-data/lidar-visualizer/internal/testutil"
)

func TestNaturalSort(t *testing.T) {
	names := []string{"10.bin", "a.bin", "2.bin", "02.bin", "1.bin", "scan_100.pcd", "scan_20.pcd"}
	naturalSort(names)
	assert.Equal(t, []string{"1.bin", "2.bin", "02.bin", "10.bin", "a.bin", "scan_20.pcd", "scan_100.pcd"}, names)
}

func TestReadKITTIBin(t *testing.T) {
	data := testutil.KITTIScan([][4]float32{{1, 2, 3, 0.5}, {4, 5, 6, 1}})
	f, err := readKITTIBin(data, "000000.bin")
	require.NoError(t, err)
	require.NoError(t, f.Validate())

	assert.Equal(t, []r3.Vec{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}}, f.Points)
	assert.Equal(t, []float32{0.5, 1}, f.Intensity)
	require.Len(t, f.Colors, 2)
	assert.Equal(t, viridis.At(1), f.Colors[1])
	assert.Equal(t, viridis.At(0.5), f.Colors[0])

	_, err = readKITTIBin(data[:17], "bad.bin")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

const pcdHeaderXYZI = `# .PCD v0.7 - Point Cloud Data file format
VERSION 0.7
FIELDS x y z intensity
SIZE 4 4 4 4
TYPE F F F F
COUNT 1 1 1 1
WIDTH 3
HEIGHT 1
VIEWPOINT 0 0 0 1 0 0 0
POINTS 3
`

func TestReadPCD_ASCII(t *testing.T) {
	data := pcdHeaderXYZI + "DATA ascii\n1 2 3 10\n4 5 6 20\nnan nan nan 0\n"
	f, err := readPCD([]byte(data), "a.pcd")
	require.NoError(t, err)
	assert.Equal(t, []r3.Vec{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}}, f.Points)
	assert.Equal(t, []float32{10, 20}, f.Intensity)
	assert.Len(t, f.Colors, 2)
	assert.Equal(t, "a.pcd", f.Source)
}

func TestReadPCD_ASCIIPackedRGB(t *testing.T) {
	data := strings.Join([]string{
		"VERSION 0.7",
		"FIELDS x y z rgb",
		"SIZE 4 4 4 4",
		"TYPE F F F U",
		"WIDTH 2",
		"HEIGHT 1",
		"POINTS 2",
		"DATA ascii",
		"0 0 0 16711680",
		"1 1 1 255",
	}, "\n") + "\n"
	f, err := readPCD([]byte(data), "rgb.pcd")
	require.NoError(t, err)
	assert.Equal(t, []pointcloud.Color{{R: 255}, {B: 255}}, f.Colors)
	assert.Empty(t, f.Intensity)
}

func pcdXYZRGBHeader(data string, n int) string {
	return strings.Join([]string{
		"VERSION 0.7",
		"FIELDS x y z rgb",
		"SIZE 4 4 4 4",
		"TYPE F F F U",
		"COUNT 1 1 1 1",
		"WIDTH " + strconv.Itoa(n),
		"HEIGHT 1",
		"POINTS " + strconv.Itoa(n),
		"DATA " + data,
	}, "\n") + "\n"
}

func TestReadPCD_Binary(t *testing.T) {
	var body bytes.Buffer
	for _, rec := range []struct {
		X, Y, Z float32
		RGB     uint32
	}{{1, 2, 3, 0x00FF00}, {-1, -2, -3, 0x0000FF}} {
		require.NoError(t, binary.Write(&body, binary.LittleEndian, rec))
	}
	data := append([]byte(pcdXYZRGBHeader("binary", 2)), body.Bytes()...)

	f, err := readPCD(data, "b.pcd")
	require.NoError(t, err)
	assert.Equal(t, []r3.Vec{{X: 1, Y: 2, Z: 3}, {X: -1, Y: -2, Z: -3}}, f.Points)
	assert.Equal(t, []pointcloud.Color{{G: 255}, {B: 255}}, f.Colors)

	_, err = readPCD(data[:len(data)-4], "short.pcd")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

// lzfLiterals encodes raw as LZF literal runs only, which is a valid stream.
func lzfLiterals(raw []byte) []byte {
	var out []byte
	for len(raw) > 0 {
		n := min(len(raw), 32)
		out = append(out, byte(n-1))
		out = append(out, raw[:n]...)
		raw = raw[n:]
	}
	return out
}

func TestReadPCD_BinaryCompressed(t *testing.T) {
	// Structure of arrays: all x, then all y, then all z, then all rgb.
	var raw bytes.Buffer
	for _, v := range []any{
		[]float32{1, 4}, []float32{2, 5}, []float32{3, 6}, []uint32{0xFF0000, 0x00FF00},
	} {
		require.NoError(t, binary.Write(&raw, binary.LittleEndian, v))
	}
	compressed := lzfLiterals(raw.Bytes())

	var body bytes.Buffer
	require.NoError(t, binary.Write(&body, binary.LittleEndian, uint32(len(compressed))))
	require.NoError(t, binary.Write(&body, binary.LittleEndian, uint32(raw.Len())))
	body.Write(compressed)
	data := append([]byte(pcdXYZRGBHeader("binary_compressed", 2)), body.Bytes()...)

	f, err := readPCD(data, "c.pcd")
	require.NoError(t, err)
	assert.Equal(t, []r3.Vec{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}}, f.Points)
	assert.Equal(t, []pointcloud.Color{{R: 255}, {G: 255}}, f.Colors)
}

func TestReadPCD_Errors(t *testing.T) {
	for name, data := range map[string]string{
		"no data line":  "VERSION 0.7\nFIELDS x y z\n",
		"missing z":     "FIELDS x y\nSIZE 4 4\nTYPE F F\nWIDTH 1\nPOINTS 1\nDATA ascii\n1 2\n",
		"bad type":      "FIELDS x y z\nSIZE 4 4 4\nTYPE Q Q Q\nWIDTH 1\nPOINTS 1\nDATA ascii\n1 2 3\n",
		"unknown data":  "FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nWIDTH 1\nPOINTS 1\nDATA zip\n",
		"short ascii":   "FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nWIDTH 2\nPOINTS 2\nDATA ascii\n1 2 3\n",
		"unknown field": "FIELDS x y z\nBOGUS 1\nDATA ascii\n",
	} {
		_, err := readPCD([]byte(data), name)
		assert.ErrorIs(t, err, ErrUnsupportedFormat, name)
	}
}

func TestReadPCD_InvalidCounts(t *testing.T) {
	const fields = "FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\n"
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"negative points", "WIDTH 1\nPOINTS -1\n", "invalid POINTS line"},
		{"negative width", "WIDTH -2\nHEIGHT 1\n", "invalid WIDTH line"},
		{"negative height", "WIDTH 2\nHEIGHT -1\n", "invalid HEIGHT line"},
		{"width times height overflows", "WIDTH 4294967296\nHEIGHT 4294967296\n", "overflows"},
		{"points times stride overflows", "WIDTH 1\nPOINTS 4611686018427387904\n", "too large"},
		{"huge count", "COUNT 1 1 4294967296\nWIDTH 1\nPOINTS 1\n", "SIZE/COUNT"},
	}
	for _, tt := range tests {
		for _, data := range []string{"ascii", "binary", "binary_compressed"} {
			t.Run(tt.name+"/"+data, func(t *testing.T) {
				raw := fields + tt.header + "DATA " + data + "\n1 2 3\n"
				require.NotPanics(t, func() {
					_, err := readPCD([]byte(raw), "bad.pcd")
					require.ErrorIs(t, err, ErrUnsupportedFormat)
					assert.Contains(t, err.Error(), tt.want)
				})
			})
		}
	}
}

func TestReadPCD_ASCIILargePointsShortBody(t *testing.T) {
	raw := "FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nWIDTH 1\nPOINTS 1000000000000\nDATA ascii\n1 2 3\n"
	_, err := readPCD([]byte(raw), "big.pcd")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLZFDecompress(t *testing.T) {
	// "abc" literal, then a short back reference of 6 bytes at distance 3.
	out, err := lzfDecompress([]byte{0x02, 'a', 'b', 'c', 0x80, 0x02}, 9)
	require.NoError(t, err)
	assert.Equal(t, "abcabcabc", string(out))

	// Long back reference: 7+2+2 = 11 copies of the previous byte.
	out, err = lzfDecompress([]byte{0x00, 'a', 0xE0, 0x02, 0x00}, 12)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 12), string(out))

	_, err = lzfDecompress([]byte{0x05, 'a'}, 6)
	assert.Error(t, err)
	_, err = lzfDecompress([]byte{0x20, 0x05}, 3)
	assert.Error(t, err)
	_, err = lzfDecompress([]byte{0x00, 'a'}, 2)
	assert.Error(t, err)
}

const plyASCIIFixture = `ply
format ascii 1.0
comment written by a test
element vertex 2
property float x
property float y
property float z
property uchar red
property uchar green
property uchar blue
element face 0
property list uchar int vertex_indices
end_header
1 2 3 255 0 0
4 5 6 0 255 0
`

func TestReadPLY_ASCII(t *testing.T) {
	f, err := readPLY([]byte(plyASCIIFixture), "a.ply")
	require.NoError(t, err)
	assert.Equal(t, []r3.Vec{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}}, f.Points)
	assert.Equal(t, []pointcloud.Color{{R: 255}, {G: 255}}, f.Colors)
}

func plyBinaryFile(t *testing.T, format string, order binary.ByteOrder) []byte {
	t.Helper()
	header := "ply\nformat " + format + " 1.0\n" +
		"element camera 1\nproperty float fx\n" +
		"element vertex 2\nproperty float x\nproperty float y\nproperty float z\nproperty float intensity\n" +
		"end_header\n"
	var body bytes.Buffer
	require.NoError(t, binary.Write(&body, order, float32(500)))
	require.NoError(t, binary.Write(&body, order, []float32{1, 2, 3, 10, 4, 5, 6, 40}))
	return append([]byte(header), body.Bytes()...)
}

func TestReadPLY_Binary(t *testing.T) {
	for format, order := range map[string]binary.ByteOrder{
		"binary_little_endian": binary.LittleEndian,
		"binary_big_endian":    binary.BigEndian,
	} {
		t.Run(format, func(t *testing.T) {
			f, err := readPLY(plyBinaryFile(t, format, order), "b.ply")
			require.NoError(t, err)
			assert.Equal(t, []r3.Vec{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}}, f.Points)
			assert.Equal(t, []float32{10, 40}, f.Intensity)
			assert.Equal(t, viridis.At(0.25), f.Colors[0])
		})
	}
}

func TestReadPLY_Errors(t *testing.T) {
	for name, data := range map[string]string{
		"magic":      "plx\nend_header\n",
		"no vertex":  "ply\nformat ascii 1.0\nelement face 0\nend_header\n",
		"no z":       "ply\nformat ascii 1.0\nelement vertex 1\nproperty float x\nproperty float y\nend_header\n1 2\n",
		"bad type":   "ply\nformat ascii 1.0\nelement vertex 1\nproperty quad x\nend_header\n",
		"truncated":  "ply\nformat binary_little_endian 1.0\nelement vertex 1\nproperty float x\nproperty float y\nproperty float z\nend_header\n\x00\x00",
		"list first": "ply\nformat binary_little_endian 1.0\nelement face 1\nproperty list uchar int v\nelement vertex 1\nproperty float x\nproperty float y\nproperty float z\nend_header\n",
	} {
		_, err := readPLY([]byte(data), name)
		assert.ErrorIs(t, err, ErrUnsupportedFormat, name)
	}
}

func TestReadXYZ(t *testing.T) {
	f, err := readXYZ([]byte("# comment\n1 2 3\n\n4,5,6\n"), "a.xyz")
	require.NoError(t, err)
	assert.Equal(t, []r3.Vec{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}}, f.Points)
	assert.Empty(t, f.Intensity)
	assert.Empty(t, f.Colors)

	f, err = readXYZ([]byte("1 2 3 5\n4 5 6 10\n"), "i.xyz")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 10}, f.Intensity)
	assert.Len(t, f.Colors, 2)

	_, err = readXYZ([]byte("1 2\n"), "bad.xyz")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	_, err = readXYZ([]byte("1 2 3 4\n1 2 3\n"), "ragged.xyz")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	f, err = readXYZ(nil, "empty.xyz")
	require.NoError(t, err)
	assert.Equal(t, 0, f.Len())
}

func TestReadByExtension(t *testing.T) {
	_, err := readByExtension([]byte("x"), "scan.las")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	f, err := readByExtension([]byte("1 2 3\n"), "SCAN.XYZ")
	require.NoError(t, err)
	assert.Equal(t, 1, f.Len())
}
