package visualiser

import (
	"bufio"
	"fmt"
	"image/color"
	"io"
	"math"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/lidar-visualizer/internal/lidar/playback"
	"github.com/banshee-data/lidar-visualizer/internal/lidar/pointcloud"
)

// maxChartPoints caps the points sent to the browser. Larger frames are
// thinned by stride.
const maxChartPoints = 50000

var viridisAnchors = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// ExportFormat selects the output of an export.
type ExportFormat string

const (
	FormatHTML ExportFormat = "html"
	FormatPNG  ExportFormat = "png"
	FormatPCD  ExportFormat = "pcd"
)

// ParseExportFormat accepts html, png or pcd. An empty string is inferred
// from the extension of out.
func ParseExportFormat(s, out string) (ExportFormat, error) {
	if s == "" {
		s = filepath.Ext(out)
		if s != "" {
			s = s[1:]
		}
	}
	switch f := ExportFormat(s); f {
	case FormatHTML, FormatPNG, FormatPCD:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q (want html, png or pcd)", s)
}

// Export writes frame to w in the given format.
func Export(w io.Writer, format ExportFormat, frame *pointcloud.Frame, bg playback.Background) error {
	switch format {
	case FormatHTML:
		return WriteHTML(w, frame, bg)
	case FormatPNG:
		return WritePNG(w, frame, bg)
	case FormatPCD:
		return WritePCD(w, frame)
	}
	return fmt.Errorf("unknown export format %q", format)
}

// NewScatterChart builds a 3D scatter of frame. Frames with colours keep
// them; otherwise points are coloured by height through a viridis visual map.
func NewScatterChart(frame *pointcloud.Frame, bg playback.Background) *charts.Scatter3D {
	n := frame.Len()
	stride := 1
	if n > maxChartPoints {
		stride = int(math.Ceil(float64(n) / float64(maxChartPoints)))
	}

	data := make([]opts.Chart3DData, 0, n/stride+1)
	for i := 0; i < n; i += stride {
		p := frame.Points[i]
		d := opts.Chart3DData{Value: []interface{}{p.X, p.Y, p.Z}}
		if frame.HasColors() {
			c := frame.Colors[i]
			d.ItemStyle = &opts.ItemStyle{Color: hexColor(c)}
		}
		data = append(data, d)
	}

	theme, background := "dark", "#000000"
	if bg == playback.White {
		theme, background = "white", "#ffffff"
	}

	scatter := charts.NewScatter3D()
	global := []charts.GlobalOpts{
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle:       "LiDAR Visualizer",
			Theme:           theme,
			BackgroundColor: background,
			Width:           "1200px",
			Height:          "900px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Frame %d", frame.Index),
			Subtitle: fmt.Sprintf("source=%s points=%d stride=%d", frame.Source, n, stride),
		}),
		charts.WithXAxis3DOpts(opts.XAxis3D{Name: "X (m)"}),
		charts.WithYAxis3DOpts(opts.YAxis3D{Name: "Y (m)"}),
		charts.WithZAxis3DOpts(opts.ZAxis3D{Name: "Z (m)"}),
		charts.WithGrid3DOpts(opts.Grid3D{ViewControl: &opts.ViewControl{AutoRotate: opts.Bool(false)}}),
	}
	if !frame.HasColors() {
		lo, hi, ok := frame.Bounds()
		if !ok {
			hi.Z = 1
		}
		global = append(global, charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(lo.Z),
			Max:        float32(hi.Z),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridisAnchors},
		}))
	}
	scatter.SetGlobalOptions(global...)
	scatter.AddSeries("points", data)
	return scatter
}

func hexColor(c pointcloud.Color) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// WriteHTML writes a self-contained go-echarts page for frame.
func WriteHTML(w io.Writer, frame *pointcloud.Frame, bg playback.Background) error {
	if err := NewScatterChart(frame, bg).Render(w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}

// WritePNG draws a bird's-eye view of frame: x against y with equal ranges,
// each point in its own colour.
func WritePNG(w io.Writer, frame *pointcloud.Frame, bg playback.Background) error {
	if frame.Len() == 0 {
		return fmt.Errorf("frame %d has no points", frame.Index)
	}
	colored := frame
	if !frame.HasColors() {
		colored = frame.Clone()
		colored.ColorizeHeight(pointcloud.Viridis())
	}

	xys := make(plotter.XYs, frame.Len())
	for i, p := range frame.Points {
		xys[i] = plotter.XY{X: p.X, Y: p.Y}
	}
	scatter, err := plotter.NewScatter(xys)
	if err != nil {
		return fmt.Errorf("failed to build scatter: %w", err)
	}
	scatter.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		c := colored.Colors[i]
		return draw.GlyphStyle{
			Color:  color.RGBA{R: c.R, G: c.G, B: c.B, A: 255},
			Radius: vg.Points(0.6),
			Shape:  draw.CircleGlyph{},
		}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Frame %d", frame.Index)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	if bg == playback.Black {
		p.BackgroundColor = color.Black
		p.Title.TextStyle.Color = color.White
		for _, a := range []*plot.Axis{&p.X, &p.Y} {
			a.Color = color.White
			a.Label.TextStyle.Color = color.White
			a.Tick.Color = color.White
			a.Tick.Label.Color = color.White
		}
	}
	p.Add(scatter)

	lo, hi, _ := frame.Bounds()
	cx, cy := (lo.X+hi.X)/2, (lo.Y+hi.Y)/2
	half := math.Max(hi.X-lo.X, hi.Y-lo.Y) / 2 * 1.05
	if half == 0 {
		half = 1
	}
	p.X.Min, p.X.Max = cx-half, cx+half
	p.Y.Min, p.Y.Max = cy-half, cy+half

	wt, err := p.WriterTo(8*vg.Inch, 8*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render png: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// WritePCD writes frame as an ascii PCD file with an intensity field when
// the frame carries one.
func WritePCD(w io.Writer, frame *pointcloud.Frame) error {
	n := frame.Len()
	withIntensity := len(frame.Intensity) == n && n > 0

	bw := bufio.NewWriter(w)
	fields, size, typ, count := "x y z", "4 4 4", "F F F", "1 1 1"
	if withIntensity {
		fields, size, typ, count = fields+" intensity", size+" 4", typ+" F", count+" 1"
	}
	fmt.Fprintf(bw, "# .PCD v0.7 - Point Cloud Data file format\n")
	fmt.Fprintf(bw, "VERSION 0.7\nFIELDS %s\nSIZE %s\nTYPE %s\nCOUNT %s\n", fields, size, typ, count)
	fmt.Fprintf(bw, "WIDTH %d\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\nDATA ascii\n", n, n)
	for i, p := range frame.Points {
		if withIntensity {
			fmt.Fprintf(bw, "%g %g %g %g\n", float32(p.X), float32(p.Y), float32(p.Z), frame.Intensity[i])
		} else {
			fmt.Fprintf(bw, "%g %g %g\n", float32(p.X), float32(p.Y), float32(p.Z))
		}
	}
	return bw.Flush()
}
