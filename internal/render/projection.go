package render

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/font"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/banshee-data/pointcloud.report/internal/config"
	"github.com/banshee-data/pointcloud.report/internal/monitoring"
)

const (
	projectionWidth  = 15 * vg.Inch
	projectionHeight = 6 * vg.Inch

	titleBand    = 0.5 * vg.Inch
	colorBarBand = 0.8 * vg.Inch
	subtitleBand = 0.35 * vg.Inch

	originalRadius = 3
	addedRadius    = 2
)

// panel is one axis-aligned projection of the cloud.
type panel struct {
	name, title    string
	xLabel, yLabel string
	project        func(r3.Vec) (x, y float64)
}

var panels = []panel{
	{"xy", "XY Projection", "X (m)", "Y (m)", func(p r3.Vec) (float64, float64) { return p.X, p.Y }},
	{"yz", "YZ Projection", "Y (m)", "Z (m)", func(p r3.Vec) (float64, float64) { return p.Y, p.Z }},
	{"xz", "XZ Projection", "X (m)", "Z (m)", func(p r3.Vec) (float64, float64) { return p.X, p.Z }},
}

// Projection2DOptions configures NewProjection2D.
type Projection2DOptions struct {
	OutputDir          string
	SpeedMin, SpeedMax float64
	// Panels overrides the axis window of the named panel.
	Panels map[string]config.Limits
}

// Projection2D draws the XY, YZ and XZ projections side by side and writes
// them as Upsampled_<method>_<n>_<ts>ms.png. Originals are circles and
// synthesized points crosses, both coloured by speed.
type Projection2D struct {
	dir    string
	scale  speedScale
	limits map[string]config.Limits
	seq    int
}

func NewProjection2D(opts Projection2DOptions) (*Projection2D, error) {
	scale, err := newSpeedScale(opts.SpeedMin, opts.SpeedMax)
	if err != nil {
		return nil, err
	}
	limits := make(map[string]config.Limits, len(panels))
	for _, p := range panels {
		l, ok := opts.Panels[p.name]
		if !ok {
			l = config.DefaultPanels[p.name]
		}
		if !(l.XMin < l.XMax) || !(l.YMin < l.YMax) {
			return nil, fmt.Errorf("panel %s has an empty axis window", p.name)
		}
		limits[p.name] = l
	}
	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}
	return &Projection2D{dir: dir, scale: scale, limits: limits}, nil
}

func (r *Projection2D) Render(s Snapshot) (string, error) {
	if s.Result.Original == 0 {
		monitoring.Logf("No targets detected")
		return "", nil
	}
	seq := r.seq + 1

	rows := [][]*plot.Plot{make([]*plot.Plot, len(panels))}
	for i, p := range panels {
		pl, err := r.panelPlot(p, s)
		if err != nil {
			return "", err
		}
		rows[0][i] = pl
	}
	bar := r.colorBar()

	img := vgimg.New(projectionWidth, projectionHeight)
	dc := draw.New(img)

	title := fmt.Sprintf("2D Projections with %s Upsampling - #%d (%dms)", s.Method, seq, s.Timestamp)
	subtitle := fmt.Sprintf("Target Count: %d (Original) + %d (New Points)", s.Result.Original, s.Result.Added())
	dc.FillText(textStyle(16, draw.YTop), vg.Point{X: dc.Center().X, Y: dc.Max.Y - vg.Points(6)}, title)
	dc.FillText(textStyle(12, draw.YBottom), vg.Point{X: dc.Center().X, Y: dc.Min.Y + vg.Points(6)}, subtitle)

	body := draw.Crop(dc, 0, 0, subtitleBand+colorBarBand, -titleBand)
	tiles := draw.Tiles{
		Rows: 1, Cols: len(panels),
		PadX: vg.Millimeter * 4, PadY: vg.Millimeter,
		PadLeft: vg.Millimeter * 2, PadRight: vg.Millimeter * 2,
		PadTop: vg.Millimeter, PadBottom: vg.Millimeter,
	}
	canvases := plot.Align(rows, tiles, body)
	for i, pl := range rows[0] {
		pl.Draw(canvases[0][i])
	}

	barArea := draw.Crop(dc, projectionWidth/4, -projectionWidth/4, subtitleBand, -(projectionHeight - subtitleBand - colorBarBand))
	bar.Draw(barArea)

	path := filepath.Join(r.dir, fmt.Sprintf("Upsampled_%s_%d_%dms.png", s.Method, seq, s.Timestamp))
	if err := writePNG(path, img); err != nil {
		return "", err
	}
	r.seq = seq
	return path, nil
}

func (r *Projection2D) panelPlot(p panel, s Snapshot) (*plot.Plot, error) {
	lim := r.limits[p.name]
	pl := plot.New()
	pl.Title.Text = p.title
	pl.X.Label.Text = p.xLabel
	pl.Y.Label.Text = p.yLabel
	pl.Add(plotter.NewGrid())

	res := s.Result
	orig, origSpeeds := r.visible(p, lim, res.Points[:res.Original], res.Speeds[:res.Original])
	added, addedSpeeds := r.visible(p, lim, res.Points[res.Original:], res.Speeds[res.Original:])

	for _, layer := range []struct {
		name   string
		xys    plotter.XYs
		speeds []float64
		shape  draw.GlyphDrawer
		radius vg.Length
	}{
		{"Original", orig, origSpeeds, draw.CircleGlyph{}, originalRadius},
		{"Upsampled", added, addedSpeeds, draw.CrossGlyph{}, addedRadius},
	} {
		sc, err := plotter.NewScatter(layer.xys)
		if err != nil {
			return nil, fmt.Errorf("%s %s scatter: %w", p.name, layer.name, err)
		}
		sc.GlyphStyle = draw.GlyphStyle{Color: color.Gray{Y: 96}, Shape: layer.shape, Radius: layer.radius}
		speeds, shape, radius := layer.speeds, layer.shape, layer.radius
		sc.GlyphStyleFunc = func(i int) draw.GlyphStyle {
			return draw.GlyphStyle{Color: r.scale.color(speeds[i]), Shape: shape, Radius: radius}
		}
		if len(layer.xys) > 0 {
			pl.Add(sc)
		}
		pl.Legend.Add(layer.name, sc)
	}
	pl.Legend.Top = true

	pl.X.Min, pl.X.Max = lim.XMin, lim.XMax
	pl.Y.Min, pl.Y.Max = lim.YMin, lim.YMax
	return pl, nil
}

// visible projects points and keeps those inside the panel window.
func (r *Projection2D) visible(p panel, lim config.Limits, pts []r3.Vec, speeds []float64) (plotter.XYs, []float64) {
	xys := make(plotter.XYs, 0, len(pts))
	kept := make([]float64, 0, len(pts))
	for i, pt := range pts {
		x, y := p.project(pt)
		if x < lim.XMin || x > lim.XMax || y < lim.YMin || y > lim.YMax {
			continue
		}
		xys = append(xys, plotter.XY{X: x, Y: y})
		kept = append(kept, speeds[i])
	}
	return xys, kept
}

func (r *Projection2D) colorBar() *plot.Plot {
	pl := plot.New()
	pl.Add(&plotter.ColorBar{ColorMap: r.scale.cm})
	pl.HideY()
	pl.X.Label.Text = "Speed (cm/s)"
	pl.X.Padding = 0
	return pl
}

func textStyle(size vg.Length, valign draw.YAlignment) draw.TextStyle {
	return draw.TextStyle{
		Color:   color.Black,
		Font:    font.From(plot.DefaultFont, size),
		XAlign:  draw.XCenter,
		YAlign:  valign,
		Handler: plot.DefaultTextHandler,
	}
}

func writePNG(path string, img *vgimg.Canvas) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
