package render

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/pointcloud.report/internal/monitoring"
)

// Fixed 3D axis windows in metres.
const (
	scatterXYLimit = 1.5
	scatterZMin    = -1.0
	scatterZMax    = 2.0
)

// Scatter3DOptions configures NewScatter3D.
type Scatter3DOptions struct {
	OutputDir          string
	SpeedMin, SpeedMax float64
}

// Scatter3D writes an interactive 3D scatter page per frame as
// PointCloud3D_<n>_<ts>ms.html.
type Scatter3D struct {
	dir   string
	scale speedScale
	seq   int
}

func NewScatter3D(opts Scatter3DOptions) (*Scatter3D, error) {
	scale, err := newSpeedScale(opts.SpeedMin, opts.SpeedMax)
	if err != nil {
		return nil, err
	}
	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}
	return &Scatter3D{dir: dir, scale: scale}, nil
}

func (r *Scatter3D) Render(s Snapshot) (string, error) {
	res := s.Result
	if res.Original == 0 {
		monitoring.Logf("No targets detected")
		return "", nil
	}
	seq := r.seq + 1

	chart := charts.NewScatter3D()
	chart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: fmt.Sprintf("3D Point Cloud #%d", seq),
			Width:     "1000px",
			Height:    "800px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("3D Point Cloud - #%d (%dms)", seq, s.Timestamp),
			Subtitle: fmt.Sprintf("Target Count: %d (Original) + %d (New Points)", res.Original, res.Added()),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "5%"}),
		charts.WithXAxis3DOpts(opts.XAxis3D{Name: "X (m)", Min: -scatterXYLimit, Max: scatterXYLimit}),
		charts.WithYAxis3DOpts(opts.YAxis3D{Name: "Y (m)", Min: -scatterXYLimit, Max: scatterXYLimit}),
		charts.WithZAxis3DOpts(opts.ZAxis3D{Name: "Z (m)", Min: scatterZMin, Max: scatterZMax}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Calculable: opts.Bool(true),
			Min:        float32(r.scale.min()),
			Max:        float32(r.scale.max()),
			Dimension:  "3",
			Text:       []string{"cm/s"},
			InRange:    &opts.VisualMapInRange{Color: r.scale.hexStops(7)},
		}),
	)

	chart.AddSeries("Original", chartData(res.Points[:res.Original], res.Speeds[:res.Original], s.TargetIDs),
		charts.WithScatterChartOpts(opts.ScatterChart{Symbol: "circle", SymbolSize: 10}))
	if res.Added() > 0 {
		chart.AddSeries("Upsampled", chartData(res.Points[res.Original:], res.Speeds[res.Original:], nil),
			charts.WithScatterChartOpts(opts.ScatterChart{Symbol: "diamond", SymbolSize: 5}))
	}

	path := filepath.Join(r.dir, fmt.Sprintf("PointCloud3D_%d_%dms.html", seq, s.Timestamp))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if err := chart.Render(f); err != nil {
		f.Close()
		return "", fmt.Errorf("render %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	r.seq = seq
	return path, nil
}

// chartData encodes each point as [x, y, z, speed], followed by the target
// id when ids matches pts. The visual map colours on the fourth dimension.
func chartData(pts []r3.Vec, speeds []float64, ids []int) []opts.Chart3DData {
	withIDs := len(ids) == len(pts)
	data := make([]opts.Chart3DData, len(pts))
	for i, p := range pts {
		v := []interface{}{p.X, p.Y, p.Z, speeds[i]}
		if withIDs {
			v = append(v, ids[i])
		}
		data[i] = opts.Chart3DData{Value: v}
	}
	return data
}
