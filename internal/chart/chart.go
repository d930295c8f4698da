// Package chart renders fit diagnostics as PNG files with gonum/plot.
package chart

import (
	"fmt"
	"image/color"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/couchcryptid/tornado-season/internal/fit"
)

const (
	width      = 8 * vg.Inch
	height     = 5 * vg.Inch
	panelSize  = 3 * vg.Inch
	facetCols  = 3
	kdePoints  = 256
	maxPPCDraw = 100
)

var (
	observedColor  = color.RGBA{R: 20, G: 20, B: 20, A: 255}
	replicateColor = color.RGBA{R: 110, G: 160, B: 220, A: 60}
	bandColor      = color.RGBA{R: 110, G: 160, B: 220, A: 110}
	estimateColor  = color.RGBA{R: 20, G: 70, B: 160, A: 255}
	pointColor     = color.RGBA{R: 120, G: 120, B: 120, A: 160}
	curvePalette   = []color.Color{
		color.RGBA{R: 200, G: 60, B: 40, A: 255},
		color.RGBA{R: 40, G: 140, B: 70, A: 255},
		color.RGBA{R: 130, G: 60, B: 170, A: 255},
		color.RGBA{R: 220, G: 150, B: 20, A: 255},
	}
)

// Curve is a named line over x.
type Curve struct {
	Name string
	X, Y []float64
}

// Panel is one facet of a conditional-effects grid.
type Panel struct {
	Title   string
	Effects []fit.EffectPoint
	ObsX    []float64
	ObsY    []float64
}

// PPCDensity overlays kernel density estimates of replicated datasets on
// the density of the observed values.
func PPCDensity(path, title string, ppc fit.PPC) error {
	if len(ppc.Observed) == 0 {
		return fmt.Errorf("ppc plot: no observations")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "cumulative count"
	p.Y.Label.Text = "density"

	lo, hi := floats.Min(ppc.Observed), floats.Max(ppc.Observed)
	for _, rep := range ppc.Replicates {
		lo = math.Min(lo, floats.Min(rep))
		hi = math.Max(hi, floats.Max(rep))
	}
	grid := make([]float64, kdePoints)
	floats.Span(grid, lo, hi)

	for i, rep := range ppc.Replicates {
		if i >= maxPPCDraw {
			break
		}
		l, err := plotter.NewLine(kdeXYs(rep, grid))
		if err != nil {
			return fmt.Errorf("ppc plot: %w", err)
		}
		l.LineStyle.Color = replicateColor
		l.LineStyle.Width = vg.Points(0.7)
		p.Add(l)
		if i == 0 {
			p.Legend.Add("y_rep", l)
		}
	}

	obs, err := plotter.NewLine(kdeXYs(ppc.Observed, grid))
	if err != nil {
		return fmt.Errorf("ppc plot: %w", err)
	}
	obs.LineStyle.Color = observedColor
	obs.LineStyle.Width = vg.Points(2)
	p.Add(obs)
	p.Legend.Add("y", obs)
	p.Legend.Top = true

	return p.Save(width, height, path)
}

// kdeXYs evaluates a Gaussian kernel density with Silverman's bandwidth.
func kdeXYs(sample, grid []float64) plotter.XYs {
	n := float64(len(sample))
	bw := 1.06 * stat.StdDev(sample, nil) * math.Pow(n, -0.2)
	if !(bw > 0) {
		bw = 1
	}
	norm := 1 / (n * bw * math.Sqrt(2*math.Pi))
	xys := make(plotter.XYs, len(grid))
	for i, x := range grid {
		sum := 0.0
		for _, s := range sample {
			u := (x - s) / bw
			sum += math.Exp(-0.5 * u * u)
		}
		xys[i] = plotter.XY{X: x, Y: sum * norm}
	}
	return xys
}

// ConditionalEffects draws the expected curve with its 95% band over the
// observed points.
func ConditionalEffects(path string, panel Panel) error {
	p, err := effectsPlot(panel)
	if err != nil {
		return err
	}
	return p.Save(width, height, path)
}

// FacetedEffects lays panels out in a grid, three per row.
func FacetedEffects(path string, panels []Panel) error {
	if len(panels) == 0 {
		return fmt.Errorf("faceted plot: no panels")
	}
	rows := (len(panels) + facetCols - 1) / facetCols
	grid := make([][]*plot.Plot, rows)
	for r := range grid {
		grid[r] = make([]*plot.Plot, facetCols)
		for c := range grid[r] {
			i := r*facetCols + c
			if i >= len(panels) {
				blank := plot.New()
				blank.HideAxes()
				grid[r][c] = blank
				continue
			}
			p, err := effectsPlot(panels[i])
			if err != nil {
				return err
			}
			grid[r][c] = p
		}
	}

	img := vgimg.New(panelSize*facetCols, panelSize*vg.Length(rows))
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: rows, Cols: facetCols,
		PadX: vg.Millimeter, PadY: vg.Millimeter,
		PadTop: vg.Points(2), PadBottom: vg.Points(2),
		PadLeft: vg.Points(2), PadRight: vg.Points(2),
	}
	canvases := plot.Align(grid, tiles, dc)
	for r := range grid {
		for c := range grid[r] {
			grid[r][c].Draw(canvases[r][c])
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("faceted plot: %w", err)
	}
	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("faceted plot: %w", err)
	}
	return f.Close()
}

func effectsPlot(panel Panel) (*plot.Plot, error) {
	if len(panel.Effects) == 0 {
		return nil, fmt.Errorf("effects plot %q: no points", panel.Title)
	}
	p := plot.New()
	p.Title.Text = panel.Title
	p.X.Label.Text = "Df"
	p.Y.Label.Text = "C"

	band := make(plotter.XYs, 0, 2*len(panel.Effects))
	line := make(plotter.XYs, len(panel.Effects))
	for i, e := range panel.Effects {
		band = append(band, plotter.XY{X: e.X, Y: e.Upper})
		line[i] = plotter.XY{X: e.X, Y: e.Estimate}
	}
	for i := len(panel.Effects) - 1; i >= 0; i-- {
		e := panel.Effects[i]
		band = append(band, plotter.XY{X: e.X, Y: e.Lower})
	}

	poly, err := plotter.NewPolygon(band)
	if err != nil {
		return nil, fmt.Errorf("effects plot: %w", err)
	}
	poly.Color = bandColor
	poly.LineStyle.Width = 0
	p.Add(poly)

	if len(panel.ObsX) > 0 {
		pts, err := scatter(panel.ObsX, panel.ObsY)
		if err != nil {
			return nil, fmt.Errorf("effects plot: %w", err)
		}
		p.Add(pts)
	}

	l, err := plotter.NewLine(line)
	if err != nil {
		return nil, fmt.Errorf("effects plot: %w", err)
	}
	l.LineStyle.Color = estimateColor
	l.LineStyle.Width = vg.Points(1.5)
	p.Add(l)
	return p, nil
}

// FittedCurves draws one or more fitted curves over observed points.
func FittedCurves(path, title, yLabel string, obsX, obsY []float64, curves []Curve) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Df"
	p.Y.Label.Text = yLabel

	if len(obsX) > 0 {
		pts, err := scatter(obsX, obsY)
		if err != nil {
			return fmt.Errorf("curve plot: %w", err)
		}
		p.Add(pts)
	}
	for i, c := range curves {
		xys := make(plotter.XYs, len(c.X))
		for j := range c.X {
			xys[j] = plotter.XY{X: c.X[j], Y: c.Y[j]}
		}
		l, err := plotter.NewLine(xys)
		if err != nil {
			return fmt.Errorf("curve plot %s: %w", c.Name, err)
		}
		l.LineStyle.Color = curvePalette[i%len(curvePalette)]
		l.LineStyle.Width = vg.Points(1.5)
		p.Add(l)
		p.Legend.Add(c.Name, l)
	}
	p.Legend.Top = true
	p.Legend.Left = true
	return p.Save(width, height, path)
}

func scatter(xs, ys []float64) (*plotter.Scatter, error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("scatter: %d x values, %d y values", len(xs), len(ys))
	}
	xys := make(plotter.XYs, len(xs))
	for i := range xs {
		xys[i] = plotter.XY{X: xs[i], Y: ys[i]}
	}
	s, err := plotter.NewScatter(xys)
	if err != nil {
		return nil, err
	}
	s.GlyphStyle.Color = pointColor
	s.GlyphStyle.Radius = vg.Points(1)
	s.GlyphStyle.Shape = draw.CircleGlyph{}
	return s, nil
}

// Grid returns n evenly spaced points on (0, 1].
func Grid(n int) []float64 {
	g := make([]float64, n)
	for i := range g {
		g[i] = float64(i+1) / float64(n)
	}
	return g
}
