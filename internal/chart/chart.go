// Package chart renders query series as line charts.
package chart

import (
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	scerrors "github.com/sacline/collegescvis/internal/errors"
	"github.com/sacline/collegescvis/internal/query"
)

// Options controls chart layout.
type Options struct {
	Title  string
	Width  vg.Length
	Height vg.Length
}

// DefaultOptions returns an 8x5 inch chart.
func DefaultOptions() Options {
	return Options{Width: 8 * vg.Inch, Height: 5 * vg.Inch}
}

// yearTicks labels whole years only.
type yearTicks struct{}

func (yearTicks) Ticks(min, max float64) []plot.Tick {
	var ticks []plot.Tick
	for y := math.Ceil(min); y <= max; y++ {
		ticks = append(ticks, plot.Tick{Value: y, Label: strconv.Itoa(int(y))})
	}
	return ticks
}

// Build assembles a plot with one line per series. Points whose value is
// not numeric are skipped; a series left with no points is omitted.
func Build(series []query.Series, opts Options) (*plot.Plot, error) {
	if len(series) == 0 {
		return nil, scerrors.NewInvalidInput("no series to plot")
	}

	p := plot.New()
	p.Title.Text = opts.Title
	p.X.Label.Text = "Year"
	p.X.Tick.Marker = yearTicks{}
	if opts.Title == "" && len(series) == 1 {
		p.Title.Text = fmt.Sprintf("%s: %s", series[0].College, series[0].Metric.Name)
	}
	p.Y.Label.Text = series[0].Metric.Name

	drawn := 0
	for i, s := range series {
		xys := make(plotter.XYs, 0, len(s.Points))
		for _, pt := range s.Points {
			v, ok := pt.Float()
			if !ok {
				continue
			}
			xys = append(xys, plotter.XY{X: float64(pt.Year), Y: v})
		}
		if len(xys) == 0 {
			log.Printf("[WARN] chart: %s %s has no numeric points, skipping", s.College, s.Metric.Name)
			continue
		}

		line, points, err := plotter.NewLinePoints(xys)
		if err != nil {
			return nil, fmt.Errorf("chart: failed to build line for %s: %w", s.College, err)
		}
		line.Color = plotutil.Color(i)
		points.Color = plotutil.Color(i)
		points.Shape = plotutil.Shape(i)
		p.Add(line, points)
		p.Legend.Add(s.College, line, points)
		drawn++
	}
	if drawn == 0 {
		return nil, scerrors.NewInvalidInput("no numeric data to plot")
	}
	p.Legend.Top = true
	return p, nil
}

// Render writes series to w as a PNG image.
func Render(w io.Writer, series []query.Series, opts Options) error {
	p, err := Build(series, opts)
	if err != nil {
		return err
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		d := DefaultOptions()
		opts.Width, opts.Height = d.Width, d.Height
	}
	wt, err := p.WriterTo(opts.Width, opts.Height, "png")
	if err != nil {
		return fmt.Errorf("chart: failed to create png writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("chart: failed to write png: %w", err)
	}
	return nil
}

// RenderPNG writes series to a PNG file at path.
func RenderPNG(path string, series []query.Series, opts Options) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("chart: failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("chart: failed to create %s: %w", path, err)
	}
	if err := Render(f, series, opts); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
