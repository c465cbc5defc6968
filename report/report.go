/*
Copyright © 2024 the LongBurden authors.
This file is part of LongBurden.

LongBurden is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

LongBurden is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with LongBurden.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package report draws figures of decay curves and burden distributions.
package report

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/spatialmodel/longburden/burden"
	"github.com/spatialmodel/longburden/decay"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

const (
	figWidth  = 5 * vg.Inch
	figHeight = 3.5 * vg.Inch
)

var (
	meanColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	bandColor = color.RGBA{R: 31, G: 119, B: 180, A: 80}
	pathColor = color.RGBA{R: 120, G: 120, B: 120, A: 40}
	obsColor  = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// Curves is a set of decay parameter draws that can be summarized as
// bands. *decay.Posterior and *decay.PriorSample implement it.
type Curves interface {
	Len() int
	SymptomNames() []string
	Baseline(i, j int) float64
	DecayRate(i, j int) float64
	Bands(j int, times []float64, lower, upper float64) decay.Band
}

// Times returns n evenly spaced times from 0 to max.
func Times(max float64, n int) []float64 {
	t := make([]float64, n)
	floats.Span(t, 0, max)
	return t
}

// DecayBands plots the mean and 5–95% band of the prevalence curves of
// symptom j. If obs is not nil, the observations of the symptom are
// overlaid.
func DecayBands(c Curves, j int, times []float64, obs *decay.Observations) (*plot.Plot, error) {
	p, err := plot.New()
	if err != nil {
		return nil, err
	}
	p.Title.Text = c.SymptomNames()[j]
	p.X.Label.Text = "Months since infection"
	p.Y.Label.Text = "Prevalence difference"

	b := c.Bands(j, times, 0.05, 0.95)
	band, err := bandPolygon(b)
	if err != nil {
		return nil, err
	}
	mean, err := plotter.NewLine(xys(b.Time, b.Mean))
	if err != nil {
		return nil, err
	}
	mean.Color = meanColor
	mean.Width = vg.Points(1.5)
	p.Add(band, mean)
	p.Legend.Add("mean", mean)
	p.Legend.Add("90% interval", band)

	if obs != nil {
		var x, y []float64
		for k, s := range obs.Symptom {
			if s == j {
				x = append(x, obs.Time[k])
				y = append(y, obs.Prevalence[k])
			}
		}
		if len(x) > 0 {
			s, err := plotter.NewScatter(xys(x, y))
			if err != nil {
				return nil, err
			}
			s.Shape = draw.CircleGlyph{}
			s.Color = obsColor
			p.Add(s)
			p.Legend.Add("observed", s)
		}
	}
	p.Legend.Top = true
	return p, nil
}

// ImpliedPaths plots up to n individual prevalence curves of symptom j,
// for example from a prior predictive sample, together with their mean.
func ImpliedPaths(c Curves, j int, times []float64, n int) (*plot.Plot, error) {
	p, err := plot.New()
	if err != nil {
		return nil, err
	}
	p.Title.Text = c.SymptomNames()[j] + " (implied paths)"
	p.X.Label.Text = "Months since infection"
	p.Y.Label.Text = "Prevalence difference"
	if n > c.Len() {
		n = c.Len()
	}
	for i := 0; i < n; i++ {
		y := make([]float64, len(times))
		for k, t := range times {
			y[k] = decay.Prevalence(c.Baseline(i, j), c.DecayRate(i, j), t)
		}
		l, err := plotter.NewLine(xys(times, y))
		if err != nil {
			return nil, err
		}
		l.Color = pathColor
		p.Add(l)
	}
	b := c.Bands(j, times, 0.05, 0.95)
	mean, err := plotter.NewLine(xys(b.Time, b.Mean))
	if err != nil {
		return nil, err
	}
	mean.Color = meanColor
	mean.Width = vg.Points(1.5)
	p.Add(mean)
	p.Legend.Add("mean", mean)
	p.Legend.Top = true
	return p, nil
}

// BurdenHistogram plots the distribution of the named burden.
func BurdenHistogram(d burden.Distribution, name string, bins int) (*plot.Plot, error) {
	v, ok := d[name]
	if !ok {
		return nil, fmt.Errorf("report: no burden distribution for %q", name)
	}
	p, err := plot.New()
	if err != nil {
		return nil, err
	}
	p.Title.Text = name
	p.X.Label.Text = "Burden (DALYs)"
	p.Y.Label.Text = "Draws"
	h, err := plotter.NewHist(plotter.Values(v), bins)
	if err != nil {
		return nil, err
	}
	h.FillColor = bandColor
	p.Add(h)
	return p, nil
}

// SavePNG writes p to path as a PNG image.
func SavePNG(p *plot.Plot, path string) error {
	return p.Save(figWidth, figHeight, path)
}

// Figures writes a decay band figure for each symptom of post, an implied
// path figure for each symptom of prior, and a histogram for each burden
// distribution to dir, and returns the paths of the files written. Any of
// post, prior, and dist may be nil.
func Figures(dir string, post, prior Curves, obs *decay.Observations, dist burden.Distribution, times []float64) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	var files []string
	save := func(p *plot.Plot, name string) error {
		path := filepath.Join(dir, fileName(name)+".png")
		if err := SavePNG(p, path); err != nil {
			return fmt.Errorf("report: %s: %w", path, err)
		}
		files = append(files, path)
		return nil
	}
	if post != nil {
		for j, s := range post.SymptomNames() {
			p, err := DecayBands(post, j, times, obs)
			if err != nil {
				return nil, err
			}
			if err := save(p, "decay_"+s); err != nil {
				return nil, err
			}
		}
	}
	if prior != nil {
		for j, s := range prior.SymptomNames() {
			p, err := ImpliedPaths(prior, j, times, 100)
			if err != nil {
				return nil, err
			}
			if err := save(p, "prior_"+s); err != nil {
				return nil, err
			}
		}
	}
	if dist != nil {
		for _, s := range append(dist.Symptoms(), burden.Total) {
			if _, ok := dist[s]; !ok {
				continue
			}
			p, err := BurdenHistogram(dist, s, 30)
			if err != nil {
				return nil, err
			}
			if err := save(p, "burden_"+s); err != nil {
				return nil, err
			}
		}
	}
	return files, nil
}

func fileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}

func xys(x, y []float64) plotter.XYs {
	out := make(plotter.XYs, len(x))
	for i := range x {
		out[i].X = x[i]
		out[i].Y = y[i]
	}
	return out
}

func bandPolygon(b decay.Band) (*plotter.Polygon, error) {
	n := len(b.Time)
	ring := make(plotter.XYs, 2*n)
	for i := 0; i < n; i++ {
		ring[i].X, ring[i].Y = b.Time[i], b.Upper[i]
		k := 2*n - 1 - i
		ring[k].X, ring[k].Y = b.Time[i], b.Lower[i]
	}
	poly, err := plotter.NewPolygon(ring)
	if err != nil {
		return nil, err
	}
	poly.Color = bandColor
	poly.LineStyle.Width = 0
	return poly, nil
}
