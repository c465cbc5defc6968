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

package mcmc

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Convergence thresholds used by Diagnostics.Converged.
const (
	// RHatThreshold is the largest acceptable split R-hat.
	RHatThreshold = 1.01

	// MinESSPerChain is the smallest acceptable effective sample size
	// per chain.
	MinESSPerChain = 100
)

// ChainStats summarizes the retained draws of one chain.
type ChainStats struct {
	// Divergences is the number of draws whose trajectory diverged.
	Divergences int

	// MaxDepthHits is the number of draws whose trajectory was cut off by
	// the maximum tree depth.
	MaxDepthHits int

	// MeanAccept is the mean acceptance statistic.
	MeanAccept float64

	// StepSize is the adapted step size.
	StepSize float64
}

// Diagnostics holds convergence diagnostics for a set of chains.
type Diagnostics struct {
	Chains []ChainStats

	// Names labels the parameters. It may be nil.
	Names []string

	// RHat and ESS hold the split R-hat and the effective sample size
	// of each parameter. They are NaN when there are too few draws to
	// estimate them or the parameter is constant.
	RHat, ESS []float64
}

func diagnose(results []*chainResult, names []string) *Diagnostics {
	d := &Diagnostics{Names: names}
	for _, r := range results {
		d.Chains = append(d.Chains, r.stats)
	}
	if len(results) == 0 || len(results[0].draws) == 0 {
		return d
	}
	dim := len(results[0].draws[0])
	d.RHat = make([]float64, dim)
	d.ESS = make([]float64, dim)
	chains := make([][]float64, len(results))
	for p := 0; p < dim; p++ {
		for c, r := range results {
			x := make([]float64, len(r.draws))
			for i, q := range r.draws {
				x[i] = q[p]
			}
			chains[c] = x
		}
		d.RHat[p] = splitRHat(chains)
		d.ESS[p] = effectiveSize(chains)
	}
	return d
}

// splitRHat returns the potential scale reduction factor computed after
// splitting each chain in half.
func splitRHat(chains [][]float64) float64 {
	n := len(chains[0]) / 2
	if n < 2 {
		return math.NaN()
	}
	var split [][]float64
	for _, x := range chains {
		split = append(split, x[:n], x[len(x)-n:])
	}
	means := make([]float64, len(split))
	vars := make([]float64, len(split))
	for i, x := range split {
		means[i], vars[i] = stat.MeanVariance(x, nil)
	}
	w := stat.Mean(vars, nil)
	if w == 0 {
		return math.NaN()
	}
	b := float64(n) * stat.Variance(means, nil)
	varPlus := float64(n-1)/float64(n)*w + b/float64(n)
	return math.Sqrt(varPlus / w)
}

// effectiveSize returns the effective sample size of the pooled chains
// using Geyer's initial monotone sequence estimator of the integrated
// autocorrelation time.
func effectiveSize(chains [][]float64) float64 {
	m := len(chains)
	n := len(chains[0])
	if n < 4 {
		return math.NaN()
	}
	means := make([]float64, m)
	vars := make([]float64, m)
	for c, x := range chains {
		means[c], vars[c] = stat.MeanVariance(x, nil)
	}
	w := stat.Mean(vars, nil)
	varPlus := float64(n-1) / float64(n) * w
	if m > 1 {
		varPlus += stat.Variance(means, nil)
	}
	if varPlus == 0 {
		return math.NaN()
	}

	// rho returns the pooled autocorrelation at lag t.
	rho := func(t int) float64 {
		if t == 0 {
			return 1
		}
		var acov float64
		for c, x := range chains {
			var s float64
			for i := 0; i+t < n; i++ {
				s += (x[i] - means[c]) * (x[i+t] - means[c])
			}
			acov += s / float64(n)
		}
		acov /= float64(m)
		return 1 - (w-acov)/varPlus
	}

	var sum float64
	prev := math.Inf(1)
	for k := 0; 2*k+1 < n; k++ {
		p := rho(2*k) + rho(2*k+1)
		if p <= 0 {
			break
		}
		if p > prev {
			p = prev
		}
		sum += p
		prev = p
	}
	total := float64(m * n)
	tau := math.Max(-1+2*sum, 1/math.Log10(total))
	return total / tau
}

// Divergences returns the total number of divergent draws.
func (d *Diagnostics) Divergences() int {
	var n int
	for _, c := range d.Chains {
		n += c.Divergences
	}
	return n
}

// MaxRHat returns the largest split R-hat across parameters, or NaN if
// any is NaN.
func (d *Diagnostics) MaxRHat() float64 {
	if len(d.RHat) == 0 || floats.HasNaN(d.RHat) {
		return math.NaN()
	}
	return floats.Max(d.RHat)
}

// MinESS returns the smallest effective sample size across parameters, or
// NaN if any is NaN.
func (d *Diagnostics) MinESS() float64 {
	if len(d.ESS) == 0 || floats.HasNaN(d.ESS) {
		return math.NaN()
	}
	return floats.Min(d.ESS)
}

// Converged reports whether there were no divergences, every split R-hat
// is at most RHatThreshold and every effective sample size is at least
// MinESSPerChain per chain.
func (d *Diagnostics) Converged() bool {
	return d.Divergences() == 0 &&
		d.MaxRHat() <= RHatThreshold &&
		d.MinESS() >= float64(MinESSPerChain*len(d.Chains))
}

func (d *Diagnostics) name(p int) string {
	if p < len(d.Names) {
		return d.Names[p]
	}
	return fmt.Sprintf("parameter %d", p)
}

// Warnings returns a description of each convergence problem.
func (d *Diagnostics) Warnings() []string {
	var w []string
	if n := d.Divergences(); n > 0 {
		w = append(w, fmt.Sprintf("%d divergences after tuning; increase TargetAccept or reparameterize", n))
	}
	var depth int
	for _, c := range d.Chains {
		depth += c.MaxDepthHits
	}
	if depth > 0 {
		w = append(w, fmt.Sprintf("%d draws reached the maximum tree depth", depth))
	}
	for p, r := range d.RHat {
		if math.IsNaN(r) || r > RHatThreshold {
			w = append(w, fmt.Sprintf("%s: split R-hat is %.3g", d.name(p), r))
		}
	}
	minESS := float64(MinESSPerChain * len(d.Chains))
	for p, e := range d.ESS {
		if math.IsNaN(e) || e < minESS {
			w = append(w, fmt.Sprintf("%s: effective sample size is %.3g", d.name(p), e))
		}
	}
	return w
}
