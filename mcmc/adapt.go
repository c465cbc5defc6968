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

import "math"

// Dual averaging constants from Hoffman and Gelman (2014), section 3.2.1.
const (
	daGamma = 0.05
	daT0    = 10
	daKappa = 0.75
)

// dualAveraging adapts the step size so that the mean acceptance statistic
// approaches delta.
type dualAveraging struct {
	delta             float64
	mu                float64
	hBar              float64
	logEps, logEpsBar float64
	t                 int
}

func newDualAveraging(eps, delta float64) *dualAveraging {
	return &dualAveraging{
		delta:  delta,
		mu:     math.Log(10 * eps),
		logEps: math.Log(eps),
	}
}

func (d *dualAveraging) update(acceptStat float64) {
	d.t++
	t := float64(d.t)
	eta := 1 / (t + daT0)
	d.hBar = (1-eta)*d.hBar + eta*(d.delta-acceptStat)
	d.logEps = d.mu - math.Sqrt(t)/daGamma*d.hBar
	w := math.Pow(t, -daKappa)
	d.logEpsBar = w*d.logEps + (1-w)*d.logEpsBar
}

// stepSize returns the step size to use during adaptation.
func (d *dualAveraging) stepSize() float64 { return math.Exp(d.logEps) }

// finalStepSize returns the step size to use after adaptation.
func (d *dualAveraging) finalStepSize() float64 {
	if d.t == 0 {
		return d.stepSize()
	}
	return math.Exp(d.logEpsBar)
}

// welford accumulates running means and variances.
type welford struct {
	n       int
	mean, m []float64
}

func newWelford(dim int) *welford {
	return &welford{mean: make([]float64, dim), m: make([]float64, dim)}
}

func (w *welford) add(x []float64) {
	w.n++
	for i, v := range x {
		d := v - w.mean[i]
		w.mean[i] += d / float64(w.n)
		w.m[i] += d * (v - w.mean[i])
	}
}

// regularizedVariance returns the sample variances shrunk toward a small
// constant, which keeps the mass matrix well conditioned for short
// adaptation windows.
func (w *welford) regularizedVariance() []float64 {
	out := make([]float64, len(w.m))
	n := float64(w.n)
	for i, m := range w.m {
		v := 1.0
		if w.n > 1 {
			v = m / (n - 1)
		}
		out[i] = n/(n+5)*v + 1e-3*5/(n+5)
	}
	return out
}

// massSchedule returns the first tuning iteration that contributes to mass
// matrix estimation and the (exclusive) ends of the estimation windows.
// Windows double in length and the last one is stretched to the start of
// the final step-size-only buffer.
func massSchedule(tune int) (start int, ends []int) {
	initBuf, termBuf, base := 75, 50, 25
	if initBuf+termBuf+base > tune {
		initBuf = int(0.15 * float64(tune))
		termBuf = int(0.1 * float64(tune))
		base = tune - initBuf - termBuf
	}
	if base < 10 {
		return 0, nil
	}
	last := tune - termBuf
	for s, size := initBuf, base; s < last; size *= 2 {
		end := s + size
		if end+2*size > last {
			end = last
		}
		ends = append(ends, end)
		s = end
	}
	return initBuf, ends
}
