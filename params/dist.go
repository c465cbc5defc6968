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

// Package params describes model inputs that may be fixed values or
// probability distributions, and groups them into named scenarios.
package params

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Kind identifies the form of a Dist.
type Kind int

// The kinds of Dist.
const (
	// Fixed is a single known value.
	Fixed Kind = iota

	// Normal is a normal distribution with mean A and standard deviation B.
	Normal

	// Beta is a beta distribution with shape parameters A and B.
	Beta

	// LogNormal is a distribution whose logarithm is normal with mean A and
	// standard deviation B.
	LogNormal

	// Discrete is a distribution over integers with the probabilities in
	// Probs.
	Discrete

	// Other is a distribution that can be described but not sampled.
	Other
)

// Dist is a model input.
type Dist struct {
	Kind Kind

	// Value is the value of a Fixed input.
	Value float64

	// A and B are the distribution parameters. Their meaning depends on
	// Kind.
	A, B float64

	// Probs holds the probability of each value of a Discrete input.
	Probs map[int]float64
}

// Value returns a Fixed input.
func Value(v float64) Dist { return Dist{Kind: Fixed, Value: v} }

// Norm returns a normal input with the given mean and standard deviation.
func Norm(mean, sd float64) Dist { return Dist{Kind: Normal, A: mean, B: sd} }

// BetaDist returns a beta input with shape parameters a and b.
func BetaDist(a, b float64) Dist { return Dist{Kind: Beta, A: a, B: b} }

// Categorical returns a Discrete input.
func Categorical(probs map[int]float64) Dist { return Dist{Kind: Discrete, Probs: probs} }

// To returns a lognormal input for which the central credibility percent
// of the probability lies between lo and hi.
func To(lo, hi, credibility float64) (Dist, error) {
	if !(lo > 0 && hi > lo) || math.IsInf(hi, 0) {
		return Dist{}, fmt.Errorf("params: interval [%g, %g] must be positive and increasing", lo, hi)
	}
	if !(credibility > 0 && credibility < 100) {
		return Dist{}, fmt.Errorf("params: credibility=%g but should be in (0, 100)", credibility)
	}
	z := distuv.Normal{Mu: 0, Sigma: 1}.Quantile(0.5 + credibility/200)
	logLo, logHi := math.Log(lo), math.Log(hi)
	return Dist{
		Kind: LogNormal,
		A:    (logLo + logHi) / 2,
		B:    (logHi - logLo) / (2 * z),
	}, nil
}

// sig formats v with 3 significant digits.
func sig(v float64) string { return strconv.FormatFloat(v, 'g', 3, 64) }

// Format returns a short description of d with 3 significant digits.
func (d Dist) Format() string {
	switch d.Kind {
	case Fixed:
		return sig(d.Value)
	case Normal:
		return fmt.Sprintf("Normal(%s, %s)", sig(d.A), sig(d.B))
	case Beta:
		return fmt.Sprintf("Beta(%s, %s)", sig(d.A), sig(d.B))
	case LogNormal:
		return fmt.Sprintf("LogNormal(%s, %s)", sig(d.A), sig(d.B))
	case Discrete:
		keys := d.keys()
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%d: %s", k, sig(d.Probs[k]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return "Distribution"
	}
}

func (d Dist) String() string { return d.Format() }

func (d Dist) keys() []int {
	keys := make([]int, 0, len(d.Probs))
	for k := range d.Probs {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Mean returns the expected value of d.
func (d Dist) Mean() float64 {
	switch d.Kind {
	case Fixed:
		return d.Value
	case Normal:
		return d.A
	case Beta:
		return d.A / (d.A + d.B)
	case LogNormal:
		return math.Exp(d.A + d.B*d.B/2)
	case Discrete:
		var m, w float64
		for k, p := range d.Probs {
			m += float64(k) * p
			w += p
		}
		return m / w
	default:
		return math.NaN()
	}
}

// Sample returns n independent draws from d.
func (d Dist) Sample(n int, src rand.Source) ([]float64, error) {
	var r func() float64
	switch d.Kind {
	case Fixed:
		r = func() float64 { return d.Value }
	case Normal:
		r = distuv.Normal{Mu: d.A, Sigma: d.B, Src: src}.Rand
	case Beta:
		r = distuv.Beta{Alpha: d.A, Beta: d.B, Src: src}.Rand
	case LogNormal:
		r = distuv.LogNormal{Mu: d.A, Sigma: d.B, Src: src}.Rand
	case Discrete:
		keys := d.keys()
		w := make([]float64, len(keys))
		for i, k := range keys {
			w[i] = d.Probs[k]
		}
		c := distuv.NewCategorical(w, src)
		r = func() float64 { return float64(keys[int(c.Rand())]) }
	default:
		return nil, fmt.Errorf("params: cannot sample from %s", d.Format())
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = r()
	}
	return out, nil
}
