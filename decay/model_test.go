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

package decay

import (
	"context"
	"errors"
	"math"
	"sort"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/spatialmodel/longburden/mcmc"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func testModel(t *testing.T, nonCentered bool) *Model {
	obs, err := Reshape(testTable)
	if err != nil {
		t.Fatal(err)
	}
	h := DefaultHyperpriors()
	h.NonCentered = nonCentered
	m, err := NewModel(obs, len(obs.Symptoms), h)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestNewModelErrors(t *testing.T) {
	obs, err := Reshape(testTable)
	if err != nil {
		t.Fatal(err)
	}
	badIndex := *obs
	badIndex.Symptom = append([]int(nil), obs.Symptom...)
	badIndex.Symptom[0] = 7
	missing := *obs
	missing.Prevalence = append([]float64(nil), obs.Prevalence...)
	missing.Prevalence[1] = math.NaN()

	for _, test := range []struct {
		name string
		obs  *Observations
		n    int
		edit func(*Hyperpriors)
		err  error
	}{
		{name: "symptom count", obs: obs, n: 2, err: ErrShapeMismatch},
		{name: "no observations", obs: &Observations{}, n: 0, err: ErrShapeMismatch},
		{name: "index", obs: &badIndex, n: 3, err: ErrShapeMismatch},
		{name: "missing", obs: &missing, n: 3},
		{name: "alpha variance", obs: obs, n: 3, edit: func(h *Hyperpriors) { h.BaselineAlphaVar = 0 },
			err: ErrInvalidParameterization},
		{name: "beta mean", obs: obs, n: 3, edit: func(h *Hyperpriors) { h.BaselineBetaMean = -1 },
			err: ErrInvalidParameterization},
		{name: "decay alpha", obs: obs, n: 3, edit: func(h *Hyperpriors) { h.DecayRateAlphaMean = math.NaN() },
			err: ErrInvalidParameterization},
		{name: "prior var", obs: obs, n: 3, edit: func(h *Hyperpriors) { h.DecayRatePriorVar = 0 },
			err: ErrInvalidParameterization},
	} {
		t.Run(test.name, func(t *testing.T) {
			h := DefaultHyperpriors()
			if test.edit != nil {
				test.edit(&h)
			}
			m, err := NewModel(test.obs, test.n, h)
			if err == nil {
				t.Fatal("expected an error")
			}
			if m != nil {
				t.Error("model returned with error")
			}
			if test.err != nil && !errors.Is(err, test.err) {
				t.Errorf("error %v should wrap %v", err, test.err)
			}
		})
	}
}

// The analytic gradient agrees with central finite differences.
func TestGradient(t *testing.T) {
	for _, nonCentered := range []bool{false, true} {
		m := testModel(t, nonCentered)
		for seed := uint64(1); seed <= 3; seed++ {
			q := m.Init(rand.NewSource(seed))
			grad := make([]float64, m.Dim())
			lp := m.LogProb(q, grad)
			if math.IsInf(lp, 0) || math.IsNaN(lp) {
				t.Fatalf("non-centered=%v seed %d: log density %g at the initial point", nonCentered, seed, lp)
			}
			scratch := make([]float64, m.Dim())
			names := m.Names()
			for i := range q {
				h := 1e-5 * math.Max(1, math.Abs(q[i]))
				qp := append([]float64(nil), q...)
				qm := append([]float64(nil), q...)
				qp[i] += h
				qm[i] -= h
				fd := (m.LogProb(qp, scratch) - m.LogProb(qm, scratch)) / (2 * h)
				if math.Abs(fd-grad[i]) > 1e-4*math.Max(1, math.Abs(fd)) {
					t.Errorf("non-centered=%v seed %d %s: gradient %g, finite difference %g",
						nonCentered, seed, names[i], grad[i], fd)
				}
			}
		}
	}
}

func TestUnobserved(t *testing.T) {
	nan := math.NaN()
	table := append(PrevalenceTable{{Symptom: "dyspnea", Diff: [3]float64{nan, nan, nan}}}, testTable...)
	obs, err := Reshape(table)
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewModel(obs, len(obs.Symptoms), DefaultHyperpriors())
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Unobserved(); len(got) != 1 || got[0] != "dyspnea" {
		t.Errorf("unobserved: %v", got)
	}
	if got := testModel(t, false).Unobserved(); len(got) != 0 {
		t.Errorf("unobserved: %v", got)
	}
}

// Non-centered offsets start near their standard normal prior mean, so
// the starting point is not far out in the tails.
func TestInitNonCentered(t *testing.T) {
	m := testModel(t, true)
	for seed := uint64(1); seed <= 5; seed++ {
		q := m.Init(rand.NewSource(seed))
		for _, block := range []int{blockBaselineAlpha, blockBaselineBeta, blockDecayRateAlpha} {
			for i := 0; i < m.NumSymptoms(); i++ {
				if z := q[m.at(block, i)]; math.Abs(z) > 0.1 {
					t.Errorf("seed %d: %s = %g", seed, m.Names()[m.at(block, i)], z)
				}
			}
		}
		lp := m.LogProb(q, make([]float64, m.Dim()))
		if !(lp > -1e3) {
			t.Errorf("seed %d: log density %g at the initial point", seed, lp)
		}
	}
}

func TestNonCenteredSupport(t *testing.T) {
	m := testModel(t, true)
	q := m.Init(rand.NewSource(1))
	// A large negative offset makes the decay rate shape negative.
	q[m.at(blockDecayRateAlpha, 0)] = -10
	if lp := m.LogProb(q, make([]float64, m.Dim())); !math.IsInf(lp, -1) {
		t.Errorf("log density %g, want -Inf", lp)
	}
}

func TestConstrain(t *testing.T) {
	m := testModel(t, false)
	q := make([]float64, m.Dim())
	for i := 0; i < m.n; i++ {
		q[m.at(blockBaselineAlpha, i)] = math.Log(2)
		q[m.at(blockBaseline, i)] = 0
		q[m.at(blockDecayRate, i)] = math.Log(0.1)
	}
	v := m.Constrain(q)
	if len(v) != 5 {
		t.Errorf("%d variables", len(v))
	}
	if different(v[BaselineAlpha][1], 2, 1e-12) || v[Baseline][2] != 0.5 || different(v[DecayRate][0], 0.1, 1e-12) {
		t.Errorf("constrained values %v", v)
	}
	if len(m.Names()) != m.Dim() || m.Dim() != 15 {
		t.Errorf("dim %d, %d names", m.Dim(), len(m.Names()))
	}
	if m.Names()[0] != "log_baseline_alpha[anosmia]" {
		t.Error(m.Names()[0])
	}
	if nc := testModel(t, true); len(nc.Constrain(q)) != 8 || nc.Names()[0] != "baseline_alpha_offset[anosmia]" {
		t.Error("non-centered model should report offsets")
	}
}

func TestPriorPredictive(t *testing.T) {
	for _, nonCentered := range []bool{false, true} {
		m := testModel(t, nonCentered)
		p := m.PriorPredictive(500, rand.NewSource(1))
		if r, c := p.YObs.Dims(); r != 500 || c != m.Observations().Len() {
			t.Errorf("Y_obs has shape %dx%d", r, c)
		}
		if p.Len() != 500 {
			t.Errorf("%d samples", p.Len())
		}
		for _, name := range []string{BaselineAlpha, BaselineBeta, DecayRateAlpha} {
			v := p.Vars[name]
			r, c := v.Dims()
			for i := 0; i < r; i++ {
				for j := 0; j < c; j++ {
					if !(v.At(i, j) > 0) {
						t.Fatalf("%s[%d,%d] = %g", name, i, j, v.At(i, j))
					}
				}
			}
		}
		for i := 0; i < p.Len(); i++ {
			for j := 0; j < m.NumSymptoms(); j++ {
				if b := p.Baseline(i, j); !(b >= 0 && b <= 1) {
					t.Fatalf("baseline %g", b)
				}
			}
		}
		if nonCentered && p.Rejected == 0 {
			t.Error("default hyperpriors should reject some non-centered offsets")
		}
		if !nonCentered && p.Rejected != 0 {
			t.Errorf("centered model rejected %d draws", p.Rejected)
		}
		b := p.Bands(0, []float64{0, 6, 18}, 0.05, 0.95)
		for i := range b.Time {
			if b.Lower[i] > b.Upper[i] {
				t.Errorf("band %d: lower %g > upper %g", i, b.Lower[i], b.Upper[i])
			}
		}
		if b.Mean[0] < b.Mean[2] {
			t.Error("implied prevalence should decay")
		}
	}
}

func TestSampleShapes(t *testing.T) {
	m := testModel(t, false)
	log, _ := logtest.NewNullLogger()
	cfg := mcmc.Config{Draws: 20, Tune: 20, Chains: 2, TargetAccept: 0.9, MaxTreeDepth: 6, Seed: 1, Log: log}
	p, err := m.Sample(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if p.Len() != 40 {
		t.Errorf("%d draws", p.Len())
	}
	for name, v := range p.Vars {
		if r, c := v.Dims(); r != 40 || c != 3 {
			t.Errorf("%s has shape %dx%d", name, r, c)
		}
	}
	if p.Diagnostics == nil || len(p.Diagnostics.Chains) != 2 {
		t.Error("missing diagnostics")
	}
	mean, err := p.Mean(DecayRate)
	if err != nil {
		t.Fatal(err)
	}
	if len(mean) != 3 {
		t.Errorf("%d means", len(mean))
	}
	if _, err := p.Mean("xyz"); err == nil {
		t.Error("expected an error for an unknown variable")
	}
}

// The model recovers the decay rates used to generate synthetic data.
func TestRecovery(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping long-running sampler test")
	}
	truth := []struct {
		name           string
		baseline, rate float64
	}{
		{"a", 0.30, 0.10},
		{"b", 0.15, 0.05},
		{"c", 0.20, 0.20},
	}
	var table PrevalenceTable
	for _, s := range truth {
		row := PrevalenceRow{Symptom: s.name}
		for _, p := range Periods {
			row.Diff[p] = 100 * Prevalence(s.baseline, s.rate, p.Months())
		}
		table = append(table, row)
	}
	obs, err := Reshape(table)
	if err != nil {
		t.Fatal(err)
	}
	for _, test := range []struct {
		name        string
		nonCentered bool
		tune        int
		maxRHat     float64
	}{
		{name: "centered", tune: 500, maxRHat: 1.05},
		// The non-centered geometry mixes more slowly on this data.
		{name: "non-centered", nonCentered: true, tune: 1000, maxRHat: 1.5},
	} {
		t.Run(test.name, func(t *testing.T) {
			h := DefaultHyperpriors()
			h.NonCentered = test.nonCentered
			m, err := NewModel(obs, 3, h)
			if err != nil {
				t.Fatal(err)
			}
			log, _ := logtest.NewNullLogger()
			cfg := mcmc.DefaultConfig()
			cfg.Draws = 500
			cfg.Tune = test.tune
			cfg.Chains = 2
			cfg.TargetAccept = 0.95
			cfg.Seed = 2
			cfg.Log = log
			p, err := m.Sample(context.Background(), cfg)
			if err != nil {
				t.Fatal(err)
			}
			if r, _ := p.Vars[DecayRate].Dims(); r != cfg.Draws*cfg.Chains {
				t.Errorf("%d rows", r)
			}
			if rhat := p.Diagnostics.MaxRHat(); !(rhat < test.maxRHat) {
				t.Errorf("max R-hat %g", rhat)
			}
			for j, s := range truth {
				for _, v := range []struct {
					name string
					want float64
				}{
					{Baseline, s.baseline},
					{DecayRate, s.rate},
				} {
					x := mat.Col(nil, j, p.Vars[v.name])
					sort.Float64s(x)
					lo := stat.Quantile(0.05, stat.Empirical, x, nil)
					hi := stat.Quantile(0.95, stat.Empirical, x, nil)
					if v.want < lo || v.want > hi {
						t.Errorf("%s %s: 90%% interval [%g, %g] does not contain %g",
							s.name, v.name, lo, hi, v.want)
					}
				}
			}
		})
	}
}
