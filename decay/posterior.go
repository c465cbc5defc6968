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
	"fmt"
	"sort"

	"github.com/spatialmodel/longburden/mcmc"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Posterior holds posterior draws of the model variables.
type Posterior struct {
	// Symptoms holds the symptom names by column.
	Symptoms []string

	// Draws and Chains are the number of retained draws per chain and the
	// number of chains.
	Draws, Chains int

	// Vars holds one matrix per model variable. Row draw·Chains+chain holds
	// the values of that draw of that chain, with one column per symptom.
	Vars map[string]*mat.Dense

	// Diagnostics holds the sampler convergence diagnostics.
	Diagnostics *mcmc.Diagnostics
}

// Sample draws from the posterior distribution of the model. Convergence
// problems do not cause an error; inspect the Diagnostics field of the
// result.
func (m *Model) Sample(ctx context.Context, cfg mcmc.Config) (*Posterior, error) {
	trace, err := mcmc.Sample(ctx, m, cfg)
	if err != nil {
		return nil, fmt.Errorf("decay: sampling: %w", err)
	}
	return m.posterior(trace), nil
}

func (m *Model) posterior(trace *mcmc.Trace) *Posterior {
	rows, _ := trace.Samples.Dims()
	p := &Posterior{
		Symptoms:    m.Symptoms(),
		Draws:       trace.Draws,
		Chains:      trace.Chains,
		Vars:        make(map[string]*mat.Dense),
		Diagnostics: trace.Diagnostics,
	}
	for _, name := range m.VarNames() {
		p.Vars[name] = mat.NewDense(rows, m.n, nil)
	}
	for r := 0; r < rows; r++ {
		for name, v := range m.Constrain(trace.Samples.RawRowView(r)) {
			p.Vars[name].SetRow(r, v)
		}
	}
	return p
}

// Len returns the total number of draws across all chains.
func (p *Posterior) Len() int { return p.Draws * p.Chains }

// Baseline returns the baseline of symptom j in draw i.
func (p *Posterior) Baseline(i, j int) float64 { return p.Vars[Baseline].At(i, j) }

// DecayRate returns the decay rate of symptom j in draw i.
func (p *Posterior) DecayRate(i, j int) float64 { return p.Vars[DecayRate].At(i, j) }

// SymptomNames returns the symptom names by column.
func (p *Posterior) SymptomNames() []string { return p.Symptoms }

// Mean returns the posterior mean of the named variable for each symptom.
func (p *Posterior) Mean(name string) ([]float64, error) {
	v, ok := p.Vars[name]
	if !ok {
		return nil, fmt.Errorf("decay: no posterior variable %q", name)
	}
	_, c := v.Dims()
	out := make([]float64, c)
	for j := range out {
		out[j] = stat.Mean(mat.Col(nil, j, v), nil)
	}
	return out, nil
}

// Bands returns the mean and the lower and upper quantiles of the posterior
// prevalence curves of symptom j at the given times.
func (p *Posterior) Bands(j int, times []float64, lower, upper float64) Band {
	return bands(p, j, times, lower, upper)
}

// Band summarizes a set of decay curves at a sequence of times.
type Band struct {
	Time, Mean, Lower, Upper []float64
}

type curves interface {
	Len() int
	Baseline(i, j int) float64
	DecayRate(i, j int) float64
}

func bands(c curves, j int, times []float64, lower, upper float64) Band {
	b := Band{
		Time:  append([]float64(nil), times...),
		Mean:  make([]float64, len(times)),
		Lower: make([]float64, len(times)),
		Upper: make([]float64, len(times)),
	}
	v := make([]float64, c.Len())
	for ti, t := range times {
		for i := range v {
			v[i] = Prevalence(c.Baseline(i, j), c.DecayRate(i, j), t)
		}
		sort.Float64s(v)
		b.Mean[ti] = stat.Mean(v, nil)
		b.Lower[ti] = stat.Quantile(lower, stat.Empirical, v, nil)
		b.Upper[ti] = stat.Quantile(upper, stat.Empirical, v, nil)
	}
	return b
}
