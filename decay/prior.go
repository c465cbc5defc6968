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
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// PriorSample holds independent draws from the generative process of a
// model, ignoring the observed data.
type PriorSample struct {
	// Symptoms holds the symptom names by column.
	Symptoms []string

	// Vars holds one matrix per model variable, with one row per sample
	// and one column per symptom.
	Vars map[string]*mat.Dense

	// YObs holds simulated observations, with one row per sample and one
	// column per observation of the model.
	YObs *mat.Dense

	// Rejected is the number of non-centered offset draws that were
	// redrawn because they implied a non-positive shape parameter.
	Rejected int
}

// Baseline returns the baseline of symptom j in sample i.
func (p *PriorSample) Baseline(i, j int) float64 { return p.Vars[Baseline].At(i, j) }

// DecayRate returns the decay rate of symptom j in sample i.
func (p *PriorSample) DecayRate(i, j int) float64 { return p.Vars[DecayRate].At(i, j) }

// SymptomNames returns the symptom names by column.
func (p *PriorSample) SymptomNames() []string { return p.Symptoms }

// Len returns the number of samples.
func (p *PriorSample) Len() int {
	r, _ := p.Vars[Baseline].Dims()
	return r
}

// PriorPredictive draws the requested number of samples from the prior
// generative process of the model.
func (m *Model) PriorPredictive(samples int, src rand.Source) *PriorSample {
	p := &PriorSample{
		Symptoms: m.Symptoms(),
		Vars:     make(map[string]*mat.Dense),
		YObs:     mat.NewDense(samples, m.obs.Len(), nil),
	}
	for _, name := range m.VarNames() {
		p.Vars[name] = mat.NewDense(samples, m.n, nil)
	}
	gamma := func(g gammaPrior) distuv.Gamma {
		return distuv.Gamma{Alpha: g.K, Beta: 1 / g.Theta, Src: src}
	}
	unit := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	baseline := make([]float64, m.n)
	rate := make([]float64, m.n)
	for s := 0; s < samples; s++ {
		for i := 0; i < m.n; i++ {
			var a, b, k float64
			if m.h.NonCentered {
				// Offsets are redrawn until the implied shapes are valid so
				// that every sample comes from a proper distribution.
				for {
					za, zb, zk := unit.Rand(), unit.Rand(), unit.Rand()
					a = m.baselineAlpha.K + m.baselineAlpha.Theta*za
					b = m.baselineBeta.K + m.baselineBeta.Theta*zb
					k = m.decayRateAlpha.K + m.decayRateAlpha.Theta*zk
					if a > 0 && b > 0 && k > 0 {
						p.Vars[BaselineAlphaOffset].Set(s, i, za)
						p.Vars[BaselineBetaOffset].Set(s, i, zb)
						p.Vars[DecayRateOffset].Set(s, i, zk)
						break
					}
					p.Rejected++
				}
			} else {
				a = gamma(m.baselineAlpha).Rand()
				b = gamma(m.baselineBeta).Rand()
				k = gamma(m.decayRateAlpha).Rand()
			}
			baseline[i] = distuv.Beta{Alpha: a, Beta: b, Src: src}.Rand()
			rate[i] = distuv.Gamma{Alpha: k, Beta: m.rate, Src: src}.Rand()

			p.Vars[BaselineAlpha].Set(s, i, a)
			p.Vars[BaselineBeta].Set(s, i, b)
			p.Vars[DecayRateAlpha].Set(s, i, k)
			p.Vars[Baseline].Set(s, i, baseline[i])
			p.Vars[DecayRate].Set(s, i, rate[i])
		}
		for j, t := range m.obs.Time {
			sym := m.obs.Symptom[j]
			y := distuv.Normal{Mu: Prevalence(baseline[sym], rate[sym], t), Sigma: observationSD, Src: src}
			p.YObs.Set(s, j, y.Rand())
		}
	}
	return p
}

// Bands returns the mean and the lower and upper quantiles of the implied
// prevalence paths of symptom j at the given times.
func (p *PriorSample) Bands(j int, times []float64, lower, upper float64) Band {
	return bands(p, j, times, lower, upper)
}
