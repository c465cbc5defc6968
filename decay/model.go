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
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mathext"
)

// observationSD is the standard deviation of the observation noise. It
// reflects the precision of the measured proportions and is not inferred.
const observationSD = 0.01

// Names of the model variables.
const (
	BaselineAlpha       = "baseline_alpha"
	BaselineBeta        = "baseline_beta"
	DecayRateAlpha      = "decay_rate_alpha"
	Baseline            = "baseline"
	DecayRate           = "decay_rate"
	BaselineAlphaOffset = "baseline_alpha_offset"
	BaselineBetaOffset  = "baseline_beta_offset"
	DecayRateOffset     = "decay_rate_offset"
	ObservedPrevalence  = "Y_obs"
)

// Hyperpriors holds the settings of the shared priors. Each hyperprior is
// specified by the mean and variance of a Gamma distribution. The zero value
// is not usable; start from DefaultHyperpriors.
type Hyperpriors struct {
	// BaselineAlphaMean and BaselineAlphaVar specify the Gamma hyperprior
	// on the first shape parameter of the per-symptom baseline Beta prior.
	BaselineAlphaMean, BaselineAlphaVar float64

	// BaselineBetaMean and BaselineBetaVar specify the Gamma hyperprior
	// on the second shape parameter of the per-symptom baseline Beta prior.
	BaselineBetaMean, BaselineBetaVar float64

	// DecayRateAlphaMean and DecayRateAlphaVar specify the Gamma hyperprior
	// on the shape of the per-symptom decay rate Gamma prior.
	DecayRateAlphaMean, DecayRateAlphaVar float64

	// DecayRatePriorVar is the inverse of the rate parameter of the
	// per-symptom decay rate Gamma prior.
	DecayRatePriorVar float64

	// NonCentered selects the non-centered parameterization, where the
	// hyperprior variables are standard normal offsets that are shifted
	// and scaled by the moment-matched Gamma parameters.
	NonCentered bool
}

// DefaultHyperpriors returns the default prior settings.
func DefaultHyperpriors() Hyperpriors {
	return Hyperpriors{
		BaselineAlphaMean:  1,
		BaselineAlphaVar:   3,
		BaselineBetaMean:   50,
		BaselineBetaVar:    10,
		DecayRateAlphaMean: 1,
		DecayRateAlphaVar:  10,
		DecayRatePriorVar:  10,
	}
}

// gammaPrior is a Gamma distribution with shape K and scale Theta.
type gammaPrior struct {
	K, Theta float64
}

// Model is a hierarchical exponential decay model conditioned on a set of
// observations. It is safe for concurrent use.
type Model struct {
	obs *Observations
	n   int
	h   Hyperpriors

	baselineAlpha, baselineBeta, decayRateAlpha gammaPrior

	// rate is the rate parameter of the decay rate prior.
	rate float64
}

// Variable blocks in the unconstrained parameter vector, each with
// one entry per symptom.
const (
	blockBaselineAlpha = iota
	blockBaselineBeta
	blockDecayRateAlpha
	blockBaseline
	blockDecayRate
	numBlocks
)

// NewModel builds a decay model for nSymptoms symptoms conditioned on obs.
// Configuration problems are reported here rather than during sampling.
func NewModel(obs *Observations, nSymptoms int, h Hyperpriors) (*Model, error) {
	if obs == nil || obs.Len() == 0 {
		return nil, fmt.Errorf("decay: no observations: %w", ErrShapeMismatch)
	}
	if nSymptoms != len(obs.Symptoms) {
		return nil, fmt.Errorf("decay: model has %d symptoms but observations have %d: %w",
			nSymptoms, len(obs.Symptoms), ErrShapeMismatch)
	}
	if len(obs.Prevalence) != obs.Len() || len(obs.Symptom) != obs.Len() {
		return nil, fmt.Errorf("decay: observation fields have lengths %d, %d, %d: %w",
			obs.Len(), len(obs.Prevalence), len(obs.Symptom), ErrShapeMismatch)
	}
	for _, s := range obs.Symptom {
		if s < 0 || s >= nSymptoms {
			return nil, fmt.Errorf("decay: observation symptom index %d out of range [0, %d): %w",
				s, nSymptoms, ErrShapeMismatch)
		}
	}
	for i, y := range obs.Prevalence {
		if math.IsNaN(y) || math.IsInf(y, 0) {
			return nil, fmt.Errorf("decay: observation %d has missing prevalence; reshape the table to exclude it", i)
		}
	}
	m := &Model{obs: obs, n: nSymptoms, h: h}
	var err error
	if m.baselineAlpha.K, m.baselineAlpha.Theta, err = GammaParams(h.BaselineAlphaMean, h.BaselineAlphaVar); err != nil {
		return nil, fmt.Errorf("decay: baseline alpha hyperprior: %w", err)
	}
	if m.baselineBeta.K, m.baselineBeta.Theta, err = GammaParams(h.BaselineBetaMean, h.BaselineBetaVar); err != nil {
		return nil, fmt.Errorf("decay: baseline beta hyperprior: %w", err)
	}
	if m.decayRateAlpha.K, m.decayRateAlpha.Theta, err = GammaParams(h.DecayRateAlphaMean, h.DecayRateAlphaVar); err != nil {
		return nil, fmt.Errorf("decay: decay rate alpha hyperprior: %w", err)
	}
	if !(h.DecayRatePriorVar > 0) || math.IsInf(h.DecayRatePriorVar, 0) {
		return nil, fmt.Errorf("decay: DecayRatePriorVar=%g must be finite and >0: %w",
			h.DecayRatePriorVar, ErrInvalidParameterization)
	}
	m.rate = 1 / h.DecayRatePriorVar
	return m, nil
}

// NumSymptoms returns the number of symptoms in the model.
func (m *Model) NumSymptoms() int { return m.n }

// Symptoms returns the symptom names by index.
func (m *Model) Symptoms() []string { return append([]string(nil), m.obs.Symptoms...) }

// Unobserved returns the names of symptoms that have no observations.
// Their parameters are informed by the priors alone.
func (m *Model) Unobserved() []string {
	seen := make([]bool, m.n)
	for _, s := range m.obs.Symptom {
		seen[s] = true
	}
	var out []string
	for i, ok := range seen {
		if !ok {
			out = append(out, m.obs.Symptoms[i])
		}
	}
	return out
}

// Hyperpriors returns the prior settings of the model.
func (m *Model) Hyperpriors() Hyperpriors { return m.h }

// Observations returns the data the model is conditioned on.
func (m *Model) Observations() *Observations { return m.obs }

// Dim returns the length of the unconstrained parameter vector.
func (m *Model) Dim() int { return numBlocks * m.n }

func (m *Model) at(block, i int) int { return block*m.n + i }

// Names returns a label for each element of the unconstrained parameter
// vector. Positive variables are sampled on the log scale and the baseline
// on the logit scale.
func (m *Model) Names() []string {
	blocks := [numBlocks]string{"log_" + BaselineAlpha, "log_" + BaselineBeta, "log_" + DecayRateAlpha,
		"logit_" + Baseline, "log_" + DecayRate}
	if m.h.NonCentered {
		blocks[blockBaselineAlpha] = BaselineAlphaOffset
		blocks[blockBaselineBeta] = BaselineBetaOffset
		blocks[blockDecayRateAlpha] = DecayRateOffset
	}
	names := make([]string, 0, m.Dim())
	for _, b := range blocks {
		for i := 0; i < m.n; i++ {
			names = append(names, fmt.Sprintf("%s[%s]", b, m.obs.Symptoms[i]))
		}
	}
	return names
}

// hyper returns the Beta shape parameters of the baseline prior and
// the shape of the decay rate prior for symptom i, as well as the derivatives
// of each with respect to its unconstrained coordinate.
func (m *Model) hyper(q []float64, i int) (a, b, k, da, db, dk float64) {
	za := q[m.at(blockBaselineAlpha, i)]
	zb := q[m.at(blockBaselineBeta, i)]
	zk := q[m.at(blockDecayRateAlpha, i)]
	if m.h.NonCentered {
		a = m.baselineAlpha.K + m.baselineAlpha.Theta*za
		b = m.baselineBeta.K + m.baselineBeta.Theta*zb
		k = m.decayRateAlpha.K + m.decayRateAlpha.Theta*zk
		return a, b, k, m.baselineAlpha.Theta, m.baselineBeta.Theta, m.decayRateAlpha.Theta
	}
	a, b, k = math.Exp(za), math.Exp(zb), math.Exp(zk)
	return a, b, k, a, b, k
}

// LogProb returns the log posterior density (up to a constant) of the
// unconstrained parameter vector q, including the Jacobian of the
// transformation to the constrained space, and writes its gradient into
// grad. It returns -Inf when q is outside the support of the model.
func (m *Model) LogProb(q, grad []float64) float64 {
	for i := range grad {
		grad[i] = 0
	}
	x := make([]float64, m.n)  // baseline
	x1 := make([]float64, m.n) // x·(1-x), the logit Jacobian
	d := make([]float64, m.n)  // decay rate

	var lp float64
	for i := 0; i < m.n; i++ {
		ia, ib, ik := m.at(blockBaselineAlpha, i), m.at(blockBaselineBeta, i), m.at(blockDecayRateAlpha, i)
		a, b, k, da, db, dk := m.hyper(q, i)
		if m.h.NonCentered {
			for _, j := range []int{ia, ib, ik} {
				lp -= 0.5 * q[j] * q[j]
				grad[j] -= q[j]
			}
			if !(a > 0 && b > 0 && k > 0) {
				return math.Inf(-1)
			}
		} else {
			for _, h := range []struct {
				j int
				v float64
				p gammaPrior
			}{{ia, a, m.baselineAlpha}, {ib, b, m.baselineBeta}, {ik, k, m.decayRateAlpha}} {
				lp += h.p.K*q[h.j] - h.v/h.p.Theta
				grad[h.j] += h.p.K - h.v/h.p.Theta
			}
		}

		// baseline ~ Beta(a, b), sampled as v = logit(baseline).
		iv := m.at(blockBaseline, i)
		v := q[iv]
		logX, log1mX := -softplus(-v), -softplus(v)
		x[i] = math.Exp(logX)
		x1[i] = math.Exp(logX + log1mX)
		lp += lgamma(a+b) - lgamma(a) - lgamma(b) + a*logX + b*log1mX
		grad[iv] += a*(1-x[i]) - b*x[i]
		psiAB := mathext.Digamma(a + b)
		grad[ia] += (psiAB - mathext.Digamma(a) + logX) * da
		grad[ib] += (psiAB - mathext.Digamma(b) + log1mX) * db

		// decay_rate ~ Gamma(k, rate), sampled as w = log(decay_rate).
		iw := m.at(blockDecayRate, i)
		w := q[iw]
		d[i] = math.Exp(w)
		lp += k*math.Log(m.rate) - lgamma(k) + k*w - m.rate*d[i]
		grad[iw] += k - m.rate*d[i]
		grad[ik] += (math.Log(m.rate) - mathext.Digamma(k) + w) * dk
	}

	const prec = 1 / (observationSD * observationSD)
	for j, t := range m.obs.Time {
		s := m.obs.Symptom[j]
		e := math.Exp(-d[s] * t)
		mu := x[s] * e
		r := m.obs.Prevalence[j] - mu
		lp -= 0.5 * r * r * prec
		dmu := r * prec
		grad[m.at(blockBaseline, s)] += dmu * e * x1[s]
		grad[m.at(blockDecayRate, s)] -= dmu * t * mu * d[s]
	}
	if math.IsNaN(lp) {
		return math.Inf(-1)
	}
	return lp
}

// Init returns a jittered starting point for sampling. Baselines and decay
// rates start near a log-linear fit to each symptom's observations.
// Hyperprior shapes start near their prior means, or, in the non-centered
// parameterization, the offsets start near zero.
func (m *Model) Init(src rand.Source) []float64 {
	const jitter = 0.1
	rng := rand.New(src)
	u := func() float64 { return jitter * (2*rng.Float64() - 1) }
	q := make([]float64, m.Dim())
	base, rate := m.roughFit()
	for i := 0; i < m.n; i++ {
		for _, h := range []struct {
			block int
			mean  float64
		}{
			{blockBaselineAlpha, m.h.BaselineAlphaMean},
			{blockBaselineBeta, m.h.BaselineBetaMean},
			{blockDecayRateAlpha, m.h.DecayRateAlphaMean},
		} {
			if m.h.NonCentered {
				q[m.at(h.block, i)] = u()
			} else {
				q[m.at(h.block, i)] = math.Log(h.mean) + u()
			}
		}
		q[m.at(blockBaseline, i)] = math.Log(base[i]/(1-base[i])) + u()
		q[m.at(blockDecayRate, i)] = math.Log(rate[i]) + u()
	}
	return q
}

// Constrain converts the unconstrained vector q into named model variables,
// including the deterministic shape parameters of the non-centered
// parameterization.
func (m *Model) Constrain(q []float64) map[string][]float64 {
	out := make(map[string][]float64)
	names := m.VarNames()
	for _, name := range names {
		out[name] = make([]float64, m.n)
	}
	for i := 0; i < m.n; i++ {
		a, b, k, _, _, _ := m.hyper(q, i)
		out[BaselineAlpha][i] = a
		out[BaselineBeta][i] = b
		out[DecayRateAlpha][i] = k
		out[Baseline][i] = logistic(q[m.at(blockBaseline, i)])
		out[DecayRate][i] = math.Exp(q[m.at(blockDecayRate, i)])
		if m.h.NonCentered {
			out[BaselineAlphaOffset][i] = q[m.at(blockBaselineAlpha, i)]
			out[BaselineBetaOffset][i] = q[m.at(blockBaselineBeta, i)]
			out[DecayRateOffset][i] = q[m.at(blockDecayRateAlpha, i)]
		}
	}
	return out
}

// VarNames returns the names of the per-symptom model variables.
func (m *Model) VarNames() []string {
	names := []string{BaselineAlpha, BaselineBeta, DecayRateAlpha, Baseline, DecayRate}
	if m.h.NonCentered {
		names = append(names, BaselineAlphaOffset, BaselineBetaOffset, DecayRateOffset)
	}
	return names
}

// roughFit returns per-symptom baseline and decay rate estimates from
// least squares on log prevalence.
func (m *Model) roughFit() (base, rate []float64) {
	base = make([]float64, m.n)
	rate = make([]float64, m.n)
	for i := 0; i < m.n; i++ {
		var n, st, sy, stt, sty float64
		for j, t := range m.obs.Time {
			y := m.obs.Prevalence[j]
			if m.obs.Symptom[j] != i || !(y > 0) {
				continue
			}
			ly := math.Log(y)
			n++
			st += t
			sy += ly
			stt += t * t
			sty += t * ly
		}
		base[i], rate[i] = 0.01, 0.1
		switch {
		case n >= 2 && n*stt-st*st > 0:
			slope := (n*sty - st*sy) / (n*stt - st*st)
			base[i] = math.Exp((sy - slope*st) / n)
			rate[i] = -slope
		case n == 1:
			base[i] = math.Exp(sy)
		}
		base[i] = math.Min(math.Max(base[i], 1e-3), 0.9)
		rate[i] = math.Min(math.Max(rate[i], 1e-3), 5)
	}
	return base, rate
}

// Prevalence returns the predicted prevalence at time t for a symptom with
// the given baseline and decay rate.
func Prevalence(baseline, decayRate, t float64) float64 {
	return baseline * math.Exp(-decayRate*t)
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}

// softplus returns log(1+exp(x)) without overflow.
func softplus(x float64) float64 {
	return math.Max(x, 0) + math.Log1p(math.Exp(-math.Abs(x)))
}

func logistic(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
