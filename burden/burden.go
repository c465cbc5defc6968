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

// Package burden propagates uncertainty in symptom decay and case counts
// into a distribution of disease burden.
package burden

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/longburden/decay"
	"github.com/spatialmodel/longburden/epi"
	"gonum.org/v1/gonum/stat"
)

// Total is the Distribution key of the burden summed over symptoms.
const Total = "total"

// Draws is a set of joint draws of per-symptom decay parameters.
// *decay.Posterior and *decay.PriorSample implement it.
type Draws interface {
	Len() int
	SymptomNames() []string
	Baseline(i, j int) float64
	DecayRate(i, j int) float64
}

// Config holds burden calculation settings.
type Config struct {
	// NumSamples is the number of draws to use.
	NumSamples int

	// MaxTime is the number of months after infection over which
	// prevalence is integrated.
	MaxTime float64

	// Weights is the fraction of cases in each severity stratum.
	Weights epi.SeverityWeights

	// Strict causes DALY table symptoms that are not in the draws to be
	// reported as errors.
	Strict bool

	// Log receives progress messages. If nil, logrus.StandardLogger()
	// is used.
	Log logrus.FieldLogger
}

// DefaultConfig returns the default settings, with all cases mild.
func DefaultConfig() Config {
	return Config{
		NumSamples: 3000,
		MaxTime:    36,
		Weights:    epi.AllMild,
	}
}

// Distribution holds one burden value per draw for each symptom and for
// the Total.
type Distribution map[string][]float64

// Symptoms returns the symptom keys of d in lexical order, excluding Total.
func (d Distribution) Symptoms() []string {
	var names []string
	for k := range d {
		if k != Total {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// ConstantCases returns a case-count sample of length n in which every
// value is cases.
func ConstantCases(n int, cases float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = cases
	}
	return out
}

// Calculate returns the distribution of burden, in DALYs, implied by
// draws, the DALY table and the case counts. For draw i < cfg.NumSamples
// and symptom j, the decay curve is integrated over [0, cfg.MaxTime]
// months, multiplied by totalCases[i]/12, and weighted by the
// severity-weighted DALY adjustment of the symptom. Symptoms are
// identified by the names and order of draws.SymptomNames.
//
// All inputs are checked before any integration is done. If ctx is
// cancelled, Calculate returns ctx.Err() and no distribution.
func Calculate(ctx context.Context, draws Draws, table epi.DALYTable, totalCases []float64, cfg Config) (Distribution, error) {
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.NumSamples < 1 {
		return nil, fmt.Errorf("burden: NumSamples=%d but should be >0", cfg.NumSamples)
	}
	if !(cfg.MaxTime > 0) || math.IsInf(cfg.MaxTime, 0) {
		return nil, fmt.Errorf("burden: MaxTime=%g but should be finite and >0", cfg.MaxTime)
	}
	if err := cfg.Weights.Validate(); err != nil {
		return nil, fmt.Errorf("burden: %w", err)
	}
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("burden: %w", err)
	}
	if len(totalCases) < cfg.NumSamples {
		return nil, fmt.Errorf("burden: %d case counts for %d samples: %w",
			len(totalCases), cfg.NumSamples, decay.ErrShapeMismatch)
	}
	if cfg.NumSamples > draws.Len() {
		return nil, fmt.Errorf("burden: %d samples requested but only %d draws available: %w",
			cfg.NumSamples, draws.Len(), decay.ErrShapeMismatch)
	}

	names := draws.SymptomNames()
	adj := make([]float64, len(names))
	inDraws := make(map[string]bool)
	for j, name := range names {
		var err error
		if adj[j], err = table.WeightedAdjustment(name, cfg.Weights); err != nil {
			return nil, fmt.Errorf("burden: %w", err)
		}
		inDraws[name] = true
	}
	if cfg.Strict {
		for _, name := range table.Symptoms() {
			if !inDraws[name] {
				return nil, fmt.Errorf("burden: DALY table symptom %q has no decay draws: %w",
					name, epi.ErrMissingMapping)
			}
		}
	}
	if !cfg.Weights.Normalized() {
		log.WithField("sum", cfg.Weights.Sum()).Warn("burden: severity weights do not sum to 1")
	}

	n := cfg.NumSamples
	perSymptom := make([][]float64, len(names))
	for j := range perSymptom {
		perSymptom[j] = make([]float64, n)
	}
	total := make([]float64, n)

	nprocs := runtime.GOMAXPROCS(0)
	var wg sync.WaitGroup
	wg.Add(nprocs)
	for pp := 0; pp < nprocs; pp++ {
		go func(pp int) {
			defer wg.Done()
			for i := pp; i < n; i += nprocs {
				if ctx.Err() != nil {
					return
				}
				for j := range names {
					b, r := draws.Baseline(i, j), draws.DecayRate(i, j)
					integral := Integrate(func(t float64) float64 {
						return decay.Prevalence(b, r, t)
					}, 0, cfg.MaxTime)
					v := integral * totalCases[i] / 12 * adj[j]
					perSymptom[j][i] = v
					total[i] += v
				}
			}
		}(pp)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d := make(Distribution, len(names)+1)
	for j, name := range names {
		d[name] = perSymptom[j]
	}
	d[Total] = total
	log.WithFields(logrus.Fields{
		"samples":  n,
		"symptoms": len(names),
	}).Info("burden: calculated burden distribution")
	return d, nil
}

// Summary describes a burden distribution.
type Summary struct {
	Mean, Median, Lower, Upper float64
}

// Summary returns the mean, median, and the lo and hi quantiles of the
// named distribution.
func (d Distribution) Summary(name string, lo, hi float64) (Summary, error) {
	v, ok := d[name]
	if !ok || len(v) == 0 {
		return Summary{}, fmt.Errorf("burden: no distribution for %q", name)
	}
	if !(lo >= 0 && lo <= hi && hi <= 1) {
		return Summary{}, fmt.Errorf("burden: invalid quantiles %g, %g", lo, hi)
	}
	x := append([]float64(nil), v...)
	sort.Float64s(x)
	return Summary{
		Mean:   stat.Mean(x, nil),
		Median: stat.Quantile(0.5, stat.Empirical, x, nil),
		Lower:  stat.Quantile(lo, stat.Empirical, x, nil),
		Upper:  stat.Quantile(hi, stat.Empirical, x, nil),
	}, nil
}
