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

// Package mcmc draws samples from differentiable log densities using the
// No-U-Turn Sampler with adaptive step size and diagonal mass matrix.
//
// The sampler follows:
//
// Hoffman MD, Gelman A (2014) The No-U-Turn Sampler: Adaptively Setting
// Path Lengths in Hamiltonian Monte Carlo. Journal of Machine Learning
// Research 15:1593–1623.
package mcmc

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Target is a log probability density over an unconstrained real vector.
type Target interface {
	// Dim returns the length of the parameter vector.
	Dim() int

	// LogProb returns the log density at q, up to an additive constant,
	// and writes the gradient into grad. Points outside the support
	// return -Inf.
	LogProb(q, grad []float64) float64
}

// Initializer is implemented by targets that can propose starting points.
type Initializer interface {
	Init(src rand.Source) []float64
}

// Namer is implemented by targets that can label their parameters.
type Namer interface {
	Names() []string
}

// Config holds sampler settings.
type Config struct {
	// Draws is the number of retained draws per chain.
	Draws int

	// Tune is the number of adaptation steps per chain. Tuning draws are
	// discarded.
	Tune int

	// Chains is the number of independent chains, which are run
	// concurrently.
	Chains int

	// TargetAccept is the mean acceptance statistic that step size
	// adaptation aims for. Values close to 1 give smaller steps, which
	// are needed for posteriors with high curvature.
	TargetAccept float64

	// MaxTreeDepth limits the number of trajectory doublings in each
	// iteration.
	MaxTreeDepth int

	// Seed seeds the random streams. Chain c uses a stream derived from
	// Seed and c.
	Seed uint64

	// Log receives progress and convergence messages. If nil,
	// logrus.StandardLogger() is used.
	Log logrus.FieldLogger
}

// DefaultConfig returns the default sampler settings.
func DefaultConfig() Config {
	return Config{
		Draws:        1000,
		Tune:         500,
		Chains:       4,
		TargetAccept: 0.99,
		MaxTreeDepth: 10,
		Seed:         1,
	}
}

func (c Config) validate() error {
	switch {
	case c.Draws < 1:
		return fmt.Errorf("mcmc: Draws=%d but should be >0", c.Draws)
	case c.Tune < 0:
		return fmt.Errorf("mcmc: Tune=%d but should be >=0", c.Tune)
	case c.Chains < 1:
		return fmt.Errorf("mcmc: Chains=%d but should be >0", c.Chains)
	case !(c.TargetAccept > 0 && c.TargetAccept < 1):
		return fmt.Errorf("mcmc: TargetAccept=%g but should be in (0, 1)", c.TargetAccept)
	case c.MaxTreeDepth < 1:
		return fmt.Errorf("mcmc: MaxTreeDepth=%d but should be >0", c.MaxTreeDepth)
	}
	return nil
}

// Trace holds the draws from all chains.
type Trace struct {
	// Draws and Chains are the number of retained draws per chain and
	// the number of chains.
	Draws, Chains int

	// Samples has one row per draw, ordered by draw index and then by
	// chain index (row draw·Chains+chain), and one column per parameter.
	Samples *mat.Dense

	// Diagnostics holds convergence diagnostics.
	Diagnostics *Diagnostics
}

// Chain returns the draws of chain c, one row per draw.
func (t *Trace) Chain(c int) *mat.Dense {
	_, dim := t.Samples.Dims()
	out := mat.NewDense(t.Draws, dim, nil)
	for d := 0; d < t.Draws; d++ {
		out.SetRow(d, t.Samples.RawRowView(d*t.Chains+c))
	}
	return out
}

// Sample draws cfg.Chains independent chains of cfg.Draws samples each
// from target. If ctx is cancelled, sampling stops and no draws are
// returned. Convergence problems are reported in the Diagnostics of the
// result and logged as warnings; they do not cause an error.
func Sample(ctx context.Context, target Target, cfg Config) (*Trace, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	dim := target.Dim()
	if dim < 1 {
		return nil, fmt.Errorf("mcmc: target dimension is %d", dim)
	}

	results := make([]*chainResult, cfg.Chains)
	errs := make([]error, cfg.Chains)
	var wg sync.WaitGroup
	wg.Add(cfg.Chains)
	for c := 0; c < cfg.Chains; c++ {
		go func(c int) {
			defer wg.Done()
			results[c], errs[c] = runChain(ctx, target, cfg, c, log.WithField("chain", c))
		}(c)
	}
	wg.Wait()
	for c, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("mcmc: chain %d: %w", c, err)
		}
	}

	t := &Trace{
		Draws:   cfg.Draws,
		Chains:  cfg.Chains,
		Samples: mat.NewDense(cfg.Draws*cfg.Chains, dim, nil),
	}
	for c, r := range results {
		for d, q := range r.draws {
			t.Samples.SetRow(d*cfg.Chains+c, q)
		}
	}
	var names []string
	if n, ok := target.(Namer); ok {
		names = n.Names()
	}
	t.Diagnostics = diagnose(results, names)
	for _, w := range t.Diagnostics.Warnings() {
		log.WithFields(logrus.Fields{
			"divergences": t.Diagnostics.Divergences(),
			"chains":      cfg.Chains,
		}).Warn(w)
	}
	return t, nil
}

type chainResult struct {
	draws [][]float64
	stats ChainStats
}

// seedStride separates the random streams of different chains.
const seedStride = 0x9E3779B97F4A7C15

func runChain(ctx context.Context, target Target, cfg Config, c int, log logrus.FieldLogger) (*chainResult, error) {
	src := rand.NewSource(cfg.Seed + uint64(c+1)*seedStride)
	s := newSampler(target, cfg.MaxTreeDepth, rand.New(src))

	cur, err := s.initialState(src)
	if err != nil {
		return nil, err
	}
	eps := s.findStepSize(cur)
	da := newDualAveraging(eps, cfg.TargetAccept)
	windowStart, windowEnds := massSchedule(cfg.Tune)
	acc := newWelford(s.dim)

	r := &chainResult{draws: make([][]float64, 0, cfg.Draws)}
	var acceptSum float64
	progress := (cfg.Tune + cfg.Draws) / 10
	if progress < 1 {
		progress = 1
	}
	for it := 0; it < cfg.Tune+cfg.Draws; it++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tuning := it < cfg.Tune
		if tuning {
			eps = da.stepSize()
		}
		next, info := s.transition(cur, eps)
		cur = next

		if tuning {
			da.update(info.acceptStat)
			if it >= windowStart && len(windowEnds) > 0 {
				acc.add(cur.q)
				if it == windowEnds[0]-1 {
					s.invMass = acc.regularizedVariance()
					acc = newWelford(s.dim)
					windowEnds = windowEnds[1:]
					eps = s.findStepSize(cur)
					da = newDualAveraging(eps, cfg.TargetAccept)
				}
			}
			if it == cfg.Tune-1 {
				eps = da.finalStepSize()
			}
		} else {
			r.draws = append(r.draws, cur.q)
			acceptSum += info.acceptStat
			if info.divergent {
				r.stats.Divergences++
			}
			if info.maxDepth {
				r.stats.MaxDepthHits++
			}
		}
		if (it+1)%progress == 0 {
			log.WithFields(logrus.Fields{
				"iteration": it + 1,
				"tuning":    tuning,
				"step_size": eps,
			}).Debug("sampling")
		}
	}
	r.stats.StepSize = eps
	r.stats.MeanAccept = acceptSum / float64(cfg.Draws)
	return r, nil
}

// initialState finds a starting point with finite log density.
func (s *sampler) initialState(src rand.Source) (*state, error) {
	const maxTries = 100
	init, hasInit := s.target.(Initializer)
	for try := 0; try < maxTries; try++ {
		q := make([]float64, s.dim)
		if hasInit {
			q = init.Init(src)
		} else {
			for i := range q {
				q[i] = 4*s.rng.Float64() - 2
			}
		}
		st := &state{q: q, grad: make([]float64, s.dim)}
		st.lp = s.target.LogProb(st.q, st.grad)
		if !math.IsInf(st.lp, 0) && !math.IsNaN(st.lp) && finite(st.grad) {
			return st, nil
		}
	}
	return nil, fmt.Errorf("mcmc: no starting point with finite log density after %d tries", maxTries)
}

func finite(x []float64) bool {
	for _, v := range x {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return false
		}
	}
	return true
}
