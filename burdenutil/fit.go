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

package burdenutil

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ctessum/requestcache"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/longburden/decay"
	"github.com/spatialmodel/longburden/internal/hash"
	"github.com/spatialmodel/longburden/mcmc"
)

// ErrNotConverged is returned by FitUntilConverged when no attempt passes
// the convergence checks.
var ErrNotConverged = errors.New("longburden: sampler did not converge")

// FitRequest specifies a decay model fit.
type FitRequest struct {
	Table       decay.PrevalenceTable
	Hyperpriors decay.Hyperpriors
	Sampler     mcmc.Config
}

// key returns a content key for the request. The logger does not
// affect the result and is left out.
func (r FitRequest) key() string {
	s := r.Sampler
	return hash.Hash(r.Table, r.Hyperpriors, s.Draws, s.Tune, s.Chains,
		s.TargetAccept, s.MaxTreeDepth, s.Seed)
}

// Fitter fits decay models to prevalence tables. Fits are cached in memory
// and concurrent identical requests are computed only once. Fitter is
// concurrency-safe. Users desiring to make changes to a returned posterior
// should make a copy first to avoid editing the cached result.
type Fitter struct {
	// CacheSize is the number of posteriors to hold in memory.
	CacheSize int

	// Log receives progress messages. If nil, logrus.StandardLogger()
	// is used.
	Log logrus.FieldLogger

	cacheInit sync.Once
	cache     *requestcache.Cache
}

// NewFitter returns a Fitter that holds up to cacheSize posteriors in
// memory.
func NewFitter(cacheSize int, log logrus.FieldLogger) *Fitter {
	return &Fitter{CacheSize: cacheSize, Log: log}
}

func (f *Fitter) log() logrus.FieldLogger {
	if f.Log == nil {
		return logrus.StandardLogger()
	}
	return f.Log
}

// Fit returns posterior draws of the decay model for the request.
func (f *Fitter) Fit(ctx context.Context, r FitRequest) (*decay.Posterior, error) {
	f.cacheInit.Do(func() {
		size := f.CacheSize
		if size < 1 {
			size = 1
		}
		f.cache = requestcache.NewCache(f.fit, runtime.GOMAXPROCS(-1),
			requestcache.Deduplicate(), requestcache.Memory(size))
	})
	req := f.cache.NewRequest(ctx, r, r.key())
	result, err := req.Result()
	if err != nil {
		return nil, err
	}
	return result.(*decay.Posterior), nil
}

func (f *Fitter) fit(ctx context.Context, request interface{}) (interface{}, error) {
	r := request.(FitRequest)
	obs, err := decay.Reshape(r.Table)
	if err != nil {
		return nil, err
	}
	m, err := decay.NewModel(obs, len(obs.Symptoms), r.Hyperpriors)
	if err != nil {
		return nil, err
	}
	if r.Sampler.Log == nil {
		r.Sampler.Log = f.log()
	}
	log := f.log().WithFields(logrus.Fields{
		"symptoms":     len(obs.Symptoms),
		"observations": obs.Len(),
		"missing":      obs.Missing,
	})
	for _, s := range m.Unobserved() {
		log.WithField("symptom", s).Warn("symptom has no observations and is fit from the priors alone")
	}
	log.Info("fitting decay model")
	start := time.Now()
	post, err := m.Sample(ctx, r.Sampler)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"duration":    time.Since(start),
		"divergences": post.Diagnostics.Divergences(),
		"max_rhat":    post.Diagnostics.MaxRHat(),
		"min_ess":     post.Diagnostics.MinESS(),
	}).Info("finished fitting decay model")
	return post, nil
}

// FitUntilConverged fits the requested model up to maxAttempts times,
// stopping at the first fit whose diagnostics pass the convergence checks.
// Each new attempt doubles the number of tuning steps and uses the next
// seed. If no attempt converges, the last posterior is returned along with
// an error wrapping ErrNotConverged. Other errors stop the attempts.
func FitUntilConverged(ctx context.Context, f *Fitter, r FitRequest, maxAttempts int) (*decay.Posterior, error) {
	if maxAttempts < 1 {
		return nil, fmt.Errorf("longburden: maxAttempts=%d but should be >0", maxAttempts)
	}
	var (
		post    *decay.Posterior
		fatal   error
		attempt int
	)
	err := backoff.RetryNotify(
		func() error {
			req := r
			req.Sampler.Tune = r.Sampler.Tune << uint(attempt)
			req.Sampler.Seed = r.Sampler.Seed + uint64(attempt)
			attempt++
			p, err := f.Fit(ctx, req)
			if err != nil {
				fatal = err
				return nil
			}
			post = p
			if !p.Diagnostics.Converged() {
				return fmt.Errorf("%w after %d attempt(s) (divergences=%d, max R-hat=%.3g, min ESS=%.3g)",
					ErrNotConverged, attempt, p.Diagnostics.Divergences(),
					p.Diagnostics.MaxRHat(), p.Diagnostics.MinESS())
			}
			return nil
		},
		backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(maxAttempts-1)), ctx),
		func(err error, d time.Duration) {
			f.log().WithField("attempt", attempt).Warnf("%v: retrying", err)
		},
	)
	if fatal != nil {
		return nil, fatal
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return post, err
}
