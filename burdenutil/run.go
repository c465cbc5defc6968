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
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/longburden/burden"
	"github.com/spatialmodel/longburden/decay"
	"github.com/spatialmodel/longburden/epi"
	"github.com/spatialmodel/longburden/params"
	"github.com/spatialmodel/longburden/report"
	"golang.org/x/exp/rand"
)

// priorFigureSamples is the number of prior predictive draws behind the
// implied path figures.
const priorFigureSamples = 500

// Result holds the outputs of Run.
type Result struct {
	Posterior *decay.Posterior
	Burden    burden.Distribution

	// Figures holds the paths of any figures that were written.
	Figures []string
}

// AnnualCases returns n draws of the annual number of cases from the
// mainline parameter set.
func AnnualCases(n int, seed uint64) ([]float64, error) {
	return params.Defaults()["annual_cases"].Sample(n, rand.NewSource(seed))
}

// Run fits the decay model to table using the settings in cfg and
// calculates the distribution of burden implied by the posterior, the
// DALY table and the case counts. If totalCases is nil, case counts are
// drawn with AnnualCases. If the OutputDir option is set, figures of the
// fitted curves, the prior implied paths and the burden distribution are
// written there.
//
// A fit that does not converge is still used, and the returned error
// wraps ErrNotConverged.
func Run(ctx context.Context, cfg *Cfg, f *Fitter, table decay.PrevalenceTable, daly epi.DALYTable, totalCases []float64) (*Result, error) {
	log := f.log()
	h, err := HyperpriorConfig(cfg.Viper)
	if err != nil {
		return nil, err
	}
	sc, err := SamplerConfig(cfg.Viper, log)
	if err != nil {
		return nil, err
	}
	bc, err := BurdenConfig(cfg.Viper, log)
	if err != nil {
		return nil, err
	}
	if totalCases == nil {
		if totalCases, err = AnnualCases(bc.NumSamples, sc.Seed); err != nil {
			return nil, err
		}
	}

	post, fitErr := FitUntilConverged(ctx, f,
		FitRequest{Table: table, Hyperpriors: h, Sampler: sc},
		cfg.GetInt("Sampler.MaxAttempts"))
	if fitErr != nil && !errors.Is(fitErr, ErrNotConverged) {
		return nil, fitErr
	}
	dist, err := burden.Calculate(ctx, post, daly, totalCases, bc)
	if err != nil {
		return nil, err
	}
	r := &Result{Posterior: post, Burden: dist}

	if dir := os.ExpandEnv(cfg.GetString("OutputDir")); dir != "" {
		obs, err := decay.Reshape(table)
		if err != nil {
			return nil, err
		}
		m, err := decay.NewModel(obs, len(obs.Symptoms), h)
		if err != nil {
			return nil, err
		}
		prior := m.PriorPredictive(priorFigureSamples, rand.NewSource(sc.Seed))
		r.Figures, err = report.Figures(dir, post, prior, obs, dist, report.Times(bc.MaxTime, 100))
		if err != nil {
			return nil, err
		}
		log.WithFields(logrus.Fields{"dir": dir, "files": len(r.Figures)}).Info("wrote figures")
	}
	return r, fitErr
}
