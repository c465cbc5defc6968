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

// Package decay estimates how the prevalence of persistent post-infection
// symptoms fades over time. Each symptom's prevalence difference is modeled
// as baseline·exp(-rate·t), with per-symptom baselines and decay rates tied
// together by shared hyperpriors.
package decay

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidParameterization is returned when a (mean, variance) pair
	// cannot be converted into valid distribution shape parameters.
	ErrInvalidParameterization = errors.New("invalid parameterization")

	// ErrShapeMismatch is returned when the sizes of related inputs disagree,
	// for example the number of symptoms requested for a model and the number
	// of symptoms present in the observations.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// GammaParams returns the shape (alpha) and scale (theta) of the Gamma
// distribution with the given mean and variance.
func GammaParams(mean, variance float64) (alpha, theta float64, err error) {
	if !(mean > 0) || !(variance > 0) || math.IsInf(mean, 0) || math.IsInf(variance, 0) {
		return 0, 0, fmt.Errorf("decay: gamma moments mean=%g, variance=%g: both must be finite and >0: %w",
			mean, variance, ErrInvalidParameterization)
	}
	return mean * mean / variance, variance / mean, nil
}

// BetaParams returns the shape parameters of the Beta distribution with the
// given mean and variance. The mean must be in (0, 1) and the variance must
// be less than mean·(1-mean).
func BetaParams(mean, variance float64) (alpha, beta float64, err error) {
	if !(mean > 0 && mean < 1) {
		return 0, 0, fmt.Errorf("decay: beta mean=%g must be in (0, 1): %w", mean, ErrInvalidParameterization)
	}
	if !(variance > 0) || variance >= mean*(1-mean) {
		return 0, 0, fmt.Errorf("decay: beta variance=%g must be in (0, %g): %w",
			variance, mean*(1-mean), ErrInvalidParameterization)
	}
	common := mean*(1-mean)/variance - 1
	return mean * common, (1 - mean) * common, nil
}
