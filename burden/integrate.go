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

package burden

import (
	"math"

	"gonum.org/v1/gonum/integrate/quad"
)

const (
	// legendreOrder is the number of Gauss–Legendre nodes per panel.
	legendreOrder = 21

	// integrateTol is the absolute error target.
	integrateTol = 1.49e-8

	// maxSplits limits the recursion depth of the adaptive rule.
	maxSplits = 16
)

// Integrate returns the integral of f over [a, b]. The interval is split
// in half until the Gauss–Legendre estimate over each panel agrees with the
// sum of the estimates over its halves.
func Integrate(f func(float64) float64, a, b float64) float64 {
	if a == b {
		return 0
	}
	whole := quad.Fixed(f, a, b, legendreOrder, quad.Legendre{}, 0)
	return integrate(f, a, b, whole, integrateTol, maxSplits)
}

func integrate(f func(float64) float64, a, b, whole, tol float64, depth int) float64 {
	m := a + (b-a)/2
	left := quad.Fixed(f, a, m, legendreOrder, quad.Legendre{}, 0)
	right := quad.Fixed(f, m, b, legendreOrder, quad.Legendre{}, 0)
	if depth == 0 || math.Abs(left+right-whole) <= tol || m == a || m == b {
		return left + right
	}
	return integrate(f, a, m, left, tol/2, depth-1) + integrate(f, m, b, right, tol/2, depth-1)
}
