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

package epi

import (
	"math"

	"github.com/spatialmodel/longburden/decay"
)

// Window returns the range of months since infection that the prevalence
// measured for period p is taken to represent.
func Window(p decay.Period) (start, end float64) {
	switch p {
	case decay.SixMonth:
		return 2, 8
	case decay.TwelveMonth:
		return 8, 15
	default:
		return 15, 36
	}
}

// PeriodBurden holds the per-case burden of one DALY row in each
// follow-up window, in DALYs.
type PeriodBurden struct {
	DALYRow

	// Burden is the prevalence difference times the row adjustment times
	// the window length in years, indexed by decay.Period. Windows with a
	// missing prevalence are NaN.
	Burden [decay.NumPeriods]float64
}

// PeriodBurdens joins prev and daly on the symptom name and returns the
// per-case burden of each joined row, without any model of how
// prevalence changes within a window. Prevalence symptoms without DALY
// rows are left out.
func PeriodBurdens(prev decay.PrevalenceTable, daly DALYTable) []PeriodBurden {
	var out []PeriodBurden
	for _, p := range prev {
		for _, r := range daly.Rows(p.Symptom) {
			b := PeriodBurden{DALYRow: r}
			for _, period := range decay.Periods {
				start, end := Window(period)
				b.Burden[period] = p.Diff[period] / 100 * r.Adjustment * (end - start) / 12
			}
			out = append(out, b)
		}
	}
	return out
}

// SeverityAdjustedBurden returns the total burden of totalCases cases
// given the severity split w. Each row contributes its burden in every
// window times the weight of each stratum it is flagged for. Missing
// windows contribute nothing.
func SeverityAdjustedBurden(burdens []PeriodBurden, w SeverityWeights, totalCases float64) float64 {
	var total float64
	for _, period := range decay.Periods {
		for _, s := range Severities {
			var sum float64
			for _, b := range burdens {
				if b.Flag(s) && !math.IsNaN(b.Burden[period]) {
					sum += b.Burden[period]
				}
			}
			total += sum * w.Weight(s) * totalCases
		}
	}
	return total
}
