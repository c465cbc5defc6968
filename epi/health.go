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

// Package epi holds a collection of functions for calculating the disease
// burden of persistent post-infection symptoms in disability-adjusted
// life years (DALYs).
package epi

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrMissingMapping is returned when a symptom has no DALY table rows.
var ErrMissingMapping = errors.New("epi: no DALY mapping for symptom")

// Severity is a severity stratum.
type Severity int

// The severity strata.
const (
	Mild Severity = iota
	Moderate
	Severe
)

// NumSeverities is the number of severity strata.
const NumSeverities = 3

// Severities lists the severity strata in order.
var Severities = [NumSeverities]Severity{Mild, Moderate, Severe}

func (s Severity) String() string {
	switch s {
	case Mild:
		return "mild"
	case Moderate:
		return "moderate"
	case Severe:
		return "severe"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// DALYRow maps a symptom to a health state. A symptom may have several
// rows, each flagged for the severity strata it applies to.
type DALYRow struct {
	Symptom string

	// Adjustment is the disability weight of the health state, in DALYs
	// per person-year.
	Adjustment float64

	// Mild, Moderate, and Severe flag the severity strata the row
	// applies to.
	Mild, Moderate, Severe bool
}

// Flag reports whether the row applies to severity s.
func (r DALYRow) Flag(s Severity) bool {
	switch s {
	case Mild:
		return r.Mild
	case Moderate:
		return r.Moderate
	case Severe:
		return r.Severe
	default:
		return false
	}
}

// DALYTable holds DALY rows for a set of symptoms.
type DALYTable []DALYRow

// Rows returns the rows for symptom s, in table order.
func (t DALYTable) Rows(s string) []DALYRow {
	var rows []DALYRow
	for _, r := range t {
		if r.Symptom == s {
			rows = append(rows, r)
		}
	}
	return rows
}

// Symptoms returns the distinct symptom names in the table in lexical
// order.
func (t DALYTable) Symptoms() []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range t {
		if !seen[r.Symptom] {
			seen[r.Symptom] = true
			names = append(names, r.Symptom)
		}
	}
	sort.Strings(names)
	return names
}

// Validate checks that every row has a symptom name and a finite,
// non-negative adjustment.
func (t DALYTable) Validate() error {
	for i, r := range t {
		if r.Symptom == "" {
			return fmt.Errorf("epi: DALY row %d has no symptom", i)
		}
		if !(r.Adjustment >= 0) || math.IsInf(r.Adjustment, 0) {
			return fmt.Errorf("epi: DALY row %d (%s): adjustment=%g but should be finite and >=0",
				i, r.Symptom, r.Adjustment)
		}
	}
	return nil
}

// WeightedAdjustment returns the severity-weighted DALY adjustment of
// symptom s: the sum over its rows of the row adjustment times the total
// weight of the strata the row is flagged for. It returns an error
// wrapping ErrMissingMapping if s has no rows.
func (t DALYTable) WeightedAdjustment(s string, w SeverityWeights) (float64, error) {
	rows := t.Rows(s)
	if len(rows) == 0 {
		return 0, fmt.Errorf("%w %q", ErrMissingMapping, s)
	}
	return WeightedAdjustment(rows, w), nil
}

// WeightedAdjustment returns the sum over rows of the row adjustment times
// the total weight of the strata the row is flagged for.
func WeightedAdjustment(rows []DALYRow, w SeverityWeights) float64 {
	var sum float64
	for _, r := range rows {
		var p float64
		for _, s := range Severities {
			if r.Flag(s) {
				p += w.Weight(s)
			}
		}
		sum += r.Adjustment * p
	}
	return sum
}

// SeverityWeights holds the fraction of cases in each severity stratum.
type SeverityWeights struct {
	Mild, Moderate, Severe float64
}

// Weight returns the weight of stratum s.
func (w SeverityWeights) Weight(s Severity) float64 {
	switch s {
	case Mild:
		return w.Mild
	case Moderate:
		return w.Moderate
	case Severe:
		return w.Severe
	default:
		return 0
	}
}

// Sum returns the total weight.
func (w SeverityWeights) Sum() float64 {
	return w.Mild + w.Moderate + w.Severe
}

// Normalized reports whether the weights sum to one, to within the
// rounding of published fractions.
func (w SeverityWeights) Normalized() bool {
	return math.Abs(w.Sum()-1) <= 1e-3
}

// Validate checks that every weight is finite and non-negative.
func (w SeverityWeights) Validate() error {
	for _, s := range Severities {
		v := w.Weight(s)
		if !(v >= 0) || math.IsInf(v, 0) {
			return fmt.Errorf("epi: %s severity weight=%g but should be finite and >=0", s, v)
		}
	}
	return nil
}

// Severity scenarios assuming that every case falls in a single stratum.
var (
	AllMild     = SeverityWeights{Mild: 1}
	AllModerate = SeverityWeights{Moderate: 1}
	AllSevere   = SeverityWeights{Severe: 1}
)

// Viv is the severity split of the Viv scenario.
var Viv = SeverityWeights{Mild: 0.9199, Moderate: 0.0714, Severe: 0.0088}

// Raddad is the severity split of the Raddad scenario, in which nearly all
// cases are mild.
var Raddad = SeverityWeights{Mild: 0.9975, Moderate: 0.0023, Severe: 0.0002}

// Robinson is the severity split of the Robinson scenario.
var Robinson = SeverityWeights{Mild: 0.94, Moderate: 0.047, Severe: 0.013}

// Scenarios holds the named severity presets.
var Scenarios = map[string]SeverityWeights{
	"Mild":     AllMild,
	"Moderate": AllModerate,
	"Severe":   AllSevere,
	"Viv":      Viv,
	"Raddad":   Raddad,
	"Robinson": Robinson,
}

// ScenarioNames lists the keys of Scenarios in presentation order.
var ScenarioNames = []string{"Mild", "Moderate", "Severe", "Viv", "Raddad", "Robinson"}
