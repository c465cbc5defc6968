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
	"sort"
	"strings"

	"github.com/spf13/cast"
)

// Period is one of the follow-up windows at which prevalence differences
// are reported.
type Period int

// The follow-up windows, in the order of the prevalence table columns.
const (
	SixMonth Period = iota
	TwelveMonth
	EighteenMonth
)

// NumPeriods is the number of follow-up windows.
const NumPeriods = 3

// Periods lists the follow-up windows in column order.
var Periods = [NumPeriods]Period{SixMonth, TwelveMonth, EighteenMonth}

// Months returns the time since infection at the end of the window.
func (p Period) Months() float64 {
	switch p {
	case SixMonth:
		return 6
	case TwelveMonth:
		return 12
	case EighteenMonth:
		return 18
	default:
		panic(fmt.Errorf("decay: invalid period %d", int(p)))
	}
}

// Column returns the name of the prevalence table column for the window.
func (p Period) Column() string {
	switch p {
	case SixMonth:
		return "prevalence_diff_6m"
	case TwelveMonth:
		return "prevalence_diff_12m"
	case EighteenMonth:
		return "prevalence_diff_18m"
	default:
		panic(fmt.Errorf("decay: invalid period %d", int(p)))
	}
}

func (p Period) String() string {
	return strings.TrimPrefix(p.Column(), "prevalence_diff_")
}

// PrevalenceRow holds the prevalence differences for one symptom, as
// percentages (0–100) indexed by Period. Missing values are NaN.
type PrevalenceRow struct {
	Symptom string
	Diff    [NumPeriods]float64
}

// PrevalenceTable is a wide table with one row per symptom.
type PrevalenceTable []PrevalenceRow

// ParsePercent converts a table cell to a number. Values that cannot be
// interpreted as numbers are returned as NaN, the missing-value sentinel.
func ParsePercent(v interface{}) float64 {
	if v == nil {
		return math.NaN()
	}
	if s, ok := v.(string); ok {
		v = strings.TrimSpace(s)
		if v == "" {
			return math.NaN()
		}
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return math.NaN()
	}
	return f
}

// Observations is the long form of a PrevalenceTable, with one entry per
// non-missing (symptom, period) value.
type Observations struct {
	// Time is the number of months since infection.
	Time []float64

	// Prevalence is the prevalence difference as a proportion.
	Prevalence []float64

	// Symptom is the index of the symptom in Symptoms.
	Symptom []int

	// Period is the follow-up window of each observation.
	Period []Period

	// Symptoms holds the symptom names by index.
	Symptoms []string

	// Missing is the number of table cells that were excluded because
	// they were not numeric.
	Missing int
}

// Len returns the number of observations.
func (o *Observations) Len() int { return len(o.Time) }

// SymptomIndex assigns integer codes to symptom names in lexical order.
type SymptomIndex struct {
	names []string
	index map[string]int
}

// NewSymptomIndex returns an index over the distinct values in names.
func NewSymptomIndex(names []string) *SymptomIndex {
	idx := &SymptomIndex{index: make(map[string]int)}
	for _, n := range names {
		if _, ok := idx.index[n]; !ok {
			idx.index[n] = -1
			idx.names = append(idx.names, n)
		}
	}
	sort.Strings(idx.names)
	for i, n := range idx.names {
		idx.index[n] = i
	}
	return idx
}

// Index returns the code for symptom s.
func (idx *SymptomIndex) Index(s string) (int, bool) {
	i, ok := idx.index[s]
	return i, ok
}

// Names returns the symptom names ordered by code.
func (idx *SymptomIndex) Names() []string {
	return append([]string(nil), idx.names...)
}

// Len returns the number of symptoms in the index.
func (idx *SymptomIndex) Len() int { return len(idx.names) }

// Reshape converts t to long form using the receiver's symptom codes.
// Observations are ordered by period and then by table row. Percentages
// are converted to proportions and missing values are dropped.
func (idx *SymptomIndex) Reshape(t PrevalenceTable) (*Observations, error) {
	o := &Observations{Symptoms: idx.Names()}
	for _, p := range Periods {
		for _, row := range t {
			i, ok := idx.index[row.Symptom]
			if !ok {
				return nil, fmt.Errorf("decay: symptom %q is not in the symptom index: %w", row.Symptom, ErrShapeMismatch)
			}
			v := row.Diff[p]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				o.Missing++
				continue
			}
			o.Time = append(o.Time, p.Months())
			o.Prevalence = append(o.Prevalence, v/100)
			o.Symptom = append(o.Symptom, i)
			o.Period = append(o.Period, p)
		}
	}
	return o, nil
}

// Reshape converts t to long form, assigning symptom codes in lexical
// order of the symptom names.
func Reshape(t PrevalenceTable) (*Observations, error) {
	names := make([]string, len(t))
	for i, row := range t {
		names[i] = row.Symptom
	}
	return NewSymptomIndex(names).Reshape(t)
}
