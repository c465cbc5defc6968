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
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/kr/pretty"
)

var testTable = PrevalenceTable{
	{Symptom: "fatigue", Diff: [3]float64{12, 8, 5}},
	{Symptom: "cough", Diff: [3]float64{6, math.NaN(), 1}},
	{Symptom: "anosmia", Diff: [3]float64{9, 4, 2}},
}

func TestReshape(t *testing.T) {
	obs, err := Reshape(testTable)
	if err != nil {
		t.Fatal(err)
	}
	want := &Observations{
		Time:       []float64{6, 6, 6, 12, 12, 18, 18, 18},
		Prevalence: []float64{0.12, 0.06, 0.09, 0.08, 0.04, 0.05, 0.01, 0.02},
		Symptom:    []int{2, 1, 0, 2, 0, 2, 1, 0},
		Period: []Period{SixMonth, SixMonth, SixMonth, TwelveMonth, TwelveMonth,
			EighteenMonth, EighteenMonth, EighteenMonth},
		Symptoms: []string{"anosmia", "cough", "fatigue"},
		Missing:  1,
	}
	if diff := pretty.Diff(obs, want); len(diff) != 0 {
		t.Error(diff)
	}
	if obs.Len() != 3*len(testTable)-obs.Missing {
		t.Errorf("%d observations", obs.Len())
	}
}

// Reshaping twice gives the same result, and reordering the table rows
// does not change the symptom codes.
func TestReshapeStable(t *testing.T) {
	a, err := Reshape(testTable)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Reshape(testTable)
	if err != nil {
		t.Fatal(err)
	}
	if diff := pretty.Diff(a, b); len(diff) != 0 {
		t.Error(diff)
	}
	reversed := PrevalenceTable{testTable[2], testTable[1], testTable[0]}
	c, err := Reshape(reversed)
	if err != nil {
		t.Fatal(err)
	}
	if diff := pretty.Diff(a.Symptoms, c.Symptoms); len(diff) != 0 {
		t.Error(diff)
	}
	if c.Symptom[0] != 0 {
		t.Errorf("anosmia should have code 0, got %d", c.Symptom[0])
	}
}

func TestSymptomIndexReshape(t *testing.T) {
	idx := NewSymptomIndex([]string{"fatigue", "cough", "anosmia", "dyspnea"})
	obs, err := idx.Reshape(testTable[:1])
	if err != nil {
		t.Fatal(err)
	}
	if len(obs.Symptoms) != 4 || obs.Symptom[0] != 3 {
		t.Errorf("symptoms %v codes %v", obs.Symptoms, obs.Symptom)
	}
	if i, ok := idx.Index("dyspnea"); !ok || i != 2 {
		t.Errorf("dyspnea: %d %v", i, ok)
	}
	_, err = NewSymptomIndex([]string{"cough"}).Reshape(testTable)
	if !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("error %v should wrap ErrShapeMismatch", err)
	}
}

func TestParsePercent(t *testing.T) {
	for _, test := range []struct {
		in  interface{}
		out float64
	}{
		{in: "12.5", out: 12.5},
		{in: " 3 ", out: 3},
		{in: 7, out: 7},
		{in: 2.25, out: 2.25},
		{in: "", out: math.NaN()},
		{in: "n/a", out: math.NaN()},
		{in: nil, out: math.NaN()},
	} {
		t.Run(fmt.Sprint(test.in), func(t *testing.T) {
			have := ParsePercent(test.in)
			if math.IsNaN(test.out) {
				if !math.IsNaN(have) {
					t.Errorf("%g, want NaN", have)
				}
				return
			}
			if have != test.out {
				t.Errorf("%g, want %g", have, test.out)
			}
		})
	}
}

func TestPeriod(t *testing.T) {
	for _, test := range []struct {
		p      Period
		months float64
		column string
	}{
		{SixMonth, 6, "prevalence_diff_6m"},
		{TwelveMonth, 12, "prevalence_diff_12m"},
		{EighteenMonth, 18, "prevalence_diff_18m"},
	} {
		if test.p.Months() != test.months || test.p.Column() != test.column {
			t.Errorf("%v: %g %s", test.p, test.p.Months(), test.p.Column())
		}
	}
	if EighteenMonth.String() != "18m" {
		t.Error(EighteenMonth.String())
	}
}
