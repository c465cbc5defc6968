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

package params

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/tealeg/xlsx"
)

// Set holds model inputs by name.
type Set map[string]Dist

// Descriptions holds a description of each input of the population model
// that drives case counts, in presentation order.
var Descriptions = []Description{
	{"size", "Total population size"},
	{"baseline_risk", "Baseline risk of persistent symptoms"},
	{"infection_rate", "Weekly infection rate"},
	{"strain_reduction_factor", "Reduction factor for new strains"},
	{"total_strains", "Number of distinct strains"},
	{"current_strain", "Current strain"},
	{"strain_decay", "Half-life of strain relative prevalence"},
	{"initial_vaccination_distribution", "Initial distribution of number of vaccinations per person"},
	{"vaccination_reduction", "Peak effectiveness of vaccination (against persistent symptoms, conditional on infection)"},
	{"vaccination_interval", "Minimum interval between vaccinations"},
	{"vaccination_effectiveness_halflife", "Half-life of vaccination effectiveness"},
	{"vaccination_hazard_rate", "Hazard rate of receiving vaccination"},
	{"aor_value", "AOR value"},
	{"annual_cases", "Annual number of infections"},
}

// Description describes one input.
type Description struct {
	Name, Text string
}

// Describe returns the description of input name.
func Describe(name string) string {
	for _, d := range Descriptions {
		if d.Name == name {
			return d.Text
		}
	}
	return "No description available"
}

// Defaults returns the mainline scenario inputs.
func Defaults() Set {
	cases, err := To(7e6, 40e6, 99)
	if err != nil {
		panic(err)
	}
	return Set{
		"size":                               Value(330000),
		"baseline_risk":                      Norm(0.15, 0.01),
		"infection_rate":                     Norm(19.0/330/52, 0.0001),
		"strain_reduction_factor":            Norm(0.6, 0.1),
		"total_strains":                      Value(10),
		"current_strain":                     Value(1),
		"strain_decay":                       Value(50),
		"initial_vaccination_distribution":   Categorical(map[int]float64{0: 0.2, 1: 0.2, 2: 0.3, 3: 0.2, 4: 0.1}),
		"vaccination_reduction":              BetaDist(100*0.25, 100*(1-0.25)),
		"vaccination_interval":               Value(180),
		"vaccination_effectiveness_halflife": Norm(235, 30),
		"vaccination_hazard_rate":            BetaDist(1000*0.01, 1000*(1-0.01)),
		"aor_value":                          BetaDist(100*0.72, 100*(1-0.72)),
		"annual_cases":                       cases,
	}
}

// Pessimistic returns the overrides of the pessimistic scenario.
func Pessimistic() Set {
	return Set{
		"infection_rate": Value(25.0 / 330 / 52),
	}
}

// Merge returns the inputs of defaults with those in overrides replacing
// them. Neither argument is modified.
func Merge(defaults, overrides Set) Set {
	out := make(Set, len(defaults)+len(overrides))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// ComparisonTable returns a table comparing the inputs of a mainline
// scenario with those of another scenario that overrides some of them.
// The first row holds the column names. There is one row per entry in
// Descriptions; inputs missing from both scenarios are shown as N/A.
func ComparisonTable(mainline, scenario Set, scenarioName string) [][]string {
	merged := Merge(mainline, scenario)
	format := func(s Set, name string) string {
		if d, ok := s[name]; ok {
			return d.Format()
		}
		return "N/A"
	}
	rows := [][]string{{"Parameter", "Description", "Mainline", scenarioName}}
	for _, d := range Descriptions {
		rows = append(rows, []string{d.Name, d.Text, format(mainline, d.Name), format(merged, d.Name)})
	}
	return rows
}

// WriteTable writes rows to w as aligned text columns.
func WriteTable(w io.Writer, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range rows {
		if _, err := fmt.Fprintln(tw, strings.Join(r, "\t")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// WriteXLSX writes rows to w as a spreadsheet with a single sheet.
func WriteXLSX(w io.Writer, sheetName string, rows [][]string) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return fmt.Errorf("params: %w", err)
	}
	for _, r := range rows {
		row := sheet.AddRow()
		for _, v := range r {
			row.AddCell().SetString(v)
		}
	}
	return f.Write(w)
}
