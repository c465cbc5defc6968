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
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spatialmodel/longburden/epi"
)

// LoadScenarios reads severity scenarios in TOML format from r, for
// example:
//
//	[Scenarios.Hospitalized]
//	Mild = 0.2
//	Moderate = 0.5
//	Severe = 0.3
//
// The returned map holds the built-in scenarios of package epi together
// with the scenarios read from r, which replace built-in scenarios with
// the same name.
func LoadScenarios(r io.Reader) (map[string]epi.SeverityWeights, error) {
	var file struct {
		Scenarios map[string]epi.SeverityWeights
	}
	md, err := toml.DecodeReader(r, &file)
	if err != nil {
		return nil, fmt.Errorf("longburden: reading severity scenarios: %v", err)
	}
	if u := md.Undecoded(); len(u) > 0 {
		return nil, fmt.Errorf("longburden: unknown keys in severity scenarios: %v", u)
	}
	out := make(map[string]epi.SeverityWeights, len(epi.Scenarios)+len(file.Scenarios))
	for k, v := range epi.Scenarios {
		out[k] = v
	}
	for k, v := range file.Scenarios {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("longburden: severity scenario %q: %v", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// LoadScenarioFile reads severity scenarios from the TOML file at path.
func LoadScenarioFile(path string) (map[string]epi.SeverityWeights, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("longburden: opening severity scenario file: %v", err)
	}
	defer f.Close()
	return LoadScenarios(f)
}
