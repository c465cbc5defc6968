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
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kr/pretty"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spatialmodel/longburden/burden"
	"github.com/spatialmodel/longburden/decay"
	"github.com/spatialmodel/longburden/epi"
	"github.com/spatialmodel/longburden/mcmc"
)

var testTable = decay.PrevalenceTable{
	{Symptom: "fatigue", Diff: [3]float64{12, 8, 5}},
	{Symptom: "cough", Diff: [3]float64{6, math.NaN(), 1}},
}

var testDALY = epi.DALYTable{
	{Symptom: "cough", Adjustment: 0.1, Mild: true, Moderate: true, Severe: true},
	{Symptom: "fatigue", Adjustment: 0.2, Mild: true, Moderate: true, Severe: true},
}

// smallSampler returns sampler settings that run quickly but are far too
// short to pass the convergence checks.
func smallSampler() mcmc.Config {
	log, _ := test.NewNullLogger()
	return mcmc.Config{Draws: 20, Tune: 20, Chains: 2, TargetAccept: 0.9, MaxTreeDepth: 6, Seed: 1, Log: log}
}

func TestDefaults(t *testing.T) {
	cfg := InitializeConfig()
	if err := cfg.Parse(nil); err != nil {
		t.Fatal(err)
	}
	h, err := HyperpriorConfig(cfg.Viper)
	if err != nil {
		t.Fatal(err)
	}
	if diff := pretty.Diff(h, decay.DefaultHyperpriors()); len(diff) != 0 {
		t.Errorf("hyperpriors: %v", diff)
	}
	log, _ := test.NewNullLogger()
	sc, err := SamplerConfig(cfg.Viper, log)
	if err != nil {
		t.Fatal(err)
	}
	want := mcmc.DefaultConfig()
	want.Log = log
	if diff := pretty.Diff(sc, want); len(diff) != 0 {
		t.Errorf("sampler: %v", diff)
	}
	bc, err := BurdenConfig(cfg.Viper, log)
	if err != nil {
		t.Fatal(err)
	}
	wantBurden := burden.DefaultConfig()
	wantBurden.Log = log
	if diff := pretty.Diff(bc, wantBurden); len(diff) != 0 {
		t.Errorf("burden: %v", diff)
	}
}

func TestFlags(t *testing.T) {
	cfg := InitializeConfig()
	err := cfg.Parse([]string{
		"--Sampler.Draws=250",
		"--Hyperpriors.NonCentered",
		"--Burden.Severity=Viv",
		`--Burden.SeverityWeights={"Severe": 0.5}`,
	})
	if err != nil {
		t.Fatal(err)
	}
	log, _ := test.NewNullLogger()
	sc, err := SamplerConfig(cfg.Viper, log)
	if err != nil {
		t.Fatal(err)
	}
	if sc.Draws != 250 {
		t.Errorf("Draws=%d", sc.Draws)
	}
	h, err := HyperpriorConfig(cfg.Viper)
	if err != nil {
		t.Fatal(err)
	}
	if !h.NonCentered {
		t.Error("NonCentered should be set")
	}
	bc, err := BurdenConfig(cfg.Viper, log)
	if err != nil {
		t.Fatal(err)
	}
	want := epi.SeverityWeights{Mild: epi.Viv.Mild, Moderate: epi.Viv.Moderate, Severe: 0.5}
	if bc.Weights != want {
		t.Errorf("weights %+v, want %+v", bc.Weights, want)
	}
}

func TestEnv(t *testing.T) {
	os.Setenv("LONGBURDEN_SAMPLER_CHAINS", "7")
	defer os.Unsetenv("LONGBURDEN_SAMPLER_CHAINS")
	cfg := InitializeConfig()
	if err := cfg.Parse(nil); err != nil {
		t.Fatal(err)
	}
	sc, err := SamplerConfig(cfg.Viper, nil)
	if err != nil {
		t.Fatal(err)
	}
	if sc.Chains != 7 {
		t.Errorf("Chains=%d", sc.Chains)
	}
}

func TestConfigFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "longburden_config")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	scenarios := filepath.Join(dir, "scenarios.toml")
	err = ioutil.WriteFile(scenarios, []byte(`
[Scenarios.Hospitalized]
Mild = 0.2
Moderate = 0.5
Severe = 0.3
`), 0644)
	if err != nil {
		t.Fatal(err)
	}
	config := filepath.Join(dir, "config.toml")
	err = ioutil.WriteFile(config, []byte(`
[Burden]
NumSamples = 100
Severity = "Hospitalized"
ScenarioFile = "`+filepath.ToSlash(scenarios)+`"
`), 0644)
	if err != nil {
		t.Fatal(err)
	}

	cfg := InitializeConfig()
	if err := cfg.Parse([]string{"--config=" + config}); err != nil {
		t.Fatal(err)
	}
	bc, err := BurdenConfig(cfg.Viper, nil)
	if err != nil {
		t.Fatal(err)
	}
	if bc.NumSamples != 100 {
		t.Errorf("NumSamples=%d", bc.NumSamples)
	}
	want := epi.SeverityWeights{Mild: 0.2, Moderate: 0.5, Severe: 0.3}
	if bc.Weights != want {
		t.Errorf("weights %+v, want %+v", bc.Weights, want)
	}
}

func TestConfigErrors(t *testing.T) {
	for _, test := range []struct {
		name string
		args []string
		err  error
	}{
		{name: "hyperprior", args: []string{"--Hyperpriors.BaselineBetaVar=0"}, err: decay.ErrInvalidParameterization},
		{name: "prior var", args: []string{"--Hyperpriors.DecayRatePriorVar=-1"}, err: decay.ErrInvalidParameterization},
		{name: "target accept", args: []string{"--Sampler.TargetAccept=1"}},
		{name: "chains", args: []string{"--Sampler.Chains=0"}},
		{name: "scenario", args: []string{"--Burden.Severity=Unknown"}},
		{name: "weight key", args: []string{`--Burden.SeverityWeights={"Critical": 0.1}`}},
		{name: "weight value", args: []string{`--Burden.SeverityWeights={"Mild": "lots"}`}},
		{name: "negative weight", args: []string{`--Burden.SeverityWeights={"Mild": -1}`}},
		{name: "scenario file", args: []string{"--Burden.ScenarioFile=does_not_exist.toml"}},
	} {
		t.Run(test.name, func(t *testing.T) {
			cfg := InitializeConfig()
			if err := cfg.Parse(test.args); err != nil {
				t.Fatal(err)
			}
			var err error
			if _, err = HyperpriorConfig(cfg.Viper); err == nil {
				if _, err = SamplerConfig(cfg.Viper, nil); err == nil {
					_, err = BurdenConfig(cfg.Viper, nil)
				}
			}
			if err == nil {
				t.Fatal("expected an error")
			}
			if test.err != nil && !errors.Is(err, test.err) {
				t.Errorf("error %v should wrap %v", err, test.err)
			}
		})
	}
}

func TestLoadScenarios(t *testing.T) {
	s, err := LoadScenarios(strings.NewReader(`
[Scenarios.Viv]
Mild = 0.5
Moderate = 0.5

[Scenarios.Custom]
Severe = 1.0
`))
	if err != nil {
		t.Fatal(err)
	}
	if len(s) != len(epi.Scenarios)+1 {
		t.Errorf("%d scenarios", len(s))
	}
	if s["Viv"] != (epi.SeverityWeights{Mild: 0.5, Moderate: 0.5}) {
		t.Errorf("Viv should be replaced: %+v", s["Viv"])
	}
	if s["Custom"] != epi.AllSevere || s["Robinson"] != epi.Robinson {
		t.Error("missing scenarios")
	}
	if epi.Scenarios["Viv"] != epi.Viv {
		t.Error("built-in scenarios should not be modified")
	}

	for name, in := range map[string]string{
		"syntax":   `[Scenarios.X`,
		"unknown":  "[Scenarios.X]\nCritical = 1\n",
		"negative": "[Scenarios.X]\nMild = -0.5\n",
	} {
		if _, err := LoadScenarios(strings.NewReader(in)); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestFitterCache(t *testing.T) {
	log, _ := test.NewNullLogger()
	f := NewFitter(2, log)
	r := FitRequest{Table: testTable, Hyperpriors: decay.DefaultHyperpriors(), Sampler: smallSampler()}
	a, err := f.Fit(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}
	b, err := f.Fit(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("identical requests should return the cached posterior")
	}
	r.Sampler.Seed = 2
	c, err := f.Fit(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}
	if c == a {
		t.Error("a different seed should give a new fit")
	}
	if a.Len() != 40 || len(a.Symptoms) != 2 {
		t.Errorf("posterior has %d draws of %d symptoms", a.Len(), len(a.Symptoms))
	}
}

func TestFitterInvalid(t *testing.T) {
	log, _ := test.NewNullLogger()
	h := decay.DefaultHyperpriors()
	h.BaselineAlphaVar = -1
	_, err := NewFitter(1, log).Fit(context.Background(),
		FitRequest{Table: testTable, Hyperpriors: h, Sampler: smallSampler()})
	if !errors.Is(err, decay.ErrInvalidParameterization) {
		t.Errorf("error %v should wrap ErrInvalidParameterization", err)
	}
}

func TestFitWarnsUnobserved(t *testing.T) {
	log, hook := test.NewNullLogger()
	nan := math.NaN()
	table := append(decay.PrevalenceTable{{Symptom: "dyspnea", Diff: [3]float64{nan, nan, nan}}}, testTable...)
	p, err := NewFitter(1, log).Fit(context.Background(),
		FitRequest{Table: table, Hyperpriors: decay.DefaultHyperpriors(), Sampler: smallSampler()})
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Symptoms) != 3 {
		t.Errorf("symptoms: %v", p.Symptoms)
	}
	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["symptom"] == "dyspnea" {
			warned = true
		}
	}
	if !warned {
		t.Error("no warning for the symptom without observations")
	}
}

func TestFitUntilConverged(t *testing.T) {
	log, hook := test.NewNullLogger()
	f := NewFitter(4, log)
	r := FitRequest{Table: testTable, Hyperpriors: decay.DefaultHyperpriors(), Sampler: smallSampler()}
	post, err := FitUntilConverged(context.Background(), f, r, 3)
	if !errors.Is(err, ErrNotConverged) {
		t.Fatalf("error %v should wrap ErrNotConverged", err)
	}
	if post == nil {
		t.Fatal("the last posterior should be returned")
	}
	var retries int
	for _, e := range hook.AllEntries() {
		if strings.Contains(e.Message, "retrying") {
			retries++
		}
	}
	if retries != 2 {
		t.Errorf("%d retries, want 2", retries)
	}
	if !strings.Contains(err.Error(), "after 3 attempt(s)") {
		t.Error(err)
	}

	if _, err := FitUntilConverged(context.Background(), f, r, 0); err == nil {
		t.Error("expected an error for zero attempts")
	}
}

func TestFitUntilConvergedCancel(t *testing.T) {
	log, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := FitRequest{Table: testTable, Hyperpriors: decay.DefaultHyperpriors(), Sampler: smallSampler()}
	post, err := FitUntilConverged(ctx, NewFitter(1, log), r, 3)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error %v should wrap context.Canceled", err)
	}
	if post != nil {
		t.Error("no posterior should be returned")
	}
}

func TestRun(t *testing.T) {
	dir, err := ioutil.TempDir("", "longburden_run")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	cfg := InitializeConfig()
	err = cfg.Parse([]string{
		"--Sampler.Draws=20",
		"--Sampler.Tune=20",
		"--Sampler.Chains=2",
		"--Sampler.TargetAccept=0.9",
		"--Sampler.MaxTreeDepth=6",
		"--Burden.NumSamples=40",
		"--Burden.Severity=Robinson",
		"--OutputDir=" + dir,
	})
	if err != nil {
		t.Fatal(err)
	}
	log, _ := test.NewNullLogger()
	r, err := Run(context.Background(), cfg, NewFitter(1, log), testTable, testDALY, nil)
	if !errors.Is(err, ErrNotConverged) {
		t.Fatalf("error %v should wrap ErrNotConverged", err)
	}
	if r == nil || r.Posterior == nil {
		t.Fatal("missing result")
	}
	total := r.Burden[burden.Total]
	if len(total) != 40 {
		t.Fatalf("%d total burden draws", len(total))
	}
	for i, v := range total {
		if diff := v - r.Burden["cough"][i] - r.Burden["fatigue"][i]; math.Abs(diff) > 1e-6*v {
			t.Errorf("draw %d: total %g is not the sum of symptoms", i, v)
		}
		if !(v > 0) {
			t.Errorf("draw %d: total %g", i, v)
		}
	}
	// Decay and prior figures for both symptoms plus histograms of both
	// symptoms and the total.
	if len(r.Figures) != 7 {
		t.Errorf("figures: %v", r.Figures)
	}
	for _, name := range []string{"prior_cough.png", "prior_fatigue.png"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Error(err)
		}
	}
}

func TestAnnualCases(t *testing.T) {
	c, err := AnnualCases(1000, 1)
	if err != nil {
		t.Fatal(err)
	}
	var below, above int
	for _, v := range c {
		if v < 7e6 {
			below++
		}
		if v > 40e6 {
			above++
		}
	}
	// 99% of draws fall within the credible interval.
	if below+above > 30 {
		t.Errorf("%d draws below and %d above the credible interval", below, above)
	}
}
