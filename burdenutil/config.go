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

// Package burdenutil contains utilities for configuring and running
// LongBurden decay fits and burden calculations.
package burdenutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/longburden/burden"
	"github.com/spatialmodel/longburden/decay"
	"github.com/spatialmodel/longburden/epi"
	"github.com/spatialmodel/longburden/mcmc"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
type Cfg struct {
	*viper.Viper

	// Flags holds the command-line flags for each configuration option.
	Flags *pflag.FlagSet
}

type option struct {
	name, usage, shorthand string
	defaultVal             interface{}
}

// options are the configuration options available to LongBurden.
var options = []option{
	{
		name: "config",
		usage: `
              config specifies the configuration file location.`,
		defaultVal: "",
	},
	{
		name: "OutputDir",
		usage: `
              OutputDir is the directory where figures are written. If it
              is empty, no figures are written.`,
		shorthand:  "o",
		defaultVal: "",
	},
	{
		name: "Hyperpriors.BaselineAlphaMean",
		usage: `
              Hyperpriors.BaselineAlphaMean is the mean of the Gamma
              hyperprior on the first shape parameter of the baseline
              prevalence Beta prior.`,
		defaultVal: 1.0,
	},
	{
		name: "Hyperpriors.BaselineAlphaVar",
		usage: `
              Hyperpriors.BaselineAlphaVar is the variance of the Gamma
              hyperprior on the first shape parameter of the baseline
              prevalence Beta prior.`,
		defaultVal: 3.0,
	},
	{
		name: "Hyperpriors.BaselineBetaMean",
		usage: `
              Hyperpriors.BaselineBetaMean is the mean of the Gamma
              hyperprior on the second shape parameter of the baseline
              prevalence Beta prior.`,
		defaultVal: 50.0,
	},
	{
		name: "Hyperpriors.BaselineBetaVar",
		usage: `
              Hyperpriors.BaselineBetaVar is the variance of the Gamma
              hyperprior on the second shape parameter of the baseline
              prevalence Beta prior.`,
		defaultVal: 10.0,
	},
	{
		name: "Hyperpriors.DecayRateAlphaMean",
		usage: `
              Hyperpriors.DecayRateAlphaMean is the mean of the Gamma
              hyperprior on the shape of the decay rate prior.`,
		defaultVal: 1.0,
	},
	{
		name: "Hyperpriors.DecayRateAlphaVar",
		usage: `
              Hyperpriors.DecayRateAlphaVar is the variance of the Gamma
              hyperprior on the shape of the decay rate prior.`,
		defaultVal: 10.0,
	},
	{
		name: "Hyperpriors.DecayRatePriorVar",
		usage: `
              Hyperpriors.DecayRatePriorVar is the inverse of the rate
              parameter of the decay rate Gamma prior.`,
		defaultVal: 10.0,
	},
	{
		name: "Hyperpriors.NonCentered",
		usage: `
              Hyperpriors.NonCentered specifies whether to sample the
              hyperpriors as standard normal offsets rather than directly.`,
		defaultVal: false,
	},
	{
		name: "Sampler.Draws",
		usage: `
              Sampler.Draws is the number of retained draws per chain.`,
		defaultVal: 1000,
	},
	{
		name: "Sampler.Tune",
		usage: `
              Sampler.Tune is the number of adaptation steps per chain.`,
		defaultVal: 500,
	},
	{
		name: "Sampler.Chains",
		usage: `
              Sampler.Chains is the number of chains, which are run
              concurrently.`,
		defaultVal: 4,
	},
	{
		name: "Sampler.TargetAccept",
		usage: `
              Sampler.TargetAccept is the mean acceptance statistic
              targeted by step size adaptation.`,
		defaultVal: 0.99,
	},
	{
		name: "Sampler.MaxTreeDepth",
		usage: `
              Sampler.MaxTreeDepth is the maximum number of trajectory
              doublings per iteration.`,
		defaultVal: 10,
	},
	{
		name: "Sampler.Seed",
		usage: `
              Sampler.Seed seeds the random number generators.`,
		defaultVal: 1,
	},
	{
		name: "Sampler.MaxAttempts",
		usage: `
              Sampler.MaxAttempts is the number of times a fit is attempted
              before giving up on convergence. Each new attempt doubles the
              number of tuning steps and uses a different seed.`,
		defaultVal: 1,
	},
	{
		name: "Burden.NumSamples",
		usage: `
              Burden.NumSamples is the number of posterior draws to use
              in the burden calculation.`,
		defaultVal: 3000,
	},
	{
		name: "Burden.MaxTime",
		usage: `
              Burden.MaxTime is the number of months after infection
              over which symptom prevalence is integrated.`,
		defaultVal: 36.0,
	},
	{
		name: "Burden.Severity",
		usage: `
              Burden.Severity is the name of the severity scenario to use.
              Built-in scenarios are Mild, Moderate, Severe, Viv, Raddad,
              and Robinson. Additional scenarios can be defined in
              Burden.ScenarioFile.`,
		defaultVal: "Mild",
	},
	{
		name: "Burden.ScenarioFile",
		usage: `
              Burden.ScenarioFile is the path to an optional TOML file
              holding severity scenarios.`,
		defaultVal: "",
	},
	{
		name: "Burden.SeverityWeights",
		usage: `
              Burden.SeverityWeights overrides the weights of the selected
              severity scenario. It should be a JSON object with any of
              the keys Mild, Moderate, and Severe.`,
		defaultVal: map[string]string{},
	},
	{
		name: "Burden.Strict",
		usage: `
              Burden.Strict specifies whether DALY table symptoms that were
              not fit are an error.`,
		defaultVal: false,
	},
}

// InitializeConfig returns a configuration with every option registered as
// a flag and bound to the flag, to environment variables with the prefix
// LONGBURDEN_ (for example LONGBURDEN_SAMPLER_DRAWS), and to an optional
// configuration file.
func InitializeConfig() *Cfg {
	cfg := &Cfg{
		Viper: viper.New(),
		Flags: pflag.NewFlagSet("longburden", pflag.ContinueOnError),
	}

	// Set the prefix for configuration environment variables.
	cfg.SetEnvPrefix("LONGBURDEN")
	cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cfg.AutomaticEnv()

	set := cfg.Flags
	for _, option := range options {
		switch option.defaultVal.(type) {
		case string:
			if option.shorthand == "" {
				set.String(option.name, option.defaultVal.(string), option.usage)
			} else {
				set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
			}
		case bool:
			set.Bool(option.name, option.defaultVal.(bool), option.usage)
		case int:
			set.Int(option.name, option.defaultVal.(int), option.usage)
		case float64:
			set.Float64(option.name, option.defaultVal.(float64), option.usage)
		case map[string]string:
			b := bytes.NewBuffer(nil)
			e := json.NewEncoder(b)
			e.Encode(option.defaultVal)
			set.String(option.name, strings.TrimSpace(b.String()), option.usage)
		default:
			panic("invalid argument type")
		}
		cfg.BindPFlag(option.name, set.Lookup(option.name))
	}
	return cfg
}

// Parse parses command-line arguments and then reads the configuration
// file, if one was specified.
func (cfg *Cfg) Parse(args []string) error {
	if err := cfg.Flags.Parse(args); err != nil {
		return fmt.Errorf("longburden: parsing arguments: %v", err)
	}
	return cfg.setConfig()
}

// setConfig finds and reads in the configuration file, if there is one.
func (cfg *Cfg) setConfig() error {
	if cfgpath := cfg.GetString("config"); cfgpath != "" {
		cfg.SetConfigFile(os.ExpandEnv(cfgpath))
		if err := cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("longburden: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// HyperpriorConfig returns the hyperprior settings held in cfg.
// The settings are checked for validity.
func HyperpriorConfig(cfg *viper.Viper) (decay.Hyperpriors, error) {
	h := decay.Hyperpriors{
		BaselineAlphaMean:  cfg.GetFloat64("Hyperpriors.BaselineAlphaMean"),
		BaselineAlphaVar:   cfg.GetFloat64("Hyperpriors.BaselineAlphaVar"),
		BaselineBetaMean:   cfg.GetFloat64("Hyperpriors.BaselineBetaMean"),
		BaselineBetaVar:    cfg.GetFloat64("Hyperpriors.BaselineBetaVar"),
		DecayRateAlphaMean: cfg.GetFloat64("Hyperpriors.DecayRateAlphaMean"),
		DecayRateAlphaVar:  cfg.GetFloat64("Hyperpriors.DecayRateAlphaVar"),
		DecayRatePriorVar:  cfg.GetFloat64("Hyperpriors.DecayRatePriorVar"),
		NonCentered:        cfg.GetBool("Hyperpriors.NonCentered"),
	}
	for _, p := range []struct {
		name           string
		mean, variance float64
	}{
		{"BaselineAlpha", h.BaselineAlphaMean, h.BaselineAlphaVar},
		{"BaselineBeta", h.BaselineBetaMean, h.BaselineBetaVar},
		{"DecayRateAlpha", h.DecayRateAlphaMean, h.DecayRateAlphaVar},
	} {
		if _, _, err := decay.GammaParams(p.mean, p.variance); err != nil {
			return h, fmt.Errorf("longburden: Hyperpriors.%s: %w", p.name, err)
		}
	}
	if !(h.DecayRatePriorVar > 0) {
		return h, fmt.Errorf("longburden: Hyperpriors.DecayRatePriorVar=%g but should be >0: %w",
			h.DecayRatePriorVar, decay.ErrInvalidParameterization)
	}
	return h, nil
}

// SamplerConfig returns the sampler settings held in cfg. Messages are
// logged to log.
func SamplerConfig(cfg *viper.Viper, log logrus.FieldLogger) (mcmc.Config, error) {
	c := mcmc.Config{
		Draws:        cfg.GetInt("Sampler.Draws"),
		Tune:         cfg.GetInt("Sampler.Tune"),
		Chains:       cfg.GetInt("Sampler.Chains"),
		TargetAccept: cfg.GetFloat64("Sampler.TargetAccept"),
		MaxTreeDepth: cfg.GetInt("Sampler.MaxTreeDepth"),
		Log:          log,
	}
	seed, err := cast.ToUint64E(cfg.Get("Sampler.Seed"))
	if err != nil {
		return c, fmt.Errorf("longburden: Sampler.Seed: %v", err)
	}
	c.Seed = seed
	if c.Draws < 1 || c.Chains < 1 || c.Tune < 0 {
		return c, fmt.Errorf("longburden: invalid sampler size: Draws=%d, Tune=%d, Chains=%d",
			c.Draws, c.Tune, c.Chains)
	}
	if !(c.TargetAccept > 0 && c.TargetAccept < 1) {
		return c, fmt.Errorf("longburden: Sampler.TargetAccept=%g but should be in (0, 1)", c.TargetAccept)
	}
	return c, nil
}

// BurdenConfig returns the burden calculation settings held in cfg.
// The severity weights come from the scenario named by Burden.Severity,
// looked up among the built-in scenarios and any in Burden.ScenarioFile,
// with individual weights overridden by Burden.SeverityWeights.
func BurdenConfig(cfg *viper.Viper, log logrus.FieldLogger) (burden.Config, error) {
	c := burden.Config{
		NumSamples: cfg.GetInt("Burden.NumSamples"),
		MaxTime:    cfg.GetFloat64("Burden.MaxTime"),
		Strict:     cfg.GetBool("Burden.Strict"),
		Log:        log,
	}
	scenarios := epi.Scenarios
	if f := cfg.GetString("Burden.ScenarioFile"); f != "" {
		var err error
		scenarios, err = LoadScenarioFile(os.ExpandEnv(f))
		if err != nil {
			return c, err
		}
	}
	name := cfg.GetString("Burden.Severity")
	w, ok := scenarios[name]
	if !ok {
		return c, fmt.Errorf("longburden: unknown severity scenario %q", name)
	}
	overrides, err := GetStringMapString("Burden.SeverityWeights", cfg)
	if err != nil {
		return c, err
	}
	for k, v := range overrides {
		f, err := cast.ToFloat64E(strings.TrimSpace(v))
		if err != nil {
			return c, fmt.Errorf("longburden: Burden.SeverityWeights[%s]: %v", k, err)
		}
		switch strings.ToLower(k) {
		case "mild":
			w.Mild = f
		case "moderate":
			w.Moderate = f
		case "severe":
			w.Severe = f
		default:
			return c, fmt.Errorf("longburden: Burden.SeverityWeights: unknown severity %q", k)
		}
	}
	if err := w.Validate(); err != nil {
		return c, fmt.Errorf("longburden: severity scenario %q: %v", name, err)
	}
	c.Weights = w
	return c, nil
}

// GetStringMapString returns a map[string]string from a viper configuration,
// accounting for the fact that it might be a json object if it was set
// from a command line argument.
func GetStringMapString(varName string, cfg *viper.Viper) (map[string]string, error) {
	i := cfg.Get(varName)
	switch v := i.(type) {
	case nil:
		return map[string]string{}, nil
	case map[string]string:
		return v, nil
	case map[string]interface{}:
		return cast.ToStringMapStringE(v)
	case string:
		o := make(map[string]string)
		if strings.TrimSpace(v) == "" {
			return o, nil
		}
		d := json.NewDecoder(strings.NewReader(v))
		var raw map[string]interface{}
		if err := d.Decode(&raw); err != nil {
			return nil, fmt.Errorf("longburden: %s: %v", varName, err)
		}
		return cast.ToStringMapStringE(raw)
	default:
		return nil, fmt.Errorf("longburden: invalid type for %s: %#v", varName, i)
	}
}
