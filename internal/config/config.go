// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package config loads the configuration of the hashbench command from an
// optional YAML or JSON file and HASHBENCH_ environment variables.
package config

import (
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hashstore"
	"github.com/cockroachdb/hashstore/internal/workload"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of the environment variables read by Load.
const EnvPrefix = "HASHBENCH_"

// Config is the configuration of a hashbench run.
type Config struct {
	// Strategy is the big representation maps promote into.
	Strategy        string       `koanf:"strategy"`
	Count           int          `koanf:"count"`
	Seed            uint64       `koanf:"seed"`
	InitialCapacity int          `koanf:"initial-capacity"`
	Script          string       `koanf:"script"`
	Check           bool         `koanf:"check"`
	Mix             workload.Mix `koanf:"mix"`
}

// Default returns the configuration used for anything not set by a file or
// the environment.
func Default() Config {
	return Config{
		Strategy: hashstore.StrategyCompact.String(),
		Count:    100_000,
		Seed:     1,
		Mix:      workload.DefaultMix,
	}
}

// Load returns the default configuration overridden by the file at path, if
// path is not empty, and then by environment variables. Environment variable
// names are upper case config keys with the HASHBENCH_ prefix, with "_" for
// "-" and "__" for nesting: HASHBENCH_INITIAL_CAPACITY sets initial-capacity
// and HASHBENCH_MIX__DELETE_LAST sets mix.delete-last.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := loadFile(k, path); err != nil {
			return Config{}, err
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, interface{}) {
		key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		key = strings.ReplaceAll(key, "__", ".")
		return strings.ReplaceAll(key, "_", "-"), value
	}), nil); err != nil {
		return Config{}, errors.Wrap(err, "loading environment")
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshaling config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	switch ext := filepath.Ext(path); ext {
	case ".json":
		parser = json.Parser()
	case ".yaml", ".yml", "":
		parser = yaml.Parser()
	default:
		return errors.Newf("config file %s: unsupported extension %q", path, ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return errors.Wrapf(err, "reading config file %s", path)
	}
	return nil
}

// Validate checks that the configuration describes a runnable workload.
func (c Config) Validate() error {
	if _, err := hashstore.ParseStrategy(c.Strategy); err != nil {
		return err
	}
	if c.Count < 0 {
		return errors.Newf("negative count %d", c.Count)
	}
	if c.InitialCapacity < 0 {
		return errors.Newf("negative initial-capacity %d", c.InitialCapacity)
	}
	return nil
}

// ParsedStrategy returns the Strategy named by c.Strategy. It is only valid
// for a validated Config.
func (c Config) ParsedStrategy() hashstore.Strategy {
	s, _ := hashstore.ParseStrategy(c.Strategy)
	return s
}
