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


// Command hashbench drives a hashstore.Map with a generated or scripted
// workload and reports what the map did.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hashstore"
	"github.com/cockroachdb/hashstore/internal/config"
	"github.com/cockroachdb/hashstore/internal/workload"
	"github.com/davecgh/go-spew/spew"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newApp(os.Stdout).Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "hashbench: %v\n", err)
		os.Exit(1)
	}
}

// newApp returns the root command. Results are written to out.
func newApp(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "hashbench",
		Usage: "Drive an insertion-ordered hashstore.Map with a workload.",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log representation changes and resizes at debug level.",
			},
		},
		Commands: []*cli.Command{
			runCommand(out),
			orderCommand(out),
			generateCommand(out),
		},
	}
}

// workloadFlags are shared by the commands that build a map.
func workloadFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "YAML or JSON config file. Flags override it.",
		},
		&cli.StringFlag{
			Name:  "strategy",
			Usage: "Big representation: compact or buckets.",
		},
		&cli.IntFlag{
			Name:  "initial-capacity",
			Usage: "Capacity hint for the map. 0 starts empty.",
		},
		&cli.StringFlag{
			Name:  "script",
			Usage: "YAML op script to run instead of a generated workload.",
		},
		&cli.BoolFlag{
			Name:  "check",
			Usage: "Check every result against a reference model.",
		},
	}
}

func runCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run a workload and print the result and map stats.",
		Flags: append(workloadFlags(),
			&cli.IntFlag{
				Name:  "count",
				Usage: "Number of generated ops.",
			},
			&cli.Uint64Flag{
				Name:  "seed",
				Usage: "Seed of the generated workload.",
			},
			&cli.BoolFlag{
				Name:  "dump",
				Usage: "Dump the final stats structure.",
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.Bool("verbose"))
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ops, err := opsFor(cfg)
			if err != nil {
				return err
			}
			m := newMap(cfg, logger)
			defer m.Close()

			res, err := workload.Run(ctx, m, ops, cfg.Check)
			logger.Info("workload finished",
				zap.Int("ops", res.Total()),
				zap.Duration("elapsed", res.Elapsed),
				zap.Stringer("kind", res.Stats.Kind),
				zap.Int("len", res.Len))
			if err != nil {
				return err
			}
			fmt.Fprintln(out, res)
			if cmd.Bool("dump") {
				spew.Fdump(out, res.Stats)
			}
			return nil
		},
	}
}

func orderCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "order",
		Usage: "Run a script and print the final contents in iteration order.",
		Flags: workloadFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if !cmd.IsSet("script") {
				return errors.New("order requires --script")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.Bool("verbose"))
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ops, err := opsFor(cfg)
			if err != nil {
				return err
			}
			m := newMap(cfg, logger)
			defer m.Close()

			if _, err := workload.Run(ctx, m, ops, cfg.Check); err != nil {
				return err
			}
			m.Each(func(i int, k string, v int64) bool {
				fmt.Fprintf(out, "%d\t%s\t%d\n", i, k, v)
				return true
			})
			return nil
		},
	}
}

func generateCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "generate",
		Usage: "Write a generated workload as a YAML script.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "YAML or JSON config file supplying the op mix.",
			},
			&cli.IntFlag{
				Name:  "count",
				Usage: "Number of generated ops.",
			},
			&cli.Uint64Flag{
				Name:  "seed",
				Usage: "Seed of the generated workload.",
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "Output file. Defaults to stdout.",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ops := workload.Generate(cfg.Mix, cfg.Count, cfg.Seed)
			if path := cmd.String("out"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return errors.Wrap(err, "creating script")
				}
				if err := workload.WriteScript(f, ops); err != nil {
					_ = f.Close()
					return err
				}
				return errors.Wrap(f.Close(), "closing script")
			}
			return workload.WriteScript(out, ops)
		},
	}
}

// loadConfig loads the config named by --config and applies the flags that
// were set explicitly on cmd.
func loadConfig(cmd *cli.Command) (config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return config.Config{}, err
	}
	if cmd.IsSet("strategy") {
		cfg.Strategy = cmd.String("strategy")
	}
	if cmd.IsSet("count") {
		cfg.Count = cmd.Int("count")
	}
	if cmd.IsSet("seed") {
		cfg.Seed = cmd.Uint64("seed")
	}
	if cmd.IsSet("initial-capacity") {
		cfg.InitialCapacity = cmd.Int("initial-capacity")
	}
	if cmd.IsSet("script") {
		cfg.Script = cmd.String("script")
	}
	if cmd.IsSet("check") {
		cfg.Check = cmd.Bool("check")
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error
	if verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	return logger, errors.Wrap(err, "building logger")
}

func newMap(cfg config.Config, logger *zap.Logger) *hashstore.Map[string, int64] {
	return hashstore.New[string, int64](hashstore.StringHasher{},
		hashstore.WithStrategy[string, int64](cfg.ParsedStrategy()),
		hashstore.WithInitialCapacity[string, int64](cfg.InitialCapacity),
		hashstore.WithLogger[string, int64](logger),
		hashstore.WithDefault[string, int64](-1),
	)
}

func opsFor(cfg config.Config) ([]workload.Op, error) {
	if cfg.Script == "" {
		return workload.Generate(cfg.Mix, cfg.Count, cfg.Seed), nil
	}
	f, err := os.Open(cfg.Script)
	if err != nil {
		return nil, errors.Wrap(err, "opening script")
	}
	defer f.Close()
	ops, err := workload.ParseScript(f)
	return ops, errors.Wrapf(err, "parsing script %s", cfg.Script)
}
