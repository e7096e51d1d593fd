package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/creastat/infra/telemetry"
	"github.com/creastat/kmerge"
	"github.com/creastat/kmerge/config"
	"github.com/creastat/kmerge/core"
	"github.com/creastat/kmerge/dataset"
	"github.com/creastat/kmerge/server"
	"github.com/creastat/kmerge/sinks"
)

const usage = `usage: kmerge <command> [flags]

commands:
  run     generate K*N values, merge them and print the result
  serve   stream merges to WebSocket clients at /ws
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(ctx, os.Args[2:], os.Stdout)
	case "serve":
		err = serveCommand(ctx, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "kmerge: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig parses the command flags over the YAML file named by -config.
// Only flags set on the command line override the file.
func loadConfig(name string, args []string) (config.Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	path := fs.String("config", "", "Path to a YAML config file")
	workers := fs.Int("workers", config.DefaultWorkers, "Number of workers (K)")
	runLength := fs.Int("n", config.DefaultRunLength, "Run length (N)")
	seed := fs.Uint64("seed", config.DefaultSeed, "Seed for the generated input")
	maxValue := fs.Int("max", config.DefaultMaxValue, "Generated values lie in [0, max)")
	logLevel := fs.String("log-level", config.DefaultLogLevel, "Log level: trace, debug, info, warn, error")
	listen := fs.String("listen", config.DefaultListen, "Listen address for serve")
	rounds := fs.Bool("rounds", false, "Print every round selection")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(*path)
	if err != nil {
		return config.Config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "workers":
			cfg.Workers = *workers
		case "n":
			cfg.RunLength = *runLength
		case "seed":
			cfg.Seed = *seed
		case "max":
			cfg.MaxValue = *maxValue
		case "log-level":
			cfg.LogLevel = *logLevel
		case "listen":
			cfg.Listen = *listen
		case "rounds":
			cfg.ShowRounds = *rounds
		}
	})

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runCommand(ctx context.Context, args []string, out io.Writer) error {
	cfg, err := loadConfig("run", args)
	if err != nil {
		return err
	}
	logger := telemetry.New(telemetry.Config{Level: cfg.LogLevel})

	values := dataset.Generate(cfg.Workers*cfg.RunLength, cfg.Seed, cfg.MaxValue)
	fmt.Fprintln(out, "before sorting")
	fmt.Fprintln(out, values)

	merger, err := kmerge.NewBuilder[int]().
		WithShape(cfg.Workers, cfg.RunLength).
		WithValues(values).
		WithEventBuffer(cfg.EventBuffer).
		WithLogger(logger).
		Build(ctx)
	if err != nil {
		return err
	}

	result := sinks.NewCollectSink(core.EventTypeError, core.EventTypeDone)
	router := kmerge.NewFanOutRouter(&core.FanOutConfig{
		ErrorPolicy: core.ErrorPolicyCancelAll,
		Branches: []core.BranchConfig{
			{Sink: sinks.NewLogSink[int](sinks.LogSinkConfig{Report: out, Rounds: cfg.ShowRounds, Logger: logger})},
			{Sink: result, EventFilter: result.InputTypes()},
		},
	})
	if err := router.Route(ctx, merger.Execute(ctx)); err != nil {
		return err
	}

	for _, event := range result.Events() {
		switch e := event.(type) {
		case core.ErrorEvent:
			return e.Error
		case core.DoneEvent[int]:
			sorted := (&kmerge.Result[int]{Blocks: e.Blocks}).Sorted()
			fmt.Fprintln(out, "after sorting")
			fmt.Fprintln(out, sorted)
			return nil
		}
	}
	return errors.New("merge ended without a result")
}

func serveCommand(ctx context.Context, args []string) error {
	cfg, err := loadConfig("serve", args)
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		EventBuffer: cfg.EventBuffer,
		MaxValue:    cfg.MaxValue,
		Logger:      telemetry.New(telemetry.Config{Level: cfg.LogLevel}),
	})
	return srv.ListenAndServe(ctx, cfg.Listen)
}
