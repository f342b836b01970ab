package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/progflow/internal/api"
	"github.com/roach88/progflow/internal/config"
	"github.com/roach88/progflow/internal/engine"
	"github.com/roach88/progflow/internal/metrics"
	"github.com/roach88/progflow/internal/progress"
	"github.com/roach88/progflow/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	TraceDB   string
	Listen    string
	Quantum   time.Duration
	LogFormat string
	Progress  time.Duration
	Bar       bool
	Idle      bool

	// IDGenerator overrides trace session IDs (for testing).
	// If nil, defaults to store.UUIDv7Generator.
	IDGenerator store.IDGenerator
}

// RunResult summarizes a finished run.
type RunResult struct {
	Pipeline string              `json:"pipeline"`
	Session  string              `json:"session,omitempty"`
	Runs     int64               `json:"runs"`
	Stopped  bool                `json:"stopped"`
	Units    []engine.UnitStatus `json:"units"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <pipeline>",
		Short: "Run a pipeline until it drains",
		Long: `Build a pipeline and run the scheduler until every unit is done.

Environment variables PROGFLOW_LOG_LEVEL, PROGFLOW_LOG_FORMAT,
PROGFLOW_QUANTUM, PROGFLOW_TRACE_DB and PROGFLOW_LISTEN_ADDR set defaults;
flags override them. The first interrupt stops the scheduler after the
pass in progress.

Example:
  progflow run pipeline.yaml
  progflow run pipeline.cue --trace-db ./trace.db --listen :9090 --idle`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.TraceDB, "trace-db", "", "record steps into this SQLite database")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "serve unit status and metrics on this address")
	cmd.Flags().DurationVar(&opts.Quantum, "quantum", 100*time.Millisecond, "time budget per pass; 0 uses fixed step sizes")
	cmd.Flags().StringVar(&opts.LogFormat, "log-format", config.FormatText, "log format (text|json)")
	cmd.Flags().DurationVar(&opts.Progress, "progress", time.Second, "minimum period between progress logs per unit; 0 disables")
	cmd.Flags().BoolVar(&opts.Bar, "progress-bar", false, "draw progress bars on stderr instead of progress logs")
	cmd.Flags().BoolVar(&opts.Idle, "idle", false, "keep running after the pipeline drains until interrupted")

	return cmd
}

func runPipeline(opts *RunOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)

	cfg, err := config.Load()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil, nil)
	}
	flags := cmd.Flags()
	if flags.Changed("quantum") {
		if opts.Quantum < 0 {
			return f.Fail(ExitCommandError, ErrCodeGeneric, "quantum must not be negative", nil, nil)
		}
		cfg.Quantum = opts.Quantum
	}
	if flags.Changed("trace-db") {
		cfg.TraceDB = opts.TraceDB
	}
	if flags.Changed("listen") {
		cfg.ListenAddr = opts.Listen
	}
	if flags.Changed("log-format") {
		format, err := config.ParseFormat(opts.LogFormat)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil, nil)
		}
		cfg.LogFormat = format
	}
	if opts.Verbose {
		cfg.LogLevel = slog.LevelDebug
	}
	logger := config.NewLogger(cmd.ErrOrStderr(), cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	// Print units share stdout with the result; keep JSON output parseable.
	var unitOut io.Writer = cmd.OutOrStdout()
	if f.Format == "json" {
		unitOut = cmd.ErrOrStderr()
	}
	logger.Info("loading pipeline", "path", path)
	doc, g, err := LoadPipeline(path, unitOut)
	if err != nil {
		return failLoad(f, err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	schedOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithQuantum(cfg.Quantum),
		engine.WithIdleWait(opts.Idle),
	}

	registry := prometheus.NewRegistry()
	collector := metrics.New()
	if err := collector.Register(registry); err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil, nil)
	}
	collector.Attach(g)
	schedOpts = append(schedOpts, collector.Options()...)

	if opts.Progress > 0 {
		sink := progress.LogSink(logger)
		if opts.Bar {
			sink = progress.BarSink(cmd.ErrOrStderr(), 20)
		}
		reporter := progress.NewReporter(
			progress.WithPeriod(opts.Progress),
			progress.WithSink(sink),
		)
		reporter.Attach(g)
	}

	var rec *store.Recorder
	if cfg.TraceDB != "" {
		logger.Info("opening trace database", "path", cfg.TraceDB)
		st, err := store.Open(cfg.TraceDB)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("failed to open trace database: %v", err), nil, nil)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing trace database", "error", closeErr)
			}
		}()
		idGen := opts.IDGenerator
		if idGen == nil {
			idGen = store.UUIDv7Generator{}
		}
		rec = store.NewRecorder(st, idGen.Generate(), store.WithRecorderLogger(logger))
		if err := rec.Begin(ctx, doc.Name); err != nil {
			return f.Fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("failed to start trace session: %v", err), nil, nil)
		}
		rec.Attach(g)
		schedOpts = append(schedOpts, rec.Options()...)
	}

	sched := engine.NewScheduler(g, schedOpts...)

	var stopped atomic.Bool
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping after current pass", "signal", sig)
			stopped.Store(true)
			sched.Stop()
		case <-ctx.Done():
		}
	}()

	group, gctx := errgroup.WithContext(ctx)
	var runErr error
	group.Go(func() error {
		// The server lives as long as the scheduler.
		defer cancel()
		runErr = sched.Start(gctx)
		return nil
	})
	if cfg.ListenAddr != "" {
		srv, err := api.NewServer(cfg.ListenAddr, sched, registry, logger)
		if err != nil {
			cancel()
			_ = group.Wait()
			return f.Fail(ExitCommandError, ErrCodeServer, err.Error(), nil, nil)
		}
		group.Go(func() error {
			return srv.Run(gctx)
		})
	}
	serveErr := group.Wait()

	if rec != nil {
		if err := rec.Finish(context.Background(), runErr, stopped.Load(), sched.RunNumber()); err != nil {
			logger.Error("failed to finish trace session", "session", rec.SessionID(), "error", err)
		}
	}
	if serveErr != nil {
		return f.Fail(ExitCommandError, ErrCodeServer, serveErr.Error(), nil, nil)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return f.Fail(ExitFailure, ErrCodeGeneric, fmt.Sprintf("scheduler error: %v", runErr), nil, nil)
	}

	result := RunResult{
		Pipeline: doc.Name,
		Runs:     sched.RunNumber(),
		Stopped:  stopped.Load(),
		Units:    sched.Snapshot(),
	}
	if rec != nil {
		result.Session = rec.SessionID()
	}
	var faults []string
	for _, u := range result.Units {
		if u.Fault != "" {
			faults = append(faults, u.Fault)
		}
	}
	if len(faults) > 0 {
		return f.Fail(ExitFailure, ErrCodeFault, fmt.Sprintf("%d unit(s) faulted", len(faults)), result, faults)
	}

	logger.Info("pipeline finished", "pipeline", doc.Name, "runs", result.Runs)
	return f.Emit(result, func(w io.Writer) error {
		if result.Session != "" {
			fmt.Fprintf(w, "Trace session: %s\n", result.Session)
		}
		return sched.Describe(w)
	})
}
