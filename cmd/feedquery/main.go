// Command feedquery loads a feed log fixture into memory and runs predicate
// queries against it.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"feedquery/internal/fixture"
	"feedquery/internal/index/memory"
	"feedquery/internal/logging"
	"feedquery/internal/query"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "feedquery",
		Short:        "Query a feed log fixture",
		SilenceUsage: true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.PersistentFlags().String("log", "", "log fixture to load (.jsonl or .msgpack, optionally .zst)")
	rootCmd.PersistentFlags().String("format", "", "fixture format: jsonl or msgpack (default: from file name)")
	rootCmd.PersistentFlags().String("indexes", "", "comma-separated indexes to maintain (default: all)")
	rootCmd.PersistentFlags().Bool("auto-drain", false, "drain indexes in the background while loading")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "log output format: text or json")
	rootCmd.PersistentFlags().StringArray("log-component", nil, "per-component log level as component=level (repeatable; level \"default\" clears)")

	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Print the messages matching the filter flags as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			env, err := setup(ctx, cmd, stderr)
			if err != nil {
				return err
			}
			q, err := queryFromFlags(cmd)
			if err != nil {
				return err
			}
			return runQuery(ctx, env, q, cmd.OutOrStdout())
		},
	}
	addFilterFlags(queryCmd)
	queryCmd.Flags().Int("limit", 0, "max results (0 = unlimited)")
	queryCmd.Flags().Bool("reverse", false, "newest first")
	queryCmd.Flags().String("after", "", "resume after this log offset")

	explainCmd := &cobra.Command{
		Use:   "explain",
		Short: "Show how the filter flags would be executed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			env, err := setup(ctx, cmd, stderr)
			if err != nil {
				return err
			}
			expr, err := exprFromFlags(cmd)
			if err != nil {
				return err
			}
			plan, err := env.engine.Explain(ctx, query.Query{Expr: expr})
			if err != nil {
				return err
			}
			output, _ := cmd.Flags().GetString("output")
			return newPrinter(output, cmd.OutOrStdout()).plan(plan)
		},
	}
	addFilterFlags(explainCmd)
	explainCmd.Flags().StringP("output", "o", "text", "output format: text or json")

	convertCmd := &cobra.Command{
		Use:   "convert <out>",
		Short: "Rewrite the log fixture in the format implied by <out>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, _ := cmd.Flags().GetString("log")
			formatFlag, _ := cmd.Flags().GetString("format")
			return convert(in, formatFlag, args[0])
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	rootCmd.AddCommand(queryCmd, explainCmd, convertCmd, versionCmd)
	return rootCmd
}

// env is a loaded log with an engine over it.
type env struct {
	log    *memory.Manager
	engine *query.Engine
	logger *slog.Logger
}

// setup builds the logger, creates the log from the persistent flags, and
// loads the fixture into it. Every index is current when setup returns.
func setup(ctx context.Context, cmd *cobra.Command, stderr io.Writer) (*env, error) {
	levelFlag, _ := cmd.Flags().GetString("log-level")
	logFormat, _ := cmd.Flags().GetString("log-format")
	componentLevels, _ := cmd.Flags().GetStringArray("log-component")
	path, _ := cmd.Flags().GetString("log")
	formatFlag, _ := cmd.Flags().GetString("format")
	indexes, _ := cmd.Flags().GetString("indexes")
	autoDrain, _ := cmd.Flags().GetBool("auto-drain")

	level, err := logging.ParseLevel(levelFlag)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}
	logger, filter, err := logging.New(stderr, logFormat, level)
	if err != nil {
		return nil, err
	}
	if err := setComponentLevels(filter, componentLevels); err != nil {
		return nil, err
	}
	for _, spec := range componentLevels {
		name, _, _ := strings.Cut(spec, "=")
		logger.Debug("component log level", "target", name, "level", filter.Level(name), "default", filter.DefaultLevel())
	}

	if path == "" {
		return nil, fmt.Errorf("--log is required")
	}
	var format fixture.Format
	if formatFlag != "" {
		if format, err = fixture.ParseFormat(formatFlag); err != nil {
			return nil, err
		}
	}

	params := map[string]string{
		memory.ParamAutoDrain: strconv.FormatBool(autoDrain),
	}
	if indexes != "" {
		params[memory.ParamIndexes] = indexes
	}
	log, err := memory.NewFactory()(params, logger)
	if err != nil {
		return nil, err
	}

	n, err := fixture.Load(log, path, format)
	if err != nil {
		return nil, err
	}
	if err := log.CatchUpAll(ctx); err != nil {
		return nil, fmt.Errorf("catch up indexes: %w", err)
	}
	logger.Info("fixture loaded", "path", path, "messages", n, "indexes", len(log.Names()))

	return &env{
		log:    log,
		engine: query.New(log, query.Config{Logger: logger}),
		logger: logger,
	}, nil
}

// setComponentLevels applies component=level overrides in order. The level
// "default" drops an earlier override for the component.
func setComponentLevels(filter *logging.ComponentFilterHandler, specs []string) error {
	for _, spec := range specs {
		name, levelName, ok := strings.Cut(spec, "=")
		if !ok || name == "" {
			return fmt.Errorf("invalid --log-component %q: want component=level", spec)
		}
		if levelName == "default" {
			filter.ClearLevel(name)
			continue
		}
		level, err := logging.ParseLevel(levelName)
		if err != nil {
			return fmt.Errorf("invalid --log-component %q: %w", spec, err)
		}
		filter.SetLevel(name, level)
	}
	return nil
}

func convert(in, formatFlag, out string) error {
	if in == "" {
		return fmt.Errorf("--log is required")
	}
	format := fixture.FormatOf(in)
	if formatFlag != "" {
		f, err := fixture.ParseFormat(formatFlag)
		if err != nil {
			return err
		}
		format = f
	}

	r, err := fixture.Open(in)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	var entries []fixture.Entry
	if err := fixture.Decode(r, format, func(e fixture.Entry) error {
		entries = append(entries, e)
		return nil
	}); err != nil {
		return fmt.Errorf("read %s: %w", in, err)
	}

	w, err := fixture.Create(out)
	if err != nil {
		return err
	}
	if err := fixture.Encode(w, fixture.FormatOf(out), entries); err != nil {
		_ = w.Close()
		return fmt.Errorf("write %s: %w", out, err)
	}
	return w.Close()
}
