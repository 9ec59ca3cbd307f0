package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pipeweld/internal/core"
	"pipeweld/internal/report"
	"pipeweld/internal/watch"
)

var (
	runParams  []string
	runRelease bool
	runWorkDir string
	runRunsDir string
	runJournal string
	runTimeout time.Duration
	runWatch   bool
	runNoColor bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline locally",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringArrayVarP(&runParams, "param", "p", nil, "override a boolean param (name=true|false)")
	runCmd.Flags().BoolVar(&runRelease, "release", false, "shorthand for --param release=true")
	runCmd.Flags().StringVar(&runWorkDir, "workdir", "", "working directory for steps (default: cwd)")
	runCmd.Flags().StringVar(&runRunsDir, "runs-dir", "./runs", "root directory for run logs and reports")
	runCmd.Flags().StringVar(&runJournal, "journal", "", "append stage records to this journal file")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "override the pipeline's global timeout")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "re-run when the definition file changes")
	runCmd.Flags().BoolVar(&runNoColor, "no-color", false, "disable ANSI color in the summary")
}

func runRun(cmd *cobra.Command, _ []string) error {
	params, err := parseParams(runParams)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("release") {
		params["release"] = runRelease
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runOnce := func() (*core.RunResult, error) {
		pipeline, err := core.LoadPipeline(pipelineFile)
		if err != nil {
			return nil, err
		}
		cfg := core.NewConfig(pipeline, core.Options{
			WorkDir: runWorkDir,
			RunsDir: runRunsDir,
			Journal: runJournal,
			Params:  params,
			Timeout: runTimeout,
			Logger:  newLogger(),
		})
		runner, err := core.NewRunner(cfg)
		if err != nil {
			return nil, err
		}
		res := runner.Run(ctx)
		color := pipeline.AnsiColor && !runNoColor
		fmt.Fprint(os.Stdout, report.Summary(res, color))
		return res, nil
	}

	if !runWatch {
		res, err := runOnce()
		if err != nil {
			return err
		}
		if res.State != core.RunSucceeded {
			return fmt.Errorf("pipeline %s", res.State)
		}
		return nil
	}

	// Watch mode: run once, then re-run on definition changes until
	// interrupted. Individual run failures do not stop the watch loop.
	if _, err := runOnce(); err != nil {
		fmt.Fprintln(os.Stderr, "run failed:", err)
	}
	w := &watch.Watcher{
		Paths:  []string{pipelineFile},
		Logger: newLogger(),
		OnChange: func() {
			if _, err := runOnce(); err != nil {
				fmt.Fprintln(os.Stderr, "run failed:", err)
			}
		},
	}
	if err := w.Watch(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func parseParams(kvs []string) (map[string]bool, error) {
	params := make(map[string]bool, len(kvs))
	for _, kv := range kvs {
		name, raw, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("bad --param %q, want name=true|false", kv)
		}
		val, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("bad --param %q: %v", kv, err)
		}
		params[name] = val
	}
	return params, nil
}
