package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"

	"github.com/awer25/pandaop/replay"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var replayProfile profileFlags
var replayReport string
var replayJobs int

var (
	passColor = color.New(color.FgGreen).SprintFunc()
	failColor = color.New(color.FgRed).SprintFunc()
)

// ErrReplayFailed is returned when a replayed drive blocked a command while
// controls were allowed.
var ErrReplayFailed = errors.New("replay found commands blocked while controls were allowed")

func init() {
	replayProfile.register(replayCmd.Flags())
	replayCmd.Flags().StringVar(&replayReport, "report", "", "write a JSON report to this file")
	replayCmd.Flags().IntVar(&replayJobs, "jobs", runtime.NumCPU(), "number of drives replayed at once")

	rootCmd.AddCommand(replayCmd)
}

var replayCmd = &cobra.Command{
	Use:          "replay [drive log]...",
	Short:        "Replay recorded drives (.ndjson or .yaml) through a safety mode and report blocked commands.",
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := replayProfile.parse()
		if err != nil {
			return err
		}

		jobs := make([]replay.Job, len(args))
		for i, file := range args {
			entries, err := replay.LoadFile(file)
			if err != nil {
				return errors.Wrap(err, "loading drive")
			}
			jobs[i] = replay.Job{
				Name:    filepath.Base(file),
				Entries: entries,
				Mode:    mode,
				Param:   replayProfile.param,
			}
		}

		opts := []replay.Option{replay.WithLogger(cliLogger(cmd))}
		var bar *progressbar.ProgressBar
		if !quiet && len(jobs) > 1 {
			bar = progressbar.NewOptions(len(jobs),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionSetWidth(20),
				progressbar.OptionSetDescription("replaying"),
				progressbar.OptionShowCount(),
			)
			opts = append(opts, replay.WithProgress(func() { bar.Add(1) }))
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		results, err := replay.RunAll(ctx, jobs, replayJobs, opts...)
		if bar != nil {
			bar.Finish()
			fmt.Fprintln(cmd.ErrOrStderr())
		}
		if err != nil {
			return err
		}

		failed := 0
		stdOut := cmd.OutOrStdout()
		for _, r := range results {
			if !r.Pass {
				failed++
			}
			if quiet {
				continue
			}
			if err := replay.WriteSummary(stdOut, r.Name, r.Result); err != nil {
				return errors.Wrap(err, "writing summary")
			}
		}

		if replayReport != "" {
			if err := replay.SaveReport(replayReport, results); err != nil {
				return err
			}
		}

		if failed > 0 {
			fmt.Fprintf(stdOut, "%s: %d of %d drives\n", failColor("FAIL"), failed, len(results))
			return ErrReplayFailed
		}
		fmt.Fprintf(stdOut, "%s: %d drives\n", passColor("PASS"), len(results))
		return nil
	},
}
