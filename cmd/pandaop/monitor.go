package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/avast/retry-go"
	"github.com/awer25/pandaop/can"
	"github.com/awer25/pandaop/logging"
	"github.com/awer25/pandaop/protocols/slcan"
	"github.com/awer25/pandaop/replay"
	"github.com/awer25/pandaop/safety"
	"github.com/awer25/pandaop/units"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var monitorProfile profileFlags
var bitrate int
var bus uint8
var speedUnit string
var simulateFile string
var simulateLatency time.Duration

var (
	armedColor    = color.New(color.FgGreen, color.Bold).SprintFunc()
	disarmedColor = color.New(color.FgYellow).SprintFunc()
	faultColor    = color.New(color.FgRed, color.Bold).SprintFunc()
)

func init() {
	monitorProfile.register(monitorCmd.Flags())
	monitorCmd.Flags().IntVar(&bitrate, bitrateSettingName, slcan.DefaultBitrate, "bus bitrate in kbit/s")
	monitorCmd.Flags().Uint8Var(&bus, busSettingName, 0, "bus number the adapter is attached to")
	monitorCmd.Flags().StringVar(&speedUnit, speedUnitSettingName, string(units.KMH), "unit for printed vehicle speeds")
	monitorCmd.Flags().StringVar(&simulateFile, "simulate", "", "feed the observed frames of a drive log instead of a live adapter")
	monitorCmd.Flags().DurationVar(&simulateLatency, "latency", 0, "delay between simulated frames")

	rootCmd.AddCommand(monitorCmd)
}

var monitorCmd = &cobra.Command{
	Use:          "monitor",
	Short:        "Feed live bus traffic through a safety mode and print when controls are allowed or withdrawn.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := monitorProfile.parse()
		if err != nil {
			return err
		}
		unit, err := units.Parse(speedUnit)
		if err == nil {
			_, err = units.Convert(0, units.MPS, unit)
		}
		if err != nil {
			return errors.Wrapf(err, "speed unit %q", speedUnit)
		}

		l := cliLogger(cmd)
		engine := safety.NewEngine(safety.WithLogger(l))
		if err := engine.SelectProfile(mode, monitorProfile.param); err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		var src slcan.FrameSource
		var clock slcan.Clock
		if simulateFile != "" {
			src, clock, err = simulatedSource(simulateFile, simulateLatency)
			if err != nil {
				return err
			}
		} else {
			if port == "" {
				return errors.New("the port setting is required for monitoring")
			}
			conn, err := openAdapter(ctx, cmd.ErrOrStderr(), l)
			if err != nil {
				return err
			}
			defer conn.Close()
			src = conn
		}

		stdOut := cmd.OutOrStdout()
		if !quiet {
			fmt.Fprintf(stdOut, "monitoring with safety mode %s (param 0x%x), press ctrl+c to stop\n", mode, monitorProfile.param)
		}

		relay := false
		for ev := range slcan.MonitorSession(ctx, src, engine, clock, l) {
			if ev.Err != nil {
				l.Debugf("rejected %s: %v", ev.Frame, ev.Err)
			}
			if ev.RelayMalfunction && !relay {
				relay = true
				fmt.Fprintf(stdOut, "%d\t%s stock actuation seen in %s\n", ev.Tick, faultColor("RELAY MALFUNCTION"), ev.Frame)
			}
			if !ev.Transition {
				continue
			}

			speed, err := units.Convert(engine.VehicleSpeed(), units.MPS, unit)
			if err != nil {
				return errors.Wrap(err, "converting vehicle speed")
			}
			state := disarmedColor("DISARMED")
			if ev.ControlsAllowed {
				state = armedColor("ARMED")
			}
			fmt.Fprintf(stdOut, "%d\t%s\t%s\tspeed %.1f %s\n", ev.Tick, state, ev.Frame, speed, unit)
		}
		return nil
	},
}

// openAdapter dials the configured port and opens the CAN channel,
// retrying while the adapter comes up.
func openAdapter(ctx context.Context, errOut io.Writer, l logging.Logger) (*slcan.Connection, error) {
	var conn *slcan.Connection
	err := retry.Do(func() error {
		c, err := slcan.Dial(port, bus, l)
		if err != nil {
			return err
		}
		if err := c.Open(ctx, bitrate); err != nil {
			c.Close()
			if errors.Is(err, slcan.ErrUnsupportedBitrate) {
				return retry.Unrecoverable(err)
			}
			return err
		}
		conn = c
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			if !quiet {
				fmt.Fprintf(errOut, "retry %d: %v\n", n, err)
			}
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, errors.Wrap(err, "opening adapter")
	}
	return conn, nil
}

// simulatedSource replays the observed frames of a drive log with the
// log's own timestamps as the engine clock.
func simulatedSource(file string, latency time.Duration) (slcan.FrameSource, slcan.Clock, error) {
	entries, err := replay.LoadFile(file)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loading drive")
	}

	var frames []can.Frame
	var ticks []uint32
	for _, e := range entries {
		if e.Direction != replay.Observed || e.Returned() {
			continue
		}
		f, err := e.Frame()
		if err != nil {
			continue
		}
		frames = append(frames, f)
		ticks = append(ticks, e.Timestamp)
	}

	next := 0
	clock := func() uint32 {
		if next >= len(ticks) {
			return ticks[len(ticks)-1]
		}
		t := ticks[next]
		next++
		return t
	}
	return slcan.NewFakeConnection(frames, latency), clock, nil
}
