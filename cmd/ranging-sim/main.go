package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/user/nearby-blue/logger"
	"github.com/user/nearby-blue/ranging"
	"github.com/user/nearby-blue/scenario"
	"golang.org/x/sync/errgroup"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one scenario and returns the process exit code. Cleanup is
// deferred here so it happens before main exits.
func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("ranging-sim", flag.ContinueOnError)
	flags.SetOutput(stderr)
	scenarioPath := flags.String("scenario", "", "Path to scenario file (.yaml, .yml, .toml or .json)")
	logLevel := flags.String("log-level", "INFO", "Log level: TRACE, DEBUG, INFO, WARN, ERROR")
	duration := flags.Duration("duration", 0, "Override the scenario duration (e.g. 10s)")
	reportPath := flags.String("report", "", "Write a Markdown report of the run to this path")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	if *scenarioPath == "" {
		fmt.Fprintln(stdout, "Usage: ranging-sim --scenario <path> [--log-level DEBUG] [--duration 10s] [--report run.md]")
		fmt.Fprintln(stdout, "\nExample:")
		fmt.Fprintln(stdout, "  go run ./cmd/ranging-sim --scenario scenarios/basic_ranging.yaml")
		return 1
	}

	logger.SetLevel(logger.ParseLevel(*logLevel))

	sc, err := scenario.Load(*scenarioPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load scenario: %v\n", err)
		return 1
	}
	if *duration > 0 {
		sc.DurationMs = int(*duration / time.Millisecond)
	}

	fmt.Fprintf(stdout, "=== Running Scenario: %s ===\n", sc.Name)
	if sc.Description != "" {
		fmt.Fprintf(stdout, "Description: %s\n", sc.Description)
	}
	fmt.Fprintf(stdout, "Events: %d\n", len(sc.Timeline))
	fmt.Fprintf(stdout, "Duration: %v\n\n", sc.Duration())

	runner, err := scenario.NewRunner(sc)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to set up scenario: %v\n", err)
		return 1
	}
	defer runner.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return runner.Run(gctx)
	})
	g.Go(func() error {
		report(gctx, stdout, runner, sc.ReportInterval(), start)
		return nil
	})

	if err := g.Wait(); err != nil {
		fmt.Fprintf(stderr, "Scenario failed: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "\nChecking assertions...")
	allPassed := true
	for _, res := range runner.CheckAssertions() {
		mark := "✅"
		if !res.Passed {
			mark = "❌"
			allPassed = false
		}
		fmt.Fprintf(stdout, "  %s %s %s: %s\n", mark, res.Assertion.Device, res.Assertion.Type, res.Message)
	}

	if *reportPath != "" {
		if err := runner.WriteReport(*reportPath); err != nil {
			fmt.Fprintf(stderr, "⚠️  %v\n", err)
		} else {
			fmt.Fprintf(stdout, "\nReport written to %s\n", *reportPath)
		}
	}

	if allPassed {
		fmt.Fprintln(stdout, "\n✅ All assertions passed!")
		return 0
	}
	fmt.Fprintln(stdout, "\n❌ Some assertions failed")
	return 1
}

// report prints one status line per interval until ctx is done
func report(ctx context.Context, w io.Writer, runner *scenario.Runner, interval time.Duration, start time.Time) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			initiator, responder := runner.Status()
			fmt.Fprintf(w, "[%6.1fs] initiator %s | responder %s\n",
				time.Since(start).Seconds(), describe(initiator), describe(responder))
		}
	}
}

func describe(st ranging.Status) string {
	power := "on"
	if !st.PoweredOn {
		power = "off"
	}
	distance := "-"
	if st.Distance != nil {
		distance = st.Distance.String()
	}
	return fmt.Sprintf("power=%s link=%s session=%s distance=%s", power, st.Link, st.Session, distance)
}
