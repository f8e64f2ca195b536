package scenario

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/user/nearby-blue/coordinator"
	"github.com/user/nearby-blue/engine"
	"github.com/user/nearby-blue/logger"
	"github.com/user/nearby-blue/radio"
	"github.com/user/nearby-blue/ranging"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const defaultDistanceTolerance = 0.1

// Runner wires a Responder and an Initiator over a simulated radio and
// ranging space and plays a scenario's timeline against them.
type Runner struct {
	scenario *Scenario
	clock    clock.Clock
	prefix   string

	Air       *radio.Air
	Space     *engine.Space
	Initiator *coordinator.Initiator
	Responder *coordinator.Responder
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithClock drives the engine ticks and the timeline from c
func WithClock(c clock.Clock) RunnerOption {
	return func(r *Runner) { r.clock = c }
}

// NewRunner validates sc and builds the simulated world for it
func NewRunner(sc *Scenario, opts ...RunnerOption) (*Runner, error) {
	sc.Defaults()
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("scenario validation failed: %w", err)
	}
	cfg, err := sc.SimulationConfig()
	if err != nil {
		return nil, err
	}

	r := &Runner{scenario: sc, clock: clock.New(), prefix: "scenario"}
	for _, opt := range opts {
		opt(r)
	}

	r.Space = engine.NewSpace(engine.WithClock(r.clock), engine.WithTickInterval(sc.TickInterval()))
	r.Space.SetPosition(sc.Responder.ID, sc.Responder.Position)
	r.Space.SetPosition(sc.Initiator.ID, sc.Initiator.Position)

	r.Air = radio.NewAir(cfg)
	r.Air.SetDistanceFunc(r.Space.Distance)

	pm := r.Air.NewPeripheralManager(sc.Responder.ID, sc.Responder.Name)
	central := r.Air.NewCentral(sc.Initiator.ID, sc.Initiator.Name)
	r.Responder = coordinator.NewResponder(pm, r.Space.Engine(sc.Responder.ID), sc.Responder.Name)
	r.Initiator = coordinator.NewInitiator(central, r.Space.Engine(sc.Initiator.ID))

	return r, nil
}

// Scenario returns the scenario being run
func (r *Runner) Scenario() *Scenario {
	return r.scenario
}

// Run plays the timeline and keeps both coordinators running until the
// scenario duration has elapsed or ctx is cancelled. Call it once.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := r.clock.WithTimeout(ctx, r.scenario.Duration())
	defer cancel()

	logger.Info(r.prefix, "🎬 Running %q for %v", r.scenario.Name, r.scenario.Duration())
	r.Space.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return finished(r.Responder.Run(gctx)) })
	g.Go(func() error { return finished(r.Initiator.Run(gctx)) })
	g.Go(func() error { return r.playTimeline(gctx) })
	return g.Wait()
}

// finished treats the end of the run as success
func finished(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (r *Runner) playTimeline(ctx context.Context) error {
	start := r.clock.Now()
	for _, ev := range r.scenario.SortedTimeline() {
		at := start.Add(ev.At())
		if wait := at.Sub(r.clock.Now()); wait > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-r.clock.After(wait):
			}
		}

		if err := r.Apply(ev); err != nil {
			return fmt.Errorf("t=%dms: %w", ev.TimeMs, err)
		}
	}
	return nil
}

func (r *Runner) deviceID(device string) string {
	if device == DeviceInitiator {
		return r.scenario.Initiator.ID
	}
	return r.scenario.Responder.ID
}

// Apply performs one timeline action immediately
func (r *Runner) Apply(ev TimelineEvent) error {
	id := r.deviceID(ev.Device)
	if ev.Comment != "" {
		logger.Info(r.prefix, "▶️  %s %s: %s", ev.Device, ev.Action, ev.Comment)
	} else {
		logger.Info(r.prefix, "▶️  %s %s", ev.Device, ev.Action)
	}

	switch ev.Action {
	case ActionStartScan:
		r.Initiator.StartScan()
	case ActionStopScan:
		r.Initiator.StopScan()
	case ActionDisconnect:
		if ev.Device == DeviceInitiator {
			r.Initiator.Disconnect()
		} else {
			r.Air.Disconnect(id, radio.ErrConnectionFailed)
		}
	case ActionPowerOff:
		r.Air.SetPowered(id, false)
	case ActionPowerOn:
		r.Air.SetPowered(id, true)
	case ActionMove:
		p, err := position(ev.Data)
		if err != nil {
			return err
		}
		r.Space.SetPosition(id, p)
	case ActionSuspend:
		r.Space.Engine(id).Suspend()
	case ActionResume:
		r.Space.Engine(id).Resume()
	case ActionInvalidate:
		var cause error
		if reason, ok := ev.Data["reason"].(string); ok && reason != "" {
			cause = errors.New(reason)
		}
		r.Space.Engine(id).InvalidateWithError(cause)
	default:
		return fmt.Errorf("unknown action %q", ev.Action)
	}
	return nil
}

// Status returns the latest status of both coordinators
func (r *Runner) Status() (initiator, responder ranging.Status) {
	return r.Initiator.Snapshot(), r.Responder.Snapshot()
}

// AssertionResult records the outcome of one assertion
type AssertionResult struct {
	Assertion Assertion
	Passed    bool
	Message   string
}

// CheckAssertions evaluates every assertion against the current status
func (r *Runner) CheckAssertions() []AssertionResult {
	results := make([]AssertionResult, 0, len(r.scenario.Assertions))
	for _, a := range r.scenario.Assertions {
		st := r.Responder.Snapshot()
		if a.Device == DeviceInitiator {
			st = r.Initiator.Snapshot()
		}
		passed, msg := check(a, st)
		results = append(results, AssertionResult{Assertion: a, Passed: passed, Message: msg})
	}
	return results
}

// Verify checks the assertions and combines every failure into one error
func (r *Runner) Verify() error {
	var err error
	for _, res := range r.CheckAssertions() {
		if !res.Passed {
			err = multierr.Append(err, fmt.Errorf("%s %s: %s", res.Assertion.Device, res.Assertion.Type, res.Message))
		}
	}
	return err
}

func check(a Assertion, st ranging.Status) (bool, string) {
	switch a.Type {
	case AssertRanging:
		if st.Link != ranging.LinkRanging || st.Distance == nil {
			return false, fmt.Sprintf("link is %s, not ranging", st.Link)
		}
		return true, fmt.Sprintf("ranging at %s", st.Distance)

	case AssertLinkState:
		want, _ := a.Data["state"].(string)
		if !strings.EqualFold(st.Link.String(), want) {
			return false, fmt.Sprintf("link is %s, want %s", st.Link, want)
		}
		return true, "link is " + want

	case AssertSessionState:
		want, _ := a.Data["state"].(string)
		if !strings.EqualFold(st.Session.String(), want) {
			return false, fmt.Sprintf("session is %s, want %s", st.Session, want)
		}
		return true, "session is " + want

	case AssertDistance:
		want, err := number(a.Data, "meters")
		if err != nil {
			return false, err.Error()
		}
		tolerance := numberOr(a.Data, "tolerance", defaultDistanceTolerance)
		if st.Distance == nil {
			return false, "no distance reported"
		}
		if math.Abs(st.Distance.Distance-want) > tolerance {
			return false, fmt.Sprintf("distance %.3fm, want %.3f±%.3fm", st.Distance.Distance, want, tolerance)
		}
		return true, fmt.Sprintf("distance %.3fm", st.Distance.Distance)
	}
	return false, "unknown assertion type " + a.Type
}

// Close stops the simulated radio and ranging space
func (r *Runner) Close() {
	r.Air.Close()
	r.Space.Close()
}
