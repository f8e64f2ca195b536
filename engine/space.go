// Package engine simulates the ranging sensor. A Space holds device positions
// and ticks on a clock; each tick delivers a distance sample to every pair of
// sessions that are running with each other's tokens.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/user/nearby-blue/internal/fifo"
	"github.com/user/nearby-blue/logger"
	"github.com/user/nearby-blue/ranging"
)

// ErrSessionInvalidated is reported for sessions the engine tore down
var ErrSessionInvalidated = errors.New("ranging session invalidated")

// DefaultTickInterval matches the update rate of the real sensor
const DefaultTickInterval = 100 * time.Millisecond

// Option configures a Space
type Option func(*Space)

// WithClock replaces the wall clock. Tests pass clock.NewMock().
func WithClock(c clock.Clock) Option {
	return func(s *Space) { s.clock = c }
}

// WithTickInterval sets how often samples are produced
func WithTickInterval(d time.Duration) Option {
	return func(s *Space) {
		if d > 0 {
			s.interval = d
		}
	}
}

// Space is the shared simulated world every device engine ranges in
type Space struct {
	clock    clock.Clock
	interval time.Duration
	events   *fifo.Queue[func()]

	mu        sync.Mutex
	positions map[string]Vec3
	sessions  map[uuid.UUID]*session

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewSpace creates a space. Call Start to begin ticking.
func NewSpace(opts ...Option) *Space {
	s := &Space{
		clock:     clock.New(),
		interval:  DefaultTickInterval,
		events:    fifo.New[func()](),
		positions: make(map[string]Vec3),
		sessions:  make(map[uuid.UUID]*session),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.dispatch()
	return s
}

// Start launches the tick loop. Calling it again has no effect.
func (s *Space) Start() {
	s.startOnce.Do(func() {
		ticker := s.clock.Ticker(s.interval)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer ticker.Stop()
			for {
				select {
				case <-s.stop:
					return
				case <-ticker.C:
					s.Tick()
				}
			}
		}()
	})
}

// Close stops ticking and delegate delivery
func (s *Space) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.events.Close()
	})
	s.wg.Wait()
}

func (s *Space) dispatch() {
	defer s.wg.Done()
	for {
		fn, ok := s.events.Pop(context.Background())
		if !ok {
			return
		}
		fn()
	}
}

// SetPosition places deviceID in the world. Unplaced devices sit at the origin.
func (s *Space) SetPosition(deviceID string, p Vec3) {
	s.mu.Lock()
	s.positions[deviceID] = p
	s.mu.Unlock()
	logger.Debug("engine", "📍 %s moved to (%.2f, %.2f, %.2f)", shortID(deviceID), p.X, p.Y, p.Z)
}

// Position returns where deviceID is
func (s *Space) Position(deviceID string) Vec3 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions[deviceID]
}

// Distance returns the Euclidean distance between two devices
func (s *Space) Distance(a, b string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions[b].Sub(s.positions[a]).Len()
}

// Engine returns the ranging engine of deviceID
func (s *Space) Engine(deviceID string) *Engine {
	return &Engine{space: s, deviceID: deviceID}
}

type delivery struct {
	s      *session
	sample ranging.DistanceSample
}

// Tick produces one round of samples. The ticker calls it; tests may too.
func (s *Space) Tick() {
	now := s.clock.Now()

	s.mu.Lock()
	var out []delivery
	for _, a := range s.sessions {
		b := s.counterpart(a)
		if b == nil {
			continue
		}

		offset := s.positions[b.deviceID].Sub(s.positions[a.deviceID])
		sample := ranging.DistanceSample{Distance: offset.Len(), Timestamp: now}
		if dir, ok := offset.Unit(); ok {
			sample.Direction = &dir
		}
		out = append(out, delivery{s: a, sample: sample})
	}
	s.mu.Unlock()

	for _, d := range out {
		d := d
		s.events.Push(func() { d.s.delegate.SessionDidUpdate(d.s, d.sample) })
	}
}

// counterpart returns the running session a is mutually matched with. Caller holds mu.
func (s *Space) counterpart(a *session) *session {
	if a.state != stateRunning || a.peer == nil {
		return nil
	}
	b := s.sessions[a.peer.SessionID]
	if b == nil || b.state != stateRunning || b.peer == nil {
		return nil
	}
	if b.peer.SessionID != a.id {
		return nil
	}
	return b
}

// lifecycle moves every live session of deviceID from one state to another
// and queues notify for each one moved.
func (s *Space) lifecycle(deviceID string, from []sessionState, to sessionState, notify func(*session)) int {
	s.mu.Lock()
	var moved []*session
	for _, sess := range s.sessions {
		if sess.deviceID != deviceID {
			continue
		}
		for _, f := range from {
			if sess.state == f {
				sess.state = to
				moved = append(moved, sess)
				break
			}
		}
	}
	if to == stateInvalidated {
		for _, sess := range moved {
			delete(s.sessions, sess.id)
		}
	}
	s.mu.Unlock()

	for _, sess := range moved {
		sess := sess
		s.events.Push(func() { notify(sess) })
	}
	return len(moved)
}

// Engine is one device's view of the space and implements ranging.Engine
type Engine struct {
	space    *Space
	deviceID string
}

var _ ranging.Engine = (*Engine)(nil)

// DeviceID returns the device this engine ranges for
func (e *Engine) DeviceID() string {
	return e.deviceID
}

// NewSession creates a session with a freshly minted token
func (e *Engine) NewSession(delegate ranging.SessionDelegate) ranging.Session {
	sess := newSession(e.space, e.deviceID, delegate)

	e.space.mu.Lock()
	e.space.sessions[sess.id] = sess
	e.space.mu.Unlock()

	logger.Debug(e.prefix(), "🆕 Session %s created", sess.id.String()[:8])
	return sess
}

// Suspend interrupts every running session of this device
func (e *Engine) Suspend() {
	n := e.space.lifecycle(e.deviceID, []sessionState{stateRunning}, stateSuspended, func(sess *session) {
		sess.delegate.SessionWasSuspended(sess)
	})
	logger.Info(e.prefix(), "⏸️  Suspended %d session(s)", n)
}

// Resume ends the suspension of every suspended session of this device
func (e *Engine) Resume() {
	n := e.space.lifecycle(e.deviceID, []sessionState{stateSuspended}, stateRunning, func(sess *session) {
		sess.delegate.SessionSuspensionEnded(sess)
	})
	logger.Info(e.prefix(), "▶️  Resumed %d session(s)", n)
}

// InvalidateWithError tears down every live session of this device the way
// the system does, reporting cause through SessionDidInvalidate.
func (e *Engine) InvalidateWithError(cause error) {
	err := ErrSessionInvalidated
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrSessionInvalidated, cause)
	}
	n := e.space.lifecycle(e.deviceID, []sessionState{stateCreated, stateRunning, stateSuspended}, stateInvalidated, func(sess *session) {
		sess.delegate.SessionDidInvalidate(sess, err)
	})
	logger.Warn(e.prefix(), "💥 Invalidated %d session(s): %v", n, err)
}

func (e *Engine) prefix() string {
	return logger.Prefix(e.deviceID, "Engine")
}

func shortID(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}
