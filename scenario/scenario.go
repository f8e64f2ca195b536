// Package scenario describes scripted ranging runs: two devices, where they
// stand, a timeline of injected actions and the outcome expected at the end.
package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/user/nearby-blue/engine"
	"github.com/user/nearby-blue/radio"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Scenario is a complete scripted run
type Scenario struct {
	Name        string `yaml:"name" toml:"name" json:"name"`
	Description string `yaml:"description" toml:"description" json:"description"`

	// Simulation selects the radio profile: "default" or "perfect"
	Simulation string `yaml:"simulation" toml:"simulation" json:"simulation"`
	Seed       int64  `yaml:"seed" toml:"seed" json:"seed,omitempty"`

	TickMs     int `yaml:"tick_ms" toml:"tick_ms" json:"tick_ms"`
	ReportMs   int `yaml:"report_ms" toml:"report_ms" json:"report_ms"`
	DurationMs int `yaml:"duration_ms" toml:"duration_ms" json:"duration_ms"`

	Responder DeviceConfig `yaml:"responder" toml:"responder" json:"responder"`
	Initiator DeviceConfig `yaml:"initiator" toml:"initiator" json:"initiator"`

	Timeline   []TimelineEvent `yaml:"timeline" toml:"timeline" json:"timeline"`
	Assertions []Assertion     `yaml:"assertions" toml:"assertions" json:"assertions"`
}

// DeviceConfig places one device. For the Responder, Name is the advertised name.
type DeviceConfig struct {
	ID       string      `yaml:"id" toml:"id" json:"id"`
	Name     string      `yaml:"name" toml:"name" json:"name"`
	Position engine.Vec3 `yaml:"position" toml:"position" json:"position"`
}

// TimelineEvent is an action applied to one device at TimeMs
type TimelineEvent struct {
	TimeMs  int                    `yaml:"time_ms" toml:"time_ms" json:"time_ms"`
	Action  string                 `yaml:"action" toml:"action" json:"action"`
	Device  string                 `yaml:"device" toml:"device" json:"device"`
	Data    map[string]interface{} `yaml:"data,omitempty" toml:"data,omitempty" json:"data,omitempty"`
	Comment string                 `yaml:"comment,omitempty" toml:"comment,omitempty" json:"comment,omitempty"`
}

// At is the offset of the event from the start of the run
func (ev TimelineEvent) At() time.Duration {
	return time.Duration(ev.TimeMs) * time.Millisecond
}

// Assertion is checked once the timeline has finished
type Assertion struct {
	Type    string                 `yaml:"type" toml:"type" json:"type"`
	Device  string                 `yaml:"device" toml:"device" json:"device"`
	Data    map[string]interface{} `yaml:"data,omitempty" toml:"data,omitempty" json:"data,omitempty"`
	Comment string                 `yaml:"comment,omitempty" toml:"comment,omitempty" json:"comment,omitempty"`
}

// Devices a timeline event or assertion can target
const (
	DeviceInitiator = "initiator"
	DeviceResponder = "responder"
)

// Action types
const (
	ActionStartScan  = "start_scan"
	ActionStopScan   = "stop_scan"
	ActionDisconnect = "disconnect"
	ActionPowerOff   = "power_off"
	ActionPowerOn    = "power_on"
	ActionMove       = "move"
	ActionSuspend    = "suspend"
	ActionResume     = "resume"
	ActionInvalidate = "invalidate"
)

// Assertion types
const (
	AssertLinkState    = "link_state"
	AssertSessionState = "session_state"
	AssertDistance     = "distance"
	AssertRanging      = "ranging"
)

// Simulation profiles
const (
	SimulationDefault = "default"
	SimulationPerfect = "perfect"
)

var initiatorOnly = map[string]bool{
	ActionStartScan: true,
	ActionStopScan:  true,
}

var knownActions = map[string]bool{
	ActionStartScan:  true,
	ActionStopScan:   true,
	ActionDisconnect: true,
	ActionPowerOff:   true,
	ActionPowerOn:    true,
	ActionMove:       true,
	ActionSuspend:    true,
	ActionResume:     true,
	ActionInvalidate: true,
}

var knownAssertions = map[string]bool{
	AssertLinkState:    true,
	AssertSessionState: true,
	AssertDistance:     true,
	AssertRanging:      true,
}

// Load reads a scenario, picking the decoder from the file extension:
// .yaml/.yml, .toml, anything else is JSON. Defaults are applied.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var sc Scenario
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &sc)
	case ".toml":
		_, err = toml.Decode(string(data), &sc)
	default:
		err = json.Unmarshal(data, &sc)
	}
	if err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	sc.Defaults()
	return &sc, nil
}

// Defaults fills unset timing, profile, device ids and names
func (s *Scenario) Defaults() {
	if s.Simulation == "" {
		s.Simulation = SimulationDefault
	}
	if s.TickMs <= 0 {
		s.TickMs = int(engine.DefaultTickInterval / time.Millisecond)
	}
	if s.ReportMs <= 0 {
		s.ReportMs = 500
	}
	if s.Responder.ID == "" {
		s.Responder.ID = uuid.NewString()
	}
	if s.Initiator.ID == "" {
		s.Initiator.ID = uuid.NewString()
	}
	if s.Initiator.Name == "" {
		s.Initiator.Name = "Initiator"
	}
}

// Duration is DurationMs, or the last timeline entry plus two seconds to settle
func (s *Scenario) Duration() time.Duration {
	if s.DurationMs > 0 {
		return time.Duration(s.DurationMs) * time.Millisecond
	}
	last := 0
	for _, ev := range s.Timeline {
		if ev.TimeMs > last {
			last = ev.TimeMs
		}
	}
	return time.Duration(last)*time.Millisecond + 2*time.Second
}

// TickInterval is the engine update period
func (s *Scenario) TickInterval() time.Duration {
	return time.Duration(s.TickMs) * time.Millisecond
}

// ReportInterval is how often the CLI prints status
func (s *Scenario) ReportInterval() time.Duration {
	return time.Duration(s.ReportMs) * time.Millisecond
}

// SimulationConfig builds the radio config for the selected profile
func (s *Scenario) SimulationConfig() (*radio.SimulationConfig, error) {
	var cfg *radio.SimulationConfig
	switch s.Simulation {
	case SimulationDefault, "":
		cfg = radio.DefaultSimulationConfig()
	case SimulationPerfect:
		cfg = radio.PerfectSimulationConfig()
	default:
		return nil, fmt.Errorf("unknown simulation profile %q", s.Simulation)
	}

	if s.Seed != 0 {
		cfg.Deterministic = true
		cfg.Seed = s.Seed
	}
	return cfg, cfg.Validate()
}

// SortedTimeline returns the timeline ordered by time, keeping file order for ties
func (s *Scenario) SortedTimeline() []TimelineEvent {
	events := append([]TimelineEvent(nil), s.Timeline...)
	sort.SliceStable(events, func(i, j int) bool { return events[i].TimeMs < events[j].TimeMs })
	return events
}

// Validate reports every problem found. Use multierr.Errors to list them.
func (s *Scenario) Validate() error {
	var err error

	if _, cfgErr := s.SimulationConfig(); cfgErr != nil {
		err = multierr.Append(err, cfgErr)
	}
	if s.Initiator.ID != "" && s.Initiator.ID == s.Responder.ID {
		err = multierr.Append(err, errors.New("initiator and responder share device id "+s.Initiator.ID))
	}
	if s.DurationMs < 0 {
		err = multierr.Append(err, fmt.Errorf("negative duration_ms %d", s.DurationMs))
	}

	for i, ev := range s.Timeline {
		err = multierr.Append(err, validateEvent(i, ev))
	}
	for i, a := range s.Assertions {
		err = multierr.Append(err, validateAssertion(i, a))
	}
	return err
}

func validDevice(d string) bool {
	return d == DeviceInitiator || d == DeviceResponder
}

func validateEvent(i int, ev TimelineEvent) error {
	var err error
	where := fmt.Sprintf("timeline[%d] (%s)", i, ev.Action)

	if ev.TimeMs < 0 {
		err = multierr.Append(err, fmt.Errorf("%s: negative time_ms", where))
	}
	if !knownActions[ev.Action] {
		err = multierr.Append(err, fmt.Errorf("%s: unknown action", where))
	}
	if !validDevice(ev.Device) {
		err = multierr.Append(err, fmt.Errorf("%s: unknown device %q", where, ev.Device))
	} else if initiatorOnly[ev.Action] && ev.Device != DeviceInitiator {
		err = multierr.Append(err, fmt.Errorf("%s: only the initiator can do this", where))
	}
	if ev.Action == ActionMove {
		if _, posErr := position(ev.Data); posErr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", where, posErr))
		}
	}
	return err
}

func validateAssertion(i int, a Assertion) error {
	var err error
	where := fmt.Sprintf("assertions[%d] (%s)", i, a.Type)

	if !knownAssertions[a.Type] {
		err = multierr.Append(err, fmt.Errorf("%s: unknown assertion", where))
	}
	if !validDevice(a.Device) {
		err = multierr.Append(err, fmt.Errorf("%s: unknown device %q", where, a.Device))
	}

	switch a.Type {
	case AssertLinkState, AssertSessionState:
		if _, ok := a.Data["state"].(string); !ok {
			err = multierr.Append(err, fmt.Errorf("%s: data.state must be a string", where))
		}
	case AssertDistance:
		if _, numErr := number(a.Data, "meters"); numErr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", where, numErr))
		}
	}
	return err
}

// number reads a numeric field. YAML, TOML and JSON each decode numbers into
// different Go types.
func number(data map[string]interface{}, key string) (float64, error) {
	v, ok := data[key]
	if !ok {
		return 0, fmt.Errorf("missing data.%s", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("data.%s is %T, not a number", key, v)
	}
}

func numberOr(data map[string]interface{}, key string, fallback float64) float64 {
	if _, ok := data[key]; !ok {
		return fallback
	}
	n, err := number(data, key)
	if err != nil {
		return fallback
	}
	return n
}

// position reads x, y and z. Missing axes are zero; at least one is required.
func position(data map[string]interface{}) (engine.Vec3, error) {
	var p engine.Vec3
	found := false
	for _, axis := range []struct {
		key string
		dst *float64
	}{{"x", &p.X}, {"y", &p.Y}, {"z", &p.Z}} {
		if _, ok := data[axis.key]; !ok {
			continue
		}
		n, err := number(data, axis.key)
		if err != nil {
			return p, err
		}
		*axis.dst = n
		found = true
	}
	if !found {
		return p, errors.New("move needs data.x, data.y or data.z")
	}
	return p, nil
}
