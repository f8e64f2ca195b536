package ranging

import (
	"fmt"
	"math"
	"time"
)

// LinkState tracks how far a coordinator has progressed over the radio link
type LinkState int

const (
	LinkIdle LinkState = iota
	LinkScanning
	LinkAdvertising
	LinkConnected
	LinkEndpointsDiscovered
	LinkTokenExchanged
	LinkRanging
)

func (s LinkState) String() string {
	switch s {
	case LinkIdle:
		return "idle"
	case LinkScanning:
		return "scanning"
	case LinkAdvertising:
		return "advertising"
	case LinkConnected:
		return "connected"
	case LinkEndpointsDiscovered:
		return "endpointsDiscovered"
	case LinkTokenExchanged:
		return "tokenExchanged"
	case LinkRanging:
		return "ranging"
	default:
		return "unknown"
	}
}

// SessionState tracks the ranging session independently of the link
type SessionState int

const (
	SessionNotStarted SessionState = iota
	SessionRunning
	SessionSuspended
	SessionInvalidated
)

func (s SessionState) String() string {
	switch s {
	case SessionNotStarted:
		return "notStarted"
	case SessionRunning:
		return "running"
	case SessionSuspended:
		return "suspended"
	case SessionInvalidated:
		return "invalidated"
	default:
		return "unknown"
	}
}

// DistanceSample is the latest measurement reported by the engine.
// Only the most recent sample is ever kept.
type DistanceSample struct {
	Distance  float64     // meters
	Direction *[3]float64 // unit vector, nil when unavailable
	Timestamp time.Time
}

func (s DistanceSample) String() string {
	return fmt.Sprintf("%.2fm", s.Distance)
}

// ApproxEqual reports whether two samples agree within tolerance meters
func (s DistanceSample) ApproxEqual(other DistanceSample, tolerance float64) bool {
	return math.Abs(s.Distance-other.Distance) <= tolerance
}

// Role names which side of the exchange a coordinator plays
type Role string

const (
	RoleInitiator Role = "Initiator"
	RoleResponder Role = "Responder"
)

// Status is the externally visible view of a coordinator.
// It is a copy; callers may keep it.
type Status struct {
	Role         Role
	PoweredOn    bool
	Link         LinkState
	Session      SessionState
	Distance     *DistanceSample
	LocalToken   *DiscoveryToken
	PeerID       string
	SessionCount int // sessions created so far, including replacements
}
