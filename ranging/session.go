package ranging

import "github.com/google/uuid"

// Session is one ranging session attempt owned by an engine.
// A session mints exactly one DiscoveryToken for its lifetime.
type Session interface {
	ID() uuid.UUID
	DiscoveryToken() (*DiscoveryToken, error)
	Run(peer *DiscoveryToken)
	Invalidate()
}

// SessionDelegate receives session lifecycle callbacks.
// Callbacks may arrive on any goroutine.
type SessionDelegate interface {
	SessionDidUpdate(session Session, sample DistanceSample)
	SessionWasSuspended(session Session)
	SessionSuspensionEnded(session Session)
	SessionDidInvalidate(session Session, err error)
}

// Engine creates ranging sessions
type Engine interface {
	NewSession(delegate SessionDelegate) Session
}
