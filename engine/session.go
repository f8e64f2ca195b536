package engine

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
	"github.com/user/nearby-blue/logger"
	"github.com/user/nearby-blue/ranging"
)

type sessionState int

const (
	stateCreated sessionState = iota
	stateRunning
	stateSuspended
	stateInvalidated
)

const nonceSize = 16

// session is a ranging session owned by a Space. Mutable fields are guarded by space.mu.
type session struct {
	space    *Space
	id       uuid.UUID
	deviceID string
	token    *ranging.DiscoveryToken
	delegate ranging.SessionDelegate

	state sessionState
	peer  *ranging.DiscoveryToken
}

func newSession(space *Space, deviceID string, delegate ranging.SessionDelegate) *session {
	id := uuid.New()
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		// The session id alone still makes the token unique
		nonce = id[:]
	}

	return &session{
		space:    space,
		id:       id,
		deviceID: deviceID,
		delegate: delegate,
		token: &ranging.DiscoveryToken{
			SessionID: id,
			DeviceID:  deviceID,
			Nonce:     nonce,
		},
	}
}

func (s *session) ID() uuid.UUID {
	return s.id
}

// DiscoveryToken returns a copy of the token minted for this session
func (s *session) DiscoveryToken() (*ranging.DiscoveryToken, error) {
	s.space.mu.Lock()
	defer s.space.mu.Unlock()

	if s.state == stateInvalidated {
		return nil, fmt.Errorf("token for session %s: %w", s.id.String()[:8], ErrSessionInvalidated)
	}
	t := *s.token
	t.Nonce = append([]byte(nil), s.token.Nonce...)
	return &t, nil
}

// Run starts ranging against peer. A suspended session keeps waiting for
// resume but remembers the new peer.
func (s *session) Run(peer *ranging.DiscoveryToken) {
	if peer == nil {
		logger.Warn(s.prefix(), "⚠️  Run ignored: nil peer token")
		return
	}

	s.space.mu.Lock()
	state := s.state
	if state != stateInvalidated {
		p := *peer
		s.peer = &p
		if state == stateCreated {
			s.state = stateRunning
		}
	}
	s.space.mu.Unlock()

	if state == stateInvalidated {
		logger.Warn(s.prefix(), "⚠️  Run ignored: session %s is invalidated", s.id.String()[:8])
		return
	}
	logger.Info(s.prefix(), "🎯 Session %s running with peer %s", s.id.String()[:8], shortID(peer.DeviceID))
}

// Invalidate ends the session at the application's request. The delegate is
// not told, matching the system framework.
func (s *session) Invalidate() {
	s.space.mu.Lock()
	was := s.state
	s.state = stateInvalidated
	delete(s.space.sessions, s.id)
	s.space.mu.Unlock()

	if was != stateInvalidated {
		logger.Debug(s.prefix(), "🗑️  Session %s invalidated by app", s.id.String()[:8])
	}
}

func (s *session) prefix() string {
	return logger.Prefix(s.deviceID, "Engine")
}
