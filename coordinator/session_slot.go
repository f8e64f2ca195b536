package coordinator

import (
	"github.com/user/nearby-blue/logger"
	"github.com/user/nearby-blue/ranging"
)

// sessionSlot holds the single current ranging session of a coordinator and
// the state derived from it. Only the coordinator loop touches it.
type sessionSlot struct {
	engine   ranging.Engine
	delegate ranging.SessionDelegate
	prefix   string

	current  ranging.Session
	token    *ranging.DiscoveryToken
	peer     *ranging.DiscoveryToken
	state    ranging.SessionState
	distance *ranging.DistanceSample
	count    int
}

// renew discards the current session and creates a replacement with a new
// token. A token failure is logged; the next renewal tries again.
func (s *sessionSlot) renew() {
	if s.current != nil {
		s.current.Invalidate()
	}

	s.current = s.engine.NewSession(s.delegate)
	s.peer = nil
	s.count++

	token, err := s.current.DiscoveryToken()
	if err != nil {
		logger.Warn(s.prefix, "⚠️  No discovery token for session %s: %v", s.current.ID().String()[:8], err)
		s.token = nil
		return
	}
	s.token = token
	logger.Debug(s.prefix, "🔑 New local token %s", token)
}

func (s *sessionSlot) isCurrent(sess ranging.Session) bool {
	return s.current != nil && sess != nil && s.current.ID() == sess.ID()
}

// run arms the current session with peer. Every call reaches the engine, even
// with a token the session already has: a restarted peer session needs it again.
func (s *sessionSlot) run(peer *ranging.DiscoveryToken) {
	if s.current == nil {
		s.renew()
	}

	s.current.Run(peer)
	s.peer = peer
	if s.state != ranging.SessionSuspended {
		s.state = ranging.SessionRunning
	}
}

// archivedToken serializes the current local token, fetching it again if the
// session had none at creation
func (s *sessionSlot) archivedToken() ([]byte, error) {
	if s.token == nil && s.current != nil {
		token, err := s.current.DiscoveryToken()
		if err != nil {
			return nil, err
		}
		s.token = token
	}
	return ranging.ArchiveToken(s.token)
}

// updateDistance stores sample if it came from the current session
func (s *sessionSlot) updateDistance(sess ranging.Session, sample ranging.DistanceSample) bool {
	if !s.isCurrent(sess) {
		return false
	}
	s.distance = &sample
	return true
}

func (s *sessionSlot) fill(st *ranging.Status) {
	st.Session = s.state
	st.SessionCount = s.count
	if s.distance != nil {
		d := *s.distance
		st.Distance = &d
	}
	if s.token != nil {
		t := *s.token
		st.LocalToken = &t
	}
}
