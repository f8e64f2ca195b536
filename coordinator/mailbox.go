package coordinator

import (
	"context"
	"sync"

	"github.com/user/nearby-blue/internal/fifo"
	"github.com/user/nearby-blue/logger"
	"github.com/user/nearby-blue/ranging"
)

// mailbox serializes every event of one coordinator onto the goroutine
// running Run. Posting never blocks, so delegates can post from any queue.
type mailbox struct {
	prefix string
	events *fifo.Queue[event]

	statusMu sync.RWMutex
	status   ranging.Status
}

func newMailbox(prefix string) *mailbox {
	return &mailbox{prefix: prefix, events: fifo.New[event]()}
}

func (m *mailbox) post(ev event) {
	if !m.events.Push(ev) {
		logger.Trace(m.prefix, "📭 Dropped %s: coordinator stopped", ev.eventName())
	}
}

// run consumes events until ctx is done, publishing status after each one
func (m *mailbox) run(ctx context.Context, handle func(event), snapshot func() ranging.Status) error {
	defer m.events.Close()

	m.publish(snapshot())
	for {
		ev, ok := m.events.Pop(ctx)
		if !ok {
			return ctx.Err()
		}
		logger.Trace(m.prefix, "📬 %s", ev.eventName())
		handle(ev)
		m.publish(snapshot())
	}
}

func (m *mailbox) publish(s ranging.Status) {
	m.statusMu.Lock()
	m.status = s
	m.statusMu.Unlock()
}

func (m *mailbox) snapshot() ranging.Status {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	return m.status
}
