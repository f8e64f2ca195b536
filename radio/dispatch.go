package radio

import (
	"context"
	"time"

	"github.com/user/nearby-blue/internal/fifo"
)

// dispatchQueue runs callbacks one at a time, in submission order, on its own
// goroutine. Each manager owns one, like the queue handed to CBCentralManager.
type dispatchQueue struct {
	fns *fifo.Queue[func()]
}

func newDispatchQueue() *dispatchQueue {
	q := &dispatchQueue{fns: fifo.New[func()]()}
	go q.loop()
	return q
}

func (q *dispatchQueue) async(fn func()) {
	q.fns.Push(fn)
}

// after submits fn once d has elapsed. Zero delay keeps submission order.
func (q *dispatchQueue) after(d time.Duration, fn func()) {
	if d <= 0 {
		q.async(fn)
		return
	}
	time.AfterFunc(d, func() { q.async(fn) })
}

func (q *dispatchQueue) close() {
	q.fns.Close()
}

func (q *dispatchQueue) loop() {
	for {
		fn, ok := q.fns.Pop(context.Background())
		if !ok {
			return
		}
		fn()
	}
}
