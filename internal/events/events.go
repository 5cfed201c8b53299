// Package events carries radio callbacks to the supervisor tick.
package events

import (
	"sync/atomic"

	"github.com/thatsimonsguy/pai-supervisor/internal/model"
)

// Event is one of PeerFrame or PeerSendResult.
type Event interface {
	isEvent()
}

// PeerFrame is a payload received from a peer.
type PeerFrame struct {
	From    model.PeerAddr
	Payload []byte
}

// PeerSendResult reports the completion of an earlier send.
type PeerSendResult struct {
	To model.PeerAddr
	OK bool
}

func (PeerFrame) isEvent()      {}
func (PeerSendResult) isEvent() {}

// Queue is a bounded FIFO. Push never blocks; a full queue drops the event.
type Queue struct {
	ch      chan Event
	dropped atomic.Uint64
}

func NewQueue(depth int) *Queue {
	return &Queue{ch: make(chan Event, depth)}
}

// Push is safe to call from any goroutine and reports whether e was queued.
func (q *Queue) Push(e Event) bool {
	select {
	case q.ch <- e:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

func (q *Queue) Pop() (Event, bool) {
	select {
	case e := <-q.ch:
		return e, true
	default:
		return nil, false
	}
}

func (q *Queue) Len() int {
	return len(q.ch)
}

func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
