package engine

import (
	"time"
)

type (
	// Broker is the centralized message hub between the scheduling engine,
	// the host (whoever renders audio and draws the grid) and the off-thread
	// cache recomputer. Communication is one channel per recipient; there is
	// no shared mutable memory anywhere, so no locking discipline is needed.
	//
	// For closing goroutines, the broker has two channels per goroutine:
	// CloseXXX and FinishedXXX. CloseXXX has capacity 1, so a close request
	// can always be sent without blocking; if the channel is already full,
	// someone else has already requested the closure and dropping the
	// request is fine. FinishedXXX is never sent to, only closed, so waiting
	// for "<-FinishedXXX" (possibly with a timeout) tells when the goroutine
	// has cleaned up.
	Broker struct {
		ToEngine    chan Msg
		ToHost      chan Event
		ToRecompute chan RecomputeMsg

		CloseEngine    chan struct{}
		CloseRecompute chan struct{}

		FinishedEngine    chan struct{}
		FinishedRecompute chan struct{}
	}
)

func NewBroker() *Broker {
	return &Broker{
		ToEngine:          make(chan Msg, 1024),
		ToHost:            make(chan Event, 1024),
		ToRecompute:       make(chan RecomputeMsg, 16),
		CloseEngine:       make(chan struct{}, 1),
		CloseRecompute:    make(chan struct{}, 1),
		FinishedEngine:    make(chan struct{}),
		FinishedRecompute: make(chan struct{}),
	}
}

// TrySend sends a value to a channel if it is not full. It is guaranteed to
// be non-blocking, so the scheduling goroutine can never end up waiting on a
// slow consumer. Returns true if the value was sent.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
	default:
		return false
	}
	return true
}

// TimeoutReceive blocks until a value is received from the channel or the
// timeout elapses. ok is false on timeout or if the channel is closed.
func TimeoutReceive[T any](c <-chan T, t time.Duration) (v T, ok bool) {
	select {
	case v, ok = <-c:
		return v, ok
	case <-time.After(t):
		return v, false
	}
}
