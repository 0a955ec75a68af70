package engine

import (
	"time"
)

// Run is the engine goroutine. It owns all engine state; hosts talk to it
// exclusively through the broker. The loop sleeps on either an incoming
// message or the deadline of the earliest pending sub-step, whichever comes
// first, and forwards every produced event to the host channel.
func (e *Engine) Run() {
	defer close(e.broker.FinishedEngine)
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		var timerC <-chan time.Time
		if wake, ok := e.NextWake(); ok {
			timer.Reset(time.Until(wake))
			timerC = timer.C
		}
		select {
		case <-e.broker.CloseEngine:
			return
		case msg := <-e.broker.ToEngine:
			e.forward(e.Update(msg))
		case now := <-timerC:
			timerC = nil
			e.forward(e.Advance(now))
		}
		if timerC != nil && !timer.Stop() {
			<-timer.C
		}
	}
}

// forward pushes events to the host without ever blocking the scheduling
// goroutine. A host that stops draining loses events, not timing.
func (e *Engine) forward(events []Event) {
	for _, ev := range events {
		TrySend(e.broker.ToHost, ev)
	}
}

// Close requests the engine goroutine to stop. Wait on
// broker.FinishedEngine for the goroutine to actually exit.
func (e *Engine) Close() {
	TrySend(e.broker.CloseEngine, struct{}{})
}
