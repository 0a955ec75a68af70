package engine

import (
	"fmt"

	"github.com/arikoski/gridbeat"
	"github.com/arikoski/gridbeat/debug"
)

type (
	// RecomputeMsg is a one-way snapshot of the data the beat caches derive
	// from. The steps are deep copies taken by the engine, so the
	// recomputer never touches engine-owned memory.
	RecomputeMsg struct {
		Generation int
		Length     int
		Banks      [gridbeat.NumBanks][]gridbeat.Step
	}

	// Recomputer rebuilds the per-bank beat caches off the scheduling
	// goroutine, so large step sets do not add latency to the tick path.
	// It is a cache warmer, not a correctness boundary: its results are
	// advisory and arrive stamped with the generation of the snapshot they
	// were built from. The engine falls back to synchronous rebuilds
	// whenever the recomputer is unavailable, behind, or gone.
	Recomputer struct {
		broker *Broker
	}
)

func NewRecomputer(broker *Broker) *Recomputer {
	return &Recomputer{broker: broker}
}

// Run consumes snapshots until closed. Panics in the rebuild are recovered
// and logged; a failed recompute is never fatal, the engine just rebuilds
// inline on its next query.
func (r *Recomputer) Run() {
	defer close(r.broker.FinishedRecompute)
	for {
		select {
		case <-r.broker.CloseRecompute:
			return
		case msg := <-r.broker.ToRecompute:
			r.recompute(msg)
		}
	}
}

func (r *Recomputer) recompute(msg RecomputeMsg) {
	defer func() {
		if err := recover(); err != nil {
			debug.Log("recompute", "cache rebuild panicked: %v", err)
			TrySend(r.broker.ToHost, Event(AlertEvent{
				Name:     "Recompute",
				Message:  fmt.Sprintf("cache rebuild failed: %v", err),
				Priority: Warning,
			}))
		}
	}()
	var result cachesMsg
	result.generation = msg.Generation
	for i := range msg.Banks {
		result.caches[i].Rebuild(msg.Banks[i], msg.Length)
	}
	if !TrySend(r.broker.ToEngine, Msg(result)) {
		debug.Log("recompute", "engine channel full, dropping generation %d", msg.Generation)
	}
}

// Close requests the recomputer to stop. Non-blocking; a full close channel
// means someone already asked.
func (r *Recomputer) Close() {
	TrySend(r.broker.CloseRecompute, struct{}{})
}
