// Package midiout turns engine events into MIDI messages on an output
// port. It is a pure consumer: it holds no sequencing state beyond the
// tempo it learned from the last sync and the note-off timers in flight.
package midiout

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"

	"github.com/arikoski/gridbeat/engine"
)

// Sender delivers one MIDI message to a port.
type Sender func(midi.Message) error

// MIDI CC 123, all notes off.
const ccAllNotesOff = 123

// Output converts engine events to MIDI. Note lengths are derived from the
// step gate and the current tempo; a gate of 1.0 holds the note for a full
// beat. Safe for the engine goroutine and the note-off timers to share.
type Output struct {
	mu      sync.Mutex
	send    Sender
	channel uint8
	bpm     float64
	nextID  int
	timers  map[int]*time.Timer
}

func New(send Sender, channel uint8) *Output {
	return &Output{send: send, channel: channel, bpm: 120, timers: make(map[int]*time.Timer)}
}

// Ports returns the names of the available MIDI outputs.
func Ports() []string {
	var names []string
	for _, port := range midi.GetOutPorts() {
		names = append(names, port.String())
	}
	return names
}

// OpenPort opens the first MIDI output whose name contains the given
// substring, or the first available output when name is empty.
func OpenPort(name string) (Sender, string, error) {
	for _, port := range midi.GetOutPorts() {
		if name != "" && !strings.Contains(port.String(), name) {
			continue
		}
		send, err := midi.SendTo(port)
		if err != nil {
			return nil, "", fmt.Errorf("opening MIDI output %q failed: %w", port.String(), err)
		}
		return Sender(send), port.String(), nil
	}
	if name == "" {
		return nil, "", fmt.Errorf("no MIDI outputs available")
	}
	return nil, "", fmt.Errorf("no MIDI output matching %q", name)
}

// HandleEvent consumes one engine event. Events that carry no MIDI meaning
// are ignored.
func (o *Output) HandleEvent(ev engine.Event) error {
	switch e := ev.(type) {
	case engine.SyncEvent:
		if e.BPM > 0 {
			o.mu.Lock()
			o.bpm = e.BPM
			o.mu.Unlock()
		}
	case engine.PlayStepEvent:
		return o.playSteps(e)
	case engine.PanicEvent:
		return o.Panic()
	}
	return nil
}

func (o *Output) playSteps(e engine.PlayStepEvent) error {
	o.mu.Lock()
	beatDur := time.Duration(float64(time.Minute) / o.bpm)
	o.mu.Unlock()
	var firstErr error
	for _, s := range e.Steps {
		v := s.Velocity
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		vel := uint8(v * 127)
		note := s.Note
		if err := o.send(midi.NoteOn(o.channel, note, vel)); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		hold := time.Duration(float64(beatDur) * float64(s.Gate))
		o.mu.Lock()
		id := o.nextID
		o.nextID++
		o.timers[id] = time.AfterFunc(hold, func() {
			o.mu.Lock()
			delete(o.timers, id)
			o.mu.Unlock()
			o.send(midi.NoteOff(o.channel, note))
		})
		o.mu.Unlock()
	}
	return firstErr
}

// Panic cancels pending note-offs and silences the channel with an
// all-notes-off controller message.
func (o *Output) Panic() error {
	o.mu.Lock()
	for id, t := range o.timers {
		t.Stop()
		delete(o.timers, id)
	}
	o.mu.Unlock()
	return o.send(midi.ControlChange(o.channel, ccAllNotesOff, 0))
}

// Close silences the output. The port itself is owned by the caller.
func (o *Output) Close() error {
	return o.Panic()
}
