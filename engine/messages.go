package engine

import (
	"time"

	"github.com/arikoski/gridbeat"
)

type (
	// Msg is a message into the engine. All state mutation goes through
	// messages serialized into the engine's own goroutine; the scheduling
	// algorithm is not designed to tolerate concurrent mutation
	// mid-computation.
	Msg interface{ engineMsg() }

	// Event is an engine output. The engine never calls back into the host;
	// it returns explicit events from its update functions and the run loop
	// forwards them over Broker.ToHost, which keeps the engine testable
	// without a host event loop.
	Event interface{ hostEvent() }
)

type (
	// TickMsg is the external metronome tick, the sole driver of playback
	// progress. Time is the tick's arrival time; BPM is the shared tempo
	// carried with the tick.
	TickMsg struct {
		Time time.Time
		BPM  float64
	}

	// SetSettingsMsg reconfigures tempo, speed and loop length as one
	// atomic operation. Invalid values abort the whole message and leave
	// the previous settings in place.
	SetSettingsMsg struct {
		BPM    float64
		Speed  gridbeat.Speed
		Length int
	}

	// SetStepsMsg replaces a bank's full step set. A zero-ID step keeps the
	// ID of the step it replaces at the same (beat, note) and otherwise
	// gets a fresh one; duplicate (beat, note) pairs keep the last
	// occurrence.
	SetStepsMsg struct {
		Bank  gridbeat.BankID
		Steps []gridbeat.Step
	}

	// ToggleStepMsg adds a step at (beat, note) with default velocity and
	// gate, or removes the existing one.
	ToggleStepMsg struct {
		Bank gridbeat.BankID
		Beat int
		Note byte
	}

	// SetStepGainMsg tweaks velocity and gate of an existing step in place.
	SetStepGainMsg struct {
		Bank     gridbeat.BankID
		Beat     int
		Note     byte
		Velocity float32
		Gate     float32
	}

	ClearBankMsg struct{ Bank gridbeat.BankID }

	SetBankEnabledMsg struct {
		Bank    gridbeat.BankID
		Enabled bool
	}

	// SelectBankMsg requests a bank switch. While stopped the switch is
	// immediate; during playback it commits at the next loop boundary, so
	// a running pattern always plays out its loop in one bank.
	SelectBankMsg struct{ Bank gridbeat.BankID }

	SetBankModeMsg struct{ Mode gridbeat.BankMode }

	SetViewMsg struct {
		Display gridbeat.DisplayMode
		Edit    gridbeat.EditMode
	}

	SelectBeatMsg struct{ Beat int }

	// StartPlayMsg arms playback: the engine enters the waiting-for-tick
	// state and actually starts on the next external tick, guaranteeing
	// phase alignment with the shared clock instead of an arbitrary local
	// start time.
	StartPlayMsg struct{}

	// StopPlayMsg is a hard stop: playback halts immediately and the
	// renderer is told to silence everything.
	StopPlayMsg struct{}

	// SoftStopMsg lets the current loop play to its end before stopping,
	// so in-flight notes finish naturally.
	SoftStopMsg struct{}

	// ResumePlayMsg cancels a pending soft stop, or re-arms playback when
	// stopped.
	ResumePlayMsg struct{}

	SetCategoryMsg struct{ Category gridbeat.CategoryID }

	RecordingMsg struct{ Enabled bool }

	// NoteInputMsg is a live note from the player's controller. While
	// recording during playback it is written into the current bank at the
	// sounding beat.
	NoteInputMsg struct {
		Note     byte
		Velocity float32
	}

	SavePresetMsg struct{ Name string }

	// LoadPresetMsg loads a previously saved preset of the active category
	// by name.
	LoadPresetMsg struct{ Name string }

	// ImportPresetMsg loads a preset that came from outside the engine,
	// e.g. a file; it is also added to the category's preset list.
	ImportPresetMsg struct{ Preset gridbeat.Preset }

	CopyBankMsg  struct{ Bank gridbeat.BankID }
	PasteBankMsg struct{ Bank gridbeat.BankID }

	// cachesMsg delivers freshly built beat caches from the recomputer back
	// to the engine. Stale generations are ignored.
	cachesMsg struct {
		generation int
		caches     [gridbeat.NumBanks]BeatCache
	}
)

func (TickMsg) engineMsg()           {}
func (SetSettingsMsg) engineMsg()    {}
func (SetStepsMsg) engineMsg()       {}
func (ToggleStepMsg) engineMsg()     {}
func (SetStepGainMsg) engineMsg()    {}
func (ClearBankMsg) engineMsg()      {}
func (SetBankEnabledMsg) engineMsg() {}
func (SelectBankMsg) engineMsg()     {}
func (SetBankModeMsg) engineMsg()    {}
func (SetViewMsg) engineMsg()        {}
func (SelectBeatMsg) engineMsg()     {}
func (StartPlayMsg) engineMsg()      {}
func (StopPlayMsg) engineMsg()       {}
func (SoftStopMsg) engineMsg()       {}
func (ResumePlayMsg) engineMsg()     {}
func (SetCategoryMsg) engineMsg()    {}
func (RecordingMsg) engineMsg()      {}
func (NoteInputMsg) engineMsg()      {}
func (SavePresetMsg) engineMsg()     {}
func (LoadPresetMsg) engineMsg()     {}
func (ImportPresetMsg) engineMsg()   {}
func (CopyBankMsg) engineMsg()       {}
func (PasteBankMsg) engineMsg()      {}
func (cachesMsg) engineMsg()         {}

type (
	// BeatEvent fires once per beat. At the loop boundary (beat 0) it is
	// emitted before that beat's steps so a bank switch can commit first;
	// for all other beats the steps come first. See Engine.fireBeat.
	BeatEvent struct{ Beat int }

	// PlayStepEvent carries the enabled steps to sound at the
	// just-announced beat. Beats with no steps produce no event. The slice
	// is the receiver's to keep; it never aliases engine memory, so later
	// edits cannot rewrite an event already in flight to another goroutine.
	PlayStepEvent struct {
		Beat  int
		Steps []gridbeat.Step
	}

	// SyncEvent fires once per external tick regardless of whether any
	// step fired, as a heartbeat for clients.
	SyncEvent struct {
		Time time.Time
		BPM  float64
	}

	StateEvent struct{ State PlayState }

	// BankEvent announces that a bank switch committed at a loop boundary.
	BankEvent struct{ Bank gridbeat.BankID }

	// PanicEvent tells the renderer to silence all sounding notes
	// immediately. Emitted on hard stops and category switches.
	PanicEvent struct{}

	// AlertEvent reports a non-fatal problem. Error priority means a
	// requested operation was aborted; Warning priority alerts are
	// informational and the engine has already recovered.
	AlertEvent struct {
		Name     string
		Message  string
		Priority AlertPriority
	}

	// RecordedStepEvent reports a step written by live recording, so the
	// grid view can show it without polling.
	RecordedStepEvent struct {
		Bank gridbeat.BankID
		Step gridbeat.Step
	}
)

func (BeatEvent) hostEvent()         {}
func (PlayStepEvent) hostEvent()     {}
func (SyncEvent) hostEvent()         {}
func (StateEvent) hostEvent()        {}
func (BankEvent) hostEvent()         {}
func (PanicEvent) hostEvent()        {}
func (AlertEvent) hostEvent()        {}
func (RecordedStepEvent) hostEvent() {}

type AlertPriority int

const (
	Notify AlertPriority = iota
	Warning
	Error
)

type PlayState int

const (
	// StateStopped: no pending work, current beat reset to 0.
	StateStopped PlayState = iota
	// StateWaitingForTick: playback armed, deferred to the next external
	// tick so the phase aligns with the shared clock.
	StateWaitingForTick
	// StatePlaying: steps fan out on every tick.
	StatePlaying
	// StateSoftStopPending: playing until the end of the current loop.
	StateSoftStopPending
)

func (s PlayState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateWaitingForTick:
		return "waiting_for_tick"
	case StatePlaying:
		return "playing"
	case StateSoftStopPending:
		return "soft_stop_pending"
	}
	return "unknown"
}
