package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/arikoski/gridbeat"
)

// frameBudget is the scheduling slack for sub-step dispatch: a sub-step
// whose target time is within one frame of now fires immediately instead of
// waiting out another wakeup. Matches a 60 Hz host frame callback.
const frameBudget = 16 * time.Millisecond

type (
	// Engine is the step scheduler. It reconciles the coarse external
	// metronome tick with the finer step grid, resolves which steps sound
	// at each beat through per-bank beat caches, and arbitrates bank
	// switches at loop boundaries.
	//
	// The engine is single-goroutine: all mutation arrives as Msg values
	// through Update, ticks through TickMsg, and timer wakeups through
	// Advance. Each entry point returns the events produced; the returned
	// slice is reused by the next call, so callers forward or copy it
	// before updating again.
	Engine struct {
		broker *Broker

		categories *categoryStore
		category   gridbeat.CategoryID
		live       *gridbeat.CategoryState

		bpm       float64
		state     PlayState
		tickCount int
		recording bool
		lastBeat  int

		// firstLoop suppresses continuous-mode bank cycling on the beat 0
		// that starts playback, so the armed bank plays its first loop.
		firstLoop bool

		nextBank    gridbeat.BankID
		hasNextBank bool

		caches      [gridbeat.NumBanks]BeatCache
		cachesDirty bool
		generation  int

		nextStepID int

		pending []subStep
		events  []Event
	}

	// subStep is one scheduled dispatch inside a tick, used when the speed
	// fans a single tick out into several time-ordered beats.
	subStep struct {
		target time.Time
		beat   int
	}
)

func NewEngine(broker *Broker) *Engine {
	e := &Engine{
		broker:     broker,
		categories: newCategoryStore(),
	}
	e.live = e.categories.state(e.category)
	e.cachesDirty = true
	return e
}

// Accessors, mainly for hosts polling state between events and for tests.

func (e *Engine) State() PlayState               { return e.state }
func (e *Engine) CurrentBeat() int               { return e.live.CurrentBeat }
func (e *Engine) CurrentBank() gridbeat.BankID   { return e.live.CurrentBank }
func (e *Engine) Category() gridbeat.CategoryID  { return e.category }
func (e *Engine) IsRecording() bool              { return e.recording }
func (e *Engine) Settings() gridbeat.Settings    { return e.live.Settings }
func (e *Engine) BPM() float64                   { return e.bpm }
func (e *Engine) Presets() []gridbeat.Preset     { return e.live.Presets }

// BankSteps returns a copy of a bank's steps.
func (e *Engine) BankSteps(bank gridbeat.BankID) []gridbeat.Step {
	if !bank.Valid() {
		return nil
	}
	return append([]gridbeat.Step(nil), e.live.Banks[bank].Steps...)
}

// Update processes one message and returns the events it produced. The
// returned slice is valid until the next Update/Advance call.
func (e *Engine) Update(msg Msg) []Event {
	e.events = e.events[:0]
	switch m := msg.(type) {
	case TickMsg:
		e.tick(m)
	case SetSettingsMsg:
		e.setSettings(m)
	case SetStepsMsg:
		e.setSteps(m)
	case ToggleStepMsg:
		e.toggleStep(m)
	case SetStepGainMsg:
		e.setStepGain(m)
	case ClearBankMsg:
		if m.Bank.Valid() {
			e.live.Banks[m.Bank].Steps = nil
			e.invalidateCaches()
		}
	case SetBankEnabledMsg:
		if m.Bank.Valid() {
			e.live.Banks[m.Bank].Enabled = m.Enabled
		}
	case SelectBankMsg:
		e.selectBank(m.Bank)
	case SetBankModeMsg:
		e.live.Settings.BankMode = m.Mode
	case SetViewMsg:
		e.live.Settings.DisplayMode = m.Display
		e.live.Settings.EditMode = m.Edit
	case SelectBeatMsg:
		if m.Beat >= 0 && m.Beat < e.live.Settings.Length {
			e.live.SelectedBeat = m.Beat
		}
	case StartPlayMsg:
		e.startPlayback()
	case StopPlayMsg:
		e.stopPlayback(true)
	case SoftStopMsg:
		e.softStop()
	case ResumePlayMsg:
		e.resumePlayback()
	case SetCategoryMsg:
		e.setCategory(m.Category)
	case RecordingMsg:
		e.recording = m.Enabled
	case NoteInputMsg:
		e.noteInput(m)
	case SavePresetMsg:
		e.savePreset(m.Name)
	case LoadPresetMsg:
		e.loadPresetByName(m.Name)
	case ImportPresetMsg:
		e.importPreset(m.Preset)
	case CopyBankMsg:
		if m.Bank.Valid() {
			e.live.Clipboard = append([]gridbeat.Step(nil), e.live.Banks[m.Bank].Steps...)
		}
	case PasteBankMsg:
		e.pasteBank(m.Bank)
	case cachesMsg:
		// advisory cache warm from the recomputer; only install results
		// built from the current data generation
		if m.generation == e.generation {
			e.caches = m.caches
			e.cachesDirty = false
		}
	default:
		// ignore unknown messages
	}
	return e.events
}

// Advance fires the pending sub-steps that are due at now and returns the
// events produced. Hosts call it when the deadline from NextWake passes;
// a wake always re-validates the playing flag first, so a stop issued
// between scheduling and firing is honored and no stray notes escape.
func (e *Engine) Advance(now time.Time) []Event {
	e.events = e.events[:0]
	if e.state != StatePlaying && e.state != StateSoftStopPending {
		e.pending = e.pending[:0]
		return e.events
	}
	e.fireDue(now)
	return e.events
}

// NextWake returns the deadline of the earliest pending sub-step, if any.
func (e *Engine) NextWake() (time.Time, bool) {
	if len(e.pending) == 0 {
		return time.Time{}, false
	}
	return e.pending[0].target.Add(-frameBudget), true
}

func (e *Engine) emit(ev Event) { e.events = append(e.events, ev) }

func (e *Engine) alert(name, message string, priority AlertPriority) {
	e.emit(AlertEvent{Name: name, Message: message, Priority: priority})
}

func (e *Engine) setState(s PlayState) {
	if e.state != s {
		e.state = s
		e.emit(StateEvent{State: s})
	}
}

// tick is the heart of the synchronization algorithm. One external tick
// either fans out into several time-ordered sub-steps (fast speeds), or is
// counted and mostly consumed silently (slow speeds).
func (e *Engine) tick(m TickMsg) {
	e.emit(SyncEvent{Time: m.Time, BPM: m.BPM})
	if m.BPM > 0 {
		e.bpm = m.BPM
	}
	switch e.state {
	case StateStopped:
		return
	case StateWaitingForTick:
		// the deferred start: phase-align with the shared clock
		e.tickCount = 0
		e.firstLoop = true
		e.setState(StatePlaying)
	}
	if e.bpm <= 0 {
		e.alert("Tick", "no positive bpm known, tick dropped", Warning)
		return
	}
	// sub-steps left over from the previous tick are overdue; flush them
	// before this tick's beats so dispatch order is preserved
	e.firePending()
	if e.state != StatePlaying && e.state != StateSoftStopPending {
		return // flushing may have committed a soft stop
	}
	num, den := e.live.Settings.Speed.Ratio()
	if num <= 0 {
		e.alert("Tick", fmt.Sprintf("invalid speed value %d", int(e.live.Settings.Speed)), Error)
		return
	}
	length := e.live.Settings.Length
	if num >= den {
		// fast: several steps within one tick, spaced evenly from the
		// tick's arrival time
		n := int(math.Round(float64(num) / float64(den)))
		sub := time.Duration(float64(time.Minute) / (e.bpm * float64(n)))
		base := e.live.CurrentBeat
		for i := 0; i < n; i++ {
			e.pending = append(e.pending, subStep{
				target: m.Time.Add(time.Duration(i) * sub),
				beat:   (base + i) % length,
			})
		}
		e.live.CurrentBeat = (base + n) % length
		e.fireDue(m.Time)
	} else {
		// slow: a step fires only every ticksPerBeat ticks
		ticksPerBeat := int(math.Round(float64(den) / float64(num)))
		if e.tickCount%ticksPerBeat == 0 {
			e.fireBeat(e.live.CurrentBeat)
			if e.state == StatePlaying || e.state == StateSoftStopPending {
				e.live.CurrentBeat = (e.live.CurrentBeat + 1) % length
			}
		}
		e.tickCount++
	}
}

// fireDue dispatches pending sub-steps whose target time is within one
// frame of now.
func (e *Engine) fireDue(now time.Time) {
	fired := 0
	for fired < len(e.pending) && !e.pending[fired].target.Add(-frameBudget).After(now) {
		e.fireBeat(e.pending[fired].beat)
		fired++
		if e.state != StatePlaying && e.state != StateSoftStopPending {
			// a soft stop committed mid-tick; the rest of the fan-out is gone
			return
		}
	}
	if fired > 0 {
		copy(e.pending, e.pending[fired:])
		e.pending = e.pending[:len(e.pending)-fired]
	}
}

// firePending flushes all pending sub-steps regardless of their targets.
func (e *Engine) firePending() {
	for len(e.pending) > 0 {
		beat := e.pending[0].beat
		copy(e.pending, e.pending[1:])
		e.pending = e.pending[:len(e.pending)-1]
		e.fireBeat(beat)
		if e.state != StatePlaying && e.state != StateSoftStopPending {
			return
		}
	}
}

// fireBeat dispatches one beat. The ordering asymmetry here is deliberate
// and load-bearing: at the loop boundary the beat-change notification goes
// out first and the bank switch commits before the steps are resolved, so
// beat 0's steps always come from the incoming bank, never the one being
// switched away from. Every other beat dispatches steps first, then
// announces the beat.
func (e *Engine) fireBeat(beat int) {
	if beat == 0 {
		if e.state == StateSoftStopPending {
			// the loop played to its end; in-flight notes decay naturally
			e.stopPlayback(false)
			return
		}
		e.emit(BeatEvent{Beat: 0})
		if e.commitBankSwitch() {
			e.emit(BankEvent{Bank: e.live.CurrentBank})
		}
		e.lastBeat = 0
		if steps := e.stepsAt(e.live.CurrentBank, 0); len(steps) > 0 {
			e.emit(PlayStepEvent{Beat: 0, Steps: append([]gridbeat.Step(nil), steps...)})
		}
		return
	}
	e.lastBeat = beat
	if steps := e.stepsAt(e.live.CurrentBank, beat); len(steps) > 0 {
		e.emit(PlayStepEvent{Beat: beat, Steps: append([]gridbeat.Step(nil), steps...)})
	}
	e.emit(BeatEvent{Beat: beat})
}

// commitBankSwitch applies the bank arbitration for a loop boundary: a
// manually requested switch wins; otherwise continuous mode cycles to the
// next enabled bank in fixed A-B-C-D order. If the current bank is itself
// disabled, the first enabled bank is chosen; if no bank is enabled the
// selection is left unchanged.
func (e *Engine) commitBankSwitch() bool {
	prev := e.live.CurrentBank
	switch {
	case e.hasNextBank:
		e.live.CurrentBank = e.nextBank
		e.hasNextBank = false
	case e.live.Settings.BankMode == gridbeat.BankModeContinuous:
		if e.firstLoop && e.live.Banks[e.live.CurrentBank].Enabled {
			break // the armed bank plays its first loop before cycling
		}
		if next, ok := nextEnabledBank(&e.live.Banks, e.live.CurrentBank); ok {
			e.live.CurrentBank = next
		}
	}
	e.firstLoop = false
	return e.live.CurrentBank != prev
}

func nextEnabledBank(banks *[gridbeat.NumBanks]gridbeat.Bank, current gridbeat.BankID) (gridbeat.BankID, bool) {
	if !banks[current].Enabled {
		for i := range banks {
			if banks[i].Enabled {
				return gridbeat.BankID(i), true
			}
		}
		return 0, false
	}
	for i := 1; i <= int(gridbeat.NumBanks); i++ {
		id := gridbeat.BankID((int(current) + i) % int(gridbeat.NumBanks))
		if banks[id].Enabled {
			return id, true
		}
	}
	return 0, false
}

func (e *Engine) startPlayback() {
	if e.state != StateStopped {
		return
	}
	if e.bpm <= 0 {
		e.alert("StartPlayback", fmt.Sprintf("cannot start playback: bpm %g is not positive", e.bpm), Error)
		return
	}
	if !e.live.Settings.Speed.Valid() {
		e.alert("StartPlayback", fmt.Sprintf("cannot start playback: unknown speed value %d", int(e.live.Settings.Speed)), Error)
		return
	}
	e.live.CurrentBeat = 0
	e.tickCount = 0
	e.setState(StateWaitingForTick)
}

func (e *Engine) stopPlayback(hard bool) {
	e.pending = e.pending[:0]
	e.live.CurrentBeat = 0
	e.tickCount = 0
	e.setState(StateStopped)
	if hard {
		e.emit(PanicEvent{})
	}
}

func (e *Engine) softStop() {
	switch e.state {
	case StatePlaying:
		e.setState(StateSoftStopPending)
	case StateWaitingForTick:
		// nothing is in flight yet, stop outright
		e.stopPlayback(false)
	}
}

func (e *Engine) resumePlayback() {
	switch e.state {
	case StateSoftStopPending:
		e.setState(StatePlaying)
	case StateStopped:
		e.startPlayback()
	}
}

func (e *Engine) setSettings(m SetSettingsMsg) {
	if m.BPM <= 0 {
		e.alert("UpdateSettings", fmt.Sprintf("bpm %g is not positive", m.BPM), Error)
		return
	}
	if !m.Speed.Valid() {
		e.alert("UpdateSettings", fmt.Sprintf("unknown speed value %d", int(m.Speed)), Error)
		return
	}
	if m.Length < gridbeat.MinLength || m.Length > gridbeat.MaxLength {
		e.alert("UpdateSettings", fmt.Sprintf("length %d outside [%d,%d]", m.Length, gridbeat.MinLength, gridbeat.MaxLength), Error)
		return
	}
	lengthChanged := m.Length != e.live.Settings.Length
	speedChanged := m.Speed != e.live.Settings.Speed
	e.bpm = m.BPM
	e.live.Settings.Speed = m.Speed
	e.live.Settings.Length = m.Length
	if speedChanged {
		// reset the counter so the new multiplier takes effect on the very
		// next tick instead of waiting out a stale cycle
		e.tickCount = 0
	}
	if lengthChanged {
		if e.live.CurrentBeat >= m.Length {
			e.live.CurrentBeat = 0
		}
		if e.live.SelectedBeat >= m.Length {
			e.live.SelectedBeat = 0
		}
		e.invalidateCaches()
	}
}

func (e *Engine) setSteps(m SetStepsMsg) {
	if !m.Bank.Valid() {
		e.alert("SetSteps", fmt.Sprintf("no such bank %d", int(m.Bank)), Error)
		return
	}
	e.live.Banks[m.Bank].Steps = e.normalizeSteps(e.live.Banks[m.Bank].Steps, m.Steps)
	e.invalidateCaches()
}

// normalizeSteps enforces the step invariants on an externally supplied
// set: at most one step per (beat, note) with the last occurrence winning,
// and a stable nonzero ID on every step. A zero-ID step landing on a
// (beat, note) that already holds a step in existing inherits that step's
// ID, so resending an unchanged grid never churns identities.
func (e *Engine) normalizeSteps(existing, steps []gridbeat.Step) []gridbeat.Step {
	prior := make(map[int]int, len(existing))
	for _, s := range existing {
		prior[s.Beat<<8|int(s.Note)] = s.ID
	}
	ret := make([]gridbeat.Step, 0, len(steps))
	index := make(map[int]int, len(steps))
	for _, s := range steps {
		key := s.Beat<<8 | int(s.Note)
		if s.ID == 0 {
			if id, ok := prior[key]; ok {
				s.ID = id
			} else {
				e.nextStepID++
				s.ID = e.nextStepID
			}
		} else if s.ID > e.nextStepID {
			e.nextStepID = s.ID
		}
		if at, ok := index[key]; ok {
			ret[at] = s
			continue
		}
		index[key] = len(ret)
		ret = append(ret, s)
	}
	return ret
}

func (e *Engine) toggleStep(m ToggleStepMsg) {
	if !m.Bank.Valid() {
		e.alert("ToggleStep", fmt.Sprintf("no such bank %d", int(m.Bank)), Error)
		return
	}
	if m.Beat < 0 || m.Beat >= e.live.Settings.Length {
		e.alert("ToggleStep", fmt.Sprintf("beat %d outside [0,%d)", m.Beat, e.live.Settings.Length), Error)
		return
	}
	bank := &e.live.Banks[m.Bank]
	for i := range bank.Steps {
		if bank.Steps[i].Beat == m.Beat && bank.Steps[i].Note == m.Note {
			bank.Steps = append(bank.Steps[:i], bank.Steps[i+1:]...)
			e.invalidateCaches()
			return
		}
	}
	e.nextStepID++
	bank.Steps = append(bank.Steps, gridbeat.Step{
		ID:       e.nextStepID,
		Beat:     m.Beat,
		Note:     m.Note,
		Velocity: gridbeat.DefaultVelocity,
		Gate:     gridbeat.DefaultGate,
		Enabled:  true,
	})
	e.invalidateCaches()
}

func (e *Engine) setStepGain(m SetStepGainMsg) {
	if !m.Bank.Valid() {
		return
	}
	step := e.live.Banks[m.Bank].StepAt(m.Beat, m.Note)
	if step == nil {
		return
	}
	step.Velocity = clamp01(m.Velocity)
	step.Gate = clamp01(m.Gate)
	e.invalidateCaches()
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (e *Engine) selectBank(bank gridbeat.BankID) {
	if !bank.Valid() {
		e.alert("SelectBank", fmt.Sprintf("no such bank %d", int(bank)), Error)
		return
	}
	if e.state == StatePlaying || e.state == StateSoftStopPending {
		// commit at the next loop boundary, never mid-loop
		e.nextBank = bank
		e.hasNextBank = true
		return
	}
	if e.live.CurrentBank != bank {
		e.live.CurrentBank = bank
		e.emit(BankEvent{Bank: bank})
	}
}

func (e *Engine) setCategory(id gridbeat.CategoryID) {
	if id == e.category {
		return
	}
	// a different category cannot share an in-flight playback cursor
	e.stopPlayback(true)
	e.recording = false
	e.hasNextBank = false
	e.category = id
	e.live = e.categories.state(id)
	e.invalidateCaches()
}

func (e *Engine) noteInput(m NoteInputMsg) {
	if !e.recording || (e.state != StatePlaying && e.state != StateSoftStopPending) {
		return
	}
	bank := &e.live.Banks[e.live.CurrentBank]
	step := bank.StepAt(e.lastBeat, m.Note)
	if step == nil {
		e.nextStepID++
		bank.Steps = append(bank.Steps, gridbeat.Step{
			ID:       e.nextStepID,
			Beat:     e.lastBeat,
			Note:     m.Note,
			Velocity: clamp01(m.Velocity),
			Gate:     gridbeat.DefaultGate,
			Enabled:  true,
		})
		step = &bank.Steps[len(bank.Steps)-1]
	} else {
		step.Velocity = clamp01(m.Velocity)
		step.Enabled = true
	}
	e.emit(RecordedStepEvent{Bank: e.live.CurrentBank, Step: *step})
	e.invalidateCaches()
}

func (e *Engine) savePreset(name string) {
	p := gridbeat.MakePreset(name, e.live)
	for i := range e.live.Presets {
		if e.live.Presets[i].Name == name {
			e.live.Presets[i] = p
			return
		}
	}
	e.live.Presets = append(e.live.Presets, p)
}

func (e *Engine) loadPresetByName(name string) {
	for i := range e.live.Presets {
		if e.live.Presets[i].Name == name {
			e.loadPreset(e.live.Presets[i])
			return
		}
	}
	e.alert("LoadPreset", fmt.Sprintf("no preset named %q", name), Error)
}

func (e *Engine) importPreset(p gridbeat.Preset) {
	if err := p.Validate(); err != nil {
		e.alert("ImportPreset", err.Error(), Error)
		return
	}
	e.live.Presets = append(e.live.Presets, p)
	e.loadPreset(p)
}

// loadPreset replaces the active category's banks and musical settings
// wholesale. UI-only settings are untouched and the playhead resets.
func (e *Engine) loadPreset(p gridbeat.Preset) {
	banks := p.BankSet()
	for i := range banks {
		banks[i].Steps = e.normalizeSteps(nil, banks[i].Steps)
	}
	e.live.Banks = banks
	e.live.Settings.Speed = p.Speed
	e.live.Settings.Length = p.Length
	e.live.Settings.BankMode = p.BankMode
	e.live.CurrentBeat = 0
	e.tickCount = 0
	e.hasNextBank = false
	e.invalidateCaches()
}

func (e *Engine) pasteBank(bank gridbeat.BankID) {
	if !bank.Valid() || e.live.Clipboard == nil {
		return
	}
	steps := make([]gridbeat.Step, len(e.live.Clipboard))
	copy(steps, e.live.Clipboard)
	for i := range steps {
		steps[i].ID = 0 // pasted steps are new entities
	}
	e.live.Banks[bank].Steps = e.normalizeSteps(e.live.Banks[bank].Steps, steps)
	e.invalidateCaches()
}

// invalidateCaches bumps the data generation and hands a snapshot to the
// recomputer. If the recomputer cannot take it (not running, or behind),
// the caches are rebuilt synchronously right away; either way the next
// query sees correct data.
func (e *Engine) invalidateCaches() {
	e.generation++
	e.cachesDirty = true
	snap := RecomputeMsg{Generation: e.generation, Length: e.live.Settings.Length}
	for i := range e.live.Banks {
		snap.Banks[i] = append([]gridbeat.Step(nil), e.live.Banks[i].Steps...)
	}
	if !TrySend(e.broker.ToRecompute, snap) {
		e.rebuildCaches()
	}
}

func (e *Engine) rebuildCaches() {
	length := e.live.Settings.Length
	for i := range e.caches {
		e.caches[i].Rebuild(e.live.Banks[i].Steps, length)
	}
	e.cachesDirty = false
}

// stepsAt resolves the steps for a beat from the bank's cache, rebuilding
// inline when the warm copy has not arrived yet.
func (e *Engine) stepsAt(bank gridbeat.BankID, beat int) []gridbeat.Step {
	if e.cachesDirty {
		e.rebuildCaches()
	}
	return e.caches[bank].StepsAt(beat)
}
