package gridbeat

import (
	"fmt"
)

type (
	// Step is one scheduled note trigger at a specific beat within a bank.
	// Velocity and Gate are normalized to [0,1]; the renderer decides how to
	// map them to loudness and note length. ID is stable across edits so a
	// client can reconcile its view of the grid without rebuilding it.
	//
	// Within a bank there is at most one step per (beat, note) pair; the
	// engine's edit operations maintain this invariant.
	Step struct {
		ID       int     `yaml:"id"`
		Beat     int     `yaml:"beat"`
		Note     byte    `yaml:"note"`
		Velocity float32 `yaml:"velocity"`
		Gate     float32 `yaml:"gate"`
		Enabled  bool    `yaml:"enabled"`
	}

	// BankID identifies one of the four step banks A-D. Banks are never
	// created or destroyed, only cleared.
	BankID int

	// Bank is an independent 1-16 step pattern. Enabled only matters in
	// continuous bank mode, where the playback cycles through the enabled
	// banks at every loop boundary.
	Bank struct {
		ID      BankID `yaml:"id"`
		Steps   []Step `yaml:"steps,flow"`
		Enabled bool   `yaml:"enabled"`
	}

	// Speed expresses how many engine steps fire per external metronome
	// tick, as a rational multiplier. The zero value is Speed1 (one step per
	// tick).
	Speed int

	// BankMode selects whether playback loops the current bank (single) or
	// chains the enabled banks at loop boundaries (continuous).
	BankMode int

	// DisplayMode and EditMode are client-side view settings. They ride
	// along in Settings so that a category switch restores the full editing
	// context, but they have no effect on scheduling and are excluded from
	// presets.
	DisplayMode int
	EditMode    int

	// Settings holds the per-category playback configuration. Length bounds
	// the valid beat indices and sets the loop point.
	Settings struct {
		Speed       Speed
		Length      int
		BankMode    BankMode
		DisplayMode DisplayMode
		EditMode    EditMode
	}

	// CategoryID identifies an instrument category. Each category owns a
	// completely independent CategoryState; switching categories swaps the
	// whole bundle.
	CategoryID int

	// CategoryState is the full live state of one instrument category:
	// banks, settings, transport position, cursor, saved presets and the
	// bank clipboard. State for inactive categories is preserved untouched.
	CategoryState struct {
		Banks        [NumBanks]Bank
		Settings     Settings
		CurrentBank  BankID
		CurrentBeat  int
		SelectedBeat int
		Presets      []Preset
		Clipboard    []Step
	}
)

const (
	BankA BankID = iota
	BankB
	BankC
	BankD
	NumBanks
)

const (
	Speed1_8 Speed = iota
	Speed1_4
	Speed1_2
	Speed1
	Speed2
	Speed4
	Speed8
	NumSpeeds
)

const (
	BankModeSingle BankMode = iota
	BankModeContinuous
)

const (
	DisplayModeGrid DisplayMode = iota
	DisplayModeNotes
)

const (
	EditModeToggle EditMode = iota
	EditModeVelocity
	EditModeGate
)

const (
	MinLength = 1
	MaxLength = 16

	DefaultVelocity = 1.0
	DefaultGate     = 0.5
)

var speedRatios = [NumSpeeds]struct{ num, den int }{
	{1, 8}, {1, 4}, {1, 2}, {1, 1}, {2, 1}, {4, 1}, {8, 1},
}

var speedNames = [NumSpeeds]string{"1/8", "1/4", "1/2", "1", "2", "4", "8"}

func (b BankID) Valid() bool { return b >= BankA && b < NumBanks }

func (b BankID) String() string {
	if !b.Valid() {
		return "?"
	}
	return string(rune('A' + int(b)))
}

func (s Speed) Valid() bool { return s >= 0 && s < NumSpeeds }

// Ratio returns the steps-per-tick multiplier as a rational num/den.
func (s Speed) Ratio() (num, den int) {
	if !s.Valid() {
		return 0, 1
	}
	return speedRatios[s].num, speedRatios[s].den
}

// StepsPerTick returns the multiplier as a float, for display purposes. The
// scheduling code works on the rational form from Ratio.
func (s Speed) StepsPerTick() float64 {
	num, den := s.Ratio()
	return float64(num) / float64(den)
}

func (s Speed) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Speed(%d)", int(s))
	}
	return speedNames[s]
}

// ParseSpeed is the inverse of String, used when unmarshaling presets.
func ParseSpeed(text string) (Speed, error) {
	for i, n := range speedNames {
		if n == text {
			return Speed(i), nil
		}
	}
	return 0, fmt.Errorf("unknown speed %q", text)
}

func (m BankMode) String() string {
	if m == BankModeContinuous {
		return "continuous"
	}
	return "single"
}

func ParseBankMode(text string) (BankMode, error) {
	switch text {
	case "single":
		return BankModeSingle, nil
	case "continuous":
		return BankModeContinuous, nil
	}
	return 0, fmt.Errorf("unknown bank mode %q", text)
}

// Copy makes a deep copy of a Bank.
func (b *Bank) Copy() Bank {
	steps := make([]Step, len(b.Steps))
	copy(steps, b.Steps)
	return Bank{ID: b.ID, Steps: steps, Enabled: b.Enabled}
}

// StepAt returns a pointer to the step at (beat, note), or nil if the bank
// has no such step.
func (b *Bank) StepAt(beat int, note byte) *Step {
	for i := range b.Steps {
		if b.Steps[i].Beat == beat && b.Steps[i].Note == note {
			return &b.Steps[i]
		}
	}
	return nil
}

// Validate checks that the settings can be used for scheduling: the speed
// must be a known multiplier and the length within the 1-16 step range.
func (s *Settings) Validate() error {
	if !s.Speed.Valid() {
		return fmt.Errorf("unknown speed value %d", int(s.Speed))
	}
	if s.Length < MinLength || s.Length > MaxLength {
		return fmt.Errorf("length %d outside [%d,%d]", s.Length, MinLength, MaxLength)
	}
	return nil
}

// DefaultSettings are the settings a fresh category starts with.
func DefaultSettings() Settings {
	return Settings{Speed: Speed1, Length: MaxLength, BankMode: BankModeSingle}
}

// NewCategoryState creates the default bundle for a category: four empty
// enabled banks, default settings, transport at the start of bank A.
func NewCategoryState() *CategoryState {
	c := &CategoryState{Settings: DefaultSettings()}
	for i := range c.Banks {
		c.Banks[i] = Bank{ID: BankID(i), Enabled: true}
	}
	return c
}

// Copy makes a deep copy of a CategoryState. Presets are immutable once
// saved, so the preset slice header is copied but the presets themselves are
// shared.
func (c *CategoryState) Copy() CategoryState {
	ret := *c
	for i := range c.Banks {
		ret.Banks[i] = c.Banks[i].Copy()
	}
	ret.Presets = make([]Preset, len(c.Presets))
	copy(ret.Presets, c.Presets)
	ret.Clipboard = make([]Step, len(c.Clipboard))
	copy(ret.Clipboard, c.Clipboard)
	return ret
}
