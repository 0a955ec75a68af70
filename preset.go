package gridbeat

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Preset is a serializable snapshot of all four banks plus the musically
// meaningful settings. DisplayMode and EditMode are deliberately excluded:
// they describe the editing view, not the music. Presets are immutable once
// saved; loading one replaces the active category's banks and settings
// wholesale and resets the playhead.
type Preset struct {
	Name     string   `yaml:"name"`
	Speed    Speed    `yaml:"speed"`
	Length   int      `yaml:"length"`
	BankMode BankMode `yaml:"bankMode"`
	Banks    []Bank   `yaml:"banks"`
}

func (s Speed) MarshalYAML() (any, error) { return s.String(), nil }

func (s *Speed) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return err
	}
	parsed, err := ParseSpeed(text)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (m BankMode) MarshalYAML() (any, error) { return m.String(), nil }

func (m *BankMode) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return err
	}
	parsed, err := ParseBankMode(text)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MakePreset snapshots the category's banks and settings into a new preset.
func MakePreset(name string, c *CategoryState) Preset {
	p := Preset{
		Name:     name,
		Speed:    c.Settings.Speed,
		Length:   c.Settings.Length,
		BankMode: c.Settings.BankMode,
		Banks:    make([]Bank, 0, NumBanks),
	}
	for i := range c.Banks {
		p.Banks = append(p.Banks, c.Banks[i].Copy())
	}
	return p
}

// BankSet resolves the preset's bank list into the fixed four-bank array.
// Banks are placed by their ID; banks missing from the preset are
// synthesized empty rather than failing the load, so stale or partial
// preset data can never crash a load. Banks with an invalid ID are dropped.
func (p *Preset) BankSet() [NumBanks]Bank {
	var ret [NumBanks]Bank
	for i := range ret {
		ret[i] = Bank{ID: BankID(i), Enabled: true}
	}
	for i := range p.Banks {
		if id := p.Banks[i].ID; id.Valid() {
			ret[id] = p.Banks[i].Copy()
		}
	}
	return ret
}

// Validate checks the musically meaningful fields of the preset. Bank
// problems are not errors; BankSet repairs those silently.
func (p *Preset) Validate() error {
	if !p.Speed.Valid() {
		return fmt.Errorf("preset %q: unknown speed value %d", p.Name, int(p.Speed))
	}
	if p.Length < MinLength || p.Length > MaxLength {
		return fmt.Errorf("preset %q: length %d outside [%d,%d]", p.Name, p.Length, MinLength, MaxLength)
	}
	return nil
}

// ReadPreset parses a yaml preset and validates it.
func ReadPreset(r io.Reader) (Preset, error) {
	var p Preset
	if err := yaml.NewDecoder(r).Decode(&p); err != nil {
		return Preset{}, fmt.Errorf("decoding preset: %v", err)
	}
	if err := p.Validate(); err != nil {
		return Preset{}, err
	}
	return p, nil
}

// Write serializes the preset as yaml.
func (p *Preset) Write(w io.Writer) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding preset: %v", err)
	}
	_, err = w.Write(data)
	return err
}
