package gridbeat

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
)

func testPreset() Preset {
	state := NewCategoryState()
	state.Settings.Speed = Speed2
	state.Settings.Length = 8
	state.Settings.BankMode = BankModeContinuous
	state.Banks[BankA].Steps = []Step{
		{ID: 1, Beat: 0, Note: 60, Velocity: 1, Gate: 0.5, Enabled: true},
		{ID: 2, Beat: 4, Note: 64, Velocity: 0.8, Gate: 0.25, Enabled: true},
	}
	state.Banks[BankC].Steps = []Step{
		{ID: 3, Beat: 2, Note: 67, Velocity: 0.5, Gate: 1, Enabled: false},
	}
	return MakePreset("test", state)
}

func TestPresetRoundTrip(t *testing.T) {
	p := testPreset()
	var buf bytes.Buffer
	if err := p.Write(&buf); err != nil {
		t.Fatalf("writing preset failed: %v", err)
	}
	got, err := ReadPreset(&buf)
	if err != nil {
		t.Fatalf("reading preset back failed: %v", err)
	}
	if !reflect.DeepEqual(got, p) {
		t.Errorf("round trip changed the preset:\ngot  %+v\nwant %+v", got, p)
	}
}

func TestPresetYamlUsesReadableNames(t *testing.T) {
	p := testPreset()
	var buf bytes.Buffer
	if err := p.Write(&buf); err != nil {
		t.Fatalf("writing preset failed: %v", err)
	}
	text := buf.String()
	if !strings.Contains(text, "speed: \"2\"") && !strings.Contains(text, "speed: '2'") && !strings.Contains(text, "speed: 2") {
		t.Errorf("speed not serialized by name:\n%s", text)
	}
	if !strings.Contains(text, "bankMode: continuous") {
		t.Errorf("bank mode not serialized by name:\n%s", text)
	}
}

func TestBankSetSynthesizesMissingBanks(t *testing.T) {
	p := Preset{
		Name:   "partial",
		Speed:  Speed1,
		Length: 16,
		Banks: []Bank{
			{ID: BankB, Steps: []Step{{ID: 1, Beat: 0, Note: 60, Enabled: true}}, Enabled: true},
		},
	}
	banks := p.BankSet()
	if len(banks[BankB].Steps) != 1 {
		t.Errorf("bank B lost its steps: %v", banks[BankB].Steps)
	}
	for _, id := range []BankID{BankA, BankC, BankD} {
		if len(banks[id].Steps) != 0 {
			t.Errorf("synthesized bank %v has steps %v", id, banks[id].Steps)
		}
		if !banks[id].Enabled {
			t.Errorf("synthesized bank %v is not enabled", id)
		}
		if banks[id].ID != id {
			t.Errorf("synthesized bank at slot %v carries ID %v", id, banks[id].ID)
		}
	}
}

func TestBankSetDropsInvalidIDs(t *testing.T) {
	p := Preset{
		Name:   "stale",
		Speed:  Speed1,
		Length: 16,
		Banks: []Bank{
			{ID: BankID(9), Steps: []Step{{ID: 1, Beat: 0, Note: 60, Enabled: true}}, Enabled: true},
			{ID: BankA, Steps: []Step{{ID: 2, Beat: 1, Note: 62, Enabled: true}}, Enabled: true},
		},
	}
	banks := p.BankSet()
	for i := range banks {
		for _, s := range banks[i].Steps {
			if s.ID == 1 {
				t.Errorf("step from an invalid bank ended up in bank %v", BankID(i))
			}
		}
	}
	if len(banks[BankA].Steps) != 1 || banks[BankA].Steps[0].Note != 62 {
		t.Errorf("bank A: %v", banks[BankA].Steps)
	}
}

func TestPresetValidate(t *testing.T) {
	good := testPreset()
	if err := good.Validate(); err != nil {
		t.Errorf("valid preset rejected: %v", err)
	}
	bad := good
	bad.Speed = Speed(42)
	if err := bad.Validate(); err == nil {
		t.Errorf("unknown speed accepted")
	}
	bad = good
	bad.Length = 0
	if err := bad.Validate(); err == nil {
		t.Errorf("zero length accepted")
	}
	bad = good
	bad.Length = 17
	if err := bad.Validate(); err == nil {
		t.Errorf("overlong preset accepted")
	}
}

func TestReadPresetRejectsGarbage(t *testing.T) {
	if _, err := ReadPreset(strings.NewReader("{not yaml")); err == nil {
		t.Errorf("malformed yaml accepted")
	}
	if _, err := ReadPreset(strings.NewReader("name: x\nspeed: \"1\"\nlength: 99\n")); err == nil {
		t.Errorf("invalid length accepted")
	}
}

func TestMakePresetIsADeepCopy(t *testing.T) {
	state := NewCategoryState()
	state.Banks[BankA].Steps = []Step{{ID: 1, Beat: 0, Note: 60, Enabled: true}}
	p := MakePreset("snap", state)
	state.Banks[BankA].Steps[0].Note = 72
	if p.Banks[BankA].Steps[0].Note != 60 {
		t.Errorf("preset shares step memory with the live state")
	}
}
