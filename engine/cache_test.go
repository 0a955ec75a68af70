package engine

import (
	"reflect"
	"testing"

	"github.com/arikoski/gridbeat"
)

func TestBeatCacheIndexesEnabledSteps(t *testing.T) {
	steps := []gridbeat.Step{
		{ID: 1, Beat: 0, Note: 60, Enabled: true},
		{ID: 2, Beat: 0, Note: 64, Enabled: true},
		{ID: 3, Beat: 3, Note: 67, Enabled: true},
		{ID: 4, Beat: 1, Note: 62, Enabled: false},
	}
	var c BeatCache
	c.Rebuild(steps, 4)
	if got := c.StepsAt(0); len(got) != 2 || got[0].Note != 60 || got[1].Note != 64 {
		t.Errorf("beat 0: %v", got)
	}
	if got := c.StepsAt(1); len(got) != 0 {
		t.Errorf("beat 1 has %v, disabled steps must not be indexed", got)
	}
	if got := c.StepsAt(3); len(got) != 1 || got[0].Note != 67 {
		t.Errorf("beat 3: %v", got)
	}
}

func TestBeatCacheIgnoresOutOfRange(t *testing.T) {
	steps := []gridbeat.Step{
		{ID: 1, Beat: 2, Note: 60, Enabled: true},
		{ID: 2, Beat: 9, Note: 64, Enabled: true},
	}
	var c BeatCache
	c.Rebuild(steps, 4)
	if c.Length() != 4 {
		t.Errorf("cache length %d, want 4", c.Length())
	}
	if got := c.StepsAt(9); got != nil {
		t.Errorf("query past the length returned %v, want nil", got)
	}
	if got := c.StepsAt(-1); got != nil {
		t.Errorf("negative query returned %v, want nil", got)
	}
	// growing the length makes the step visible again after a rebuild
	c.Rebuild(steps, 16)
	if got := c.StepsAt(9); len(got) != 1 || got[0].Note != 64 {
		t.Errorf("beat 9 after growing: %v", got)
	}
}

func TestBeatCacheRebuildIsIdempotent(t *testing.T) {
	steps := []gridbeat.Step{
		{ID: 1, Beat: 0, Note: 60, Enabled: true},
		{ID: 2, Beat: 7, Note: 64, Enabled: true},
	}
	var a, b BeatCache
	a.Rebuild(steps, 8)
	b.Rebuild(steps, 8)
	b.Rebuild(steps, 8)
	for beat := 0; beat < 8; beat++ {
		if !reflect.DeepEqual(a.StepsAt(beat), b.StepsAt(beat)) {
			t.Errorf("beat %d differs after a redundant rebuild", beat)
		}
	}
}
