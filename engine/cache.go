package engine

import (
	"github.com/arikoski/gridbeat"
)

// BeatCache is a derived index from beat number to the enabled steps at
// that beat. It exists purely to keep filtering work off the timing-critical
// dispatch path: rebuilds happen on edits, queries are O(1) slice lookups
// with no allocation. It must be rebuilt whenever the steps or the sequence
// length change.
type BeatCache struct {
	steps [][]gridbeat.Step
}

// Rebuild recomputes the index over the enabled steps of the given set.
// Steps outside [0, length) are ignored; they become visible again if the
// length grows and the cache is rebuilt.
func (c *BeatCache) Rebuild(steps []gridbeat.Step, length int) {
	if cap(c.steps) < length {
		c.steps = make([][]gridbeat.Step, length)
	}
	c.steps = c.steps[:length]
	for i := range c.steps {
		c.steps[i] = c.steps[i][:0]
	}
	for _, s := range steps {
		if !s.Enabled || s.Beat < 0 || s.Beat >= length {
			continue
		}
		c.steps[s.Beat] = append(c.steps[s.Beat], s)
	}
}

// StepsAt returns the enabled steps at a beat. Queries outside the cached
// range return nil rather than failing; this happens transiently when the
// length shrinks between an edit and the rebuild.
func (c *BeatCache) StepsAt(beat int) []gridbeat.Step {
	if beat < 0 || beat >= len(c.steps) {
		return nil
	}
	return c.steps[beat]
}

// Length returns the beat range the cache was built for.
func (c *BeatCache) Length() int { return len(c.steps) }
