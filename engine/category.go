package engine

import (
	"github.com/arikoski/gridbeat"
)

// categoryStore keeps one independent CategoryState per instrument
// category. The bundles are owned by the engine goroutine and swapped
// wholesale on a category change; nothing outside the engine ever holds a
// reference to them, so no copying or locking is involved in a swap.
type categoryStore struct {
	states map[gridbeat.CategoryID]*gridbeat.CategoryState
}

func newCategoryStore() *categoryStore {
	return &categoryStore{states: make(map[gridbeat.CategoryID]*gridbeat.CategoryState)}
}

// state returns the bundle for a category, lazily initializing it to
// defaults on first use. Switching away from a category never discards its
// bundle; the live state IS the stored bundle, so persisting the outgoing
// category is implicit.
func (c *categoryStore) state(id gridbeat.CategoryID) *gridbeat.CategoryState {
	if s, ok := c.states[id]; ok {
		return s
	}
	s := gridbeat.NewCategoryState()
	c.states[id] = s
	return s
}
