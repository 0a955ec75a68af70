package gridbeat

import (
	"fmt"
	"strconv"
	"strings"
)

// Note names follow scientific pitch notation with C4 = middle C = MIDI key
// 60. Formatting uses sharps only; ParseNote accepts sharps and flats.

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

var noteOffsets = map[string]int{
	"C": 0, "C#": 1, "DB": 1, "D": 2, "D#": 3, "EB": 3, "E": 4,
	"F": 5, "F#": 6, "GB": 6, "G": 7, "G#": 8, "AB": 8, "A": 9,
	"A#": 10, "BB": 10, "B": 11,
}

// NoteString returns the name of a MIDI key, e.g. NoteString(60) == "C4".
func NoteString(key byte) string {
	return fmt.Sprintf("%s%d", noteNames[key%12], int(key)/12-1)
}

// ParseNote converts a note name like "C4", "F#2" or "Bb3" to a MIDI key.
func ParseNote(name string) (byte, error) {
	if len(name) < 2 {
		return 0, fmt.Errorf("invalid note name %q", name)
	}
	letter := strings.ToUpper(name[:1])
	rest := name[1:]
	switch rest[0] {
	case '#':
		letter += "#"
		rest = rest[1:]
	case 'b', 'B':
		letter += "B"
		rest = rest[1:]
	}
	offset, ok := noteOffsets[letter]
	if !ok {
		return 0, fmt.Errorf("invalid note name %q", name)
	}
	octave, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("invalid note name %q", name)
	}
	key := (octave+1)*12 + offset
	if key < 0 || key > 127 {
		return 0, fmt.Errorf("note %q outside MIDI range", name)
	}
	return byte(key), nil
}

// MustNote is ParseNote for compile-time constant names; it panics on
// malformed input.
func MustNote(name string) byte {
	key, err := ParseNote(name)
	if err != nil {
		panic(err)
	}
	return key
}
