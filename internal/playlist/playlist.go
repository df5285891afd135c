// Package playlist keeps the ordered track list with shuffle and repeat.
package playlist

import (
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/linuxmatters/jiveplayer/internal/audio"
)

// Sequencer walks a list of track paths. Shuffle plays the tracks in a
// random permutation that starts with the current track; repeat wraps at
// both ends. A Sequencer is not safe for concurrent use.
type Sequencer struct {
	tracks  []string
	order   []int // Indices into tracks, sequential or shuffled
	pos     int   // Current position in order
	shuffle bool
	repeat  bool
	rng     *rand.Rand
}

// New creates an empty sequencer. A nil rng seeds one from the runtime.
func New(rng *rand.Rand) *Sequencer {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Sequencer{rng: rng}
}

// Add appends tracks. While shuffling they are mixed into the part of the
// permutation that has not played yet.
func (s *Sequencer) Add(paths ...string) {
	for _, p := range paths {
		idx := len(s.tracks)
		s.tracks = append(s.tracks, p)

		at := len(s.order)
		if s.shuffle && len(s.order) > 0 {
			at = s.pos + 1 + s.rng.IntN(len(s.order)-s.pos)
		}
		s.order = append(s.order, 0)
		copy(s.order[at+1:], s.order[at:])
		s.order[at] = idx
	}
}

// Remove deletes the track at index i. If it was current, the track that
// followed it becomes current.
func (s *Sequencer) Remove(i int) bool {
	if i < 0 || i >= len(s.tracks) {
		return false
	}
	s.tracks = append(s.tracks[:i], s.tracks[i+1:]...)

	removedAt := -1
	order := s.order[:0]
	for at, idx := range s.order {
		switch {
		case idx == i:
			removedAt = at
			continue
		case idx > i:
			idx--
		}
		order = append(order, idx)
	}
	s.order = order

	if removedAt < s.pos {
		s.pos--
	}
	s.pos = max(0, min(s.pos, len(s.order)-1))
	return true
}

// Clear empties the list.
func (s *Sequencer) Clear() {
	s.tracks = nil
	s.order = nil
	s.pos = 0
}

// Next advances and returns the new current track. At the end it wraps
// when repeating, reshuffling first if shuffle is on, and otherwise
// reports false and stays put.
func (s *Sequencer) Next() (string, bool) {
	if len(s.order) == 0 {
		return "", false
	}
	switch {
	case s.pos+1 < len(s.order):
		s.pos++
	case s.repeat:
		if s.shuffle {
			s.reshuffle()
		}
		s.pos = 0
	default:
		return "", false
	}
	return s.tracks[s.order[s.pos]], true
}

// Previous steps back and returns the new current track. At the start it
// wraps to the end when repeating and otherwise reports false.
func (s *Sequencer) Previous() (string, bool) {
	if len(s.order) == 0 {
		return "", false
	}
	switch {
	case s.pos > 0:
		s.pos--
	case s.repeat:
		s.pos = len(s.order) - 1
	default:
		return "", false
	}
	return s.tracks[s.order[s.pos]], true
}

// JumpTo makes the track at index i current.
func (s *Sequencer) JumpTo(i int) bool {
	if i < 0 || i >= len(s.tracks) {
		return false
	}
	for at, idx := range s.order {
		if idx == i {
			s.pos = at
			return true
		}
	}
	return false
}

// Len returns the number of tracks.
func (s *Sequencer) Len() int { return len(s.tracks) }

// IsEmpty reports whether the list has no tracks.
func (s *Sequencer) IsEmpty() bool { return len(s.tracks) == 0 }

// Index returns the list index of the current track, or -1 when empty.
func (s *Sequencer) Index() int {
	if len(s.order) == 0 {
		return -1
	}
	return s.order[s.pos]
}

// Position returns how far through the play order the sequencer is, counted
// from 1, so a UI can show "3/12" even while shuffling.
func (s *Sequencer) Position() int {
	if len(s.order) == 0 {
		return 0
	}
	return s.pos + 1
}

// Current returns the current track path.
func (s *Sequencer) Current() (string, bool) {
	if len(s.order) == 0 {
		return "", false
	}
	return s.tracks[s.order[s.pos]], true
}

// Tracks returns a copy of the list in insertion order.
func (s *Sequencer) Tracks() []string {
	return append([]string(nil), s.tracks...)
}

// ToggleShuffle switches shuffle and returns the new setting. Turning it
// on builds a permutation headed by the current track; turning it off
// returns to list order at the current track.
func (s *Sequencer) ToggleShuffle() bool {
	s.shuffle = !s.shuffle
	if len(s.order) == 0 {
		return s.shuffle
	}

	if s.shuffle {
		s.reshuffle()
		s.pos = 0
		return true
	}

	cur := s.order[s.pos]
	for i := range s.order {
		s.order[i] = i
	}
	s.pos = cur
	return false
}

// Shuffle reports whether shuffle is on.
func (s *Sequencer) Shuffle() bool { return s.shuffle }

// ToggleRepeat switches repeat and returns the new setting.
func (s *Sequencer) ToggleRepeat() bool {
	s.repeat = !s.repeat
	return s.repeat
}

// Repeat reports whether repeat is on.
func (s *Sequencer) Repeat() bool { return s.repeat }

// reshuffle permutes the order with Fisher-Yates, keeping the current track
// first so toggling never changes what is playing.
func (s *Sequencer) reshuffle() {
	cur := s.order[s.pos]
	s.order[0], s.order[s.pos] = cur, s.order[0]
	rest := s.order[1:]
	s.rng.Shuffle(len(rest), func(i, j int) {
		rest[i], rest[j] = rest[j], rest[i]
	})
}

// ExpandPaths turns command-line arguments into a track list. Directories
// are walked for supported audio files in lexical order; files are kept as
// given so an unsupported one is reported when it is played.
func ExpandPaths(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", p, err)
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}

		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && audio.IsSupported(path) {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", p, err)
		}
	}
	return out, nil
}
