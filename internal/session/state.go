// Package session holds the state shared between the supervisor and its
// readers. Only the supervisor goroutine mutates State; everyone else reads
// published snapshots.
package session

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-parrot/internal/hotkey"
	"github.com/loqalabs/loqa-parrot/internal/tts"
)

// VoiceSlots resolves digit slots to voices.
type VoiceSlots interface {
	Slot(n int) (tts.Voice, bool)
}

type State struct {
	Listening      bool
	Muted          bool
	ResetRequested bool
	QuitRequested  bool
	VoiceSlot      int
	Voice          tts.Voice
	Phase          Phase
	SessionID      string
	SessionStart   time.Time
}

// Status describes the effect of a command for display.
type Status struct {
	Kind    hotkey.Kind
	Text    string
	Changed bool
}

// Apply mutates the state for one command.
func (s *State) Apply(cmd hotkey.Command, voices VoiceSlots) Status {
	switch cmd.Kind {
	case hotkey.Mute:
		s.Muted = !s.Muted
		return Status{Kind: cmd.Kind, Text: fmt.Sprintf("Muted: %t", s.Muted), Changed: true}
	case hotkey.ToggleListening:
		s.Listening = !s.Listening
		return Status{Kind: cmd.Kind, Text: fmt.Sprintf("Listening: %t", s.Listening), Changed: true}
	case hotkey.SelectVoice:
		if voices == nil {
			return Status{Kind: cmd.Kind, Text: "No voices available"}
		}
		v, ok := voices.Slot(cmd.Slot)
		if !ok {
			return Status{Kind: cmd.Kind, Text: fmt.Sprintf("No voice bound to %d", cmd.Slot)}
		}
		s.VoiceSlot = cmd.Slot
		s.Voice = v
		return Status{Kind: cmd.Kind, Text: "Voice changed to: " + v.Name, Changed: true}
	case hotkey.ForceReset:
		s.ResetRequested = true
		return Status{Kind: cmd.Kind, Text: "Resetting stream", Changed: true}
	case hotkey.Quit:
		s.QuitRequested = true
		return Status{Kind: cmd.Kind, Text: "Quitting", Changed: true}
	default:
		return Status{Kind: cmd.Kind, Text: "Unknown command " + cmd.String()}
	}
}

// Enter moves to the next phase.
func (s *State) Enter(next Phase) error {
	if s.Phase == next {
		return nil
	}
	if !s.Phase.CanTransition(next) {
		return fmt.Errorf("session: invalid transition %s -> %s", s.Phase, next)
	}
	s.Phase = next
	return nil
}

// Store publishes immutable snapshots of State.
type Store struct {
	p atomic.Pointer[State]
}

func NewStore(initial State) *Store {
	st := &Store{}
	st.Publish(initial)
	return st
}

func (st *Store) Publish(s State) {
	st.p.Store(&s)
}

func (st *Store) Load() State {
	return *st.p.Load()
}

// Muted is the speaker's mute check.
func (st *Store) Muted() bool {
	return st.p.Load().Muted
}
