package session

import (
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-parrot/internal/hotkey"
	"github.com/loqalabs/loqa-parrot/internal/tts"
)

type slots []tts.Voice

func (s slots) Slot(n int) (tts.Voice, bool) {
	if n < 0 || n >= len(s) {
		return tts.Voice{}, false
	}
	return s[n], true
}

func TestApplyTogglesFlags(t *testing.T) {
	var s State
	s.Apply(hotkey.Command{Kind: hotkey.Mute}, nil)
	if !s.Muted {
		t.Fatal("expected muted after first toggle")
	}
	s.Apply(hotkey.Command{Kind: hotkey.Mute}, nil)
	if s.Muted {
		t.Fatal("expected unmuted after second toggle")
	}
	st := s.Apply(hotkey.Command{Kind: hotkey.ToggleListening}, nil)
	if !s.Listening || st.Text != "Listening: true" {
		t.Fatalf("unexpected listening state %+v %+v", s, st)
	}
	s.Apply(hotkey.Command{Kind: hotkey.ForceReset}, nil)
	if !s.ResetRequested {
		t.Fatal("expected reset requested")
	}
}

func TestApplySelectVoice(t *testing.T) {
	voices := slots{{ID: "a", Name: "David"}, {ID: "b", Name: "Zira"}}
	s := State{Voice: voices[0]}

	st := s.Apply(hotkey.Command{Kind: hotkey.SelectVoice, Slot: 1}, voices)
	if !st.Changed || s.Voice.ID != "b" || s.VoiceSlot != 1 {
		t.Fatalf("expected Zira selected, got %+v", s)
	}
	if st.Text != "Voice changed to: Zira" {
		t.Fatalf("unexpected status %q", st.Text)
	}

	st = s.Apply(hotkey.Command{Kind: hotkey.SelectVoice, Slot: 5}, voices)
	if st.Changed || s.Voice.ID != "b" {
		t.Fatalf("expected unbound slot to be ignored, got %+v %+v", s, st)
	}
}

func TestPhaseTransitions(t *testing.T) {
	s := State{}
	for _, next := range []Phase{Connecting, Streaming, Closing, Connecting, Streaming, Closing, Paused, Connecting} {
		if err := s.Enter(next); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := s.Enter(Closing); err == nil {
		t.Fatal("expected connecting -> closing to be rejected")
	}
	if Streaming.CanTransition(Connecting) {
		t.Fatal("streaming must pass through closing")
	}
}

func TestExpired(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	if Expired(start, start.Add(54*time.Second), 55*time.Second) {
		t.Fatal("session should still be within budget")
	}
	if !Expired(start, start.Add(56*time.Second), 55*time.Second) {
		t.Fatal("session should be expired")
	}
	if Expired(time.Time{}, start, time.Second) {
		t.Fatal("unstarted session never expires")
	}
}

func TestStoreSnapshotsAreIndependent(t *testing.T) {
	store := NewStore(State{Listening: true})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = store.Muted()
				_ = store.Load().Listening
			}
		}()
	}
	s := store.Load()
	for i := 0; i < 10; i++ {
		s.Apply(hotkey.Command{Kind: hotkey.Mute}, nil)
		store.Publish(s)
	}
	wg.Wait()
	if store.Muted() {
		t.Fatal("expected even number of toggles to leave output unmuted")
	}
	snap := store.Load()
	snap.Muted = true
	if store.Muted() {
		t.Fatal("mutating a snapshot must not affect the store")
	}
}
