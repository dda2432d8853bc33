package voices

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/loqalabs/loqa-parrot/internal/tts"
)

// Registry is the ordered list of bound voices; index n is slot n.
type Registry struct {
	voices []tts.Voice
}

// Build keeps the configured names that match an installed voice by name or
// id, in file order.
func Build(installed []tts.Voice, names []string) (*Registry, error) {
	if len(installed) == 0 {
		return nil, ErrNoVoices
	}
	seen := make(map[string]bool)
	var bound []tts.Voice
	for _, name := range names {
		v, ok := lookup(installed, name)
		if !ok {
			continue
		}
		if seen[v.ID] {
			continue
		}
		seen[v.ID] = true
		bound = append(bound, v)
		if len(bound) == MaxBound {
			break
		}
	}
	if len(bound) == 0 {
		return nil, ErrNoMatch
	}
	return &Registry{voices: bound}, nil
}

func lookup(installed []tts.Voice, name string) (tts.Voice, bool) {
	for _, v := range installed {
		if strings.EqualFold(v.Name, name) || strings.EqualFold(v.ID, name) {
			return v, true
		}
	}
	return tts.Voice{}, false
}

func (r *Registry) Len() int {
	return len(r.voices)
}

// Slot returns the voice bound to digit n.
func (r *Registry) Slot(n int) (tts.Voice, bool) {
	if n < 0 || n >= len(r.voices) {
		return tts.Voice{}, false
	}
	return r.voices[n], true
}

// Find returns the slot of the voice with the given id or name.
func (r *Registry) Find(name string) (int, bool) {
	for i, v := range r.voices {
		if strings.EqualFold(v.ID, name) || strings.EqualFold(v.Name, name) {
			return i, true
		}
	}
	return 0, false
}

func (r *Registry) Voices() []tts.Voice {
	return append([]tts.Voice(nil), r.voices...)
}

// Ensure loads the voice list at path, creating it from the installed voices
// when it does not exist yet.
func Ensure(ctx context.Context, path string, lister tts.VoiceLister, logger *slog.Logger) (*Registry, error) {
	installed, err := lister.Voices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list installed voices: %w", err)
	}
	if len(installed) == 0 {
		return nil, ErrNoVoices
	}

	names, err := LoadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		all := make([]string, 0, len(installed))
		for _, v := range installed {
			all = append(all, v.Name)
		}
		if err := WriteFile(path, all); err != nil {
			return nil, err
		}
		logger.Info("created voice list", slog.String("path", path), slog.Int("voices", len(all)))
		names = all
	case err != nil:
		return nil, err
	}
	return Build(installed, names)
}
