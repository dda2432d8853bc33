// Package hotkey turns key presses and remote requests into typed commands.
// It never touches session state; the supervisor applies the commands.
package hotkey

import (
	"fmt"
	"strings"
)

type Kind int

const (
	Mute Kind = iota + 1
	ToggleListening
	SelectVoice
	ForceReset
	Quit
)

func (k Kind) String() string {
	switch k {
	case Mute:
		return "mute"
	case ToggleListening:
		return "toggle_listening"
	case SelectVoice:
		return "select_voice"
	case ForceReset:
		return "force_reset"
	case Quit:
		return "quit"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Command is one request to change session state. Slot is only meaningful
// for SelectVoice.
type Command struct {
	Kind   Kind
	Slot   int
	Origin string
}

func (c Command) String() string {
	if c.Kind == SelectVoice {
		return fmt.Sprintf("%s(%d)", c.Kind, c.Slot)
	}
	return c.Kind.String()
}

// ParseCommand maps a remote command name to a Command.
func ParseCommand(name string, slot int) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mute", "toggle_mute":
		return Command{Kind: Mute}, nil
	case "listen", "toggle_listening":
		return Command{Kind: ToggleListening}, nil
	case "voice", "select_voice":
		if slot < 0 || slot > 9 {
			return Command{}, fmt.Errorf("voice slot %d out of range 0-9", slot)
		}
		return Command{Kind: SelectVoice, Slot: slot}, nil
	case "reset", "force_reset":
		return Command{Kind: ForceReset}, nil
	case "quit":
		return Command{Kind: Quit}, nil
	default:
		return Command{}, fmt.Errorf("unknown command %q", name)
	}
}
