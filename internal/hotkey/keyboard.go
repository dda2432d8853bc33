package hotkey

import (
	"context"
	"fmt"
	"log/slog"
	"unicode"

	"github.com/eiannone/keyboard"

	"github.com/loqalabs/loqa-parrot/internal/config"
)

// Keymap binds characters to commands. Digits always select voice slots;
// Esc and Ctrl+C quit because the terminal is in raw mode while reading.
type Keymap struct {
	Mute   rune
	Listen rune
	Reset  rune
}

func KeymapFrom(cfg config.HotkeyConfig) Keymap {
	return Keymap{
		Mute:   firstRune(cfg.Mute),
		Listen: firstRune(cfg.Listen),
		Reset:  firstRune(cfg.Reset),
	}
}

func firstRune(s string) rune {
	for _, r := range s {
		return unicode.ToLower(r)
	}
	return 0
}

// Translate maps a key event to a command.
func (km Keymap) Translate(ch rune, key keyboard.Key) (Command, bool) {
	switch key {
	case keyboard.KeyEsc, keyboard.KeyCtrlC:
		return Command{Kind: Quit, Origin: "keyboard"}, true
	}
	if ch == 0 {
		return Command{}, false
	}
	ch = unicode.ToLower(ch)
	switch {
	case ch >= '0' && ch <= '9':
		return Command{Kind: SelectVoice, Slot: int(ch - '0'), Origin: "keyboard"}, true
	case ch == km.Mute:
		return Command{Kind: Mute, Origin: "keyboard"}, true
	case ch == km.Listen:
		return Command{Kind: ToggleListening, Origin: "keyboard"}, true
	case ch == km.Reset:
		return Command{Kind: ForceReset, Origin: "keyboard"}, true
	}
	return Command{}, false
}

// KeyboardSource reads the console keyboard. Keys are only seen while the
// terminal running the process has focus.
type KeyboardSource struct {
	keymap Keymap
	logger *slog.Logger
}

func NewKeyboardSource(keymap Keymap, logger *slog.Logger) *KeyboardSource {
	return &KeyboardSource{keymap: keymap, logger: logger.With(slog.String("component", "hotkey"))}
}

// Run emits commands on out until ctx is cancelled or the keyboard closes.
func (k *KeyboardSource) Run(ctx context.Context, out chan<- Command) error {
	events, err := keyboard.GetKeys(16)
	if err != nil {
		return fmt.Errorf("open keyboard: %w", err)
	}
	defer func() {
		if err := keyboard.Close(); err != nil {
			k.logger.Warn("failed to close keyboard", slog.String("error", err.Error()))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Err != nil {
				k.logger.Warn("keyboard read failed", slog.String("error", ev.Err.Error()))
				continue
			}
			cmd, ok := k.keymap.Translate(ev.Rune, ev.Key)
			if !ok {
				continue
			}
			k.logger.Debug("hotkey", slog.String("command", cmd.String()))
			select {
			case out <- cmd:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
