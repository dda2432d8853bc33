package hotkey

import (
	"testing"

	"github.com/eiannone/keyboard"

	"github.com/loqalabs/loqa-parrot/internal/config"
)

func TestTranslateDefaultKeymap(t *testing.T) {
	km := KeymapFrom(config.Default().Hotkeys)
	cases := []struct {
		ch   rune
		key  keyboard.Key
		want Command
	}{
		{ch: 'z', want: Command{Kind: Mute}},
		{ch: 'Z', want: Command{Kind: Mute}},
		{ch: 'q', want: Command{Kind: ToggleListening}},
		{ch: 'r', want: Command{Kind: ForceReset}},
		{ch: '0', want: Command{Kind: SelectVoice, Slot: 0}},
		{ch: '7', want: Command{Kind: SelectVoice, Slot: 7}},
		{key: keyboard.KeyEsc, want: Command{Kind: Quit}},
		{key: keyboard.KeyCtrlC, want: Command{Kind: Quit}},
	}
	for _, tc := range cases {
		got, ok := km.Translate(tc.ch, tc.key)
		if !ok {
			t.Fatalf("expected %q/%v to map to %v", tc.ch, tc.key, tc.want)
		}
		if got.Kind != tc.want.Kind || got.Slot != tc.want.Slot {
			t.Fatalf("%q/%v: expected %v, got %v", tc.ch, tc.key, tc.want, got)
		}
	}
}

func TestTranslateIgnoresUnboundKeys(t *testing.T) {
	km := KeymapFrom(config.Default().Hotkeys)
	if cmd, ok := km.Translate('x', 0); ok {
		t.Fatalf("expected x to be unbound, got %v", cmd)
	}
	if cmd, ok := km.Translate(0, keyboard.KeyArrowUp); ok {
		t.Fatalf("expected arrow key to be unbound, got %v", cmd)
	}
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand("Select_Voice", 3)
	if err != nil || cmd.Kind != SelectVoice || cmd.Slot != 3 {
		t.Fatalf("unexpected %v %v", cmd, err)
	}
	if _, err := ParseCommand("voice", 12); err == nil {
		t.Fatal("expected out of range slot to be rejected")
	}
	if _, err := ParseCommand("dance", 0); err == nil {
		t.Fatal("expected unknown command to be rejected")
	}
	if cmd, _ := ParseCommand("mute", 0); cmd.String() != "mute" {
		t.Fatalf("unexpected string %q", cmd.String())
	}
}
