// Package voices binds installed TTS voices to the number-key slots.
package voices

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// MaxBound is the number of voices reachable from the digit keys.
const MaxBound = 10

// SeparatorMarker is written after the bound voices. Any line of three or
// more dashes is accepted when reading.
const SeparatorMarker = "----------"

var (
	ErrVoiceFile = errors.New("voices: voice list file unreadable")
	ErrNoVoices  = errors.New("voices: no voices installed")
	ErrNoMatch   = errors.New("voices: no configured voice is installed")
)

var separatorPattern = regexp.MustCompile(`^-{3,}$`)

// LoadFile reads voice names, one per line. Reading stops at the separator
// and never yields more than MaxBound names.
func LoadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVoiceFile, err)
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() && len(names) < MaxBound {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if separatorPattern.MatchString(line) {
			break
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVoiceFile, err)
	}
	return names, nil
}

// WriteFile writes the first MaxBound names, the separator, then the rest
// so they can be promoted by editing the file.
func WriteFile(path string, names []string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create voices dir: %w", err)
		}
	}
	var b strings.Builder
	for i, name := range names {
		if i == MaxBound {
			b.WriteString(SeparatorMarker + "\n")
		}
		b.WriteString(name + "\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write voices file: %w", err)
	}
	return nil
}
