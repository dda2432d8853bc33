// Package presenter renders transcripts and status lines on the console.
package presenter

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"

	"github.com/loqalabs/loqa-parrot/internal/hotkey"
	"github.com/loqalabs/loqa-parrot/internal/session"
	"github.com/loqalabs/loqa-parrot/internal/stt"
)

var exitPhrase = regexp.MustCompile(`(?i)\b(exit|quit)\b`)

// IsExitPhrase reports whether text contains the standalone word exit or quit.
func IsExitPhrase(text string) bool {
	return exitPhrase.MatchString(text)
}

// Padding is the number of spaces needed to blank out the tail of a
// previously printed line of prev characters.
func Padding(prev, cur int) int {
	if prev > cur {
		return prev - cur
	}
	return 0
}

// Outcome describes what Present did with a response.
type Outcome struct {
	Skipped    bool
	Final      bool
	Text       string
	Confidence float32
	// Stability is the service's estimate that an interim will not change.
	Stability float32
	Exit      bool
}

type Presenter struct {
	mu      sync.Mutex
	out     io.Writer
	printed int
	colors  map[hotkey.Kind]*color.Color
	plain   *color.Color
}

func New(out io.Writer) *Presenter {
	return &Presenter{
		out: out,
		colors: map[hotkey.Kind]*color.Color{
			hotkey.Mute:            color.New(color.FgYellow, color.Bold),
			hotkey.ToggleListening: color.New(color.FgRed, color.Bold),
			hotkey.SelectVoice:     color.New(color.FgCyan, color.Bold),
		},
		plain: color.New(color.Bold),
	}
}

// Present renders the top alternative of the first result. Interim
// transcripts overwrite the current line; finals are committed with a
// newline.
func (p *Presenter) Present(resp stt.Response) Outcome {
	if len(resp.Results) == 0 {
		return Outcome{Skipped: true}
	}
	result := resp.Results[0]
	if len(result.Alternatives) == 0 {
		return Outcome{Skipped: true}
	}
	alt := result.Alternatives[0]

	p.mu.Lock()
	defer p.mu.Unlock()

	n := utf8.RuneCountInString(alt.Transcript)
	pad := strings.Repeat(" ", Padding(p.printed, n))
	if !result.IsFinal {
		fmt.Fprint(p.out, alt.Transcript+pad+"\r")
		p.printed = n
		return Outcome{Text: alt.Transcript, Confidence: alt.Confidence, Stability: result.Stability}
	}

	fmt.Fprint(p.out, alt.Transcript+pad+"\n")
	p.printed = 0
	return Outcome{
		Final:      true,
		Text:       alt.Transcript,
		Confidence: alt.Confidence,
		Exit:       IsExitPhrase(alt.Transcript),
	}
}

// Status prints a colorized status line for an applied command.
func (p *Presenter) Status(st session.Status) {
	c, ok := p.colors[st.Kind]
	if !ok {
		c = p.plain
	}
	p.Line(c, st.Text)
}

// Banner announces a freshly opened session.
func (p *Presenter) Banner() {
	p.Line(color.New(color.FgGreen, color.Bold), "Okay, Start Talking!")
}

// Line prints text on its own line, ending any interim line first.
func (p *Presenter) Line(c *color.Color, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printed > 0 {
		fmt.Fprintln(p.out)
		p.printed = 0
	}
	c.Fprintln(p.out, text)
}

// NewPausedSpinner returns the indicator shown while not listening.
func NewPausedSpinner(out io.Writer) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(out))
	s.Suffix = " Not currently listening..."
	return s
}
