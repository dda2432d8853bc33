package supervisor

import "fmt"

// endReason says why a streaming session was closed.
type endReason int

const (
	endNone endReason = iota
	endCancelled
	endQuit
	endExpired
	endReset
	endStopped
	endExitPhrase
	endRemoteClosed
	endExhausted
	endFailed
)

func (r endReason) String() string {
	switch r {
	case endNone:
		return "none"
	case endCancelled:
		return "cancelled"
	case endQuit:
		return "quit"
	case endExpired:
		return "expired"
	case endReset:
		return "reset"
	case endStopped:
		return "stopped"
	case endExitPhrase:
		return "exit_phrase"
	case endRemoteClosed:
		return "remote_closed"
	case endExhausted:
		return "exhausted"
	case endFailed:
		return "failed"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}
