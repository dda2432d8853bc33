package session

import (
	"fmt"
	"time"
)

// Phase is the lifecycle of one streaming connection.
type Phase int

const (
	Idle Phase = iota
	Connecting
	Streaming
	Closing
	Paused
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Closing:
		return "closing"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

var transitions = map[Phase][]Phase{
	Idle:       {Connecting, Paused},
	Connecting: {Streaming, Paused, Idle},
	Streaming:  {Closing},
	Closing:    {Connecting, Paused, Idle},
	Paused:     {Connecting, Idle},
}

// CanTransition reports whether the lifecycle allows moving to next.
func (p Phase) CanTransition(next Phase) bool {
	for _, allowed := range transitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Expired reports whether a session started at start has used its budget.
func Expired(start, now time.Time, budget time.Duration) bool {
	if start.IsZero() || budget <= 0 {
		return false
	}
	return now.Sub(start) >= budget
}
