package source

import (
	"errors"
	"fmt"
)

// SequenceError reports an out-of-order strategy: the log or the wire
// delivered a sequence number other than last_seq+1. It is fatal unless
// the engine runs in lenient mode.
type SequenceError struct {
	Prev int64
	Next int64
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("strategies must go in sequence: received %d after %d", e.Next, e.Prev)
}

// ErrAutoSealExhausted means a running-pomodoro conflict survived an
// auto-seal pass and one retry. That indicates a logic bug, not a user
// error, so it is not a ValidationError.
var ErrAutoSealExhausted = errors.New("pomodoro conflict persists after auto-seal retry")
