// Package recovery turns panics in background work into logged errors
// so a misbehaving task cannot take a worker down.
package recovery

import (
	"fmt"
	"runtime/debug"

	"github.com/getsentry/sentry-go"
)

// OnPanic is called with the recovered value and the stack trace
type OnPanic func(recovered interface{}, stack []byte)

// Recover converts a panic into an error, reports it to Sentry and
// invokes the optional callback. Use as:
//
//	defer recovery.Recover(&err, onPanic)
func Recover(err *error, onPanic OnPanic) {
	if recovered := recover(); recovered != nil {
		stack := debug.Stack()
		sentry.CurrentHub().Recover(recovered)
		if onPanic != nil {
			onPanic(recovered, stack)
		}
		if err != nil {
			*err = fmt.Errorf("panic recovered: %v", recovered)
		}
	}
}

// Go runs fn in a goroutine with panic protection
func Go(fn func(), onPanic OnPanic) {
	go func() {
		defer Recover(nil, onPanic)
		fn()
	}()
}
