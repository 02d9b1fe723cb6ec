// -----------------------------------------------------------------------
// Safe Goroutine - Panic-protected goroutine wrappers
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/ternarybob/arbor"
)

// goroutineCounter tracks spawned goroutines for diagnostics
var goroutineCounter int64

// GetGoroutineCount returns the number of goroutines spawned via SafeGo
func GetGoroutineCount() int64 {
	return atomic.LoadInt64(&goroutineCounter)
}

// PanicError wraps a recovered panic value.
type PanicError struct {
	Name  string
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Name, e.Value)
}

// SafeGo runs a function in a goroutine with panic recovery.
// Panics are logged but don't crash the process.
//
// Example:
//
//	common.SafeGo(logger, "audit-scheduler", func() {
//	    scheduler.run(ctx)
//	})
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	atomic.AddInt64(&goroutineCounter, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logPanic(logger, name, r, stack())
			}
		}()

		fn()
	}()
}

// SafeCall runs fn on the calling goroutine and converts a panic into a *PanicError.
// Use inside errgroup functions so one failing unit cannot take down its siblings.
func SafeCall(logger arbor.ILogger, name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			st := stack()
			logPanic(logger, name, r, st)
			err = &PanicError{Name: name, Value: r, Stack: st}
		}
	}()

	return fn()
}

func stack() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

func logPanic(logger arbor.ILogger, name string, r any, stackTrace string) {
	if logger != nil {
		logger.Error().
			Str("goroutine", name).
			Str("panic", fmt.Sprintf("%v", r)).
			Str("stack", stackTrace).
			Msg("Recovered from panic in goroutine - continuing")
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s: %v\n%s\n", name, r, stackTrace)
}
