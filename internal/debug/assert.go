package debug

import (
	"fmt"
	"runtime"
)

// NOTE: assertions guard programmer invariants only. anything that arrives
// over the wire is validated with regular error returns instead.

// Assert panics with the caller's location when truth is false.
func Assert(truth bool, msg ...string) {
	if len(msg) > 1 {
		panic("invalid assert args")
	}
	if !truth {
		fail(fmt.Sprintf("assertion failed(%s)", msg))
	}
}

// Assertf is Assert with a formatted message.
func Assertf(truth bool, format string, args ...any) {
	if !truth {
		fail("assertion failed(" + fmt.Sprintf(format, args...) + ")")
	}
}

func fail(msg string) {
	// include the assertion location, panic recovery buries it otherwise.
	if _, file, line, ok := runtime.Caller(2); ok {
		msg = fmt.Sprintf("%s:%d: %s", file, line, msg)
	}
	panic(msg)
}
