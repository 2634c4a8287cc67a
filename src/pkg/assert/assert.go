package assert

import "fmt"

// Assert panics with a formatted message if cond doesn't hold.
// Used for invariants only: a failed assert means a bug, not a
// recoverable condition.
func Assert(cond bool, format ...any) {
	if cond {
		return
	}

	if len(format) == 0 {
		panic("assertion failed")
	}

	f, ok := format[0].(string)
	if !ok {
		panic(fmt.Sprintf("assertion failed: %+v", format))
	}
	panic(fmt.Sprintf("assertion failed: "+f, format[1:]...))
}

// NoError panics if err is non-nil. I/O failures are fatal at the
// storage layer, so callers don't propagate them.
func NoError(err error, context ...string) {
	if err == nil {
		return
	}

	if len(context) > 0 {
		panic(fmt.Sprintf("%s: %v", context[0], err))
	}
	panic(err)
}
