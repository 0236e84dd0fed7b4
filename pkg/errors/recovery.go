package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
)

// ErrPanic is returned in place of a panic raised by a router consumer,
// a notification channel, a stream handler or an HTTP handler. It is fatal: the same input
// would panic again.
var ErrPanic = NewError("PANIC", "recovered from panic", http.StatusInternalServerError).AsFatal()

const maxStackBytes = 8 << 10

// RecoverPanic turns a recovered value into an ErrPanic tagged with the
// component that raised it. It returns nil when r is nil so it can be called
// unconditionally from a deferred recover.
func RecoverPanic(component string, r interface{}) error {
	if r == nil {
		return nil
	}

	var cause error
	switch v := r.(type) {
	case error:
		cause = v
	default:
		cause = fmt.Errorf("%v", v)
	}

	stack := debug.Stack()
	if len(stack) > maxStackBytes {
		stack = stack[:maxStackBytes]
	}

	return ErrPanic.
		WithMessage(fmt.Sprintf("panic in %s", component)).
		WithCause(cause).
		WithDetail("component", component).
		WithDetail("stack_trace", string(stack))
}

func IsPanic(err error) bool {
	return errors.Is(err, ErrPanic)
}
