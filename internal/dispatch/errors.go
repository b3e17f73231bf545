package dispatch

import "errors"

// ErrHandlerPanic is reported when a trigger handler panics.
var ErrHandlerPanic = errors.New("dispatch: trigger handler panicked")
