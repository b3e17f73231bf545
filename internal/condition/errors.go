package condition

import "errors"

// ErrInvalidCondition is returned when a condition tree is malformed.
var ErrInvalidCondition = errors.New("condition: invalid condition")
