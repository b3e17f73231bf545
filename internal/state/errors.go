package state

import "errors"

// Domain errors for the state package.
var (
	// ErrUnknownCell is returned when reading or writing a key that was never defined.
	ErrUnknownCell = errors.New("state: unknown cell")

	// ErrCellExists is returned when defining a key twice for the same plugin.
	ErrCellExists = errors.New("state: cell already defined")

	// ErrInvalidSpec is returned when a cell spec has no key or an unknown type.
	ErrInvalidSpec = errors.New("state: invalid spec")

	// ErrTypeMismatch is returned when a written value does not fit the cell type.
	ErrTypeMismatch = errors.New("state: type mismatch")
)
