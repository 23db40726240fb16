package tinybase

import (
	"errors"
	"fmt"
)

var (
	// ErrCondition is returned when a check constraint rejects a value.
	ErrCondition = errors.New("a condition check was not met")

	// ErrBatchConstraints is returned when two candidates of one batch update
	// collide on a unique-constrained key.
	ErrBatchConstraints = errors.New("batch operation violates constraints")

	// ErrNoCondition is returned when a query builder is evaluated without a
	// search condition.
	ErrNoCondition = errors.New("query builder: no search condition provided")

	// ErrIndexClosed is returned by operations on a closed index.
	ErrIndexClosed = errors.New("index is closed")
)

// ExistsError reports a unique constraint violation.
type ExistsError struct {
	Constraint string // full name of the backing index
	ID         uint64 // id of the rejected candidate record
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("record %d failed to match unique constraint %s", e.ID, e.Constraint)
}

// CodecError reports an encoding or decoding failure, carrying an excerpt of
// the offending data. It indicates corruption or a schema mismatch and is
// never silently skipped.
type CodecError struct {
	Data []byte
	Err  error
	Msg  string
}

func codecErrf(data []byte, err error, format string, args ...any) error {
	return &CodecError{data, err, fmt.Sprintf(format, args...)}
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

func (e *CodecError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		}
		return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
	}
	p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
	}
	return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
}
