package script

import (
	"errors"
	"fmt"
)

// ErrorKind classifies runtime errors.
type ErrorKind uint8

const (
	KindTypeMismatch ErrorKind = iota
	KindInvalidIterator
	KindIndex
	KindDivideByZero
	KindCall
	KindCallDepth
	KindConversion
)

// Sentinels for errors.Is.
var (
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrInvalidIterator = errors.New("invalid iterator")
	ErrIndex           = errors.New("no such index")
	ErrDivideByZero    = errors.New("division by zero")
	ErrCall            = errors.New("bad call")
	ErrCallDepth       = errors.New("call depth exceeded")
	ErrConversion      = errors.New("bad conversion")
)

var kindSentinels = [...]error{
	KindTypeMismatch:    ErrTypeMismatch,
	KindInvalidIterator: ErrInvalidIterator,
	KindIndex:           ErrIndex,
	KindDivideByZero:    ErrDivideByZero,
	KindCall:            ErrCall,
	KindCallDepth:       ErrCallDepth,
	KindConversion:      ErrConversion,
}

// RuntimeError aborts the current invocation. Loc names the construct
// that failed.
type RuntimeError struct {
	Kind ErrorKind
	Loc  *Location
	Msg  string
	Err  error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Loc, e.Msg)
}

// Is matches the sentinel for e's kind.
func (e *RuntimeError) Is(target error) bool {
	return int(e.Kind) < len(kindSentinels) && kindSentinels[e.Kind] == target
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// Errorf creates a RuntimeError.
func Errorf(kind ErrorKind, loc *Location, format string, args ...any) *RuntimeError {
	return &RuntimeError{Kind: kind, Loc: loc, Msg: fmt.Sprintf(format, args...)}
}
