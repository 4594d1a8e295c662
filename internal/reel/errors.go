package reel

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure so the request layer can translate it.
type Kind int

const (
	KindUnknown Kind = iota
	KindInput
	KindSpeechSynthesis
	KindDuration
	KindRender
	KindEncoding
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindSpeechSynthesis:
		return "speech_synthesis"
	case KindDuration:
		return "duration"
	case KindRender:
		return "render"
	case KindEncoding:
		return "encoding"
	default:
		return "unknown"
	}
}

// Error is a classified pipeline error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error returns "kind: msg". Msg already carries the cause's text when the
// error was built with Errorf and a %w verb.
func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrDuration) works
// regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

// Sentinels for errors.Is.
var (
	ErrInput           = &Error{Kind: KindInput}
	ErrSpeechSynthesis = &Error{Kind: KindSpeechSynthesis}
	ErrDuration        = &Error{Kind: KindDuration}
	ErrRender          = &Error{Kind: KindRender}
	ErrEncoding        = &Error{Kind: KindEncoding}
)

// Errorf builds a classified error. A %w verb in format is kept as the cause.
func Errorf(kind Kind, format string, args ...any) *Error {
	wrapped := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Msg: wrapped.Error(), Err: errors.Unwrap(wrapped)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
