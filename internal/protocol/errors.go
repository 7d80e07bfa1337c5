package protocol

import (
	"errors"
	"fmt"
)

// ErrorKind is a stable classification of protocol failures, usable for
// logging and metric labels.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindMalformedPacket
	KindUnknownMagic
	KindUnsupportedVersion
	KindUnknownCommand
	KindFrameTooLarge
)

func (k ErrorKind) String() string {
	switch k {
	case KindMalformedPacket:
		return "malformed_packet"
	case KindUnknownMagic:
		return "unknown_magic"
	case KindUnsupportedVersion:
		return "unsupported_version"
	case KindUnknownCommand:
		return "unknown_command"
	case KindFrameTooLarge:
		return "frame_too_large"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per kind. Use errors.Is against these.
var (
	ErrMalformedPacket    = errors.New("protocol: malformed packet")
	ErrUnknownMagic       = errors.New("protocol: unknown magic")
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")
	ErrUnknownCommand     = errors.New("protocol: unknown command")
	ErrFrameTooLarge      = errors.New("protocol: frame too large")
)

// Error is the only error type returned by the decoders in this package.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.sentinel().Error()
	}
	return fmt.Sprintf("%s: %s", e.sentinel(), e.Msg)
}

// Is makes errors.Is(err, ErrMalformedPacket) and friends work.
func (e *Error) Is(target error) bool {
	return target == e.sentinel()
}

func (e *Error) sentinel() error {
	switch e.Kind {
	case KindMalformedPacket:
		return ErrMalformedPacket
	case KindUnknownMagic:
		return ErrUnknownMagic
	case KindUnsupportedVersion:
		return ErrUnsupportedVersion
	case KindUnknownCommand:
		return ErrUnknownCommand
	case KindFrameTooLarge:
		return ErrFrameTooLarge
	default:
		return errUnknown
	}
}

var errUnknown = errors.New("protocol: error")

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}
