// Package qcerr defines the error taxonomy shared by the seqchk packages.
//
// Errors are built with E, in the manner of grailbio/base/errors.E: the
// arguments are interpreted by type. A Kind sets the error class, Path,
// Sample, Metric and Run values attach context, strings form the message and
// an error becomes the cause. An error built without a Kind inherits the
// Kind of its cause, so context can be layered on as the error travels up to
// the run controller without losing its class.
package qcerr

import (
	"bytes"
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind int

const (
	// Other is an unclassified error.
	Other Kind = iota
	// InputFormat indicates a malformed input record.
	InputFormat
	// IO indicates an unreadable or unwritable file.
	IO
	// State indicates API misuse, e.g. observing a finalized accumulator.
	State
	// RegistryFormat indicates a malformed reference registry entry.
	RegistryFormat
	// DuplicateKey indicates a sample identifier seen twice in the registry.
	DuplicateKey
	// NotFound indicates a missing registry entry.
	NotFound
	// InsufficientData indicates that there is not enough data for a decision.
	InsufficientData
	// Config indicates an invalid configuration.
	Config
	// Timeout indicates that an operation exceeded its deadline.
	Timeout
	// Canceled indicates that the run was canceled.
	Canceled

	maxKind
)

var kindNames = [maxKind]string{
	Other:            "Error",
	InputFormat:      "InputFormatError",
	IO:               "IOError",
	State:            "StateError",
	RegistryFormat:   "RegistryFormatError",
	DuplicateKey:     "DuplicateKeyError",
	NotFound:         "NotFoundError",
	InsufficientData: "InsufficientDataError",
	Config:           "ConfigError",
	Timeout:          "TimeoutError",
	Canceled:         "Canceled",
}

// String returns the name of the kind, e.g. "IOError".
func (k Kind) String() string {
	if k < 0 || k >= maxKind {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

type (
	// Path is a file path attached to an error.
	Path string
	// Sample is a sample identifier attached to an error.
	Sample string
	// Metric is a QC metric name attached to an error.
	Metric string
	// Run is a run name attached to an error.
	Run string
)

// Error is the error type returned by seqchk packages.
type Error struct {
	Kind   Kind
	Path   string
	Sample string
	Metric string
	Run    string
	// Message is the human-readable description of the failure.
	Message string
	// Err is the underlying cause, if any.
	Err error
}

// E constructs an *Error from its arguments. See the package documentation
// for how arguments are interpreted. E panics on an argument of an unknown
// type, as grailbio/base/errors.E does.
func E(args ...interface{}) error {
	if len(args) == 0 {
		panic("qcerr.E: no arguments")
	}
	e := &Error{}
	var msg bytes.Buffer
	for _, arg := range args {
		switch a := arg.(type) {
		case nil:
		case Kind:
			e.Kind = a
		case Path:
			e.Path = string(a)
		case Sample:
			e.Sample = string(a)
		case Metric:
			e.Metric = string(a)
		case Run:
			e.Run = string(a)
		case string:
			if msg.Len() > 0 {
				msg.WriteByte(' ')
			}
			msg.WriteString(a)
		case error:
			e.Err = a
		default:
			panic(fmt.Sprintf("qcerr.E: unknown argument type %T (%v)", arg, arg))
		}
	}
	e.Message = msg.String()
	if e.Kind == Other {
		var cause *Error
		if errors.As(e.Err, &cause) {
			e.Kind = cause.Kind
		}
	}
	return e
}

// Error implements error.
func (e *Error) Error() string {
	body := e.body()
	if body == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + body
}

// body renders e without its kind. A directly nested *Error of the same kind
// is folded into the body, so the kind is named only once.
func (e *Error) body() string {
	var b bytes.Buffer
	add := func(s string) {
		if s == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(s)
	}
	if e.Run != "" {
		add("run " + e.Run)
	}
	if e.Sample != "" {
		add("sample " + e.Sample)
	}
	if e.Metric != "" {
		add("metric " + e.Metric)
	}
	add(e.Path)
	add(e.Message)
	if e.Err != nil {
		if cause, ok := e.Err.(*Error); ok && cause.Kind == e.Kind {
			add(cause.body())
		} else {
			add(e.Err.Error())
		}
	}
	return b.String()
}

// Unwrap returns the cause of e.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether err, or any error in its chain, is an *Error of the
// given kind.
func Is(kind Kind, err error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// KindOf returns the kind of the outermost *Error in err's chain, or Other.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}
