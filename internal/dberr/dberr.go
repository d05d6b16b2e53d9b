// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package dberr defines the error taxonomy shared by every layer of sqljson.
// Each fallible operation returns an *Error carrying one of the Kind values
// below; callers match on the kind with errors.Is against the exported
// sentinels.
package dberr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by which contract was violated.
type Kind int

const (
	// Connect indicates a pool or connection setup failure.
	Connect Kind = iota
	// Input indicates a caller-supplied shape, identifier or
	// parameter-count violation.
	Input
	// Data indicates a result shape or range violation on read.
	Data
	// Datatype indicates an unrecognized SQL type name.
	Datatype
	// Parse indicates a value that does not parse as its declared type.
	Parse
	// Database indicates that the underlying engine rejected a statement.
	Database
)

func (k Kind) String() string {
	switch k {
	case Connect:
		return "connect error"
	case Input:
		return "input error"
	case Data:
		return "data error"
	case Datatype:
		return "datatype error"
	case Parse:
		return "parse error"
	case Database:
		return "database error"
	}
	return "unknown error"
}

// Sentinel errors, one per kind. An *Error matches its kind's sentinel under
// errors.Is.
var (
	ErrConnect  = errors.New("sqljson: connect error")
	ErrInput    = errors.New("sqljson: input error")
	ErrData     = errors.New("sqljson: data error")
	ErrDatatype = errors.New("sqljson: datatype error")
	ErrParse    = errors.New("sqljson: parse error")
	ErrDatabase = errors.New("sqljson: database error")
)

// Error is the concrete error type returned by every sqljson operation.
type Error struct {
	kind Kind
	msg  string
	wrap error
}

// New returns an *Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error of the given kind that wraps err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), wrap: err}
}

// Kind returns the error's classification.
func (e *Error) Kind() Kind {
	return e.kind
}

func (e *Error) Error() string {
	if e.wrap != nil {
		return fmt.Sprintf("sqljson: %s: %s", e.msg, e.wrap)
	}
	return fmt.Sprintf("sqljson: %s", e.msg)
}

func (e *Error) Unwrap() error {
	return e.wrap
}

// Is reports whether target is the sentinel for this error's kind, allowing
// errors.Is(err, dberr.ErrInput) and friends.
func (e *Error) Is(target error) bool {
	switch e.kind {
	case Connect:
		return target == ErrConnect
	case Input:
		return target == ErrInput
	case Data:
		return target == ErrData
	case Datatype:
		return target == ErrDatatype
	case Parse:
		return target == ErrParse
	case Database:
		return target == ErrDatabase
	}
	return false
}

// Connectf returns a Connect kind error.
func Connectf(format string, args ...any) *Error {
	return New(Connect, format, args...)
}

// Inputf returns an Input kind error.
func Inputf(format string, args ...any) *Error {
	return New(Input, format, args...)
}

// Dataf returns a Data kind error.
func Dataf(format string, args ...any) *Error {
	return New(Data, format, args...)
}

// Datatypef returns a Datatype kind error.
func Datatypef(format string, args ...any) *Error {
	return New(Datatype, format, args...)
}

// Parsef returns a Parse kind error.
func Parsef(format string, args ...any) *Error {
	return New(Parse, format, args...)
}

// Databasef returns a Database kind error.
func Databasef(format string, args ...any) *Error {
	return New(Database, format, args...)
}
