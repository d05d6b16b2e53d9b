// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqljson

import (
	"github.com/rltbl/sqljson/internal/dberr"
)

// Error is the error type returned by every fallible operation in this
// package. Use errors.Is against the Err* sentinels to classify a failure.
type Error = dberr.Error

// Sentinels for the error kinds. ErrConnect and ErrDatabase indicate engine
// or pool failures that a caller may retry under its own policy; the others
// indicate programming or data errors and are not retryable.
var (
	// ErrConnect indicates a pool or connection setup failure.
	ErrConnect = dberr.ErrConnect
	// ErrInput indicates a caller-supplied shape, identifier or
	// parameter-count violation.
	ErrInput = dberr.ErrInput
	// ErrData indicates a result shape or range violation on read.
	ErrData = dberr.ErrData
	// ErrDatatype indicates an unrecognized SQL type name.
	ErrDatatype = dberr.ErrDatatype
	// ErrParse indicates a value whose text does not parse as its
	// declared type.
	ErrParse = dberr.ErrParse
	// ErrDatabase indicates that the underlying engine rejected a
	// statement.
	ErrDatabase = dberr.ErrDatabase
)
