// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package pvalue holds the parameter value model: the typed intermediate
// representation of a single SQL-bindable scalar, and the insertion-ordered
// JSON row used for both query results and edit input records.
package pvalue

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBoolean
	KindSmallInteger
	KindInteger
	KindBigInteger
	KindReal
	KindBigReal
	KindText
	KindNumeric
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBoolean:
		return "boolean"
	case KindSmallInteger:
		return "smallinteger"
	case KindInteger:
		return "integer"
	case KindBigInteger:
		return "biginteger"
	case KindReal:
		return "real"
	case KindBigReal:
		return "bigreal"
	case KindText:
		return "text"
	case KindNumeric:
		return "numeric"
	}
	return "unknown"
}

// Value is a tagged union over the scalar types that can be bound to a SQL
// parameter. Exactly one variant is bindable per declared SQL column type per
// dialect. A Value is created per call from a JSON scalar and consumed
// immediately by the driver binding step; it has no independent lifecycle.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	d    decimal.Decimal
}

// Null returns the NULL value.
func Null() Value {
	return Value{kind: KindNull}
}

// Boolean returns a boolean value.
func Boolean(b bool) Value {
	return Value{kind: KindBoolean, b: b}
}

// SmallInteger returns a 16-bit signed integer value.
func SmallInteger(i int16) Value {
	return Value{kind: KindSmallInteger, i: int64(i)}
}

// Integer returns a 32-bit signed integer value.
func Integer(i int32) Value {
	return Value{kind: KindInteger, i: int64(i)}
}

// BigInteger returns a 64-bit signed integer value.
func BigInteger(i int64) Value {
	return Value{kind: KindBigInteger, i: i}
}

// Real returns a 32-bit float value.
func Real(f float32) Value {
	return Value{kind: KindReal, f: float64(f)}
}

// BigReal returns a 64-bit float value.
func BigReal(f float64) Value {
	return Value{kind: KindBigReal, f: f}
}

// Text returns a string value.
func Text(s string) Value {
	return Value{kind: KindText, s: s}
}

// Numeric returns an arbitrary-precision decimal value.
func Numeric(d decimal.Decimal) Value {
	return Value{kind: KindNumeric, d: d}
}

// Kind returns the variant tag.
func (v Value) Kind() Kind {
	return v.kind
}

// Driver returns the Go value handed to the database/sql driver when this
// Value is bound. Numeric values are bound in their exact decimal string
// form, which both engines accept for NUMERIC columns.
func (v Value) Driver() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBoolean:
		return v.b
	case KindSmallInteger:
		return int16(v.i)
	case KindInteger:
		return int32(v.i)
	case KindBigInteger:
		return v.i
	case KindReal:
		return float32(v.f)
	case KindBigReal:
		return v.f
	case KindText:
		return v.s
	case KindNumeric:
		return v.d.String()
	}
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindText:
		return fmt.Sprintf("%q", v.s)
	default:
		return fmt.Sprintf("%v", v.Driver())
	}
}
