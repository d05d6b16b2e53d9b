// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package pvalue

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Row is an insertion-ordered mapping from column name to JSON scalar or
// null. It represents one result row or one input record. Marshalling and
// unmarshalling preserve column order, which encoding/json's map type does
// not.
type Row struct {
	keys []string
	vals map[string]any
}

// NewRow returns an empty row.
func NewRow() *Row {
	return &Row{vals: map[string]any{}}
}

// Set adds or replaces the value for the given column. A new column is
// appended to the iteration order.
func (r *Row) Set(column string, value any) {
	if r.vals == nil {
		r.vals = map[string]any{}
	}
	if _, ok := r.vals[column]; !ok {
		r.keys = append(r.keys, column)
	}
	r.vals[column] = value
}

// Get returns the value for the given column and whether it is present.
func (r *Row) Get(column string) (any, bool) {
	v, ok := r.vals[column]
	return v, ok
}

// Has reports whether the row contains the given column.
func (r *Row) Has(column string) bool {
	_, ok := r.vals[column]
	return ok
}

// Columns returns the column names in insertion order.
func (r *Row) Columns() []string {
	return r.keys
}

// Len returns the number of columns in the row.
func (r *Row) Len() int {
	return len(r.keys)
}

// MarshalJSON encodes the row as a JSON object with keys in insertion order.
func (r *Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.vals[k])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object preserving key order. Numbers are kept
// as json.Number so that integers survive the trip without becoming floats.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("cannot unmarshal row: expected object, got %v", tok)
	}
	r.keys = nil
	r.vals = map[string]any{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("cannot unmarshal row: non-string key %v", keyTok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return err
		}
		r.Set(key, value)
	}
	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
