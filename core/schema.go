//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of TripETL.
//
// TripETL is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// TripETL is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with TripETL. If not, see https://www.gnu.org/licenses/.

package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FieldType is the warehouse column type of a schema field.
type FieldType string

const (
	FieldString    FieldType = "STRING"
	FieldTimestamp FieldType = "TIMESTAMP"
	FieldFloat     FieldType = "FLOAT"
	FieldNumeric   FieldType = "NUMERIC"
	FieldInteger   FieldType = "INTEGER"
	FieldBoolean   FieldType = "BOOLEAN"
)

// Mode is the nullability of a schema field.
type Mode string

const (
	ModeNullable Mode = "NULLABLE"
	ModeRequired Mode = "REQUIRED"
)

// Field is one (name, type, nullability) triple of a destination schema.
type Field struct {
	Name string    `json:"name" bson:"name"`
	Type FieldType `json:"type" bson:"type"`
	Mode Mode      `json:"mode" bson:"mode"`
}

// Nullable reports whether the field accepts nulls. An empty mode is NULLABLE.
func (f Field) Nullable() bool {
	return f.Mode != ModeRequired
}

// Schema is the ordered field list of a destination table. Names, types,
// declaration order and nullability are all part of the contract.
type Schema struct {
	Fields []Field `json:"fields" bson:"fields"`
}

// NewSchema creates a schema from fields in declaration order.
func NewSchema(fields ...Field) Schema {
	return Schema{Fields: append([]Field(nil), fields...)}
}

// Names returns the field names in declaration order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Index returns the position of the named field, or -1.
func (s Schema) Index(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Validate checks that the schema itself is well formed.
func (s Schema) Validate() error {
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema has no fields")
	}
	seen := make(map[string]bool, len(s.Fields))
	for i, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("field %d has no name", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field %s", f.Name)
		}
		seen[f.Name] = true
		switch f.Type {
		case FieldString, FieldTimestamp, FieldFloat, FieldNumeric, FieldInteger, FieldBoolean:
		default:
			return fmt.Errorf("field %s has unknown type %q", f.Name, f.Type)
		}
		switch f.Mode {
		case ModeNullable, ModeRequired, "":
		default:
			return fmt.Errorf("field %s has unknown mode %q", f.Name, f.Mode)
		}
	}
	return nil
}

// Equal reports whether both schemas declare the same fields in the same order.
func (s Schema) Equal(other Schema) bool {
	return len(s.Diff(other)) == 0
}

// Diff describes how other deviates from s, field by field.
func (s Schema) Diff(other Schema) []string {
	var diffs []string
	n := len(s.Fields)
	if len(other.Fields) > n {
		n = len(other.Fields)
	}
	for i := 0; i < n; i++ {
		switch {
		case i >= len(other.Fields):
			diffs = append(diffs, fmt.Sprintf("field %d: missing %s", i, s.Fields[i].Name))
		case i >= len(s.Fields):
			diffs = append(diffs, fmt.Sprintf("field %d: unexpected %s", i, other.Fields[i].Name))
		default:
			want, got := s.Fields[i], other.Fields[i]
			if want.Name != got.Name {
				diffs = append(diffs, fmt.Sprintf("field %d: name %s, want %s", i, got.Name, want.Name))
				continue
			}
			if want.Type != got.Type {
				diffs = append(diffs, fmt.Sprintf("field %s: type %s, want %s", want.Name, got.Type, want.Type))
			}
			if want.Nullable() != got.Nullable() {
				diffs = append(diffs, fmt.Sprintf("field %s: mode %s, want %s", want.Name, modeOf(got), modeOf(want)))
			}
		}
	}
	return diffs
}

func modeOf(f Field) Mode {
	if f.Nullable() {
		return ModeNullable
	}
	return ModeRequired
}

// Conform checks a row against the schema and returns one RowError per
// offending field. Missing fields count as null.
func (s Schema) Conform(index int64, row Record) []RowError {
	var errs []RowError
	for name := range row {
		if s.Index(name) < 0 {
			errs = append(errs, RowError{Index: index, Field: name, Reason: "no such field in schema"})
		}
	}
	for _, f := range s.Fields {
		v := row[f.Name]
		if IsNull(v) {
			if !f.Nullable() {
				errs = append(errs, RowError{Index: index, Field: f.Name, Reason: "null value in REQUIRED field"})
			}
			continue
		}
		if !conforms(f.Type, Plain(v)) {
			errs = append(errs, RowError{Index: index, Field: f.Name, Reason: fmt.Sprintf("value of type %T is not %s", v, f.Type)})
		}
	}
	return errs
}

func conforms(t FieldType, v interface{}) bool {
	switch t {
	case FieldString:
		_, ok := v.(string)
		return ok
	case FieldTimestamp:
		_, ok := v.(time.Time)
		return ok
	case FieldFloat, FieldNumeric:
		switch v.(type) {
		case float64, int64, decimal.Decimal:
			return true
		}
		return false
	case FieldInteger:
		_, ok := v.(int64)
		return ok
	case FieldBoolean:
		_, ok := v.(bool)
		return ok
	}
	return false
}
