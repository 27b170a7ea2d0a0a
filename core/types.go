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

// Package core defines the records, schemas, dispositions and errors shared by
// sources, stages and destinations.
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Record represents a single raw row as handed over by a source collaborator.
// Each record is a map from column names to loosely typed values; stages decode
// it into typed records at their boundary.
type Record map[string]interface{}

// TransformFunc is a function adapter for the Transformer interface.
type TransformFunc func(ctx context.Context, record Record) (Record, error)

// Transform implements the Transformer interface for TransformFunc.
func (f TransformFunc) Transform(ctx context.Context, record Record) (Record, error) {
	return f(ctx, record)
}

// FilterFunc is a function adapter for the Filter interface.
type FilterFunc func(ctx context.Context, record Record) (bool, error)

// ShouldInclude implements the Filter interface for FilterFunc.
func (f FilterFunc) ShouldInclude(ctx context.Context, record Record) (bool, error) {
	return f(ctx, record)
}

// IsNull reports whether v counts as a SQL NULL: nil, an invalid
// decimal.NullDecimal, or a nil pointer of one of the supported kinds.
func IsNull(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case decimal.NullDecimal:
		return !x.Valid
	case *string:
		return x == nil
	case *time.Time:
		return x == nil
	case *decimal.Decimal:
		return x == nil
	}
	return false
}

// Plain unwraps optional wrappers so destinations only see nil, string,
// time.Time, decimal.Decimal, bool, int64 and float64 values.
func Plain(v interface{}) interface{} {
	if IsNull(v) {
		return nil
	}
	switch x := v.(type) {
	case decimal.NullDecimal:
		return x.Decimal
	case *string:
		return *x
	case *time.Time:
		return *x
	case *decimal.Decimal:
		return *x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}

// AsFloat64 converts numeric values (including decimals) to float64.
func AsFloat64(v interface{}) (float64, bool) {
	switch x := Plain(v).(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case decimal.Decimal:
		f, _ := x.Float64()
		return f, true
	}
	return 0, false
}
