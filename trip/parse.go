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

package trip

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	errNotFinite   = errors.New("not a finite number")
	errOutOfRange  = errors.New("out of int64 range")
	errUnsupported = errors.New("unsupported type")
)

// timeLayouts are tried in order for string timestamps. The second form is
// how warehouse exports print UTC timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999 UTC",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"01/02/2006 03:04:05 PM",
}

// parseSeconds reads an integer duration. Missing, null and empty values
// are 0; fractional numbers are truncated toward zero.
func parseSeconds(v interface{}) (int64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return uintToInt64(uint64(x))
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return uintToInt64(x)
	case float32:
		return floatToInt64(float64(x))
	case float64:
		return floatToInt64(x)
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		f, err := x.Float64()
		if err != nil {
			return 0, err
		}
		return floatToInt64(f)
	case decimal.Decimal:
		return decimalToInt64(x)
	case decimal.NullDecimal:
		if !x.Valid {
			return 0, nil
		}
		return decimalToInt64(x.Decimal)
	case []byte:
		return parseSeconds(string(x))
	case string:
		if x == "" {
			return 0, nil
		}
		return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
	}
	return 0, fmt.Errorf("%w %T", errUnsupported, v)
}

func uintToInt64(u uint64) (int64, error) {
	if u > math.MaxInt64 {
		return 0, errOutOfRange
	}
	return int64(u), nil
}

func floatToInt64(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errNotFinite
	}
	t := math.Trunc(f)
	if t < math.MinInt64 || t >= math.MaxInt64 {
		return 0, errOutOfRange
	}
	return int64(t), nil
}

func decimalToInt64(d decimal.Decimal) (int64, error) {
	t := d.Truncate(0)
	if !t.BigInt().IsInt64() {
		return 0, errOutOfRange
	}
	return t.IntPart(), nil
}

// parseDecimal reads a decimal value. present is false for missing, null
// and empty values.
func parseDecimal(v interface{}) (d decimal.Decimal, present bool, err error) {
	switch x := v.(type) {
	case nil:
		return decimal.Zero, false, nil
	case int:
		return decimal.NewFromInt(int64(x)), true, nil
	case int8:
		return decimal.NewFromInt(int64(x)), true, nil
	case int16:
		return decimal.NewFromInt(int64(x)), true, nil
	case int32:
		return decimal.NewFromInt32(x), true, nil
	case int64:
		return decimal.NewFromInt(x), true, nil
	case uint:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(x)), 0), true, nil
	case uint8:
		return decimal.NewFromInt(int64(x)), true, nil
	case uint16:
		return decimal.NewFromInt(int64(x)), true, nil
	case uint32:
		return decimal.NewFromInt(int64(x)), true, nil
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(x), 0), true, nil
	case float32:
		return parseDecimal(float64(x))
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero, false, errNotFinite
		}
		return decimal.NewFromFloat(x), true, nil
	case json.Number:
		d, err := decimal.NewFromString(string(x))
		return d, err == nil, err
	case decimal.Decimal:
		return x, true, nil
	case decimal.NullDecimal:
		return x.Decimal, x.Valid, nil
	case []byte:
		return parseDecimal(string(x))
	case string:
		if x == "" {
			return decimal.Zero, false, nil
		}
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		if err != nil {
			return decimal.Zero, false, err
		}
		return d, true, nil
	}
	return decimal.Zero, false, fmt.Errorf("%w %T", errUnsupported, v)
}

// ParseTimestamp reads a raw timestamp value the way the validator does.
// ok is false for null and empty values.
func ParseTimestamp(v interface{}) (t time.Time, ok bool, err error) {
	p, err := parseTimestamp(v)
	if err != nil || p == nil {
		return time.Time{}, false, err
	}
	return *p, true, nil
}

func parseTimestamp(v interface{}) (*time.Time, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return &x, nil
	case *time.Time:
		return x, nil
	case []byte:
		return parseTimestamp(string(x))
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, nil
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return &t, nil
			}
		}
		return nil, fmt.Errorf("unrecognized timestamp %q", s)
	}
	return nil, fmt.Errorf("%w %T", errUnsupported, v)
}

func parseString(v interface{}) (*string, error) {
	var s string
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		s = x
	case *string:
		return x, nil
	case []byte:
		s = string(x)
	case json.Number:
		s = x.String()
	case int, int32, int64:
		s = fmt.Sprint(x)
	default:
		return nil, fmt.Errorf("%w %T", errUnsupported, v)
	}
	return &s, nil
}
