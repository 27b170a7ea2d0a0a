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
	"github.com/aaronlmathis/tripetl/core"
	"github.com/shopspring/decimal"
)

// Outcome classifies a validated record.
type Outcome int

const (
	// Keep marks a record that proceeds to the transform.
	Keep Outcome = iota
	// DropFiltered marks a well formed record with a zero duration or distance.
	DropFiltered
	// DropMalformed marks a record with an unparseable field.
	DropMalformed
)

func (o Outcome) String() string {
	switch o {
	case Keep:
		return "keep"
	case DropFiltered:
		return "filtered"
	case DropMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Verdict is the result of validating one record. Raw is populated only for
// kept records, Err only for malformed ones.
type Verdict struct {
	Outcome Outcome
	Raw     Raw
	Err     *core.MalformedRecordError
}

// Kept reports whether the record should be transformed.
func (v Verdict) Kept() bool {
	return v.Outcome == Keep
}

// Validator decides whether a raw trip record is eligible for transformation.
//
// trip_seconds and trip_miles are read first, with missing, null and empty
// values counting as 0. A record where either is 0 is filtered. Other fields
// are decoded only for records that survive, so a record is malformed only if
// one of its parsed fields cannot be read.
type Validator struct{}

// Validate classifies rec. It never panics on bad input.
func (Validator) Validate(rec core.Record) Verdict {
	raw, err := decodeCounts(rec)
	if err != nil {
		return Verdict{Outcome: DropMalformed, Err: err}
	}
	if raw.TripSeconds == 0 || raw.TripMiles.IsZero() {
		return Verdict{Outcome: DropFiltered}
	}
	if err := decodeColumns(rec, &raw); err != nil {
		return Verdict{Outcome: DropMalformed, Err: err}
	}
	return Verdict{Outcome: Keep, Raw: raw}
}

// Decode converts a source row into a Raw trip without filtering.
func Decode(rec core.Record) (Raw, error) {
	raw, err := decodeCounts(rec)
	if err != nil {
		return Raw{}, err
	}
	if err := decodeColumns(rec, &raw); err != nil {
		return Raw{}, err
	}
	return raw, nil
}

func decodeCounts(rec core.Record) (Raw, *core.MalformedRecordError) {
	seconds, err := parseSeconds(rec[ColTripSeconds])
	if err != nil {
		return Raw{}, malformed(ColTripSeconds, rec[ColTripSeconds], err)
	}
	miles, _, err := parseDecimal(rec[ColTripMiles])
	if err != nil {
		return Raw{}, malformed(ColTripMiles, rec[ColTripMiles], err)
	}
	return Raw{TripSeconds: seconds, TripMiles: miles}, nil
}

func decodeColumns(rec core.Record, raw *Raw) *core.MalformedRecordError {
	var err error
	if raw.UniqueKey, err = parseString(rec[ColUniqueKey]); err != nil {
		return malformed(ColUniqueKey, rec[ColUniqueKey], err)
	}
	if raw.PaymentType, err = parseString(rec[ColPaymentType]); err != nil {
		return malformed(ColPaymentType, rec[ColPaymentType], err)
	}
	if raw.TripStart, err = parseTimestamp(rec[ColTripStart]); err != nil {
		return malformed(ColTripStart, rec[ColTripStart], err)
	}
	if raw.TripEnd, err = parseTimestamp(rec[ColTripEnd]); err != nil {
		return malformed(ColTripEnd, rec[ColTripEnd], err)
	}
	fare, ok, err := parseDecimal(rec[ColFare])
	if err != nil {
		return malformed(ColFare, rec[ColFare], err)
	}
	raw.Fare = decimal.NullDecimal{Decimal: fare, Valid: ok}
	return nil
}

func malformed(field string, value interface{}, err error) *core.MalformedRecordError {
	return &core.MalformedRecordError{Field: field, Value: value, Err: err}
}
