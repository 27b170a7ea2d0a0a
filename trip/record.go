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

// Package trip cleans taxi trip rows and derives their miles-per-second rate.
//
// A raw row enters as a core.Record, is decoded and checked by the Validator,
// and kept rows are projected by the Transformer onto the six column Output
// shape. BatchStage composes both over a DataSource as a lazy sequence.
package trip

import (
	"time"

	"github.com/aaronlmathis/tripetl/core"
	"github.com/shopspring/decimal"
)

// Source and destination column names.
const (
	ColUniqueKey          = "unique_key"
	ColTripStart          = "trip_start_timestamp"
	ColTripEnd            = "trip_end_timestamp"
	ColFare               = "fare"
	ColTripSeconds        = "trip_seconds"
	ColTripMiles          = "trip_miles"
	ColPaymentType        = "payment_type"
	ColTripMilesPerSecond = "trip_miles_per_second"
)

// SourceColumns returns the raw columns the trip stage reads.
func SourceColumns() []string {
	return []string{ColUniqueKey, ColTripStart, ColTripEnd, ColFare, ColTripSeconds, ColTripMiles, ColPaymentType}
}

// Schema returns the destination schema of transformed trips.
func Schema() core.Schema {
	return core.NewSchema(
		core.Field{Name: ColUniqueKey, Type: core.FieldString, Mode: core.ModeNullable},
		core.Field{Name: ColTripStart, Type: core.FieldTimestamp, Mode: core.ModeNullable},
		core.Field{Name: ColTripEnd, Type: core.FieldTimestamp, Mode: core.ModeNullable},
		core.Field{Name: ColFare, Type: core.FieldFloat, Mode: core.ModeNullable},
		core.Field{Name: ColTripMilesPerSecond, Type: core.FieldFloat, Mode: core.ModeNullable},
		core.Field{Name: ColPaymentType, Type: core.FieldString, Mode: core.ModeNullable},
	)
}

// Raw is a decoded source trip. Optional columns are nil or invalid when the
// source row lacks them; TripSeconds and TripMiles are zero in that case.
type Raw struct {
	UniqueKey   *string
	TripStart   *time.Time
	TripEnd     *time.Time
	Fare        decimal.NullDecimal
	TripSeconds int64
	TripMiles   decimal.Decimal
	PaymentType *string
}

// Output is a transformed trip with exactly the six destination columns.
// TripMilesPerSecond is always valid on records emitted by BatchStage.
type Output struct {
	UniqueKey          *string             `json:"unique_key"`
	TripStartTimestamp *time.Time          `json:"trip_start_timestamp"`
	TripEndTimestamp   *time.Time          `json:"trip_end_timestamp"`
	Fare               decimal.NullDecimal `json:"fare"`
	TripMilesPerSecond decimal.NullDecimal `json:"trip_miles_per_second"`
	PaymentType        *string             `json:"payment_type"`
}

// Record projects the output onto a destination row. Absent values are nil.
func (o Output) Record() core.Record {
	return core.Record{
		ColUniqueKey:          core.Plain(o.UniqueKey),
		ColTripStart:          core.Plain(o.TripStartTimestamp),
		ColTripEnd:            core.Plain(o.TripEndTimestamp),
		ColFare:               core.Plain(o.Fare),
		ColTripMilesPerSecond: core.Plain(o.TripMilesPerSecond),
		ColPaymentType:        core.Plain(o.PaymentType),
	}
}
