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
	"github.com/shopspring/decimal"
)

// RatePlaces is the number of decimal places kept on trip_miles_per_second.
const RatePlaces = 4

// Transformer projects a validated Raw trip onto the Output shape.
// trip_seconds and trip_miles do not appear in the output.
type Transformer struct{}

// Transform computes trip_miles_per_second = round(miles / seconds, 4),
// rounding half to even on the exact decimal quotient. raw must have
// non-zero TripSeconds; Validator guarantees that for kept records.
func (Transformer) Transform(raw Raw) Output {
	return Output{
		UniqueKey:          raw.UniqueKey,
		TripStartTimestamp: raw.TripStart,
		TripEndTimestamp:   raw.TripEnd,
		Fare:               raw.Fare,
		TripMilesPerSecond: decimal.NewNullDecimal(
			DivRoundHalfEven(raw.TripMiles, decimal.NewFromInt(raw.TripSeconds), RatePlaces),
		),
		PaymentType: raw.PaymentType,
	}
}

// DivRoundHalfEven returns num/den rounded to places decimal places, with
// exact ties going to the even neighbour. den must not be zero.
func DivRoundHalfEven(num, den decimal.Decimal, places int32) decimal.Decimal {
	// q is truncated toward zero and r carries the sign of num.
	q, r := num.QuoRem(den, places)
	if r.IsZero() {
		return q
	}

	unit := decimal.New(1, -places)
	twice := r.Abs().Add(r.Abs())
	switch twice.Cmp(den.Abs().Mul(unit)) {
	case -1:
		return q
	case 0:
		if q.Shift(places).BigInt().Bit(0) == 0 {
			return q
		}
	}

	if num.Sign()*den.Sign() < 0 {
		return q.Sub(unit)
	}
	return q.Add(unit)
}
