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

package filter

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/tripetl/core"
)

func include(t *testing.T, f core.Filter, rec core.Record) bool {
	t.Helper()
	ok, err := f.ShouldInclude(context.Background(), rec)
	require.NoError(t, err)
	return ok
}

func TestNotNull(t *testing.T) {
	f := NotNull("fare")
	assert.True(t, include(t, f, core.Record{"fare": 12.25}))
	assert.False(t, include(t, f, core.Record{}))
	assert.False(t, include(t, f, core.Record{"fare": nil}))
	assert.False(t, include(t, f, core.Record{"fare": "  "}))
	assert.False(t, include(t, f, core.Record{"fare": decimal.NullDecimal{}}))
}

func TestIn(t *testing.T) {
	f := In("payment_type", "Cash", "Credit Card")
	assert.True(t, include(t, f, core.Record{"payment_type": "Credit Card"}))
	assert.False(t, include(t, f, core.Record{"payment_type": "Mobile"}))
	assert.False(t, include(t, f, core.Record{"payment_type": []string{"Cash"}}))
}

func TestTimeWindow(t *testing.T) {
	start := time.Date(2019, 9, 5, 7, 15, 0, 0, time.UTC)
	f := And(TimeAtOrAfter("trip_start_timestamp", start), TimeBefore("trip_start_timestamp", start.Add(time.Hour)))

	assert.True(t, include(t, f, core.Record{"trip_start_timestamp": "2019-09-05 07:15:00 UTC"}))
	assert.True(t, include(t, f, core.Record{"trip_start_timestamp": start.Add(time.Minute)}))
	assert.False(t, include(t, f, core.Record{"trip_start_timestamp": "2019-09-05T07:14:59Z"}))
	assert.False(t, include(t, f, core.Record{"trip_start_timestamp": start.Add(time.Hour)}))
	assert.False(t, include(t, f, core.Record{"trip_start_timestamp": nil}))

	_, err := f.ShouldInclude(context.Background(), core.Record{"trip_start_timestamp": "yesterday"})
	assert.ErrorContains(t, err, "trip_start_timestamp")
}

func TestCombinators(t *testing.T) {
	isCash := In("payment_type", "Cash")
	hasFare := NotNull("fare")
	cash := core.Record{"payment_type": "Cash"}

	assert.False(t, include(t, And(isCash, hasFare), cash))
	assert.True(t, include(t, And(isCash, Not(hasFare)), cash))
	assert.True(t, include(t, And(), cash))
	assert.False(t, include(t, Not(isCash), cash))

	_, err := Not(TimeBefore("trip_start_timestamp", time.Now())).ShouldInclude(context.Background(), core.Record{"trip_start_timestamp": "yesterday"})
	assert.Error(t, err)
}
