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

// Package price fetches spot prices for a fixed set of currencies and appends
// one row per currency to a destination table.
package price

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/aaronlmathis/tripetl/core"
	"github.com/shopspring/decimal"
)

// Column names of the price table.
const (
	ColCurrency = "currency"
	ColUSDPrice = "usd_price"
)

// Schema returns the destination schema of normalized prices.
func Schema() core.Schema {
	return core.NewSchema(
		core.Field{Name: ColCurrency, Type: core.FieldString, Mode: core.ModeNullable},
		core.Field{Name: ColUSDPrice, Type: core.FieldFloat, Mode: core.ModeNullable},
	)
}

// Entry is one currency of a price payload. USD is invalid when the payload
// omits the usd key or sets it to null.
type Entry struct {
	Currency string
	USD      decimal.NullDecimal
}

// Payload is a decoded price response, keeping the document order of its
// currencies.
//
//	{"bitcoin": {"usd": 64000.5}, "ethereum": {"usd": 3100}}
type Payload struct {
	Entries []Entry
}

// UnmarshalJSON decodes a currency keyed object into ordered entries.
func (p *Payload) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("price payload: expected object, got %v", tok)
	}

	entries := []Entry{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		currency := tok.(string)

		var quote map[string]json.RawMessage
		if err := dec.Decode(&quote); err != nil {
			return fmt.Errorf("price payload: currency %s: %w", currency, err)
		}

		entry := Entry{Currency: currency}
		if raw, ok := quote["usd"]; ok && string(raw) != "null" {
			var d decimal.Decimal
			if err := d.UnmarshalJSON(raw); err != nil {
				return fmt.Errorf("price payload: currency %s: usd: %w", currency, err)
			}
			entry.USD = decimal.NewNullDecimal(d)
		}
		entries = append(entries, entry)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	p.Entries = entries
	return nil
}

// Output is a normalized price row.
type Output struct {
	Currency string              `json:"currency"`
	USDPrice decimal.NullDecimal `json:"usd_price"`
}

// Record projects the output onto a destination row.
func (o Output) Record() core.Record {
	return core.Record{
		ColCurrency: o.Currency,
		ColUSDPrice: core.Plain(o.USDPrice),
	}
}

// Normalize maps every payload entry, in payload order, to an Output row.
//
// Unlike the trip batch stage, nothing is filtered here: a currency without a
// usd price still yields a row with a null usd_price, so each run records one
// observation per requested currency.
func Normalize(p Payload) []Output {
	out := make([]Output, 0, len(p.Entries))
	for _, e := range p.Entries {
		out = append(out, Output{Currency: e.Currency, USDPrice: e.USD})
	}
	return out
}

// Records converts outputs to destination rows.
func Records(outs []Output) []core.Record {
	rows := make([]core.Record, 0, len(outs))
	for _, o := range outs {
		rows = append(rows, o.Record())
	}
	return rows
}
