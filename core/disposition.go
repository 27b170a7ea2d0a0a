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

import "fmt"

// CreateDisposition governs whether a load may create its destination table.
type CreateDisposition int

const (
	// CreateIfNeeded creates the table with the declared schema when absent.
	CreateIfNeeded CreateDisposition = iota
	// CreateNever requires the table to exist.
	CreateNever
)

func (c CreateDisposition) String() string {
	if c == CreateNever {
		return "CREATE_NEVER"
	}
	return "CREATE_IF_NEEDED"
}

// WriteDisposition governs how a load affects existing table content.
type WriteDisposition int

const (
	// WriteUnspecified is the zero value. Loads reject it.
	WriteUnspecified WriteDisposition = iota
	// WriteTruncate discards the prior content and replaces it with the new rows.
	WriteTruncate
	// WriteAppend adds the new rows after the prior content.
	WriteAppend
)

func (w WriteDisposition) String() string {
	switch w {
	case WriteTruncate:
		return "WRITE_TRUNCATE"
	case WriteAppend:
		return "WRITE_APPEND"
	}
	return "WRITE_UNSPECIFIED"
}

// Disposition pairs the create and write policies of one load.
type Disposition struct {
	Create CreateDisposition
	Write  WriteDisposition
}

func (d Disposition) String() string {
	return d.Create.String() + "/" + d.Write.String()
}

// Validate rejects a disposition whose write policy was never chosen, so a
// zero Disposition cannot silently truncate a table.
func (d Disposition) Validate() error {
	if d.Create != CreateIfNeeded && d.Create != CreateNever {
		return fmt.Errorf("unknown create disposition %d", d.Create)
	}
	if d.Write != WriteTruncate && d.Write != WriteAppend {
		return fmt.Errorf("write disposition is %s", d.Write)
	}
	return nil
}

var (
	// BatchDisposition makes repeated batch runs idempotent in table content.
	BatchDisposition = Disposition{Create: CreateIfNeeded, Write: WriteTruncate}
	// FetchDisposition accumulates one observation per run.
	FetchDisposition = Disposition{Create: CreateIfNeeded, Write: WriteAppend}
)
