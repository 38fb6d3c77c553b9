// farebox
// Copyright (c) 2025 The Farebox Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of farebox.
//
// farebox is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// farebox is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with farebox; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package fare classifies scanned QR payloads and commits the resulting
// sales. Classification is a pure first-match-wins pipeline; the
// processor wraps it with the single-slot repeat cache, the ledger, the
// printer and the feedback signals.
package fare

import (
	"strings"
)

// Format identifies the two accepted QR payload layouts
type Format int

const (
	// FormatUnknown is anything that is not a known field count
	FormatUnknown Format = iota
	// FormatLegacy is the 9/10-field printed-ticket payload
	FormatLegacy
	// FormatDigital is the 12-field "PD" wallet payload
	FormatDigital
)

// Field counts per format
const (
	digitalFieldCount   = 12
	legacyFieldCount    = 9
	legacyFieldCountAlt = 10
)

// digitalTag is the first field of the digital format
const digitalTag = "PD"

// TransferSingle marks a single-transfer legacy ticket; any other value
// is treated as the combined-transfer variant.
const TransferSingle = "st"

// QRTicket is an immutable parsed QR payload. The raw string doubles as
// the deduplication key.
type QRTicket struct {
	Raw    string
	Format Format

	Date string // dd-mm-yyyy, both formats

	// Legacy fields
	ExpiryTime   string // HH:MM:SS
	RouteLeg     string
	TransferFlag string
	Geofence1    string
	Geofence2    string

	// Digital fields
	Unit          string
	Time          string
	FareID        string
	Origin        string
	Destination   string
	PassengerType string
	ServiceLabel  string
	WalletID      string
	BalanceAfter  string
	Price         string
}

// ParseTicket splits a scanned line into a QRTicket. A "PD" prefix with
// the wrong field count, or any unknown field count, yields
// FormatUnknown.
func ParseTicket(raw string) QRTicket {
	t := QRTicket{Raw: raw, Format: FormatUnknown}
	fields := strings.Split(raw, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	if len(fields) >= 1 && fields[0] == digitalTag {
		if len(fields) != digitalFieldCount {
			return t
		}
		t.Format = FormatDigital
		t.Unit = fields[1]
		t.Date = fields[2]
		t.Time = fields[3]
		t.FareID = fields[4]
		t.Origin = fields[5]
		t.Destination = fields[6]
		t.PassengerType = strings.ToLower(fields[7])
		t.ServiceLabel = fields[8]
		t.WalletID = fields[9]
		t.BalanceAfter = fields[10]
		t.Price = fields[11]
		return t
	}

	if len(fields) != legacyFieldCount && len(fields) != legacyFieldCountAlt {
		return t
	}
	t.Format = FormatLegacy
	t.Date = fields[0]
	t.ExpiryTime = fields[1]
	t.RouteLeg = fields[5]
	t.PassengerType = strings.ToLower(fields[6])
	t.TransferFlag = fields[7]
	t.Geofence1 = fields[8]
	if len(fields) == legacyFieldCountAlt {
		t.Geofence2 = fields[9]
	}
	return t
}

// LegDestination extracts the destination half of the legacy route leg
// ("A-B" -> "B"; a leg without a dash is its own destination).
func (t QRTicket) LegDestination() string {
	if i := strings.IndexByte(t.RouteLeg, '-'); i >= 0 {
		return t.RouteLeg[i+1:]
	}
	return t.RouteLeg
}

// PassengerCode maps the spelled-out passenger type to the fare code and
// tariff class used on sale rows.
func PassengerCode(passengerType string) (id int, class string) {
	switch passengerType {
	case "estudiante":
		return 1, "preferente"
	case "menor":
		return 3, "preferente"
	case "mayor":
		return 4, "preferente"
	default:
		return 2, "normal"
	}
}
