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

package farebox

import "context"

// Channel identifies how a sale was collected
type Channel string

const (
	// ChannelTicket is a printed ticket paid in cash
	ChannelTicket Channel = "t"
	// ChannelQR is a digital sale presented as a QR code
	ChannelQR Channel = "q"
	// ChannelHCE is a digital sale collected over the NFC wallet exchange
	ChannelHCE Channel = "f"
)

// SaleRecord is the committed output of any fare flow. Folio numbers are
// monotonic per channel and drawn from the ledger immediately before the
// insert, inside the same transaction.
type SaleRecord struct {
	Folio         int
	TripFolio     string
	Date          string // dd-mm-yyyy
	Time          string // HH:MM:SS
	FareID        string
	GeofenceID    int
	PassengerType int
	Channel       Channel
	Service       string
	WalletID      int64   // digital only
	BalanceAfter  float64 // digital only
	Price         float64
}

// Gateway is the ledger interface the terminal core consumes. The backing
// store is an external collaborator; only this contract is part of the
// engine.
type Gateway interface {
	// NextFolio atomically draws the next folio for the channel
	NextFolio(ctx context.Context, channel Channel) (int, error)

	// RecordSale persists a sale row
	RecordSale(ctx context.Context, sale SaleRecord) error

	// IsTicketUsed reports whether rawQR was already consumed
	IsTicketUsed(ctx context.Context, rawQR string) (bool, error)

	// MarkTicketUsed marks rawQR consumed; the raw string is the key
	MarkTicketUsed(ctx context.Context, rawQR string) error

	// UpdateDigitalSaleStatus marks a committed digital sale reviewed
	UpdateDigitalSaleStatus(ctx context.Context, status string, folio int, tripFolio string) error
}
