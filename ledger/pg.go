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

// Package ledger provides the sale and folio store. The PG
// implementation backs field units with a local PostgreSQL instance;
// the in-memory one backs tests.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/urbano-project/farebox"
)

// PG is the PostgreSQL-backed Gateway
type PG struct {
	pool *pgxpool.Pool
}

// NewPG connects a pool to the given DSN and verifies the link
func NewPG(ctx context.Context, dsn string) (*PG, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, &farebox.PersistenceError{Op: "connect", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &farebox.PersistenceError{Op: "ping", Err: err}
	}
	return &PG{pool: pool}, nil
}

// NextFolio draws the next folio for the channel. The counter row is
// bumped and read in one statement so two concurrent flows can never
// observe the same value.
func (p *PG) NextFolio(ctx context.Context, channel farebox.Channel) (int, error) {
	var folio int
	err := p.pool.QueryRow(ctx,
		`UPDATE folios SET last = last + 1 WHERE channel = $1 RETURNING last`,
		string(channel),
	).Scan(&folio)
	if errors.Is(err, pgx.ErrNoRows) {
		// First folio on a fresh channel
		err = p.pool.QueryRow(ctx,
			`INSERT INTO folios (channel, last) VALUES ($1, 1)
			 ON CONFLICT (channel) DO UPDATE SET last = folios.last + 1
			 RETURNING last`,
			string(channel),
		).Scan(&folio)
	}
	if err != nil {
		return 0, &farebox.PersistenceError{Op: "next folio", Err: err}
	}
	return folio, nil
}

// RecordSale inserts one sale row
func (p *PG) RecordSale(ctx context.Context, sale farebox.SaleRecord) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO sales
		   (folio, trip_folio, sale_date, sale_time, fare_id, geofence_id,
		    passenger_type, channel, service, wallet_id, balance_after, price)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		sale.Folio, sale.TripFolio, sale.Date, sale.Time, sale.FareID,
		sale.GeofenceID, sale.PassengerType, string(sale.Channel),
		sale.Service, sale.WalletID, sale.BalanceAfter, sale.Price,
	)
	if err != nil {
		return &farebox.PersistenceError{Op: "record sale", Err: err}
	}
	return nil
}

// IsTicketUsed reports whether the raw payload was consumed before
func (p *PG) IsTicketUsed(ctx context.Context, rawQR string) (bool, error) {
	var used bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM used_tickets WHERE payload = $1)`,
		rawQR,
	).Scan(&used)
	if err != nil {
		return false, &farebox.PersistenceError{Op: "ticket lookup", Err: err}
	}
	return used, nil
}

// MarkTicketUsed consumes the raw payload. Re-marking is idempotent.
func (p *PG) MarkTicketUsed(ctx context.Context, rawQR string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO used_tickets (payload) VALUES ($1)
		 ON CONFLICT (payload) DO NOTHING`,
		rawQR,
	)
	if err != nil {
		return &farebox.PersistenceError{Op: "mark used", Err: err}
	}
	return nil
}

// UpdateDigitalSaleStatus stamps the review status of a committed
// digital sale.
func (p *PG) UpdateDigitalSaleStatus(ctx context.Context, status string, folio int, tripFolio string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE sales SET status = $1
		 WHERE folio = $2 AND trip_folio = $3 AND channel = $4`,
		status, folio, tripFolio, string(farebox.ChannelHCE),
	)
	if err != nil {
		return &farebox.PersistenceError{Op: "update status", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &farebox.PersistenceError{
			Op:  "update status",
			Err: fmt.Errorf("no sale for folio %d trip %s", folio, tripFolio),
		}
	}
	return nil
}

// Close releases the pool
func (p *PG) Close() {
	p.pool.Close()
}
