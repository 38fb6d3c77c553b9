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

package fare

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urbano-project/farebox"
	"github.com/urbano-project/farebox/ledger"
)

type recordingPrinter struct {
	printed []farebox.SaleRecord
	fail    error
}

func (p *recordingPrinter) PrintBoardingPass(sale farebox.SaleRecord, _ string) error {
	if p.fail != nil {
		return p.fail
	}
	p.printed = append(p.printed, sale)
	return nil
}

func newTestProcessor(t *testing.T) (*Processor, *ledger.Memory, *recordingPrinter, *farebox.State) {
	t.Helper()
	v, state, store := newTestValidator(t)
	printer := &recordingPrinter{}
	p := NewProcessor(v, state, store, printer, nil, nil)
	return p, store, printer, state
}

func TestHandleDigitalCommit(t *testing.T) {
	t.Parallel()
	p, store, _, state := newTestProcessor(t)

	res := p.Handle(context.Background(), sampleDigital)
	require.Equal(t, OutcomeAccepted, res.Outcome)

	sales := store.Sales()
	require.Len(t, sales, 1)
	assert.Equal(t, 1, sales[0].Folio)
	assert.Equal(t, farebox.ChannelQR, sales[0].Channel)
	assert.Equal(t, "T-555", sales[0].TripFolio)
	assert.Equal(t, int64(7), sales[0].WalletID)
	assert.InDelta(t, 12.50, sales[0].Price, 1e-9)

	used, err := store.IsTicketUsed(context.Background(), sampleDigital)
	require.NoError(t, err)
	assert.True(t, used)

	_, toSettle, count := state.DigitalTotals()
	assert.InDelta(t, 12.50, toSettle, 1e-9)
	assert.Equal(t, 1, count)
}

func TestHandleRepeatScanCached(t *testing.T) {
	t.Parallel()
	p, store, _, _ := newTestProcessor(t)

	first := p.Handle(context.Background(), sampleDigital)
	require.Equal(t, OutcomeAccepted, first.Outcome)

	// The scanner re-reads the same code while it sits under the beam
	second := p.Handle(context.Background(), sampleDigital)
	assert.Equal(t, OutcomeAlreadyUsed, second.Outcome)
	assert.Len(t, store.Sales(), 1)
}

func TestHandleLegacyPrintsBeforePersisting(t *testing.T) {
	t.Parallel()
	p, store, printer, _ := newTestProcessor(t)

	raw := "29-08-2026,11:00:00,x,x,x,CENTRO-NORTE,normal,st,TERMINAL"
	res := p.Handle(context.Background(), raw)
	require.Equal(t, OutcomeAccepted, res.Outcome)

	require.Len(t, printer.printed, 1)
	sales := store.Sales()
	require.Len(t, sales, 1)
	assert.Equal(t, farebox.ChannelTicket, sales[0].Channel)
	assert.Equal(t, "12-CENTRO-NORTE", sales[0].Service)
}

func TestHandleLegacyPrinterFailureBlocksCommit(t *testing.T) {
	t.Parallel()
	p, store, printer, _ := newTestProcessor(t)
	printer.fail = errors.New("paper jam")

	raw := "29-08-2026,11:00:00,x,x,x,CENTRO-NORTE,normal,st,TERMINAL"
	res := p.Handle(context.Background(), raw)
	assert.Equal(t, OutcomeInvalid, res.Outcome)
	assert.Empty(t, store.Sales())

	used, err := store.IsTicketUsed(context.Background(), raw)
	require.NoError(t, err)
	assert.False(t, used)
}

func TestHandleCommitFailureDoesNotCacheTicket(t *testing.T) {
	t.Parallel()
	p, store, _, _ := newTestProcessor(t)
	store.FailNext = errors.New("disk full")

	res := p.Handle(context.Background(), sampleDigital)
	assert.Equal(t, OutcomeInvalid, res.Outcome)

	// A retry after the fault must go through, not hit the repeat cache
	res = p.Handle(context.Background(), sampleDigital)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Len(t, store.Sales(), 1)
}

func TestHandleRejectedTicketNotConsumed(t *testing.T) {
	t.Parallel()
	p, store, _, _ := newTestProcessor(t)

	raw := "PD,U-100,29-08-2026,10:15:00,F1,CENTRO_SUR,NORTE,normal,12-CENTRO-NORTE,7,37.50,12.50"
	res := p.Handle(context.Background(), raw)
	assert.Equal(t, OutcomeWrongPlace, res.Outcome)

	used, err := store.IsTicketUsed(context.Background(), raw)
	require.NoError(t, err)
	assert.False(t, used)
	assert.Empty(t, store.Sales())
}
