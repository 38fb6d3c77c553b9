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

package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urbano-project/farebox"
)

func TestMemoryFoliosMonotonicPerChannel(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := m.NextFolio(ctx, farebox.ChannelTicket)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Channels count independently
	got, err := m.NextFolio(ctx, farebox.ChannelHCE)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestMemoryFoliosConcurrent(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	var mu sync.Mutex
	seen := make(map[int]bool)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				folio, err := m.NextFolio(ctx, farebox.ChannelQR)
				assert.NoError(t, err)
				mu.Lock()
				assert.False(t, seen[folio], "folio %d issued twice", folio)
				seen[folio] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 400)
}

func TestMemoryTicketConsumption(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	used, err := m.IsTicketUsed(ctx, "raw")
	require.NoError(t, err)
	assert.False(t, used)

	require.NoError(t, m.MarkTicketUsed(ctx, "raw"))
	used, err = m.IsTicketUsed(ctx, "raw")
	require.NoError(t, err)
	assert.True(t, used)
}

func TestMemoryStatus(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.RecordSale(ctx, farebox.SaleRecord{Folio: 4, TripFolio: "T-1"}))
	require.NoError(t, m.UpdateDigitalSaleStatus(ctx, "OK", 4, "T-1"))

	status, ok := m.Status(4, "T-1")
	require.True(t, ok)
	assert.Equal(t, "OK", status)

	_, ok = m.Status(5, "T-1")
	assert.False(t, ok)
}

func TestMemoryFailNextIsOneShot(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	m.FailNext = assert.AnError
	_, err := m.NextFolio(ctx, farebox.ChannelQR)
	require.Error(t, err)

	folio, err := m.NextFolio(ctx, farebox.ChannelQR)
	require.NoError(t, err)
	assert.Equal(t, 1, folio)
}
