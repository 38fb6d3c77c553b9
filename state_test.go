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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceLabel(t *testing.T) {
	t.Parallel()

	svc := Service{Number: "12", Origin: "CENTRO_SUR", Destination: "NORTE_2"}
	assert.Equal(t, "12-CENTRO-NORTE", svc.Label())
	assert.Equal(t, "NORTE", svc.DirectedTo())
}

func TestGeofenceToken(t *testing.T) {
	t.Parallel()

	s := NewState("U-100")
	s.SetGeofence(7, "TERMINAL_PONIENTE")
	assert.Equal(t, "TERMINAL", s.GeofenceToken())

	id, name := s.Geofence()
	assert.Equal(t, 7, id)
	assert.Equal(t, "TERMINAL_PONIENTE", name)
}

func TestResolveService(t *testing.T) {
	t.Parallel()

	s := NewState("U-100")
	s.SetServices(
		[]Service{{Number: "12", Origin: "CENTRO", Destination: "NORTE_2"}},
		[]Service{{Number: "31", Origin: "CENTRO", Destination: "ORIENTE"}},
	)

	svc, ok := s.ResolveService("NORTE", false)
	require.True(t, ok)
	assert.Equal(t, "12", svc.Number)

	// Transfer-first lookup scans the transfers table before services
	svc, ok = s.ResolveService("ORIENTE", true)
	require.True(t, ok)
	assert.Equal(t, "31", svc.Number)

	_, ok = s.ResolveService("PLAYA", false)
	assert.False(t, ok)
}

func TestRecordOperatorCard(t *testing.T) {
	t.Parallel()

	s := NewState("U-100")
	first := CardIdentity{CSN: "04AAAAAAAAAAAA", OperatorNum: "00001", OperatorName: "ANA"}
	second := CardIdentity{CSN: "04BBBBBBBBBBBB", OperatorNum: "00002", OperatorName: "LUIS"}

	s.RecordOperatorCard(first)
	start, end := s.OperatorSlots()
	assert.Equal(t, "00001", start.Number)
	assert.Empty(t, end.Number)

	// Re-presenting the same card must not fill the end slot
	s.RecordOperatorCard(first)
	_, end = s.OperatorSlots()
	assert.Empty(t, end.Number)

	s.RecordOperatorCard(second)
	start, end = s.OperatorSlots()
	assert.Equal(t, "00001", start.Number)
	assert.Equal(t, "00002", end.Number)
	assert.Equal(t, "04BBBBBBBBBBBB", s.BackupCSN())
}

func TestSessionCounters(t *testing.T) {
	t.Parallel()

	s := NewState("U-100")
	s.AddDigitalSale("normal", 12.50)
	s.AddDigitalSale("normal", 12.50)
	s.AddDigitalSale("preferente", 6.25)
	s.AddTicketSale()

	totals, toSettle, count := s.DigitalTotals()
	assert.Equal(t, 2, totals["normal"].Count)
	assert.InDelta(t, 25.0, totals["normal"].Subtotal, 1e-9)
	assert.Equal(t, 1, totals["preferente"].Count)
	assert.InDelta(t, 31.25, toSettle, 1e-9)
	assert.Equal(t, 3, count)
	assert.Equal(t, 1, s.TicketFolioCount())
}
