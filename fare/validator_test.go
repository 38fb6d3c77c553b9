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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urbano-project/farebox"
	"github.com/urbano-project/farebox/ledger"
)

var validatorNow = time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)

func newTestValidator(t *testing.T) (*Validator, *farebox.State, *ledger.Memory) {
	t.Helper()
	state := farebox.NewState("U-100")
	state.SetGeofence(7, "TERMINAL_PONIENTE")
	state.SetTripFolio("T-555")
	state.SetServices(
		[]farebox.Service{{Number: "12", Origin: "CENTRO", Destination: "NORTE_2"}},
		[]farebox.Service{{Number: "31", Origin: "CENTRO", Destination: "ORIENTE"}},
	)
	store := ledger.NewMemory()
	v := NewValidator(state, store).WithClock(func() time.Time { return validatorNow })
	return v, state, store
}

func TestClassifyDigitalAccepted(t *testing.T) {
	t.Parallel()
	v, _, _ := newTestValidator(t)

	res := v.Classify(context.Background(), sampleDigital, "")
	require.Equal(t, OutcomeAccepted, res.Outcome)
	require.NotNil(t, res.Decision)
	assert.Equal(t, 2, res.Decision.PassengerID)
	assert.Equal(t, "normal", res.Decision.Class)
	assert.InDelta(t, 12.50, res.Decision.Price, 1e-9)
	assert.Equal(t, int64(7), res.Decision.WalletID)
	assert.InDelta(t, 37.50, res.Decision.BalanceAfter, 1e-9)
	assert.Equal(t, "NORTE", res.Decision.DirectedTo)
}

func TestClassifyNoActiveTrip(t *testing.T) {
	t.Parallel()
	v, state, _ := newTestValidator(t)
	state.SetTripFolio("")

	res := v.Classify(context.Background(), sampleDigital, "")
	assert.Equal(t, OutcomeNoActiveTrip, res.Outcome)
}

func TestClassifyRepeatScan(t *testing.T) {
	t.Parallel()
	v, _, _ := newTestValidator(t)

	res := v.Classify(context.Background(), sampleDigital, sampleDigital)
	assert.Equal(t, OutcomeAlreadyUsed, res.Outcome)
}

func TestClassifyEmptyLine(t *testing.T) {
	t.Parallel()
	v, _, _ := newTestValidator(t)

	res := v.Classify(context.Background(), "   ", "")
	assert.Equal(t, OutcomeAlreadyUsed, res.Outcome)
}

func TestClassifyUnknownFormat(t *testing.T) {
	t.Parallel()
	v, _, _ := newTestValidator(t)

	res := v.Classify(context.Background(), "not,a,ticket", "")
	assert.Equal(t, OutcomeInvalid, res.Outcome)
}

func TestClassifyDigitalWrongDate(t *testing.T) {
	t.Parallel()
	v, _, _ := newTestValidator(t)

	raw := "PD,U-100,28-08-2026,10:15:00,F1,TERMINAL_PONIENTE,NORTE,normal,12-CENTRO-NORTE,7,37.50,12.50"
	res := v.Classify(context.Background(), raw, "")
	assert.Equal(t, OutcomeExpired, res.Outcome)
}

func TestClassifyDigitalWrongPlace(t *testing.T) {
	t.Parallel()
	v, _, _ := newTestValidator(t)

	raw := "PD,U-100,29-08-2026,10:15:00,F1,CENTRO_SUR,NORTE,normal,12-CENTRO-NORTE,7,37.50,12.50"
	res := v.Classify(context.Background(), raw, "")
	assert.Equal(t, OutcomeWrongPlace, res.Outcome)
	assert.Equal(t, "CENTRO_SUR", res.Detail)
}

func TestClassifyDigitalUsed(t *testing.T) {
	t.Parallel()
	v, _, store := newTestValidator(t)
	require.NoError(t, store.MarkTicketUsed(context.Background(), sampleDigital))

	res := v.Classify(context.Background(), sampleDigital, "")
	assert.Equal(t, OutcomeAlreadyUsed, res.Outcome)
}

func TestClassifyDigitalBadPrice(t *testing.T) {
	t.Parallel()
	v, _, _ := newTestValidator(t)

	tests := []string{
		"PD,U-100,29-08-2026,10:15:00,F1,TERMINAL_PONIENTE,NORTE,normal,12-CENTRO-NORTE,7,37.50,abc",
		"PD,U-100,29-08-2026,10:15:00,F1,TERMINAL_PONIENTE,NORTE,normal,12-CENTRO-NORTE,7,37.50,0",
		"PD,U-100,29-08-2026,10:15:00,F1,TERMINAL_PONIENTE,NORTE,normal,12-CENTRO-NORTE,7,37.50,-5",
	}
	for _, raw := range tests {
		res := v.Classify(context.Background(), raw, "")
		assert.Equal(t, OutcomeInvalid, res.Outcome, raw)
	}
}

func TestClassifyLegacyAccepted(t *testing.T) {
	t.Parallel()
	v, _, _ := newTestValidator(t)

	// Geofence token TERMINAL; single transfer valid at TERMINAL only
	raw := "29-08-2026,11:00:00,x,x,x,CENTRO-NORTE,normal,st,TERMINAL"
	res := v.Classify(context.Background(), raw, "")
	require.Equal(t, OutcomeAccepted, res.Outcome)
	require.NotNil(t, res.Decision)
	assert.Equal(t, "12-CENTRO-NORTE", res.Decision.ServiceLabel)
	assert.Equal(t, "NORTE", res.Decision.DirectedTo)
}

func TestClassifyLegacyExpiredTime(t *testing.T) {
	t.Parallel()
	v, _, _ := newTestValidator(t)

	// Window closed at 10:00, terminal clock reads 10:30
	raw := "29-08-2026,10:00:00,x,x,x,CENTRO-NORTE,normal,st,TERMINAL"
	res := v.Classify(context.Background(), raw, "")
	assert.Equal(t, OutcomeExpired, res.Outcome)
	assert.Equal(t, "10:00:00", res.Detail)
}

func TestClassifyLegacyWrongPlace(t *testing.T) {
	t.Parallel()
	v, _, _ := newTestValidator(t)

	tests := []struct {
		name   string
		raw    string
		detail string
	}{
		{
			// Single transfer only honors its first geofence
			name:   "single transfer second geofence ignored",
			raw:    "29-08-2026,11:00:00,x,x,x,CENTRO-NORTE,normal,st,SUR,TERMINAL",
			detail: "SUR",
		},
		{
			name:   "combined transfer neither matches",
			raw:    "29-08-2026,11:00:00,x,x,x,CENTRO-NORTE,normal,ct,SUR,ORIENTE",
			detail: "SUR o ORIENTE",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := v.Classify(context.Background(), tt.raw, "")
			assert.Equal(t, OutcomeWrongPlace, res.Outcome)
			assert.Equal(t, tt.detail, res.Detail)
		})
	}
}

func TestClassifyLegacyCombinedSecondGeofence(t *testing.T) {
	t.Parallel()
	v, _, _ := newTestValidator(t)

	// Combined transfer accepts either declared geofence
	raw := "29-08-2026,11:00:00,x,x,x,CENTRO-ORIENTE,normal,ct,SUR,TERMINAL"
	res := v.Classify(context.Background(), raw, "")
	require.Equal(t, OutcomeAccepted, res.Outcome)
	// ct resolves against the transfers table first
	assert.Equal(t, "31-CENTRO-ORIENTE", res.Decision.ServiceLabel)
}

func TestClassifyLegacyNoServiceMatchStillAccepted(t *testing.T) {
	t.Parallel()
	v, _, _ := newTestValidator(t)

	raw := "29-08-2026,11:00:00,x,x,x,CENTRO-PLAYA,normal,st,TERMINAL"
	res := v.Classify(context.Background(), raw, "")
	require.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Empty(t, res.Decision.ServiceLabel)
	assert.Empty(t, res.Decision.DirectedTo)
}

func TestOutcomeMessages(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ACEPTADO", string(OutcomeAccepted.Message()))
	assert.Equal(t, "INVALIDO", string(OutcomeInvalid.Message()))
	assert.Equal(t, "CADUCO", string(OutcomeExpired.Message()))
	assert.Equal(t, "EQUIVOCADO", string(OutcomeWrongPlace.Message()))
	assert.Equal(t, "UTILIZADO", string(OutcomeAlreadyUsed.Message()))
	assert.Equal(t, "SINVIAJE", string(OutcomeNoActiveTrip.Message()))
}
