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

package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 29, 10, 30, 45, 0, time.UTC)
	e := NewEvent("U-100", "SV", "04A1B2C3D4E5F6", now)

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "U-100", e.Unit)
	assert.Equal(t, "260829", e.Date)
	assert.Equal(t, "103045", e.Time)
	assert.Equal(t, "SV", e.Code)
	assert.Equal(t, "04A1B2C3D4E5F6", e.Payload)

	// Each event gets its own id for broker-side dedupe
	other := NewEvent("U-100", "SV", "04A1B2C3D4E5F6", now)
	assert.NotEqual(t, e.ID, other.ID)
}

func TestEventMarshal(t *testing.T) {
	t.Parallel()

	e := NewEvent("U-100", "TI", "payload", time.Now())
	raw, err := e.Marshal()
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, e, decoded)
}

func TestDisabledMQTTPublishes(t *testing.T) {
	t.Parallel()

	// No broker host configured: publishing must silently succeed
	m, err := NewMQTT(MQTTConfig{}, "farebox-test")
	require.NoError(t, err)
	assert.NoError(t, m.Publish(NewEvent("U-100", "TD", "x", time.Now())))
	assert.NoError(t, m.Close())
}
