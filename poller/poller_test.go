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

package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urbano-project/farebox"
	"github.com/urbano-project/farebox/arbiter"
	"github.com/urbano-project/farebox/internal/frame"
	"github.com/urbano-project/farebox/radio"
	"github.com/urbano-project/farebox/telemetry"
)

var pollNow = time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)

type capturingStats struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (c *capturingStats) Publish(e telemetry.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *capturingStats) Close() error { return nil }

func (c *capturingStats) all() []telemetry.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]telemetry.Event(nil), c.events...)
}

func newTestPoller(t *testing.T) (*Poller, *radio.MockTransport, *capturingStats, *farebox.State) {
	t.Helper()
	mock := radio.NewMockTransport()
	link, err := radio.NewLink(mock)
	require.NoError(t, err)

	state := farebox.NewState("U-100")
	stats := &capturingStats{}
	p := New(link, arbiter.New(), state, stats, nil, nil)
	p.now = func() time.Time { return pollNow }
	return p, mock, stats, state
}

// scriptCard puts a card on the mock field: one target plus its memory
// pages carrying the type marker and identity payload.
func scriptCard(mock *radio.MockTransport, uid []byte, text string) {
	mock.SetResponse(frame.CmdInListPassiveTarget, radio.TargetResponse(0x01, uid))

	memory := make([]byte, 48)
	copy(memory, text)
	mock.SetResponseFunc(frame.CmdInDataExchange, func(args []byte) ([]byte, error) {
		// args: tg, READ, page
		if len(args) != 3 || args[1] != 0x30 {
			return []byte{frame.CmdInDataExchange + 1, 0x27}, nil
		}
		offset := (int(args[2]) - 4) * 4
		resp := []byte{frame.CmdInDataExchange + 1, 0x00}
		return append(resp, memory[offset:offset+16]...), nil
	})
}

var testUID = []byte{0x04, 0xA1, 0xB2, 0xC3, 0xD4, 0xE5, 0xF6}

func TestTickAcceptsOperatorCard(t *testing.T) {
	t.Parallel()
	p, mock, stats, state := newTestPoller(t)
	scriptCard(mock, testUID, "KI"+"261231235959"+"00042"+"ANA*LOPEZ")

	var accepted farebox.CardIdentity
	p.OnAccepted = func(id farebox.CardIdentity) { accepted = id }

	backoff := p.tick(context.Background())
	assert.True(t, backoff)
	assert.Equal(t, "04A1B2C3D4E5F6", accepted.CSN)
	assert.Equal(t, "00042", accepted.OperatorNum)
	assert.Equal(t, "ANA LOPEZ", accepted.OperatorName)
	assert.Equal(t, "04A1B2C3D4E5F6", state.BackupCSN())
	assert.Empty(t, stats.all())
	assert.Zero(t, p.consecutiveFailures)
}

func TestTickRejectsExpiredCard(t *testing.T) {
	t.Parallel()
	p, mock, stats, state := newTestPoller(t)
	scriptCard(mock, testUID, "KI"+"250101000000"+"00042"+"ANA")

	var rejectedStatus farebox.CardStatus
	p.OnRejected = func(_ farebox.CardIdentity, s farebox.CardStatus) { rejectedStatus = s }

	p.tick(context.Background())
	assert.Equal(t, farebox.CardExpired, rejectedStatus)
	assert.Empty(t, state.BackupCSN())

	events := stats.all()
	require.Len(t, events, 1)
	assert.Equal(t, "SV", events[0].Code)
	assert.Equal(t, "U-100", events[0].Unit)
	assert.Equal(t, "04A1B2C3D4E5F6", events[0].Payload)
	assert.Equal(t, "260829", events[0].Date)
}

func TestTickRejectsWrongCardType(t *testing.T) {
	t.Parallel()
	p, mock, stats, _ := newTestPoller(t)
	scriptCard(mock, testUID, "XX"+"261231235959"+"00042"+"ANA")

	p.tick(context.Background())
	events := stats.all()
	require.Len(t, events, 1)
	assert.Equal(t, "TD", events[0].Code)
}

func TestTickEmptyField(t *testing.T) {
	t.Parallel()
	p, mock, _, _ := newTestPoller(t)
	mock.SetResponse(frame.CmdInListPassiveTarget, radio.NoTargetResponse())
	p.consecutiveFailures = 2

	backoff := p.tick(context.Background())
	assert.False(t, backoff)
	assert.Zero(t, p.consecutiveFailures)
}

func TestTickShortSerialBacksOffWithoutFailure(t *testing.T) {
	t.Parallel()
	p, mock, _, _ := newTestPoller(t)
	mock.SetResponse(frame.CmdInListPassiveTarget,
		radio.TargetResponse(0x01, []byte{0x04, 0x11, 0x22, 0x33}))

	backoff := p.tick(context.Background())
	assert.True(t, backoff)
	assert.Zero(t, p.consecutiveFailures)
}

func TestTickIncompleteReadCountsFailure(t *testing.T) {
	t.Parallel()
	p, mock, _, _ := newTestPoller(t)
	mock.SetResponse(frame.CmdInListPassiveTarget, radio.TargetResponse(0x01, testUID))
	mock.SetResponse(frame.CmdInDataExchange, radio.ExchangeNACKResponse())

	backoff := p.tick(context.Background())
	assert.True(t, backoff)
	assert.Equal(t, 1, p.consecutiveFailures)
}

func TestTickTransportErrorCountsFailure(t *testing.T) {
	t.Parallel()
	p, mock, _, _ := newTestPoller(t)
	mock.SetError(frame.CmdInListPassiveTarget, errors.New("bus stuck"))

	p.tick(context.Background())
	assert.Equal(t, 1, p.consecutiveFailures)
}

func TestTickSkipsWhileTokenHeld(t *testing.T) {
	t.Parallel()
	p, mock, _, _ := newTestPoller(t)
	require.NoError(t, p.arb.Acquire("hce", 10*time.Millisecond))

	backoff := p.tick(context.Background())
	assert.False(t, backoff)
	assert.Zero(t, mock.CallCount(frame.CmdInListPassiveTarget))
}

func TestPerformResetClearsFailures(t *testing.T) {
	t.Parallel()
	p, mock, _, _ := newTestPoller(t)
	p.consecutiveFailures = 3

	p.performReset(context.Background(), "test")
	assert.Zero(t, p.consecutiveFailures)
	assert.Equal(t, pollNow, p.lastReset)
	// reconfiguration ran
	assert.Equal(t, 1, mock.CallCount(frame.CmdSAMConfiguration))
	// token handed back
	assert.True(t, p.arb.TryAcquire("check"))
}

func TestPerformResetSkippedWhileBusy(t *testing.T) {
	t.Parallel()
	p, mock, _, _ := newTestPoller(t)
	require.NoError(t, p.arb.Acquire("hce", 10*time.Millisecond))
	p.consecutiveFailures = 3

	p.performReset(context.Background(), "test")
	assert.Equal(t, 3, p.consecutiveFailures)
	assert.Zero(t, mock.CallCount(frame.CmdSAMConfiguration))
}
