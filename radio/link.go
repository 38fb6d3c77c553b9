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

package radio

import (
	"context"
	"fmt"
	"time"

	"github.com/urbano-project/farebox"
	"github.com/urbano-project/farebox/internal/frame"
)

// LinkConfig contains configuration options for the Link
type LinkConfig struct {
	// Timeout is the default timeout for single commands
	Timeout time.Duration
	// ResetHoldLow is how long the reset line is held low
	ResetHoldLow time.Duration
	// ResetSettle is how long the chip is given to boot after reset
	ResetSettle time.Duration
	// RFToggleHold is the pause between RF field off and on
	RFToggleHold time.Duration
}

// DefaultLinkConfig returns the timings used on the production terminal
func DefaultLinkConfig() *LinkConfig {
	return &LinkConfig{
		Timeout:      1 * time.Second,
		ResetHoldLow: 400 * time.Millisecond,
		ResetSettle:  600 * time.Millisecond,
		RFToggleHold: 80 * time.Millisecond,
	}
}

// Link is the frame-level radio the rest of the terminal talks to.
//
// Thread Safety: Link is NOT thread-safe. Callers must hold the arbiter
// token for the duration of any single operation.
type Link struct {
	transport Transport
	reset     ResetLine
	config    *LinkConfig
}

// Option is a functional option for configuring a Link
type Option func(*Link) error

// WithTimeout sets the default per-command timeout
func WithTimeout(timeout time.Duration) Option {
	return func(l *Link) error {
		l.config.Timeout = timeout
		return l.transport.SetTimeout(timeout)
	}
}

// WithResetLine attaches the RSTPD_N control line. Without one,
// HardReset is a no-op.
func WithResetLine(line ResetLine) Option {
	return func(l *Link) error {
		l.reset = line
		return nil
	}
}

// NewLink creates a Link over the given transport
func NewLink(transport Transport, opts ...Option) (*Link, error) {
	link := &Link{
		transport: transport,
		config:    DefaultLinkConfig(),
	}
	for _, opt := range opts {
		if err := opt(link); err != nil {
			return nil, err
		}
	}
	return link, nil
}

// Transport returns the underlying transport
func (l *Link) Transport() Transport {
	return l.transport
}

// FirmwareVersion queries the controller. A controller that never
// produces firmware info downgrades the terminal to cash-only, so this
// is the init probe.
func (l *Link) FirmwareVersion(ctx context.Context) (*FirmwareVersion, error) {
	resp, err := l.command(ctx, frame.CmdGetFirmwareVersion, nil)
	if err != nil {
		return nil, err
	}
	if len(resp) < 4 {
		return nil, farebox.NewTransportError("firmware", string(l.transport.Type()),
			farebox.ErrCommunicationFailed, farebox.ErrorTypeTransient)
	}
	return &FirmwareVersion{IC: resp[0], Version: resp[1], Rev: resp[2], Support: resp[3]}, nil
}

// Configure brings the controller into the state both fare flows expect:
// SAM in normal mode, RF field freshly cycled, and bounded passive
// activation retries so detection calls return instead of hanging.
func (l *Link) Configure(ctx context.Context) error {
	// SAMConfiguration: normal mode, 1s timeout, IRQ unused
	if _, err := l.command(ctx, frame.CmdSAMConfiguration, []byte{0x01, 0x14, 0x01}); err != nil {
		return fmt.Errorf("sam configuration: %w", err)
	}
	if err := l.RFField(ctx, false); err != nil {
		return fmt.Errorf("rf off: %w", err)
	}
	sleepCtx(ctx, 20*time.Millisecond)
	if err := l.RFField(ctx, true); err != nil {
		return fmt.Errorf("rf on: %w", err)
	}
	// MxRtyPassiveActivation: retry forever on ATR, once on PSL, 0xFF passive
	if _, err := l.command(ctx, frame.CmdRFConfiguration, []byte{0x05, 0xFF, 0x01, 0xFF}); err != nil {
		return fmt.Errorf("rf retries: %w", err)
	}
	return nil
}

// RFField switches the carrier field on or off
func (l *Link) RFField(ctx context.Context, on bool) error {
	val := byte(0x00)
	if on {
		val = 0x01
	}
	_, err := l.command(ctx, frame.CmdRFConfiguration, []byte{0x01, val})
	return err
}

// DetectTarget polls for one ISO14443A target at 106 kbps. Returns
// farebox.ErrNoTarget when nothing is in the field within the timeout.
func (l *Link) DetectTarget(ctx context.Context, timeout time.Duration) (*Target, error) {
	if err := l.transport.SetTimeout(timeout); err != nil {
		return nil, fmt.Errorf("set detect timeout: %w", err)
	}
	defer func() { _ = l.transport.SetTimeout(l.config.Timeout) }()

	resp, err := l.command(ctx, frame.CmdInListPassiveTarget, []byte{0x01, 0x00})
	if err != nil {
		return nil, err
	}
	return parseTarget(resp)
}

// parseTarget decodes an InListPassiveTarget response payload
func parseTarget(resp []byte) (*Target, error) {
	if len(resp) < 1 || resp[0] < 1 {
		return nil, farebox.ErrNoTarget
	}
	if len(resp) < 6 {
		return nil, farebox.NewTransportError("detect", "", farebox.ErrCommunicationFailed,
			farebox.ErrorTypeTransient)
	}

	t := &Target{}
	i := 1
	t.Tg = resp[i]
	i++
	t.ATQA[0], t.ATQA[1] = resp[i], resp[i+1]
	i += 2
	t.SAK = resp[i]
	i++
	uidLen := int(resp[i])
	i++
	if len(resp) < i+uidLen {
		return nil, farebox.NewTransportError("detect", "", farebox.ErrCommunicationFailed,
			farebox.ErrorTypeTransient)
	}
	t.UID = append([]byte(nil), resp[i:i+uidLen]...)
	i += uidLen
	if len(resp) > i {
		atsLen := int(resp[i])
		i++
		if atsLen > 0 && len(resp) >= i+atsLen {
			t.ATS = append([]byte(nil), resp[i:i+atsLen]...)
		}
	}
	return t, nil
}

// Exchange sends payload to the selected target over InDataExchange.
// A transport error and a controller NACK look identical to callers:
// ok=false with empty data. It never blocks past the link timeout.
func (l *Link) Exchange(ctx context.Context, tg byte, payload []byte) ([]byte, bool) {
	args := make([]byte, 0, len(payload)+1)
	args = append(args, tg)
	args = append(args, payload...)

	resp, err := l.command(ctx, frame.CmdInDataExchange, args)
	if err != nil || len(resp) < 1 {
		return nil, false
	}
	if resp[0]&0x3F != 0x00 {
		return nil, false
	}
	return resp[1:], true
}

// Release deselects and releases all targets. Errors are deliberately
// dropped: release runs on recovery paths where the link state is
// already suspect.
func (l *Link) Release(ctx context.Context) {
	_, _ = l.command(ctx, frame.CmdInRelease, []byte{0x00})
}

// HardReset pulses the reset line: holdLow low, then settle high. Safe
// to call with the link in any state; it never fails loudly.
func (l *Link) HardReset() {
	if l.reset == nil {
		return
	}
	_ = l.reset.Pulse(l.config.ResetHoldLow, l.config.ResetSettle)
}

// Close closes the transport and releases the reset line
func (l *Link) Close() error {
	if l.reset != nil {
		_ = l.reset.Close()
	}
	if l.transport != nil {
		if err := l.transport.Close(); err != nil {
			return fmt.Errorf("close transport: %w", err)
		}
	}
	return nil
}

// command runs one SendCommand honoring context cancellation
func (l *Link) command(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := l.transport.SendCommand(cmd, args)
	if err != nil {
		return nil, farebox.NewTransportError(fmt.Sprintf("cmd %02X", cmd),
			string(l.transport.Type()), err, farebox.GetErrorType(err))
	}
	if len(resp) < 1 || resp[0] != cmd+1 {
		return nil, farebox.NewTransportError(fmt.Sprintf("cmd %02X", cmd),
			string(l.transport.Type()), farebox.ErrCommunicationFailed,
			farebox.ErrorTypeTransient)
	}
	return resp[1:], nil
}

// sleepCtx sleeps unless the context is cancelled first
func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
