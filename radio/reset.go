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
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOResetLine drives RSTPD_N through the Linux gpiochip character
// device. The line is active low.
type GPIOResetLine struct {
	line *gpiocdev.Line
}

// NewGPIOResetLine requests the reset line as an output, initially high
// (chip running).
func NewGPIOResetLine(chip string, offset int) (*GPIOResetLine, error) {
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsOutput(1),
		gpiocdev.WithConsumer("farebox-nfc-reset"))
	if err != nil {
		return nil, fmt.Errorf("request reset line %s:%d: %w", chip, offset, err)
	}
	return &GPIOResetLine{line: line}, nil
}

// Pulse holds the line low, then releases it and waits for the chip to
// boot. Never panics on a wedged line; the worst case is a failed write.
func (r *GPIOResetLine) Pulse(holdLow, settle time.Duration) error {
	if err := r.line.SetValue(0); err != nil {
		return fmt.Errorf("reset low: %w", err)
	}
	time.Sleep(holdLow)
	if err := r.line.SetValue(1); err != nil {
		return fmt.Errorf("reset high: %w", err)
	}
	time.Sleep(settle)
	return nil
}

// Close releases the line
func (r *GPIOResetLine) Close() error {
	if err := r.line.Close(); err != nil {
		return fmt.Errorf("close reset line: %w", err)
	}
	return nil
}

// NoopResetLine satisfies ResetLine on rigs with the reset pin unwired
type NoopResetLine struct{}

// Pulse only waits out the timings so callers keep their pacing
func (NoopResetLine) Pulse(holdLow, settle time.Duration) error {
	time.Sleep(holdLow + settle)
	return nil
}

// Close is a no-op
func (NoopResetLine) Close() error { return nil }
