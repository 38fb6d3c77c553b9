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

// Package feedback maps terminal outcomes to the fixed operator-facing
// signals: buzzer cadences and short classification messages.
package feedback

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// Buzzer plays the three cadences the terminal uses. The mapping is
// fixed: card confirm is three short pulses, payment success one long
// pulse, any rejection five short pulses.
type Buzzer interface {
	// CardConfirm plays the accepted-card triple pulse
	CardConfirm()

	// Success plays the single long payment-success pulse
	Success()

	// Reject plays the five-pulse rejection cadence
	Reject()

	// Close releases the underlying line
	Close() error
}

// Cadence timings
const (
	cardPulse   = 100 * time.Millisecond
	successHold = 200 * time.Millisecond
	rejectPulse = 55 * time.Millisecond
)

// GPIOBuzzer drives a piezo line through the gpiochip character device
type GPIOBuzzer struct {
	line *gpiocdev.Line
}

// NewGPIOBuzzer requests the buzzer line as an output, initially silent
func NewGPIOBuzzer(chip string, offset int) (*GPIOBuzzer, error) {
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer("farebox-buzzer"))
	if err != nil {
		return nil, fmt.Errorf("request buzzer line %s:%d: %w", chip, offset, err)
	}
	return &GPIOBuzzer{line: line}, nil
}

func (b *GPIOBuzzer) pulse(on, off time.Duration) {
	_ = b.line.SetValue(1)
	time.Sleep(on)
	_ = b.line.SetValue(0)
	if off > 0 {
		time.Sleep(off)
	}
}

// CardConfirm implements Buzzer
func (b *GPIOBuzzer) CardConfirm() {
	for i := 0; i < 3; i++ {
		b.pulse(cardPulse, cardPulse)
	}
}

// Success implements Buzzer
func (b *GPIOBuzzer) Success() {
	b.pulse(successHold, 0)
}

// Reject implements Buzzer
func (b *GPIOBuzzer) Reject() {
	for i := 0; i < 5; i++ {
		b.pulse(rejectPulse, rejectPulse)
	}
}

// Close releases the line
func (b *GPIOBuzzer) Close() error {
	if err := b.line.Close(); err != nil {
		return fmt.Errorf("close buzzer line: %w", err)
	}
	return nil
}

// Noop is a silent buzzer for rigs without the piezo wired, and for
// tests.
type Noop struct{}

// CardConfirm implements Buzzer
func (Noop) CardConfirm() {}

// Success implements Buzzer
func (Noop) Success() {}

// Reject implements Buzzer
func (Noop) Reject() {}

// Close implements Buzzer
func (Noop) Close() error { return nil }
