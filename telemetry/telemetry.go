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

// Package telemetry publishes terminal statistics events: rejected card
// presentations and reader health incidents, keyed by unit and time.
package telemetry

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is one statistics record. Code follows the fleet vocabulary:
// TI invalid card, TD wrong card type, SV expired card.
type Event struct {
	ID      string `json:"id"`
	Unit    string `json:"unit"`
	Date    string `json:"date"` // yymmdd
	Time    string `json:"time"` // HHMMSS
	Code    string `json:"code"`
	Payload string `json:"payload"`
}

// Publisher delivers events somewhere off-box. Publishing is
// fire-and-forget: a lost event must never stall a fare flow.
type Publisher interface {
	Publish(event Event) error
	Close() error
}

// NewEvent stamps an event with a fresh id and the current terminal time
func NewEvent(unit, code, payload string, now time.Time) Event {
	return Event{
		ID:      uuid.NewString(),
		Unit:    unit,
		Date:    now.Format("060102"),
		Time:    now.Format("150405"),
		Code:    code,
		Payload: payload,
	}
}

// Marshal renders the event as its wire form
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Noop discards every event; used when no broker is configured
type Noop struct{}

// Publish implements Publisher
func (Noop) Publish(Event) error { return nil }

// Close implements Publisher
func (Noop) Close() error { return nil }
