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

package feedback

// Message is the short classification rendered to the passenger. The
// wording is the fleet's established Spanish vocabulary and is part of
// the terminal contract.
type Message string

const (
	// MsgAccepted confirms a valid presentation
	MsgAccepted Message = "ACEPTADO"
	// MsgInvalid marks an unparseable or unknown-format ticket
	MsgInvalid Message = "INVALIDO"
	// MsgExpired marks a ticket past its date or time window
	MsgExpired Message = "CADUCO"
	// MsgUsed marks a replayed ticket
	MsgUsed Message = "UTILIZADO"
	// MsgWrongPlace marks a ticket presented outside its geofence
	MsgWrongPlace Message = "EQUIVOCADO"
	// MsgInvalidCard marks a malformed or foreign card
	MsgInvalidCard Message = "TARJETAINVALIDA"
	// MsgCardExpired marks a card whose validity stamp lapsed
	MsgCardExpired Message = "FUERADEVIGENCIA"
	// MsgNoTrip marks a presentation with no active trip configured
	MsgNoTrip Message = "SINVIAJE"
)

// Class groups messages by the signal they trigger
type Class int

const (
	// ClassAccepted plays the success cadence
	ClassAccepted Class = iota
	// ClassRejected plays the rejection cadence
	ClassRejected
)

// Classify returns the feedback class for a message. Everything except
// acceptance is a rejection; the policy is deliberately uniform.
func Classify(m Message) Class {
	if m == MsgAccepted {
		return ClassAccepted
	}
	return ClassRejected
}

// Play drives the buzzer for the message's class
func Play(b Buzzer, m Message) {
	if b == nil {
		return
	}
	if Classify(m) == ClassAccepted {
		b.Success()
	} else {
		b.Reject()
	}
}
