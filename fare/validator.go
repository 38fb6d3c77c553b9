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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/urbano-project/farebox"
	"github.com/urbano-project/farebox/feedback"
)

// Outcome is the terminal classification of one scanned payload
type Outcome int

const (
	// OutcomeAccepted means the sale may proceed
	OutcomeAccepted Outcome = iota
	// OutcomeInvalid means the payload matched no known format
	OutcomeInvalid
	// OutcomeExpired means the embedded date or time window lapsed
	OutcomeExpired
	// OutcomeWrongPlace means the terminal is outside the declared geofence
	OutcomeWrongPlace
	// OutcomeAlreadyUsed means the raw string was consumed before
	OutcomeAlreadyUsed
	// OutcomeNoActiveTrip means no trip folio is configured
	OutcomeNoActiveTrip
)

// Message maps the outcome to its operator-facing classification
func (o Outcome) Message() feedback.Message {
	switch o {
	case OutcomeAccepted:
		return feedback.MsgAccepted
	case OutcomeExpired:
		return feedback.MsgExpired
	case OutcomeWrongPlace:
		return feedback.MsgWrongPlace
	case OutcomeAlreadyUsed:
		return feedback.MsgUsed
	case OutcomeNoActiveTrip:
		return feedback.MsgNoTrip
	default:
		return feedback.MsgInvalid
	}
}

// Decision carries everything the commit step needs for an accepted
// ticket.
type Decision struct {
	Ticket        QRTicket
	Service       farebox.Service
	ServiceLabel  string
	DirectedTo    string
	PassengerID   int
	PassengerType string
	Class         string
	Price         float64
	WalletID      int64
	BalanceAfter  float64
}

// Result is the output of one classification
type Result struct {
	Outcome Outcome
	// Detail is shown next to the message: the expected destination on a
	// wrong-place rejection, the resolved destination on acceptance.
	Detail   string
	Decision *Decision
}

// Validator runs the stateless classification pipeline. All mutable
// inputs (geofence, trip folio, service tables) come from the shared
// state; the ledger is only consulted for the replay check.
type Validator struct {
	state  *farebox.State
	ledger farebox.Gateway
	now    func() time.Time
}

// NewValidator creates a validator reading the given state and ledger
func NewValidator(state *farebox.State, ledger farebox.Gateway) *Validator {
	return &Validator{state: state, ledger: ledger, now: time.Now}
}

// WithClock overrides the validator's clock; test hook
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Classify evaluates raw against the rules in order, first match wins.
// lastAccepted is the single-slot repeat cache owned by the caller.
func (v *Validator) Classify(ctx context.Context, raw, lastAccepted string) Result {
	raw = strings.TrimSpace(raw)
	if raw == "" || (lastAccepted != "" && raw == lastAccepted) {
		return Result{Outcome: OutcomeAlreadyUsed}
	}
	if v.state.TripFolio() == "" {
		return Result{Outcome: OutcomeNoActiveTrip}
	}

	ticket := ParseTicket(raw)
	switch ticket.Format {
	case FormatDigital:
		return v.classifyDigital(ctx, ticket)
	case FormatLegacy:
		return v.classifyLegacy(ctx, ticket)
	default:
		return Result{Outcome: OutcomeInvalid}
	}
}

func (v *Validator) classifyDigital(ctx context.Context, t QRTicket) Result {
	now := v.now()
	if t.Date != now.Format("02-01-2006") {
		return Result{Outcome: OutcomeExpired, Detail: "Fecha diferente"}
	}

	geo := v.state.GeofenceToken()
	origin := stopTokenOf(t.Origin)
	if origin != geo {
		return Result{Outcome: OutcomeWrongPlace, Detail: t.Origin}
	}

	if used, err := v.ledger.IsTicketUsed(ctx, t.Raw); err != nil || used {
		// A ledger read failure refuses the ticket rather than risking a
		// double ride on a replayed payload.
		return Result{Outcome: OutcomeAlreadyUsed}
	}

	price, err := strconv.ParseFloat(t.Price, 64)
	if err != nil || price <= 0 {
		return Result{Outcome: OutcomeInvalid}
	}

	d := &Decision{
		Ticket:        t,
		PassengerType: t.PassengerType,
		Price:         price,
		ServiceLabel:  t.ServiceLabel,
	}
	d.PassengerID, d.Class = PassengerCode(t.PassengerType)
	d.WalletID, _ = strconv.ParseInt(t.WalletID, 10, 64)
	d.BalanceAfter, _ = strconv.ParseFloat(t.BalanceAfter, 64)

	if d.ServiceLabel == "" {
		if svc, ok := v.state.ResolveService(t.Destination, false); ok {
			d.Service = svc
			d.ServiceLabel = svc.Label()
		}
	}
	d.DirectedTo = directedTo(d.ServiceLabel)
	return Result{Outcome: OutcomeAccepted, Detail: d.DirectedTo, Decision: d}
}

func (v *Validator) classifyLegacy(ctx context.Context, t QRTicket) Result {
	now := v.now()
	if t.Date != now.Format("02-01-2006") {
		return Result{Outcome: OutcomeExpired, Detail: "Fecha diferente"}
	}
	if now.Format("15:04:05") > t.ExpiryTime {
		return Result{Outcome: OutcomeExpired, Detail: t.ExpiryTime}
	}

	geo := v.state.GeofenceToken()
	if !legacyInGeofence(t, geo) {
		return Result{Outcome: OutcomeWrongPlace, Detail: legacyExpected(t)}
	}

	if used, err := v.ledger.IsTicketUsed(ctx, t.Raw); err != nil || used {
		return Result{Outcome: OutcomeAlreadyUsed}
	}

	d := &Decision{Ticket: t, PassengerType: t.PassengerType}
	d.PassengerID, d.Class = PassengerCode(t.PassengerType)

	// Single-transfer tickets resolve against direct services, combined
	// transfers against the transfers table.
	if svc, ok := v.state.ResolveService(t.LegDestination(), t.TransferFlag != TransferSingle); ok {
		d.Service = svc
		d.ServiceLabel = svc.Label()
	}
	d.DirectedTo = directedTo(d.ServiceLabel)
	return Result{Outcome: OutcomeAccepted, Detail: d.DirectedTo, Decision: d}
}

// legacyInGeofence checks the declared destination tokens against the
// terminal's geofence; combined-transfer tickets accept either token.
func legacyInGeofence(t QRTicket, geo string) bool {
	if geo == "" {
		return false
	}
	if strings.Contains(t.Geofence1, geo) {
		return true
	}
	if t.TransferFlag != TransferSingle && t.Geofence2 != "" {
		return strings.Contains(t.Geofence2, geo)
	}
	return false
}

// legacyExpected renders the place(s) the ticket was valid for
func legacyExpected(t QRTicket) string {
	if t.TransferFlag == TransferSingle || t.Geofence2 == "" {
		return t.Geofence1
	}
	return fmt.Sprintf("%s o %s", t.Geofence1, t.Geofence2)
}

// directedTo extracts the destination component of a service label
func directedTo(label string) string {
	if label == "" {
		return ""
	}
	parts := strings.Split(label, "-")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

// stopTokenOf strips the suffix after the first underscore
func stopTokenOf(name string) string {
	if i := strings.IndexByte(name, '_'); i >= 0 {
		return name[:i]
	}
	return name
}
