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
	"fmt"
	"strings"
	"sync"
)

// Service is one row of the active-services or active-transfers tables:
// a numbered run between two stop tokens.
type Service struct {
	Number      string
	Origin      string
	Destination string
}

// Label renders the service descriptor used on tickets and in the HCE
// payment frame: number-origin-destination with stop suffixes stripped.
func (s Service) Label() string {
	return fmt.Sprintf("%s-%s-%s", s.Number, stopToken(s.Origin), stopToken(s.Destination))
}

// DirectedTo is the human-readable destination half of the label
func (s Service) DirectedTo() string {
	return stopToken(s.Destination)
}

// stopToken strips the disambiguating suffix after the first underscore
func stopToken(name string) string {
	if i := strings.IndexByte(name, '_'); i >= 0 {
		return name[:i]
	}
	return name
}

// OperatorSlot is one of the two shift-bookkeeping card presentations
type OperatorSlot struct {
	Number string
	Name   string
}

// State is the shared terminal context handed to every component
// constructor. It replaces the ambient globals of older firmware: every
// field is guarded here, and radio-loop coordination flags live on the
// Arbiter instead.
type State struct {
	mu sync.RWMutex

	unitID       string
	geofenceID   int
	geofenceName string
	tripFolio    string

	services  []Service
	transfers []Service

	operatorStart OperatorSlot
	operatorEnd   OperatorSlot
	backupCSN     string
	cardValidity  string

	digitalTotals     map[string]SessionTotal
	digitalToSettle   float64
	digitalFolioCount int
	ticketFolioCount  int
}

// SessionTotal accumulates per-passenger-type digital collections
type SessionTotal struct {
	Count    int
	Subtotal float64
}

// NewState creates an empty terminal state for the given unit id
func NewState(unitID string) *State {
	return &State{
		unitID:        unitID,
		digitalTotals: make(map[string]SessionTotal),
	}
}

// UnitID returns the terminal's unit identifier
func (s *State) UnitID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unitID
}

// SetGeofence records the geofence the terminal currently sits in
func (s *State) SetGeofence(id int, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.geofenceID = id
	s.geofenceName = name
}

// Geofence returns the current geofence id and raw name
func (s *State) Geofence() (int, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.geofenceID, s.geofenceName
}

// GeofenceToken returns the normalized comparison token for the current
// geofence: the name up to the first underscore.
func (s *State) GeofenceToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return stopToken(s.geofenceName)
}

// SetTripFolio sets the active trip/assignment folio; empty means no
// active trip and every QR presentation is refused.
func (s *State) SetTripFolio(folio string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tripFolio = folio
}

// TripFolio returns the active trip folio, empty if none
func (s *State) TripFolio() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tripFolio
}

// SetServices replaces the active-services and active-transfers tables
func (s *State) SetServices(services, transfers []Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services = append([]Service(nil), services...)
	s.transfers = append([]Service(nil), transfers...)
}

// ResolveService scans the active-services table for a row whose
// destination contains the given stop, falling back to the transfers
// table. Absence of a match is not fatal; callers proceed with an empty
// label.
func (s *State) ResolveService(destination string, transferFirst bool) (Service, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	first, second := s.services, s.transfers
	if transferFirst {
		first, second = s.transfers, s.services
	}
	for _, table := range [][]Service{first, second} {
		for _, svc := range table {
			if strings.Contains(svc.Destination, destination) {
				return svc, true
			}
		}
	}
	return Service{}, false
}

// RecordOperatorCard fills the shift slots: the first accepted card of a
// shift is the start operator; a later, different CSN is the end
// operator. Only the most recent two presentations matter.
func (s *State) RecordOperatorCard(id CardIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := OperatorSlot{Number: id.OperatorNum, Name: id.OperatorName}
	if s.operatorStart.Number == "" {
		s.operatorStart = slot
	} else if s.backupCSN != id.CSN {
		s.operatorEnd = slot
	}
	s.backupCSN = id.CSN
	s.cardValidity = id.ValidityStamp
}

// OperatorSlots returns the start and end shift slots
func (s *State) OperatorSlots() (start, end OperatorSlot) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.operatorStart, s.operatorEnd
}

// BackupCSN returns the CSN of the most recent accepted operator card
func (s *State) BackupCSN() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backupCSN
}

// AddDigitalSale accumulates the session counters after a committed
// digital sale.
func (s *State) AddDigitalSale(passengerSetting string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.digitalTotals[passengerSetting]
	t.Count++
	t.Subtotal += price
	s.digitalTotals[passengerSetting] = t
	s.digitalToSettle += price
	s.digitalFolioCount++
}

// AddTicketSale bumps the printed-ticket folio counter
func (s *State) AddTicketSale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticketFolioCount++
}

// DigitalTotals returns a copy of the per-passenger-type session totals
// plus the running amount to settle.
func (s *State) DigitalTotals() (map[string]SessionTotal, float64, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]SessionTotal, len(s.digitalTotals))
	for k, v := range s.digitalTotals {
		out[k] = v
	}
	return out, s.digitalToSettle, s.digitalFolioCount
}

// TicketFolioCount returns the printed-ticket counter
func (s *State) TicketFolioCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ticketFolioCount
}
