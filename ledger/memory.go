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

package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/urbano-project/farebox"
)

// Memory is an in-process Gateway used by tests and bench units without
// a database.
type Memory struct {
	mu     sync.Mutex
	folios map[farebox.Channel]int
	sales  []farebox.SaleRecord
	used   map[string]bool
	status map[string]string // "folio/tripFolio" -> status

	// FailNext, when non-nil, is returned by the next write call; lets
	// tests exercise the persistence retry paths.
	FailNext error
}

// NewMemory creates an empty in-memory ledger
func NewMemory() *Memory {
	return &Memory{
		folios: make(map[farebox.Channel]int),
		used:   make(map[string]bool),
		status: make(map[string]string),
	}
}

func (m *Memory) takeFailure() error {
	err := m.FailNext
	m.FailNext = nil
	return err
}

// NextFolio implements Gateway; folios are monotonic per channel
func (m *Memory) NextFolio(_ context.Context, channel farebox.Channel) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return 0, err
	}
	m.folios[channel]++
	return m.folios[channel], nil
}

// RecordSale implements Gateway
func (m *Memory) RecordSale(_ context.Context, sale farebox.SaleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.sales = append(m.sales, sale)
	return nil
}

// IsTicketUsed implements Gateway
func (m *Memory) IsTicketUsed(_ context.Context, rawQR string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used[rawQR], nil
}

// MarkTicketUsed implements Gateway
func (m *Memory) MarkTicketUsed(_ context.Context, rawQR string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.used[rawQR] = true
	return nil
}

// UpdateDigitalSaleStatus implements Gateway
func (m *Memory) UpdateDigitalSaleStatus(_ context.Context, status string, folio int, tripFolio string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.status[fmt.Sprintf("%d/%s", folio, tripFolio)] = status
	return nil
}

// Sales returns a copy of the recorded sale rows
func (m *Memory) Sales() []farebox.SaleRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]farebox.SaleRecord(nil), m.sales...)
}

// Status returns the review status stamped for a folio, if any
func (m *Memory) Status(folio int, tripFolio string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.status[fmt.Sprintf("%d/%s", folio, tripFolio)]
	return s, ok
}
