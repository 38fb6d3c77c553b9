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

// Package farebox holds the shared model of an unattended fare-collection
// terminal: card identities, sale records, the ledger gateway contract,
// the error taxonomy, and the terminal state object every worker receives.
//
// The terminal time-shares a single NFC front-end between a passive card
// poller and an on-demand HCE payment engine. The moving parts live in
// subpackages:
//
//   - radio: frame-level PN532 link with SPI and UART backends
//   - arbiter: the single radio ownership token and coordination flags
//   - poller: the continuous low-duty-cycle card poll loop
//   - hce: the wallet payment transaction engine
//   - fare: QR ticket classification and sale commit
//   - qrscan: the serial QR scanner pipeline
//   - ledger: Postgres and in-memory gateway implementations
//   - feedback: buzzer cadences and operator-facing outcome messages
//   - telemetry: rejection statistics publishing
//   - control: the operator command pipe
//   - config: terminal configuration loading
//
// All blocking operations take a context and every worker exposes a stop
// path that releases the radio token and clears the poller-suspension
// flag regardless of how the worker exits.
package farebox
