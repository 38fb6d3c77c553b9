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

// Package radio provides the frame-level abstraction over the physical
// NFC controller: a Transport interface with swappable SPI and UART
// backends and a Link exposing the handful of primitives the terminal
// needs (configure, detect passive target, raw exchange, release, hard
// reset).
package radio

import (
	"time"
)

// Transport defines the interface for communication with PN532 devices.
// This can be implemented by SPI or UART backends.
type Transport interface {
	// SendCommand sends a command to the PN532 and waits for response
	SendCommand(cmd byte, args []byte) ([]byte, error)

	// Close closes the transport connection
	Close() error

	// SetTimeout sets the read timeout for the transport
	SetTimeout(timeout time.Duration) error

	// IsConnected returns true if the transport is connected
	IsConnected() bool

	// Type returns the transport type
	Type() TransportType
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportSPI represents SPI bus transport.
	TransportSPI TransportType = "spi"
	// TransportUART represents UART/serial transport.
	TransportUART TransportType = "uart"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// Target describes a passive ISO14443A target returned by detection
type Target struct {
	UID  []byte
	ATS  []byte
	ATQA [2]byte
	Tg   byte
	SAK  byte
}

// ResetLine drives the controller's RSTPD_N pin. Implementations must be
// safe to call with the link in an unknown state.
type ResetLine interface {
	// Pulse holds the line low for holdLow, then releases it and waits
	// settle for the chip to boot.
	Pulse(holdLow, settle time.Duration) error

	// Close releases the line
	Close() error
}

// FirmwareVersion identifies the controller silicon and firmware
type FirmwareVersion struct {
	IC      byte
	Version byte
	Rev     byte
	Support byte
}
