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
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/urbano-project/farebox/internal/frame"
)

// wakeupPreamble pulls the PN532 out of low VBAT mode before a command
var wakeupPreamble = []byte{0x55, 0x55, 0x00, 0x00, 0x00}

// UARTTransport implements Transport over a serial port
type UARTTransport struct {
	port    serial.Port
	device  string
	timeout time.Duration
	mu      sync.Mutex
	closed  bool
	awake   bool
}

// NewUART opens the serial device (e.g. "/dev/ttyS0") at the given baud
// rate; 115200 when baud is zero.
func NewUART(device string, baud int) (*UARTTransport, error) {
	if baud == 0 {
		baud = 115200
	}
	port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open uart %s: %w", device, err)
	}

	t := &UARTTransport{
		port:    port,
		device:  device,
		timeout: time.Second,
	}
	if err := port.SetReadTimeout(t.timeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set uart timeout: %w", err)
	}
	return t, nil
}

// SendCommand sends a command frame and reads the response frame
func (t *UARTTransport) SendCommand(cmd byte, args []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errors.New("uart transport closed")
	}

	raw, err := frame.Build(cmd, args)
	if err != nil {
		return nil, err
	}

	_ = t.port.ResetInputBuffer()
	if !t.awake {
		if _, err := t.port.Write(wakeupPreamble); err != nil {
			return nil, fmt.Errorf("uart wakeup %s: %w", t.device, err)
		}
		t.awake = true
	}
	if _, err := t.port.Write(raw); err != nil {
		return nil, fmt.Errorf("uart write %s: %w", t.device, err)
	}

	if err := t.readAck(); err != nil {
		return nil, err
	}
	return t.readResponse()
}

// readAck consumes bytes until the ACK frame is seen or the timeout hits
func (t *UARTTransport) readAck() error {
	buf, err := t.readAtLeast(len(frame.AckFrame))
	if err != nil {
		return err
	}
	if !frame.IsAck(buf) {
		return frame.ErrNotAck
	}
	return nil
}

func (t *UARTTransport) readResponse() ([]byte, error) {
	buf, err := t.readAtLeast(frame.MinFrameLength + 1)
	if err != nil {
		return nil, err
	}

	// Keep reading until the frame parses or the deadline passes; slow
	// clones dribble the tail of long responses.
	deadline := time.Now().Add(t.timeout)
	for {
		payload, perr := frame.Parse(buf)
		if perr == nil {
			return payload, nil
		}
		if !errors.Is(perr, frame.ErrFrameTooShort) || time.Now().After(deadline) {
			return nil, perr
		}
		chunk := make([]byte, 64)
		n, rerr := t.port.Read(chunk)
		if rerr != nil {
			return nil, fmt.Errorf("uart read %s: %w", t.device, rerr)
		}
		if n == 0 {
			return nil, perr
		}
		buf = append(buf, chunk[:n]...)
	}
}

// readAtLeast reads until min bytes arrived or the timeout elapsed
func (t *UARTTransport) readAtLeast(min int) ([]byte, error) {
	buf := make([]byte, 0, 64)
	chunk := make([]byte, 64)
	deadline := time.Now().Add(t.timeout)
	for len(buf) < min {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("uart read %s: %w", t.device, errReadyTimeout)
		}
		n, err := t.port.Read(chunk)
		if err != nil {
			return nil, fmt.Errorf("uart read %s: %w", t.device, err)
		}
		buf = append(buf, chunk[:n]...)
	}
	return buf, nil
}

// Close closes the serial port
func (t *UARTTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("close uart %s: %w", t.device, err)
	}
	return nil
}

// SetTimeout sets the read timeout
func (t *UARTTransport) SetTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = timeout
	if err := t.port.SetReadTimeout(timeout); err != nil {
		return fmt.Errorf("set uart timeout: %w", err)
	}
	return nil
}

// IsConnected returns true while the port is open
func (t *UARTTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// Type returns TransportUART
func (*UARTTransport) Type() TransportType {
	return TransportUART
}
