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
	"sync"
	"time"

	"github.com/urbano-project/farebox/internal/frame"
)

// MockTransport is a scriptable transport for tests. Responses are keyed
// by command byte; unscripted commands fall back to benign defaults so
// Configure works without ceremony.
type MockTransport struct {
	responses map[byte][]byte
	funcs     map[byte]func(args []byte) ([]byte, error)
	errs      map[byte]error
	calls     map[byte]int
	mu        sync.Mutex
	closed    bool
}

// NewMockTransport creates an empty mock transport
func NewMockTransport() *MockTransport {
	return &MockTransport{
		responses: make(map[byte][]byte),
		funcs:     make(map[byte]func(args []byte) ([]byte, error)),
		errs:      make(map[byte]error),
		calls:     make(map[byte]int),
	}
}

// SetResponse scripts a fixed response payload (response code included)
// for the given command.
func (m *MockTransport) SetResponse(cmd byte, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[cmd] = append([]byte(nil), payload...)
	delete(m.funcs, cmd)
	delete(m.errs, cmd)
}

// SetResponseFunc scripts a dynamic response for the given command
func (m *MockTransport) SetResponseFunc(cmd byte, fn func(args []byte) ([]byte, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs[cmd] = fn
	delete(m.responses, cmd)
	delete(m.errs, cmd)
}

// SetError scripts a transport failure for the given command
func (m *MockTransport) SetError(cmd byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[cmd] = err
	delete(m.responses, cmd)
	delete(m.funcs, cmd)
}

// CallCount returns how many times cmd was sent
func (m *MockTransport) CallCount(cmd byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[cmd]
}

// SendCommand implements Transport
func (m *MockTransport) SendCommand(cmd byte, args []byte) ([]byte, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("mock transport closed")
	}
	m.calls[cmd]++
	fn := m.funcs[cmd]
	resp, hasResp := m.responses[cmd]
	err, hasErr := m.errs[cmd]
	m.mu.Unlock()

	switch {
	case hasErr:
		return nil, err
	case fn != nil:
		return fn(args)
	case hasResp:
		return append([]byte(nil), resp...), nil
	}
	return defaultResponse(cmd), nil
}

// defaultResponse fabricates a benign success payload per command
func defaultResponse(cmd byte) []byte {
	switch cmd {
	case frame.CmdGetFirmwareVersion:
		return []byte{cmd + 1, 0x32, 0x01, 0x06, 0x07}
	case frame.CmdInListPassiveTarget:
		return []byte{cmd + 1, 0x00} // no targets
	default:
		return []byte{cmd + 1}
	}
}

// NoTargetResponse builds an InListPassiveTarget payload with no targets
func NoTargetResponse() []byte {
	return []byte{frame.CmdInListPassiveTarget + 1, 0x00}
}

// TargetResponse builds an InListPassiveTarget payload for one ISO-DEP
// target with the given logical number and UID.
func TargetResponse(tg byte, uid []byte) []byte {
	resp := []byte{frame.CmdInListPassiveTarget + 1, 0x01, tg, 0x03, 0x44, 0x20, byte(len(uid))}
	resp = append(resp, uid...)
	resp = append(resp, 0x05, 0x78, 0x80, 0x70, 0x02, 0x00) // ATS
	return resp
}

// ExchangeResponse builds a successful InDataExchange payload carrying
// data followed by the SW1SW2 status word.
func ExchangeResponse(data []byte, sw1, sw2 byte) []byte {
	resp := []byte{frame.CmdInDataExchange + 1, 0x00}
	resp = append(resp, data...)
	resp = append(resp, sw1, sw2)
	return resp
}

// ExchangeNACKResponse builds a failed InDataExchange payload
func ExchangeNACKResponse() []byte {
	return []byte{frame.CmdInDataExchange + 1, 0x27}
}

// Close implements Transport
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SetTimeout implements Transport
func (m *MockTransport) SetTimeout(time.Duration) error { return nil }

// IsConnected implements Transport
func (m *MockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

// Type implements Transport
func (*MockTransport) Type() TransportType { return TransportMock }
