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

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/urbano-project/farebox/internal/frame"
)

// PN532 SPI framing bytes. The chip speaks LSB-first on SPI, so every
// byte on the wire is bit-reversed in software.
const (
	spiDataWrite  = 0x01
	spiStatusRead = 0x02
	spiDataRead   = 0x03
	spiReady      = 0x01
)

var hostInitOnce sync.Once

// SPITransport implements Transport over an SPI bus via periph.io
type SPITransport struct {
	port    spi.PortCloser
	conn    spi.Conn
	device  string
	timeout time.Duration
	mu      sync.Mutex
	closed  bool
}

// NewSPI opens the SPI port (e.g. "/dev/spidev0.0" or "") and connects
// to the PN532 at the given frequency.
func NewSPI(device string, freq physic.Frequency) (*SPITransport, error) {
	var initErr error
	hostInitOnce.Do(func() {
		_, initErr = host.Init()
	})
	if initErr != nil {
		return nil, fmt.Errorf("periph host init: %w", initErr)
	}

	port, err := spireg.Open(device)
	if err != nil {
		return nil, fmt.Errorf("open spi %s: %w", device, err)
	}
	if freq == 0 {
		freq = 400 * physic.KiloHertz
	}
	conn, err := port.Connect(freq, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("connect spi %s: %w", device, err)
	}

	return &SPITransport{
		port:    port,
		conn:    conn,
		device:  device,
		timeout: time.Second,
	}, nil
}

// SendCommand sends a command frame and reads the response frame
func (t *SPITransport) SendCommand(cmd byte, args []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errors.New("spi transport closed")
	}

	raw, err := frame.Build(cmd, args)
	if err != nil {
		return nil, err
	}
	if err := t.writeFrame(raw); err != nil {
		return nil, err
	}
	if err := t.readAck(); err != nil {
		return nil, err
	}
	return t.readResponse()
}

func (t *SPITransport) writeFrame(raw []byte) error {
	buf := make([]byte, 0, len(raw)+1)
	buf = append(buf, spiDataWrite)
	buf = append(buf, raw...)
	reverseBits(buf)
	return t.conn.Tx(buf, make([]byte, len(buf)))
}

// waitReady polls the status byte until the chip reports a frame ready
func (t *SPITransport) waitReady() error {
	deadline := time.Now().Add(t.timeout)
	for time.Now().Before(deadline) {
		w := []byte{spiStatusRead, 0x00}
		reverseBits(w[:1])
		r := make([]byte, 2)
		if err := t.conn.Tx(w, r); err != nil {
			return err
		}
		if reverseBit(r[1]) == spiReady {
			return nil
		}
		time.Sleep(2 * time.Millisecond)
	}
	return fmt.Errorf("spi %s: %w", t.device, errReadyTimeout)
}

var errReadyTimeout = errors.New("ready wait timed out")

func (t *SPITransport) readAck() error {
	if err := t.waitReady(); err != nil {
		return err
	}
	buf, err := t.readRaw(len(frame.AckFrame))
	if err != nil {
		return err
	}
	if !frame.IsAck(buf) {
		return frame.ErrNotAck
	}
	return nil
}

func (t *SPITransport) readResponse() ([]byte, error) {
	if err := t.waitReady(); err != nil {
		return nil, err
	}
	buf, err := t.readRaw(frame.MaxFrameDataLength + 8)
	if err != nil {
		return nil, err
	}
	return frame.Parse(buf)
}

// readRaw clocks n bytes out of the chip after a data-read marker
func (t *SPITransport) readRaw(n int) ([]byte, error) {
	w := make([]byte, n+1)
	w[0] = spiDataRead
	reverseBits(w[:1])
	r := make([]byte, n+1)
	if err := t.conn.Tx(w, r); err != nil {
		return nil, err
	}
	out := r[1:]
	reverseBits(out)
	return out, nil
}

// Close closes the SPI port
func (t *SPITransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("close spi %s: %w", t.device, err)
	}
	return nil
}

// SetTimeout sets the ready-wait timeout
func (t *SPITransport) SetTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = timeout
	return nil
}

// IsConnected returns true while the port is open
func (t *SPITransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// Type returns TransportSPI
func (*SPITransport) Type() TransportType {
	return TransportSPI
}

// reverseBit mirrors the bit order of a single byte
func reverseBit(b byte) byte {
	b = (b&0xF0)>>4 | (b&0x0F)<<4
	b = (b&0xCC)>>2 | (b&0x33)<<2
	b = (b&0xAA)>>1 | (b&0x55)<<1
	return b
}

// reverseBits mirrors the bit order of every byte in place
func reverseBits(buf []byte) {
	for i, b := range buf {
		buf[i] = reverseBit(b)
	}
}
