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

// Package qrscan reads newline-terminated payloads from a serial QR
// scanner and feeds them to a handler. The scanner is a consumer-grade
// USB device that drops off the bus under vibration; the reader loop
// reopens the port with a fixed backoff instead of treating that as
// fatal.
package qrscan

import (
	"bufio"
	"context"
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

// Handler consumes one scanned line
type Handler interface {
	Handle(ctx context.Context, raw string) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, raw string) error

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, raw string) error {
	return f(ctx, raw)
}

const (
	defaultBaud      = 9600
	reconnectBackoff = 5 * time.Second
	// readTimeout bounds each blocking read so ctx cancellation is
	// noticed between scans.
	readTimeout = 500 * time.Millisecond
)

// Config describes the scanner port
type Config struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

// Scanner owns the serial port lifecycle for one QR reader
type Scanner struct {
	cfg     Config
	handler Handler
	log     *logrus.Entry
}

// New creates a scanner for the configured device
func New(cfg Config, handler Handler, log *logrus.Entry) *Scanner {
	if cfg.Baud == 0 {
		cfg.Baud = defaultBaud
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scanner{cfg: cfg, handler: handler, log: log}
}

// Run reads lines until ctx is cancelled. Port failures close and
// reopen the device; the loop only exits on cancellation.
func (s *Scanner) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		port, err := serial.OpenPort(&serial.Config{
			Name:        s.cfg.Device,
			Baud:        s.cfg.Baud,
			ReadTimeout: readTimeout,
		})
		if err != nil {
			s.log.WithError(err).WithField("device", s.cfg.Device).
				Warn("scanner open failed, retrying")
			if !sleepCtx(ctx, reconnectBackoff) {
				return ctx.Err()
			}
			continue
		}

		s.log.WithField("device", s.cfg.Device).Info("scanner connected")
		err = s.readLoop(ctx, port)
		_ = port.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.WithError(err).Warn("scanner read failed, reopening")
		if !sleepCtx(ctx, reconnectBackoff) {
			return ctx.Err()
		}
	}
}

// readLoop drains lines from the open port. Real errors return to the
// reopen path.
func (s *Scanner) readLoop(ctx context.Context, port *serial.Port) error {
	reader := bufio.NewReader(port)
	var partial []byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := reader.ReadBytes('\n')
		partial = append(partial, chunk...)
		if err != nil {
			// A read timeout surfaces as io.EOF; keep accumulating
			// until the newline arrives.
			if errors.Is(err, io.EOF) {
				continue
			}
			return err
		}

		line := string(trimEOL(partial))
		partial = partial[:0]
		if line == "" {
			continue
		}
		if err := s.handler.Handle(ctx, line); err != nil {
			s.log.WithError(err).Warn("scan handler failed")
		}
	}
}

func trimEOL(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
