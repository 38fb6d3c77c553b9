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

package frame

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrFrameTooShort indicates the buffer is shorter than a minimal frame
	ErrFrameTooShort = errors.New("frame too short")
	// ErrBadChecksum indicates a length or data checksum mismatch
	ErrBadChecksum = errors.New("frame checksum mismatch")
	// ErrBadDirection indicates the TFI byte is not PN532-to-host
	ErrBadDirection = errors.New("unexpected frame direction")
	// ErrNotAck indicates the expected ACK frame was not found
	ErrNotAck = errors.New("no ack frame")
)

// LengthChecksum computes the LCS byte for a payload length
func LengthChecksum(length byte) byte {
	return byte(0x100 - uint16(length))
}

// DataChecksum computes the DCS byte over TFI plus the payload
func DataChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return byte(0x100 - uint16(sum))
}

// Build constructs a normal information frame carrying cmd and args,
// direction host-to-PN532.
func Build(cmd byte, args []byte) ([]byte, error) {
	length := len(args) + 2 // TFI + cmd
	if length > MaxFrameDataLength {
		return nil, fmt.Errorf("frame payload %d bytes exceeds limit", length)
	}

	body := make([]byte, 0, length)
	body = append(body, HostToPn532, cmd)
	body = append(body, args...)

	out := make([]byte, 0, length+7)
	out = append(out, Preamble, StartCode1, StartCode2)
	out = append(out, byte(length), LengthChecksum(byte(length)))
	out = append(out, body...)
	out = append(out, DataChecksum(body), Postamble)
	return out, nil
}

// Parse extracts the response payload (response code + data, TFI stripped)
// from a raw frame starting at the preamble.
func Parse(raw []byte) ([]byte, error) {
	if len(raw) < MinFrameLength+1 {
		return nil, ErrFrameTooShort
	}

	// Tolerate leading junk before the start code; clone readers often
	// prepend idle bytes.
	idx := bytes.Index(raw, []byte{StartCode1, StartCode2})
	if idx < 0 {
		return nil, ErrFrameTooShort
	}
	raw = raw[idx+2:]
	if len(raw) < 4 {
		return nil, ErrFrameTooShort
	}

	length := raw[0]
	if LengthChecksum(length) != raw[1] {
		return nil, ErrBadChecksum
	}
	// An information frame carries at least the TFI; length zero with a
	// matching LCS is line noise, not a frame.
	if length == 0 {
		return nil, ErrFrameTooShort
	}
	if len(raw) < int(length)+3 {
		return nil, ErrFrameTooShort
	}

	body := raw[2 : 2+int(length)]
	if DataChecksum(body) != raw[2+int(length)] {
		return nil, ErrBadChecksum
	}
	if body[0] != Pn532ToHost {
		return nil, ErrBadDirection
	}
	return body[1:], nil
}

// IsAck reports whether raw begins with (or contains only) the ACK frame
func IsAck(raw []byte) bool {
	if len(raw) < len(AckFrame) {
		return false
	}
	return bytes.Contains(raw, AckFrame)
}
