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

package control

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
		want Command
		ok   bool
	}{
		{"simple", "trip T-555", Command{Verb: "trip", Args: []string{"T-555"}}, true},
		{"verb lowered", "HCE start 3 normal", Command{Verb: "hce", Args: []string{"start", "3", "normal"}}, true},
		{"extra whitespace", "  geofence  7  TERMINAL ", Command{Verb: "geofence", Args: []string{"7", "TERMINAL"}}, true},
		{"empty", "", Command{}, false},
		{"blank", "   ", Command{}, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := parseLine(tt.line)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestPipeDispatchesCommands(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ctl")
	got := make(chan Command, 4)
	p, err := NewPipe(path, HandlerFunc(func(_ context.Context, cmd Command) error {
		got <- cmd
		return nil
	}), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	w, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = w.WriteString("trip T-555\nhce ack\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	for _, want := range []Command{
		{Verb: "trip", Args: []string{"T-555"}},
		{Verb: "hce", Args: []string{"ack"}},
	} {
		select {
		case cmd := <-got:
			assert.Equal(t, want, cmd)
		case <-time.After(2 * time.Second):
			t.Fatal("command not dispatched")
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipe did not shut down")
	}
}

func TestNewPipeExistingFifo(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ctl")
	_, err := NewPipe(path, HandlerFunc(func(context.Context, Command) error { return nil }), nil)
	require.NoError(t, err)

	// Creating over the existing FIFO must not fail
	_, err = NewPipe(path, HandlerFunc(func(context.Context, Command) error { return nil }), nil)
	require.NoError(t, err)
}
