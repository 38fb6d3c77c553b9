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

// Package arbiter serializes access to the single NFC front-end. One
// token, one named owner at a time; the token must be held for the whole
// of any radio operation but never across a sleep-based retry loop.
package arbiter

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/urbano-project/farebox"
)

// Arbiter is the mutual-exclusion broker for the radio link. It also
// carries the two cooperative flags the poller and the HCE engine use to
// coordinate without holding the token: the poller-suspension flag and
// the deferred hard-reset request.
type Arbiter struct {
	token           chan struct{}
	mu              sync.Mutex
	owner           string
	pollerSuspended atomic.Bool
	resetRequested  atomic.Bool
}

// New creates an arbiter with the token available
func New() *Arbiter {
	a := &Arbiter{token: make(chan struct{}, 1)}
	a.token <- struct{}{}
	return a
}

// Acquire takes the token for owner, waiting up to timeout. Returns
// farebox.ErrReaderBusy when another owner kept it the whole time.
func (a *Arbiter) Acquire(owner string, timeout time.Duration) error {
	select {
	case <-a.token:
		a.setOwner(owner)
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-a.token:
		a.setOwner(owner)
		return nil
	case <-timer.C:
		return farebox.ErrReaderBusy
	}
}

// TryAcquire takes the token without waiting
func (a *Arbiter) TryAcquire(owner string) bool {
	select {
	case <-a.token:
		a.setOwner(owner)
		return true
	default:
		return false
	}
}

// Release returns the token. Releasing an unheld token is a no-op so
// cleanup paths can call it unconditionally.
func (a *Arbiter) Release() {
	a.mu.Lock()
	if a.owner == "" {
		a.mu.Unlock()
		return
	}
	a.owner = ""
	a.mu.Unlock()

	select {
	case a.token <- struct{}{}:
	default:
	}
}

// Owner returns the tag of the current holder, empty when free
func (a *Arbiter) Owner() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.owner
}

func (a *Arbiter) setOwner(owner string) {
	a.mu.Lock()
	a.owner = owner
	a.mu.Unlock()
}

// SuspendPoller tells the card poller to skip its radio branch. Set by
// the HCE engine on start, cleared on every exit path.
func (a *Arbiter) SuspendPoller() { a.pollerSuspended.Store(true) }

// ResumePoller clears the suspension flag
func (a *Arbiter) ResumePoller() { a.pollerSuspended.Store(false) }

// PollerSuspended reports whether the poller should idle this tick
func (a *Arbiter) PollerSuspended() bool { return a.pollerSuspended.Load() }

// RequestReset asks whichever component next safely owns the link to
// perform a hard reset.
func (a *Arbiter) RequestReset() { a.resetRequested.Store(true) }

// TakeResetRequest consumes a pending reset request, if any
func (a *Arbiter) TakeResetRequest() bool {
	return a.resetRequested.CompareAndSwap(true, false)
}
