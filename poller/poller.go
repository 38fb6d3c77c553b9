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

// Package poller runs the background operator-card loop: a 10 Hz sweep
// of the radio that decodes fare cards, fills the shift slots and
// reports rejections to the fleet statistics channel.
package poller

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/urbano-project/farebox"
	"github.com/urbano-project/farebox/arbiter"
	"github.com/urbano-project/farebox/feedback"
	"github.com/urbano-project/farebox/radio"
	"github.com/urbano-project/farebox/telemetry"
)

const (
	tickInterval = 100 * time.Millisecond
	cardBackoff  = 120 * time.Millisecond
	// detectWindow bounds each passive poll so the tick rate holds even
	// with an empty field.
	detectWindow = 80 * time.Millisecond

	// Three consecutive radio failures with a cooldown between resets
	// trigger a hard reset of the controller.
	maxConsecutiveFailures = 3
	resetCooldown          = 10 * time.Second
)

// errIncompleteRead marks a card that left the field mid-read
var errIncompleteRead = errors.New("incomplete card read")

// cardTextPages is the user-memory span holding the vendor payload:
// type marker plus identity fields, ASCII, starting at page 4.
var cardTextPages = []byte{4, 8, 12}

// Poller owns the card sweep. Start it once; it shares the radio with
// the HCE engine through the arbiter and idles while suspended.
type Poller struct {
	link   *radio.Link
	arb    *arbiter.Arbiter
	state  *farebox.State
	stats  telemetry.Publisher
	buzzer feedback.Buzzer
	log    *logrus.Entry
	now    func() time.Time

	// OnAccepted and OnRejected are optional observation hooks invoked
	// from the poll goroutine after feedback has played.
	OnAccepted func(farebox.CardIdentity)
	OnRejected func(farebox.CardIdentity, farebox.CardStatus)

	consecutiveFailures int
	lastReset           time.Time
}

// New creates a poller. stats and buzzer may be nil.
func New(link *radio.Link, arb *arbiter.Arbiter, state *farebox.State, stats telemetry.Publisher, buzzer feedback.Buzzer, log *logrus.Entry) *Poller {
	if stats == nil {
		stats = telemetry.Noop{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Poller{
		link:   link,
		arb:    arb,
		state:  state,
		stats:  stats,
		buzzer: buzzer,
		log:    log,
		now:    time.Now,
	}
}

// Run sweeps the field until ctx is cancelled
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if p.arb.TakeResetRequest() {
			p.performReset(ctx, "deferred reset request")
			continue
		}
		if p.arb.PollerSuspended() {
			continue
		}

		if backoff := p.tick(ctx); backoff {
			sleepCtx(ctx, cardBackoff)
		}

		if p.consecutiveFailures >= maxConsecutiveFailures &&
			p.now().Sub(p.lastReset) >= resetCooldown {
			p.performReset(ctx, "consecutive read failures")
		}
	}
}

// tick runs one sweep; true means the caller should back off before the
// next one.
func (p *Poller) tick(ctx context.Context) bool {
	if !p.arb.TryAcquire("poller") {
		return false
	}

	id, err := p.readCard(ctx)
	p.arb.Release()

	switch {
	case errors.Is(err, farebox.ErrNoTarget):
		p.consecutiveFailures = 0
		return false
	case errors.Is(err, errBadSerial):
		// Partial UID from a card on the field edge; not a radio fault
		return true
	case err != nil:
		p.consecutiveFailures++
		p.log.WithError(err).Debug("card read failed")
		return true
	}

	p.consecutiveFailures = 0
	p.dispatch(id)
	return true
}

// errBadSerial marks a detected UID of the wrong length
var errBadSerial = errors.New("unexpected serial length")

// readCard detects one card and reads its identity text. Must be called
// with the token held.
func (p *Poller) readCard(ctx context.Context) (farebox.CardIdentity, error) {
	var id farebox.CardIdentity

	target, err := p.link.DetectTarget(ctx, detectWindow)
	if err != nil {
		return id, err
	}

	csn := strings.ToUpper(hex.EncodeToString(target.UID))
	if len(csn) != farebox.CSNLength {
		return id, errBadSerial
	}

	text, err := p.readCardText(ctx, target.Tg)
	if err != nil {
		return id, err
	}
	if len(text) < 2 {
		return id, errIncompleteRead
	}
	return farebox.DecodeCardIdentity(csn, text[:2], text[2:]), nil
}

// readCardText pulls the identity span from user memory, 16 bytes per
// read. Any refused read aborts; a half payload must never classify.
func (p *Poller) readCardText(ctx context.Context, tg byte) (string, error) {
	var buf []byte
	for _, page := range cardTextPages {
		data, ok := p.link.Exchange(ctx, tg, []byte{0x30, page})
		if !ok || len(data) < 16 {
			return "", errIncompleteRead
		}
		buf = append(buf, data[:16]...)
	}
	return strings.TrimRight(string(buf), "\x00"), nil
}

// dispatch classifies the identity and plays the outcome. Runs without
// the token; classification is pure.
func (p *Poller) dispatch(id farebox.CardIdentity) {
	status := id.Classify(p.now())
	if status == farebox.CardAccepted {
		p.state.RecordOperatorCard(id)
		if p.buzzer != nil {
			p.buzzer.CardConfirm()
		}
		p.log.WithFields(logrus.Fields{
			"csn":      id.CSN,
			"operator": id.OperatorNum,
		}).Info("operator card accepted")
		if p.OnAccepted != nil {
			p.OnAccepted(id)
		}
		return
	}

	if p.buzzer != nil {
		p.buzzer.Reject()
	}
	event := telemetry.NewEvent(p.state.UnitID(), status.StatCode(), id.CSN, p.now())
	if err := p.stats.Publish(event); err != nil {
		p.log.WithError(err).Warn("stats publish failed")
	}
	p.log.WithFields(logrus.Fields{
		"csn":  id.CSN,
		"code": status.StatCode(),
	}).Info("card rejected")
	if p.OnRejected != nil {
		p.OnRejected(id, status)
	}
}

// performReset pulses the controller and reconfigures it, clearing the
// failure counter.
func (p *Poller) performReset(ctx context.Context, reason string) {
	if !p.arb.TryAcquire("poller-reset") {
		// Another owner has the link; the reset request stays consumed
		// and the failure counter re-arms it if the fault persists.
		return
	}
	defer p.arb.Release()

	p.log.WithField("reason", reason).Warn("hard resetting radio")
	p.link.HardReset()
	if err := p.link.Configure(ctx); err != nil {
		p.log.WithError(err).Error("radio reconfigure failed")
	}
	p.consecutiveFailures = 0
	p.lastReset = p.now()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
