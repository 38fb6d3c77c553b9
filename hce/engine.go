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

// Package hce collects wallet payments from phones emulating a payment
// card. The engine owns the radio exclusively for the whole batch: it
// suspends the card poller, walks one payment cycle per passenger, and
// hands the radio back on every exit path.
package hce

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/urbano-project/farebox"
	"github.com/urbano-project/farebox/arbiter"
	"github.com/urbano-project/farebox/feedback"
	"github.com/urbano-project/farebox/internal/retry"
	"github.com/urbano-project/farebox/radio"
)

// walletAID is the application identifier the phone-side wallet
// registers for host card emulation.
var walletAID = []byte{0xF0, 0x55, 0x72, 0x62, 0x54, 0x00, 0x41}

// selectAPDU is the ISO 7816 SELECT-by-AID command for walletAID
var selectAPDU = append(append([]byte{0x00, 0xA4, 0x04, 0x00, byte(len(walletAID))}, walletAID...), 0x00)

// Timings are the detection and retry knobs of one payment cycle. The
// defaults are the values tuned on the production terminal.
type Timings struct {
	DetectWindow      time.Duration // whole-cycle device search budget
	DetectCall        time.Duration // single passive activation
	DetectIdle        time.Duration // pause between activations
	SelectTries       int           // SELECT attempts per detection
	SelectDelay       time.Duration
	ExchangeAttempts  int // payment frame sends per folio
	ExchangeDelay     time.Duration
	NoDeviceThreshold int // empty cycles before a controller recreate
	AcquireTimeout    time.Duration
}

// DefaultTimings returns the production values
func DefaultTimings() Timings {
	return Timings{
		DetectWindow:      2500 * time.Millisecond,
		DetectCall:        1200 * time.Millisecond,
		DetectIdle:        10 * time.Millisecond,
		SelectTries:       3,
		SelectDelay:       50 * time.Millisecond,
		ExchangeAttempts:  12,
		ExchangeDelay:     40 * time.Millisecond,
		NoDeviceThreshold: 15,
		AcquireTimeout:    3 * time.Second,
	}
}

// Config describes one payment batch: how many passengers to collect
// and the fare context stamped on every sale.
type Config struct {
	TotalPayments    int
	Price            float64
	FareID           string
	GeofenceID       int
	PassengerType    int    // fare code on the sale row
	PassengerSetting string // tariff class for session totals
	Service          string // service label in the payment frame
	Origin           string
	Destination      string
	TripFolio        string
	Timings          Timings
}

// EventKind classifies engine events
type EventKind int

const (
	// EventPaid reports one committed payment
	EventPaid EventKind = iota
	// EventRetry reports one failed exchange attempt within a cycle, so
	// the operator sees progress while the wallet is not answering
	EventRetry
	// EventFailed reports an abandoned payment cycle
	EventFailed
	// EventInitError reports that the radio could not be brought up;
	// the terminal downgrades to cash for this batch.
	EventInitError
	// EventDone reports batch completion
	EventDone
)

// Event is one engine notification
type Event struct {
	Kind         EventKind
	Folio        int
	Attempt      int
	WalletID     int64
	TxNumber     int64
	BalanceAfter float64
	Remaining    int
	Err          error
}

// Payment is a validated wallet confirmation
type Payment struct {
	WalletID     int64
	TxNumber     int64
	BalanceAfter float64
}

// Engine drives one batch of wallet payments
type Engine struct {
	link   *radio.Link
	arb    *arbiter.Arbiter
	state  *farebox.State
	ledger farebox.Gateway
	buzzer feedback.Buzzer
	log    *logrus.Entry
	cfg    Config
	now    func() time.Time

	events chan Event
	ack    chan struct{}
	stop   chan struct{}
	once   sync.Once
}

// New creates an engine for one batch. Run may be called once.
func New(link *radio.Link, arb *arbiter.Arbiter, state *farebox.State, ledger farebox.Gateway, buzzer feedback.Buzzer, cfg Config, log *logrus.Entry) *Engine {
	if cfg.Timings == (Timings{}) {
		cfg.Timings = DefaultTimings()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		link:   link,
		arb:    arb,
		state:  state,
		ledger: ledger,
		buzzer: buzzer,
		log:    log,
		cfg:    cfg,
		now:    time.Now,
		events: make(chan Event, 4),
		ack:    make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
}

// Events returns the notification stream. Closed when Run returns.
func (e *Engine) Events() <-chan Event { return e.events }

// Acknowledge confirms the operator saw the last payment, letting the
// next cycle start. Extra acknowledgements are dropped.
func (e *Engine) Acknowledge() {
	select {
	case e.ack <- struct{}{}:
	default:
	}
}

// Stop cancels the batch. Safe from any goroutine and any engine state;
// the radio token and the poller suspension are released by Run's own
// exit path.
func (e *Engine) Stop() {
	e.once.Do(func() { close(e.stop) })
}

// Run collects the configured number of payments. It returns when the
// batch completes, the engine is stopped, or the radio cannot be
// brought up.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.events)

	if err := e.arb.Acquire("hce", e.cfg.Timings.AcquireTimeout); err != nil {
		e.events <- Event{Kind: EventInitError, Err: err}
		return err
	}
	e.arb.SuspendPoller()
	defer func() {
		e.arb.ResumePoller()
		e.arb.Release()
	}()

	if err := e.bringUp(ctx); err != nil {
		e.events <- Event{Kind: EventInitError, Err: err}
		return err
	}

	noDevice := 0
	paid := 0
	for paid < e.cfg.TotalPayments {
		if err := e.interrupted(ctx); err != nil {
			return err
		}

		if noDevice >= e.cfg.Timings.NoDeviceThreshold {
			e.log.Warn("no device seen for many cycles, recreating controller")
			e.link.HardReset()
			if err := e.link.Configure(ctx); err != nil {
				e.events <- Event{Kind: EventInitError, Err: err}
				return err
			}
			noDevice = 0
		}

		target, err := e.detectAndSelect(ctx, e.cfg.Timings.DetectWindow)
		if err != nil {
			noDevice++
			continue
		}
		noDevice = 0

		// The folio is drawn only once a wallet answered the SELECT, so
		// an empty detection window never leaves a gap in the sequence.
		folio, err := e.ledger.NextFolio(ctx, farebox.ChannelHCE)
		if err != nil {
			e.log.WithError(err).Error("folio draw failed")
			e.sleep(ctx, 500*time.Millisecond)
			continue
		}

		payment, err := e.collect(ctx, target, folio)
		if err != nil {
			e.log.WithError(err).WithField("folio", folio).Warn("payment cycle abandoned")
			e.events <- Event{Kind: EventFailed, Folio: folio, Err: err}
			continue
		}

		if err := e.commit(ctx, folio, payment); err != nil {
			return err
		}
		paid++

		if e.buzzer != nil {
			e.buzzer.Success()
		}
		e.events <- Event{
			Kind:         EventPaid,
			Folio:        folio,
			WalletID:     payment.WalletID,
			TxNumber:     payment.TxNumber,
			BalanceAfter: payment.BalanceAfter,
			Remaining:    e.cfg.TotalPayments - paid,
		}

		if paid < e.cfg.TotalPayments {
			if err := e.awaitAck(ctx); err != nil {
				return err
			}
		}
	}

	e.events <- Event{Kind: EventDone}
	return nil
}

// bringUp configures the controller, escalating to a hard reset on the
// first failure.
func (e *Engine) bringUp(ctx context.Context) error {
	if err := e.link.Configure(ctx); err == nil {
		return nil
	}
	e.link.HardReset()
	if err := e.link.Configure(ctx); err != nil {
		return fmt.Errorf("controller bring-up: %w", err)
	}
	return nil
}

// detectAndSelect searches the field for a phone and selects the wallet
// application. ErrNoTarget means nothing answered within the window.
func (e *Engine) detectAndSelect(ctx context.Context, window time.Duration) (*radio.Target, error) {
	deadline := e.now().Add(window)
	for {
		if err := e.interrupted(ctx); err != nil {
			return nil, err
		}
		if e.now().After(deadline) {
			return nil, farebox.ErrNoTarget
		}

		target, err := e.link.DetectTarget(ctx, e.cfg.Timings.DetectCall)
		if err != nil {
			e.sleep(ctx, e.cfg.Timings.DetectIdle)
			continue
		}

		if e.selectWallet(ctx, target.Tg) {
			return target, nil
		}
		// Selected target refused the AID; likely a fare card still on
		// the field. Let it leave.
		e.link.Release(ctx)
		e.sleep(ctx, e.cfg.Timings.DetectIdle)
	}
}

// selectWallet sends the SELECT APDU until the wallet answers 9000
func (e *Engine) selectWallet(ctx context.Context, tg byte) bool {
	_, err := retry.Do(ctx, retry.Config{
		Description: "select wallet",
		MaxRetries:  e.cfg.Timings.SelectTries - 1,
		Delay:       e.cfg.Timings.SelectDelay,
	}, func() (struct{}, bool, error) {
		resp, ok := e.link.Exchange(ctx, tg, selectAPDU)
		if ok && statusWord(resp) == 0x9000 {
			return struct{}{}, false, nil
		}
		return struct{}{}, true, nil
	})
	return err == nil
}

// collect sends the payment frame until a confirmation validates. The
// attempt index rides on the frame so the wallet can dedupe re-sends of
// the same folio.
func (e *Engine) collect(ctx context.Context, target *radio.Target, folio int) (*Payment, error) {
	base := e.paymentFrame(folio)
	tg := target.Tg

	for attempt := 1; attempt <= e.cfg.Timings.ExchangeAttempts; attempt++ {
		if err := e.interrupted(ctx); err != nil {
			return nil, err
		}

		payload := fmt.Sprintf("%s,%d", base, attempt)
		resp, ok := e.link.Exchange(ctx, tg, []byte(payload))
		if ok {
			payment, err := e.validateConfirmation(resp, folio)
			if err != nil {
				// A malformed or mismatched confirmation is never
				// retried on this folio; a fresh one is drawn instead.
				return nil, err
			}
			return payment, nil
		}

		e.events <- Event{
			Kind:    EventRetry,
			Folio:   folio,
			Attempt: attempt,
			Err:     farebox.ErrCommunicationFailed,
		}

		newTg, recovered := e.recover(ctx, attempt)
		if recovered {
			tg = newTg
		}
		e.sleep(ctx, e.cfg.Timings.ExchangeDelay)
	}
	return nil, fmt.Errorf("wallet exchange: %w", farebox.ErrCommunicationFailed)
}

// paymentFrame renders the outbound frame minus the attempt index
func (e *Engine) paymentFrame(folio int) string {
	return fmt.Sprintf("%s,%d,%.2f,%s,%s,%s,%s",
		e.cfg.TripFolio, folio, e.cfg.Price, e.now().Format("15:04:05"),
		e.cfg.Service, e.cfg.Origin, e.cfg.Destination)
}

// recover walks the escalation ladder after a failed exchange. The rung
// is picked by how deep into the attempt budget the cycle is; deeper
// failures get harsher medicine.
func (e *Engine) recover(ctx context.Context, attempt int) (byte, bool) {
	switch {
	case attempt == 4:
		// Cycle the carrier field
		e.link.Release(ctx)
		_ = e.link.RFField(ctx, false)
		e.sleep(ctx, 80*time.Millisecond)
		_ = e.link.RFField(ctx, true)
	case attempt == 8:
		// Reconfigure the SAM
		e.link.Release(ctx)
		if err := e.link.Configure(ctx); err != nil {
			return 0, false
		}
	case attempt == 11:
		// Last resort before the cycle is abandoned
		e.link.HardReset()
		if err := e.link.Configure(ctx); err != nil {
			return 0, false
		}
		if target, err := e.detectAndSelect(ctx, 1500*time.Millisecond); err == nil {
			return target.Tg, true
		}
		return 0, false
	default:
		e.link.Release(ctx)
	}

	if target, err := e.detectAndSelect(ctx, e.cfg.Timings.DetectCall); err == nil {
		return target.Tg, true
	}
	return 0, false
}

// validateConfirmation parses and checks a wallet confirmation:
// CT,status,walletId,txNumber,balanceAfter,echoedFolio
func (e *Engine) validateConfirmation(resp []byte, folio int) (*Payment, error) {
	fields := strings.Split(strings.TrimSpace(string(resp)), ",")
	if len(fields) < 6 {
		return nil, &farebox.ValidationError{Field: "confirmation", Reason: "short field count"}
	}
	if fields[0] != "CT" {
		return nil, &farebox.ValidationError{Field: "tag", Reason: "not a confirmation"}
	}
	if status := strings.TrimSpace(fields[1]); status != "OK" {
		// The wallet declined on its side; the money never moved
		return nil, &farebox.ValidationError{Field: "status", Reason: "wallet reported " + status}
	}

	echoed, err := strconv.Atoi(strings.TrimSpace(fields[5]))
	if err != nil || echoed != folio {
		return nil, &farebox.ValidationError{Field: "folio", Reason: "echo mismatch"}
	}
	walletID, err := strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 64)
	if err != nil || walletID <= 0 {
		return nil, &farebox.ValidationError{Field: "wallet", Reason: "non-positive id"}
	}
	txNumber, err := strconv.ParseInt(strings.TrimSpace(fields[3]), 10, 64)
	if err != nil || txNumber <= 0 {
		return nil, &farebox.ValidationError{Field: "transaction", Reason: "non-positive number"}
	}
	balance, err := strconv.ParseFloat(strings.TrimSpace(fields[4]), 64)
	if err != nil {
		return nil, &farebox.ValidationError{Field: "balance", Reason: "unparseable"}
	}
	if e.cfg.Price <= 0 {
		return nil, &farebox.ValidationError{Field: "price", Reason: "non-positive"}
	}

	return &Payment{WalletID: walletID, TxNumber: txNumber, BalanceAfter: balance}, nil
}

// commit persists the sale, stamps it reviewed, then bumps the session
// counters. Persistence failures retry in place: the wallet already
// paid, so giving up would lose money.
func (e *Engine) commit(ctx context.Context, folio int, payment *Payment) error {
	sale := farebox.SaleRecord{
		Folio:         folio,
		TripFolio:     e.cfg.TripFolio,
		Date:          e.now().Format("02-01-2006"),
		Time:          e.now().Format("15:04:05"),
		FareID:        e.cfg.FareID,
		GeofenceID:    e.cfg.GeofenceID,
		PassengerType: e.cfg.PassengerType,
		Channel:       farebox.ChannelHCE,
		Service:       e.cfg.Service,
		WalletID:      payment.WalletID,
		BalanceAfter:  payment.BalanceAfter,
		Price:         e.cfg.Price,
	}

	recorded := false
	for {
		var err error
		if !recorded {
			err = e.ledger.RecordSale(ctx, sale)
			recorded = err == nil
		}
		if recorded {
			err = e.ledger.UpdateDigitalSaleStatus(ctx, "OK", folio, e.cfg.TripFolio)
		}
		if recorded && err == nil {
			e.state.AddDigitalSale(e.cfg.PassengerSetting, e.cfg.Price)
			return nil
		}
		e.log.WithError(err).WithField("folio", folio).Error("sale persist failed, retrying")
		if err := e.interrupted(ctx); err != nil {
			return err
		}
		e.sleep(ctx, 500*time.Millisecond)
	}
}

// awaitAck blocks until the operator confirms or the engine stops
func (e *Engine) awaitAck(ctx context.Context) error {
	select {
	case <-e.ack:
		return nil
	case <-e.stop:
		return farebox.ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// interrupted reports a pending stop or cancellation
func (e *Engine) interrupted(ctx context.Context) error {
	select {
	case <-e.stop:
		return farebox.ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-e.stop:
	case <-ctx.Done():
	case <-t.C:
	}
}

// statusWord extracts the trailing ISO 7816 status word
func statusWord(resp []byte) uint16 {
	if len(resp) < 2 {
		return 0
	}
	return uint16(resp[len(resp)-2])<<8 | uint16(resp[len(resp)-1])
}
