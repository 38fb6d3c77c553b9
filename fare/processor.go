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

package fare

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/urbano-project/farebox"
	"github.com/urbano-project/farebox/feedback"
)

// Printer emits a physical receipt for a cash-channel sale. Legacy
// tickets are reprinted as boarding proof before the sale is persisted,
// so a jammed printer blocks the commit rather than eating the fare.
type Printer interface {
	PrintBoardingPass(sale farebox.SaleRecord, directedTo string) error
}

// NoopPrinter satisfies Printer on units without a print head
type NoopPrinter struct{}

// PrintBoardingPass implements Printer
func (NoopPrinter) PrintBoardingPass(farebox.SaleRecord, string) error { return nil }

// Processor wraps the validator with the side effects of a scan: the
// single-slot repeat cache, the commit to the ledger, receipt printing
// and passenger feedback. One processor serves one scanner; Handle is
// not safe for concurrent use.
type Processor struct {
	validator *Validator
	state     *farebox.State
	ledger    farebox.Gateway
	printer   Printer
	buzzer    feedback.Buzzer
	log       *logrus.Entry

	// lastAccepted holds the raw string of the most recent accepted
	// scan. Scanners repeat a code still under the beam several times a
	// second; only the newest acceptance needs remembering.
	lastAccepted string
}

// NewProcessor wires a processor. printer and buzzer may be nil.
func NewProcessor(v *Validator, state *farebox.State, ledger farebox.Gateway, printer Printer, buzzer feedback.Buzzer, log *logrus.Entry) *Processor {
	if printer == nil {
		printer = NoopPrinter{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Processor{
		validator: v,
		state:     state,
		ledger:    ledger,
		printer:   printer,
		buzzer:    buzzer,
		log:       log,
	}
}

// Handle classifies one scanned line and, when accepted, commits the
// sale. The returned result carries the message already played to the
// passenger.
func (p *Processor) Handle(ctx context.Context, raw string) Result {
	res := p.validator.Classify(ctx, raw, p.lastAccepted)
	if res.Outcome != OutcomeAccepted {
		msg := res.Outcome.Message()
		p.log.WithFields(logrus.Fields{
			"outcome": msg,
			"detail":  res.Detail,
		}).Info("scan rejected")
		feedback.Play(p.buzzer, msg)
		return res
	}

	if err := p.commit(ctx, res.Decision); err != nil {
		p.log.WithError(err).Error("sale commit failed")
		res.Outcome = OutcomeInvalid
		feedback.Play(p.buzzer, res.Outcome.Message())
		return res
	}

	p.lastAccepted = res.Decision.Ticket.Raw
	p.log.WithFields(logrus.Fields{
		"service":   res.Decision.ServiceLabel,
		"passenger": res.Decision.PassengerType,
	}).Info("scan accepted")
	feedback.Play(p.buzzer, feedback.MsgAccepted)
	return res
}

func (p *Processor) commit(ctx context.Context, d *Decision) error {
	switch d.Ticket.Format {
	case FormatDigital:
		return p.commitDigital(ctx, d)
	case FormatLegacy:
		return p.commitLegacy(ctx, d)
	default:
		return fmt.Errorf("commit: unexpected format %d", d.Ticket.Format)
	}
}

// commitDigital persists a wallet-paid QR sale on the QR channel and
// consumes the payload.
func (p *Processor) commitDigital(ctx context.Context, d *Decision) error {
	folio, err := p.ledger.NextFolio(ctx, farebox.ChannelQR)
	if err != nil {
		return fmt.Errorf("draw folio: %w", err)
	}
	geoID, _ := p.state.Geofence()
	sale := farebox.SaleRecord{
		Folio:         folio,
		TripFolio:     p.state.TripFolio(),
		Date:          d.Ticket.Date,
		Time:          d.Ticket.Time,
		FareID:        d.Ticket.FareID,
		GeofenceID:    geoID,
		PassengerType: d.PassengerID,
		Channel:       farebox.ChannelQR,
		Service:       d.ServiceLabel,
		WalletID:      d.WalletID,
		BalanceAfter:  d.BalanceAfter,
		Price:         d.Price,
	}
	if err := p.ledger.RecordSale(ctx, sale); err != nil {
		return fmt.Errorf("record sale: %w", err)
	}
	if err := p.ledger.MarkTicketUsed(ctx, d.Ticket.Raw); err != nil {
		return fmt.Errorf("mark used: %w", err)
	}
	p.state.AddDigitalSale(d.Class, d.Price)
	return nil
}

// commitLegacy reprints the boarding pass, then persists the usage on
// the ticket channel.
func (p *Processor) commitLegacy(ctx context.Context, d *Decision) error {
	folio, err := p.ledger.NextFolio(ctx, farebox.ChannelTicket)
	if err != nil {
		return fmt.Errorf("draw folio: %w", err)
	}
	geoID, _ := p.state.Geofence()
	now := p.validator.now()
	sale := farebox.SaleRecord{
		Folio:         folio,
		TripFolio:     p.state.TripFolio(),
		Date:          d.Ticket.Date,
		Time:          now.Format("15:04:05"),
		GeofenceID:    geoID,
		PassengerType: d.PassengerID,
		Channel:       farebox.ChannelTicket,
		Service:       d.ServiceLabel,
	}
	if err := p.printer.PrintBoardingPass(sale, d.DirectedTo); err != nil {
		return fmt.Errorf("print boarding pass: %w", err)
	}
	if err := p.ledger.RecordSale(ctx, sale); err != nil {
		return fmt.Errorf("record sale: %w", err)
	}
	if err := p.ledger.MarkTicketUsed(ctx, d.Ticket.Raw); err != nil {
		return fmt.Errorf("mark used: %w", err)
	}
	p.state.AddTicketSale()
	return nil
}
