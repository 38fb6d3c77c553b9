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

package main

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
	"github.com/urbano-project/farebox/config"
	"github.com/urbano-project/farebox/control"
	"github.com/urbano-project/farebox/fare"
	"github.com/urbano-project/farebox/feedback"
	"github.com/urbano-project/farebox/hce"
	"github.com/urbano-project/farebox/ledger"
	"github.com/urbano-project/farebox/radio"
)

// app dispatches operator commands and owns the wallet batch lifecycle
type app struct {
	cfg      *config.Config
	link     *radio.Link
	arb      *arbiter.Arbiter
	state    *farebox.State
	store    *ledger.PG
	buzzer   feedback.Buzzer
	log      *logrus.Logger
	cashOnly bool

	mu     sync.Mutex
	engine *hce.Engine
}

// HandleCommand implements control.Handler
func (a *app) HandleCommand(ctx context.Context, cmd control.Command) error {
	switch cmd.Verb {
	case "hce":
		return a.handleHCE(ctx, cmd.Args)
	case "trip":
		if len(cmd.Args) != 1 {
			return fmt.Errorf("trip: want <folio>")
		}
		a.state.SetTripFolio(cmd.Args[0])
		return nil
	case "geofence":
		if len(cmd.Args) < 2 {
			return fmt.Errorf("geofence: want <id> <name>")
		}
		id, err := strconv.Atoi(cmd.Args[0])
		if err != nil {
			return fmt.Errorf("geofence: bad id %q", cmd.Args[0])
		}
		a.state.SetGeofence(id, cmd.Args[1])
		return nil
	case "services":
		services, transfers, err := parseServiceTables(cmd.Args)
		if err != nil {
			return err
		}
		a.state.SetServices(services, transfers)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd.Verb)
	}
}

func (a *app) handleHCE(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("hce: want start|cancel|ack")
	}
	switch args[0] {
	case "start":
		if a.cashOnly {
			return fmt.Errorf("hce: terminal is cash-only")
		}
		if len(args) < 3 {
			return fmt.Errorf("hce start: want <count> <passenger> [destination]")
		}
		count, err := strconv.Atoi(args[1])
		if err != nil || count < 1 {
			return fmt.Errorf("hce start: bad count %q", args[1])
		}
		destination := ""
		if len(args) > 3 {
			destination = args[3]
		}
		return a.startBatch(ctx, count, strings.ToLower(args[2]), destination)
	case "cancel":
		a.cancelBatch()
		return nil
	case "ack":
		a.mu.Lock()
		engine := a.engine
		a.mu.Unlock()
		if engine != nil {
			engine.Acknowledge()
		}
		return nil
	default:
		return fmt.Errorf("hce: unknown subcommand %q", args[0])
	}
}

// startBatch launches a wallet payment batch. Only one batch runs at a
// time; starting over a live one is refused rather than queued.
func (a *app) startBatch(ctx context.Context, count int, passengerType, destination string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.engine != nil {
		return fmt.Errorf("hce start: batch already running")
	}
	if a.state.TripFolio() == "" {
		return fmt.Errorf("hce start: no active trip")
	}

	passengerID, class := fare.PassengerCode(passengerType)
	cfg := hce.Config{
		TotalPayments:    count,
		Price:            a.cfg.Terminal.Price,
		FareID:           a.cfg.Terminal.FareID,
		GeofenceID:       a.cfg.Terminal.GeofenceID,
		PassengerType:    passengerID,
		PassengerSetting: class,
		TripFolio:        a.state.TripFolio(),
		Origin:           a.cfg.Terminal.GeofenceName,
		Destination:      destination,
	}
	if svc, ok := a.state.ResolveService(destination, false); ok {
		cfg.Service = svc.Label()
	}

	engine := hce.New(a.link, a.arb, a.state, a.store, a.buzzer, cfg,
		a.log.WithField("component", "hce"))
	a.engine = engine

	go a.consumeEvents(engine)
	go func() {
		if err := engine.Run(ctx); err != nil {
			a.log.WithError(err).Warn("wallet batch ended")
		}
		a.mu.Lock()
		a.engine = nil
		a.mu.Unlock()
	}()
	return nil
}

func (a *app) consumeEvents(engine *hce.Engine) {
	for ev := range engine.Events() {
		switch ev.Kind {
		case hce.EventPaid:
			a.log.WithFields(logrus.Fields{
				"folio":     ev.Folio,
				"wallet":    ev.WalletID,
				"balance":   ev.BalanceAfter,
				"remaining": ev.Remaining,
			}).Info("wallet payment collected")
		case hce.EventRetry:
			a.log.WithFields(logrus.Fields{
				"folio":   ev.Folio,
				"attempt": ev.Attempt,
			}).Info("wallet not answering, retrying")
		case hce.EventFailed:
			a.log.WithError(ev.Err).WithField("folio", ev.Folio).
				Warn("wallet payment failed")
		case hce.EventInitError:
			a.log.WithError(ev.Err).Error("wallet batch could not start, take cash")
		case hce.EventDone:
			a.log.Info("wallet batch complete")
		}
	}
}

// cancelBatch stops a running wallet batch. The radio gets a hard reset
// so the poller resumes from a clean controller; when the engine still
// holds the token the reset is deferred to whoever owns the link next.
func (a *app) cancelBatch() {
	a.mu.Lock()
	engine := a.engine
	a.mu.Unlock()
	if engine == nil {
		return
	}
	engine.Stop()

	if a.link == nil {
		return
	}
	if err := a.arb.Acquire("cancel", 200*time.Millisecond); err != nil {
		a.arb.RequestReset()
		return
	}
	a.link.HardReset()
	if err := a.link.Configure(context.Background()); err != nil {
		a.log.WithError(err).Warn("radio reconfigure after cancel failed")
	}
	a.arb.Release()
}

// parseServiceTables decodes "services" arguments. Each row is
// number:origin:destination; a literal "--" switches from the services
// table to the transfers table.
func parseServiceTables(args []string) (services, transfers []farebox.Service, err error) {
	target := &services
	for _, arg := range args {
		if arg == "--" {
			target = &transfers
			continue
		}
		parts := strings.SplitN(arg, ":", 3)
		if len(parts) != 3 {
			return nil, nil, fmt.Errorf("services: bad row %q", arg)
		}
		*target = append(*target, farebox.Service{
			Number:      parts[0],
			Origin:      parts[1],
			Destination: parts[2],
		})
	}
	return services, transfers, nil
}
