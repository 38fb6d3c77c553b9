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

// fareboxd is the on-bus fare collection daemon. It owns the NFC
// front-end, the QR scanner and the sale ledger, and takes operator
// commands over the control pipe.
package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/urbano-project/farebox"
	"github.com/urbano-project/farebox/arbiter"
	"github.com/urbano-project/farebox/config"
	"github.com/urbano-project/farebox/control"
	"github.com/urbano-project/farebox/fare"
	"github.com/urbano-project/farebox/feedback"
	"github.com/urbano-project/farebox/ledger"
	"github.com/urbano-project/farebox/poller"
	"github.com/urbano-project/farebox/qrscan"
	"github.com/urbano-project/farebox/radio"
	"github.com/urbano-project/farebox/telemetry"
)

func main() {
	configPath := flag.String("config", "/etc/farebox/config.yaml", "configuration file")
	envPath := flag.String("env", "", "optional env file with secrets")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if err := run(*configPath, *envPath, log); err != nil {
		log.WithError(err).Fatal("fareboxd exited")
	}
}

func run(configPath, envPath string, log *logrus.Logger) error {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := ledger.NewPG(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := telemetry.NewMQTT(cfg.MQTT, "farebox-"+cfg.Terminal.UnitID)
	if err != nil {
		log.WithError(err).Warn("stats broker unreachable, events will be dropped")
		stats = &telemetry.MQTT{}
	}
	defer func() { _ = stats.Close() }()

	var buzzer feedback.Buzzer = feedback.Noop{}
	if cfg.Buzzer.Chip != "" {
		b, err := feedback.NewGPIOBuzzer(cfg.Buzzer.Chip, cfg.Buzzer.Line)
		if err != nil {
			log.WithError(err).Warn("buzzer unavailable, running silent")
		} else {
			buzzer = b
			defer func() { _ = b.Close() }()
		}
	}

	link, cashOnly := openRadio(cfg.Radio, log)
	if link != nil {
		defer func() { _ = link.Close() }()
	}

	state := farebox.NewState(cfg.Terminal.UnitID)
	state.SetGeofence(cfg.Terminal.GeofenceID, cfg.Terminal.GeofenceName)
	arb := arbiter.New()

	validator := fare.NewValidator(state, store)
	processor := fare.NewProcessor(validator, state, store, nil, buzzer,
		log.WithField("component", "fare"))

	var wg sync.WaitGroup

	if !cashOnly {
		cards := poller.New(link, arb, state, stats, buzzer,
			log.WithField("component", "poller"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cards.Run(ctx)
		}()
	} else {
		log.Warn("radio unavailable, running cash-only: no card poller, no wallet payments")
	}

	if cfg.Scanner.Device != "" {
		scanner := qrscan.New(cfg.Scanner, qrscan.HandlerFunc(
			func(ctx context.Context, raw string) error {
				processor.Handle(ctx, raw)
				return nil
			}), log.WithField("component", "qrscan"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = scanner.Run(ctx)
		}()
	}

	app := &app{
		cfg:      cfg,
		link:     link,
		arb:      arb,
		state:    state,
		store:    store,
		buzzer:   buzzer,
		log:      log,
		cashOnly: cashOnly,
	}
	pipe, err := control.NewPipe(cfg.Terminal.ControlPipe, app,
		log.WithField("component", "control"))
	if err != nil {
		return err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = pipe.Run(ctx)
	}()

	log.WithFields(logrus.Fields{
		"unit":     cfg.Terminal.UnitID,
		"geofence": cfg.Terminal.GeofenceName,
		"cashOnly": cashOnly,
	}).Info("fareboxd running")

	<-ctx.Done()
	app.cancelBatch()
	wg.Wait()
	return nil
}

// openRadio brings up the configured transport. Any failure downgrades
// the terminal to cash-only instead of refusing to start: the QR flow
// must survive a dead reader.
func openRadio(cfg config.RadioConfig, log *logrus.Logger) (*radio.Link, bool) {
	var (
		transport radio.Transport
		err       error
	)
	switch cfg.Transport {
	case "uart":
		transport, err = radio.NewUART(cfg.Device, cfg.Baud)
	default:
		transport, err = radio.NewSPI(cfg.Device, 0)
	}
	if err != nil {
		log.WithError(err).Error("radio transport open failed")
		return nil, true
	}

	opts := []radio.Option{}
	if cfg.ResetChip != "" {
		line, err := radio.NewGPIOResetLine(cfg.ResetChip, cfg.ResetLine)
		if err != nil {
			log.WithError(err).Warn("reset line unavailable, hard resets disabled")
		} else {
			opts = append(opts, radio.WithResetLine(line))
		}
	}

	link, err := radio.NewLink(transport, opts...)
	if err != nil {
		log.WithError(err).Error("radio link init failed")
		_ = transport.Close()
		return nil, true
	}

	// Probe the controller; a silent one means no NFC this shift
	if _, err := link.FirmwareVersion(context.Background()); err != nil {
		log.WithError(err).Error("controller not responding")
		_ = link.Close()
		return nil, true
	}
	if err := link.Configure(context.Background()); err != nil {
		log.WithError(err).Error("controller configuration failed")
		_ = link.Close()
		return nil, true
	}
	return link, false
}
