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

// Package config loads the terminal configuration file. Secrets are not
// stored in the file; the DSN may reference environment variables that
// the deployment's env file provides.
package config

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"

	"github.com/urbano-project/farebox/qrscan"
	"github.com/urbano-project/farebox/telemetry"
)

// RadioConfig selects and addresses the NFC front-end
type RadioConfig struct {
	Transport string `yaml:"transport"` // "spi" or "uart"
	Device    string `yaml:"device"`    // port name or spireg path
	Baud      int    `yaml:"baud"`      // uart only
	ResetChip string `yaml:"reset_chip"`
	ResetLine int    `yaml:"reset_line"`
}

// BuzzerConfig addresses the feedback buzzer GPIO
type BuzzerConfig struct {
	Chip string `yaml:"chip"`
	Line int    `yaml:"line"`
}

// DatabaseConfig holds the ledger connection string. Environment
// references in the DSN are expanded at load time.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// TerminalConfig identifies the unit and its fare context
type TerminalConfig struct {
	UnitID       string  `yaml:"unit_id"`
	GeofenceID   int     `yaml:"geofence_id"`
	GeofenceName string  `yaml:"geofence_name"`
	FareID       string  `yaml:"fare_id"`
	Price        float64 `yaml:"price"`
	ControlPipe  string  `yaml:"control_pipe"`
}

// Config is the full terminal configuration
type Config struct {
	Radio    RadioConfig          `yaml:"radio"`
	Scanner  qrscan.Config        `yaml:"scanner"`
	Buzzer   BuzzerConfig         `yaml:"buzzer"`
	MQTT     telemetry.MQTTConfig `yaml:"mqtt"`
	Database DatabaseConfig       `yaml:"database"`
	Terminal TerminalConfig       `yaml:"terminal"`
}

// Load reads and validates the configuration at path
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.Database.DSN = os.ExpandEnv(cfg.Database.DSN)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Radio.Transport == "" {
		c.Radio.Transport = "spi"
	}
	if c.Radio.Baud == 0 {
		c.Radio.Baud = 115200
	}
	if c.Terminal.ControlPipe == "" {
		c.Terminal.ControlPipe = "/tmp/farebox.ctl"
	}
}

func (c *Config) validate() error {
	switch c.Radio.Transport {
	case "spi", "uart":
	default:
		return fmt.Errorf("config: unknown radio transport %q", c.Radio.Transport)
	}
	if c.Terminal.UnitID == "" {
		return fmt.Errorf("config: terminal unit_id is required")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database dsn is required")
	}
	return nil
}
