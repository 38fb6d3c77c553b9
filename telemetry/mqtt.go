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

package telemetry

import (
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// ErrPublishTimeout indicates the broker did not ack in time
var ErrPublishTimeout = errors.New("publish timed out")

// MQTTConfig holds broker connection settings
type MQTTConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
}

// MQTT publishes events to a broker topic. Construction with an empty
// host yields a disabled client so field units without connectivity keep
// working unchanged.
type MQTT struct {
	client  paho.Client
	topic   string
	enabled bool
}

// NewMQTT connects to the broker described by cfg
func NewMQTT(cfg MQTTConfig, clientID string) (*MQTT, error) {
	m := &MQTT{topic: cfg.Topic}
	if cfg.Host == "" {
		return m, nil
	}
	if m.topic == "" {
		m.topic = "farebox/stats"
	}
	if cfg.Port == 0 {
		cfg.Port = 1883
	}

	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	m.client = paho.NewClient(opts)
	token := m.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Host, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Host, err)
	}
	m.enabled = true
	return m, nil
}

// Publish implements Publisher. QoS 1, not retained; the broker dedupes
// on the event id.
func (m *MQTT) Publish(event Event) error {
	if !m.enabled {
		return nil
	}
	payload, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	token := m.client.Publish(m.topic, 1, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("mqtt publish: %w", ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}

// Close disconnects from the broker
func (m *MQTT) Close() error {
	if m.enabled {
		m.client.Disconnect(250)
	}
	return nil
}
