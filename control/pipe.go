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

// Package control exposes the operator command channel: a named pipe
// the driver console writes line commands into. The console process and
// the terminal share only this pipe, so a console crash never takes the
// fare flows down.
package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Command is one parsed console line: a verb plus its arguments.
// Known verbs: "hce" (start <count> <passenger>|cancel|ack),
// "trip" (<folio>), "geofence" (<id> <name>), "services" (rows).
type Command struct {
	Verb string
	Args []string
}

// Handler consumes parsed commands
type Handler interface {
	HandleCommand(ctx context.Context, cmd Command) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, cmd Command) error

// HandleCommand implements Handler
func (f HandlerFunc) HandleCommand(ctx context.Context, cmd Command) error {
	return f(ctx, cmd)
}

// Pipe owns the FIFO lifecycle
type Pipe struct {
	path    string
	handler Handler
	log     *logrus.Entry
}

// NewPipe creates the command pipe at path, creating the FIFO if it
// does not exist yet.
func NewPipe(path string, handler Handler, log *logrus.Entry) (*Pipe, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if err := unix.Mkfifo(path, 0o620); err != nil && !errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("mkfifo %s: %w", path, err)
	}
	return &Pipe{path: path, handler: handler, log: log}, nil
}

// Run reads commands until ctx is cancelled. The pipe is reopened after
// each writer hangs up; commands are dispatched synchronously in
// arrival order.
func (p *Pipe) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// O_RDWR keeps a writer reference alive so reads block instead
		// of spinning on EOF between console sessions.
		f, err := os.OpenFile(p.path, os.O_RDWR, 0)
		if err != nil {
			p.log.WithError(err).Warn("command pipe open failed")
			if !sleepCtx(ctx, time.Second) {
				return ctx.Err()
			}
			continue
		}

		// A FIFO read blocks indefinitely; closing the file from a
		// watcher goroutine is the only way to unblock it on shutdown.
		watcherDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = f.Close()
			case <-watcherDone:
			}
		}()

		err = p.readLoop(ctx, f)
		close(watcherDone)
		_ = f.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			p.log.WithError(err).Warn("command pipe read failed, reopening")
		}
	}
}

func (p *Pipe) readLoop(ctx context.Context, f *os.File) error {
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		cmd, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		if err := p.handler.HandleCommand(ctx, cmd); err != nil {
			p.log.WithError(err).WithField("verb", cmd.Verb).Warn("command failed")
		}
	}
	return scanner.Err()
}

// parseLine splits one console line into a command
func parseLine(line string) (Command, bool) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return Command{}, false
	}
	return Command{Verb: strings.ToLower(fields[0]), Args: fields[1:]}, true
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
