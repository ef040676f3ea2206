/*
 * This file is part of Loopdeck (https://github.com/loopdeck/loopdeck-engine).
 * Copyright (C) 2026 Loopdeck Contributors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

// Package nats bridges the engine to presentation layers over NATS: commands
// arrive on one subject, every observable state change goes out as a JSON
// snapshot on another.
package nats

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/loopdeck/loopdeck-engine/internal/engine"
	"github.com/loopdeck/loopdeck-engine/internal/logger"
)

const (
	// CommandSubject carries presentation-layer commands to the engine.
	CommandSubject = "loopdeck.cmd"

	// StateSubject carries engine state snapshots to subscribers.
	StateSubject = "loopdeck.state"
)

// Command is the wire format for presentation-layer commands.
type Command struct {
	Action string  `json:"action"`
	LoopID string  `json:"loop_id,omitempty"`
	Slot   int     `json:"slot,omitempty"`
	Value  float64 `json:"value,omitempty"`
	PortID string  `json:"port_id,omitempty"`
	Path   string  `json:"path,omitempty"`
}

// Conn is the subset of *nats.Conn the control surface needs, for
// dependency injection in tests.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Close()
}

// ConnAdapter adapts *nats.Conn to the Conn interface.
type ConnAdapter struct {
	conn *nats.Conn
}

func NewConnAdapter(conn *nats.Conn) *ConnAdapter {
	return &ConnAdapter{conn: conn}
}

func (a *ConnAdapter) Publish(subject string, data []byte) error {
	return a.conn.Publish(subject, data)
}

func (a *ConnAdapter) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	return a.conn.Subscribe(subject, cb)
}

func (a *ConnAdapter) Close() {
	a.conn.Close()
}

// EngineAPI is the command surface the bridge drives. *engine.Engine
// satisfies it.
type EngineAPI interface {
	ToggleRecord() error
	PlayLoop(id string) error
	StopLoop(id string) error
	PlayAll() error
	StopAll() error
	SetVolume(id string, v float64) error
	ToggleMute(id string) error
	ToggleSolo(id string) error
	DeleteLoop(id string) error
	SelectInput(id string) error
	SelectOutput(id string) error
	RecordSlot(index int) error
	StopSlotRecord() error
	AssignSlot(index int, externalPath string) error
	PlaySlot(index int) error
	RemoveSlot(index int) error
	ToggleEditMode() error
	State() engine.State
	Subscribe() <-chan engine.State
}

// Control runs the NATS bridge.
type Control struct {
	conn   Conn
	engine EngineAPI
	sub    *nats.Subscription
	stop   chan struct{}
}

// Connect dials NATS with retry and returns a ready control surface.
func Connect(natsURL string, api EngineAPI) (*Control, error) {
	var nc *nats.Conn
	var err error

	for i := 0; i < 5; i++ {
		nc, err = nats.Connect(natsURL)
		if err == nil {
			break
		}
		logger.Warn("failed to connect to NATS, retrying",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after retries: %w", err)
	}

	logger.Info("connected to NATS", zap.String("url", natsURL))
	return NewControl(NewConnAdapter(nc), api), nil
}

// NewControl builds a control surface over an existing connection.
func NewControl(conn Conn, api EngineAPI) *Control {
	return &Control{
		conn:   conn,
		engine: api,
		stop:   make(chan struct{}),
	}
}

// Start subscribes to the command subject and begins publishing state
// snapshots. The current state is published immediately so late joiners see
// something without waiting for a change.
func (c *Control) Start() error {
	sub, err := c.conn.Subscribe(CommandSubject, c.handleCommand)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", CommandSubject, err)
	}
	c.sub = sub

	c.publishState(c.engine.State())

	updates := c.engine.Subscribe()
	go func() {
		for {
			select {
			case <-c.stop:
				return
			case st := <-updates:
				c.publishState(st)
			}
		}
	}()

	logger.Info("control surface listening", zap.String("subject", CommandSubject))
	return nil
}

func (c *Control) publishState(st engine.State) {
	data, err := json.Marshal(st)
	if err != nil {
		logger.Warn("failed to encode state snapshot", zap.Error(err))
		return
	}
	if err := c.conn.Publish(StateSubject, data); err != nil {
		logger.Warn("failed to publish state snapshot", zap.Error(err))
	}
}

func (c *Control) handleCommand(msg *nats.Msg) {
	var cmd Command
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		logger.Warn("dropping malformed command", zap.Error(err))
		return
	}

	if err := c.dispatch(cmd); err != nil {
		// Command failures are observable through the state snapshot; the
		// reason is only logged.
		logger.Warn("command failed",
			zap.String("action", cmd.Action),
			zap.Error(err))
	}
}

func (c *Control) dispatch(cmd Command) error {
	switch cmd.Action {
	case "toggle-record":
		return c.engine.ToggleRecord()
	case "play":
		return c.engine.PlayLoop(cmd.LoopID)
	case "stop":
		return c.engine.StopLoop(cmd.LoopID)
	case "play-all":
		return c.engine.PlayAll()
	case "stop-all":
		return c.engine.StopAll()
	case "set-volume":
		return c.engine.SetVolume(cmd.LoopID, cmd.Value)
	case "mute":
		return c.engine.ToggleMute(cmd.LoopID)
	case "solo":
		return c.engine.ToggleSolo(cmd.LoopID)
	case "delete":
		return c.engine.DeleteLoop(cmd.LoopID)
	case "select-input":
		return c.engine.SelectInput(cmd.PortID)
	case "select-output":
		return c.engine.SelectOutput(cmd.PortID)
	case "record-slot":
		return c.engine.RecordSlot(cmd.Slot)
	case "stop-slot-record":
		return c.engine.StopSlotRecord()
	case "assign-slot":
		return c.engine.AssignSlot(cmd.Slot, cmd.Path)
	case "play-slot":
		return c.engine.PlaySlot(cmd.Slot)
	case "remove-slot":
		return c.engine.RemoveSlot(cmd.Slot)
	case "toggle-edit":
		return c.engine.ToggleEditMode()
	default:
		return fmt.Errorf("unknown action %q", cmd.Action)
	}
}

// Close tears the bridge down.
func (c *Control) Close() {
	close(c.stop)
	if c.sub != nil {
		_ = c.sub.Unsubscribe()
	}
	c.conn.Close()
}
