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

// Package route tracks available audio hardware ports and the current
// selection in each direction, reacting to hotplug events from the backend.
package route

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/loopdeck/loopdeck-engine/internal/audio"
	"github.com/loopdeck/loopdeck-engine/internal/logger"
)

// ErrUnknownPort is returned when a selection names a port that is not in
// the current available set.
var ErrUnknownPort = errors.New("port not available")

// Port describes one selectable hardware port.
type Port struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Default bool   `json:"default"`
}

// Manager owns the port lists and selections. Lists are rebuilt on every
// route-change notification; a selection survives re-enumeration as long as
// its port is still present, otherwise it falls back to the new default.
type Manager struct {
	backend audio.AudioBackend

	mu         sync.Mutex
	inputs     []Port
	outputs    []Port
	currentIn  Port
	currentOut Port
	onChange   func()
	stop       chan struct{}
	stopped    sync.WaitGroup
}

// NewManager builds the manager and performs the initial enumeration.
func NewManager(backend audio.AudioBackend) *Manager {
	m := &Manager{
		backend: backend,
		stop:    make(chan struct{}),
	}
	m.refresh()
	return m
}

// SetOnChange installs a callback fired after any route change has been
// absorbed. The engine uses it to republish state.
func (m *Manager) SetOnChange(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = f
}

// Start begins consuming hardware route-change notifications.
func (m *Manager) Start() {
	m.stopped.Add(1)
	go func() {
		defer m.stopped.Done()
		for {
			select {
			case <-m.stop:
				return
			case change := <-m.backend.RouteChanges():
				m.HandleRouteChange(change)
			}
		}
	}()
}

// Close stops the notification consumer.
func (m *Manager) Close() {
	close(m.stop)
	m.stopped.Wait()
}

// HandleRouteChange re-queries the port lists and reconciles the current
// selections. Exposed for direct use in tests.
func (m *Manager) HandleRouteChange(change audio.RouteChange) {
	logger.Info("audio route changed",
		zap.String("reason", string(change.Reason)),
		zap.Int("added", len(change.Added)),
		zap.Int("removed", len(change.Removed)))

	m.refresh()

	m.mu.Lock()
	cb := m.onChange
	m.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// refresh rebuilds both port lists, preserving a still-present selection and
// falling back to the new default when the selected port vanished.
func (m *Manager) refresh() {
	inputs := m.queryPorts(true)
	outputs := m.queryPorts(false)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.inputs = inputs
	m.outputs = outputs
	m.currentIn = reconcile(m.currentIn, inputs, "input")
	m.currentOut = reconcile(m.currentOut, outputs, "output")
}

func (m *Manager) queryPorts(input bool) []Port {
	var devices []audio.Device
	var err error
	if input {
		devices, err = m.backend.InputDevices()
	} else {
		devices, err = m.backend.OutputDevices()
	}
	if err != nil {
		logger.Warn("failed to enumerate ports", zap.Bool("input", input), zap.Error(err))
		return nil
	}

	ports := make([]Port, 0, len(devices))
	for _, d := range devices {
		ports = append(ports, Port{ID: d.ID, Name: d.Name, Default: d.IsDefault})
	}
	return ports
}

// reconcile keeps a prior selection that is still available; otherwise the
// direction's default takes over.
func reconcile(current Port, available []Port, direction string) Port {
	if current.ID != "" {
		for _, p := range available {
			if p.ID == current.ID {
				return p
			}
		}
		logger.Warn("selected port vanished, falling back to default",
			zap.String("direction", direction),
			zap.String("port", current.Name))
	}
	return defaultPort(available)
}

func defaultPort(ports []Port) Port {
	for _, p := range ports {
		if p.Default {
			return p
		}
	}
	if len(ports) > 0 {
		return ports[0]
	}
	return Port{}
}

// Inputs returns the available capture ports.
func (m *Manager) Inputs() []Port {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Port, len(m.inputs))
	copy(out, m.inputs)
	return out
}

// Outputs returns the available playback ports.
func (m *Manager) Outputs() []Port {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Port, len(m.outputs))
	copy(out, m.outputs)
	return out
}

// CurrentInput returns the selected capture port.
func (m *Manager) CurrentInput() Port {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentIn
}

// CurrentOutput returns the selected playback port.
func (m *Manager) CurrentOutput() Port {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentOut
}

// SelectInput applies a preferred capture port. The lists are re-read first;
// the hardware may not honor the exact request, so the result is whatever
// the reconciled selection ends up being.
func (m *Manager) SelectInput(id string) error {
	return m.selectPort(id, true)
}

// SelectOutput applies a preferred playback port.
func (m *Manager) SelectOutput(id string) error {
	return m.selectPort(id, false)
}

func (m *Manager) selectPort(id string, input bool) error {
	// Re-enumerate so the selection is validated against live hardware, not
	// a stale snapshot.
	ports := m.queryPorts(input)

	m.mu.Lock()
	defer m.mu.Unlock()

	if input {
		m.inputs = ports
	} else {
		m.outputs = ports
	}

	for _, p := range ports {
		if p.ID == id {
			if input {
				m.currentIn = p
			} else {
				m.currentOut = p
			}
			logger.Info("port selected", zap.Bool("input", input), zap.String("port", p.Name))
			return nil
		}
	}

	// Requested port is gone; fall back rather than keep a dangling selection
	if input {
		m.currentIn = defaultPort(ports)
	} else {
		m.currentOut = defaultPort(ports)
	}
	return ErrUnknownPort
}
