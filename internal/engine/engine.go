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

// Package engine exposes the looper as one explicit object owning all
// mutable state. Commands from any goroutine are serialized onto a single
// worker, and every observable change is published as an immutable state
// snapshot, so presentation layers subscribe instead of reading internals.
package engine

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/loopdeck/loopdeck-engine/internal/audio"
	"github.com/loopdeck/loopdeck-engine/internal/config"
	"github.com/loopdeck/loopdeck-engine/internal/logger"
	"github.com/loopdeck/loopdeck-engine/internal/loop"
	"github.com/loopdeck/loopdeck-engine/internal/record"
	"github.com/loopdeck/loopdeck-engine/internal/route"
	"github.com/loopdeck/loopdeck-engine/internal/soundboard"
	"github.com/loopdeck/loopdeck-engine/internal/store"
)

// ErrClosed is returned for commands issued after shutdown.
var ErrClosed = errors.New("engine closed")

// ErrRecorderBusy is returned when a second recording path is requested
// while one is active.
var ErrRecorderBusy = errors.New("a recording is already in progress")

// State is the full observable engine state, published on every change.
type State struct {
	Recording      bool              `json:"recording"`
	RecordingSlot  int               `json:"recording_slot"` // -1 when no pad capture
	Playing        bool              `json:"playing"`
	MasterDuration float64           `json:"master_duration"` // 0 when unset
	MasterSet      bool              `json:"master_set"`
	Loops          []loop.State      `json:"loops"`
	Slots          []soundboard.Slot `json:"slots"`
	EditMode       bool              `json:"edit_mode"`
	Inputs         []route.Port      `json:"inputs"`
	Outputs        []route.Port      `json:"outputs"`
	CurrentInput   route.Port        `json:"current_input"`
	CurrentOutput  route.Port        `json:"current_output"`
}

// Engine wires the recorder, mixer, soundboard and route manager together.
type Engine struct {
	backend  audio.AudioBackend
	assets   *store.Store
	clock    *loop.Clock
	mixer    *loop.Mixer
	recorder *record.Recorder
	board    *soundboard.Board
	routes   *route.Manager

	cmds   chan func()
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	syncMu  sync.Mutex
	stateMu sync.RWMutex
	state   State

	subsMu sync.Mutex
	subs   []chan State
}

// New builds the engine, re-attaches persisted assets and starts the
// command worker. The backend must already be initialized.
func New(backend audio.AudioBackend, cfg *config.Config) (*Engine, error) {
	assets, err := store.New(cfg.StorageDir)
	if err != nil {
		return nil, err
	}

	clock := loop.NewClock()
	mixer := loop.NewMixer(backend, assets, clock, cfg.SampleRate, cfg.Channels, cfg.FramesPerBuffer)
	recorder := record.NewRecorder(backend, assets, clock, mixer, cfg.SampleRate, cfg.Channels, cfg.FramesPerBuffer)
	board := soundboard.New(backend, assets, cfg.SampleRate, cfg.Channels, cfg.FramesPerBuffer, cfg.PadMaxSeconds)
	routes := route.NewManager(backend)

	e := &Engine{
		backend:  backend,
		assets:   assets,
		clock:    clock,
		mixer:    mixer,
		recorder: recorder,
		board:    board,
		routes:   routes,
		cmds:     make(chan func()),
		closed:   make(chan struct{}),
	}

	// Routing is hardware-level: players and captures open their streams on
	// whatever port is currently selected.
	mixer.SetOutputProvider(func() string { return routes.CurrentOutput().ID })
	recorder.SetInputProvider(func() string { return routes.CurrentInput().ID })
	board.SetPortProviders(
		func() string { return routes.CurrentInput().ID },
		func() string { return routes.CurrentOutput().ID },
	)

	// Asynchronous events republish state on their own.
	recorder.SetAutoStopHook(e.sync)
	board.SetOnChange(e.sync)
	routes.SetOnChange(e.sync)

	e.restore()

	e.wg.Add(1)
	go e.run()
	routes.Start()

	e.sync()
	return e, nil
}

// restore re-attaches the manifest's surviving assets. The master duration
// is re-derived from the first re-attached loop.
func (e *Engine) restore() {
	m, err := e.assets.LoadManifest()
	if err != nil {
		logger.Warn("failed to load manifest, starting empty", zap.Error(err))
		return
	}

	for _, entry := range m.Loops {
		l := &loop.Loop{ID: entry.ID, Path: entry.Path, Duration: entry.Duration, Volume: entry.Volume}
		if first := e.mixer.Add(l); first {
			logger.Info("master loop duration restored", zap.Float64("seconds", l.Duration))
		}
	}
	e.board.Restore(m.Slots)

	if len(m.Loops) > 0 || len(m.Slots) > 0 {
		logger.Info("restored persisted assets",
			zap.Int("loops", len(m.Loops)),
			zap.Int("slots", len(m.Slots)))
	}
}

func (e *Engine) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.closed:
			return
		case cmd := <-e.cmds:
			cmd()
		}
	}
}

// do serializes a mutation onto the command worker and waits for its result.
// The state snapshot is republished before the caller resumes, so a command
// followed by State() always observes its own effect.
func (e *Engine) do(f func() error) error {
	errCh := make(chan error, 1)
	select {
	case e.cmds <- func() {
		err := f()
		e.sync()
		errCh <- err
	}:
		return <-errCh
	case <-e.closed:
		return ErrClosed
	}
}

// sync rebuilds the snapshot, persists the manifest and notifies
// subscribers. Safe from any goroutine.
func (e *Engine) sync() {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	d, set := e.clock.Duration()
	st := State{
		Recording:      e.recorder.IsRecording(),
		RecordingSlot:  e.board.RecordingSlot(),
		Playing:        e.mixer.Playing(),
		MasterDuration: d,
		MasterSet:      set,
		Loops:          e.mixer.States(),
		Slots:          e.board.States(),
		EditMode:       e.board.EditMode(),
		Inputs:         e.routes.Inputs(),
		Outputs:        e.routes.Outputs(),
		CurrentInput:   e.routes.CurrentInput(),
		CurrentOutput:  e.routes.CurrentOutput(),
	}

	e.stateMu.Lock()
	e.state = st
	e.stateMu.Unlock()

	e.persist()

	e.subsMu.Lock()
	for _, ch := range e.subs {
		// Never block a slow subscriber; it will catch up on the next change.
		select {
		case ch <- st:
		default:
		}
	}
	e.subsMu.Unlock()
}

func (e *Engine) persist() {
	m := &store.Manifest{
		Loops: e.mixer.ManifestEntries(),
		Slots: e.board.Entries(),
	}
	if err := e.assets.SaveManifest(m); err != nil {
		logger.Warn("failed to persist manifest", zap.Error(err))
	}
}

// State returns the latest published snapshot.
func (e *Engine) State() State {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

// Subscribe returns a channel of state snapshots. The current state is not
// replayed; call State() for it.
func (e *Engine) Subscribe() <-chan State {
	ch := make(chan State, 16)
	e.subsMu.Lock()
	e.subs = append(e.subs, ch)
	e.subsMu.Unlock()
	return ch
}

// ToggleRecord starts a loop recording, or stops and commits the one in
// flight. Failures are logged and leave the engine ready to retry; they are
// still returned for callers that want the reason.
func (e *Engine) ToggleRecord() error {
	return e.do(func() error {
		if e.recorder.IsRecording() {
			_, err := e.recorder.Stop()
			return err
		}
		if e.board.RecordingSlot() >= 0 {
			logger.Warn("record refused: pad capture active")
			return ErrRecorderBusy
		}
		return e.recorder.Start()
	})
}

// PlayLoop starts one-shot playback of a loop.
func (e *Engine) PlayLoop(id string) error {
	return e.do(func() error {
		return e.mixer.Play(id, false, func(string) { e.sync() })
	})
}

// StopLoop halts playback of a loop.
func (e *Engine) StopLoop(id string) error {
	return e.do(func() error {
		e.mixer.Stop(id)
		return nil
	})
}

// PlayAll starts the full accompaniment mix.
func (e *Engine) PlayAll() error {
	return e.do(e.mixer.PlayAll)
}

// StopAll halts every playing loop.
func (e *Engine) StopAll() error {
	return e.do(func() error {
		e.mixer.StopAll()
		return nil
	})
}

// SetVolume updates a loop's stored volume.
func (e *Engine) SetVolume(id string, v float64) error {
	return e.do(func() error { return e.mixer.SetVolume(id, v) })
}

// ToggleMute flips a loop's mute state.
func (e *Engine) ToggleMute(id string) error {
	return e.do(func() error { return e.mixer.ToggleMute(id) })
}

// ToggleSolo flips the solo target.
func (e *Engine) ToggleSolo(id string) error {
	return e.do(func() error { return e.mixer.ToggleSolo(id) })
}

// DeleteLoop removes a loop and its backing file.
func (e *Engine) DeleteLoop(id string) error {
	return e.do(func() error { return e.mixer.Delete(id) })
}

// SelectInput applies a preferred capture port.
func (e *Engine) SelectInput(id string) error {
	return e.do(func() error { return e.routes.SelectInput(id) })
}

// SelectOutput applies a preferred playback port.
func (e *Engine) SelectOutput(id string) error {
	return e.do(func() error { return e.routes.SelectOutput(id) })
}

// RecordSlot starts a bounded pad capture.
func (e *Engine) RecordSlot(index int) error {
	return e.do(func() error {
		if e.recorder.IsRecording() {
			logger.Warn("pad record refused: loop recording active")
			return ErrRecorderBusy
		}
		return e.board.Record(index)
	})
}

// StopSlotRecord ends a pad capture before the ceiling.
func (e *Engine) StopSlotRecord() error {
	return e.do(e.board.StopRecord)
}

// AssignSlot imports an external file into a pad.
func (e *Engine) AssignSlot(index int, externalPath string) error {
	return e.do(func() error { return e.board.Assign(index, externalPath) })
}

// PlaySlot triggers a pad from position zero.
func (e *Engine) PlaySlot(index int) error {
	return e.do(func() error { return e.board.Play(index) })
}

// RemoveSlot clears a pad and deletes its file.
func (e *Engine) RemoveSlot(index int) error {
	return e.do(func() error { return e.board.Remove(index) })
}

// ToggleEditMode flips the soundboard edit-mode flag.
func (e *Engine) ToggleEditMode() error {
	return e.do(func() error {
		e.board.ToggleEditMode()
		return nil
	})
}

// Close stops all activity and shuts the worker down.
func (e *Engine) Close() {
	e.once.Do(func() {
		if e.recorder.IsRecording() {
			if _, err := e.recorder.Stop(); err != nil {
				logger.Warn("final recording discarded on shutdown", zap.Error(err))
			}
		}
		_ = e.board.StopRecord()
		e.mixer.StopAll()
		e.routes.Close()
		close(e.closed)
		e.wg.Wait()
	})
}
