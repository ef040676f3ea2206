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

// Package soundboard implements the fixed 8-slot one-shot pad engine. Slots
// are independent of the loop system: no master-duration constraint, each
// pad simply restarts from zero on every trigger.
package soundboard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/loopdeck/loopdeck-engine/internal/audio"
	"github.com/loopdeck/loopdeck-engine/internal/logger"
	"github.com/loopdeck/loopdeck-engine/internal/loop"
	"github.com/loopdeck/loopdeck-engine/internal/record"
	"github.com/loopdeck/loopdeck-engine/internal/store"
	"github.com/loopdeck/loopdeck-engine/internal/wav"
)

// NumSlots is the fixed pad count.
const NumSlots = 8

// ErrBadSlot is returned for slot indexes outside [0, NumSlots).
var ErrBadSlot = errors.New("slot index out of range")

// ErrEmptySlot is returned when playing or removing an unassigned slot.
var ErrEmptySlot = errors.New("slot is empty")

// ErrRecordBusy is returned when a pad recording is already in progress.
var ErrRecordBusy = errors.New("pad recording already in progress")

// Slot is the presentation-facing view of one pad.
type Slot struct {
	Index    int    `json:"index"`
	Title    string `json:"title"`
	Assigned bool   `json:"assigned"`
	Playing  bool   `json:"playing"`
}

type slotState struct {
	path   string
	title  string
	audio  *wav.Audio // decoded lazily on first play
	player *loop.Player
}

// Board owns the eight pads.
type Board struct {
	backend    audio.AudioBackend
	assets     *store.Store
	sampleRate float64
	channels   int
	bufferSize int
	maxRecord  float64 // pad recording ceiling in seconds

	mu            sync.Mutex
	slots         [NumSlots]slotState
	editMode      bool
	recordingSlot int // -1 when idle
	capture       *record.Capture
	capturePath   string
	captureTimer  *time.Timer
	inputID       func() string
	outputID      func() string
	onChange      func()
}

// New creates a board with all slots empty.
func New(backend audio.AudioBackend, assets *store.Store, sampleRate float64, channels, bufferSize int, maxRecordSeconds float64) *Board {
	return &Board{
		backend:       backend,
		assets:        assets,
		sampleRate:    sampleRate,
		channels:      channels,
		bufferSize:    bufferSize,
		maxRecord:     maxRecordSeconds,
		recordingSlot: -1,
		inputID:       func() string { return "" },
		outputID:      func() string { return "" },
	}
}

// SetPortProviders installs the sources of the selected input/output ports.
func (b *Board) SetPortProviders(input, output func() string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if input != nil {
		b.inputID = input
	}
	if output != nil {
		b.outputID = output
	}
}

// SetOnChange installs a callback fired after asynchronous slot changes
// (recording completion, playback end).
func (b *Board) SetOnChange(f func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = f
}

func (b *Board) notify() {
	b.mu.Lock()
	cb := b.onChange
	b.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Record starts a bounded capture into a slot. The take auto-stops at the
// pad ceiling; StopRecord ends it earlier. Any previous assignment of the
// slot is replaced on success.
func (b *Board) Record(index int) error {
	if index < 0 || index >= NumSlots {
		return ErrBadSlot
	}

	b.mu.Lock()
	if b.recordingSlot >= 0 {
		b.mu.Unlock()
		return ErrRecordBusy
	}

	path := b.assets.NewRecordingPath()
	capture, err := record.StartCapture(b.backend, b.inputID(), path, b.sampleRate, b.channels, b.bufferSize)
	if err != nil {
		b.mu.Unlock()
		return fmt.Errorf("failed to start pad recording: %w", err)
	}

	b.recordingSlot = index
	b.capture = capture
	b.capturePath = path
	b.captureTimer = time.AfterFunc(time.Duration(b.maxRecord*float64(time.Second)), func() {
		if err := b.StopRecord(); err != nil {
			logger.Warn("pad auto-stop failed", zap.Error(err))
		}
		b.notify()
	})
	b.mu.Unlock()

	logger.Info("pad recording started",
		zap.Int("slot", index),
		zap.Float64("ceiling", b.maxRecord))
	return nil
}

// RecordingSlot returns the pad currently recording, or -1.
func (b *Board) RecordingSlot() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recordingSlot
}

// StopRecord finishes the in-flight pad capture, validates the file and
// assigns it into the slot. Idempotent when no pad recording is active.
func (b *Board) StopRecord() error {
	b.mu.Lock()
	if b.recordingSlot < 0 {
		b.mu.Unlock()
		return nil
	}
	index := b.recordingSlot
	capture := b.capture
	path := b.capturePath
	if b.captureTimer != nil {
		b.captureTimer.Stop()
		b.captureTimer = nil
	}
	b.recordingSlot = -1
	b.capture = nil
	b.capturePath = ""
	b.mu.Unlock()

	if err := capture.Stop(); err != nil {
		logger.Warn("pad capture teardown reported error", zap.Error(err))
	}

	if _, err := wav.Probe(path); err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("failed to remove invalid pad recording", zap.Error(rmErr))
		}
		logger.Warn("pad recording discarded", zap.Int("slot", index), zap.Error(err))
		return fmt.Errorf("%w: %v", record.ErrValidation, err)
	}

	title := fmt.Sprintf("Pad %d take", index+1)
	b.assign(index, path, title)
	logger.Info("pad recording assigned", zap.Int("slot", index))
	return nil
}

// Assign copies an externally chosen file into durable storage and binds it
// to the slot, keeping the original filename as the display title.
func (b *Board) Assign(index int, externalPath string) error {
	if index < 0 || index >= NumSlots {
		return ErrBadSlot
	}

	dest, err := b.assets.Import(externalPath)
	if err != nil {
		logger.Warn("pad import failed", zap.Int("slot", index), zap.Error(err))
		return err
	}

	b.assign(index, dest, filepath.Base(externalPath))
	logger.Info("pad assigned from file",
		zap.Int("slot", index),
		zap.String("title", filepath.Base(externalPath)))
	return nil
}

// assign swaps the slot contents, stopping any active playback and deleting
// the previous backing file.
func (b *Board) assign(index int, path, title string) {
	b.mu.Lock()
	old := b.slots[index]
	b.slots[index] = slotState{path: path, title: title}
	b.mu.Unlock()

	if old.player != nil {
		old.player.Stop()
	}
	if old.path != "" {
		if err := b.assets.Remove(old.path); err != nil {
			logger.Warn("failed to delete replaced pad file", zap.Error(err))
		}
	}
}

// Play triggers a pad from position zero. A pad never overlaps with itself:
// an already-sounding instance is cut off first.
func (b *Board) Play(index int) error {
	if index < 0 || index >= NumSlots {
		return ErrBadSlot
	}

	b.mu.Lock()
	s := &b.slots[index]
	if s.path == "" {
		b.mu.Unlock()
		return ErrEmptySlot
	}
	decoded := s.audio
	path := s.path
	out := b.outputID()
	prev := s.player
	s.player = nil
	b.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}

	if decoded == nil {
		var err error
		decoded, err = wav.Decode(path)
		if err != nil {
			logger.Warn("pad decode failed", zap.Int("slot", index), zap.Error(err))
			return fmt.Errorf("failed to decode pad %d: %w", index, err)
		}
	}

	stream, err := b.backend.CreateOutputStream(out, float64(decoded.SampleRate), decoded.Channels, b.bufferSize)
	if err != nil {
		return fmt.Errorf("failed to open pad playback stream: %w", err)
	}

	player := loop.NewPlayer(stream, decoded.Samples, decoded.Channels, b.bufferSize, false, 1.0)
	if err := player.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("failed to start pad playback: %w", err)
	}

	b.mu.Lock()
	if b.slots[index].path != path {
		// Slot was reassigned while we were decoding; drop this playback.
		b.mu.Unlock()
		player.Stop()
		return nil
	}
	b.slots[index].audio = decoded
	b.slots[index].player = player
	b.mu.Unlock()

	go func() {
		<-player.Done()
		b.mu.Lock()
		if b.slots[index].player == player {
			b.slots[index].player = nil
		}
		b.mu.Unlock()
		b.notify()
	}()
	return nil
}

// Remove deletes the slot's backing file and resets it to empty.
func (b *Board) Remove(index int) error {
	if index < 0 || index >= NumSlots {
		return ErrBadSlot
	}

	b.mu.Lock()
	s := b.slots[index]
	if s.path == "" {
		b.mu.Unlock()
		return ErrEmptySlot
	}
	b.slots[index] = slotState{}
	b.mu.Unlock()

	if s.player != nil {
		s.player.Stop()
	}
	if err := b.assets.Remove(s.path); err != nil {
		logger.Warn("failed to delete pad file", zap.Int("slot", index), zap.Error(err))
	}
	logger.Info("pad cleared", zap.Int("slot", index))
	return nil
}

// ToggleEditMode flips the edit-mode flag. Edit mode only changes which
// action a pad tap performs in the presentation layer.
func (b *Board) ToggleEditMode() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.editMode = !b.editMode
	return b.editMode
}

// EditMode reports the edit-mode flag.
func (b *Board) EditMode() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.editMode
}

// States returns the presentation view of all pads.
func (b *Board) States() []Slot {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Slot, NumSlots)
	for i, s := range b.slots {
		out[i] = Slot{
			Index:    i,
			Title:    s.title,
			Assigned: s.path != "",
			Playing:  s.player != nil,
		}
	}
	return out
}

// Entries exports the assigned slots for the manifest.
func (b *Board) Entries() []store.SlotEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []store.SlotEntry
	for i, s := range b.slots {
		if s.path != "" {
			out = append(out, store.SlotEntry{Index: i, Path: s.path, Title: s.title})
		}
	}
	return out
}

// Restore re-attaches persisted slot assignments at startup.
func (b *Board) Restore(entries []store.SlotEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range entries {
		if e.Index < 0 || e.Index >= NumSlots {
			continue
		}
		b.slots[e.Index] = slotState{path: e.Path, title: e.Title}
	}
}
