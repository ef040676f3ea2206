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

package loop

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/loopdeck/loopdeck-engine/internal/audio"
	"github.com/loopdeck/loopdeck-engine/internal/logger"
	"github.com/loopdeck/loopdeck-engine/internal/store"
	"github.com/loopdeck/loopdeck-engine/internal/wav"
)

// ErrNoMasterDuration is returned by PlayAll before any loop has been
// recorded.
var ErrNoMasterDuration = errors.New("no master loop duration set")

// ErrUnknownLoop is returned for operations on a loop id the mixer does not
// own.
var ErrUnknownLoop = errors.New("unknown loop id")

// Mixer owns the loop collection and all active playback instances. The
// effective output volume of any loop is a pure function of its stored
// volume, the mute set and the solo target; every mutation of those three
// recomputes live player volumes inside one critical section so players can
// never be observed with a stale level.
type Mixer struct {
	backend    audio.AudioBackend
	assets     *store.Store
	clock      *Clock
	sampleRate float64
	channels   int
	bufferSize int

	mu       sync.Mutex
	loops    []*Loop
	players  map[string]*Player
	muted    map[string]bool
	solo     string
	outputID func() string
}

// NewMixer creates an empty mixer.
func NewMixer(backend audio.AudioBackend, assets *store.Store, clock *Clock, sampleRate float64, channels, bufferSize int) *Mixer {
	return &Mixer{
		backend:    backend,
		assets:     assets,
		clock:      clock,
		sampleRate: sampleRate,
		channels:   channels,
		bufferSize: bufferSize,
		players:    make(map[string]*Player),
		muted:      make(map[string]bool),
		outputID:   func() string { return "" },
	}
}

// SetOutputProvider installs the source of the currently selected output
// port. New playback instances open their stream on that port.
func (m *Mixer) SetOutputProvider(f func() string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f != nil {
		m.outputID = f
	}
}

// Add appends a validated loop to the collection. The first loop of an empty
// collection fixes the master duration. Returns true when this loop set it.
func (m *Mixer) Add(l *Loop) bool {
	m.mu.Lock()
	m.loops = append(m.loops, l)
	m.mu.Unlock()
	return m.clock.Set(l.Duration)
}

// Count returns the number of stored loops.
func (m *Mixer) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loops)
}

// States returns the presentation view of every loop, in insertion order.
func (m *Mixer) States() []State {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]State, 0, len(m.loops))
	for _, l := range m.loops {
		out = append(out, State{
			ID:       l.ID,
			Duration: l.Duration,
			Volume:   l.Volume,
			Muted:    m.muted[l.ID],
			Soloed:   m.solo == l.ID,
			Playing:  m.players[l.ID] != nil,
		})
	}
	return out
}

// ManifestEntries exports the collection for persistence.
func (m *Mixer) ManifestEntries() []store.LoopEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]store.LoopEntry, 0, len(m.loops))
	for _, l := range m.loops {
		out = append(out, store.LoopEntry{ID: l.ID, Path: l.Path, Duration: l.Duration, Volume: l.Volume})
	}
	return out
}

// Playing reports whether any loop has an active playback instance.
func (m *Mixer) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.players) > 0
}

// Play starts (or, when already active, leaves running) playback of one
// loop. With indefinite true the loop repeats forever and onFinish is
// ignored; otherwise onFinish fires exactly once when playback ends
// naturally.
func (m *Mixer) Play(id string, indefinite bool, onFinish func(id string)) error {
	m.mu.Lock()
	l := m.find(id)
	if l == nil {
		m.mu.Unlock()
		return ErrUnknownLoop
	}
	if m.players[id] != nil {
		// Already active; playback resumes on its own.
		m.mu.Unlock()
		logger.Debug("loop already playing", zap.String("loop", id))
		return nil
	}
	path := l.Path
	out := m.outputID()
	m.mu.Unlock()

	// Decode outside the lock; files are short but disk I/O must not stall
	// concurrent mute/solo commands.
	decoded, err := wav.Decode(path)
	if err != nil {
		return fmt.Errorf("failed to decode loop %s: %w", id, err)
	}

	stream, err := m.backend.CreateOutputStream(out, float64(decoded.SampleRate), decoded.Channels, m.bufferSize)
	if err != nil {
		return fmt.Errorf("failed to open playback stream: %w", err)
	}

	m.mu.Lock()
	if m.find(id) == nil {
		// Deleted while we were decoding; don't resurrect it.
		m.mu.Unlock()
		_ = stream.Close()
		return ErrUnknownLoop
	}
	if m.players[id] != nil {
		// Lost the race to another Play for the same loop.
		m.mu.Unlock()
		_ = stream.Close()
		return nil
	}
	player := NewPlayer(stream, decoded.Samples, decoded.Channels, m.bufferSize, indefinite, m.effectiveVolumeLocked(id))
	if err := player.Start(); err != nil {
		m.mu.Unlock()
		_ = stream.Close()
		return fmt.Errorf("failed to start playback: %w", err)
	}
	m.players[id] = player
	m.mu.Unlock()

	go m.reap(id, player, onFinish)
	return nil
}

// reap waits for a player's terminal event, removes it from the active map
// and fires the finish callback for natural completions.
func (m *Mixer) reap(id string, p *Player, onFinish func(id string)) {
	<-p.Done()

	m.mu.Lock()
	if m.players[id] == p {
		delete(m.players, id)
	}
	m.mu.Unlock()

	if p.Completed() && onFinish != nil {
		onFinish(id)
	}
}

// Stop halts playback of one loop and releases its player. Idempotent when
// the loop is not playing.
func (m *Mixer) Stop(id string) {
	m.mu.Lock()
	p := m.players[id]
	delete(m.players, id)
	m.mu.Unlock()

	if p != nil {
		p.Stop()
	}
}

// StopAll halts every active playback instance.
func (m *Mixer) StopAll() {
	m.mu.Lock()
	players := make([]*Player, 0, len(m.players))
	for _, p := range m.players {
		players = append(players, p)
	}
	m.players = make(map[string]*Player)
	m.mu.Unlock()

	for _, p := range players {
		p.Stop()
	}
}

// PlayAll starts every stored loop in indefinite mode simultaneously: the
// full-mix accompaniment. Refused while no master duration exists.
func (m *Mixer) PlayAll() error {
	if _, ok := m.clock.Duration(); !ok {
		logger.Warn("play-all refused: no master loop duration")
		return ErrNoMasterDuration
	}

	m.mu.Lock()
	ids := make([]string, 0, len(m.loops))
	for _, l := range m.loops {
		ids = append(ids, l.ID)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Play(id, true, nil); err != nil {
			logger.Warn("failed to start loop for play-all", zap.String("loop", id), zap.Error(err))
		}
	}
	return nil
}

// SetVolume updates a loop's stored volume and, when active, its live
// output level. Mute/solo still apply on top of the stored level.
func (m *Mixer) SetVolume(id string, v float64) error {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.find(id)
	if l == nil {
		return ErrUnknownLoop
	}
	l.Volume = v
	if p := m.players[id]; p != nil {
		p.SetVolume(m.effectiveVolumeLocked(id))
	}
	return nil
}

// ToggleMute flips a loop's membership in the mute set. The stored volume is
// untouched; only the effective output level changes.
func (m *Mixer) ToggleMute(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.find(id) == nil {
		return ErrUnknownLoop
	}
	if m.muted[id] {
		delete(m.muted, id)
	} else {
		m.muted[id] = true
	}
	if p := m.players[id]; p != nil {
		p.SetVolume(m.effectiveVolumeLocked(id))
	}
	return nil
}

// ToggleSolo flips the solo target. Every active player's effective volume
// is recomputed atomically with the toggle.
func (m *Mixer) ToggleSolo(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.find(id) == nil {
		return ErrUnknownLoop
	}
	if m.solo == id {
		m.solo = ""
	} else {
		m.solo = id
	}
	for pid, p := range m.players {
		p.SetVolume(m.effectiveVolumeLocked(pid))
	}
	return nil
}

// Muted reports mute-set membership.
func (m *Mixer) Muted(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted[id]
}

// Solo returns the current solo target, empty when none.
func (m *Mixer) Solo() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.solo
}

// EffectiveVolume computes the level a loop plays at right now: zero when
// muted, zero when another loop is soloed, else its stored volume.
func (m *Mixer) EffectiveVolume(id string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.effectiveVolumeLocked(id)
}

func (m *Mixer) effectiveVolumeLocked(id string) float64 {
	if m.muted[id] {
		return 0
	}
	if m.solo != "" && m.solo != id {
		return 0
	}
	if l := m.find(id); l != nil {
		return l.Volume
	}
	return 0
}

// Delete stops a loop if active, deletes exactly its backing file and
// removes it from the collection. Emptying the collection resets the master
// clock.
func (m *Mixer) Delete(id string) error {
	m.mu.Lock()
	idx := -1
	for i, l := range m.loops {
		if l.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return ErrUnknownLoop
	}
	path := m.loops[idx].Path
	m.loops = append(m.loops[:idx], m.loops[idx+1:]...)
	p := m.players[id]
	delete(m.players, id)
	delete(m.muted, id)
	if m.solo == id {
		m.solo = ""
	}
	empty := len(m.loops) == 0
	m.mu.Unlock()

	if p != nil {
		p.Stop()
	}
	if err := m.assets.Remove(path); err != nil {
		logger.Warn("failed to delete loop file", zap.String("loop", id), zap.Error(err))
	}
	if empty {
		m.clock.Reset()
		logger.Info("loop collection empty, master duration reset")
	}
	return nil
}

// find returns the loop with the given id. Caller holds m.mu.
func (m *Mixer) find(id string) *Loop {
	for _, l := range m.loops {
		if l.ID == id {
			return l
		}
	}
	return nil
}
