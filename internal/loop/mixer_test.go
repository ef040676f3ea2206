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
	"math"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loopdeck/loopdeck-engine/internal/audio"
	"github.com/loopdeck/loopdeck-engine/internal/store"
	"github.com/loopdeck/loopdeck-engine/internal/wav"
)

const (
	testRate   = 8000.0
	testBuffer = 256
)

func newTestMixer(t *testing.T, pacing bool) (*Mixer, *audio.MockAudioBackend, *store.Store, *Clock) {
	t.Helper()

	backend := audio.NewMockAudioBackend()
	backend.SetSimulateRealTiming(pacing)
	if err := backend.Initialize(); err != nil {
		t.Fatalf("backend init failed: %v", err)
	}
	t.Cleanup(func() { _ = backend.Terminate() })

	assets, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store init failed: %v", err)
	}

	clock := NewClock()
	mixer := NewMixer(backend, assets, clock, testRate, 1, testBuffer)
	return mixer, backend, assets, clock
}

// addLoop writes a real WAVE file of the given length and registers it.
func addLoop(t *testing.T, m *Mixer, assets *store.Store, id string, seconds float64) *Loop {
	t.Helper()

	path := assets.NewRecordingPath()
	frames := int(seconds * testRate)
	samples := make([]float32, frames)
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(float64(i)/7))
	}
	if err := wav.Encode(path, int(testRate), 1, samples); err != nil {
		t.Fatalf("failed to write loop file: %v", err)
	}

	l := &Loop{ID: id, Path: path, Duration: seconds, Volume: 1.0}
	m.Add(l)
	return l
}

func livePlayerVolume(t *testing.T, m *Mixer, id string) float64 {
	t.Helper()

	m.mu.Lock()
	p := m.players[id]
	m.mu.Unlock()
	if p == nil {
		t.Fatalf("loop %s has no active player", id)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

func TestMixer_EffectiveVolumeProperty(t *testing.T) {
	m, _, assets, _ := newTestMixer(t, false)
	addLoop(t, m, assets, "a", 0.1)
	addLoop(t, m, assets, "b", 0.1)

	if err := m.SetVolume("a", 0.7); err != nil {
		t.Fatal(err)
	}

	// Plain: stored volume.
	if v := m.EffectiveVolume("a"); v != 0.7 {
		t.Errorf("Expected 0.7, got %f", v)
	}

	// Muted: zero, stored volume untouched.
	if err := m.ToggleMute("a"); err != nil {
		t.Fatal(err)
	}
	if v := m.EffectiveVolume("a"); v != 0 {
		t.Errorf("Expected 0 while muted, got %f", v)
	}

	// Someone else soloed: zero.
	if err := m.ToggleSolo("b"); err != nil {
		t.Fatal(err)
	}
	if v := m.EffectiveVolume("a"); v != 0 {
		t.Errorf("Expected 0 while b is soloed, got %f", v)
	}
	if v := m.EffectiveVolume("b"); v != 1.0 {
		t.Errorf("Soloed loop plays at its own volume, got %f", v)
	}

	// Un-mute a: still zero because b holds solo.
	if err := m.ToggleMute("a"); err != nil {
		t.Fatal(err)
	}
	if v := m.EffectiveVolume("a"); v != 0 {
		t.Errorf("Expected 0 while another loop is soloed, got %f", v)
	}

	// Drop solo: back to stored volume.
	if err := m.ToggleSolo("b"); err != nil {
		t.Fatal(err)
	}
	if v := m.EffectiveVolume("a"); v != 0.7 {
		t.Errorf("Expected stored volume 0.7 restored, got %f", v)
	}
}

func TestMixer_MuteDominatesSolo(t *testing.T) {
	m, _, assets, _ := newTestMixer(t, false)
	addLoop(t, m, assets, "a", 0.1)

	if err := m.ToggleMute("a"); err != nil {
		t.Fatal(err)
	}
	if err := m.ToggleSolo("a"); err != nil {
		t.Fatal(err)
	}

	// The soloed loop is still muted: mute wins.
	if v := m.EffectiveVolume("a"); v != 0 {
		t.Errorf("Mute must dominate solo, got %f", v)
	}
}

func TestMixer_ScenarioB_LivePlayerVolumes(t *testing.T) {
	m, _, assets, _ := newTestMixer(t, true)
	addLoop(t, m, assets, "a", 0.5)
	addLoop(t, m, assets, "b", 0.5)

	if err := m.Play("a", true, nil); err != nil {
		t.Fatal(err)
	}
	if err := m.Play("b", true, nil); err != nil {
		t.Fatal(err)
	}
	defer m.StopAll()

	// Mute A: its live volume drops to 0, B unaffected.
	if err := m.ToggleMute("a"); err != nil {
		t.Fatal(err)
	}
	if v := livePlayerVolume(t, m, "a"); v != 0 {
		t.Errorf("Muted loop plays at 0, got %f", v)
	}
	if v := livePlayerVolume(t, m, "b"); v != 1.0 {
		t.Errorf("B unaffected by muting A, got %f", v)
	}

	// Solo B: A stays 0 (already muted), B at its own volume.
	if err := m.ToggleSolo("b"); err != nil {
		t.Fatal(err)
	}
	if v := livePlayerVolume(t, m, "a"); v != 0 {
		t.Errorf("A must stay silent, got %f", v)
	}
	if v := livePlayerVolume(t, m, "b"); v != 1.0 {
		t.Errorf("Soloed B plays at its own volume, got %f", v)
	}

	// Un-solo B: A remains 0 because mute still applies.
	if err := m.ToggleSolo("b"); err != nil {
		t.Fatal(err)
	}
	if v := livePlayerVolume(t, m, "a"); v != 0 {
		t.Errorf("A must remain muted after un-solo, got %f", v)
	}
}

func TestMixer_PlayFinishFiresOnce(t *testing.T) {
	m, _, assets, _ := newTestMixer(t, false)
	addLoop(t, m, assets, "a", 0.05)

	var finishes int32
	done := make(chan struct{})
	err := m.Play("a", false, func(id string) {
		atomic.AddInt32(&finishes, 1)
		close(done)
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("finish callback never fired")
	}

	// Give any duplicate a chance to appear.
	time.Sleep(20 * time.Millisecond)
	if n := atomic.LoadInt32(&finishes); n != 1 {
		t.Errorf("Expected exactly one finish notification, got %d", n)
	}
	if m.Playing() {
		t.Error("Player must be released after natural completion")
	}
}

func TestMixer_StopIsIdempotent(t *testing.T) {
	m, _, assets, _ := newTestMixer(t, false)
	addLoop(t, m, assets, "a", 0.05)

	// Stopping a loop that never played must be a no-op.
	m.Stop("a")
	m.Stop("nonexistent")
}

func TestMixer_PlayUnknownLoop(t *testing.T) {
	m, _, _, _ := newTestMixer(t, false)
	if err := m.Play("ghost", false, nil); !errors.Is(err, ErrUnknownLoop) {
		t.Errorf("Expected ErrUnknownLoop, got %v", err)
	}
}

func TestMixer_PlayAllRequiresMasterDuration(t *testing.T) {
	m, _, _, _ := newTestMixer(t, false)

	if err := m.PlayAll(); !errors.Is(err, ErrNoMasterDuration) {
		t.Errorf("Expected ErrNoMasterDuration, got %v", err)
	}
}

func TestMixer_PlayAllStartsEveryLoop(t *testing.T) {
	m, _, assets, _ := newTestMixer(t, true)
	addLoop(t, m, assets, "a", 0.5)
	addLoop(t, m, assets, "b", 0.5)

	if err := m.PlayAll(); err != nil {
		t.Fatal(err)
	}
	defer m.StopAll()

	states := m.States()
	for _, s := range states {
		if !s.Playing {
			t.Errorf("Loop %s should be playing after PlayAll", s.ID)
		}
	}
}

func TestMixer_StopAllReleasesPlayers(t *testing.T) {
	m, backend, assets, _ := newTestMixer(t, true)
	addLoop(t, m, assets, "a", 0.5)
	addLoop(t, m, assets, "b", 0.5)

	if err := m.PlayAll(); err != nil {
		t.Fatal(err)
	}
	m.StopAll()

	if m.Playing() {
		t.Error("No players may remain after StopAll")
	}
	if n := backend.ActiveStreamCount(); n != 0 {
		t.Errorf("Expected all streams released, %d still active", n)
	}
}

func TestMixer_DeleteRemovesExactlyOne(t *testing.T) {
	m, _, assets, clock := newTestMixer(t, false)
	a := addLoop(t, m, assets, "a", 0.1)
	b := addLoop(t, m, assets, "b", 0.1)

	if err := m.Delete("a"); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(a.Path); !os.IsNotExist(err) {
		t.Error("Deleted loop's file must be removed")
	}
	if _, err := os.Stat(b.Path); err != nil {
		t.Error("Other loop's file must survive")
	}
	if m.Count() != 1 {
		t.Errorf("Expected 1 loop left, got %d", m.Count())
	}
	if _, ok := clock.Duration(); !ok {
		t.Error("Master duration must survive while loops remain")
	}
}

func TestMixer_DeleteLastLoopResetsClock(t *testing.T) {
	m, _, assets, clock := newTestMixer(t, false)
	addLoop(t, m, assets, "only", 0.1)

	if _, ok := clock.Duration(); !ok {
		t.Fatal("Adding the first loop must set the master duration")
	}

	if err := m.Delete("only"); err != nil {
		t.Fatal(err)
	}
	if _, ok := clock.Duration(); ok {
		t.Error("Master duration must reset when the collection empties")
	}
}

func TestMixer_FirstAddSetsClock(t *testing.T) {
	m, _, assets, clock := newTestMixer(t, false)

	addLoop(t, m, assets, "first", 0.25)
	d, ok := clock.Duration()
	if !ok || math.Abs(d-0.25) > 1e-9 {
		t.Fatalf("Expected master duration 0.25, got %f (set=%v)", d, ok)
	}

	addLoop(t, m, assets, "second", 0.5)
	d, _ = clock.Duration()
	if d != 0.25 {
		t.Errorf("Second loop must not change the master duration, got %f", d)
	}
}

func TestMixer_SetVolumeClamps(t *testing.T) {
	m, _, assets, _ := newTestMixer(t, false)
	addLoop(t, m, assets, "a", 0.1)

	if err := m.SetVolume("a", 3.0); err != nil {
		t.Fatal(err)
	}
	if v := m.EffectiveVolume("a"); v != 1.0 {
		t.Errorf("Volume must clamp to 1.0, got %f", v)
	}
	if err := m.SetVolume("a", -0.5); err != nil {
		t.Fatal(err)
	}
	if v := m.EffectiveVolume("a"); v != 0 {
		t.Errorf("Volume must clamp to 0, got %f", v)
	}
}

func TestMixer_PlayTwiceIsResume(t *testing.T) {
	m, _, assets, _ := newTestMixer(t, true)
	addLoop(t, m, assets, "a", 0.5)

	if err := m.Play("a", true, nil); err != nil {
		t.Fatal(err)
	}
	defer m.StopAll()

	// A second Play while active must not spawn a second player.
	if err := m.Play("a", true, nil); err != nil {
		t.Fatal(err)
	}

	m.mu.Lock()
	n := len(m.players)
	m.mu.Unlock()
	if n != 1 {
		t.Errorf("Expected exactly one active player, got %d", n)
	}
}

// gatedOutputBackend holds every output-stream open until released, so tests
// can park a Play call inside its unlocked decode/open window.
type gatedOutputBackend struct {
	*audio.MockAudioBackend
	entered chan struct{}
	release chan struct{}
}

func (g *gatedOutputBackend) CreateOutputStream(deviceID string, sampleRate float64, channels, bufferSize int) (audio.StreamInterface, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.MockAudioBackend.CreateOutputStream(deviceID, sampleRate, channels, bufferSize)
}

func TestMixer_DeleteDuringPlayOpenWindow(t *testing.T) {
	inner := audio.NewMockAudioBackend()
	inner.SetSimulateRealTiming(false)
	if err := inner.Initialize(); err != nil {
		t.Fatalf("backend init failed: %v", err)
	}
	t.Cleanup(func() { _ = inner.Terminate() })
	backend := &gatedOutputBackend{
		MockAudioBackend: inner,
		entered:          make(chan struct{}, 1),
		release:          make(chan struct{}),
	}

	assets, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store init failed: %v", err)
	}
	clock := NewClock()
	m := NewMixer(backend, assets, clock, testRate, 1, testBuffer)
	addLoop(t, m, assets, "a", 0.1)

	played := make(chan error, 1)
	go func() { played <- m.Play("a", true, nil) }()

	select {
	case <-backend.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("Play never reached the output stream")
	}

	// The loop vanishes while Play is parked between decode and re-lock.
	if err := m.Delete("a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	close(backend.release)

	select {
	case err := <-played:
		if !errors.Is(err, ErrUnknownLoop) {
			t.Errorf("Expected ErrUnknownLoop for a loop deleted mid-start, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Play never returned")
	}

	if m.Playing() {
		t.Error("Deleted loop must not leave an active player behind")
	}
	if m.Count() != 0 {
		t.Errorf("Expected empty collection, got %d", m.Count())
	}
	if _, ok := clock.Duration(); ok {
		t.Error("Master duration must stay reset after the last loop is deleted")
	}
	if n := inner.ActiveStreamCount(); n != 0 {
		t.Errorf("Expected the orphaned stream closed, %d still active", n)
	}
}

func BenchmarkMixer_EffectiveVolume(b *testing.B) {
	backend := audio.NewMockAudioBackend()
	backend.SetSimulateRealTiming(false)
	_ = backend.Initialize()
	assets, _ := store.New(b.TempDir())
	m := NewMixer(backend, assets, NewClock(), testRate, 1, testBuffer)

	for i := 0; i < 16; i++ {
		m.loops = append(m.loops, &Loop{ID: string(rune('a' + i)), Volume: 0.5})
	}
	m.solo = "c"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.EffectiveVolume("a")
	}
}
