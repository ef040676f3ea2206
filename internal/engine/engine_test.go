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

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopdeck/loopdeck-engine/internal/audio"
	"github.com/loopdeck/loopdeck-engine/internal/config"
)

func testConfig(dir string) *config.Config {
	return &config.Config{
		StorageDir:      dir,
		SampleRate:      8000,
		Channels:        1,
		FramesPerBuffer: 256,
		PadMaxSeconds:   0.3,
		LogLevel:        "error",
	}
}

func newTestEngine(t *testing.T) (*Engine, *audio.MockAudioBackend, string) {
	t.Helper()

	backend := audio.NewMockAudioBackend()
	backend.SetSimulateRealTiming(true)
	require.NoError(t, backend.Initialize())
	t.Cleanup(func() { _ = backend.Terminate() })

	dir := t.TempDir()
	e, err := New(backend, testConfig(dir))
	require.NoError(t, err)
	t.Cleanup(e.Close)

	return e, backend, dir
}

// recordLoop drives one full take of roughly the given wall-clock length.
func recordLoop(t *testing.T, e *Engine, d time.Duration) {
	t.Helper()
	require.NoError(t, e.ToggleRecord())
	require.True(t, e.State().Recording)
	time.Sleep(d)
	require.NoError(t, e.ToggleRecord())
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(timeout)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestEngine_InitialState(t *testing.T) {
	e, _, _ := newTestEngine(t)

	st := e.State()
	assert.False(t, st.Recording)
	assert.False(t, st.Playing)
	assert.False(t, st.MasterSet)
	assert.Empty(t, st.Loops)
	assert.Len(t, st.Slots, 8)
	assert.Equal(t, -1, st.RecordingSlot)
	assert.Equal(t, "mock-mic", st.CurrentInput.ID)
	assert.Equal(t, "mock-speaker", st.CurrentOutput.ID)
}

func TestEngine_RecordSetsMasterAndPublishes(t *testing.T) {
	e, _, _ := newTestEngine(t)
	updates := e.Subscribe()

	recordLoop(t, e, 200*time.Millisecond)

	st := e.State()
	require.Len(t, st.Loops, 1)
	assert.True(t, st.MasterSet)
	assert.InDelta(t, 0.2, st.MasterDuration, 0.15)
	assert.False(t, st.Recording)

	// At least one snapshot flowed to the subscriber.
	select {
	case <-updates:
	case <-time.After(time.Second):
		t.Fatal("no state snapshot published")
	}
}

func TestEngine_ScenarioA_SecondTakeTruncated(t *testing.T) {
	e, _, _ := newTestEngine(t)

	recordLoop(t, e, 300*time.Millisecond)
	master := e.State().MasterDuration

	// Second take: leave the mic open much longer than the master duration;
	// the engine must cut it on its own.
	require.NoError(t, e.ToggleRecord())
	waitFor(t, 3*time.Second, func() bool {
		st := e.State()
		return !st.Recording && len(st.Loops) == 2
	}, "second take never auto-stopped")

	st := e.State()
	assert.InDelta(t, master, st.Loops[1].Duration, 0.15,
		"auto-stopped take must equal the master duration")
}

func TestEngine_ScenarioC_DeleteLastLoopUnsetsMaster(t *testing.T) {
	e, _, _ := newTestEngine(t)

	recordLoop(t, e, 200*time.Millisecond)
	st := e.State()
	require.Len(t, st.Loops, 1)
	require.True(t, st.MasterSet)

	require.NoError(t, e.DeleteLoop(st.Loops[0].ID))
	st = e.State()
	assert.Empty(t, st.Loops)
	assert.False(t, st.MasterSet, "master must reset with the last loop")

	// Next recording is unbounded again: it keeps running past the old
	// master duration until stopped manually.
	require.NoError(t, e.ToggleRecord())
	time.Sleep(400 * time.Millisecond)
	assert.True(t, e.State().Recording, "no auto-stop without a master duration")
	require.NoError(t, e.ToggleRecord())
}

func TestEngine_MuteSoloVolumeViewState(t *testing.T) {
	e, _, _ := newTestEngine(t)

	recordLoop(t, e, 150*time.Millisecond)
	recordLoop(t, e, 150*time.Millisecond)
	st := e.State()
	require.Len(t, st.Loops, 2)
	a, b := st.Loops[0].ID, st.Loops[1].ID

	require.NoError(t, e.SetVolume(a, 0.6))
	require.NoError(t, e.ToggleMute(a))
	require.NoError(t, e.ToggleSolo(b))

	st = e.State()
	assert.True(t, st.Loops[0].Muted)
	assert.Equal(t, 0.6, st.Loops[0].Volume, "mute must not alter stored volume")
	assert.True(t, st.Loops[1].Soloed)
}

func TestEngine_PlayAllAndStopAll(t *testing.T) {
	e, _, _ := newTestEngine(t)

	recordLoop(t, e, 200*time.Millisecond)
	recordLoop(t, e, 150*time.Millisecond)

	require.NoError(t, e.PlayAll())
	st := e.State()
	assert.True(t, st.Playing)
	for _, l := range st.Loops {
		assert.True(t, l.Playing)
	}

	require.NoError(t, e.StopAll())
	assert.False(t, e.State().Playing)
}

func TestEngine_PlayAllWithoutLoopsFails(t *testing.T) {
	e, _, _ := newTestEngine(t)
	assert.Error(t, e.PlayAll())
}

func TestEngine_SoundboardFlow(t *testing.T) {
	e, _, _ := newTestEngine(t)

	require.NoError(t, e.RecordSlot(2))
	waitFor(t, 3*time.Second, func() bool {
		return e.State().RecordingSlot == -1
	}, "pad recording never completed")

	st := e.State()
	assert.True(t, st.Slots[2].Assigned)

	require.NoError(t, e.PlaySlot(2))
	require.NoError(t, e.RemoveSlot(2))
	assert.False(t, e.State().Slots[2].Assigned)
}

func TestEngine_RecorderGuards(t *testing.T) {
	e, _, _ := newTestEngine(t)

	// A pad capture blocks loop recording and vice versa.
	require.NoError(t, e.RecordSlot(0))
	assert.ErrorIs(t, e.ToggleRecord(), ErrRecorderBusy)
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, e.StopSlotRecord())

	require.NoError(t, e.ToggleRecord())
	assert.ErrorIs(t, e.RecordSlot(1), ErrRecorderBusy)
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, e.ToggleRecord())
}

func TestEngine_EditModeToggle(t *testing.T) {
	e, _, _ := newTestEngine(t)

	assert.False(t, e.State().EditMode)
	require.NoError(t, e.ToggleEditMode())
	assert.True(t, e.State().EditMode)
}

func TestEngine_RouteChangePublishesState(t *testing.T) {
	e, backend, _ := newTestEngine(t)
	updates := e.Subscribe()

	backend.SetOutputDevices([]audio.Device{
		{ID: "mock-speaker", Name: "Mock Speaker", IsDefault: true},
		{ID: "bt", Name: "BT Headset"},
	})
	backend.InjectRouteChange(audio.RouteChange{Reason: audio.RouteDeviceAdded})

	waitFor(t, 2*time.Second, func() bool {
		return len(e.State().Outputs) == 2
	}, "route change never reflected in state")

	select {
	case <-updates:
	case <-time.After(time.Second):
		t.Fatal("route change did not publish a snapshot")
	}
}

func TestEngine_RestartRestoresAssets(t *testing.T) {
	backend := audio.NewMockAudioBackend()
	backend.SetSimulateRealTiming(true)
	require.NoError(t, backend.Initialize())
	defer func() { _ = backend.Terminate() }()

	dir := t.TempDir()
	e, err := New(backend, testConfig(dir))
	require.NoError(t, err)

	recordLoop(t, e, 250*time.Millisecond)
	first := e.State()
	require.Len(t, first.Loops, 1)
	e.Close()

	// A fresh engine over the same storage re-attaches the loop and
	// re-derives the master duration from it.
	e2, err := New(backend, testConfig(dir))
	require.NoError(t, err)
	defer e2.Close()

	st := e2.State()
	require.Len(t, st.Loops, 1)
	assert.Equal(t, first.Loops[0].ID, st.Loops[0].ID)
	assert.True(t, st.MasterSet)
	assert.Equal(t, first.MasterDuration, st.MasterDuration)
}

func TestEngine_CommandsAfterClose(t *testing.T) {
	backend := audio.NewMockAudioBackend()
	backend.SetSimulateRealTiming(false)
	require.NoError(t, backend.Initialize())
	defer func() { _ = backend.Terminate() }()

	e, err := New(backend, testConfig(t.TempDir()))
	require.NoError(t, err)
	e.Close()

	assert.ErrorIs(t, e.ToggleRecord(), ErrClosed)
}
