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

package tests

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/loopdeck/loopdeck-engine/internal/audio"
)

// Error injection suite: every audio/file failure is recoverable, state
// always resets so the next attempt works, and no failure orphans files.

func TestErrorInjection_BackendInitFailure(t *testing.T) {
	backend := audio.NewMockAudioBackend()
	backend.SetInitError(fmt.Errorf("simulated driver failure"))

	if err := backend.Initialize(); err == nil {
		t.Fatal("Expected Initialize to fail")
	}

	// Clearing the fault makes the same backend usable.
	backend.SetInitError(nil)
	if err := backend.Initialize(); err != nil {
		t.Fatalf("Retry after cleared fault failed: %v", err)
	}
	_ = backend.Terminate()
}

func TestErrorInjection_RecordingFailureIsRecoverable(t *testing.T) {
	dir := t.TempDir()
	e, backend := newEngine(t, dir)

	backend.SetCreateStreamError(fmt.Errorf("simulated session activation failure"))

	if err := e.ToggleRecord(); err == nil {
		t.Fatal("Expected recording start to fail")
	}
	st := e.State()
	if st.Recording {
		t.Fatal("Failed start must reset the recording flag")
	}

	// No partial file may survive the failed start.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if entry.Name() != "manifest.json" {
			t.Errorf("Orphaned file after failed start: %s", entry.Name())
		}
	}

	// The user simply retries once the route recovers.
	backend.SetCreateStreamError(nil)
	if err := e.ToggleRecord(); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if err := e.ToggleRecord(); err != nil {
		t.Fatalf("Stop after retry failed: %v", err)
	}
	if len(e.State().Loops) != 1 {
		t.Error("Retry must produce a normal loop")
	}
}

func TestErrorInjection_PlaybackFailureLeavesMixerConsistent(t *testing.T) {
	e, backend := newEngine(t, t.TempDir())

	if err := e.ToggleRecord(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if err := e.ToggleRecord(); err != nil {
		t.Fatal(err)
	}
	id := e.State().Loops[0].ID

	backend.SetCreateStreamError(fmt.Errorf("simulated playback route failure"))
	if err := e.PlayLoop(id); err == nil {
		t.Fatal("Expected playback to fail")
	}
	if e.State().Playing {
		t.Error("Failed playback must not leave a playing flag behind")
	}

	backend.SetCreateStreamError(nil)
	if err := e.PlayLoop(id); err != nil {
		t.Fatalf("Playback retry failed: %v", err)
	}
	if err := e.StopAll(); err != nil {
		t.Fatal(err)
	}
}

func TestErrorInjection_PadImportFailureLeavesSlotEmpty(t *testing.T) {
	e, _ := newEngine(t, t.TempDir())

	if err := e.AssignSlot(5, "/nonexistent/path/boom.wav"); err == nil {
		t.Fatal("Expected import of a missing file to fail")
	}
	if e.State().Slots[5].Assigned {
		t.Error("Failed import must leave the pad unassigned")
	}
}
