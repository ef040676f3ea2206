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

package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopdeck/loopdeck-engine/internal/wav"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "sounds"))
	require.NoError(t, err)
	return s
}

func TestNewRecordingPath_Unique(t *testing.T) {
	s := newTestStore(t)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		p := s.NewRecordingPath()
		assert.False(t, seen[p], "path %s generated twice", p)
		seen[p] = true
		assert.True(t, strings.HasPrefix(p, s.Dir()), "path must live under the store")
		assert.True(t, strings.HasSuffix(p, ".wav"))
	}
}

func TestImport_PreservesOriginalName(t *testing.T) {
	s := newTestStore(t)

	src := filepath.Join(t.TempDir(), "kick-drum.wav")
	require.NoError(t, wav.Encode(src, 8000, 1, []float32{0.1, 0.2, 0.3, 0.4}))

	dest, err := s.Import(src)
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(dest, "-kick-drum.wav"),
		"imported name should keep the original filename, got %s", dest)
	assert.True(t, strings.HasPrefix(dest, s.Dir()))

	// Content survived the copy.
	decoded, err := wav.Decode(dest)
	require.NoError(t, err)
	assert.Len(t, decoded.Samples, 4)
}

func TestImport_MissingSource(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Import(filepath.Join(t.TempDir(), "missing.wav"))
	assert.ErrorIs(t, err, ErrImportCopy)
}

func TestImport_CollisionProof(t *testing.T) {
	s := newTestStore(t)

	src := filepath.Join(t.TempDir(), "same-name.wav")
	require.NoError(t, wav.Encode(src, 8000, 1, []float32{0.5}))

	a, err := s.Import(src)
	require.NoError(t, err)
	b, err := s.Import(src)
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "two imports of the same file must not collide")
}

func TestRemove_OnlyInsideStore(t *testing.T) {
	s := newTestStore(t)

	outside := filepath.Join(t.TempDir(), "precious.wav")
	require.NoError(t, os.WriteFile(outside, []byte("data"), 0o644))

	err := s.Remove(outside)
	assert.True(t, errors.Is(err, ErrOutsideStore))
	_, statErr := os.Stat(outside)
	assert.NoError(t, statErr, "file outside the store must survive")
}

func TestRemove_DeletesExactlyOne(t *testing.T) {
	s := newTestStore(t)

	a := s.NewRecordingPath()
	b := s.NewRecordingPath()
	require.NoError(t, wav.Encode(a, 8000, 1, []float32{0.1}))
	require.NoError(t, wav.Encode(b, 8000, 1, []float32{0.2}))

	require.NoError(t, s.Remove(a))

	_, err := os.Stat(a)
	assert.True(t, os.IsNotExist(err), "removed file must be gone")
	_, err = os.Stat(b)
	assert.NoError(t, err, "sibling file must survive")
}

func TestRemove_MissingFileIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Remove(filepath.Join(s.Dir(), "already-gone.wav")))
}

func TestManifest_Roundtrip(t *testing.T) {
	s := newTestStore(t)

	loopPath := s.NewRecordingPath()
	require.NoError(t, wav.Encode(loopPath, 8000, 1, []float32{0.1, 0.2}))
	slotPath := s.NewRecordingPath()
	require.NoError(t, wav.Encode(slotPath, 8000, 1, []float32{0.3}))

	in := &Manifest{
		Loops: []LoopEntry{{ID: "l1", Path: loopPath, Duration: 2.5, Volume: 0.8}},
		Slots: []SlotEntry{{Index: 3, Path: slotPath, Title: "clap.wav"}},
	}
	require.NoError(t, s.SaveManifest(in))

	out, err := s.LoadManifest()
	require.NoError(t, err)
	require.Len(t, out.Loops, 1)
	assert.Equal(t, "l1", out.Loops[0].ID)
	assert.Equal(t, 2.5, out.Loops[0].Duration)
	require.Len(t, out.Slots, 1)
	assert.Equal(t, 3, out.Slots[0].Index)
	assert.Equal(t, "clap.wav", out.Slots[0].Title)
}

func TestManifest_PrunesVanishedFiles(t *testing.T) {
	s := newTestStore(t)

	alive := s.NewRecordingPath()
	require.NoError(t, wav.Encode(alive, 8000, 1, []float32{0.1}))
	gone := s.NewRecordingPath()

	in := &Manifest{
		Loops: []LoopEntry{
			{ID: "alive", Path: alive, Duration: 1, Volume: 1},
			{ID: "gone", Path: gone, Duration: 1, Volume: 1},
		},
		Slots: []SlotEntry{{Index: 0, Path: gone, Title: "ghost"}},
	}
	require.NoError(t, s.SaveManifest(in))

	out, err := s.LoadManifest()
	require.NoError(t, err)
	require.Len(t, out.Loops, 1)
	assert.Equal(t, "alive", out.Loops[0].ID)
	assert.Empty(t, out.Slots)
}

func TestManifest_MissingIsEmpty(t *testing.T) {
	s := newTestStore(t)

	m, err := s.LoadManifest()
	require.NoError(t, err)
	assert.Empty(t, m.Loops)
	assert.Empty(t, m.Slots)
}
