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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const manifestName = "manifest.json"

// Manifest records the loop list and soundboard assignments so they survive
// a process restart. Assets whose files vanished are dropped on load.
type Manifest struct {
	Loops []LoopEntry `json:"loops"`
	Slots []SlotEntry `json:"slots"`
}

// LoopEntry is one persisted loop.
type LoopEntry struct {
	ID       string  `json:"id"`
	Path     string  `json:"path"`
	Duration float64 `json:"duration"`
	Volume   float64 `json:"volume"`
}

// SlotEntry is one persisted soundboard assignment.
type SlotEntry struct {
	Index int    `json:"index"`
	Path  string `json:"path"`
	Title string `json:"title"`
}

// SaveManifest writes the manifest atomically (temp file + rename).
func (s *Store) SaveManifest(m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	tmp := filepath.Join(s.dir, manifestName+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, manifestName)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace manifest: %w", err)
	}
	return nil
}

// LoadManifest reads the manifest, pruning entries whose backing files are
// gone. A missing manifest yields an empty one.
func (s *Store) LoadManifest() (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, manifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return &Manifest{}, nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	kept := m.Loops[:0]
	for _, l := range m.Loops {
		if fileExists(l.Path) {
			kept = append(kept, l)
		}
	}
	m.Loops = kept

	slots := m.Slots[:0]
	for _, sl := range m.Slots {
		if fileExists(sl.Path) {
			slots = append(slots, sl)
		}
	}
	m.Slots = slots

	return &m, nil
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Size() > 0
}
