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

// Package store manages the durable asset directory shared by the recorder,
// the loop mixer and the soundboard. Every writer uses collision-proof
// generated names; deleting one asset can never touch another.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hajimehoshi/go-mp3"

	"github.com/loopdeck/loopdeck-engine/internal/wav"
)

// ErrImportCopy wraps failures while copying an external file into storage.
var ErrImportCopy = errors.New("import copy failed")

// ErrOutsideStore is returned when asked to delete a path the store does
// not own.
var ErrOutsideStore = errors.New("path outside storage directory")

// Store is rooted at one app-private directory.
type Store struct {
	dir string
}

// New creates the storage directory if needed and returns a store over it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage directory: %w", err)
	}
	return &Store{dir: abs}, nil
}

// Dir returns the storage root.
func (s *Store) Dir() string {
	return s.dir
}

// NewRecordingPath returns a unique destination for a fresh recording:
// generated identifier plus timestamp.
func (s *Store) NewRecordingPath() string {
	name := fmt.Sprintf("%s-%d.wav", uuid.NewString(), time.Now().Unix())
	return filepath.Join(s.dir, name)
}

// Import copies an externally chosen file into durable storage under a
// collision-proof name that preserves the original filename. MP3 sources are
// transcoded to 16-bit PCM WAVE so the playback path only ever deals with
// one format. The source is opened, copied and released strictly within this
// call.
func (s *Store) Import(srcPath string) (string, error) {
	base := filepath.Base(srcPath)

	if strings.EqualFold(filepath.Ext(base), ".mp3") {
		dest := filepath.Join(s.dir, uuid.NewString()+"-"+strings.TrimSuffix(base, filepath.Ext(base))+".wav")
		if err := s.transcodeMP3(srcPath, dest); err != nil {
			return "", fmt.Errorf("%w: %v", ErrImportCopy, err)
		}
		return dest, nil
	}

	dest := filepath.Join(s.dir, uuid.NewString()+"-"+base)
	if err := copyFile(srcPath, dest); err != nil {
		return "", fmt.Errorf("%w: %v", ErrImportCopy, err)
	}
	return dest, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dest) // never leave a half-copied asset behind
		return fmt.Errorf("failed to copy data: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dest)
		return fmt.Errorf("failed to close destination: %w", err)
	}
	return nil
}

// transcodeMP3 decodes an MP3 file and writes it as WAVE. go-mp3 always
// yields 16-bit stereo PCM at the source sample rate.
func (s *Store) transcodeMP3(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open MP3 source: %w", err)
	}
	defer func() { _ = in.Close() }()

	dec, err := mp3.NewDecoder(in)
	if err != nil {
		return fmt.Errorf("failed to decode MP3: %w", err)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return fmt.Errorf("failed to read MP3 samples: %w", err)
	}
	if len(raw) < 4 {
		return fmt.Errorf("MP3 contains no audio")
	}

	samples := make([]float32, len(raw)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(raw[i*2:])) //nolint:gosec // G115: reinterpreting PCM bytes
		samples[i] = float32(v) / math.MaxInt16
	}

	if err := wav.Encode(dest, dec.SampleRate(), 2, samples); err != nil {
		_ = os.Remove(dest)
		return err
	}
	return nil
}

// Remove deletes exactly one asset owned by this store. Paths outside the
// storage directory are refused.
func (s *Store) Remove(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, s.dir+string(os.PathSeparator)) {
		return ErrOutsideStore
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	return nil
}
