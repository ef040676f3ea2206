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

// Package wav implements a minimal RIFF/WAVE codec for 16-bit PCM files.
// It covers exactly what the engine needs: a streaming writer for the
// recorder, a full decoder for playback, and a cheap probe for validating
// freshly recorded files.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

const (
	riffChunkID = "RIFF"
	waveFormat  = "WAVE"
	fmtChunkID  = "fmt "
	dataChunkID = "data"

	pcmFormat      = 1
	bitsPerSample  = 16
	fmtChunkSize   = 16
	headerSize     = 44 // RIFF(12) + fmt(24) + data header(8)
	bytesPerSample = bitsPerSample / 8
)

// Validation errors for recorded/imported files.
var (
	ErrNotWave     = errors.New("not a RIFF/WAVE file")
	ErrUnsupported = errors.New("unsupported WAVE encoding")
	ErrEmptyAudio  = errors.New("audio file contains no samples")
	ErrShortHeader = errors.New("truncated WAVE header")
)

// Info describes a WAVE file without decoding its samples.
type Info struct {
	SampleRate int
	Channels   int
	Frames     int
}

// Duration returns the playback length in seconds.
func (i Info) Duration() float64 {
	if i.SampleRate <= 0 {
		return 0
	}
	return float64(i.Frames) / float64(i.SampleRate)
}

// Audio holds fully decoded PCM audio as float32 samples in [-1, 1],
// interleaved when stereo.
type Audio struct {
	SampleRate int
	Channels   int
	Samples    []float32
}

// Duration returns the playback length in seconds.
func (a *Audio) Duration() float64 {
	if a.SampleRate <= 0 || a.Channels <= 0 {
		return 0
	}
	return float64(len(a.Samples)) / float64(a.Channels) / float64(a.SampleRate)
}

// Writer streams float32 samples into a 16-bit PCM WAVE file. The RIFF and
// data sizes are patched on Close, so an abandoned file is detectable as
// truncated.
type Writer struct {
	f          *os.File
	sampleRate int
	channels   int
	dataBytes  int
	closed     bool
}

// NewWriter creates the file and writes a provisional header.
func NewWriter(path string, sampleRate, channels int) (*Writer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid WAVE parameters: rate=%d channels=%d", sampleRate, channels)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAVE file: %w", err)
	}

	w := &Writer{f: f, sampleRate: sampleRate, channels: channels}
	if err := w.writeHeader(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) writeHeader() error {
	var buf [headerSize]byte

	copy(buf[0:4], riffChunkID)
	// RIFF size patched on Close
	copy(buf[8:12], waveFormat)

	copy(buf[12:16], fmtChunkID)
	binary.LittleEndian.PutUint32(buf[16:20], fmtChunkSize)
	binary.LittleEndian.PutUint16(buf[20:22], pcmFormat)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(w.channels))      //nolint:gosec // G115: channel counts are tiny
	binary.LittleEndian.PutUint32(buf[24:28], uint32(w.sampleRate))    //nolint:gosec // G115: sample rates fit uint32
	byteRate := w.sampleRate * w.channels * bytesPerSample
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))        //nolint:gosec // G115
	binary.LittleEndian.PutUint16(buf[32:34], uint16(w.channels*bytesPerSample)) //nolint:gosec // G115
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], dataChunkID)
	// data size patched on Close

	if _, err := w.f.Write(buf[:]); err != nil {
		return fmt.Errorf("failed to write WAVE header: %w", err)
	}
	return nil
}

// WriteSamples appends float32 samples, clamped to [-1, 1].
func (w *Writer) WriteSamples(samples []float32) error {
	if w.closed {
		return fmt.Errorf("write on closed WAVE writer")
	}

	buf := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		v := float64(s)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(v*math.MaxInt16))) //nolint:gosec // G115: clamped above
	}

	n, err := w.f.Write(buf)
	w.dataBytes += n
	if err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}
	return nil
}

// Frames returns the number of sample frames written so far.
func (w *Writer) Frames() int {
	return w.dataBytes / bytesPerSample / w.channels
}

// Close patches the chunk sizes and closes the file.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var sz [4]byte
	binary.LittleEndian.PutUint32(sz[:], uint32(headerSize-8+w.dataBytes)) //nolint:gosec // G115
	if _, err := w.f.WriteAt(sz[:], 4); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("failed to patch RIFF size: %w", err)
	}
	binary.LittleEndian.PutUint32(sz[:], uint32(w.dataBytes)) //nolint:gosec // G115
	if _, err := w.f.WriteAt(sz[:], 40); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("failed to patch data size: %w", err)
	}

	if err := w.f.Close(); err != nil {
		return fmt.Errorf("failed to close WAVE file: %w", err)
	}
	return nil
}

// Encode writes a complete 16-bit PCM WAVE file in one shot. Used by the
// import path after transcoding.
func Encode(path string, sampleRate, channels int, samples []float32) error {
	w, err := NewWriter(path, sampleRate, channels)
	if err != nil {
		return err
	}
	if err := w.WriteSamples(samples); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Probe reads only the header and reports format and length. It is the
// validation step for recorded files: a missing, empty, undecodable or
// zero-duration file all fail.
func Probe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return Info{}, fmt.Errorf("failed to stat audio file: %w", err)
	}
	if st.Size() == 0 {
		return Info{}, ErrEmptyAudio
	}

	info, dataBytes, err := readFormat(f)
	if err != nil {
		return Info{}, err
	}

	info.Frames = dataBytes / bytesPerSample / info.Channels
	if info.Frames == 0 {
		return Info{}, ErrEmptyAudio
	}
	return info, nil
}

// Decode loads an entire WAVE file into memory as float32 samples.
func Decode(path string) (*Audio, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, dataBytes, err := readFormat(f)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, dataBytes)
	if _, err := io.ReadFull(f, raw); err != nil {
		return nil, fmt.Errorf("failed to read sample data: %w", err)
	}

	samples := make([]float32, dataBytes/bytesPerSample)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(raw[i*2:])) //nolint:gosec // G115: reinterpreting PCM bytes
		samples[i] = float32(v) / math.MaxInt16
	}

	if len(samples) == 0 {
		return nil, ErrEmptyAudio
	}

	return &Audio{
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
		Samples:    samples,
	}, nil
}

// readFormat parses the RIFF container up to the data chunk, leaving the
// reader positioned at the first sample. Unknown chunks are skipped.
func readFormat(f *os.File) (Info, int, error) {
	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return Info{}, 0, ErrShortHeader
	}
	if string(riff[0:4]) != riffChunkID || string(riff[8:12]) != waveFormat {
		return Info{}, 0, ErrNotWave
	}

	var info Info
	haveFmt := false

	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(f, chunkHeader[:]); err != nil {
			return Info{}, 0, ErrShortHeader
		}
		chunkID := string(chunkHeader[0:4])
		chunkSize := int(binary.LittleEndian.Uint32(chunkHeader[4:8]))

		switch chunkID {
		case fmtChunkID:
			if chunkSize < fmtChunkSize {
				return Info{}, 0, ErrShortHeader
			}
			var fmtBody [fmtChunkSize]byte
			if _, err := io.ReadFull(f, fmtBody[:]); err != nil {
				return Info{}, 0, ErrShortHeader
			}
			format := binary.LittleEndian.Uint16(fmtBody[0:2])
			channels := int(binary.LittleEndian.Uint16(fmtBody[2:4]))
			rate := int(binary.LittleEndian.Uint32(fmtBody[4:8]))
			bits := binary.LittleEndian.Uint16(fmtBody[14:16])
			if format != pcmFormat || bits != bitsPerSample {
				return Info{}, 0, fmt.Errorf("%w: format=%d bits=%d", ErrUnsupported, format, bits)
			}
			if channels <= 0 || rate <= 0 {
				return Info{}, 0, fmt.Errorf("%w: channels=%d rate=%d", ErrUnsupported, channels, rate)
			}
			info.SampleRate = rate
			info.Channels = channels
			haveFmt = true
			// Skip any fmt extension bytes
			if chunkSize > fmtChunkSize {
				if _, err := f.Seek(int64(chunkSize-fmtChunkSize), io.SeekCurrent); err != nil {
					return Info{}, 0, ErrShortHeader
				}
			}

		case dataChunkID:
			if !haveFmt {
				return Info{}, 0, fmt.Errorf("%w: data chunk before fmt", ErrNotWave)
			}
			return info, chunkSize, nil

		default:
			// Chunks are word-aligned
			skip := int64(chunkSize)
			if chunkSize%2 == 1 {
				skip++
			}
			if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
				return Info{}, 0, ErrShortHeader
			}
		}
	}
}
