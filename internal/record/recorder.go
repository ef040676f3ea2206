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

// Package record implements microphone capture: the loop recorder with its
// master-duration auto-stop, and the raw capture session it shares with the
// soundboard's bounded pad recording.
package record

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loopdeck/loopdeck-engine/internal/audio"
	"github.com/loopdeck/loopdeck-engine/internal/logger"
	"github.com/loopdeck/loopdeck-engine/internal/loop"
	"github.com/loopdeck/loopdeck-engine/internal/store"
	"github.com/loopdeck/loopdeck-engine/internal/wav"
)

// ErrValidation wraps a recording that produced an unusable file: missing,
// empty, undecodable or zero-duration.
var ErrValidation = errors.New("recording validation failed")

// Recorder captures microphone input into durable loop files. At most one
// recording is active at a time; a second start is a logged no-op. While a
// recording runs, existing loops play as indefinite accompaniment so the
// performer stays in sync, and a one-shot timer truncates the take at the
// master duration when one exists.
type Recorder struct {
	backend    audio.AudioBackend
	assets     *store.Store
	clock      *loop.Clock
	mixer      *loop.Mixer
	sampleRate float64
	channels   int
	bufferSize int

	mu            sync.Mutex
	recording     bool
	capture       *Capture
	path          string
	autoStop      *time.Timer
	accompaniment chan struct{} // closed when the sync playback has come up
	inputID       func() string
	onAuto        func()
}

// NewRecorder wires the recorder to its collaborators.
func NewRecorder(backend audio.AudioBackend, assets *store.Store, clock *loop.Clock, mixer *loop.Mixer, sampleRate float64, channels, bufferSize int) *Recorder {
	return &Recorder{
		backend:    backend,
		assets:     assets,
		clock:      clock,
		mixer:      mixer,
		sampleRate: sampleRate,
		channels:   channels,
		bufferSize: bufferSize,
		inputID:    func() string { return "" },
	}
}

// SetInputProvider installs the source of the currently selected input port.
func (r *Recorder) SetInputProvider(f func() string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f != nil {
		r.inputID = f
	}
}

// SetAutoStopHook installs a callback fired after a timer-driven stop has
// fully completed. The engine uses it to republish state.
func (r *Recorder) SetAutoStopHook(f func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onAuto = f
}

// IsRecording reports whether a capture is in progress.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Start begins capture to a new uniquely named file. Starting while already
// recording is a no-op. Failures to open or start the input path are
// returned after state is fully reset, so the user can simply retry.
func (r *Recorder) Start() error {
	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		logger.Debug("recording already in progress, ignoring start")
		return nil
	}

	path := r.assets.NewRecordingPath()
	capture, err := StartCapture(r.backend, r.inputID(), path, r.sampleRate, r.channels, r.bufferSize)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("failed to start recording: %w", err)
	}

	r.recording = true
	r.capture = capture
	r.path = path

	if d, ok := r.clock.Duration(); ok {
		// Truncate the take at the master duration. The timer races with a
		// manual stop; the recording flag makes whichever runs second a no-op.
		r.autoStop = time.AfterFunc(secondsToDuration(d), func() {
			if _, err := r.Stop(); err != nil {
				logger.Warn("auto-stop recording failed", zap.Error(err))
			}
			r.mu.Lock()
			hook := r.onAuto
			r.mu.Unlock()
			if hook != nil {
				hook()
			}
		})
		logger.Info("recording started with auto-stop",
			zap.String("file", path),
			zap.Float64("master_duration", d))
	} else {
		logger.Info("recording started unbounded", zap.String("file", path))
	}

	// Accompaniment: everything already recorded loops underneath the new
	// take. Decoding happens off this goroutine; Stop waits on the channel so
	// no accompaniment player can come up after StopAll has run.
	if r.mixer.Count() > 0 {
		started := make(chan struct{})
		r.accompaniment = started
		go func() {
			defer close(started)
			if err := r.mixer.PlayAll(); err != nil {
				logger.Warn("failed to start accompaniment", zap.Error(err))
			}
		}()
	}
	r.mu.Unlock()

	return nil
}

// Stop halts capture, stops the accompaniment, validates the file and, on
// success, appends the new loop to the mixer (fixing the master duration if
// this was the first). On validation failure the partial file is deleted and
// no loop is added. Idempotent when not recording.
func (r *Recorder) Stop() (*loop.Loop, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil, nil
	}
	r.recording = false
	if r.autoStop != nil {
		r.autoStop.Stop()
		r.autoStop = nil
	}
	capture := r.capture
	path := r.path
	accompaniment := r.accompaniment
	r.capture = nil
	r.path = ""
	r.accompaniment = nil
	r.mu.Unlock()

	if err := capture.Stop(); err != nil {
		logger.Warn("capture teardown reported error", zap.Error(err))
	}
	if accompaniment != nil {
		// An in-flight PlayAll may still be opening streams; let it settle so
		// StopAll cannot be overtaken by a late-starting player.
		<-accompaniment
	}
	r.mixer.StopAll()

	info, err := wav.Probe(path)
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("failed to remove invalid recording", zap.String("file", path), zap.Error(rmErr))
		}
		logger.Warn("recording discarded", zap.String("file", path), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	l := &loop.Loop{
		ID:       uuid.NewString(),
		Path:     path,
		Duration: info.Duration(),
		Volume:   1.0,
	}
	if first := r.mixer.Add(l); first {
		logger.Info("master loop duration set", zap.Float64("seconds", l.Duration))
	}
	logger.Info("loop recorded",
		zap.String("loop", l.ID),
		zap.Float64("duration", l.Duration))
	return l, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Capture is one raw microphone-to-WAVE session. It owns the input stream
// and the file writer; Stop drains the capture goroutine before closing
// either.
type Capture struct {
	stream audio.StreamInterface
	writer *wav.Writer
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// StartCapture opens the input stream and begins writing to path. On any
// failure the partially created file is removed.
func StartCapture(backend audio.AudioBackend, deviceID, path string, sampleRate float64, channels, bufferSize int) (*Capture, error) {
	writer, err := wav.NewWriter(path, int(sampleRate), channels)
	if err != nil {
		return nil, err
	}

	stream, err := backend.CreateInputStream(deviceID, sampleRate, channels, bufferSize)
	if err != nil {
		_ = writer.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = writer.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to activate input stream: %w", err)
	}

	c := &Capture{
		stream: stream,
		writer: writer,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.run(bufferSize * channels)
	return c, nil
}

func (c *Capture) run(chunkLen int) {
	defer close(c.done)

	buf := make([]float32, chunkLen)
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		if err := c.stream.Read(buf); err != nil {
			logger.Warn("capture read failed", zap.Error(err))
			return
		}
		if err := c.writer.WriteSamples(buf); err != nil {
			logger.Warn("capture write failed", zap.Error(err))
			return
		}
	}
}

// Stop ends the session and finalizes the file. Idempotent.
func (c *Capture) Stop() error {
	var err error
	c.once.Do(func() {
		close(c.stop)
		<-c.done
		if sErr := c.stream.Stop(); sErr != nil && err == nil {
			err = sErr
		}
		if cErr := c.stream.Close(); cErr != nil && err == nil {
			err = cErr
		}
		if wErr := c.writer.Close(); wErr != nil && err == nil {
			err = wErr
		}
	})
	return err
}
