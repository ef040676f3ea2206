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
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/loopdeck/loopdeck-engine/internal/audio"
	"github.com/loopdeck/loopdeck-engine/internal/logger"
)

// Player is one active playback instance over an output stream. It pushes
// decoded samples to the stream on its own goroutine, applying the current
// volume per buffer. Done() delivers a single terminal event; Completed()
// distinguishes natural end from an explicit Stop.
type Player struct {
	stream     audio.StreamInterface
	samples    []float32
	channels   int
	bufferSize int
	indefinite bool

	mu        sync.Mutex
	volume    float64
	completed bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewPlayer wraps decoded samples and an output stream into a playback
// instance. The stream must not be started yet.
func NewPlayer(stream audio.StreamInterface, samples []float32, channels, bufferSize int, indefinite bool, volume float64) *Player {
	return &Player{
		stream:     stream,
		samples:    samples,
		channels:   channels,
		bufferSize: bufferSize,
		indefinite: indefinite,
		volume:     volume,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins playback from position zero.
func (p *Player) Start() error {
	if len(p.samples) == 0 {
		return fmt.Errorf("no samples to play")
	}
	if err := p.stream.Start(); err != nil {
		return fmt.Errorf("failed to start output stream: %w", err)
	}
	go p.run()
	return nil
}

// SetVolume updates the live output level. Takes effect on the next buffer.
func (p *Player) SetVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = v
}

// Stop halts playback and releases the stream. Idempotent; safe to call
// while the run loop is finishing naturally.
func (p *Player) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
	<-p.done
}

// Done is closed exactly once when playback ends, whether naturally or via
// Stop.
func (p *Player) Done() <-chan struct{} {
	return p.done
}

// Completed reports whether playback reached its natural end.
func (p *Player) Completed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

func (p *Player) run() {
	defer func() {
		_ = p.stream.Stop()
		_ = p.stream.Close()
		close(p.done)
	}()

	chunk := make([]float32, p.bufferSize*p.channels)
	pos := 0

	for {
		select {
		case <-p.stop:
			return
		default:
		}

		n := 0
		for n < len(chunk) {
			copied := copy(chunk[n:], p.samples[pos:])
			pos += copied
			n += copied
			if pos >= len(p.samples) {
				if !p.indefinite {
					break
				}
				pos = 0
			}
		}

		finished := !p.indefinite && pos >= len(p.samples)
		for i := n; i < len(chunk); i++ {
			chunk[i] = 0
		}

		p.mu.Lock()
		vol := p.volume
		p.mu.Unlock()

		out := make([]float32, len(chunk))
		for i, s := range chunk {
			out[i] = s * float32(vol)
		}

		if err := p.stream.Write(out); err != nil {
			logger.Warn("playback write failed", zap.Error(err))
			return
		}

		if finished {
			p.mu.Lock()
			p.completed = true
			p.mu.Unlock()
			return
		}
	}
}
