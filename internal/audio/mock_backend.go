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

package audio

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// MockAudioBackend implements AudioBackend for testing without hardware dependencies
type MockAudioBackend struct {
	mu                 sync.Mutex
	initialized        bool
	streams            map[string]*MockStream
	streamCounter      int
	initError          error
	terminateError     error
	createStreamError  error
	simulateRealTiming bool
	inputDevices       []Device
	outputDevices      []Device
	routeCh            chan RouteChange
	playbackAudioData  [][]float32
}

// NewMockAudioBackend creates a new mock audio backend with one default
// device in each direction.
func NewMockAudioBackend() *MockAudioBackend {
	return &MockAudioBackend{
		streams:            make(map[string]*MockStream),
		simulateRealTiming: true,
		inputDevices: []Device{
			{ID: "mock-mic", Name: "Mock Microphone", IsInput: true, IsDefault: true},
		},
		outputDevices: []Device{
			{ID: "mock-speaker", Name: "Mock Speaker", IsInput: false, IsDefault: true},
		},
		routeCh:           make(chan RouteChange, 8),
		playbackAudioData: make([][]float32, 0),
	}
}

// SetInitError configures the backend to return an error on Initialize()
func (m *MockAudioBackend) SetInitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initError = err
}

// SetCreateStreamError configures the backend to return an error on stream creation
func (m *MockAudioBackend) SetCreateStreamError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createStreamError = err
}

// SetSimulateRealTiming controls whether the mock paces reads/writes to
// wall-clock audio time. Disable for fast unit tests.
func (m *MockAudioBackend) SetSimulateRealTiming(simulate bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.simulateRealTiming = simulate
}

// SetInputDevices replaces the mock's available capture devices
func (m *MockAudioBackend) SetInputDevices(devices []Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputDevices = devices
}

// SetOutputDevices replaces the mock's available playback devices
func (m *MockAudioBackend) SetOutputDevices(devices []Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputDevices = devices
}

// InjectRouteChange pushes a route-change notification to subscribers,
// typically after updating the device lists via the setters above.
func (m *MockAudioBackend) InjectRouteChange(change RouteChange) {
	m.routeCh <- change
}

// GetPlaybackAudioData returns all audio data written to output streams
func (m *MockAudioBackend) GetPlaybackAudioData() [][]float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([][]float32, len(m.playbackAudioData))
	copy(result, m.playbackAudioData)
	return result
}

// ActiveStreamCount returns the number of streams that are started and not
// yet stopped or closed.
func (m *MockAudioBackend) ActiveStreamCount() int {
	m.mu.Lock()
	streams := make([]*MockStream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.mu.Unlock()

	count := 0
	for _, s := range streams {
		if s.IsActive() {
			count++
		}
	}
	return count
}

// Initialize initializes the mock backend
func (m *MockAudioBackend) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initError != nil {
		return m.initError
	}

	m.initialized = true
	return nil
}

// Terminate shuts down the mock backend and closes all streams
func (m *MockAudioBackend) Terminate() error {
	m.mu.Lock()
	if m.terminateError != nil {
		err := m.terminateError
		m.mu.Unlock()
		return err
	}

	streams := make([]*MockStream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.mu.Unlock()

	for _, stream := range streams {
		_ = stream.Stop()  // Ignore errors during cleanup
		_ = stream.Close() // Ignore errors during cleanup
	}

	m.mu.Lock()
	m.initialized = false
	m.mu.Unlock()
	return nil
}

// InputDevices lists the mock capture devices
func (m *MockAudioBackend) InputDevices() ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Device, len(m.inputDevices))
	copy(out, m.inputDevices)
	return out, nil
}

// OutputDevices lists the mock playback devices
func (m *MockAudioBackend) OutputDevices() ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Device, len(m.outputDevices))
	copy(out, m.outputDevices)
	return out, nil
}

// DefaultInputDevice returns the first default-flagged capture device
func (m *MockAudioBackend) DefaultInputDevice() (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return defaultOf(m.inputDevices)
}

// DefaultOutputDevice returns the first default-flagged playback device
func (m *MockAudioBackend) DefaultOutputDevice() (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return defaultOf(m.outputDevices)
}

func defaultOf(devices []Device) (Device, error) {
	for _, d := range devices {
		if d.IsDefault {
			return d, nil
		}
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return Device{}, fmt.Errorf("no devices available")
}

// CreateInputStream creates a mock input stream
func (m *MockAudioBackend) CreateInputStream(deviceID string, sampleRate float64, channels, bufferSize int) (StreamInterface, error) {
	return m.createStream(deviceID, sampleRate, channels, bufferSize, true)
}

// CreateOutputStream creates a mock output stream
func (m *MockAudioBackend) CreateOutputStream(deviceID string, sampleRate float64, channels, bufferSize int) (StreamInterface, error) {
	return m.createStream(deviceID, sampleRate, channels, bufferSize, false)
}

func (m *MockAudioBackend) createStream(deviceID string, sampleRate float64, channels, bufferSize int, isInput bool) (StreamInterface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, fmt.Errorf("mock audio backend not initialized")
	}

	if m.createStreamError != nil {
		return nil, m.createStreamError
	}

	direction := "output"
	if isInput {
		direction = "input"
	}
	streamID := fmt.Sprintf("%s_%d", direction, m.streamCounter)
	m.streamCounter++

	stream := &MockStream{
		id:                 streamID,
		backend:            m,
		deviceID:           deviceID,
		sampleRate:         sampleRate,
		channels:           channels,
		bufferSize:         bufferSize,
		isInput:            isInput,
		simulateRealTiming: m.simulateRealTiming,
	}

	m.streams[streamID] = stream
	return stream, nil
}

// RouteChanges returns the injectable notification channel
func (m *MockAudioBackend) RouteChanges() <-chan RouteChange {
	return m.routeCh
}

// MockStream implements StreamInterface for testing
type MockStream struct {
	mu                 sync.Mutex
	id                 string
	backend            *MockAudioBackend
	deviceID           string
	sampleRate         float64
	channels           int
	bufferSize         int
	isInput            bool
	isOpen             bool
	isActive           bool
	simulateRealTiming bool
	phase              float64
	startError         error
	stopError          error
	closeError         error
	writeError         error
	readError          error
	audioDataGenerator func([]float32)
}

// SetStartError configures the stream to return an error on Start()
func (m *MockStream) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startError = err
}

// SetReadError configures the stream to return an error on Read()
func (m *MockStream) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readError = err
}

// SetWriteError configures the stream to return an error on Write()
func (m *MockStream) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeError = err
}

// SetAudioDataGenerator sets a function to generate mock audio input data
func (m *MockStream) SetAudioDataGenerator(generator func([]float32)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audioDataGenerator = generator
}

// Start starts the mock stream
func (m *MockStream) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startError != nil {
		return m.startError
	}

	if m.isActive {
		return fmt.Errorf("stream already active")
	}

	m.isActive = true
	m.isOpen = true
	return nil
}

// Stop stops the mock stream
func (m *MockStream) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopError != nil {
		return m.stopError
	}

	m.isActive = false
	return nil
}

// Close closes the mock stream
func (m *MockStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closeError != nil {
		return m.closeError
	}

	m.isOpen = false
	m.isActive = false
	return nil
}

// Write records audio data written to the stream, pacing to real audio time
// when timing simulation is enabled
func (m *MockStream) Write(data []float32) error {
	m.mu.Lock()
	if m.writeError != nil {
		err := m.writeError
		m.mu.Unlock()
		return err
	}
	if m.isInput {
		m.mu.Unlock()
		return fmt.Errorf("cannot write to input stream")
	}
	if !m.isActive {
		m.mu.Unlock()
		return fmt.Errorf("stream not active")
	}

	chunk := make([]float32, len(data))
	copy(chunk, data)
	pace := m.simulateRealTiming
	wait := m.chunkDuration()
	m.mu.Unlock()

	m.backend.mu.Lock()
	m.backend.playbackAudioData = append(m.backend.playbackAudioData, chunk)
	m.backend.mu.Unlock()

	if pace {
		time.Sleep(wait)
	}
	return nil
}

// Read fills the buffer with generated audio, pacing to real audio time when
// timing simulation is enabled
func (m *MockStream) Read(data []float32) error {
	m.mu.Lock()
	if m.readError != nil {
		err := m.readError
		m.mu.Unlock()
		return err
	}
	if !m.isInput {
		m.mu.Unlock()
		return fmt.Errorf("cannot read from output stream")
	}
	if !m.isActive {
		m.mu.Unlock()
		return fmt.Errorf("stream not active")
	}

	if m.audioDataGenerator != nil {
		m.audioDataGenerator(data)
	} else {
		// Default: 440Hz sine so recordings are never silent
		for i := range data {
			data[i] = float32(0.5 * math.Sin(2*math.Pi*440*m.phase/m.sampleRate))
			m.phase++
		}
	}

	pace := m.simulateRealTiming
	wait := m.chunkDuration()
	m.mu.Unlock()

	if pace {
		time.Sleep(wait)
	}
	return nil
}

// IsActive returns true if the stream is active
func (m *MockStream) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isActive
}

func (m *MockStream) chunkDuration() time.Duration {
	if m.sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(m.bufferSize) / m.sampleRate * float64(time.Second))
}
