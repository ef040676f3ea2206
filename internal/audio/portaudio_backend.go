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
	"strconv"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// devicePollInterval controls how often the device set is re-enumerated.
// PortAudio has no native hotplug notification, so route changes are
// detected by diffing successive enumerations.
const devicePollInterval = 2 * time.Second

// PortAudioBackend implements AudioBackend using the real PortAudio library
type PortAudioBackend struct {
	mu          sync.Mutex
	initialized bool
	routeCh     chan RouteChange
	stopPoll    chan struct{}
}

// NewPortAudioBackend creates a new PortAudio backend
func NewPortAudioBackend() *PortAudioBackend {
	return &PortAudioBackend{
		routeCh: make(chan RouteChange, 8),
	}
}

// Initialize initializes the PortAudio subsystem and starts the device poller
func (p *PortAudioBackend) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	p.initialized = true
	p.stopPoll = make(chan struct{})
	go p.pollDevices(p.stopPoll)
	return nil
}

// Terminate terminates the PortAudio subsystem
func (p *PortAudioBackend) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return nil
	}

	close(p.stopPoll)
	err := portaudio.Terminate()
	p.initialized = false
	return err
}

// InputDevices lists devices with at least one input channel
func (p *PortAudioBackend) InputDevices() ([]Device, error) {
	return p.devices(true)
}

// OutputDevices lists devices with at least one output channel
func (p *PortAudioBackend) OutputDevices() ([]Device, error) {
	return p.devices(false)
}

func (p *PortAudioBackend) devices(input bool) ([]Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	var def *portaudio.DeviceInfo
	if input {
		def, _ = portaudio.DefaultInputDevice()
	} else {
		def, _ = portaudio.DefaultOutputDevice()
	}

	var out []Device
	for _, info := range infos {
		if input && info.MaxInputChannels < 1 {
			continue
		}
		if !input && info.MaxOutputChannels < 1 {
			continue
		}
		out = append(out, Device{
			ID:        deviceID(info),
			Name:      info.Name,
			IsInput:   input,
			IsDefault: def != nil && def.Index == info.Index,
		})
	}
	return out, nil
}

// DefaultInputDevice returns the system default capture device
func (p *PortAudioBackend) DefaultInputDevice() (Device, error) {
	info, err := portaudio.DefaultInputDevice()
	if err != nil {
		return Device{}, fmt.Errorf("failed to query default input device: %w", err)
	}
	return Device{ID: deviceID(info), Name: info.Name, IsInput: true, IsDefault: true}, nil
}

// DefaultOutputDevice returns the system default playback device
func (p *PortAudioBackend) DefaultOutputDevice() (Device, error) {
	info, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return Device{}, fmt.Errorf("failed to query default output device: %w", err)
	}
	return Device{ID: deviceID(info), Name: info.Name, IsInput: false, IsDefault: true}, nil
}

// CreateInputStream creates an input stream for recording
func (p *PortAudioBackend) CreateInputStream(deviceID string, sampleRate float64, channels, bufferSize int) (StreamInterface, error) {
	if !p.isInitialized() {
		return nil, fmt.Errorf("PortAudio not initialized")
	}

	inputBuffer := make([]float32, bufferSize*channels)

	info, err := p.resolveDevice(deviceID, true)
	if err != nil {
		return nil, err
	}

	params := portaudio.LowLatencyParameters(info, nil)
	params.Input.Channels = channels
	params.SampleRate = sampleRate
	params.FramesPerBuffer = bufferSize

	stream, err := portaudio.OpenStream(params, inputBuffer)
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}

	return &PortAudioStream{
		stream:      stream,
		inputBuffer: inputBuffer,
		isInput:     true,
	}, nil
}

// CreateOutputStream creates an output stream for playback
func (p *PortAudioBackend) CreateOutputStream(deviceID string, sampleRate float64, channels, bufferSize int) (StreamInterface, error) {
	if !p.isInitialized() {
		return nil, fmt.Errorf("PortAudio not initialized")
	}

	outputBuffer := make([]float32, bufferSize*channels)

	info, err := p.resolveDevice(deviceID, false)
	if err != nil {
		return nil, err
	}

	params := portaudio.LowLatencyParameters(nil, info)
	params.Output.Channels = channels
	params.SampleRate = sampleRate
	params.FramesPerBuffer = bufferSize

	stream, err := portaudio.OpenStream(params, outputBuffer)
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}

	return &PortAudioStream{
		stream:       stream,
		outputBuffer: outputBuffer,
		isInput:      false,
	}, nil
}

// RouteChanges returns the hotplug notification channel
func (p *PortAudioBackend) RouteChanges() <-chan RouteChange {
	return p.routeCh
}

func (p *PortAudioBackend) isInitialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}

// resolveDevice maps a device ID back to its PortAudio descriptor. An empty
// ID or a stale ID falls back to the system default.
func (p *PortAudioBackend) resolveDevice(id string, input bool) (*portaudio.DeviceInfo, error) {
	if id != "" {
		infos, err := portaudio.Devices()
		if err == nil {
			for _, info := range infos {
				if deviceID(info) == id {
					return info, nil
				}
			}
		}
	}

	if input {
		info, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve input device: %w", err)
		}
		return info, nil
	}
	info, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output device: %w", err)
	}
	return info, nil
}

// pollDevices diffs the device set on an interval and emits route changes.
func (p *PortAudioBackend) pollDevices(stop <-chan struct{}) {
	known := p.snapshotDevices()
	ticker := time.NewTicker(devicePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			current := p.snapshotDevices()

			var added, removed []Device
			for id, dev := range current {
				if _, ok := known[id]; !ok {
					added = append(added, dev)
				}
			}
			for id, dev := range known {
				if _, ok := current[id]; !ok {
					removed = append(removed, dev)
				}
			}
			known = current

			if len(added) == 0 && len(removed) == 0 {
				continue
			}

			reason := RouteDeviceAdded
			if len(removed) > 0 {
				reason = RouteDeviceRemoved
			}

			// Drop the event rather than block the poller.
			select {
			case p.routeCh <- RouteChange{Reason: reason, Added: added, Removed: removed}:
			default:
			}
		}
	}
}

func (p *PortAudioBackend) snapshotDevices() map[string]Device {
	out := make(map[string]Device)
	inputs, err := p.InputDevices()
	if err != nil {
		return out
	}
	outputs, err := p.OutputDevices()
	if err != nil {
		return out
	}
	for _, d := range inputs {
		out["in:"+d.ID] = d
	}
	for _, d := range outputs {
		out["out:"+d.ID] = d
	}
	return out
}

func deviceID(info *portaudio.DeviceInfo) string {
	return strconv.Itoa(info.Index) + ":" + info.Name
}

// PortAudioStream implements StreamInterface using PortAudio streams
type PortAudioStream struct {
	stream       *portaudio.Stream
	inputBuffer  []float32
	outputBuffer []float32
	isInput      bool
	started      bool
}

// Start starts the audio stream
func (p *PortAudioStream) Start() error {
	if p.stream == nil {
		return fmt.Errorf("stream is nil")
	}
	if err := p.stream.Start(); err != nil {
		return err
	}
	p.started = true
	return nil
}

// Stop stops the audio stream
func (p *PortAudioStream) Stop() error {
	if p.stream == nil {
		return fmt.Errorf("stream is nil")
	}
	p.started = false
	return p.stream.Stop()
}

// Close closes the audio stream
func (p *PortAudioStream) Close() error {
	if p.stream == nil {
		return fmt.Errorf("stream is nil")
	}
	p.started = false
	return p.stream.Close()
}

// Write writes audio data to the output stream
func (p *PortAudioStream) Write(data []float32) error {
	if p.stream == nil {
		return fmt.Errorf("stream is nil")
	}
	if p.isInput {
		return fmt.Errorf("cannot write to input stream")
	}

	copy(p.outputBuffer, data)
	return p.stream.Write()
}

// Read reads audio data from the input stream
func (p *PortAudioStream) Read(data []float32) error {
	if p.stream == nil {
		return fmt.Errorf("stream is nil")
	}
	if !p.isInput {
		return fmt.Errorf("cannot read from output stream")
	}

	if err := p.stream.Read(); err != nil {
		return err
	}

	copy(data, p.inputBuffer)
	return nil
}

// IsActive returns true if the stream is active
func (p *PortAudioStream) IsActive() bool {
	return p.stream != nil && p.started
}
