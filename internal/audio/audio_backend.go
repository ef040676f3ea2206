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

// AudioBackend provides an abstraction layer for audio operations.
// This enables dependency injection and makes testing hardware-independent.
type AudioBackend interface {
	// Initialize the audio subsystem
	Initialize() error

	// Terminate the audio subsystem
	Terminate() error

	// InputDevices lists the currently available capture devices
	InputDevices() ([]Device, error)

	// OutputDevices lists the currently available playback devices
	OutputDevices() ([]Device, error)

	// DefaultInputDevice returns the system default capture device
	DefaultInputDevice() (Device, error)

	// DefaultOutputDevice returns the system default playback device
	DefaultOutputDevice() (Device, error)

	// CreateInputStream creates an input stream for recording on a device.
	// An empty deviceID selects the system default.
	CreateInputStream(deviceID string, sampleRate float64, channels, bufferSize int) (StreamInterface, error)

	// CreateOutputStream creates an output stream for playback on a device.
	// An empty deviceID selects the system default.
	CreateOutputStream(deviceID string, sampleRate float64, channels, bufferSize int) (StreamInterface, error)

	// RouteChanges delivers hardware route-change notifications. The channel
	// stays open for the lifetime of the backend; events may be dropped if
	// the consumer falls behind.
	RouteChanges() <-chan RouteChange
}

// Device describes one hardware audio port.
type Device struct {
	ID        string
	Name      string
	IsInput   bool
	IsDefault bool
}

// RouteChange describes a change in the available hardware ports.
type RouteChange struct {
	Reason  RouteChangeReason
	Added   []Device
	Removed []Device
}

// RouteChangeReason categorizes why the route changed.
type RouteChangeReason string

const (
	RouteDeviceAdded   RouteChangeReason = "device-added"
	RouteDeviceRemoved RouteChangeReason = "device-removed"
	RouteUnknown       RouteChangeReason = "unknown"
)

// StreamInterface abstracts audio stream operations.
type StreamInterface interface {
	// Start the audio stream
	Start() error

	// Stop the audio stream
	Stop() error

	// Close the audio stream and release resources
	Close() error

	// Write audio data to output stream
	Write(data []float32) error

	// Read audio data from input stream
	Read(data []float32) error

	// IsActive returns true if the stream is currently active
	IsActive() bool
}
