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

package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config stores the engine configuration. Values come from the environment
// (optionally seeded by a .env file) with sensible defaults for a headless
// deployment.
type Config struct {
	StorageDir      string  // Durable app storage for recorded/imported assets
	NATSURL         string  // Control surface; empty disables the NATS bridge
	SampleRate      float64 // Capture/playback sample rate in Hz
	Channels        int     // 1 = mono capture, matches the recording path
	FramesPerBuffer int     // Buffer size per audio I/O round trip
	PadMaxSeconds   float64 // Hard recording ceiling for soundboard pads
	LogLevel        string
	LogPath         string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvFloat gets an environment variable as float64 or returns a default value.
func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override variables already in the environment.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables and defaults.")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return &Config{
		StorageDir:      getEnv("LOOPDECK_STORAGE_DIR", filepath.Join(home, ".loopdeck", "sounds")),
		NATSURL:         getEnv("LOOPDECK_NATS_URL", "nats://localhost:4222"),
		SampleRate:      getEnvFloat("LOOPDECK_SAMPLE_RATE", 44100.0),
		Channels:        getEnvInt("LOOPDECK_CHANNELS", 1),
		FramesPerBuffer: getEnvInt("LOOPDECK_FRAMES_PER_BUFFER", 1024),
		PadMaxSeconds:   getEnvFloat("LOOPDECK_PAD_MAX_SECONDS", 10.0),
		LogLevel:        getEnv("LOOPDECK_LOG_LEVEL", "info"),
		LogPath:         getEnv("LOOPDECK_LOG_PATH", filepath.Join(home, ".loopdeck", "logs", "engine.log")),
	}
}
