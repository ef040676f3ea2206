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

package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/loopdeck/loopdeck-engine/internal/audio"
	"github.com/loopdeck/loopdeck-engine/internal/config"
	"github.com/loopdeck/loopdeck-engine/internal/engine"
	"github.com/loopdeck/loopdeck-engine/internal/logger"
	natsctl "github.com/loopdeck/loopdeck-engine/internal/nats"
)

func main() {
	cfg := config.Load()

	// Flags override environment configuration.
	natsURL := flag.String("nats", cfg.NATSURL, "NATS server URL (empty runs without a control surface)")
	storageDir := flag.String("storage", cfg.StorageDir, "Durable asset directory")
	flag.Parse()
	cfg.NATSURL = *natsURL
	cfg.StorageDir = *storageDir

	logger.Init(logger.Config{Level: cfg.LogLevel, OutputPath: cfg.LogPath})
	defer logger.Sync()

	logger.Info("🚀 Starting Loopdeck engine")
	logger.Info("📋 Configuration",
		zap.String("storage", cfg.StorageDir),
		zap.String("nats", cfg.NATSURL),
		zap.Float64("sample_rate", cfg.SampleRate))

	backend := audio.NewPortAudioBackend()
	if err := backend.Initialize(); err != nil {
		logger.Error("❌ Failed to initialize audio", zap.Error(err))
		os.Exit(1)
	}
	defer func() { _ = backend.Terminate() }()

	reportDevices(backend)

	eng, err := engine.New(backend, cfg)
	if err != nil {
		logger.Error("❌ Failed to start engine", zap.Error(err))
		os.Exit(1)
	}
	defer eng.Close()

	var control *natsctl.Control
	if cfg.NATSURL != "" {
		control, err = natsctl.Connect(cfg.NATSURL, eng)
		if err != nil {
			logger.Error("❌ Failed to reach NATS", zap.Error(err))
			os.Exit(1)
		}
		if err := control.Start(); err != nil {
			logger.Error("❌ Failed to start control surface", zap.Error(err))
			os.Exit(1)
		}
		defer control.Close()
	} else {
		logger.Warn("running without a control surface; no NATS URL configured")
	}

	logger.Info("✅ Loopdeck engine ready")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("👋 Shutting down")
}

// reportDevices logs the hardware the engine found at boot.
func reportDevices(backend audio.AudioBackend) {
	inputs, err := backend.InputDevices()
	if err != nil {
		logger.Warn("failed to enumerate input devices", zap.Error(err))
	}
	outputs, err := backend.OutputDevices()
	if err != nil {
		logger.Warn("failed to enumerate output devices", zap.Error(err))
	}

	for _, d := range inputs {
		logger.Info("🎤 Input device", zap.String("name", d.Name), zap.Bool("default", d.IsDefault))
	}
	for _, d := range outputs {
		logger.Info("🔊 Output device", zap.String("name", d.Name), zap.Bool("default", d.IsDefault))
	}
}
