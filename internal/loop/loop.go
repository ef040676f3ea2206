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

// Package loop implements the synchronized loop engine: the loop entities,
// the master clock that pins every loop to the first recording's length, the
// playback players and the mixer that coordinates them.
package loop

// Loop is one recorded clip owned by the mixer. Duration is the authoritative
// measured length of the decoded audio, fixed at creation.
type Loop struct {
	ID       string
	Path     string
	Duration float64
	Volume   float64
}

// State is the presentation-facing view of one loop.
type State struct {
	ID       string  `json:"id"`
	Duration float64 `json:"duration"`
	Volume   float64 `json:"volume"`
	Muted    bool    `json:"muted"`
	Soloed   bool    `json:"soloed"`
	Playing  bool    `json:"playing"`
}
