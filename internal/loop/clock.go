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

import "sync"

// Clock holds the master loop duration. It is set exactly once by the first
// successfully validated recording and stays fixed until the loop collection
// empties, at which point it resets to unset.
type Clock struct {
	mu       sync.Mutex
	duration float64
	set      bool
}

// NewClock returns an unset clock.
func NewClock() *Clock {
	return &Clock{}
}

// Set fixes the master duration if it is not already fixed. Returns true if
// this call set it.
func (c *Clock) Set(seconds float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set || seconds <= 0 {
		return false
	}
	c.duration = seconds
	c.set = true
	return true
}

// Duration returns the master duration and whether one is set.
func (c *Clock) Duration() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration, c.set
}

// Reset clears the master duration. Called when the loop collection becomes
// empty.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.duration = 0
	c.set = false
}
