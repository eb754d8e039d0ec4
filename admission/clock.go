/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package admission

import "sync"

// Expirable is anything with a countdown a Clock can decrement: a
// session's inactivity timer.
type Expirable interface {
	// Tick decrements the countdown by one second and reports whether it
	// reached zero (in which case the Clock forgets it).
	Tick() (expired bool)
}

// Clock coalesces every live session's 1-second inactivity countdown
// into a single table scanned once per reactor timer tick, instead of
// one OS timer per connection.
type Clock struct {
	mu       sync.Mutex
	tracked  map[Expirable]struct{}
	onExpire func(Expirable)
}

// NewClock creates a Clock that calls onExpire for every Expirable whose
// countdown reaches zero on a Tick.
func NewClock(onExpire func(Expirable)) *Clock {
	return &Clock{
		tracked:  make(map[Expirable]struct{}),
		onExpire: onExpire,
	}
}

// Track starts counting down e. Re-tracking an already-tracked e is a
// no-op; sessions call Track again after every reset of their own
// countdown value, which this Clock treats as "still alive, keep going"
// since the countdown value itself lives on e, not here.
func (c *Clock) Track(e Expirable) {
	c.mu.Lock()
	c.tracked[e] = struct{}{}
	c.mu.Unlock()
}

// Untrack stops counting e down, e.g. after the session closes.
func (c *Clock) Untrack(e Expirable) {
	c.mu.Lock()
	delete(c.tracked, e)
	c.mu.Unlock()
}

// Tick decrements every tracked Expirable once, reporting the expired
// ones via onExpire and removing them. Intended to be called from the
// reactor's repeating 1-second timer callback.
func (c *Clock) Tick() {
	c.mu.Lock()
	var expired []Expirable
	for e := range c.tracked {
		if e.Tick() {
			expired = append(expired, e)
			delete(c.tracked, e)
		}
	}
	c.mu.Unlock()

	for _, e := range expired {
		c.onExpire(e)
	}
}
