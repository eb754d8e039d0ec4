/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package admission

import (
	"golang.org/x/time/rate"
)

// Limiter shapes how fast new sessions are admitted, on top of the
// raw memory-cap threshold in Counter.Admit: an optional token-bucket
// so a burst of new connections can't all land in the same instant
// and blow past the memory cap before any of them has had a chance to
// be rejected. A nil *Limiter (or one built with ratePerSec <= 0)
// always admits.
type Limiter struct {
	rl *rate.Limiter
}

// NewLimiter builds a Limiter admitting up to burst sessions instantly
// and ratePerSec thereafter. ratePerSec <= 0 disables shaping (Allow
// always true).
func NewLimiter(ratePerSec float64, burst int) *Limiter {
	if ratePerSec <= 0 {
		return &Limiter{}
	}
	return &Limiter{rl: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Allow reports whether a new session may be admitted right now.
func (l *Limiter) Allow() bool {
	if l == nil || l.rl == nil {
		return true
	}
	return l.rl.Allow()
}
