//go:build !linux

/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package reactor

// New returns ErrUnsupported on platforms without a kqueue backend
// yet. A kqueue implementation would mirror epoll_linux.go: kqueue()
// in place of epoll_create1, EVFILT_READ/EVFILT_WRITE with EV_CLEAR
// (edge-triggered) in place of EPOLLET, and EVFILT_USER for the Post
// wake-up in place of eventfd.
func New() (Loop, error) {
	return nil, ErrUnsupported
}
