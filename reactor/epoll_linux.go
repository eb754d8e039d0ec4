//go:build linux

/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package reactor

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// epollLoop is the Linux backend: one epoll instance, one eventfd used to
// wake Run/Poll for Post'ed work, and the shared timerWheel.
type epollLoop struct {
	epfd int
	wake int // eventfd, level-triggered readable whenever a Post is pending

	mu   sync.Mutex
	regs map[int]*Registration

	postedMu sync.Mutex
	posted   []func()

	timers timerWheel

	closed bool
}

// New creates the Linux epoll-backed reactor.
func New() (Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	wake, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("reactor: eventfd: %w", err)
	}
	l := &epollLoop{
		epfd: epfd,
		wake: wake,
		regs: make(map[int]*Registration),
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wake)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wake, &ev); err != nil {
		unix.Close(epfd)
		unix.Close(wake)
		return nil, fmt.Errorf("reactor: epoll_ctl(wake): %w", err)
	}
	return l, nil
}

func epollEventsFor(i Interest) uint32 {
	var e uint32 = unix.EPOLLET // edge-triggered: callers must drain on readable
	if i&Readable != 0 {
		e |= unix.EPOLLIN
	}
	if i&Writable != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func (l *epollLoop) Register(fd int, interest Interest, cb Callback) (*Registration, error) {
	if err := validateInterest(interest); err != nil {
		return nil, err
	}
	reg := &Registration{fd: fd, cb: cb, interest: interest}
	ev := unix.EpollEvent{Events: epollEventsFor(interest), Fd: int32(fd)}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return nil, fmt.Errorf("reactor: epoll_ctl(add, fd=%d): %w", fd, err)
	}
	l.regs[fd] = reg
	return reg, nil
}

func (l *epollLoop) Rearm(reg *Registration, interest Interest) error {
	if err := validateInterest(interest); err != nil {
		return err
	}
	reg.interest = interest
	ev := unix.EpollEvent{Events: epollEventsFor(interest), Fd: int32(reg.fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, reg.fd, &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl(mod, fd=%d): %w", reg.fd, err)
	}
	return nil
}

func (l *epollLoop) Remove(reg *Registration) error {
	l.mu.Lock()
	delete(l.regs, reg.fd)
	l.mu.Unlock()
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, reg.fd, nil); err != nil {
		return fmt.Errorf("reactor: epoll_ctl(del, fd=%d): %w", reg.fd, err)
	}
	return nil
}

func (l *epollLoop) AddTimer(period time.Duration, cb func()) *Timer {
	return l.timers.add(period, cb, time.Now())
}

func (l *epollLoop) Post(fn func()) error {
	l.postedMu.Lock()
	l.posted = append(l.posted, fn)
	l.postedMu.Unlock()
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(l.wake, buf[:])
	return err
}

func (l *epollLoop) drainPosted() {
	l.postedMu.Lock()
	work := l.posted
	l.posted = nil
	l.postedMu.Unlock()
	for _, fn := range work {
		fn()
	}
}

// drainWake reads (and discards) the eventfd counter so it goes back to
// non-readable; the loop re-arms nothing since the wake fd is
// level-triggered by design (it always needs to be armed).
func (l *epollLoop) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(l.wake, buf[:])
		if err != nil {
			return
		}
	}
}

const maxEventsPerWait = 128

func (l *epollLoop) waitOnce(timeoutMS, maxEvents int) (bool, error) {
	var events [maxEventsPerWait]unix.EpollEvent
	n, err := unix.EpollWait(l.epfd, events[:maxEvents], timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, fmt.Errorf("reactor: epoll_wait: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		if fd == l.wake {
			l.drainWake()
			l.drainPosted()
			continue
		}
		l.mu.Lock()
		reg, ok := l.regs[fd]
		l.mu.Unlock()
		if !ok {
			continue
		}
		ev := Event{}
		flags := events[i].Events
		if flags&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			ev.Err = fmt.Errorf("reactor: fd %d reported EPOLLERR/EPOLLHUP", fd)
		}
		if flags&unix.EPOLLIN != 0 {
			ev.Readable = true
		}
		if flags&unix.EPOLLOUT != 0 {
			ev.Writable = true
		}
		reg.cb(ev)
	}
	return true, nil
}

func (l *epollLoop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		now := time.Now()
		timeout := 1000 // ms; bounds how late a 1s timer can run
		if d, ok := l.timers.nextDeadline(now); ok {
			ms := int(d / time.Millisecond)
			if ms < timeout {
				timeout = ms
			}
		}
		if _, err := l.waitOnce(timeout, maxEventsPerWait); err != nil {
			return err
		}
		l.timers.fire(time.Now())
	}
}

func (l *epollLoop) Poll() (bool, error) {
	did, err := l.waitOnce(0, 1)
	if err != nil {
		return did, err
	}
	l.timers.fire(time.Now())
	return did, nil
}

func (l *epollLoop) Close() error {
	l.mu.Lock()
	closed := l.closed
	l.closed = true
	l.mu.Unlock()
	if closed {
		return nil
	}
	unix.Close(l.wake)
	return unix.Close(l.epfd)
}
