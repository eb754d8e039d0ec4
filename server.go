/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package ignite is a single-process, non-blocking HTTP/1.1 server
// engine: an epoll reactor, a resumable byte-oriented request parser,
// a per-connection session state machine, and a response builder,
// meant to be embedded in a host program that supplies only a
// Handler.
package ignite

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/badu/ignite-httpd/admission"
	"github.com/badu/ignite-httpd/ignitelog"
	"github.com/badu/ignite-httpd/reactor"
)

// Server owns the listening socket, the reactor loop, the cached date
// string, and every live Session. Construct one with New and drive it
// with Run or Poll.
type Server struct {
	addr    string
	handler Handler
	log     ignitelog.Logger
	limits  limits
	cfg     config

	lnMu  sync.Mutex
	lnFD  int
	lnReg *reactor.Registration

	closed atomic.Bool // set by Close; makes Run/Poll report ErrServerClosed

	loop reactor.Loop

	mem     admission.Counter
	memCap  int64
	limiter *admission.Limiter
	clock   *admission.Clock

	dateMu  sync.RWMutex
	dateStr string

	dateTimerOnce       sync.Once
	inactivityTimerOnce sync.Once

	sessMu   sync.Mutex
	sessions map[*Session]struct{}
}

var sigpipeOnce sync.Once

// New builds a Server bound to addr (e.g. ":8080") with handler as
// the sole request callback. It does not start listening yet - call
// Run or Poll.
func New(addr string, handler Handler, opts ...Option) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("ignite: handler must not be nil")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ignoreSIGPIPE {
		// SIGPIPE is ignored process-wide so write failures surface as
		// errors instead of signals. This is the one true global the
		// engine installs; opt out with WithoutSIGPIPEIgnored if the
		// host manages signals itself.
		sigpipeOnce.Do(func() { signal.Ignore(syscall.SIGPIPE) })
	}

	loop, err := reactor.New()
	if err != nil {
		return nil, fmt.Errorf("ignite: %w", err)
	}

	s := &Server{
		addr:     addr,
		handler:  handler,
		log:      cfg.log,
		limits:   cfg.limits(),
		cfg:      cfg,
		lnFD:     -1,
		loop:     loop,
		memCap:   cfg.maxTotalMemUsage,
		limiter:  cfg.newLimiter(),
		sessions: make(map[*Session]struct{}),
	}
	s.clock = admission.NewClock(func(e admission.Expirable) {
		e.(*Session).close()
	})
	s.refreshDate()
	return s, nil
}

// Loop exposes the reactor handle, for hosts that need to post work
// onto the loop goroutine (e.g. to finish a paused response).
func (s *Server) Loop() reactor.Loop { return s.loop }

// Run listens on s.addr and blocks, dispatching reactor events until
// ctx is cancelled, Close is called (ErrServerClosed), or a fatal I/O
// error occurs.
func (s *Server) Run(ctx context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if err := s.listen(); err != nil {
		return err
	}
	s.ensureDateTimer()
	s.ensureInactivityTimer()
	err := s.loop.Run(ctx)
	if s.closed.Load() {
		return ErrServerClosed
	}
	return err
}

// Poll listens (on first call) and services at most one ready event
// non-blocking, returning whether it did anything - intended for
// embedding in a host's own loop. The date-refresh timer is
// registered lazily here too, so a polled embedder still gets a live
// Date header without ever calling Run.
func (s *Server) Poll() (bool, error) {
	if s.closed.Load() {
		return false, ErrServerClosed
	}
	if s.lnReg == nil {
		if err := s.listen(); err != nil {
			return false, err
		}
	}
	s.ensureDateTimer()
	s.ensureInactivityTimer()
	return s.loop.Poll()
}

// Close stops accepting new connections and releases the reactor's OS
// resources. Live sessions are not forcibly closed.
func (s *Server) Close() error {
	s.closed.Store(true)
	s.lnMu.Lock()
	reg, fd := s.lnReg, s.lnFD
	s.lnReg, s.lnFD = nil, -1
	s.lnMu.Unlock()
	if reg != nil {
		_ = s.loop.Remove(reg)
	}
	if fd >= 0 {
		unix.Close(fd)
	}
	return s.loop.Close()
}

func (s *Server) ensureDateTimer() {
	s.dateTimerOnce.Do(func() {
		s.loop.AddTimer(time.Second, s.refreshDate)
	})
}

func (s *Server) ensureInactivityTimer() {
	s.inactivityTimerOnce.Do(func() {
		s.loop.AddTimer(time.Second, s.clock.Tick)
	})
}

// date returns the cached 24-byte ANSI-C-style date string
// ("Www Mmm dd hh:mm:ss yyyy"), refreshed once a second.
func (s *Server) date() string {
	s.dateMu.RLock()
	d := s.dateStr
	s.dateMu.RUnlock()
	return d
}

func (s *Server) refreshDate() {
	d := time.Now().UTC().Format(time.ANSIC)
	s.dateMu.Lock()
	s.dateStr = d
	s.dateMu.Unlock()
}

// NewResponse returns the Response bound to r's session, ready for
// the handler to fill in.
func (s *Server) NewResponse(r *Request) *Response { return &r.session.response }

func (s *Server) sessionClosed(sess *Session) {
	s.sessMu.Lock()
	delete(s.sessions, sess)
	s.sessMu.Unlock()
}

func (s *Server) trackSession(sess *Session) {
	s.sessMu.Lock()
	s.sessions[sess] = struct{}{}
	s.sessMu.Unlock()
}
