/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package ignite

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/badu/ignite-httpd/reactor"
)

// listen opens the non-blocking listening socket on s.addr and
// registers it with the reactor. Failures here are fatal to the host:
// there is no server without a listening socket.
func (s *Server) listen() error {
	tcpAddr, err := net.ResolveTCPAddr("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("ignite: resolve %q: %w", s.addr, err)
	}
	sa, family, err := sockaddrFor(tcpAddr)
	if err != nil {
		return err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return fmt.Errorf("ignite: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("ignite: setsockopt(SO_REUSEADDR): %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return fmt.Errorf("ignite: bind %q: %w", s.addr, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return fmt.Errorf("ignite: listen %q: %w", s.addr, err)
	}

	reg, err := s.loop.Register(fd, reactor.Readable, s.onAcceptable)
	if err != nil {
		unix.Close(fd)
		return err
	}
	s.lnMu.Lock()
	s.lnFD = fd
	s.lnReg = reg
	s.lnMu.Unlock()
	s.log.Info("listening", "addr", s.addr)
	return nil
}

func sockaddrFor(addr *net.TCPAddr) (unix.Sockaddr, int, error) {
	ip := addr.IP
	if ip == nil {
		ip = net.IPv4zero
	}
	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	if ip16 := ip.To16(); ip16 != nil {
		sa := &unix.SockaddrInet6{Port: addr.Port}
		copy(sa.Addr[:], ip16)
		return sa, unix.AF_INET6, nil
	}
	return nil, 0, fmt.Errorf("ignite: unusable listen address %v", addr)
}

// Addr returns the bound listen address once the server is listening,
// or nil before that. Useful with a ":0" configured address.
func (s *Server) Addr() net.Addr {
	s.lnMu.Lock()
	fd := s.lnFD
	s.lnMu.Unlock()
	if fd < 0 {
		return nil
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil
	}
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append(net.IP(nil), sa.Addr[:]...), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append(net.IP(nil), sa.Addr[:]...), Port: sa.Port}
	default:
		return nil
	}
}

// onAcceptable accepts every pending connection (the readiness is
// edge-triggered, so the accept loop must run until EAGAIN) and spins
// a Session up for each.
func (s *Server) onAcceptable(_ reactor.Event) {
	s.lnMu.Lock()
	lnFD := s.lnFD
	s.lnMu.Unlock()
	if lnFD < 0 {
		return
	}
	for {
		fd, _, err := unix.Accept4(lnFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		if err == unix.EINTR || err == unix.ECONNABORTED {
			continue
		}
		if err != nil {
			s.log.Error("accept failed", "error", err)
			return
		}
		// Responses are written in few large bursts from a fully framed
		// buffer; coalescing them behind Nagle only adds latency.
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

		sess := newSession(s, fd)
		if err := sess.start(); err != nil {
			if err != ErrAdmissionRejected {
				s.log.Warn("session start failed", "error", err)
			}
			continue
		}
		s.trackSession(sess)
	}
}
