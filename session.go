/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package ignite

import (
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/badu/ignite-httpd/admission"
	"github.com/badu/ignite-httpd/hdr"
	"github.com/badu/ignite-httpd/ignitelog"
	"github.com/badu/ignite-httpd/reactor"
	"github.com/badu/ignite-httpd/token"
)

// sessionState is the per-connection state machine:
// INIT -> READ_HEADERS -> (READ_BODY | NOP) -> handler -> WRITE ->
// (back to READ_HEADERS on keep-alive | closed), with READ_CHUNK
// entered on demand while a chunked request body is being consumed.
// Driven entirely from reactor callbacks on the loop goroutine - never
// a goroutine-per-connection blocking read.
type sessionState uint8

const (
	stateInit sessionState = iota
	stateReadHeaders
	stateReadBody
	stateReadChunk
	stateNop
	stateDispatching // handler is running; neither readable nor writable
	stateWrite
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateInit:
		return "INIT"
	case stateReadHeaders:
		return "READ_HEADERS"
	case stateReadBody:
		return "READ_BODY"
	case stateReadChunk:
		return "READ_CHUNK"
	case stateNop:
		return "NOP"
	case stateDispatching:
		return "DISPATCHING"
	case stateWrite:
		return "WRITE"
	default:
		return "CLOSED"
	}
}

// limits bounds a session's resource use; every field comes from the
// Server's config (options.go) and is copied in at session creation so a running
// session is unaffected by later reconfiguration.
type limits struct {
	readBufSize       int
	writeBufSize      int
	maxTokenLength    int
	maxHeaderCount    int
	maxContentLength  int64
	maxReadBufferCap  int
	maxWriteBufferCap int
	inactivitySeconds int // mid-request inactivity cap
	keepAliveSeconds  int // idle-between-requests cap
}

// Session is one accepted connection's entire state: the resumable
// parser, the token log, the pending response, and the fd it owns.
// Sessions are only ever touched on the loop goroutine; cross-goroutine
// completion goes through Completion.Resume, which posts back onto it.
type Session struct {
	srv *Server
	fd  int
	reg *reactor.Registration
	log ignitelog.Logger

	state   sessionState
	limits  limits
	readCap int64 // buffer capacity currently charged to srv.mem

	readBuf  []byte
	filled   int
	parsePos int

	parser parser
	chunk  chunkParser
	tokens token.Log

	bodyToken token.Token // cached BODY token so Request.Body doesn't re-scan the log

	// Connection policy captured off the header block the moment the
	// BODY token is emitted. Chunk-mode buffer compaction can overwrite
	// header bytes, so the keep-alive decision must not re-read them
	// at respond time.
	reqHTTP11     bool
	reqConnClose  bool
	reqHasConnHdr bool

	countdown int // seconds remaining before the session is closed for inactivity

	request  Request
	response Response

	connDirective     ConnDirective
	closeAfterRespond bool

	closedFlag   atomic.Bool                   // mirrors state == stateClosed, readable off the loop goroutine
	chunkCB      func(chunk []byte, last bool) // pending ReadChunk callback, nil when none requested
	chunkPumping bool                          // a readChunk delivery loop is already active on the stack
	inDispatch   bool                          // ServeHTTP is on the stack
	inPump       bool                          // pump is on the stack; nested entries must not recurse

	userdata any // host-owned, survives keep-alive reuse on the same connection
}

func newSession(srv *Server, fd int) *Session {
	s := &Session{
		srv:    srv,
		fd:     fd,
		log:    srv.log.Named("session"),
		limits: srv.limits,
		state:  stateInit,
	}
	s.request.session = s
	s.response.session = s
	return s
}

// Tick implements admission.Expirable.
func (s *Session) Tick() bool {
	s.countdown--
	return s.countdown <= 0
}

func (s *Session) resetCountdown() {
	s.countdown = s.limits.inactivitySeconds
}

func (s *Session) resetKeepAliveCountdown() {
	s.countdown = s.limits.keepAliveSeconds
}

// start runs the INIT step right after accept: consult the admission
// policy, charge the initial read buffer, and register for readability.
func (s *Session) start() error {
	if !s.srv.mem.Admit(s.srv.memCap) || !s.srv.limiter.Allow() {
		s.rejectAdmission()
		return ErrAdmissionRejected
	}

	s.growReadBuffer(s.limits.readBufSize)
	s.resetCountdown()
	s.srv.clock.Track(s)

	reg, err := s.srv.loop.Register(s.fd, reactor.Readable, s.onEvent)
	if err != nil {
		s.srv.clock.Untrack(s)
		s.releaseBuffers()
		unix.Close(s.fd)
		return err
	}
	s.reg = reg
	s.state = stateReadHeaders
	return nil
}

// rejectAdmission answers an over-cap accept with a canned 503 and
// closes the socket. Best effort: the peer may already be gone.
func (s *Session) rejectAdmission() {
	const body = "Service Unavailable"
	resp := "HTTP/1.1 503 Service Unavailable\r\n" +
		"Date: " + s.srv.date() + "\r\n" +
		"Connection: close\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"Content-Length: 19\r\n\r\n" + body
	_, _ = unix.Write(s.fd, []byte(resp))
	unix.Close(s.fd)
}

func (s *Session) growReadBuffer(newCap int) {
	old := int64(cap(s.readBuf))
	buf := make([]byte, s.filled, newCap)
	copy(buf, s.readBuf[:s.filled])
	s.readBuf = buf
	delta := int64(newCap) - old
	s.srv.mem.Grow(delta)
	s.readCap += delta
}

func (s *Session) releaseBuffers() {
	if s.readCap != 0 {
		s.srv.mem.Shrink(s.readCap)
		s.readCap = 0
	}
	s.readBuf = nil
	s.filled = 0
	s.parsePos = 0
}

// onEvent is the reactor.Callback registered for this session's fd. It
// is always invoked on the loop goroutine.
func (s *Session) onEvent(ev reactor.Event) {
	if ev.Err != nil {
		s.abort(ev.Err)
		return
	}
	if ev.Readable {
		s.onReadable()
	}
	if s.state == stateClosed {
		return
	}
	if ev.Writable {
		s.onWritable()
	}
}

// readableState reports whether the session may touch the socket's read
// side right now. In NOP the session does no socket reads at all until
// the host explicitly asks for the next chunk.
func (s *Session) readableState() bool {
	switch s.state {
	case stateReadHeaders, stateReadBody, stateReadChunk:
		return true
	default:
		return false
	}
}

// onReadable drains the socket into readBuf, resuming the parser after
// every fill. Edge-triggered readiness means the loop must read until
// EAGAIN before yielding.
func (s *Session) onReadable() {
	for s.readableState() {
		n, err := s.fillOnce()
		if n > 0 {
			s.resetCountdown()
			if !s.pump() {
				return
			}
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		// EOF or a hard error mid-request: silent close.
		s.abort(err)
		return
	}
}

// fillOnce performs a single read into the free tail of readBuf,
// growing (or re-allocating a freed) buffer first when needed.
func (s *Session) fillOnce() (int, error) {
	if cap(s.readBuf) == 0 {
		// Request.FreeBuffer released the buffer early; reallocate now
		// that more bytes are expected.
		s.growReadBuffer(s.limits.readBufSize)
	}
	if s.filled == cap(s.readBuf) {
		next := cap(s.readBuf) * 2
		if next > s.limits.maxReadBufferCap {
			s.failAndClose(413, "request exceeds buffer cap")
			return 0, ErrBufferCapExceeded
		}
		s.growReadBuffer(next)
	}
	n, err := unix.Read(s.fd, s.readBuf[s.filled:cap(s.readBuf)])
	if n > 0 {
		s.readBuf = s.readBuf[:s.filled+n]
		s.filled += n
		return n, nil
	}
	if err == nil {
		// n == 0 with no error is EOF.
		return 0, nil
	}
	return 0, err
}

// pump drives the appropriate sub-parser until it runs out of buffered
// bytes or the session leaves read mode (body complete, handler
// dispatched, or the peer violated a limit). Returns false when the
// session is no longer in a readable state.
func (s *Session) pump() bool {
	if s.inPump {
		return s.readableState()
	}
	s.inPump = true
	defer func() { s.inPump = false }()

	for {
		switch s.state {
		case stateReadHeaders:
			t, err := s.runParser()
			if err != nil {
				s.failParseError(err)
				return false
			}
			if t.Kind == token.None {
				return true // need more bytes
			}
			s.tokens.Append(t)
			if t.Kind == token.Body {
				s.bodyToken = t
				s.request.resetView()
				s.captureConnPolicy()
				if t.Length > 0 && t.Length != token.BodyChunked {
					s.state = stateReadBody
					continue
				}
				// No body, or a chunked one the host will pull on
				// demand: the handler runs now either way.
				if t.Length == token.BodyChunked {
					s.chunk.reset()
				}
				s.state = stateNop
				s.dispatch()
				if !s.readableState() {
					return false
				}
			}

		case stateReadBody:
			if !s.bodyBuffered() {
				return true
			}
			s.parsePos = s.bodyToken.Start + s.bodyToken.Length
			s.state = stateNop
			s.dispatch()
			if !s.readableState() {
				return false
			}

		case stateReadChunk:
			t, err := s.runChunkParser()
			if err != nil {
				s.failParseError(err)
				return false
			}
			if t.Kind == token.None {
				return true
			}
			s.request.currentChunk = t
			s.request.finalChunk = t.Length == 0
			s.state = stateNop
			s.deliverChunk()
			if !s.readableState() {
				return false
			}

		default:
			return false
		}
	}
}

// bodyBuffered reports whether the full declared Content-Length body
// has arrived in the buffer yet.
func (s *Session) bodyBuffered() bool {
	need := s.bodyToken.Start + s.bodyToken.Length
	return s.filled >= need
}

// captureConnPolicy snapshots the version and Connection header the
// moment the header block completes. Chunk-mode compaction may later
// overwrite those bytes, so the keep-alive decision cannot re-read
// them when the response is finally built.
func (s *Session) captureConnPolicy() {
	if t, ok := s.tokens.First(token.Version); ok {
		s.reqHTTP11 = string(t.Bytes(s.readBuf)) == "HTTP/1.1"
	}
	v := s.request.Header(hdr.Connection)
	s.reqHasConnHdr = v != nil
	s.reqConnClose = headerKeyEqualsName(v, "close")
}

// keepAliveDefault: close if Connection: close was sent, or the request
// is HTTP/1.0 without a Connection header; otherwise keep alive.
func (s *Session) keepAliveDefault() bool {
	if s.reqConnClose {
		return false
	}
	if !s.reqHTTP11 && !s.reqHasConnHdr {
		return false
	}
	return true
}

func (s *Session) decideKeepAlive() {
	switch s.connDirective {
	case ConnKeepAlive:
		s.closeAfterRespond = false
	case ConnClose:
		s.closeAfterRespond = true
	default:
		s.closeAfterRespond = !s.keepAliveDefault()
	}
}

// dispatch invokes the handler exactly once per request, after the
// request head (and any Content-Length body) is fully buffered, or
// immediately for a chunked request, whose body the handler pulls via
// Request.ReadChunk. The handler must not block: it either finishes
// the response before returning or arranges to finish it later.
func (s *Session) dispatch() {
	s.inDispatch = true
	s.state = stateDispatching
	if !s.response.initialized {
		s.response.reset()
	}

	s.srv.handler.ServeHTTP(&s.response, &s.request)

	s.inDispatch = false
	s.afterDispatch()
}

// afterDispatch decides what the handler's return means: a finished
// (or partially staged chunked) response starts the write phase, a
// pending ReadChunk keeps consuming the request body, and anything
// else parks the session until the response is resolved externally.
func (s *Session) afterDispatch() {
	if s.state == stateClosed || s.state == stateReadChunk {
		return
	}
	r := &s.response
	if r.explicitlyFinished || len(r.buf) > r.written {
		s.beginWrite()
		return
	}
	// Handler returned with nothing staged and didn't finish: the
	// response will be resolved asynchronously via Completion.
	r.paused = true
	s.state = stateNop
}

// readChunk services Request.ReadChunk: deliver the next request-body
// chunk to cb, synchronously when it is already buffered, otherwise
// after reading more from the socket. The delivery loop is iterative
// so a callback that immediately asks for the next chunk doesn't
// recurse once per chunk.
func (s *Session) readChunk(cb func(chunk []byte, last bool)) {
	if s.state == stateClosed {
		return
	}
	s.chunkCB = cb
	if s.request.finalChunk {
		// The terminating zero-size chunk was already seen; re-deliver.
		s.deliverChunk()
		return
	}
	s.state = stateReadChunk
	if s.chunkPumping || s.inPump {
		return // the active loop below (or pump) picks the request up
	}
	s.chunkPumping = true
	defer func() { s.chunkPumping = false }()

	for s.state == stateReadChunk {
		if s.filled > s.parsePos {
			t, err := s.runChunkParser()
			if err != nil {
				s.failParseError(err)
				return
			}
			if t.Kind != token.None {
				s.request.currentChunk = t
				s.request.finalChunk = t.Length == 0
				s.state = stateNop
				s.deliverChunk()
				continue
			}
		}
		// Not enough buffered: the readable edge may have fired while
		// the session sat in NOP, so read directly before waiting.
		n, err := s.fillOnce()
		if n > 0 {
			s.resetCountdown()
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			if err := s.srv.loop.Rearm(s.reg, reactor.Readable); err != nil {
				s.abort(err)
			}
			return
		}
		s.abort(err)
		return
	}
}

// deliverChunk hands the current chunk to the pending callback. The
// callback slot is cleared first: parsing ahead of the host's demand
// is never allowed, so a new chunk is only produced after another
// ReadChunk re-fills it.
func (s *Session) deliverChunk() {
	cb := s.chunkCB
	s.chunkCB = nil
	if cb == nil {
		return
	}
	cb(s.request.CurrentChunk(), s.request.finalChunk)
}

// beginWrite arms writability and makes the first write attempt. Every
// byte to send was already framed into response.buf by Respond or
// RespondChunk.
func (s *Session) beginWrite() {
	s.state = stateWrite
	if err := s.srv.loop.Rearm(s.reg, reactor.Writable); err != nil {
		s.abort(err)
		return
	}
	s.onWritable()
}

// onWritable flushes as much of the pending response as the socket will
// take. A short write leaves Writable armed and waits for the next
// event. A fully drained chunked response that isn't finished yet asks
// the host for its next chunk and keeps going if one was produced
// synchronously.
func (s *Session) onWritable() {
	for {
		buf := s.response.pending()
		for len(buf) > 0 {
			n, err := unix.Write(s.fd, buf)
			if n > 0 {
				s.response.advance(n)
				buf = buf[n:]
				s.resetCountdown()
			}
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				if err := s.srv.loop.Rearm(s.reg, reactor.Writable); err != nil {
					s.abort(err)
				}
				return
			}
			if err != nil || n == 0 {
				// Broken pipe and friends: silent close.
				s.abort(err)
				return
			}
		}
		if s.response.explicitlyFinished {
			s.finishWrite()
			return
		}
		if !s.response.fireChunkWritten() {
			return // mid-stream, waiting for the host's next RespondChunk
		}
	}
}

func (s *Session) finishWrite() {
	if s.closeAfterRespond {
		s.close()
		return
	}
	s.beginNextRequest()
}

// beginNextRequest returns a keep-alive session to its initial state.
// Buffers are released so the server-wide memory estimate drops back
// to what it was before the request, unless pipelined bytes for the
// next request are already sitting in the read buffer.
func (s *Session) beginNextRequest() {
	if !s.srv.mem.Admit(s.srv.memCap) {
		s.failAndClose(503, "server over memory budget")
		return
	}

	leftover := s.filled - s.parsePos
	if leftover > 0 {
		copy(s.readBuf, s.readBuf[s.parsePos:s.filled])
		s.readBuf = s.readBuf[:leftover]
		s.filled = leftover
	} else {
		s.releaseBuffers()
	}
	s.parsePos = 0

	s.tokens.Reset()
	s.parser.reset()
	s.chunk.reset()
	s.bodyToken = token.Token{}
	s.connDirective = ConnAuto
	s.response.release()
	s.response.initialized = false
	s.request.resetView()
	s.resetKeepAliveCountdown()

	s.state = stateReadHeaders
	if err := s.srv.loop.Rearm(s.reg, reactor.Readable); err != nil {
		s.abort(err)
		return
	}
	if s.filled > s.parsePos {
		s.pump()
	}
}

// resume is posted (possibly from another goroutine, via
// Completion.Resume) once a paused handler has finished filling in the
// Response. A stale resume on an already-closed session reports
// ErrSessionClosed instead of pretending the response was delivered.
func (s *Session) resume() error {
	if s.closedFlag.Load() {
		return ErrSessionClosed
	}
	return s.srv.loop.Post(func() {
		if s.state == stateClosed {
			return
		}
		s.response.paused = false
		if s.response.explicitlyFinished || len(s.response.buf) > s.response.written {
			s.beginWrite()
		}
	})
}

func (s *Session) failParseError(err error) {
	code := 400
	if pe, ok := err.(*ParseError); ok {
		code = pe.Code
	}
	s.failAndClose(code, err.Error())
}

// failAndClose writes a minimal error response (best effort - the
// connection is being torn down regardless) and closes the session.
func (s *Session) failAndClose(code int, msg string) {
	s.connDirective = ConnClose
	s.response.reset()
	s.response.Status(code)
	s.response.Header(hdr.ContentType, "text/plain; charset=utf-8")
	s.response.Body([]byte(msg))
	s.inDispatch = true // framing only; the write below is done by hand
	s.response.Respond()
	s.inDispatch = false

	buf := s.response.pending()
	for len(buf) > 0 {
		n, err := unix.Write(s.fd, buf)
		if n <= 0 || err != nil {
			break
		}
		buf = buf[n:]
	}
	s.close()
}

func (s *Session) abort(_ error) {
	s.close()
}

func (s *Session) close() {
	if s.state == stateClosed {
		return
	}
	s.state = stateClosed
	s.closedFlag.Store(true)
	s.srv.clock.Untrack(s)
	if s.reg != nil {
		_ = s.srv.loop.Remove(s.reg)
	}
	s.releaseBuffers()
	s.response.release()
	unix.Close(s.fd)
	s.srv.sessionClosed(s)
}

var _ admission.Expirable = (*Session)(nil)
