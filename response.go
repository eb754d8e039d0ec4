/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package ignite

import (
	"strconv"

	"github.com/badu/ignite-httpd/hdr"
	"github.com/badu/ignite-httpd/status"
)

// Response accumulates a status, headers, and a body into a
// geometrically-growing wire buffer. There is no io.Writer in the
// middle: every growth site mirrors its capacity delta into the
// server's admission counter directly, so the counter always equals
// the sum of live buffer capacities.
type Response struct {
	session *Session

	initialized        bool
	paused             bool // handler returned without finishing; waiting on Completion.Resume
	explicitlyFinished bool // Respond or RespondChunkEnd was called
	chunkedStarted     bool // headers already flushed for a chunked response
	keepAliveDecided   bool
	inNotify           bool // the chunk-written callback is on the stack

	status   int
	headers  hdr.List // headers supplied before the response is finalized (or before chunking starts)
	trailers hdr.List // headers supplied after chunking starts; emitted by RespondChunkEnd

	body []byte // staged by Body(); the caller's slice is copied, it only has to survive the call

	onChunkWritten func() // optional: invoked when a chunked response has fully drained and wants more

	buf      []byte // built wire bytes
	writeCap int64  // capacity currently charged to srv.mem
	written  int    // bytes already handed to the socket
}

// reset prepares r for a new request/response cycle, keeping its
// backing wire buffer for the duration of the cycle.
func (r *Response) reset() {
	sess := r.session
	buf := r.buf[:0]
	writeCap := r.writeCap
	*r = Response{
		session:     sess,
		initialized: true,
		status:      200,
		buf:         buf,
		writeCap:    writeCap,
	}
}

// release frees the wire buffer and refunds its capacity, called when
// the session finishes a request cycle or closes.
func (r *Response) release() {
	if r.writeCap != 0 {
		r.session.srv.mem.Shrink(r.writeCap)
		r.writeCap = 0
	}
	r.buf = nil
	r.written = 0
}

// Status sets the response status code. Values outside 100-599 are
// normalized to 500 at write time.
func (r *Response) Status(code int) { r.status = code }

// Header adds a response header. A header added after chunked
// streaming has started would be illegal mid-stream, so it is held
// back and emitted as a trailer by RespondChunkEnd instead.
func (r *Response) Header(key, value string) {
	if r.chunkedStarted {
		r.trailers.Add(key, value)
		return
	}
	r.headers.Add(key, value)
}

// Body sets the response body. The slice is copied immediately; the
// caller's buffer only has to stay valid until Body returns.
func (r *Response) Body(b []byte) {
	r.body = append(r.body[:0], b...)
}

// OnChunkWritten registers fn to be called, on the loop goroutine,
// each time a chunked response has fully drained to the socket and the
// engine is ready for the next RespondChunk. Handlers that produce
// chunks faster than the peer reads them use this for flow control.
func (r *Response) OnChunkWritten(fn func()) { r.onChunkWritten = fn }

func (r *Response) ensureKeepAliveDecided() {
	if r.keepAliveDecided {
		return
	}
	r.keepAliveDecided = true
	r.session.decideKeepAlive()
}

func connOrClose(close bool) string {
	if close {
		return "close"
	}
	return "keep-alive"
}

func (r *Response) grow(extra int) {
	need := len(r.buf) + extra
	if need <= cap(r.buf) {
		return
	}
	newCap := cap(r.buf)
	if newCap == 0 {
		newCap = r.session.limits.writeBufSize
	}
	for newCap < need {
		newCap *= 2
	}
	old := int64(cap(r.buf))
	buf := make([]byte, len(r.buf), newCap)
	copy(buf, r.buf)
	r.buf = buf
	delta := int64(newCap) - old
	r.session.srv.mem.Grow(delta)
	r.writeCap += delta
}

func (r *Response) writeBytes(p []byte) {
	r.grow(len(p))
	r.buf = append(r.buf, p...)
}

func (r *Response) writeString(s string) { r.writeBytes([]byte(s)) }

// writeStatusAndHeaders emits the status line, Date, Connection, and
// every header staged so far, in insertion order.
func (r *Response) writeStatusAndHeaders() {
	code := status.Normalize(r.status)
	r.writeString("HTTP/1.1 " + strconv.Itoa(code) + " " + status.Text(code) + "\r\n")
	r.writeString("Date: " + r.session.srv.date() + "\r\n")
	r.writeString("Connection: " + connOrClose(r.session.closeAfterRespond) + "\r\n")
	r.headers.Each(func(k, v string) bool {
		r.writeString(k + ": " + v + "\r\n")
		return true
	})
}

// maybeEnterWrite re-enters the session machine when a response method
// is called outside the handler's synchronous dispatch: from a chunk
// callback, a posted closure, or the drain notification. Calls made
// while the handler is still on the stack are picked up when it
// returns; calls from a paused handler's goroutine go through
// Completion.Resume instead.
func (r *Response) maybeEnterWrite() {
	s := r.session
	if s.inDispatch || r.paused || r.inNotify {
		return
	}
	if s.state == stateReadChunk || s.state == stateClosed {
		return // request chunks still being consumed, or too late
	}
	if s.state == stateWrite {
		s.onWritable()
		return
	}
	s.beginWrite()
}

// Respond finalizes a non-chunked response: status line, Date,
// Connection, user headers, Content-Length, blank line, body.
func (r *Response) Respond() {
	r.ensureKeepAliveDecided()
	r.writeStatusAndHeaders()
	r.writeString("Content-Length: " + strconv.Itoa(len(r.body)) + "\r\n\r\n")
	r.writeBytes(r.body)
	r.explicitlyFinished = true
	r.maybeEnterWrite()
}

// RespondChunk streams one chunk of a chunked response. The first call
// additionally emits Transfer-Encoding: chunked and the header block.
func (r *Response) RespondChunk(b []byte) {
	if !r.chunkedStarted {
		r.startChunked()
	}
	r.writeString(strconv.FormatInt(int64(len(b)), 16) + "\r\n")
	r.writeBytes(b)
	r.writeString("\r\n")
	r.maybeEnterWrite()
}

func (r *Response) startChunked() {
	r.ensureKeepAliveDecided()
	r.chunkedStarted = true
	r.writeStatusAndHeaders()
	r.writeString("Transfer-Encoding: chunked\r\n\r\n")
}

// RespondChunkEnd emits the terminating zero-size chunk, then any
// headers added after streaming began as trailers, then the final
// blank line.
func (r *Response) RespondChunkEnd() {
	if !r.chunkedStarted {
		r.startChunked()
	}
	r.writeString("0\r\n")
	r.trailers.Each(func(k, v string) bool {
		r.writeString(k + ": " + v + "\r\n")
		return true
	})
	r.writeString("\r\n")
	r.chunkedStarted = false
	r.explicitlyFinished = true
	r.maybeEnterWrite()
}

// fireChunkWritten runs the drain notification, reporting whether it
// produced more bytes to write (or finished the response) so the write
// loop knows to keep going.
func (r *Response) fireChunkWritten() bool {
	if r.onChunkWritten == nil {
		return false
	}
	r.inNotify = true
	r.onChunkWritten()
	r.inNotify = false
	return len(r.pending()) > 0 || r.explicitlyFinished
}

// pending returns the bytes not yet handed to the socket.
func (r *Response) pending() []byte { return r.buf[r.written:] }

// advance records n more bytes as written.
func (r *Response) advance(n int) { r.written += n }
