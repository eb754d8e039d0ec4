/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package ignite

import (
	"github.com/badu/ignite-httpd/token"
)

// Request is a read-only view over one Session's token log. It never
// owns bytes: every accessor returns a slice into the Session's read
// buffer, valid only until the next buffer compaction/free or until
// the session moves on to the next request.
type Request struct {
	session *Session

	// currentChunk is the most recently delivered CHUNK_BODY token;
	// finalChunk records whether it was the terminating zero-length one.
	currentChunk token.Token
	finalChunk   bool
}

// resetView clears the chunk cursor at the start of a new request.
// userdata is deliberately untouched: it belongs to the connection,
// not the request, and survives keep-alive reuse.
func (r *Request) resetView() {
	r.currentChunk = token.Token{}
	r.finalChunk = false
}

// Method returns the request-line method, e.g. "GET" - or any other
// byte sequence the peer sent; methods are opaque tokens here, not a
// fixed enum.
func (r *Request) Method() []byte { return r.firstToken(token.Method) }

// Target returns the request-target exactly as sent, with no URL
// parsing.
func (r *Request) Target() []byte { return r.firstToken(token.Target) }

// Version returns the HTTP version token, e.g. "HTTP/1.1".
func (r *Request) Version() []byte { return r.firstToken(token.Version) }

func (r *Request) firstToken(k token.Kind) []byte {
	t, ok := r.session.tokens.First(k)
	if !ok {
		return nil
	}
	return t.Bytes(r.session.readBuf)
}

// Body returns the buffered request body. Its length is 0 for an
// empty or chunked body; chunked bodies are exposed only through
// ReadChunk/CurrentChunk.
func (r *Request) Body() []byte {
	bt := r.session.bodyToken
	if bt.Kind != token.Body || bt.Length <= 0 {
		return nil
	}
	return r.session.readBuf[bt.Start : bt.Start+bt.Length]
}

// Header returns the value of the first header matching name,
// case-insensitively, or nil if absent.
func (r *Request) Header(name string) []byte {
	log := &r.session.tokens
	n := log.Len()
	for i := 0; i < n; i++ {
		t := log.At(i)
		if t.Kind != token.HeaderKey {
			continue
		}
		if !headerKeyEqualsName(t.Bytes(r.session.readBuf), name) {
			continue
		}
		if i+1 < n && log.At(i+1).Kind == token.HeaderValue {
			return log.At(i + 1).Bytes(r.session.readBuf)
		}
		return nil
	}
	return nil
}

func headerKeyEqualsName(key []byte, name string) bool {
	if len(key) != len(name) {
		return false
	}
	for i := 0; i < len(key); i++ {
		a, b := key[i], name[i]
		if 'A' <= a && a <= 'Z' {
			a += 'a' - 'A'
		}
		if 'A' <= b && b <= 'Z' {
			b += 'a' - 'A'
		}
		if a != b {
			return false
		}
	}
	return true
}

// IterateHeaders walks every header key/value pair in arrival order,
// stopping early if it returns false or once the body is reached.
func (r *Request) IterateHeaders(it func(key, value []byte) bool) {
	log := &r.session.tokens
	n := log.Len()
	for i := 0; i < n; i++ {
		t := log.At(i)
		if t.Kind == token.Body {
			return
		}
		if t.Kind != token.HeaderKey {
			continue
		}
		var value []byte
		if i+1 < n && log.At(i+1).Kind == token.HeaderValue {
			value = log.At(i + 1).Bytes(r.session.readBuf)
		}
		if !it(t.Bytes(r.session.readBuf), value) {
			return
		}
	}
}

// ReadChunk requests the next request-body chunk. If it is already
// buffered, cb runs synchronously with the chunk installed as the
// current one; otherwise the engine reads the socket and invokes cb
// once a full chunk has arrived. last is true for the terminating
// zero-length chunk, whose view is empty. Only meaningful on requests
// whose body is chunked; must be called on the loop goroutine.
func (r *Request) ReadChunk(cb func(chunk []byte, last bool)) {
	r.session.readChunk(cb)
}

// CurrentChunk returns the most recently delivered chunk body. Valid
// only until the next ReadChunk.
func (r *Request) CurrentChunk() []byte {
	return r.currentChunk.Bytes(r.session.readBuf)
}

// SetUserdata stores v on the session for the host's own use across
// the life of the connection.
func (r *Request) SetUserdata(v any) { r.session.userdata = v }

// Userdata returns whatever was last passed to SetUserdata, or nil.
func (r *Request) Userdata() any { return r.session.userdata }

// FreeBuffer releases the read buffer and token log early, for
// handlers that keep running long after the request has been fully
// parsed. Every view previously returned by Method/Target/Header/
// Body/CurrentChunk becomes invalid the moment this returns.
func (r *Request) FreeBuffer() {
	r.session.tokens.Reset()
	r.session.bodyToken = token.Token{}
	r.session.releaseBuffers()
}

// Connection overrides the auto-detected keep-alive/close decision for
// this response.
func (r *Request) Connection(d ConnDirective) { r.session.connDirective = d }

// Pause tells the session this request will be answered
// asynchronously: the loop goroutine is freed to serve other
// connections until the returned Completion's Resume is called.
func (r *Request) Pause() *Completion {
	r.session.response.paused = true
	return &Completion{session: r.session}
}
