/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package ignite

import (
	"github.com/badu/ignite-httpd/token"
)

// chunkState is the chunk sub-parser's state, entered only after the
// request-line/header parser has emitted a BODY token with
// Length == token.BodyChunked.
type chunkState uint8

const (
	csSize chunkState = iota
	csExtn
	csSizeLF
	csBody
	csBodyEndCR
	csBodyEndLF
	csFinalCR
	csFinalLF
)

type chunkParser struct {
	state      chunkState
	size       int64 // hex accumulator for the current chunk's declared size
	remaining  int64 // bytes of the current chunk's body not yet seen
	tokenStart int   // start of the in-progress CHUNK_BODY token
}

func (c *chunkParser) reset() { *c = chunkParser{} }

func hexVal(b byte) (int64, bool) {
	switch {
	case b >= '0' && b <= '9':
		return int64(b - '0'), true
	case b >= 'a' && b <= 'f':
		return int64(b-'a') + 10, true
	case b >= 'A' && b <= 'F':
		return int64(b-'A') + 10, true
	default:
		return 0, false
	}
}

// runChunkParser resumes the chunk sub-parser. It emits a single
// token.ChunkBody token per call (Length 0 marks the terminating
// zero-size chunk, i.e. end of body) or the zero token when the
// buffer is exhausted and more bytes are needed.
//
// Trailers after the terminating zero-size chunk are not supported;
// any bytes there other than the final CRLF are a parse error.
func (s *Session) runChunkParser() (token.Token, error) {
	c := &s.chunk
	buf := s.readBuf

	for s.parsePos < s.filled {
		switch c.state {
		case csSize:
			b := buf[s.parsePos]
			if v, ok := hexVal(b); ok {
				c.size = c.size*16 + v
				if c.size > int64(s.limits.maxContentLength) {
					return token.Token{}, payloadTooLarge("chunk size exceeds cap")
				}
				s.parsePos++
				continue
			}
			if b == ';' {
				c.state = csExtn
				s.parsePos++
				continue
			}
			if b == '\r' {
				c.state = csSizeLF
				s.parsePos++
				continue
			}
			return token.Token{}, badRequest("invalid chunk-size byte")

		case csExtn:
			if buf[s.parsePos] == '\r' {
				c.state = csSizeLF
			}
			s.parsePos++

		case csSizeLF:
			if buf[s.parsePos] != '\n' {
				return token.Token{}, badRequest("expected LF after chunk-size CR")
			}
			s.parsePos++
			c.remaining = c.size
			c.tokenStart = s.parsePos
			if c.size == 0 {
				c.state = csFinalCR
				continue
			}
			c.state = csBody

		case csBody:
			available := s.filled - s.parsePos
			// When the whole declared chunk is already buffered, skip
			// straight past the body and emit the token in one step.
			if int64(available) >= c.remaining {
				t := token.Token{Start: c.tokenStart, Length: int(c.size), Kind: token.ChunkBody}
				s.parsePos += int(c.remaining)
				c.remaining = 0
				c.state = csBodyEndCR
				return t, nil
			}
			// Not enough buffered yet; note what is here and let the
			// caller refill.
			c.remaining -= int64(available)
			s.parsePos = s.filled

		case csBodyEndCR:
			if buf[s.parsePos] != '\r' {
				return token.Token{}, badRequest("expected CR after chunk body")
			}
			s.parsePos++
			c.state = csBodyEndLF

		case csBodyEndLF:
			if buf[s.parsePos] != '\n' {
				return token.Token{}, badRequest("expected LF after chunk body CR")
			}
			s.parsePos++
			c.state = csSize
			c.size = 0
			c.tokenStart = s.parsePos

		case csFinalCR:
			if buf[s.parsePos] != '\r' {
				return token.Token{}, badRequest("trailers are not supported on chunked requests")
			}
			s.parsePos++
			c.state = csFinalLF

		case csFinalLF:
			if buf[s.parsePos] != '\n' {
				return token.Token{}, badRequest("expected LF after final chunk CR")
			}
			s.parsePos++
			return token.Token{Start: c.tokenStart, Length: 0, Kind: token.ChunkBody}, nil
		}
	}

	s.maybeCompactChunkBuffer()
	return token.Token{}, nil
}

// maybeCompactChunkBuffer bounds per-session memory during a long
// chunked upload: when the parser has hit the end of the buffer
// mid-chunk and the in-progress token started after the body's first
// byte, the partial bytes are slid back to the body start and filled
// shrinks to match, so subsequent reads overwrite chunk bytes already
// consumed. Afterward only the chunk parser's own cursor is valid;
// tokens recorded before chunk mode began must not be consulted again.
func (s *Session) maybeCompactChunkBuffer() {
	if s.chunk.state != csBody {
		return
	}
	if s.chunk.tokenStart <= s.parser.bodyStart {
		return
	}
	partialLen := s.filled - s.chunk.tokenStart
	copy(s.readBuf[s.parser.bodyStart:], s.readBuf[s.chunk.tokenStart:s.filled])
	s.chunk.tokenStart = s.parser.bodyStart
	s.filled = s.parser.bodyStart + partialLen
	s.readBuf = s.readBuf[:s.filled]
	s.parsePos = s.filled
}
