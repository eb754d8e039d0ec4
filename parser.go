/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package ignite

import (
	"github.com/badu/ignite-httpd/token"
)

// primaryState is the parser's outer state.
type primaryState uint8

const (
	pMethod primaryState = iota
	pTarget
	pVersion
	pVersionLF
	pHeaderLineStart
	pHeaderKey
	pHeaderValueLWS
	pHeaderValue
	pHeaderValueLF
	pHeaderBlankLF
	pBody // terminal: the request line + headers are fully tokenized
)

// parser holds the resumable state for one request's method/target/
// version/header tokenizing: primary state, the token-in-progress
// start index, a decimal running Content-Length total, and the two
// rolling case-insensitive matchers against "content-length" and
// "transfer-encoding" - scanned in parallel, never via a built header
// map.
type parser struct {
	state      primaryState
	tokenStart int

	contentLength int64 // decimal running total while reading Content-Length's value
	headerCount   int

	matchCL int // how many of "content-length" matched so far against the header key being scanned
	matchTE int // how many of "transfer-encoding" matched so far

	curHeaderIsCL bool // true while scanning a value whose key fully matched "content-length"
	curHeaderIsTE bool // true while scanning a value whose key fully matched "transfer-encoding"
	teMatch       int  // rolling match of the TE value against "chunked"

	sawContentLength    bool
	sawTransferEncoding bool
	isChunked           bool

	bodyStart int // index where the body (or chunked stream) begins; read by the compactor
}

func (p *parser) reset() { *p = parser{} }

const (
	literalContentLength    = "content-length"
	literalTransferEncoding = "transfer-encoding"
	literalChunked          = "chunked"
)

func asciiLower(b byte) byte {
	if 'A' <= b && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

// advanceHeaderKeyMatch feeds one lower-cased byte of a header name into
// both rolling matchers. A mismatch pins the counter at -1 so it can
// never spuriously re-match later in the same key.
func (p *parser) advanceHeaderKeyMatch(lower byte) {
	if p.matchCL >= 0 {
		if p.matchCL < len(literalContentLength) && literalContentLength[p.matchCL] == lower {
			p.matchCL++
		} else {
			p.matchCL = -1
		}
	}
	if p.matchTE >= 0 {
		if p.matchTE < len(literalTransferEncoding) && literalTransferEncoding[p.matchTE] == lower {
			p.matchTE++
		} else {
			p.matchTE = -1
		}
	}
}

func (p *parser) advanceChunkedMatch(lower byte) {
	if p.teMatch < 0 {
		return
	}
	if p.teMatch < len(literalChunked) && literalChunked[p.teMatch] == lower {
		p.teMatch++
	} else {
		p.teMatch = -1
	}
}

// ParseError is returned by Session parsing when the request is
// malformed or exceeds a configured limit; Code is the response status
// the session sends before closing.
type ParseError struct {
	Code int
	Msg  string
}

func (e *ParseError) Error() string { return e.Msg }

func badRequest(msg string) error      { return &ParseError{Code: 400, Msg: msg} }
func payloadTooLarge(msg string) error { return &ParseError{Code: 413, Msg: msg} }

// runParser resumes parsing s.readBuf[s.parsePos:s.filled] and either
// emits exactly one token (returning it, Kind != token.None) or
// exhausts the buffer and returns the zero token - the caller's signal
// to wait for more bytes. Emitting at most one token per call lets the
// session act on each token (switch to chunk mode, enforce limits)
// before the parser is resumed.
func (s *Session) runParser() (token.Token, error) {
	p := &s.parser
	buf := s.readBuf

	for s.parsePos < s.filled {
		b := buf[s.parsePos]

		switch p.state {
		case pMethod:
			if b == ' ' {
				t := token.Token{Start: p.tokenStart, Length: s.parsePos - p.tokenStart, Kind: token.Method}
				s.parsePos++
				p.state, p.tokenStart = pTarget, s.parsePos
				return checkTokenLen(t, s)
			}
			s.parsePos++

		case pTarget:
			if b == ' ' {
				t := token.Token{Start: p.tokenStart, Length: s.parsePos - p.tokenStart, Kind: token.Target}
				s.parsePos++
				p.state, p.tokenStart = pVersion, s.parsePos
				return checkTokenLen(t, s)
			}
			s.parsePos++

		case pVersion:
			if b == '\r' {
				t := token.Token{Start: p.tokenStart, Length: s.parsePos - p.tokenStart, Kind: token.Version}
				s.parsePos++
				p.state = pVersionLF
				return checkTokenLen(t, s)
			}
			s.parsePos++

		case pVersionLF:
			if b != '\n' {
				return token.Token{}, badRequest("expected LF after request-line CR")
			}
			s.parsePos++
			p.state = pHeaderLineStart

		case pHeaderLineStart:
			if b == '\r' {
				s.parsePos++
				p.state = pHeaderBlankLF
				continue
			}
			p.tokenStart = s.parsePos
			p.matchCL, p.matchTE = 0, 0
			p.state = pHeaderKey

		case pHeaderKey:
			if b == ':' {
				t := token.Token{Start: p.tokenStart, Length: s.parsePos - p.tokenStart, Kind: token.HeaderKey}
				s.parsePos++
				p.headerCount++
				if p.headerCount > s.limits.maxHeaderCount {
					return token.Token{}, badRequest("too many headers")
				}
				p.curHeaderIsCL = p.matchCL == len(literalContentLength)
				p.curHeaderIsTE = p.matchTE == len(literalTransferEncoding)
				p.teMatch = 0
				p.state, p.tokenStart = pHeaderValueLWS, s.parsePos
				return checkTokenLen(t, s)
			}
			p.advanceHeaderKeyMatch(asciiLower(b))
			s.parsePos++

		case pHeaderValueLWS:
			if b == ' ' || b == '\t' {
				s.parsePos++
				p.tokenStart = s.parsePos
				continue
			}
			p.state = pHeaderValue

		case pHeaderValue:
			if b == '\r' {
				t := token.Token{Start: p.tokenStart, Length: s.parsePos - p.tokenStart, Kind: token.HeaderValue}
				s.parsePos++
				p.state = pHeaderValueLF
				return checkTokenLen(t, s)
			}
			if p.curHeaderIsCL {
				if b < '0' || b > '9' {
					return token.Token{}, badRequest("invalid Content-Length digit")
				}
				p.contentLength = p.contentLength*10 + int64(b-'0')
				if p.contentLength > int64(s.limits.maxContentLength) {
					return token.Token{}, payloadTooLarge("declared Content-Length exceeds cap")
				}
				p.sawContentLength = true
			}
			if p.curHeaderIsTE {
				p.advanceChunkedMatch(asciiLower(b))
				if p.teMatch == len(literalChunked) {
					p.sawTransferEncoding = true
					p.isChunked = true
				}
			}
			s.parsePos++

		case pHeaderValueLF:
			if b != '\n' {
				return token.Token{}, badRequest("expected LF after header-value CR")
			}
			s.parsePos++
			p.state = pHeaderLineStart

		case pHeaderBlankLF:
			if b != '\n' {
				return token.Token{}, badRequest("expected LF after blank-line CR")
			}
			s.parsePos++
			return s.emitBodyToken(p)

		case pBody:
			return token.Token{}, nil
		}

		if s.parsePos-p.tokenStart > s.limits.maxTokenLength && tokenizingState(p.state) {
			return token.Token{}, badRequest("token too long")
		}
	}
	return token.Token{}, nil
}

func tokenizingState(st primaryState) bool {
	switch st {
	case pMethod, pTarget, pVersion, pHeaderKey, pHeaderValue:
		return true
	default:
		return false
	}
}

func checkTokenLen(t token.Token, s *Session) (token.Token, error) {
	if t.Length > s.limits.maxTokenLength {
		return token.Token{}, badRequest("token too long")
	}
	return t, nil
}

// emitBodyToken is called once the blank line ending the header block
// has been consumed. It decides, from the running flags, what the BODY
// token's Length means: BodyChunked, an exact Content-Length, or 0.
func (s *Session) emitBodyToken(p *parser) (token.Token, error) {
	p.bodyStart = s.parsePos
	p.state = pBody

	switch {
	case p.sawTransferEncoding && p.isChunked:
		return token.Token{Start: p.bodyStart, Length: token.BodyChunked, Kind: token.Body}, nil
	case p.sawContentLength:
		return token.Token{Start: p.bodyStart, Length: int(p.contentLength), Kind: token.Body}, nil
	default:
		return token.Token{Start: p.bodyStart, Length: 0, Kind: token.Body}, nil
	}
}
