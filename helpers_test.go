/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package ignite

import (
	"testing"

	"github.com/hashicorp/go-hclog"

	"github.com/badu/ignite-httpd/token"
)

func testLimits() limits {
	return limits{
		readBufSize:       1024,
		writeBufSize:      512,
		maxTokenLength:    8 * kib,
		maxHeaderCount:    127,
		maxContentLength:  8 * mib,
		maxReadBufferCap:  64 * mib,
		maxWriteBufferCap: 64 * mib,
		inactivitySeconds: 20,
		keepAliveSeconds:  120,
	}
}

// newParseSession builds a Session wired to an inert Server, good for
// driving the parser and response builder directly off an in-memory
// buffer without any socket or reactor behind it.
func newParseSession() *Session {
	srv := &Server{
		log:     hclog.NewNullLogger(),
		limits:  testLimits(),
		memCap:  4 * gib,
		dateStr: "Thu Jan  1 00:00:00 1970",
	}
	s := &Session{
		srv:    srv,
		fd:     -1,
		log:    hclog.NewNullLogger(),
		limits: testLimits(),
		state:  stateReadHeaders,
	}
	s.request.session = s
	s.response.session = s
	return s
}

// feed appends raw bytes to the session buffer the way a socket read
// would, without touching the admission counter.
func feed(s *Session, b []byte) {
	s.readBuf = append(s.readBuf, b...)
	s.filled = len(s.readBuf)
}

// collectTokens resumes the request parser until it emits the BODY
// token, errors, or runs out of buffered bytes.
func collectTokens(t *testing.T, s *Session) ([]token.Token, error) {
	t.Helper()
	var out []token.Token
	for {
		tok, err := s.runParser()
		if err != nil {
			return out, err
		}
		if tok.Kind == token.None {
			return out, nil
		}
		out = append(out, tok)
		s.tokens.Append(tok)
		if tok.Kind == token.Body {
			s.bodyToken = tok
			return out, nil
		}
	}
}

// parseRequest feeds raw in one piece and parses it to completion.
func parseRequest(t *testing.T, raw string) *Session {
	t.Helper()
	s := newParseSession()
	feed(s, []byte(raw))
	if _, err := collectTokens(t, s); err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	if s.bodyToken.Kind != token.Body {
		t.Fatalf("parse %q: no BODY token", raw)
	}
	s.captureConnPolicy()
	return s
}
