/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package ignite

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/badu/ignite-httpd/token"
)

func TestParseSimpleGet(t *testing.T) {
	s := newParseSession()
	feed(s, []byte("GET /x HTTP/1.1\r\nHost: a\r\n\r\n"))

	toks, err := collectTokens(t, s)
	require.NoError(t, err)

	want := []struct {
		kind token.Kind
		text string
	}{
		{token.Method, "GET"},
		{token.Target, "/x"},
		{token.Version, "HTTP/1.1"},
		{token.HeaderKey, "Host"},
		{token.HeaderValue, "a"},
	}
	require.Len(t, toks, len(want)+1)
	for i, w := range want {
		require.Equal(t, w.kind, toks[i].Kind, "token %d", i)
		require.Equal(t, w.text, string(toks[i].Bytes(s.readBuf)), "token %d", i)
	}
	body := toks[len(toks)-1]
	require.Equal(t, token.Body, body.Kind)
	require.Equal(t, 0, body.Length)
}

// Tokenizing a request fed one byte at a time must produce the exact
// stream that a single full-buffer pass does.
func TestParseSplitArrival(t *testing.T) {
	raw := "POST /submit?q=1 HTTP/1.1\r\n" +
		"Host: example.test\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Length: 5\r\n" +
		"\r\nhello"

	whole := newParseSession()
	feed(whole, []byte(raw))
	wantToks, err := collectTokens(t, whole)
	require.NoError(t, err)

	split := newParseSession()
	var gotToks []token.Token
	for i := 0; i < len(raw); i++ {
		feed(split, []byte{raw[i]})
		for {
			tok, err := split.runParser()
			require.NoError(t, err)
			if tok.Kind == token.None {
				break
			}
			gotToks = append(gotToks, tok)
			split.tokens.Append(tok)
		}
	}

	require.Equal(t, len(wantToks), len(gotToks))
	for i := range wantToks {
		require.Equal(t, wantToks[i], gotToks[i], "token %d", i)
		require.Equal(t,
			string(wantToks[i].Bytes(whole.readBuf)),
			string(gotToks[i].Bytes(split.readBuf)), "token %d text", i)
	}
}

func TestParseContentLengthBody(t *testing.T) {
	s := newParseSession()
	feed(s, []byte("POST /x HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello"))

	toks, err := collectTokens(t, s)
	require.NoError(t, err)

	body := toks[len(toks)-1]
	require.Equal(t, token.Body, body.Kind)
	require.Equal(t, 5, body.Length)
	require.Equal(t, "hello", string(s.readBuf[body.Start:body.Start+body.Length]))
}

func TestParseContentLengthCaseInsensitive(t *testing.T) {
	for _, name := range []string{"Content-Length", "content-length", "CONTENT-LENGTH", "cOnTeNt-LeNgTh"} {
		s := newParseSession()
		feed(s, []byte("POST / HTTP/1.1\r\n"+name+": 3\r\n\r\nabc"))
		toks, err := collectTokens(t, s)
		require.NoError(t, err, name)
		require.Equal(t, 3, toks[len(toks)-1].Length, name)
	}
}

func TestParseTransferEncodingChunked(t *testing.T) {
	for _, hdrLine := range []string{
		"Transfer-Encoding: chunked",
		"transfer-encoding: chunked",
		"Transfer-Encoding: CHUNKED",
	} {
		s := newParseSession()
		feed(s, []byte("POST / HTTP/1.1\r\n"+hdrLine+"\r\n\r\n"))
		toks, err := collectTokens(t, s)
		require.NoError(t, err, hdrLine)
		require.Equal(t, token.BodyChunked, toks[len(toks)-1].Length, hdrLine)
	}
}

func TestParseOtherTransferEncodingNotChunked(t *testing.T) {
	s := newParseSession()
	feed(s, []byte("POST / HTTP/1.1\r\nTransfer-Encoding: gzip\r\n\r\n"))
	toks, err := collectTokens(t, s)
	require.NoError(t, err)
	require.Equal(t, 0, toks[len(toks)-1].Length)
}

func TestParseHeaderValueLeadingWhitespace(t *testing.T) {
	s := newParseSession()
	feed(s, []byte("GET / HTTP/1.1\r\nX-Pad: \t  padded\r\n\r\n"))
	toks, err := collectTokens(t, s)
	require.NoError(t, err)

	var got string
	for i, tok := range toks {
		if tok.Kind == token.HeaderKey && string(tok.Bytes(s.readBuf)) == "X-Pad" {
			got = string(toks[i+1].Bytes(s.readBuf))
		}
	}
	require.Equal(t, "padded", got)
}

func TestParseOversizeTokenRejected(t *testing.T) {
	s := newParseSession()
	feed(s, []byte("GET / HTTP/1.1\r\nX-Big: "+strings.Repeat("v", 10000)+"\r\n\r\n"))

	_, err := collectTokens(t, s)
	require.Error(t, err)
	pe, ok := err.(*ParseError)
	require.True(t, ok)
	require.Equal(t, 400, pe.Code)
}

func TestParseTooManyHeadersRejected(t *testing.T) {
	var b strings.Builder
	b.WriteString("GET / HTTP/1.1\r\n")
	for i := 0; i < 128; i++ {
		b.WriteString("X-H: v\r\n")
	}
	b.WriteString("\r\n")

	s := newParseSession()
	feed(s, []byte(b.String()))

	_, err := collectTokens(t, s)
	require.Error(t, err)
	require.Equal(t, 400, err.(*ParseError).Code)
}

func TestParseDeclaredBodyOverCap(t *testing.T) {
	s := newParseSession()
	feed(s, []byte("POST / HTTP/1.1\r\nContent-Length: 999999999\r\n\r\n"))

	_, err := collectTokens(t, s)
	require.Error(t, err)
	require.Equal(t, 413, err.(*ParseError).Code)
}

func TestParseContentLengthNonDigit(t *testing.T) {
	s := newParseSession()
	feed(s, []byte("POST / HTTP/1.1\r\nContent-Length: 12x\r\n\r\n"))

	_, err := collectTokens(t, s)
	require.Error(t, err)
	require.Equal(t, 400, err.(*ParseError).Code)
}

func TestParseBareLFRejected(t *testing.T) {
	tests := []string{
		"GET / HTTP/1.1\rX\nHost: a\r\n\r\n",
		"GET / HTTP/1.1\r\nHost: a\rX\n\r\n",
	}
	for _, raw := range tests {
		s := newParseSession()
		feed(s, []byte(raw))
		_, err := collectTokens(t, s)
		require.Error(t, err, "%q", raw)
	}
}

// No token may ever reference bytes outside the filled region.
func TestTokenBoundsInvariant(t *testing.T) {
	raw := "PUT /a/b HTTP/1.1\r\nHost: h\r\nContent-Length: 2\r\n\r\nok"
	s := newParseSession()
	feed(s, []byte(raw))
	toks, err := collectTokens(t, s)
	require.NoError(t, err)
	for i, tok := range toks {
		require.GreaterOrEqual(t, tok.Start, 0, "token %d", i)
		length := tok.Length
		if length < 0 {
			length = 0
		}
		require.LessOrEqual(t, tok.Start+length, s.filled, "token %d", i)
	}
}
