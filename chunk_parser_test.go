/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package ignite

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/badu/ignite-httpd/token"
)

// chunkedSession parses a chunked request head so the chunk sub-parser
// can be driven directly.
func chunkedSession(t *testing.T) *Session {
	t.Helper()
	s := newParseSession()
	feed(s, []byte("POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n"))
	toks, err := collectTokens(t, s)
	require.NoError(t, err)
	require.Equal(t, token.BodyChunked, toks[len(toks)-1].Length)
	s.chunk.reset()
	return s
}

// drainChunks runs the chunk parser over whatever is buffered,
// returning the chunk payloads seen (the final zero-size chunk
// included, as an empty string).
func drainChunks(t *testing.T, s *Session) ([]string, bool, error) {
	t.Helper()
	var out []string
	for {
		tok, err := s.runChunkParser()
		if err != nil {
			return out, false, err
		}
		if tok.Kind == token.None {
			return out, false, nil
		}
		out = append(out, string(tok.Bytes(s.readBuf)))
		if tok.Length == 0 {
			return out, true, nil
		}
	}
}

func TestChunkedBody(t *testing.T) {
	s := chunkedSession(t)
	feed(s, []byte("5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"))

	chunks, done, err := drainChunks(t, s)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, []string{"hello", " world", ""}, chunks)
}

func TestChunkedBodySplitArrival(t *testing.T) {
	raw := "3\r\nabc\r\nA\r\n0123456789\r\n0\r\n\r\n"
	s := chunkedSession(t)

	var got []byte
	done := false
	for i := 0; i < len(raw) && !done; i++ {
		feed(s, []byte{raw[i]})
		for {
			tok, err := s.runChunkParser()
			require.NoError(t, err)
			if tok.Kind == token.None {
				break
			}
			got = append(got, tok.Bytes(s.readBuf)...)
			if tok.Length == 0 {
				done = true
				break
			}
		}
	}
	require.True(t, done)
	require.Equal(t, "abc0123456789", string(got))
}

func TestChunkExtensionIgnored(t *testing.T) {
	s := chunkedSession(t)
	feed(s, []byte("5;name=val\r\nhello\r\n0\r\n\r\n"))

	chunks, done, err := drainChunks(t, s)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, []string{"hello", ""}, chunks)
}

func TestChunkHexSizes(t *testing.T) {
	s := chunkedSession(t)
	payload := make([]byte, 0x1A)
	for i := range payload {
		payload[i] = 'x'
	}
	feed(s, []byte("1A\r\n"))
	feed(s, payload)
	feed(s, []byte("\r\n0\r\n\r\n"))

	chunks, done, err := drainChunks(t, s)
	require.NoError(t, err)
	require.True(t, done)
	require.Len(t, chunks[0], 0x1A)
}

func TestChunkSizeOverCap(t *testing.T) {
	s := chunkedSession(t)
	feed(s, []byte("FFFFFFFF\r\n"))

	_, _, err := drainChunks(t, s)
	require.Error(t, err)
	require.Equal(t, 413, err.(*ParseError).Code)
}

func TestChunkBadSizeByte(t *testing.T) {
	s := chunkedSession(t)
	feed(s, []byte("zz\r\n"))

	_, _, err := drainChunks(t, s)
	require.Error(t, err)
	require.Equal(t, 400, err.(*ParseError).Code)
}

func TestChunkTrailersRejected(t *testing.T) {
	s := chunkedSession(t)
	feed(s, []byte("0\r\nX-Trailer: v\r\n\r\n"))

	_, _, err := drainChunks(t, s)
	require.Error(t, err)
	require.Equal(t, 400, err.(*ParseError).Code)
}

// A partial chunk body reaching the end of the buffer slides back to
// the body start so a long upload cannot grow the buffer without
// bound; only the in-progress chunk's bytes survive the move.
func TestChunkBufferCompaction(t *testing.T) {
	s := chunkedSession(t)
	bodyStart := s.parser.bodyStart

	// First chunk consumed normally, so the second starts well past
	// bodyStart.
	feed(s, []byte("4\r\nAAAA\r\n8\r\nBBBB"))
	tok, err := s.runChunkParser()
	require.NoError(t, err)
	require.Equal(t, "AAAA", string(tok.Bytes(s.readBuf)))

	// Parser runs dry mid-way through the 8-byte chunk: compaction.
	tok, err = s.runChunkParser()
	require.NoError(t, err)
	require.Equal(t, token.None, tok.Kind)

	require.Equal(t, bodyStart, s.chunk.tokenStart)
	require.Equal(t, bodyStart+4, s.filled)
	require.Equal(t, "BBBB", string(s.readBuf[bodyStart:s.filled]))

	// The rest of the chunk arrives; the emitted token references the
	// compacted position.
	feed(s, []byte("BBBB\r\n0\r\n\r\n"))
	chunks, done, err := drainChunks(t, s)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, []string{"BBBBBBBB", ""}, chunks)
}
