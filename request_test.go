/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package ignite

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestViews(t *testing.T) {
	s := parseRequest(t, "POST /things?id=9 HTTP/1.1\r\nHost: h\r\nContent-Length: 5\r\n\r\nhello")
	r := &s.request

	require.Equal(t, "POST", string(r.Method()))
	require.Equal(t, "/things?id=9", string(r.Target()))
	require.Equal(t, "HTTP/1.1", string(r.Version()))
	require.Equal(t, "hello", string(r.Body()))
}

func TestRequestHeaderLookup(t *testing.T) {
	s := parseRequest(t, "GET / HTTP/1.1\r\nHost: h\r\nX-Token: abc\r\n\r\n")
	r := &s.request

	require.Equal(t, "abc", string(r.Header("X-Token")))
	require.Equal(t, "abc", string(r.Header("x-token")))
	require.Equal(t, "abc", string(r.Header("X-TOKEN")))
	require.Nil(t, r.Header("X-Missing"))
	require.Nil(t, r.Header("X-Tok")) // prefix must not match
}

func TestRequestIterateHeaders(t *testing.T) {
	s := parseRequest(t, "GET / HTTP/1.1\r\nA: 1\r\nB: 2\r\nC: 3\r\n\r\n")
	r := &s.request

	var keys, values []string
	r.IterateHeaders(func(k, v []byte) bool {
		keys = append(keys, string(k))
		values = append(values, string(v))
		return true
	})
	require.Equal(t, []string{"A", "B", "C"}, keys)
	require.Equal(t, []string{"1", "2", "3"}, values)

	// Early stop.
	count := 0
	r.IterateHeaders(func(k, v []byte) bool {
		count++
		return false
	})
	require.Equal(t, 1, count)
}

func TestRequestEmptyBodyView(t *testing.T) {
	s := parseRequest(t, "GET / HTTP/1.1\r\nHost: h\r\n\r\n")
	require.Nil(t, s.request.Body())
}

func TestRequestChunkedBodyViewEmpty(t *testing.T) {
	s := parseRequest(t, "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n")
	require.Nil(t, s.request.Body())
}

func TestRequestUserdata(t *testing.T) {
	s := parseRequest(t, "GET / HTTP/1.1\r\nHost: h\r\n\r\n")
	r := &s.request

	require.Nil(t, r.Userdata())
	r.SetUserdata(42)
	require.Equal(t, 42, r.Userdata())

	// Survives the transition to the next keep-alive request.
	r.resetView()
	require.Equal(t, 42, r.Userdata())
}

func TestRequestFreeBufferRefundsMemory(t *testing.T) {
	s := newParseSession()
	s.growReadBuffer(s.limits.readBufSize)
	charged := s.srv.mem.Used()
	require.Equal(t, int64(s.limits.readBufSize), charged)

	feed(s, []byte("GET / HTTP/1.1\r\nHost: h\r\n\r\n"))
	_, err := collectTokens(t, s)
	require.NoError(t, err)

	s.request.FreeBuffer()
	require.Equal(t, int64(0), s.srv.mem.Used())
	require.Nil(t, s.request.Method())
}
