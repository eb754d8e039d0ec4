/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package hdr implements the ordered, case-insensitive header list that
// responses are built from. Unlike net/http's canonicalizing map, List
// preserves insertion order on the wire: the only ordering guarantee the
// wire protocol actually needs is that Date and Connection are emitted
// once each, not that headers come back out sorted or re-cased.
package hdr

import (
	"io"
)

// Well-known header names used by the engine itself. Handlers are free to
// use any other header name as a plain string.
const (
	Connection       = "Connection"
	ContentLength    = "Content-Length"
	ContentType      = "Content-Type"
	TransferEncoding = "Transfer-Encoding"
	Date             = "Date"
	Host             = "Host"
	Trailer          = "Trailer"
	Expect           = "Expect"
)

// Pair is a single header key/value as it will be written on the wire.
type Pair struct {
	Key   string
	Value string
}

// List is a growable, insertion-ordered list of header pairs. The
// zero value is ready to use. A flat ordered slice beats a linked
// list here: same externally-observable order, no pointer-chasing.
type List struct {
	pairs []Pair
}

// Add appends key/value, keeping any existing value(s) for key.
func (l *List) Add(key, value string) {
	l.pairs = append(l.pairs, Pair{Key: key, Value: value})
}

// Set replaces the first existing value for key, or appends if absent.
func (l *List) Set(key, value string) {
	for i := range l.pairs {
		if equalFold(l.pairs[i].Key, key) {
			l.pairs[i].Value = value
			return
		}
	}
	l.Add(key, value)
}

// Get returns the first value for key, case-insensitively, or "".
func (l *List) Get(key string) string {
	for i := range l.pairs {
		if equalFold(l.pairs[i].Key, key) {
			return l.pairs[i].Value
		}
	}
	return ""
}

// Has reports whether key is present, case-insensitively.
func (l *List) Has(key string) bool {
	for i := range l.pairs {
		if equalFold(l.pairs[i].Key, key) {
			return true
		}
	}
	return false
}

// Del removes every pair matching key, case-insensitively.
func (l *List) Del(key string) {
	out := l.pairs[:0]
	for _, p := range l.pairs {
		if !equalFold(p.Key, key) {
			out = append(out, p)
		}
	}
	l.pairs = out
}

// Len returns the number of pairs currently held.
func (l *List) Len() int { return len(l.pairs) }

// Reset empties the list for reuse without releasing its backing array.
func (l *List) Reset() { l.pairs = l.pairs[:0] }

// Each calls fn for every pair in insertion order, stopping early if fn
// returns false.
func (l *List) Each(fn func(key, value string) bool) {
	for _, p := range l.pairs {
		if !fn(p.Key, p.Value) {
			return
		}
	}
}

// WriteTo writes every pair as "key: value\r\n", in insertion order.
func (l *List) WriteTo(w io.Writer) (int64, error) {
	var n int64
	for _, p := range l.pairs {
		for _, s := range [...]string{p.Key, ": ", p.Value, "\r\n"} {
			written, err := io.WriteString(w, s)
			n += int64(written)
			if err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// equalFold reports ASCII case-insensitive equality, avoiding the
// allocation strings.EqualFold's general Unicode path would cost on the
// hot per-header-lookup path.
func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
