/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package hdr

import (
	"bytes"
	"testing"
)

func TestListAddGetSet(t *testing.T) {
	var l List

	if got := l.Get("Accept"); got != "" {
		t.Fatalf("empty list Get = %q, want empty", got)
	}

	l.Add("Accept", "text/html")
	l.Add("Accept", "text/plain")
	if got := l.Get("accept"); got != "text/html" {
		t.Fatalf("Get = %q, want first value", got)
	}
	if l.Len() != 2 {
		t.Fatalf("Len = %d, want 2", l.Len())
	}

	l.Set("ACCEPT", "*/*")
	if got := l.Get("Accept"); got != "*/*" {
		t.Fatalf("after Set, Get = %q", got)
	}
	if l.Len() != 2 {
		t.Fatalf("Set must replace, not append; Len = %d", l.Len())
	}

	l.Set("X-New", "v")
	if l.Len() != 3 {
		t.Fatalf("Set of a new key must append; Len = %d", l.Len())
	}
}

func TestListHasDel(t *testing.T) {
	var l List
	l.Add(ContentType, "text/plain")
	l.Add(Connection, "close")

	if !l.Has("content-type") {
		t.Fatal("Has should be case-insensitive")
	}
	l.Del("CONTENT-TYPE")
	if l.Has(ContentType) {
		t.Fatal("Del should remove the pair")
	}
	if !l.Has(Connection) {
		t.Fatal("Del removed an unrelated pair")
	}
}

func TestListEachPreservesInsertionOrder(t *testing.T) {
	var l List
	l.Add("B", "2")
	l.Add("A", "1")
	l.Add("C", "3")

	var got []string
	l.Each(func(k, v string) bool {
		got = append(got, k)
		return true
	})
	want := []string{"B", "A", "C"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order %v, want %v", got, want)
		}
	}
}

func TestListWriteTo(t *testing.T) {
	var l List
	l.Add("Content-Type", "text/plain")
	l.Add("X-Id", "7")

	var buf bytes.Buffer
	n, err := l.WriteTo(&buf)
	if err != nil {
		t.Fatal(err)
	}
	want := "Content-Type: text/plain\r\nX-Id: 7\r\n"
	if buf.String() != want {
		t.Fatalf("WriteTo = %q, want %q", buf.String(), want)
	}
	if n != int64(len(want)) {
		t.Fatalf("WriteTo n = %d, want %d", n, len(want))
	}
}

func TestListReset(t *testing.T) {
	var l List
	l.Add("A", "1")
	l.Reset()
	if l.Len() != 0 {
		t.Fatalf("Len after Reset = %d", l.Len())
	}
}
