/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package ignite

import "errors"

var (
	// ErrServerClosed is returned by Server.Run and Server.Poll once
	// Server.Close has been called, matching net/http's sentinel for
	// the same situation.
	ErrServerClosed = errors.New("ignite: server closed")

	// ErrAdmissionRejected is returned by session start when a new
	// connection is refused because the global buffer-memory counter is
	// already over its configured cap, or the admission rate limiter is
	// exhausted. The accept loop does not log it.
	ErrAdmissionRejected = errors.New("ignite: connection rejected by admission policy")

	// ErrBufferCapExceeded is returned internally when a session's read
	// buffer would have to grow past its configured maximum to make
	// progress; the session responds 413 and closes rather than growing
	// unboundedly. The response buffer is not capped this way.
	ErrBufferCapExceeded = errors.New("ignite: buffer capacity exceeded")

	// ErrSessionClosed is returned by Completion.Resume when the
	// session has already closed (peer hangup, timeout), so the caller
	// knows its paused response was never delivered. A close that
	// lands between Resume and the posted state transition is still
	// absorbed silently.
	ErrSessionClosed = errors.New("ignite: session already closed")
)
