/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package ignite

import (
	"github.com/badu/ignite-httpd/admission"
	"github.com/badu/ignite-httpd/ignitelog"
)

// config collects every Server tunable plus the ambient additions
// (logger, admission shaping), built by New from its default values
// and then the caller's Options.
type config struct {
	requestBufSize    int
	responseBufSize   int
	requestTimeout    int // seconds
	keepAliveTimeout  int // seconds
	maxContentLength  int64
	maxTotalMemUsage  int64
	maxTokenLength    int
	maxHeaderCount    int
	maxReadBufferCap  int
	maxWriteBufferCap int

	admissionRatePerSec float64
	admissionBurst      int

	log ignitelog.Logger

	ignoreSIGPIPE bool
}

const (
	kib = 1024
	mib = 1024 * kib
	gib = 1024 * mib
)

func defaultConfig() config {
	return config{
		requestBufSize:    1024,
		responseBufSize:   512,
		requestTimeout:    20,
		keepAliveTimeout:  120,
		maxContentLength:  8 * mib,
		maxTotalMemUsage:  4 * gib,
		maxTokenLength:    8 * kib,
		maxHeaderCount:    127,
		maxReadBufferCap:  64 * mib,
		maxWriteBufferCap: 64 * mib,
		log:               ignitelog.Default(),
		ignoreSIGPIPE:     true,
	}
}

// Option configures a Server at construction time.
type Option func(*config)

// WithRequestBufSize sets the read buffer's initial capacity.
func WithRequestBufSize(n int) Option { return func(c *config) { c.requestBufSize = n } }

// WithResponseBufSize sets the response buffer's initial capacity.
func WithResponseBufSize(n int) Option { return func(c *config) { c.responseBufSize = n } }

// WithRequestTimeout sets the in-request inactivity timeout in
// seconds.
func WithRequestTimeout(seconds int) Option { return func(c *config) { c.requestTimeout = seconds } }

// WithKeepAliveTimeout sets the idle keep-alive timeout in seconds.
func WithKeepAliveTimeout(seconds int) Option {
	return func(c *config) { c.keepAliveTimeout = seconds }
}

// WithMaxContentLength caps a declared request body size in bytes.
func WithMaxContentLength(n int64) Option { return func(c *config) { c.maxContentLength = n } }

// WithMaxTotalMemUsage caps aggregate session buffer memory across the
// whole server.
func WithMaxTotalMemUsage(n int64) Option { return func(c *config) { c.maxTotalMemUsage = n } }

// WithMaxTokenLength caps any single parser token.
func WithMaxTokenLength(n int) Option { return func(c *config) { c.maxTokenLength = n } }

// WithMaxHeaderCount caps the number of headers per request.
func WithMaxHeaderCount(n int) Option { return func(c *config) { c.maxHeaderCount = n } }

// WithLogger overrides the server's structured logger; the default is
// ignitelog.Default().
func WithLogger(l ignitelog.Logger) Option { return func(c *config) { c.log = l } }

// WithAdmissionRate shapes how fast new connections are admitted with a
// token-bucket limiter layered on top of the raw memory-cap check
// (admission.Limiter). ratePerSec <= 0 disables shaping, leaving only
// the threshold check.
func WithAdmissionRate(ratePerSec float64, burst int) Option {
	return func(c *config) {
		c.admissionRatePerSec = ratePerSec
		c.admissionBurst = burst
	}
}

// WithoutSIGPIPEIgnored opts out of the process-wide SIGPIPE-ignore
// that New otherwise installs, for hosts that manage signal
// disposition themselves.
func WithoutSIGPIPEIgnored() Option { return func(c *config) { c.ignoreSIGPIPE = false } }

func (c config) limits() limits {
	return limits{
		readBufSize:       c.requestBufSize,
		writeBufSize:      c.responseBufSize,
		maxTokenLength:    c.maxTokenLength,
		maxHeaderCount:    c.maxHeaderCount,
		maxContentLength:  c.maxContentLength,
		maxReadBufferCap:  c.maxReadBufferCap,
		maxWriteBufferCap: c.maxWriteBufferCap,
		inactivitySeconds: c.requestTimeout,
		keepAliveSeconds:  c.keepAliveTimeout,
	}
}

func (c config) newLimiter() *admission.Limiter {
	return admission.NewLimiter(c.admissionRatePerSec, c.admissionBurst)
}
