/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Command ignite-httpd is a small demonstration host for the engine:
// it wires flags into Options, installs a handler that exercises the
// plain, streaming, and chunked-upload paths, and runs the reactor
// until interrupted.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/hashicorp/go-hclog"

	ignite "github.com/badu/ignite-httpd"
)

func main() {
	var (
		addr             = flag.String("addr", ":8080", "listen address")
		requestTimeout   = flag.Int("request-timeout", 20, "per-request inactivity timeout, seconds")
		keepAliveTimeout = flag.Int("keepalive-timeout", 120, "idle keep-alive timeout, seconds")
		maxContent       = flag.Int64("max-content-length", 8<<20, "largest accepted request body, bytes")
		maxMem           = flag.Int64("max-mem", 4<<30, "aggregate buffer memory cap, bytes")
		admitRate        = flag.Float64("admit-rate", 0, "new-connection admission rate per second, 0 disables")
		admitBurst       = flag.Int("admit-burst", 64, "admission burst when -admit-rate is set")
		logLevel         = flag.String("log-level", "info", "log level: trace, debug, info, warn, error")
	)
	flag.Parse()

	log := hclog.New(&hclog.LoggerOptions{
		Name:   "ignite-httpd",
		Level:  hclog.LevelFromString(*logLevel),
		Output: os.Stderr,
	})

	srv, err := ignite.New(*addr, ignite.HandlerFunc(serve),
		ignite.WithRequestTimeout(*requestTimeout),
		ignite.WithKeepAliveTimeout(*keepAliveTimeout),
		ignite.WithMaxContentLength(*maxContent),
		ignite.WithMaxTotalMemUsage(*maxMem),
		ignite.WithAdmissionRate(*admitRate, *admitBurst),
		ignite.WithLogger(log),
	)
	if err != nil {
		log.Error("server init failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil && err != context.Canceled {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// serve demonstrates the three response modes the engine supports:
// a plain body, a chunk-streamed body, and sinking a chunked upload.
func serve(resp *ignite.Response, req *ignite.Request) {
	switch string(req.Target()) {
	case "/stream":
		for i := 0; i < 3; i++ {
			resp.RespondChunk([]byte("part " + strconv.Itoa(i) + "\n"))
		}
		resp.RespondChunkEnd()

	case "/upload":
		// Chunked uploads arrive on demand; count the bytes and answer
		// once the terminating chunk shows up.
		total := 0
		var pull func(chunk []byte, last bool)
		pull = func(chunk []byte, last bool) {
			total += len(chunk)
			if !last {
				req.ReadChunk(pull)
				return
			}
			resp.Status(200)
			resp.Header("Content-Type", "text/plain; charset=utf-8")
			resp.Body([]byte("received " + strconv.Itoa(total) + " bytes\n"))
			resp.Respond()
		}
		if req.Header("Transfer-Encoding") != nil {
			req.ReadChunk(pull)
			return
		}
		resp.Status(200)
		resp.Body([]byte("received " + strconv.Itoa(len(req.Body())) + " bytes\n"))
		resp.Respond()

	default:
		resp.Status(200)
		resp.Header("Content-Type", "text/plain; charset=utf-8")
		resp.Body([]byte("hello from ignite-httpd\n"))
		resp.Respond()
	}
}
