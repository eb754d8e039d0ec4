/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package ignitelog is the engine's thin façade over hclog.Logger:
// one leveled, structured logger on the Server, named sub-loggers per
// concern.
package ignitelog

import (
	"os"

	"github.com/hashicorp/go-hclog"
)

// Logger is the engine-facing logging surface. Server and Session hold
// one each; Session's is named off the Server's with Named("session").
type Logger = hclog.Logger

// Default returns the package-wide default logger: info level,
// writing to stderr.
func Default() Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "ignite-httpd",
		Level:  hclog.Info,
		Output: os.Stderr,
	})
}
