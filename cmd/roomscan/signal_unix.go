//go:build !windows

package main

import (
	"os"
	"syscall"
)

// terminationSignals trigger a graceful shutdown of serve.
var terminationSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
