//go:build !windows

package main

import (
	"os"
	"syscall"
)

// terminationSignals stop the bot gracefully: long polling winds down and
// live episode windows are flushed. SIGTERM covers the systemd unit gryag
// normally runs under; os.Interrupt covers a terminal Ctrl+C.
var terminationSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
