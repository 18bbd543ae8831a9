//go:build windows

package main

import (
	"os"
)

// terminationSignals stop the bot gracefully. Windows has no SIGTERM; Ctrl+C
// is the only shutdown path there.
var terminationSignals = []os.Signal{os.Interrupt}
