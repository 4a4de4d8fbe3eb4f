//go:build !windows
// +build !windows

package core

import (
	"os"
	"syscall"
)

// ReloadSignal returns the signal that makes a running monitor reload its
// targets from the store.
func ReloadSignal() (os.Signal, bool) {
	return syscall.SIGUSR1, true
}
