//go:build windows
// +build windows

package core

import "os"

// ReloadSignal reports that Windows has no reload signal; use the HTTP API
func ReloadSignal() (os.Signal, bool) {
	return nil, false
}
