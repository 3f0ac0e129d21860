//go:build windows

package mcp

import "os"

// Windows has no SIGTERM equivalent for arbitrary processes; Kill is the
// only portable option.
func terminateProcess(p *os.Process) error {
	return p.Kill()
}
