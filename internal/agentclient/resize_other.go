//go:build windows

package agentclient

import "os"

// notifyResize is a no-op on Windows: there is no SIGWINCH, and the shared
// shell pool this agent targets is a POSIX-only runtime anyway.
func notifyResize(ch chan<- os.Signal) {}
