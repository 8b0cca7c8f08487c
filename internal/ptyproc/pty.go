// Package ptyproc wraps a single pseudo-terminal-backed shell process, the
// agent side's only direct dependency on the OS. It is a trimmed form of the
// sandbox's PTY wrapper: no turn-taking, no env filtering, no signal
// escalation — the agent is a single local user driving one shell, not a
// multi-viewer sandbox.
package ptyproc

import (
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// PTY is a running shell attached to a pseudo-terminal.
type PTY struct {
	file *os.File
	cmd  *exec.Cmd

	mu     sync.Mutex
	closed bool

	doneOnce sync.Once
	doneChan chan struct{}
}

// New starts shell under a pseudo-terminal sized to rows x cols.
func New(shell string, rows, cols int) (*PTY, error) {
	if shell == "" {
		shell = DefaultShell()
	}
	cmd := exec.Command(shell)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color", "COLORTERM=truecolor")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		return nil, err
	}
	return &PTY{file: ptmx, cmd: cmd}, nil
}

// DefaultShell returns the user's login shell, falling back to /bin/bash.
func DefaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/bash"
}

// Read reads raw PTY output.
func (p *PTY) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, os.ErrClosed
	}
	file := p.file
	p.mu.Unlock()
	return file.Read(buf)
}

// Write sends keystrokes to the shell.
func (p *PTY) Write(data []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, os.ErrClosed
	}
	file := p.file
	p.mu.Unlock()
	return file.Write(data)
}

// Resize updates the PTY window size, mirroring a local resize or a
// viewer-initiated one relayed down from the server.
func (p *PTY) Resize(rows, cols int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return os.ErrClosed
	}
	return pty.Setsize(p.file, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// Close kills the shell process and releases the PTY file.
func (p *PTY) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	return p.file.Close()
}

// Done returns a channel that closes when the shell process exits.
func (p *PTY) Done() <-chan struct{} {
	p.doneOnce.Do(func() {
		p.doneChan = make(chan struct{})
		go func() {
			p.cmd.Wait()
			close(p.doneChan)
		}()
	})
	return p.doneChan
}
