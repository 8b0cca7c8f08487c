package agentclient

import (
	"os"
	"os/signal"

	"golang.org/x/term"
)

// defaultRows and defaultCols are reported when the size query fails, so an
// agent run under something that isn't a real tty (a cron job, a container
// entrypoint) still gets a sane initial size.
const (
	defaultRows = 24
	defaultCols = 220
)

// localDims queries the controlling terminal's current size, falling back
// to the defaults when stdout isn't a terminal at all.
func localDims() (rows, cols int) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return defaultRows, defaultCols
	}
	w, h, err := term.GetSize(fd)
	if err != nil {
		return defaultRows, defaultCols
	}
	if h < defaultRows {
		h = defaultRows
	}
	if w < 80 {
		w = 80
	}
	return h, w
}

// watchResize invokes onResize once immediately and again every time the
// controlling terminal reports a SIGWINCH, until stop is closed.
func watchResize(stop <-chan struct{}, onResize func(rows, cols int)) {
	rows, cols := localDims()
	onResize(rows, cols)

	ch := make(chan os.Signal, 1)
	notifyResize(ch)
	defer signal.Stop(ch)

	for {
		select {
		case <-ch:
			rows, cols := localDims()
			onResize(rows, cols)
		case <-stop:
			return
		}
	}
}
