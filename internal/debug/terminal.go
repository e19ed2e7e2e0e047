package debug

import (
	"fmt"
	"os"

	"golang.org/x/term"
	"k8s.io/client-go/tools/remotecommand"
)

// rawTerminal puts the local terminal into raw mode for the duration of an
// interactive attach and reports its size to the remote TTY. When stdin is
// not a terminal (tests, piped input) both the restore func and the size
// queue are no-ops.
func (o *Orchestrator) rawTerminal() (func(), remotecommand.TerminalSizeQueue, error) {
	file, ok := o.stdin.(*os.File)
	if !ok || !term.IsTerminal(int(file.Fd())) {
		return func() {}, nil, nil
	}

	fd := int(file.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to put terminal into raw mode: %w", err)
	}
	restore := func() { _ = term.Restore(fd, state) }

	var sizeQueue remotecommand.TerminalSizeQueue
	if width, height, err := term.GetSize(fd); err == nil {
		queue := make(sizeQueueChan, 1)
		queue <- &remotecommand.TerminalSize{Width: uint16(width), Height: uint16(height)}
		sizeQueue = queue
	}
	return restore, sizeQueue, nil
}

// sizeQueueChan feeds terminal sizes to the remote command. After the
// initial size it blocks, which keeps the remote TTY at the starting
// dimensions for the rest of the session.
type sizeQueueChan chan *remotecommand.TerminalSize

func (q sizeQueueChan) Next() *remotecommand.TerminalSize { return <-q }
