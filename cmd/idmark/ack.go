package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// waitForAcknowledgement blocks until Enter when in is an interactive
// terminal. Pipes, files, and --no-wait return immediately.
func waitForAcknowledgement(in io.Reader, out io.Writer, noWait bool) {
	if noWait || !isInteractive(in) {
		return
	}
	fmt.Fprint(out, "Press enter to finish")
	_, _ = bufio.NewReader(in).ReadString('\n')
}

func isInteractive(in io.Reader) bool {
	file, ok := in.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
