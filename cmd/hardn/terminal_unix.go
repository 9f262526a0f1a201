//go:build !windows

package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// quietTerminal stops the tty from echoing "^C" over the progress bar. the returned
// func restores the saved termios and makes the cursor visible again.
func quietTerminal() func() {
	in, out := int(os.Stdin.Fd()), int(os.Stdout.Fd())
	showCursor := func() {
		if term.IsTerminal(out) {
			fmt.Fprint(os.Stdout, "\x1b[?25h")
		}
	}
	if !term.IsTerminal(in) {
		return showCursor
	}

	saved, err := unix.IoctlGetTermios(in, ioctlReadTermios)
	if err != nil {
		return showCursor
	}
	quiet := *saved
	quiet.Lflag &^= unix.ECHOCTL
	if err := unix.IoctlSetTermios(in, ioctlWriteTermios, &quiet); err != nil {
		return showCursor
	}
	return func() {
		_ = unix.IoctlSetTermios(in, ioctlWriteTermios, saved)
		showCursor()
	}
}
