//go:build linux

package main

import "golang.org/x/sys/unix"

// termios ioctls on linux.
const (
	ioctlReadTermios  = unix.TCGETS
	ioctlWriteTermios = unix.TCSETS
)
