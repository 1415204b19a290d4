//go:build !linux && !windows

package util

const (
	defaultSerialPort = "/dev/tty.usbmodem1"
	defaultEditor     = "open"
)
