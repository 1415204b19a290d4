package util

const (
	defaultSerialPort = "/dev/ttyACM0"
	defaultEditor     = "xdg-open"
)
