package util

const (
	defaultSerialPort = "COM3"
	defaultEditor     = "notepad.exe"
)
