package plastiscan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"

	"github.com/ecocollect/plastiscan/pkg/plastiscan/scanner"
)

const (
	// the tty read timeout has a resolution of 100ms and tops out at 25.5s
	minFrameInterval = 100 * time.Millisecond
	maxFrameInterval = 25500 * time.Millisecond

	serialReadBufferSize = 256
	maxPendingLineBytes  = 4096

	frameMissMessage     = "NotFoundException: no code in frame"
	unreadablePayloadMsg = "unreadable payload"
)

// hardware readers emit one printable code per CR/LF terminated line
var expectedPayloadPattern = regexp.MustCompile(`^[[:print:]]{1,512}$`)

type openSerialFunc func(serial.OpenOptions) (io.ReadWriteCloser, error)

// SerialDevice binds the scanner capabilities to a USB/serial code reader
type SerialDevice struct {
	logger         *zap.SugaredLogger
	connectionInfo func() DeviceInfo
	open           openSerialFunc
}

// NewSerialDevice creates a serial device that reads its port settings from connectionInfo on every open
func NewSerialDevice(logger *zap.SugaredLogger, connectionInfo func() DeviceInfo) *SerialDevice {
	logger = logger.Named("serial")

	sd := &SerialDevice{
		logger:         logger,
		connectionInfo: connectionInfo,
		open:           serial.Open,
	}

	logger.Debug("Created serial device instance")
	return sd
}

// Request opens the port, proving that we're allowed to and that it exists
func (sd *SerialDevice) Request(ctx context.Context) (scanner.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := sd.openPort(0)
	if err != nil {
		return nil, err
	}

	return conn, nil
}

// NewEngine returns an engine reading codes off the serial port
func (sd *SerialDevice) NewEngine(regionID string) (scanner.Engine, error) {
	return &serialEngine{
		device: sd,
		logger: sd.logger.With("region", regionID),
	}, nil
}

// openPort opens the configured port. A zero frame interval blocks reads
// until at least one byte arrives; otherwise reads return empty after each frame.
func (sd *SerialDevice) openPort(frameInterval time.Duration) (io.ReadWriteCloser, error) {
	info := sd.connectionInfo()

	connOptions := serial.OpenOptions{
		PortName:        info.Port,
		BaudRate:        uint(info.BaudRate),
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	}

	if frameInterval > 0 {
		connOptions.MinimumReadSize = 0
		connOptions.InterCharacterTimeout = uint(frameInterval / time.Millisecond)
	}

	sd.logger.Debugw("Opening serial connection",
		"comPort", connOptions.PortName,
		"baudRate", connOptions.BaudRate,
		"minReadSize", connOptions.MinimumReadSize,
		"readTimeout", connOptions.InterCharacterTimeout)

	conn, err := sd.open(connOptions)
	if err != nil {
		sd.logger.Warnw("Failed to open serial connection", "comPort", connOptions.PortName, "error", err)
		return nil, fmt.Errorf("open serial connection: %w", classifySerialError(err))
	}

	return conn, nil
}

// classifySerialError tags open errors with the scanner failure they amount to
func classifySerialError(err error) error {
	switch {
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return fmt.Errorf("%w: %w", scanner.ErrPermissionDenied, err)
	case errors.Is(err, syscall.ENOENT), errors.Is(err, syscall.ENODEV), errors.Is(err, syscall.ENXIO):
		return fmt.Errorf("%w: %w", scanner.ErrNoDevice, err)
	case errors.Is(err, syscall.ENOTTY),
		strings.Contains(strings.ToLower(err.Error()), "not implemented"):
		return fmt.Errorf("%w: %w", scanner.ErrUnsupported, err)
	}
	return err
}

// frameIntervalFor converts a sampling rate into the read timeout the tty supports
func frameIntervalFor(fps int) time.Duration {
	interval := time.Second / time.Duration(fps)
	interval = interval.Round(minFrameInterval)

	if interval < minFrameInterval {
		return minFrameInterval
	}
	if interval > maxFrameInterval {
		return maxFrameInterval
	}
	return interval
}

type serialEngine struct {
	device *SerialDevice
	logger *zap.SugaredLogger

	lock        sync.Mutex
	conn        io.ReadWriteCloser
	stopChannel chan bool
	loopDone    chan struct{}
}

func (se *serialEngine) Start(ctx context.Context, opts scanner.Options,
	onSuccess func(string), onFailure func(string), onError func(error)) error {

	se.lock.Lock()
	defer se.lock.Unlock()

	if se.conn != nil {
		se.logger.Warn("Already have a connection, cannot start a new one")
		return errors.New("serial: connection already active")
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	frameInterval := frameIntervalFor(opts.FPS)
	se.logger.Debugw("Region and aspect ratio don't apply to serial readers",
		"box", opts.Box, "aspectRatio", opts.AspectRatio, "frameInterval", frameInterval)

	conn, err := se.device.openPort(frameInterval)
	if err != nil {
		return err
	}

	se.conn = conn
	se.stopChannel = make(chan bool, 1)
	se.loopDone = make(chan struct{})

	go se.readLoop(conn, se.stopChannel, se.loopDone, onSuccess, onFailure, onError)

	se.logger.Info("Serial reader connected")
	return nil
}

func (se *serialEngine) Stop(ctx context.Context) error {
	se.lock.Lock()
	conn, stopChannel, loopDone := se.conn, se.stopChannel, se.loopDone
	se.conn = nil
	se.lock.Unlock()

	if conn == nil {
		se.logger.Debug("Not currently connected, nothing to stop")
		return nil
	}

	stopChannel <- true

	// closing unblocks a pending read
	closeErr := conn.Close()

	select {
	case <-loopDone:
	case <-ctx.Done():
		return fmt.Errorf("wait for serial read loop: %w", ctx.Err())
	}

	if closeErr != nil {
		return fmt.Errorf("close serial connection: %w", closeErr)
	}

	se.logger.Debug("Serial connection closed")
	return nil
}

func (se *serialEngine) Scanning() bool {
	se.lock.Lock()
	defer se.lock.Unlock()

	return se.conn != nil
}

// drop forgets a connection the read loop gave up on, unless Stop already took it
func (se *serialEngine) drop(conn io.Closer) {
	se.lock.Lock()
	owned := se.conn == conn
	if owned {
		se.conn = nil
	}
	se.lock.Unlock()

	if !owned {
		return
	}

	if err := conn.Close(); err != nil {
		se.logger.Debugw("Failed to close dropped serial connection", "error", err)
	}
}

func (se *serialEngine) readLoop(conn io.ReadCloser, stopChannel chan bool, loopDone chan struct{},
	onSuccess func(string), onFailure func(string), onError func(error)) {

	defer close(loopDone)

	buf := make([]byte, serialReadBufferSize)
	var pending []byte

	for {
		select {
		case <-stopChannel:
			return
		default:
		}

		n, err := conn.Read(buf)

		// a read that times out without data surfaces as EOF on a tty
		if err != nil && !errors.Is(err, io.EOF) {
			select {
			case <-stopChannel:
				return
			default:
			}

			se.logger.Warnw("Failed to read line from serial", "error", err)
			se.drop(conn)
			onError(fmt.Errorf("read from serial: %w", classifySerialError(err)))
			return
		}

		if n == 0 {
			onFailure(frameMissMessage)
			continue
		}

		pending = append(pending, buf[:n]...)

		for {
			idx := bytes.IndexAny(pending, "\r\n")
			if idx < 0 {
				break
			}

			line := strings.TrimSpace(string(pending[:idx]))
			pending = pending[idx+1:]

			if line == "" {
				continue
			}

			if !expectedPayloadPattern.MatchString(line) {
				onFailure(unreadablePayloadMsg)
				continue
			}

			onSuccess(line)
		}

		if len(pending) > maxPendingLineBytes {
			se.logger.Debugw("Dropping oversized partial line", "bytes", len(pending))
			pending = nil
			onFailure(unreadablePayloadMsg)
		}
	}
}
