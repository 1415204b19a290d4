package plastiscan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ecocollect/plastiscan/pkg/plastiscan/scanner"
)

// fakePort replays chunks written by the test; an empty chunk is a frame without data
type fakePort struct {
	reads     chan []byte
	errs      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakePort() *fakePort {
	return &fakePort{
		reads:  make(chan []byte),
		errs:   make(chan error),
		closed: make(chan struct{}),
	}
}

func (fp *fakePort) Read(b []byte) (int, error) {
	select {
	case chunk := <-fp.reads:
		if len(chunk) == 0 {
			return 0, io.EOF
		}
		return copy(b, chunk), nil
	case err := <-fp.errs:
		return 0, err
	case <-fp.closed:
		return 0, os.ErrClosed
	}
}

func (fp *fakePort) Write(b []byte) (int, error) {
	return len(b), nil
}

func (fp *fakePort) Close() error {
	fp.closeOnce.Do(func() { close(fp.closed) })
	return nil
}

func (fp *fakePort) isClosed() bool {
	select {
	case <-fp.closed:
		return true
	default:
		return false
	}
}

func (fp *fakePort) send(t *testing.T, chunk string) {
	t.Helper()

	select {
	case fp.reads <- []byte(chunk):
	case <-time.After(waitFor):
		t.Fatalf("read loop never picked up %q", chunk)
	}
}

func (fp *fakePort) fail(t *testing.T, err error) {
	t.Helper()

	select {
	case fp.errs <- err:
	case <-time.After(waitFor):
		t.Fatalf("read loop never picked up %v", err)
	}
}

type fakeOpener struct {
	mu      sync.Mutex
	err     error
	options []serial.OpenOptions
	ports   []*fakePort
}

func (fo *fakeOpener) open(options serial.OpenOptions) (io.ReadWriteCloser, error) {
	fo.mu.Lock()
	defer fo.mu.Unlock()

	fo.options = append(fo.options, options)
	if fo.err != nil {
		return nil, fo.err
	}

	port := newFakePort()
	fo.ports = append(fo.ports, port)
	return port, nil
}

func (fo *fakeOpener) setErr(err error) {
	fo.mu.Lock()
	defer fo.mu.Unlock()

	fo.err = err
}

func (fo *fakeOpener) opened() int {
	fo.mu.Lock()
	defer fo.mu.Unlock()

	return len(fo.ports)
}

func (fo *fakeOpener) lastPort() *fakePort {
	fo.mu.Lock()
	defer fo.mu.Unlock()

	return fo.ports[len(fo.ports)-1]
}

func newTestSerialDevice(t *testing.T, opener *fakeOpener) *SerialDevice {
	t.Helper()

	sd := NewSerialDevice(zaptest.NewLogger(t).Sugar(), func() DeviceInfo {
		return DeviceInfo{Kind: deviceKindSerial, Port: "/dev/ttyACM0", BaudRate: 9600}
	})
	sd.open = opener.open
	return sd
}

type callbackRecorder struct {
	successes chan string
	failures  chan string
	errs      chan error
}

func newCallbackRecorder() *callbackRecorder {
	return &callbackRecorder{
		successes: make(chan string, 16),
		failures:  make(chan string, 16),
		errs:      make(chan error, 1),
	}
}

func (cr *callbackRecorder) onSuccess(text string)    { cr.successes <- text }
func (cr *callbackRecorder) onFailure(message string) { cr.failures <- message }
func (cr *callbackRecorder) onError(err error)        { cr.errs <- err }

func receive(t *testing.T, ch chan string) string {
	t.Helper()

	select {
	case value := <-ch:
		return value
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for callback")
		return ""
	}
}

func TestSerialDevice_RequestBlocksUntilData(t *testing.T) {
	opener := &fakeOpener{}
	sd := newTestSerialDevice(t, opener)

	stream, err := sd.Request(context.Background())
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	require.Len(t, opener.options, 1)
	assert.Equal(t, "/dev/ttyACM0", opener.options[0].PortName)
	assert.Equal(t, uint(9600), opener.options[0].BaudRate)
	assert.Equal(t, uint(1), opener.options[0].MinimumReadSize)
	assert.Equal(t, uint(0), opener.options[0].InterCharacterTimeout)
}

func TestSerialDevice_RequestErrorsAreClassified(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected scanner.Category
	}{
		{"permission", &os.PathError{Op: "open", Path: "/dev/ttyACM0", Err: syscall.EACCES}, scanner.CategoryPermissionDenied},
		{"missing port", &os.PathError{Op: "open", Path: "/dev/ttyACM0", Err: syscall.ENOENT}, scanner.CategoryNoDevice},
		{"not a tty", syscall.ENOTTY, scanner.CategoryUnsupported},
		{"platform", errors.New("Not implemented on this OS."), scanner.CategoryUnsupported},
		{"busy", &os.PathError{Op: "open", Path: "/dev/ttyACM0", Err: syscall.EBUSY}, scanner.CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sd := newTestSerialDevice(t, &fakeOpener{err: tt.err})

			_, err := sd.Request(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.expected, scanner.Classify(err))
		})
	}
}

func TestFrameIntervalFor(t *testing.T) {
	tests := []struct {
		fps      int
		expected time.Duration
	}{
		{10, 100 * time.Millisecond},
		{30, 100 * time.Millisecond},
		{3, 300 * time.Millisecond},
		{1, time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d fps", tt.fps), func(t *testing.T) {
			assert.Equal(t, tt.expected, frameIntervalFor(tt.fps))
		})
	}
}

func TestSerialEngine_ReadsCodes(t *testing.T) {
	opener := &fakeOpener{}
	sd := newTestSerialDevice(t, opener)

	engine, err := sd.NewEngine("qr-reader-test")
	require.NoError(t, err)

	rec := newCallbackRecorder()
	require.NoError(t, engine.Start(context.Background(), scanner.DefaultOptions(), rec.onSuccess, rec.onFailure, rec.onError))
	assert.True(t, engine.Scanning())

	require.Len(t, opener.options, 1)
	assert.Equal(t, uint(0), opener.options[0].MinimumReadSize)
	assert.Equal(t, uint(100), opener.options[0].InterCharacterTimeout)

	port := opener.lastPort()

	port.send(t, "PLASTIC-QR-2025-0042\r\n")
	assert.Equal(t, "PLASTIC-QR-2025-0042", receive(t, rec.successes))

	port.send(t, "")
	assert.Equal(t, frameMissMessage, receive(t, rec.failures))

	port.send(t, "PLASTIC-QR")
	port.send(t, "-2025-0041\n")
	assert.Equal(t, "PLASTIC-QR-2025-0041", receive(t, rec.successes))

	port.send(t, "\x01\x02\x03\r\n")
	assert.Equal(t, unreadablePayloadMsg, receive(t, rec.failures))

	require.Error(t, engine.Start(context.Background(), scanner.DefaultOptions(), rec.onSuccess, rec.onFailure, rec.onError),
		"a running engine must not open a second connection")

	require.NoError(t, engine.Stop(context.Background()))
	assert.False(t, engine.Scanning())
	assert.True(t, port.isClosed())

	require.NoError(t, engine.Stop(context.Background()))
}

func TestSerialDevice_SingleShotWithController(t *testing.T) {
	opener := &fakeOpener{}
	sd := newTestSerialDevice(t, opener)

	decoded := make(chan scanner.DecodedResult, 1)
	controller, err := scanner.NewController(zaptest.NewLogger(t).Sugar(), sd, sd,
		scanner.WithSettleDelay(0),
		scanner.WithConsumer(func(result scanner.DecodedResult) { decoded <- result }))
	require.NoError(t, err)

	require.Equal(t, scanner.PermissionGranted, controller.ProbePermission(context.Background()))
	require.True(t, opener.lastPort().isClosed(), "probe must release the port")

	require.NoError(t, controller.Start(context.Background(), nil))
	port := opener.lastPort()

	port.send(t, "PLASTIC-QR-2025-0040\r\n")

	select {
	case result := <-decoded:
		assert.Equal(t, "PLASTIC-QR-2025-0040", result.Text)
	case <-time.After(waitFor):
		t.Fatal("decode never reached the consumer")
	}

	require.Eventually(t, func() bool {
		return controller.Snapshot().Scanning == scanner.StateIdle
	}, waitFor, tick)
	assert.True(t, port.isClosed())
}

func TestSerialEngine_ReadErrorDropsConnection(t *testing.T) {
	opener := &fakeOpener{}
	sd := newTestSerialDevice(t, opener)

	engine, err := sd.NewEngine("qr-reader-test")
	require.NoError(t, err)

	rec := newCallbackRecorder()
	require.NoError(t, engine.Start(context.Background(), scanner.DefaultOptions(), rec.onSuccess, rec.onFailure, rec.onError))

	port := opener.lastPort()
	port.fail(t, &os.PathError{Op: "read", Path: "/dev/ttyACM0", Err: syscall.EACCES})

	select {
	case err := <-rec.errs:
		assert.ErrorIs(t, err, scanner.ErrPermissionDenied)
		assert.ErrorIs(t, err, syscall.EACCES)
	case <-time.After(waitFor):
		t.Fatal("read error was never reported")
	}

	assert.False(t, engine.Scanning())
	assert.True(t, port.isClosed())
	assert.Empty(t, rec.failures, "a lost device is not a decode miss")

	require.NoError(t, engine.Stop(context.Background()))
}

func TestSerialDevice_ReadErrorEndsControllerSession(t *testing.T) {
	tests := []struct {
		name               string
		err                error
		expectedCategory   scanner.Category
		expectedPermission scanner.PermissionState
	}{
		{"io error", syscall.EIO, scanner.CategoryUnknown, scanner.PermissionGranted},
		{"unplugged", syscall.ENXIO, scanner.CategoryNoDevice, scanner.PermissionGranted},
		{"access revoked", syscall.EACCES, scanner.CategoryPermissionDenied, scanner.PermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opener := &fakeOpener{}
			sd := newTestSerialDevice(t, opener)

			controller, err := scanner.NewController(zaptest.NewLogger(t).Sugar(), sd, sd, scanner.WithSettleDelay(0))
			require.NoError(t, err)

			require.Equal(t, scanner.PermissionGranted, controller.ProbePermission(context.Background()))
			require.NoError(t, controller.Start(context.Background(), nil))
			require.Equal(t, scanner.StateActive, controller.Snapshot().Scanning)

			port := opener.lastPort()
			port.fail(t, tt.err)

			require.Eventually(t, func() bool {
				return controller.Snapshot().Scanning == scanner.StateIdle
			}, waitFor, tick)

			snapshot := controller.Snapshot()
			require.NotNil(t, snapshot.LastError)
			assert.Equal(t, tt.expectedCategory, snapshot.LastError.Category)
			assert.Equal(t, tt.expectedPermission, snapshot.Permission)
			assert.True(t, port.isClosed())
		})
	}
}
