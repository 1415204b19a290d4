package scanner

import (
	"context"
	"fmt"
)

// Stream is a revocable handle on a capture device.
type Stream interface {
	Close() error
}

// DeviceAccess requests permission-gated access to the capture device.
type DeviceAccess interface {
	Request(ctx context.Context) (Stream, error)
}

// Engine decodes codes from the frames of a device it acquires on Start.
//
// onSuccess is called with the decoded text, onFailure with the engine's
// message for a frame in which nothing could be decoded. onError reports a
// fatal failure after Start returned: the engine has lost the device, released
// it and stopped reporting Scanning. Callbacks may be called from any
// goroutine, and may keep being called until Stop returns.
type Engine interface {
	Start(ctx context.Context, opts Options, onSuccess func(text string), onFailure func(message string), onError func(err error)) error
	Stop(ctx context.Context) error
	Scanning() bool
}

// EngineFactory creates an engine bound to a named display region.
type EngineFactory interface {
	NewEngine(regionID string) (Engine, error)
}

// FacingMode selects which camera to open when more than one is available.
type FacingMode string

const (
	FacingEnvironment FacingMode = "environment"
	FacingUser        FacingMode = "user"
)

// Box is the central detection region, in pixels.
type Box struct {
	Width  int
	Height int
}

// Options configures a decoding run.
type Options struct {
	Facing      FacingMode
	FPS         int
	Box         Box
	AspectRatio float64
}

// DefaultOptions samples 10 frames a second from a square 250x250 region of the rear camera.
func DefaultOptions() Options {
	return Options{
		Facing:      FacingEnvironment,
		FPS:         10,
		Box:         Box{Width: 250, Height: 250},
		AspectRatio: 1.0,
	}
}

// Validate rejects options no engine can run with.
func (o Options) Validate() error {
	if o.FPS <= 0 {
		return fmt.Errorf("invalid fps %d", o.FPS)
	}
	if o.Box.Width <= 0 || o.Box.Height <= 0 {
		return fmt.Errorf("invalid detection box %dx%d", o.Box.Width, o.Box.Height)
	}
	if o.AspectRatio <= 0 {
		return fmt.Errorf("invalid aspect ratio %.2f", o.AspectRatio)
	}
	return nil
}
