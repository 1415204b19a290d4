package scanner

import (
	"context"
	"sync"
	"sync/atomic"
)

type fakeStream struct {
	closed atomic.Int32
}

func (s *fakeStream) Close() error {
	s.closed.Add(1)
	return nil
}

type fakeAccess struct {
	// gate, when set, holds every request until closed; entered sees each request arrive
	gate    chan struct{}
	entered chan struct{}

	mu       sync.Mutex
	err      error
	streams  []*fakeStream
	requests int
}

func (a *fakeAccess) Request(ctx context.Context) (Stream, error) {
	if a.entered != nil {
		a.entered <- struct{}{}
	}
	if a.gate != nil {
		<-a.gate
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.requests++
	if a.err != nil {
		return nil, a.err
	}

	stream := &fakeStream{}
	a.streams = append(a.streams, stream)
	return stream, nil
}

func (a *fakeAccess) setErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.err = err
}

type fakeEngine struct {
	regionID  string
	startErr  error
	stopErr   error
	startGate chan struct{}
	stopGate  chan struct{}

	mu         sync.Mutex
	scanning   bool
	opts       Options
	onSuccess  func(string)
	onFailure  func(string)
	onError    func(error)
	startCalls int
	stopCalls  int
}

func (e *fakeEngine) Start(ctx context.Context, opts Options, onSuccess func(string), onFailure func(string), onError func(error)) error {
	if e.startGate != nil {
		<-e.startGate
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.startCalls++
	if e.startErr != nil {
		return e.startErr
	}

	e.scanning = true
	e.opts = opts
	e.onSuccess = onSuccess
	e.onFailure = onFailure
	e.onError = onError
	return nil
}

func (e *fakeEngine) Stop(ctx context.Context) error {
	if e.stopGate != nil {
		<-e.stopGate
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopCalls++
	e.scanning = false
	return e.stopErr
}

func (e *fakeEngine) Scanning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.scanning
}

func (e *fakeEngine) decode(text string) {
	e.mu.Lock()
	onSuccess := e.onSuccess
	e.mu.Unlock()

	onSuccess(text)
}

func (e *fakeEngine) miss(message string) {
	e.mu.Lock()
	onFailure := e.onFailure
	e.mu.Unlock()

	onFailure(message)
}

// lose drops the device the way a failing engine does: it stops scanning, then reports err
func (e *fakeEngine) lose(err error) {
	e.mu.Lock()
	e.scanning = false
	onError := e.onError
	e.mu.Unlock()

	onError(err)
}

func (e *fakeEngine) counts() (starts, stops int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.startCalls, e.stopCalls
}

type fakeFactory struct {
	startErr  error
	stopErr   error
	startGate chan struct{}
	stopGate  chan struct{}

	mu      sync.Mutex
	engines []*fakeEngine
}

func (f *fakeFactory) NewEngine(regionID string) (Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	engine := &fakeEngine{
		regionID:  regionID,
		startErr:  f.startErr,
		stopErr:   f.stopErr,
		startGate: f.startGate,
		stopGate:  f.stopGate,
	}
	f.engines = append(f.engines, engine)
	return engine, nil
}

func (f *fakeFactory) created() []*fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*fakeEngine(nil), f.engines...)
}

func (f *fakeFactory) last() *fakeEngine {
	engines := f.created()
	if len(engines) == 0 {
		return nil
	}
	return engines[len(engines)-1]
}

// transitions records every scanning state a controller reports.
type transitions struct {
	mu     sync.Mutex
	states []ScanningState
}

func (t *transitions) record(s Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.states); n > 0 && t.states[n-1] == s.Scanning {
		return
	}
	t.states = append(t.states, s.Scanning)
}

func (t *transitions) list() []ScanningState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]ScanningState(nil), t.states...)
}

type decodedSink struct {
	mu      sync.Mutex
	results []DecodedResult
}

func (s *decodedSink) consume(r DecodedResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = append(s.results, r)
}

func (s *decodedSink) list() []DecodedResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]DecodedResult(nil), s.results...)
}
