// Package hostserial binds itserial ports to byte streams on a host computer,
// typically an OS serial device opened with github.com/tarm/serial.
//
// Two goroutines stand in for the interrupt context: one performs the armed
// one-byte reads, the other the one-byte writes. Each completion is dispatched
// through the Registry while holding the endpoint's notification lock, so the
// application-side critical sections of itserial.Port see the same exclusion
// they get from disabling interrupts on hardware.
package hostserial

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/tarm/serial"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/jangala-dev/tinygo-itserial/itserial"
)

// Config describes an OS serial device. Ports are opened 8N1.
type Config struct {
	Name        string        // device path, e.g. /dev/ttyUSB0 or COM5
	Baud        int           // defaults to 115200
	ReadTimeout time.Duration // poll interval for the receive goroutine; 0 blocks
}

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithLogger sets the logger used for transport errors and dropped bytes.
func WithLogger(l *log.Logger) Option {
	return func(e *Endpoint) { e.log = l }
}

// WithEOFAsTimeout makes the receive goroutine treat an empty read ending in
// io.EOF as "no byte yet" rather than end of stream. Serial devices opened with
// a read timeout d report expiry that way.
//
// An empty read that returns in well under d did not wait for the timeout.
// After maxEarlyEOFs of those in a row the device is considered gone and Run
// fails with an error wrapping io.EOF.
func WithEOFAsTimeout(d time.Duration) Option {
	return func(e *Endpoint) {
		e.eofIsTimeout = true
		e.readTimeout = d
	}
}

// maxEarlyEOFs is the number of consecutive early empty reads tolerated.
const maxEarlyEOFs = 8

// Endpoint is an itserial.Endpoint over an io.ReadWriteCloser.
type Endpoint struct {
	id  itserial.EndpointID
	rwc io.ReadWriteCloser
	reg *itserial.Registry
	log *log.Logger

	eofIsTimeout bool
	readTimeout  time.Duration

	irq sync.Mutex // held by DisableNotify and around every dispatch

	mu     sync.Mutex
	rxDst  []byte // armed receive target, nil when none outstanding
	txBusy bool
	txByte byte

	rxReq chan struct{} // coalesced "receive armed" hint
	txReq chan struct{} // "transmit issued"

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

var _ itserial.Endpoint = (*Endpoint)(nil)

// Open opens the serial device described by cfg and returns an endpoint with
// identity id reporting completions to reg. Call Run to start moving bytes.
func Open(cfg Config, id itserial.EndpointID, reg *itserial.Registry, opts ...Option) (*Endpoint, error) {
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Name,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, xerrors.Errorf("hostserial: could not open %q: %w", cfg.Name, err)
	}
	if cfg.ReadTimeout > 0 {
		opts = append([]Option{WithEOFAsTimeout(cfg.ReadTimeout)}, opts...)
	}
	return NewEndpoint(id, port, reg, opts...), nil
}

// NewEndpoint returns an endpoint over rwc with identity id reporting
// completions to reg.
func NewEndpoint(id itserial.EndpointID, rwc io.ReadWriteCloser, reg *itserial.Registry, opts ...Option) *Endpoint {
	e := &Endpoint{
		id:    id,
		rwc:   rwc,
		reg:   reg,
		log:   log.New(io.Discard, "", 0),
		rxReq: make(chan struct{}, 1),
		txReq: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Endpoint) ID() itserial.EndpointID { return e.id }

func (e *Endpoint) IssueReceive(dst []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rxDst != nil {
		return itserial.ErrBusy
	}
	e.rxDst = dst
	poke(e.rxReq)
	return nil
}

func (e *Endpoint) IssueTransmit(src []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.txBusy {
		return itserial.ErrBusy
	}
	e.txBusy = true
	e.txByte = src[0]
	poke(e.txReq)
	return nil
}

func (e *Endpoint) TxIdle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.txBusy
}

// AbortReceive forgets the armed target. A read already blocked in the
// underlying stream completes later and its byte is discarded.
func (e *Endpoint) AbortReceive() error {
	e.mu.Lock()
	e.rxDst = nil
	e.mu.Unlock()
	return nil
}

// Unlock is a no-op: a stream never leaves a stale lock behind.
func (e *Endpoint) Unlock() {}

func (e *Endpoint) DisableNotify() itserial.NotifyState {
	e.irq.Lock()
	return 0
}

func (e *Endpoint) RestoreNotify(itserial.NotifyState) {
	e.irq.Unlock()
}

// Run moves bytes until ctx is done, Close is called or the stream fails.
// It returns nil on cancellation or Close.
func (e *Endpoint) Run(parent context.Context) error {
	grp, ctx := errgroup.WithContext(parent)
	grp.Go(func() error { return e.receiveLoop(ctx) })
	grp.Go(func() error { return e.transmitLoop(ctx) })
	grp.Go(func() error {
		select {
		case <-ctx.Done():
		case <-e.done:
		}
		// Unblock a pending read.
		return e.Close()
	})

	err := grp.Wait()
	if parent.Err() != nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops Run and closes the underlying stream.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		close(e.done)
		e.closeErr = e.rwc.Close()
	})
	return e.closeErr
}

func (e *Endpoint) closed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

func (e *Endpoint) receiveLoop(ctx context.Context) error {
	var one [1]byte
	for {
		select {
		case <-e.rxReq:
		case <-e.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

		if err := e.readOne(ctx, one[:]); err != nil || e.closed() {
			return err
		}

		e.irq.Lock()
		e.mu.Lock()
		dst := e.rxDst
		e.rxDst = nil
		e.mu.Unlock()
		if dst == nil {
			e.irq.Unlock()
			e.log.Printf("hostserial: endpoint %d: dropped 0x%02x (receive aborted)", e.id, one[0])
			continue
		}
		dst[0] = one[0]
		e.reg.DispatchInboundComplete(e.id)
		e.irq.Unlock()
	}
}

// readOne blocks until exactly one byte has been read into b.
func (e *Endpoint) readOne(ctx context.Context, b []byte) error {
	early := 0
	for {
		start := time.Now()
		n, err := e.rwc.Read(b)
		if n == 1 {
			return nil
		}
		if e.closed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF) && e.eofIsTimeout:
			if time.Since(start) >= e.readTimeout/2 {
				early = 0
				continue
			}
			early++
			if early >= maxEarlyEOFs {
				e.log.Printf("hostserial: endpoint %d: %d immediate EOFs, device gone", e.id, early)
				return xerrors.Errorf("hostserial: endpoint %d: device returned %d immediate empty reads: %w", e.id, early, err)
			}
		default:
			e.log.Printf("hostserial: endpoint %d: read: %v", e.id, err)
			return xerrors.Errorf("hostserial: could not read from endpoint %d: %w", e.id, err)
		}
	}
}

func (e *Endpoint) transmitLoop(ctx context.Context) error {
	var one [1]byte
	for {
		select {
		case <-e.txReq:
		case <-e.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

		e.mu.Lock()
		one[0] = e.txByte
		e.mu.Unlock()

		if _, err := e.rwc.Write(one[:]); err != nil {
			if e.closed() {
				return nil
			}
			e.log.Printf("hostserial: endpoint %d: write: %v", e.id, err)
			return xerrors.Errorf("hostserial: could not write to endpoint %d: %w", e.id, err)
		}

		e.irq.Lock()
		e.mu.Lock()
		e.txBusy = false
		e.mu.Unlock()
		e.reg.DispatchOutboundComplete(e.id)
		e.irq.Unlock()
	}
}

func poke(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
