// itserial/simhw/simhw.go

// Package simhw provides a simulated one-byte transfer endpoint for exercising
// itserial ports without hardware.
//
// The simulation is stepwise: nothing completes on its own. Inject delivers a
// received byte and CompleteTransmit finishes the outstanding transmit; both run
// the completion through the bound Registry while holding the endpoint's
// notification lock, the same way an interrupt handler preempts the application.
package simhw

import (
	"sync"

	"github.com/jangala-dev/tinygo-itserial/itserial"
)

// Endpoint is a simulated transport endpoint.
type Endpoint struct {
	id  itserial.EndpointID
	reg *itserial.Registry

	irq sync.Mutex // held by DisableNotify and by every completion

	mu        sync.Mutex
	rxDst     []byte // armed receive target, nil when none outstanding
	locked    bool   // stale lock that makes IssueReceive report busy
	txBusy    bool
	txPending byte
	wire      []byte // every byte whose transmit completed

	// counters
	rxArms    int
	rxRejects int
	rxAborts  int
	unlocks   int
	rxLost    int
	txIssued  int
}

var _ itserial.Endpoint = (*Endpoint)(nil)

// New returns an idle endpoint that reports completions to reg.
func New(id itserial.EndpointID, reg *itserial.Registry) *Endpoint {
	return &Endpoint{id: id, reg: reg}
}

func (e *Endpoint) ID() itserial.EndpointID { return e.id }

func (e *Endpoint) IssueReceive(dst []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.locked || e.rxDst != nil {
		e.rxRejects++
		return itserial.ErrBusy
	}
	e.rxDst = dst
	e.rxArms++
	return nil
}

func (e *Endpoint) IssueTransmit(src []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.txBusy {
		return itserial.ErrBusy
	}
	e.txBusy = true
	e.txPending = src[0]
	e.txIssued++
	return nil
}

func (e *Endpoint) TxIdle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.txBusy
}

func (e *Endpoint) AbortReceive() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rxDst = nil
	e.rxAborts++
	return nil
}

func (e *Endpoint) Unlock() {
	e.mu.Lock()
	e.locked = false
	e.unlocks++
	e.mu.Unlock()
}

func (e *Endpoint) DisableNotify() itserial.NotifyState {
	e.irq.Lock()
	return 0
}

func (e *Endpoint) RestoreNotify(itserial.NotifyState) {
	e.irq.Unlock()
}

// StaleLock leaves the receiver locked, so the next IssueReceive is rejected
// until Unlock is called.
func (e *Endpoint) StaleLock() {
	e.mu.Lock()
	e.locked = true
	e.mu.Unlock()
}

// Inject delivers one received byte. It reports false, and the byte is lost,
// when no receive is outstanding.
func (e *Endpoint) Inject(b byte) bool {
	e.irq.Lock()
	defer e.irq.Unlock()

	e.mu.Lock()
	dst := e.rxDst
	if dst == nil {
		e.rxLost++
		e.mu.Unlock()
		return false
	}
	dst[0] = b
	e.rxDst = nil
	e.mu.Unlock()

	e.reg.DispatchInboundComplete(e.id)
	return true
}

// InjectAll delivers bs in order and returns how many found an armed receiver.
func (e *Endpoint) InjectAll(bs []byte) int {
	n := 0
	for _, b := range bs {
		if e.Inject(b) {
			n++
		}
	}
	return n
}

// CompleteTransmit finishes the outstanding transmit, records the byte on the
// wire and dispatches the completion. It reports false when the transmitter was idle.
func (e *Endpoint) CompleteTransmit() (byte, bool) {
	e.irq.Lock()
	defer e.irq.Unlock()

	e.mu.Lock()
	if !e.txBusy {
		e.mu.Unlock()
		return 0, false
	}
	b := e.txPending
	e.txBusy = false
	e.wire = append(e.wire, b)
	e.mu.Unlock()

	e.reg.DispatchOutboundComplete(e.id)
	return b, true
}

// Drain completes transmits until the transmitter stays idle and returns the
// bytes sent, in order.
func (e *Endpoint) Drain() []byte {
	var out []byte
	for {
		b, ok := e.CompleteTransmit()
		if !ok {
			return out
		}
		out = append(out, b)
	}
}

// Pump moves every byte src transmits into dst's receiver, one completion at a
// time, and returns how many bytes were transferred.
func Pump(src, dst *Endpoint) int {
	n := 0
	for {
		b, ok := src.CompleteTransmit()
		if !ok {
			return n
		}
		dst.Inject(b)
		n++
	}
}

// Wire returns a copy of every byte transmitted so far.
func (e *Endpoint) Wire() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]byte(nil), e.wire...)
}

// RxArmed reports whether a receive request is outstanding.
func (e *Endpoint) RxArmed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rxDst != nil
}

// Counters is a snapshot of the endpoint's request accounting.
type Counters struct {
	RxArms    int // receive requests accepted
	RxRejects int // receive requests rejected as busy
	RxAborts  int
	Unlocks   int
	RxLost    int // bytes injected with no receive outstanding
	TxIssued  int // transmit requests accepted
}

// Counters returns a snapshot of the request counters.
func (e *Endpoint) Counters() Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Counters{
		RxArms:    e.rxArms,
		RxRejects: e.rxRejects,
		RxAborts:  e.rxAborts,
		Unlocks:   e.unlocks,
		RxLost:    e.rxLost,
		TxIssued:  e.txIssued,
	}
}
