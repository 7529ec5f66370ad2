// itserial/port.go

// Package itserial provides a buffered, non-blocking serial port on top of a
// transport that can only move one byte per interrupt-driven request.
//
// A Port owns an inbound and an outbound RingBuffer. The completion context
// (an interrupt handler on hardware, a goroutine on the host) fills the inbound
// ring and drains the outbound ring one byte at a time; the application context
// reads and writes the rings without ever blocking. Completion notifications that
// only carry an EndpointID are routed to the owning Port through a Registry.
package itserial

// Port is a buffered serial port bound to one Endpoint.
//
// Invariants:
//   - At most one receive and one transmit request are outstanding on the endpoint.
//   - After Begin, a receive request is always outstanding (re-armed on every completion).
//   - A transmit request is outstanding whenever the outbound ring is non-empty.
//
// The busy/idle state of the transmitter is read from the endpoint, never cached.
type Port struct {
	ep Endpoint

	rx *RingBuffer // completion context -> application
	tx *RingBuffer // application -> completion context

	rxCell [1]byte // target of the outstanding receive
	txCell [1]byte // source of the outstanding transmit

	notify   chan struct{} // coalesced RX readiness notifications
	txNotify chan struct{} // coalesced TX progress notifications
	closed   chan struct{}

	stats Stats
}

// New returns a Port over ep with inbound and outbound rings of capacity slots
// each (capacity-1 usable bytes). A capacity of 0 or less selects DefaultBufferSize.
// The port does not receive until Begin is called.
func New(ep Endpoint, capacity int) *Port {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &Port{
		ep:       ep,
		rx:       NewRingBuffer(capacity),
		tx:       NewRingBuffer(capacity),
		notify:   make(chan struct{}, 1),
		txNotify: make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
}

// Endpoint returns the transport endpoint the port is bound to.
func (p *Port) Endpoint() Endpoint { return p.ep }

// Begin arms the first one-byte receive. Call it once, after the endpoint has
// been configured and before any read or write.
func (p *Port) Begin() error {
	if err := p.armReceive(); err != nil {
		return ErrNotArmed
	}
	return nil
}

// ReadByte pops one byte from the inbound ring. It never blocks; if no data is
// available it returns ErrBufferEmpty.
func (p *Port) ReadByte() (byte, error) {
	if b, ok := p.rx.Get(); ok {
		return b, nil
	}
	return 0, ErrBufferEmpty
}

// Read copies up to len(b) buffered bytes into b. It never blocks and returns
// 0, nil when nothing has been received.
func (p *Port) Read(b []byte) (int, error) {
	n := 0
	for n < len(b) {
		c, ok := p.rx.Get()
		if !ok {
			break
		}
		b[n] = c
		n++
	}
	return n, nil
}

// WriteByte queues one byte for transmission and starts the transmitter if it is
// idle. It returns ErrBufferFull, without queuing, when the outbound ring is full;
// an idle transmitter is still restarted in that case.
func (p *Port) WriteByte(c byte) error {
	ok := p.tx.Put(c)
	p.kickTransmit()
	if !ok {
		return ErrBufferFull
	}
	return nil
}

// TryWrite queues bytes from b in order until the outbound ring is full and
// returns how many were accepted.
func (p *Port) TryWrite(b []byte) int {
	for i, c := range b {
		if err := p.WriteByte(c); err != nil {
			return i
		}
	}
	return len(b)
}

// Write implements io.Writer without blocking. A short write returns the number
// of bytes queued and ErrBufferFull; the caller decides whether to retry.
func (p *Port) Write(b []byte) (int, error) {
	n := p.TryWrite(b)
	if n < len(b) {
		return n, ErrBufferFull
	}
	return n, nil
}

// Available reports whether at least one received byte is waiting.
func (p *Port) Available() bool { return p.rx.Used() > 0 }

// Buffered returns the number of bytes waiting in the inbound ring.
func (p *Port) Buffered() int { return p.rx.Used() }

// TxBuffered returns the number of bytes queued but not yet handed to the endpoint.
func (p *Port) TxBuffered() int { return p.tx.Used() }

// TxFree returns the remaining space in the outbound ring in bytes.
func (p *Port) TxFree() int { return p.tx.Free() }

// FlushInbound discards all received bytes. Completion notifications are masked
// while both ring indices are reset.
func (p *Port) FlushInbound() {
	st := p.ep.DisableNotify()
	p.rx.Clear()
	p.ep.RestoreNotify(st)
}

// FlushOutbound discards all bytes not yet handed to the endpoint. A byte already
// in flight still completes.
func (p *Port) FlushOutbound() {
	st := p.ep.DisableNotify()
	p.tx.Clear()
	p.ep.RestoreNotify(st)
}
