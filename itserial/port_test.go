package itserial_test

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jangala-dev/tinygo-itserial/itserial"
	"github.com/jangala-dev/tinygo-itserial/itserial/simhw"
)

// newTestPort returns a started port bound to a simulated endpoint.
func newTestPort(t *testing.T, id itserial.EndpointID, capacity int) (*itserial.Port, *simhw.Endpoint, *itserial.Registry) {
	t.Helper()
	reg := itserial.NewRegistry()
	ep := simhw.New(id, reg)
	p := itserial.New(ep, capacity)
	if err := reg.RegisterPort(p); err != nil {
		t.Fatalf("RegisterPort: %v", err)
	}
	if err := p.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return p, ep, reg
}

func TestBegin_ArmsReceive(t *testing.T) {
	reg := itserial.NewRegistry()
	ep := simhw.New(0, reg)
	p := itserial.New(ep, 16)
	if ep.RxArmed() {
		t.Fatal("receive armed before Begin")
	}
	if err := p.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if !ep.RxArmed() {
		t.Fatal("receive not armed after Begin")
	}
}

func TestRead_NonBlockingSemantics(t *testing.T) {
	p, ep, _ := newTestPort(t, 0, 16)
	buf := make([]byte, 8)

	if n, err := p.Read(buf); err != nil || n != 0 {
		t.Fatalf("Read on empty: n=%d err=%v; want 0,nil", n, err)
	}
	if _, err := p.ReadByte(); !errors.Is(err, itserial.ErrBufferEmpty) {
		t.Fatalf("ReadByte on empty: err=%v; want ErrBufferEmpty", err)
	}

	ep.InjectAll([]byte("ABC"))
	if !p.Available() {
		t.Fatal("Available = false after receiving")
	}

	n, err := p.Read(buf)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if n != 3 || string(buf[:n]) != "ABC" {
		t.Fatalf("got n=%d data=%q; want 3, \"ABC\"", n, string(buf[:n]))
	}
	if p.Available() {
		t.Fatal("Available = true after drain")
	}
}

func TestRoundTrip_BetweenPorts(t *testing.T) {
	reg := itserial.NewRegistry()
	epA := simhw.New(0, reg)
	epB := simhw.New(1, reg)
	a := itserial.New(epA, 32)
	b := itserial.New(epB, 32)
	for _, p := range []*itserial.Port{a, b} {
		if err := reg.RegisterPort(p); err != nil {
			t.Fatalf("RegisterPort: %v", err)
		}
		if err := p.Begin(); err != nil {
			t.Fatalf("Begin: %v", err)
		}
	}

	want := []byte{0x00, 0x7F, 0x80, 0xFF, 'h', 'i', '\n'}
	if n, err := a.Write(want); err != nil || n != len(want) {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}
	if epA.TxIdle() {
		t.Fatal("transmitter idle after writing to an idle port")
	}

	if n := simhw.Pump(epA, epB); n != len(want) {
		t.Fatalf("pumped %d bytes, want %d", n, len(want))
	}
	if !epA.TxIdle() {
		t.Fatal("transmitter still busy after draining")
	}

	got := make([]byte, 16)
	n, _ := b.Read(got)
	if !bytes.Equal(got[:n], want) {
		t.Fatalf("peer read %x, want %x", got[:n], want)
	}
}

func TestWrite_ChainsOneByteAtATime(t *testing.T) {
	p, ep, _ := newTestPort(t, 2, 16)
	if _, err := p.Write([]byte("xyz")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// First byte is in flight, two remain queued.
	if got := p.TxBuffered(); got != 2 {
		t.Fatalf("TxBuffered = %d, want 2", got)
	}
	for i, want := range []byte("xyz") {
		b, ok := ep.CompleteTransmit()
		if !ok || b != want {
			t.Fatalf("completion %d = %q,%v want %q", i, b, ok, want)
		}
	}
	if _, ok := ep.CompleteTransmit(); ok {
		t.Fatal("transmit outstanding after the ring drained")
	}
	if got := ep.Counters().TxIssued; got != 3 {
		t.Fatalf("TxIssued = %d, want 3", got)
	}
}

func TestWrite_PartialWhenFull(t *testing.T) {
	p, ep, _ := newTestPort(t, 0, 8) // 7 usable bytes

	// One byte goes straight to the endpoint, three stay queued: 4 slots free.
	if n, err := p.Write([]byte{1, 2, 3, 4}); err != nil || n != 4 {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}
	if free := p.TxFree(); free != 4 {
		t.Fatalf("TxFree = %d, want 4", free)
	}

	payload := []byte{10, 11, 12, 13, 14, 15, 16, 17, 18, 19}
	n, err := p.Write(payload)
	if n != 4 {
		t.Fatalf("Write accepted %d bytes, want 4", n)
	}
	if !errors.Is(err, itserial.ErrBufferFull) {
		t.Fatalf("err = %v, want ErrBufferFull", err)
	}
	if n := p.TryWrite(payload[4:]); n != 0 {
		t.Fatalf("TryWrite on full ring accepted %d", n)
	}
	if err := p.WriteByte(0xEE); !errors.Is(err, itserial.ErrBufferFull) {
		t.Fatalf("WriteByte on full ring: %v", err)
	}

	want := []byte{1, 2, 3, 4, 10, 11, 12, 13}
	if got := ep.Drain(); !bytes.Equal(got, want) {
		t.Fatalf("wire = %v, want %v", got, want)
	}
}

func TestContinuousReception(t *testing.T) {
	const capacity = 8
	for _, n := range []int{3, capacity - 1, 20} {
		p, ep, _ := newTestPort(t, 0, capacity)
		if got := ep.InjectAll(bytes.Repeat([]byte{'r'}, n)); got != n {
			t.Fatalf("n=%d: only %d injections found an armed receiver", n, got)
		}
		want := n
		if want > capacity-1 {
			want = capacity - 1
		}
		if got := p.Buffered(); got != want {
			t.Fatalf("n=%d: Buffered = %d, want %d", n, got, want)
		}

		for p.Available() {
			_, _ = p.ReadByte()
		}
		if got := p.Buffered(); got != 0 {
			t.Fatalf("n=%d: Buffered after drain = %d", n, got)
		}
		if !ep.Inject('z') {
			t.Fatalf("n=%d: receiver stalled after overflow", n)
		}
		if b, err := p.ReadByte(); err != nil || b != 'z' {
			t.Fatalf("n=%d: ReadByte = %q,%v want 'z'", n, b, err)
		}
	}
}

func TestBusyRecovery_LeavesExactlyOneReceive(t *testing.T) {
	p, ep, _ := newTestPort(t, 3, 16)

	ep.StaleLock()
	if !ep.Inject('a') {
		t.Fatal("inject failed")
	}

	c := ep.Counters()
	if c.RxRejects != 1 {
		t.Fatalf("RxRejects = %d, want 1", c.RxRejects)
	}
	if c.Unlocks != 1 || c.RxAborts != 1 {
		t.Fatalf("recovery did unlock=%d abort=%d, want 1 each", c.Unlocks, c.RxAborts)
	}
	if c.RxArms != 2 { // Begin + retry
		t.Fatalf("RxArms = %d, want 2", c.RxArms)
	}
	if !ep.RxArmed() {
		t.Fatal("no receive outstanding after recovery")
	}

	// A second issue must be rejected: exactly one request is outstanding.
	if err := ep.IssueReceive(make([]byte, 1)); !errors.Is(err, itserial.ErrBusy) {
		t.Fatalf("extra IssueReceive: err=%v, want ErrBusy", err)
	}

	if !ep.Inject('b') {
		t.Fatal("reception stalled after recovery")
	}
	got := make([]byte, 4)
	n, _ := p.Read(got)
	if string(got[:n]) != "ab" {
		t.Fatalf("read %q, want \"ab\"", got[:n])
	}
}

// refusingEndpoint rejects every receive request.
type refusingEndpoint struct{ *simhw.Endpoint }

func (refusingEndpoint) IssueReceive([]byte) error { return itserial.ErrBusy }

func TestBegin_ReportsUnarmedReceiver(t *testing.T) {
	reg := itserial.NewRegistry()
	p := itserial.New(refusingEndpoint{simhw.New(0, reg)}, 8)
	if err := p.Begin(); !errors.Is(err, itserial.ErrNotArmed) {
		t.Fatalf("Begin: err=%v, want ErrNotArmed", err)
	}
}

func TestFlushInboundAndOutbound(t *testing.T) {
	p, ep, _ := newTestPort(t, 0, 16)
	ep.InjectAll([]byte("junk"))
	p.FlushInbound()
	if p.Buffered() != 0 || p.Available() {
		t.Fatalf("Buffered after FlushInbound = %d", p.Buffered())
	}

	_, _ = p.Write([]byte("abcd"))
	p.FlushOutbound()
	if p.TxBuffered() != 0 {
		t.Fatalf("TxBuffered after FlushOutbound = %d", p.TxBuffered())
	}
	// The byte already in flight still completes; nothing follows it.
	if got := ep.Drain(); string(got) != "a" {
		t.Fatalf("wire after flush = %q, want \"a\"", got)
	}

	// Both paths still work after flushing.
	ep.Inject('k')
	if b, _ := p.ReadByte(); b != 'k' {
		t.Fatalf("ReadByte after flush = %q", b)
	}
	_ = p.WriteByte('w')
	if got := ep.Drain(); string(got) != "w" {
		t.Fatalf("wire = %q, want \"w\"", got)
	}
}

func TestReadByteBlocking_UnblocksOnReceive(t *testing.T) {
	p, ep, _ := newTestPort(t, 0, 16)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	var got byte
	var err error

	go func() {
		defer close(done)
		got, err = p.ReadByteBlocking(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	ep.Inject('Z')

	select {
	case <-done:
	case <-time.After(300 * time.Millisecond):
		t.Fatal("timeout waiting for ReadByteBlocking")
	}

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 'Z' {
		t.Fatalf("got %q want %q", got, 'Z')
	}
}

func TestReadFullBlocking_ReadsExactLen(t *testing.T) {
	p, ep, _ := newTestPort(t, 0, 16)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	want := []byte("HELLO")
	got := make([]byte, len(want))

	done := make(chan struct{})
	var n int
	var err error

	go func() {
		defer close(done)
		n, err = p.ReadFullBlocking(ctx, got)
	}()

	for i := range want {
		time.Sleep(5 * time.Millisecond)
		ep.Inject(want[i])
	}

	select {
	case <-done:
	case <-time.After(600 * time.Millisecond):
		t.Fatal("timeout waiting for ReadFullBlocking")
	}

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(want) || string(got) != string(want) {
		t.Fatalf("got %q (n=%d), want %q", string(got), n, string(want))
	}
}

func TestReadWithTimeout_Expires(t *testing.T) {
	p, _, _ := newTestPort(t, 0, 16)
	n, err := p.ReadWithTimeout(make([]byte, 4), 20*time.Millisecond)
	if n != 0 || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("n=%d err=%v; want 0, DeadlineExceeded", n, err)
	}
}

func TestWaitReadable_RespectsClose(t *testing.T) {
	p, ep, _ := newTestPort(t, 0, 16)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.WaitReadable(ctx) }()

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected non-nil error after close")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for WaitReadable to return after close")
	}
	if ep.RxArmed() {
		t.Fatal("receive still armed after Close")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestWriteBlockingAndFlush(t *testing.T) {
	p, ep, _ := newTestPort(t, 0, 4) // 3 usable bytes

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Completion context: keep finishing transmits until the writer is done.
	stop := make(chan struct{})
	drained := make(chan []byte, 1)
	go func() {
		var wire []byte
		for {
			if b, ok := ep.CompleteTransmit(); ok {
				wire = append(wire, b)
				continue
			}
			select {
			case <-stop:
				wire = append(wire, ep.Drain()...)
				drained <- wire
				return
			case <-time.After(time.Millisecond):
			}
		}
	}()

	want := []byte("a longer message than the ring")
	n, err := p.WriteBlocking(ctx, want)
	if err != nil || n != len(want) {
		t.Fatalf("WriteBlocking: n=%d err=%v", n, err)
	}
	if err := p.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	close(stop)

	if got := <-drained; !bytes.Equal(got, want) {
		t.Fatalf("wire = %q, want %q", got, want)
	}
}

// flakyTransmitter rejects the transmit requests whose 1-based sequence numbers
// are listed in reject.
type flakyTransmitter struct {
	*simhw.Endpoint
	calls  atomic.Int32
	reject map[int32]bool
}

func (f *flakyTransmitter) IssueTransmit(src []byte) error {
	if f.reject[f.calls.Add(1)] {
		return itserial.ErrBusy
	}
	return f.Endpoint.IssueTransmit(src)
}

func newFlakyPort(t *testing.T, capacity int, reject ...int32) (*itserial.Port, *flakyTransmitter) {
	t.Helper()
	reg := itserial.NewRegistry()
	ep := &flakyTransmitter{Endpoint: simhw.New(0, reg), reject: map[int32]bool{}}
	for _, n := range reject {
		ep.reject[n] = true
	}
	p := itserial.New(ep, capacity)
	if err := reg.RegisterPort(p); err != nil {
		t.Fatalf("RegisterPort: %v", err)
	}
	if err := p.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return p, ep
}

func TestTransmit_RetriesRejectedChain(t *testing.T) {
	p, ep := newFlakyPort(t, 16, 2)

	if _, err := p.Write([]byte("ab")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := ep.Drain(); string(got) != "ab" {
		t.Fatalf("wire = %q, want \"ab\"", got)
	}
	if got := p.TxBuffered(); got != 0 {
		t.Fatalf("TxBuffered = %d, want 0", got)
	}
}

func TestFlush_RestartsStalledTransmitter(t *testing.T) {
	// The chained request and its retry are both rejected.
	p, ep := newFlakyPort(t, 16, 2, 3)

	if _, err := p.Write([]byte("ab")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := ep.Drain(); string(got) != "a" {
		t.Fatalf("wire = %q, want \"a\"", got)
	}
	if p.TxBuffered() != 1 || !ep.TxIdle() {
		t.Fatalf("TxBuffered=%d TxIdle=%v, want a stalled byte", p.TxBuffered(), ep.TxIdle())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Flush(ctx) }()

	for {
		ep.CompleteTransmit()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Flush: %v", err)
			}
			if got := ep.Wire(); string(got) != "ab" {
				t.Fatalf("wire = %q, want \"ab\"", got)
			}
			return
		case <-time.After(time.Millisecond):
		}
	}
}

func TestWriteByte_RestartsStalledTransmitterWhenFull(t *testing.T) {
	p, ep := newFlakyPort(t, 4, 2, 3) // 3 usable bytes

	if _, err := p.Write([]byte("abcd")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	ep.Drain() // 'a' completes, the chain to 'b' stalls

	// The ring is full, but the rejected write still restarts the transmitter.
	if err := p.WriteByte('e'); !errors.Is(err, itserial.ErrBufferFull) {
		t.Fatalf("WriteByte on full ring: %v", err)
	}
	if ep.TxIdle() {
		t.Fatal("transmitter still idle after WriteByte")
	}
	if err := p.WriteByte('e'); err != nil {
		t.Fatalf("WriteByte: %v", err)
	}
	if got := ep.Drain(); string(got) != "bcde" {
		t.Fatalf("wire after restart = %q, want \"bcde\"", got)
	}
}
