// itserial/port_blocking.go

package itserial

import (
	"context"
	"time"
)

// Readable returns a coalesced notification for RX readiness. The completion
// context sends on it after queuing a byte; callers must re-check state after waking.
func (p *Port) Readable() <-chan struct{} { return p.notify }

// Writable returns a coalesced notification for TX progress. The completion
// context sends on it after every outbound completion; callers must re-check state.
func (p *Port) Writable() <-chan struct{} { return p.txNotify }

// WaitReadable blocks until data is available, the port is closed or ctx is done.
func (p *Port) WaitReadable(ctx context.Context) error {
	for {
		if p.Buffered() > 0 {
			return nil
		}
		p.dbgReadWait()
		select {
		case <-p.notify:
			// re-check; if empty, it was a spurious wake (coalesced notify)
			if p.Buffered() == 0 {
				p.dbgSpuriousWake()
			}
		case <-p.closed:
			return context.Canceled
		case <-ctx.Done():
			p.dbgTimeout()
			return ctx.Err()
		}
	}
}

// ReadBlocking blocks until at least one byte is available, then reads up to len(b).
func (p *Port) ReadBlocking(ctx context.Context, b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	for {
		if n, _ := p.Read(b); n > 0 {
			return n, nil
		}
		if err := p.WaitReadable(ctx); err != nil {
			return 0, err
		}
	}
}

// ReadFullBlocking blocks until len(b) bytes have been read or ctx is done.
func (p *Port) ReadFullBlocking(ctx context.Context, b []byte) (int, error) {
	read := 0
	for read < len(b) {
		if n, _ := p.Read(b[read:]); n > 0 {
			read += n
			continue
		}
		if err := p.WaitReadable(ctx); err != nil {
			return read, err
		}
	}
	return read, nil
}

// ReadByteBlocking blocks for a single byte or until ctx is done.
func (p *Port) ReadByteBlocking(ctx context.Context) (byte, error) {
	for {
		if b, err := p.ReadByte(); err == nil {
			return b, nil
		}
		if err := p.WaitReadable(ctx); err != nil {
			return 0, err
		}
	}
}

// ReadWithTimeout is ReadBlocking bounded by d.
func (p *Port) ReadWithTimeout(b []byte, d time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return p.ReadBlocking(ctx, b)
}

// WaitWritable blocks until the outbound ring has room for at least one byte.
func (p *Port) WaitWritable(ctx context.Context) error {
	for {
		if p.TxFree() > 0 {
			return nil
		}
		if err := p.waitTxProgress(ctx); err != nil {
			return err
		}
	}
}

// WriteBlocking queues all of b, waiting for TX progress whenever the outbound
// ring is full. It returns the number of bytes queued before ctx was done.
func (p *Port) WriteBlocking(ctx context.Context, b []byte) (int, error) {
	sent := 0
	for sent < len(b) {
		if n := p.TryWrite(b[sent:]); n > 0 {
			sent += n
			continue
		}
		if err := p.WaitWritable(ctx); err != nil {
			return sent, err
		}
	}
	return sent, nil
}

// Flush blocks until every queued byte has been handed to the endpoint and the
// last transmit has completed.
func (p *Port) Flush(ctx context.Context) error {
	for {
		if p.tx.Used() == 0 && p.ep.TxIdle() {
			return nil
		}
		if err := p.waitTxProgress(ctx); err != nil {
			return err
		}
	}
}

// txRetryInterval is how often a stalled transmitter is restarted by a waiter.
const txRetryInterval = time.Millisecond

// waitTxProgress restarts a stalled transmitter, then waits for the next
// outbound completion. While stalled no completion will arrive, so it wakes
// after txRetryInterval to kick again.
func (p *Port) waitTxProgress(ctx context.Context) error {
	var retry <-chan time.Time
	if p.kickTransmit() {
		retry = time.After(txRetryInterval)
	}
	select {
	case <-p.txNotify: // progress likely occurred; re-check
	case <-retry:
	case <-p.closed:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Close cancels the outstanding receive and unblocks waiters. Bytes already
// queued for transmission are left to drain.
func (p *Port) Close() error {
	st := p.ep.DisableNotify()
	err := p.ep.AbortReceive()
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
	p.ep.RestoreNotify(st)
	return err
}
