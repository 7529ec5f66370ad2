// itserial/engine.go

package itserial

// armReceive issues a one-byte receive into rxCell. If the endpoint rejects the
// request (a completion can race the endpoint clearing its busy state), the
// stale lock is cleared, the stale receive aborted, and the request retried once.
func (p *Port) armReceive() error {
	if err := p.ep.IssueReceive(p.rxCell[:]); err == nil {
		return nil
	}
	p.dbgBusyRecovery()
	p.ep.Unlock()
	_ = p.ep.AbortReceive()
	if err := p.ep.IssueReceive(p.rxCell[:]); err != nil {
		p.dbgRearmFailed()
		return err
	}
	return nil
}

// startTransmit hands the oldest queued byte to the endpoint, retrying once if
// the request is rejected. The byte is only consumed from the ring once the
// endpoint has accepted it, so a twice-rejected request leaves it queued and
// kickTransmit restarts it later. Callers must hold the completion context off
// (DisableNotify) or be running in it.
func (p *Port) startTransmit() {
	b, ok := p.tx.Peek()
	if !ok {
		return
	}
	p.txCell[0] = b
	if err := p.ep.IssueTransmit(p.txCell[:]); err != nil {
		p.dbgTxRejected()
		if err := p.ep.IssueTransmit(p.txCell[:]); err != nil {
			p.dbgTxRejected()
			return
		}
	}
	p.tx.Get()
	p.dbgTxStart()
}

// kickTransmit starts the transmitter if bytes are queued and nothing is
// outstanding. It reports whether the transmitter is still stalled, i.e. bytes
// remain queued with no request outstanding.
func (p *Port) kickTransmit() bool {
	st := p.ep.DisableNotify()
	if p.ep.TxIdle() {
		p.startTransmit()
	}
	stalled := p.tx.Used() > 0 && p.ep.TxIdle()
	p.ep.RestoreNotify(st)
	return stalled
}

// HandleInboundComplete is called from the completion context when the
// outstanding receive has filled rxCell. The byte is queued (or dropped if the
// inbound ring is full) and the receiver is re-armed unconditionally.
func (p *Port) HandleInboundComplete() {
	ok := p.rx.Put(p.rxCell[0])
	p.dbgOnByte(ok)
	_ = p.armReceive()
	if ok {
		p.dbgNotify(signal(p.notify))
	}
}

// HandleOutboundComplete is called from the completion context when the
// outstanding transmit has finished. The next queued byte, if any, is chained;
// otherwise the transmitter stays idle until the next write.
func (p *Port) HandleOutboundComplete() {
	p.dbgTxComplete()
	p.startTransmit()
	signal(p.txNotify)
}

// signal performs a coalesced, non-blocking wake-up and reports whether it was delivered.
func signal(ch chan struct{}) bool {
	select {
	case ch <- struct{}{}:
		return true
	default:
		return false
	}
}
