//go:build itserialdebug

package itserial

import "sync/atomic"

// Called per inbound completion with the Put() outcome.
func (p *Port) dbgOnByte(putOK bool) {
	atomic.AddUint32(&p.stats.RxCompletions, 1)
	if !putOK {
		atomic.AddUint32(&p.stats.RxDrops, 1)
		return
	}
	// track high-water mark
	used := uint32(p.rx.Used())
	for {
		max := atomic.LoadUint32(&p.stats.RxMaxUsed)
		if used <= max {
			break
		}
		if atomic.CompareAndSwapUint32(&p.stats.RxMaxUsed, max, used) {
			break
		}
	}
}

func (p *Port) dbgBusyRecovery() { atomic.AddUint32(&p.stats.RxBusyRecoveries, 1) }
func (p *Port) dbgRearmFailed()  { atomic.AddUint32(&p.stats.RxRearmFailures, 1) }
func (p *Port) dbgTxStart()      { atomic.AddUint32(&p.stats.TxStarts, 1) }
func (p *Port) dbgTxRejected()   { atomic.AddUint32(&p.stats.TxRejected, 1) }
func (p *Port) dbgTxComplete()   { atomic.AddUint32(&p.stats.TxCompletions, 1) }

func (p *Port) dbgNotify(sent bool) {
	if sent {
		atomic.AddUint32(&p.stats.NotifySent, 1)
	} else {
		atomic.AddUint32(&p.stats.NotifyDropped, 1)
	}
}

func (p *Port) dbgReadWait() {
	atomic.AddUint32(&p.stats.ReadWaits, 1)
}
func (p *Port) dbgSpuriousWake() {
	atomic.AddUint32(&p.stats.SpuriousWakes, 1)
}
func (p *Port) dbgTimeout() {
	atomic.AddUint32(&p.stats.Timeouts, 1)
}
