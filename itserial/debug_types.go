//go:build itserialdebug

package itserial

import "sync/atomic"

// Stats holds counters since the last reset.
type Stats struct {
	// Inbound completion path
	RxCompletions    uint32 // inbound completions handled
	RxDrops          uint32 // bytes dropped because the inbound ring was full
	RxMaxUsed        uint32 // high-water mark of inbound ring occupancy
	RxBusyRecoveries uint32 // re-arms that needed unlock/abort/retry
	RxRearmFailures  uint32 // retries that were rejected as well

	// Outbound path
	TxStarts      uint32 // transmit requests accepted by the endpoint
	TxRejected    uint32 // transmit requests rejected by the endpoint
	TxCompletions uint32 // outbound completions handled

	NotifySent    uint32 // notify channel sends that succeeded
	NotifyDropped uint32 // notify channel sends that were coalesced

	// Blocking API behaviour
	ReadWaits     uint32 // times a blocking read had to wait
	SpuriousWakes uint32 // notify received but no data available
	Timeouts      uint32 // context timeouts in blocking reads
}

// DebugReset zeroes every counter. The completion context may be updating them
// concurrently, so each field is stored atomically.
func (p *Port) DebugReset() {
	for _, c := range []*uint32{
		&p.stats.RxCompletions, &p.stats.RxDrops, &p.stats.RxMaxUsed,
		&p.stats.RxBusyRecoveries, &p.stats.RxRearmFailures,
		&p.stats.TxStarts, &p.stats.TxRejected, &p.stats.TxCompletions,
		&p.stats.NotifySent, &p.stats.NotifyDropped,
		&p.stats.ReadWaits, &p.stats.SpuriousWakes, &p.stats.Timeouts,
	} {
		atomic.StoreUint32(c, 0)
	}
}

func (p *Port) DebugStats() Stats {
	// Return a copy; each 32-bit counter is loaded atomically.
	return Stats{
		RxCompletions:    atomic.LoadUint32(&p.stats.RxCompletions),
		RxDrops:          atomic.LoadUint32(&p.stats.RxDrops),
		RxMaxUsed:        atomic.LoadUint32(&p.stats.RxMaxUsed),
		RxBusyRecoveries: atomic.LoadUint32(&p.stats.RxBusyRecoveries),
		RxRearmFailures:  atomic.LoadUint32(&p.stats.RxRearmFailures),

		TxStarts:      atomic.LoadUint32(&p.stats.TxStarts),
		TxRejected:    atomic.LoadUint32(&p.stats.TxRejected),
		TxCompletions: atomic.LoadUint32(&p.stats.TxCompletions),

		NotifySent:    atomic.LoadUint32(&p.stats.NotifySent),
		NotifyDropped: atomic.LoadUint32(&p.stats.NotifyDropped),

		ReadWaits:     atomic.LoadUint32(&p.stats.ReadWaits),
		SpuriousWakes: atomic.LoadUint32(&p.stats.SpuriousWakes),
		Timeouts:      atomic.LoadUint32(&p.stats.Timeouts),
	}
}
