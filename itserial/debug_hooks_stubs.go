//go:build !itserialdebug

package itserial

func (p *Port) dbgOnByte(bool)   {}
func (p *Port) dbgBusyRecovery() {}
func (p *Port) dbgRearmFailed()  {}
func (p *Port) dbgTxStart()      {}
func (p *Port) dbgTxRejected()   {}
func (p *Port) dbgTxComplete()   {}
func (p *Port) dbgNotify(bool)   {}
func (p *Port) dbgReadWait()     {}
func (p *Port) dbgSpuriousWake() {}
func (p *Port) dbgTimeout()      {}
