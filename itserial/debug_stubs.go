//go:build !itserialdebug

package itserial

type Stats struct{}

func (p *Port) DebugReset()       {}
func (p *Port) DebugStats() Stats { return Stats{} }
