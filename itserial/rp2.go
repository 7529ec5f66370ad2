// itserial/rp2.go

//go:build rp2040 || rp2350

package itserial

import (
	"device/rp"
	"runtime/interrupt"
)

// PL011 endpoints on the RP2040/RP2350. Bind them to a Registry with Configure.
var (
	UART0  = &_UART0
	_UART0 = PL011{Bus: rp.UART0, id: 0}

	UART1  = &_UART1
	_UART1 = PL011{Bus: rp.UART1, id: 1}
)

func init() {
	UART0.Interrupt = interrupt.New(rp.IRQ_UART0_IRQ, _UART0.handleInterrupt)
	UART1.Interrupt = interrupt.New(rp.IRQ_UART1_IRQ, _UART1.handleInterrupt)
}
