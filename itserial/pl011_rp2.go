// itserial/pl011_rp2.go

//go:build rp2040 || rp2350

package itserial

import (
	"device/rp"
	"errors"
	"machine"
	"runtime/interrupt"
	"sync/atomic"
)

type UARTConfig = machine.UARTConfig
type UARTParity = machine.UARTParity

const (
	ParityNone = machine.ParityNone
	ParityEven = machine.ParityEven
	ParityOdd  = machine.ParityOdd
)

// PL011 is a one-byte transfer endpoint on an RP2040/RP2350 PL011 UART.
//
// The FIFOs are disabled, so the peripheral holds a single character in each
// direction. A receive request unmasks RXIM/RTIM; the interrupt handler moves
// one character into the armed target, masks RX again and dispatches the
// completion. A transmit request writes DR and unmasks TXIM; the handler masks
// TXIM and dispatches the completion. Characters received with a parity,
// framing, break or overrun error are discarded and the request stays armed.
//
// Steady-state writer to DR is the ISR; the foreground only writes DR from
// IssueTransmit, which Port calls with interrupts disabled.
type PL011 struct {
	Bus       *rp.UART0_Type // PL011 register block
	Interrupt interrupt.Interrupt

	id  EndpointID
	reg *Registry

	rxDst   []byte
	rxArmed atomic.Bool
	txBusy  atomic.Bool

	baud uint32 // last configured baud (for diagnostics, not used by HW)
}

var _ Endpoint = (*PL011)(nil)

// Configure resets and sets up the PL011, its pins and its interrupt, and
// routes completions through reg. All interrupt sources stay masked until a
// Port issues its first request.
func (uart *PL011) Configure(cfg UARTConfig, reg *Registry) error {
	if reg == nil {
		return errors.New("itserial: nil registry")
	}
	uart.reg = reg
	initUART(uart)

	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}

	if cfg.TX == machine.NoPin && cfg.RX == machine.NoPin {
		cfg.TX = machine.UART_TX_PIN
		cfg.RX = machine.UART_RX_PIN
	}

	// 1) Disable UART while configuring (PL011 CR).
	uart.Bus.UARTCR.ClearBits(rp.UART0_UARTCR_UARTEN | rp.UART0_UARTCR_RXE | rp.UART0_UARTCR_TXE)

	// 2) Mux pins before touching baud/format. RTS/CTS are not used.
	if cfg.TX != machine.NoPin {
		cfg.TX.Configure(machine.PinConfig{Mode: machine.PinUART})
	}
	if cfg.RX != machine.NoPin {
		cfg.RX.Configure(machine.PinConfig{Mode: machine.PinUART})
	}

	// 3) Baud and format.
	uart.SetBaudRate(cfg.BaudRate)
	_ = uart.SetFormat(8, 1, ParityNone)

	// 4) Clear pending IRQs, drop any stale character and sticky errors.
	uart.Bus.UARTICR.Set(0x7FF)
	for !uart.Bus.UARTFR.HasBits(rp.UART0_UARTFR_RXFE) {
		_ = uart.Bus.UARTDR.Get()
	}
	uart.Bus.UARTRSR.Set(0)
	uart.rxArmed.Store(false)
	uart.txBusy.Store(false)

	// 5) Enable UART with everything masked; requests unmask what they need.
	uart.Bus.UARTIMSC.Set(0)
	uart.Bus.UARTCR.Set(rp.UART0_UARTCR_UARTEN | rp.UART0_UARTCR_RXE | rp.UART0_UARTCR_TXE)

	uart.Interrupt.SetPriority(0x80)
	uart.Interrupt.Enable()
	return nil
}

// SetBaudRate programs the PL011 integer and fractional divisors and performs
// the “dummy” LCR_H write required to latch them.
func (uart *PL011) SetBaudRate(br uint32) {
	uart.baud = br
	div := 8 * machine.CPUFrequency() / br

	ibrd := div >> 7
	var fbrd uint32
	switch {
	case ibrd == 0:
		ibrd = 1
		fbrd = 0
	case ibrd >= 65535:
		ibrd = 65535
		fbrd = 0
	default:
		fbrd = ((div & 0x7f) + 1) / 2
	}

	uart.Bus.UARTIBRD.Set(ibrd)
	uart.Bus.UARTFBRD.Set(fbrd)

	// PL011 requires an LCR_H write after changing divisors.
	uart.Bus.UARTLCR_H.Set(uart.Bus.UARTLCR_H.Get())
}

// SetFormat sets data bits, stop bits and parity. It writes the full LCR_H value
// with FEN clear, leaving the PL011 in one-character mode.
func (uart *PL011) SetFormat(databits, stopbits uint8, parity UARTParity) error {
	if databits < 5 || databits > 8 {
		return errors.New("itserial: invalid databits")
	}
	if stopbits != 1 && stopbits != 2 {
		return errors.New("itserial: invalid stopbits")
	}

	var pen, pev uint32
	if parity != ParityNone {
		pen = rp.UART0_UARTLCR_H_PEN
		if parity == ParityEven {
			pev = rp.UART0_UARTLCR_H_EPS
		}
	}

	val := uint32((databits-5)<<rp.UART0_UARTLCR_H_WLEN_Pos|
		(stopbits-1)<<rp.UART0_UARTLCR_H_STP2_Pos) |
		pen | pev

	uart.Bus.UARTLCR_H.Set(val)
	return nil
}

// initUART asserts and releases the peripheral reset for the selected PL011.
func initUART(uart *PL011) {
	var resetVal uint32
	switch {
	case uart.Bus == rp.UART0:
		resetVal = rp.RESETS_RESET_UART0
	case uart.Bus == rp.UART1:
		resetVal = rp.RESETS_RESET_UART1
	}

	rp.RESETS.RESET.SetBits(resetVal)
	rp.RESETS.RESET.ClearBits(resetVal)
	for !rp.RESETS.RESET_DONE.HasBits(resetVal) {
	}
}

// --- Endpoint ---

func (uart *PL011) ID() EndpointID { return uart.id }

func (uart *PL011) IssueReceive(dst []byte) error {
	if uart.rxArmed.Load() {
		return ErrBusy
	}
	uart.rxDst = dst
	uart.rxArmed.Store(true)
	uart.Bus.UARTIMSC.SetBits(rp.UART0_UARTIMSC_RXIM | rp.UART0_UARTIMSC_RTIM)
	return nil
}

func (uart *PL011) IssueTransmit(src []byte) error {
	if uart.txBusy.Load() || uart.Bus.UARTFR.HasBits(rp.UART0_UARTFR_TXFF) {
		return ErrBusy
	}
	uart.txBusy.Store(true)
	uart.Bus.UARTDR.Set(uint32(src[0]))
	uart.Bus.UARTIMSC.SetBits(rp.UART0_UARTIMSC_TXIM)
	return nil
}

func (uart *PL011) TxIdle() bool { return !uart.txBusy.Load() }

func (uart *PL011) AbortReceive() error {
	uart.Bus.UARTIMSC.ClearBits(rp.UART0_UARTIMSC_RXIM | rp.UART0_UARTIMSC_RTIM)
	uart.rxArmed.Store(false)
	uart.rxDst = nil
	return nil
}

// Unlock clears pending RX interrupt sources and sticky receive errors.
func (uart *PL011) Unlock() {
	uart.Bus.UARTICR.Set(rp.UART0_UARTICR_RXIC | rp.UART0_UARTICR_RTIC)
	uart.Bus.UARTRSR.Set(0)
}

func (uart *PL011) DisableNotify() NotifyState { return NotifyState(interrupt.Disable()) }

func (uart *PL011) RestoreNotify(st NotifyState) { interrupt.Restore(interrupt.State(st)) }

// --- ISR ---

// handleInterrupt services RX and TX. Each completion masks its own source
// before dispatching; the Port re-arms it through IssueReceive/IssueTransmit.
func (uart *PL011) handleInterrupt(interrupt.Interrupt) {
	mis := uart.Bus.UARTMIS.Get()

	if (mis & (rp.UART0_UARTMIS_RXMIS | rp.UART0_UARTMIS_RTMIS)) != 0 {
		uart.Bus.UARTICR.Set(rp.UART0_UARTICR_RXIC | rp.UART0_UARTICR_RTIC)
		if !uart.Bus.UARTFR.HasBits(rp.UART0_UARTFR_RXFE) {
			r := uart.Bus.UARTDR.Get()
			if (r & (rp.UART0_UARTDR_OE | rp.UART0_UARTDR_BE |
				rp.UART0_UARTDR_PE | rp.UART0_UARTDR_FE)) != 0 {
				// Drop errored byte; reading DR clears the per-byte error flags.
				uart.Bus.UARTRSR.Set(0)
			} else if uart.rxArmed.Load() {
				uart.rxDst[0] = byte(r & 0xFF)
				uart.Bus.UARTIMSC.ClearBits(rp.UART0_UARTIMSC_RXIM | rp.UART0_UARTIMSC_RTIM)
				uart.rxArmed.Store(false)
				uart.reg.DispatchInboundComplete(uart.id)
			}
		}
	}

	if mis&rp.UART0_UARTMIS_TXMIS != 0 {
		uart.Bus.UARTIMSC.ClearBits(rp.UART0_UARTIMSC_TXIM)
		uart.Bus.UARTICR.Set(rp.UART0_UARTICR_TXIC)
		if uart.txBusy.Load() {
			uart.txBusy.Store(false)
			uart.reg.DispatchOutboundComplete(uart.id)
		}
	}
}
