//go:build rp2040 || rp2350

package main

import (
	"device/rp"
	"machine"
	"time"

	"github.com/jangala-dev/tinygo-itserial/itserial"
)

// fifo_check verifies that Configure leaves the PL011 in one-character mode:
// FIFOs disabled, UART enabled, no interrupt sources unmasked until Begin.

func readFEN(u *rp.UART0_Type) bool {
	return u.UARTLCR_H.Get()&rp.UART0_UARTLCR_H_FEN != 0
}

func main() {
	time.Sleep(2 * time.Second)

	u := rp.UART0

	println("Before configure:")
	report(u)

	reg := itserial.NewRegistry()
	_ = itserial.UART0.Configure(itserial.UARTConfig{BaudRate: 115200, TX: machine.UART_TX_PIN, RX: machine.UART_RX_PIN}, reg)

	println("After Configure():")
	report(u)

	p := itserial.New(itserial.UART0, 16)
	_ = reg.RegisterPort(p)
	if err := p.Begin(); err != nil {
		println("begin failed:", err.Error())
	}

	println("After Begin():")
	report(u)

	ok := !readFEN(u) &&
		u.UARTCR.HasBits(rp.UART0_UARTCR_UARTEN) &&
		u.UARTIMSC.HasBits(rp.UART0_UARTIMSC_RXIM)
	if ok {
		println("[PASS] one-character mode, receive armed")
	} else {
		println("[FAIL] unexpected register state")
	}

	for {
		time.Sleep(time.Second)
	}
}

func report(u *rp.UART0_Type) {
	println("-----------------------------")
	print("UARTCR   = 0x")
	printlnHex(u.UARTCR.Get())
	print("UARTLCR_H= 0x")
	printlnHex(u.UARTLCR_H.Get())
	print("UARTFR   = 0x")
	printlnHex(u.UARTFR.Get())
	print("UARTIMSC = 0x")
	printlnHex(u.UARTIMSC.Get())
	print("UARTIBRD = 0x")
	printlnHex(u.UARTIBRD.Get())
	print("UARTFBRD = 0x")
	printlnHex(u.UARTFBRD.Get())
	print("FIFOs enabled (FEN)= ")
	println(readFEN(u))
}

func printlnHex(v uint32) {
	const hexdigits = "0123456789abcdef"
	var b [8]byte
	for i := 0; i < 8; i++ {
		shift := uint(28 - 4*i)
		b[i] = hexdigits[(v>>shift)&0xF]
	}
	println(string(b[:]))
}
