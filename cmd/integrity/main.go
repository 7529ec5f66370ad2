// cmd/integrity/main.go
// Cross-UART integrity test for RP2040 (Pico) using github.com/jangala-dev/tinygo-itserial/itserial
// Wiring:
//   U0 TX=GP0 -> U1 RX=GP5
//   U1 TX=GP4 -> U0 RX=GP1
// Flow control unused (RTS/CTS not connected).

//go:build rp2040 || rp2350

package main

import (
	"context"
	"time"

	"machine"

	"github.com/jangala-dev/tinygo-itserial/itserial"
)

/*** Tunables ***/
const (
	baud           = 115200    // one interrupt per byte; keep well below the PL011 maximum
	totalBytes     = 16 * 1024 // bytes per direction
	bufferSize     = 512       // ring slots per direction
	timeoutPerTest = 10 * time.Second
	warmupDelay    = 2 * time.Second // initial delay before starting tests

	usePreamble  = true // send a preamble byte and have receivers skip it before verifying
	preambleByte = 0x55

	guardDelay = 2 * time.Millisecond

	sendChunk     = 192 // bytes per WriteBlocking call
	recvChunk     = 256 // bytes per ReadBlocking call
	contextRadius = 16  // surrounding bytes shown on mismatch (before/after pivot)
)

/*** Patterns (deterministic) ***/
func patternA(i int) byte { return byte((i*31 + 0x55) & 0xFF) }
func patternB(i int) byte { return byte((i*17 + 0xA6) & 0xFF) }

/*** Main ***/
func main() {
	time.Sleep(warmupDelay)
	println("itserial integrity test (RP2040)")
	println("baud =", baud, "  bytes/dir =", totalBytes, "  buffer =", bufferSize)
	println("U0 TX/RX = 0/1  U1 TX/RX = 4/5")

	// Hold RX high before remux to UART to ensure idle-high on the line.
	machine.Pin(1).Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	machine.Pin(5).Configure(machine.PinConfig{Mode: machine.PinInputPullup})

	reg := itserial.NewRegistry()
	_ = itserial.UART0.Configure(itserial.UARTConfig{BaudRate: baud, TX: machine.Pin(0), RX: machine.Pin(1)}, reg)
	_ = itserial.UART1.Configure(itserial.UARTConfig{BaudRate: baud, TX: machine.Pin(4), RX: machine.Pin(5)}, reg)

	u0 := itserial.New(itserial.UART0, bufferSize)
	u1 := itserial.New(itserial.UART1, bufferSize)
	for _, p := range []*itserial.Port{u0, u1} {
		_ = reg.RegisterPort(p)
		if err := p.Begin(); err != nil {
			println("begin failed:", err.Error())
		}
	}

	machine.LED.Configure(machine.PinConfig{Mode: machine.PinOutput})

	pass, fail := 0, 0
	report := func(name, err string) {
		if err == "" {
			println("[PASS]", name)
			pass++
		} else {
			println("[FAIL]", name, ":", err)
			fail++
		}
	}

	report("U0 -> U1 integrity", runOneWay(u0, u1, patternA, totalBytes))
	report("U1 -> U0 integrity", runOneWay(u1, u0, patternB, totalBytes))
	report("Full-duplex integrity", runFullDuplex(totalBytes, u0, u1))

	println("")
	println("Summary")
	println("  passed =", pass)
	println("  failed =", fail)
	if fail == 0 {
		blink(machine.LED, 3, 120*time.Millisecond)
	} else {
		for {
			blink(machine.LED, 1, 600*time.Millisecond)
			time.Sleep(800 * time.Millisecond)
		}
	}
}

/*** Test runners ***/

func runOneWay(tx, rx *itserial.Port, gen func(int) byte, n int) string {
	rx.FlushInbound()

	ctx, cancel := context.WithTimeout(context.Background(), timeoutPerTest)
	defer cancel()

	errCh := make(chan string, 1)
	go func() { errCh <- recvAndCheckStream(ctx, rx, gen, n) }()

	if usePreamble {
		_ = tx.WriteByte(preambleByte)
	}
	time.Sleep(guardDelay)
	_ = sendPattern(ctx, tx, gen, n)

	return <-errCh
}

func runFullDuplex(n int, u0, u1 *itserial.Port) string {
	u0.FlushInbound()
	u1.FlushInbound()

	ctx, cancel := context.WithTimeout(context.Background(), timeoutPerTest)
	defer cancel()

	errCh := make(chan string, 2)
	go func() { errCh <- recvAndCheckStream(ctx, u1, patternA, n) }()
	go func() { errCh <- recvAndCheckStream(ctx, u0, patternB, n) }()

	if usePreamble {
		_ = u0.WriteByte(preambleByte)
		_ = u1.WriteByte(preambleByte)
	}
	time.Sleep(guardDelay)
	go func() { _ = sendPattern(ctx, u0, patternA, n) }()
	go func() { _ = sendPattern(ctx, u1, patternB, n) }()

	e1, e2 := <-errCh, <-errCh
	if e1 != "" {
		return e1
	}
	return e2
}

func sendPattern(ctx context.Context, p *itserial.Port, gen func(int) byte, n int) error {
	var buf [sendChunk]byte
	for i := 0; i < n; {
		k := sendChunk
		if n-i < k {
			k = n - i
		}
		for j := 0; j < k; j++ {
			buf[j] = gen(i + j)
		}
		if _, err := p.WriteBlocking(ctx, buf[:k]); err != nil {
			return err
		}
		i += k
	}
	return p.Flush(ctx)
}

// recvAndCheckStream reads exactly n bytes and compares each byte against gen(i),
// after discarding the preamble if configured.
func recvAndCheckStream(ctx context.Context, p *itserial.Port, gen func(int) byte, n int) string {
	if usePreamble {
		if _, err := p.ReadByteBlocking(ctx); err != nil {
			return "timeout (waiting to skip preamble)"
		}
	}

	var buf [recvChunk]byte
	received := 0
	for received < n {
		k := n - received
		if k > len(buf) {
			k = len(buf)
		}
		m, err := p.ReadBlocking(ctx, buf[:k])
		if err != nil {
			println("received", received, "of", n, "; inbound buffered =", p.Buffered())
			return "timeout"
		}
		for i := 0; i < m; i++ {
			if exp := gen(received + i); buf[i] != exp {
				off := received + i
				println("First mismatch at offset", off)
				printContext(gen, off, buf[:m], i)
				return "integrity mismatch"
			}
		}
		received += m
	}
	return ""
}

/*** Context dump ***/

func printContext(gen func(int) byte, absOffset int, gotChunk []byte, rel int) {
	start := absOffset - contextRadius
	if start < 0 {
		start = 0
	}
	end := absOffset + contextRadius + 1
	exp := make([]byte, end-start)
	act := make([]byte, end-start)
	base := absOffset - rel
	for i := range exp {
		exp[i] = gen(start + i)
		if idx := start + i - base; idx >= 0 && idx < len(gotChunk) {
			act[i] = gotChunk[idx]
		}
	}

	println("Context (hex): bytes", start, "to", end-1)
	print(" exp: ")
	printHex(exp, -1)
	print(" act: ")
	printHex(act, absOffset-start)
}

func printHex(b []byte, pivot int) {
	for i := 0; i < len(b); i++ {
		if i == pivot {
			print("[")
		} else {
			print(" ")
		}
		print(byteToHex(b[i]))
		if i == pivot {
			print("]")
		}
	}
	println("")
}

/*** Utilities ***/

func byteToHex(v byte) string {
	const hexdigits = "0123456789ABCDEF"
	var s [2]byte
	s[0] = hexdigits[(v>>4)&0xF]
	s[1] = hexdigits[v&0xF]
	return string(s[:])
}

func blink(pin machine.Pin, times int, on time.Duration) {
	for i := 0; i < times; i++ {
		pin.High()
		time.Sleep(on)
		pin.Low()
		time.Sleep(on)
	}
}
