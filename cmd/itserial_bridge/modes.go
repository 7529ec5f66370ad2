package main

import (
	"context"
	"encoding/hex"
	"io"
	"log"
	"time"

	"golang.org/x/xerrors"

	"github.com/jangala-dev/tinygo-itserial/internal/config"
	"github.com/jangala-dev/tinygo-itserial/itserial"
)

const (
	preambleByte  = 0x55 // skipped by the receiver before verifying
	contextRadius = 16   // surrounding bytes shown on mismatch
)

// pattern is the deterministic byte stream used by the integrity mode.
func pattern(i int) byte { return byte((i*31 + 0x55) & 0xFF) }

// runEcho writes every received byte back until ctx is done.
func runEcho(ctx context.Context, port *itserial.Port, logger *log.Logger) error {
	buf := make([]byte, 64)
	total := 0
	for {
		n, err := port.ReadBlocking(ctx, buf)
		if err != nil {
			logger.Printf("echo: %d bytes echoed", total)
			return ignoreCancel(ctx, err)
		}
		if _, err := port.WriteBlocking(ctx, buf[:n]); err != nil {
			return ignoreCancel(ctx, err)
		}
		total += n
	}
}

// runCat copies in to the port and the port to out until ctx is done or in
// reaches EOF and everything has been sent. If in is an io.Closer it is closed
// on return, which releases the input goroutine from a pending Read.
func runCat(ctx context.Context, port *itserial.Port, in io.Reader, out io.Writer) error {
	if c, ok := in.(io.Closer); ok {
		defer c.Close()
	}

	inDone := make(chan error, 1)
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := in.Read(buf)
			if n > 0 {
				if _, werr := port.WriteBlocking(ctx, buf[:n]); werr != nil {
					inDone <- werr
					return
				}
			}
			if err == io.EOF {
				inDone <- port.Flush(ctx)
				return
			}
			if err != nil {
				inDone <- xerrors.Errorf("cat: could not read input: %w", err)
				return
			}
		}
	}()

	buf := make([]byte, 256)
	for {
		select {
		case err := <-inDone:
			return ignoreCancel(ctx, err)
		default:
		}
		n, err := port.ReadWithTimeout(buf, 50*time.Millisecond)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return xerrors.Errorf("cat: could not write output: %w", err)
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil && err != context.DeadlineExceeded {
			return ignoreCancel(ctx, err)
		}
	}
}

// runIntegrity sends cfg.Bytes of pattern through the port and verifies that
// the same bytes come back. TX must be looped back to RX.
func runIntegrity(ctx context.Context, port *itserial.Port, cfg config.IntegrityConfig, logger *log.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutSec)*time.Second)
	defer cancel()

	port.FlushInbound()

	errc := make(chan error, 1)
	go func() { errc <- recvAndCheck(ctx, port, cfg.Bytes, logger) }()

	start := time.Now()
	if err := port.WriteByte(preambleByte); err != nil {
		return xerrors.Errorf("integrity: could not send preamble: %w", err)
	}
	if err := sendPattern(ctx, port, cfg.Bytes, cfg.ChunkSize); err != nil {
		return xerrors.Errorf("integrity: send failed: %w", err)
	}
	if err := <-errc; err != nil {
		logger.Printf("[FAIL] integrity: %v", err)
		return err
	}
	elapsed := time.Since(start)
	logger.Printf("[PASS] integrity: %d bytes in %v (%.0f B/s)", cfg.Bytes, elapsed, float64(cfg.Bytes)/elapsed.Seconds())
	return nil
}

func sendPattern(ctx context.Context, port *itserial.Port, n, chunk int) error {
	buf := make([]byte, chunk)
	for i := 0; i < n; {
		k := chunk
		if n-i < k {
			k = n - i
		}
		for j := 0; j < k; j++ {
			buf[j] = pattern(i + j)
		}
		if _, err := port.WriteBlocking(ctx, buf[:k]); err != nil {
			return err
		}
		i += k
	}
	return port.Flush(ctx)
}

// recvAndCheck skips the preamble, then reads exactly n bytes and compares
// each against pattern. On the first mismatch it logs the surrounding bytes.
func recvAndCheck(ctx context.Context, port *itserial.Port, n int, logger *log.Logger) error {
	b, err := port.ReadByteBlocking(ctx)
	if err != nil {
		return xerrors.Errorf("integrity: timeout waiting for preamble: %w", err)
	}
	if b != preambleByte {
		return xerrors.Errorf("integrity: got preamble 0x%02x, want 0x%02x", b, preambleByte)
	}

	got := make([]byte, n)
	read, err := port.ReadFullBlocking(ctx, got)
	for i := 0; i < read; i++ {
		if got[i] != pattern(i) {
			logMismatch(logger, got[:read], i)
			return xerrors.Errorf("integrity: mismatch at offset %d (got 0x%02x, want 0x%02x)", i, got[i], pattern(i))
		}
	}
	if err != nil {
		return xerrors.Errorf("integrity: received %d of %d bytes: %w", read, n, err)
	}
	return nil
}

func logMismatch(logger *log.Logger, got []byte, off int) {
	start := off - contextRadius
	if start < 0 {
		start = 0
	}
	end := off + contextRadius + 1
	if end > len(got) {
		end = len(got)
	}
	exp := make([]byte, end-start)
	for i := range exp {
		exp[i] = pattern(start + i)
	}
	logger.Printf("context (hex): bytes %d to %d", start, end-1)
	logger.Printf(" exp: %s", hex.EncodeToString(exp))
	logger.Printf(" act: %s", hex.EncodeToString(got[start:end]))
}

func ignoreCancel(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
