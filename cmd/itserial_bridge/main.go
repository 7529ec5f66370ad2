// cmd/itserial_bridge/main.go
// Host-side companion for itserial: opens an OS serial device through the same
// one-byte transfer engine the firmware uses and runs one of three modes.
//
//	echo       echo every received byte back
//	cat        copy stdin to the device and the device to stdout
//	integrity  send a deterministic pattern and verify it (wire TX to RX)

package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jangala-dev/tinygo-itserial/hostserial"
	"github.com/jangala-dev/tinygo-itserial/internal/config"
	"github.com/jangala-dev/tinygo-itserial/itserial"
)

func main() {
	cfgPath := flag.String("config", "", "path to a YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("itserial_bridge: %+v", err)
	}

	logger := newLogger(cfg.Log)
	logger.Printf("device=%s baud=%d mode=%s buffer=%d", cfg.Serial.Device, cfg.Serial.Baud, cfg.Mode, cfg.Port.BufferSize)

	if err := run(cfg, logger); err != nil {
		logger.Fatalf("itserial_bridge: %+v", err)
	}
}

func newLogger(cfg config.LogConfig) *log.Logger {
	var w io.Writer = os.Stderr
	if cfg.File != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
	}
	return log.New(w, "itserial: ", log.LstdFlags|log.Lmicroseconds)
}

func run(cfg *config.Config, logger *log.Logger) error {
	reg := itserial.NewRegistry()
	id := itserial.EndpointID(cfg.Port.EndpointID)

	ep, err := hostserial.Open(hostserial.Config{
		Name:        cfg.Serial.Device,
		Baud:        cfg.Serial.Baud,
		ReadTimeout: time.Duration(cfg.Serial.ReadTimeoutMs) * time.Millisecond,
	}, id, reg, hostserial.WithLogger(logger))
	if err != nil {
		return err
	}

	port := itserial.New(ep, cfg.Port.BufferSize)
	if err := reg.RegisterPort(port); err != nil {
		return err
	}
	if err := port.Begin(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return ep.Run(ctx) })
	grp.Go(func() error {
		defer ep.Close()
		defer port.Close()
		switch cfg.Mode {
		case config.ModeCat:
			return runCat(ctx, port, os.Stdin, os.Stdout)
		case config.ModeIntegrity:
			return runIntegrity(ctx, port, cfg.Integrity, logger)
		default:
			return runEcho(ctx, port, logger)
		}
	})
	return grp.Wait()
}
