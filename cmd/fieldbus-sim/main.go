// Command fieldbus-sim serves a Modbus TCP device whose alarm bits flip at random.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/alarm-monitor/internal/logging"
	"github.com/sweeney/alarm-monitor/internal/sim"
)

func main() {
	listen := flag.String("listen", "0.0.0.0:1502", "Modbus TCP listen address")
	interval := flag.Duration("interval", sim.DefaultInterval, "Toggle roll interval")
	probability := flag.Float64("probability", sim.DefaultProbability, "Chance of a flip per roll (0-1)")
	addresses := flag.String("addresses", "1,3,16-20,48-52", "Zero-based alarm addresses, comma separated, ranges allowed")
	seed := flag.Uint64("seed", 0, "Random seed (0 uses the clock)")
	logLevel := flag.String("log-level", "info", "Log level")
	logFormat := flag.String("log-format", "console", "Log format: json or console")
	flag.Parse()

	if err := run(*listen, *interval, *probability, *addresses, *seed, *logLevel, *logFormat); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(listen string, interval time.Duration, probability float64, addresses string, seed uint64, logLevel, logFormat string) error {
	logger, err := logging.New(logLevel, logFormat, "fieldbus-sim")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", interval)
	}
	if probability < 0 || probability > 1 {
		return fmt.Errorf("probability must be within 0-1, got %v", probability)
	}
	addrs, err := parseAddresses(addresses)
	if err != nil {
		return err
	}
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	srv, err := sim.NewServer(listen, sim.NewTable(), logger)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

	logger.Info("simulator listening",
		zap.String("listen", listen),
		zap.Uint16s("addresses", addrs),
		zap.Float64("probability", probability),
		zap.Duration("interval", interval))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sim.NewToggler(srv.Table(), addrs, probability, seed, logger).Run(ctx, interval)
	logger.Info("simulator stopped")
	return nil
}

// parseAddresses expands "1,3,16-20" into an address list in the order given.
func parseAddresses(s string) ([]uint16, error) {
	var out []uint16
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		first, err := parseAddress(lo)
		if err != nil {
			return nil, err
		}
		last := first
		if isRange {
			if last, err = parseAddress(hi); err != nil {
				return nil, err
			}
			if last < first {
				return nil, fmt.Errorf("address range %q is inverted", part)
			}
		}
		for a := first; a <= last; a++ {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no addresses in %q", s)
	}
	return out, nil
}

func parseAddress(s string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil || n >= sim.Size {
		return 0, fmt.Errorf("invalid address %q (want 0-%d)", s, sim.Size-1)
	}
	return uint16(n), nil
}
