package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sheerbytes/segflux/internal/config"
	"github.com/sheerbytes/segflux/internal/logging"
	"github.com/sheerbytes/segflux/internal/progress"
	"github.com/sheerbytes/segflux/internal/receiver"
	"github.com/sheerbytes/segflux/internal/termio"
	"github.com/sheerbytes/segflux/internal/transport"
	"github.com/sheerbytes/segflux/pkg/protocol"
)

const version = "v0.1.0"

func main() {
	termio.Init()
	args := os.Args[1:]
	if hasVersionFlag(args) {
		fmt.Fprintln(termio.Stdout(), version)
		termio.Exit(0)
	}

	flag.CommandLine.SetOutput(termio.Stderr())
	flag.CommandLine.Usage = printUsage
	cfg, err := config.ParseClientConfig()
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "segget: %v\n", err)
		printUsage()
		termio.Exit(2)
	}
	logger := logging.New("segget", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rcfg := receiver.Config{
		Addr:        cfg.Addr,
		Transport:   cfg.Transport,
		OutDir:      cfg.OutDir,
		ChunkSize:   cfg.ChunkSize,
		Verify:      cfg.Verify,
		DialTimeout: cfg.DialTimeout,
	}
	var printer *progress.Printer
	if cfg.Progress {
		meter := progress.NewMeter()
		printer = progress.NewPrinter(termio.Stderr(), meter, cfg.Filename)
		rcfg.Meter = meter
		rcfg.OnProgress = printer.Update
	}

	r := receiver.New(rcfg, logger)
	res, err := r.Fetch(ctx, protocol.Request{Filename: cfg.Filename, Workers: cfg.Workers})
	if printer != nil {
		printer.Finish()
	}
	if err != nil && !errors.Is(err, receiver.ErrDigestMismatch) {
		logger.Debug("transfer failed", "state", r.State(), "error", err)
		fmt.Fprintf(termio.Stderr(), "segget: %v\n", err)
		termio.Exit(1)
	}

	out := termio.Stdout()
	fmt.Fprintf(out, "server checksum (SHA-256): %s\n", res.Expected.Hex())
	fmt.Fprintf(out, "file received and saved as %s (%s in %s, %s)\n",
		res.Path, transport.FormatBytes(res.Bytes), res.Elapsed.Round(time.Millisecond), transport.FormatRate(res.Bytes, res.Elapsed))
	fmt.Fprintf(out, "client checksum (SHA-256): %s\n", res.Actual.Hex())
	if res.Match {
		fmt.Fprintln(out, "checksum verification succeeded, file is intact")
	} else {
		fmt.Fprintln(out, "checksum verification failed, file may be corrupted")
	}
	if err != nil {
		termio.Exit(1)
	}
	termio.Flush()
}

func printUsage() {
	fmt.Fprintln(termio.Stderr(), "usage: segget [flags] <file_name> <worker_count>")
	fmt.Fprintln(termio.Stderr(), "  --addr ADDR              server address (default 127.0.0.1:8080)")
	fmt.Fprintln(termio.Stderr(), "  --transport T            tcp, quic or ws (default tcp)")
	fmt.Fprintln(termio.Stderr(), "  --out-dir DIR            where received_<file_name> is written (default .)")
	fmt.Fprintln(termio.Stderr(), "  --chunk-size N           read buffer size in bytes (default 1024)")
	fmt.Fprintln(termio.Stderr(), "  --verify MODE            fail or warn on checksum mismatch (default fail)")
	fmt.Fprintln(termio.Stderr(), "  --dial-timeout DURATION  connection timeout (default 5s)")
	fmt.Fprintln(termio.Stderr(), "  --progress               print progress to stderr")
	fmt.Fprintln(termio.Stderr(), "  --log-level LEVEL        debug, info, warn or error (default warn)")
	fmt.Fprintln(termio.Stderr(), "  --config FILE            yaml, toml or json config file")
	fmt.Fprintln(termio.Stderr(), "example:")
	fmt.Fprintln(termio.Stderr(), "  segget --addr 10.0.0.5:8080 big.iso 8")
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--version" {
			return true
		}
	}
	return false
}
