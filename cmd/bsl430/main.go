// Command bsl430 programs a TI-TXT firmware image into an MSP430 through its
// UART bootloader.
//
// Usage:
//
//	bsl430 [flags] <firmware.txt>
//
// RST is driven through the DTR line of the serial adapter and TEST through
// RTS. The exit status is 1 when parsing or programming fails and 2 on a
// usage error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NoNine/libbsl430/logger"
	"github.com/NoNine/libbsl430/programmer"
	"github.com/NoNine/libbsl430/titxt"
	"github.com/NoNine/libbsl430/uart"
	"github.com/avast/retry-go/v4"
	"github.com/schollz/progressbar/v3"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2

	openAttempts = 3
	openDelay    = 500 * time.Millisecond
)

type options struct {
	port        string
	baud        int
	parity      string
	capacity    int
	lenient     bool
	massErase   bool
	logLevel    string
	logFormat   string
	invertLines bool
	firmware    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}

	fs := flag.NewFlagSet("bsl430", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.port, "port", "/dev/ttyUSB0", "serial port of the BSL adapter")
	fs.IntVar(&opts.baud, "baud", programmer.DefaultBaudRate, "working baud rate (9600, 19200, 38400, 57600 or 115200)")
	fs.StringVar(&opts.parity, "parity", "even", "parity: even, odd or none")
	fs.IntVar(&opts.capacity, "capacity", titxt.DefaultCapacity, "maximum packed image size in bytes")
	fs.BoolVar(&opts.lenient, "lenient", false, "accept malformed hex fields")
	fs.BoolVar(&opts.massErase, "mass-erase", false, "erase all code memory before writing")
	fs.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	fs.StringVar(&opts.logFormat, "log-format", "console", "log format: json, console or logrus")
	fs.BoolVar(&opts.invertLines, "invert-lines", false, "invert the DTR and RTS levels")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: bsl430 [flags] <firmware.txt>")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, errors.New("exactly one firmware file is required")
	}
	opts.firmware = fs.Arg(0)

	return opts, nil
}

func newLogger(level, format string, out io.Writer) (logger.Logger, error) {
	lvl, err := logger.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	switch format {
	case "json":
		return logger.NewSlog(lvl, logger.WithOutput(out)), nil
	case "console":
		return logger.NewSlog(lvl, logger.WithOutput(out), logger.WithConsole()), nil
	case "logrus":
		return logger.NewLogrus(lvl, out), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	log, err := newLogger(opts.logLevel, opts.logFormat, stderr)
	if err != nil {
		fmt.Fprintln(stderr, "bsl430:", err)
		return exitUsage
	}
	logger.SetDefault(log)

	parity, err := uart.ParseParity(opts.parity)
	if err != nil {
		fmt.Fprintln(stderr, "bsl430:", err)
		return exitUsage
	}

	parseOpts := []titxt.Option{titxt.WithCapacity(opts.capacity)}
	if opts.lenient {
		parseOpts = append(parseOpts, titxt.WithLenientHex())
	}
	img, err := titxt.ParseFile(opts.firmware, parseOpts...)
	if err != nil {
		log.Error("failed to parse firmware", "file", opts.firmware, "error", err)
		return exitFailure
	}
	log.Info("firmware loaded", "file", opts.firmware,
		"segments", img.Count(), "bytes", img.Size(), "footprint", img.Footprint())

	dev, err := uart.New(opts.port,
		uart.WithParity(parity),
		uart.WithInvertLines(opts.invertLines),
		uart.WithLogger(log),
	)
	if err != nil {
		fmt.Fprintln(stderr, "bsl430:", err)
		return exitUsage
	}

	// USB adapters may still be enumerating right after they are plugged in.
	err = retry.Do(
		func() error { return dev.Open(programmer.InitialBaudRate) },
		retry.Attempts(openAttempts),
		retry.Delay(openDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("failed to open serial port", "port", opts.port, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		log.Error("failed to open serial port", "port", opts.port, "error", err)
		return exitFailure
	}
	// The programmer closes the port on exit; this covers runs that fail before entry.
	defer func() { _ = dev.Close() }()

	rep := newReporter(stdout, img.Size())
	prog, err := programmer.New(dev,
		programmer.WithBaudRate(opts.baud),
		programmer.WithMassErase(opts.massErase),
		programmer.WithProgress(rep.report),
		programmer.WithLogger(log),
	)
	if err != nil {
		fmt.Fprintln(stderr, "bsl430:", err)
		return exitUsage
	}

	if err := prog.Run(ctx, img); err != nil {
		rep.abort()
		fmt.Fprintln(stderr, "bsl430: programming failed:", err)
		return exitFailure
	}

	return exitOK
}

// reporter prints one line per segment and drives a byte progress bar.
type reporter struct {
	out io.Writer
	bar *progressbar.ProgressBar
}

func newReporter(out io.Writer, total int) *reporter {
	return &reporter{
		out: out,
		bar: progressbar.NewOptions(total,
			progressbar.OptionSetWriter(out),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("Writing"),
			progressbar.OptionShowBytes(true),
		),
	}
}

func (r *reporter) report(p programmer.Progress) {
	switch p.Phase {
	case programmer.PhaseWrite:
		if p.Skipped {
			r.println(fmt.Sprintf("segment %d/%d @0x%04X: empty, skipped", p.Segment+1, p.Segments, p.Address))
			return
		}
		r.println(fmt.Sprintf("segment %d/%d @0x%04X: writing %d bytes", p.Segment+1, p.Segments, p.Address, p.Size))
	case programmer.PhaseVerify:
		_ = r.bar.Set(p.BytesWritten)
		r.println(fmt.Sprintf("segment %d/%d @0x%04X: verifying CRC 0x%04X", p.Segment+1, p.Segments, p.Address, p.CRC))
	case programmer.PhaseDone:
		_ = r.bar.Finish()
		fmt.Fprintf(r.out, "\nprogrammed %d bytes in %v\n", p.BytesWritten, p.Elapsed.Round(time.Millisecond))
	}
}

// println writes a line above the progress bar.
func (r *reporter) println(line string) {
	_ = r.bar.Clear()
	fmt.Fprintln(r.out, line)
	_ = r.bar.RenderBlank()
}

func (r *reporter) abort() {
	_ = r.bar.Exit()
	fmt.Fprintln(r.out)
}
