// SPDX-License-Identifier: GPL-3.0-or-later

// Command tlsreuse measures HTTPS request latency against a single endpoint
// under three connection-reuse regimes and prints the per-sample timings.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"

	"github.com/bassosimone/tlsreuse"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := loadOptions(args)
	if err != nil {
		fmt.Fprintf(stderr, "tlsreuse: %s\n", err)
		return 2
	}

	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: logLevel(opts.Verbose)}))
	cfg := opts.config()

	addr, err := resolveTarget(ctx, cfg, opts, logger)
	if err != nil {
		fmt.Fprintf(stderr, "tlsreuse: cannot resolve %s: %s\n", opts.Host, err)
		return 1
	}
	target := tlsreuse.Target{
		Address: netip.AddrPortFrom(addr, opts.Port),
		Host:    opts.Host,
		Path:    opts.Path,
	}
	tlsConfig := tlsreuse.NewTLSConfig(opts.Host)

	if opts.Preflight {
		preflight(ctx, cfg, target, tlsConfig, opts, stdout, logger)
	}

	runner := tlsreuse.NewRunner(cfg, tlsreuse.NewSampler(cfg, target, tlsConfig, logger), logger)
	if opts.Format == formatText {
		runner.Output = stdout
	}
	reports := runner.RunModes(ctx, opts.Samples, opts.Modes...)

	if opts.Format == formatYAML {
		if err := tlsreuse.WriteYAMLReports(stdout, reports...); err != nil {
			logger.Warn("reportWriteFailed", slog.Any("err", err))
		}
	}
	if opts.LogDir != "" {
		for _, report := range reports {
			path, err := report.WriteLogFile(opts.LogDir)
			if err != nil {
				logger.Warn("logFileWriteFailed", slog.Any("err", err), slog.String("title", report.Title))
				continue
			}
			logger.Info("logFileWritten", slog.String("path", path), slog.String("title", report.Title))
		}
	}
	return 0
}

// resolveTarget returns the address to connect to, resolving the host
// only when no explicit address was configured.
func resolveTarget(ctx context.Context, cfg *tlsreuse.Config, opts *options, logger *slog.Logger) (netip.Addr, error) {
	if opts.Address.IsValid() {
		return opts.Address, nil
	}
	return tlsreuse.NewResolveFunc(cfg, logger).Call(ctx, opts.Host)
}

// preflight checks the endpoint with an ordinary HTTPS GET. Failures are
// logged and never prevent the measurements.
func preflight(ctx context.Context, cfg *tlsreuse.Config, target tlsreuse.Target,
	tlsConfig *tls.Config, opts *options, stdout io.Writer, logger *slog.Logger) {
	result, err := tlsreuse.NewPreflightFunc(cfg, target, tlsConfig, logger).Call(ctx, tlsreuse.Unit{})
	if err != nil {
		logger.Warn("preflightFailed", slog.Any("err", err))
		return
	}
	if opts.Format == formatText {
		fmt.Fprintf(stdout, "Preflight: %d %s (ALPN %q, %d body bytes)\n",
			result.StatusCode, result.Proto, result.ALPN, result.BodyBytes)
	}
}
