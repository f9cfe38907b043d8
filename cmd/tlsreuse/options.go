// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/bassosimone/tlsreuse"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	formatText = "text"
	formatYAML = "yaml"
)

// options is the validated command configuration.
type options struct {
	Address       netip.Addr
	DNSServer     netip.AddrPort
	Format        string
	Host          string
	IOTimeout     time.Duration
	LogDir        string
	MinLatency    time.Duration
	Modes         []tlsreuse.Mode
	Path          string
	Port          uint16
	Preflight     bool
	ReadSize      int
	Samples       int
	UnwrapTimeout time.Duration
	Verbose       int
}

// newFlagSet returns the command flags with their defaults.
func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("tlsreuse", pflag.ContinueOnError)
	fs.String("host", tlsreuse.DefaultTargetHost, "Host header and TLS server name")
	fs.String("address", "", "IP address to connect to (default: resolve --host)")
	fs.Uint16("port", tlsreuse.DefaultTargetPort, "TCP port to connect to")
	fs.String("path", tlsreuse.DefaultTargetPath, "request path")
	fs.Int("samples", tlsreuse.DefaultSampleCount, "samples per experiment")
	fs.String("mode", "all", "experiment to run: all, cold-cold, warm-cold, or warm-warm")
	fs.Duration("min-latency", tlsreuse.DefaultMinValidLatency, "latency below which a sample is discarded")
	fs.Int("read-size", tlsreuse.DefaultReadBufferSize, "bytes read per response")
	fs.Duration("io-timeout", 0, "per-sample send and receive timeout (0 means none)")
	fs.Duration("unwrap-timeout", tlsreuse.DefaultUnwrapTimeout, "close_notify wait before renegotiating")
	fs.String("dns-server", tlsreuse.DefaultDNSServer.String(), "DNS-over-UDP server used to resolve --host")
	fs.String("format", formatText, "report format: text or yaml")
	fs.String("log-dir", "", "directory for per-experiment timing logs")
	fs.Bool("preflight", false, "send one ordinary HTTPS GET before measuring")
	fs.String("config", "", "YAML configuration file")
	fs.CountP("verbose", "v", "increase log verbosity (repeatable)")
	return fs
}

// loadOptions merges flags, TLSREUSE_* environment variables, and the
// optional config file, in decreasing order of precedence.
func loadOptions(args []string) (*options, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	v.SetEnvPrefix("TLSREUSE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return newOptions(v)
}

func newOptions(v *viper.Viper) (*options, error) {
	opts := &options{
		Format:        v.GetString("format"),
		Host:          v.GetString("host"),
		IOTimeout:     v.GetDuration("io-timeout"),
		LogDir:        v.GetString("log-dir"),
		MinLatency:    v.GetDuration("min-latency"),
		Path:          v.GetString("path"),
		Port:          v.GetUint16("port"),
		Preflight:     v.GetBool("preflight"),
		ReadSize:      v.GetInt("read-size"),
		Samples:       v.GetInt("samples"),
		UnwrapTimeout: v.GetDuration("unwrap-timeout"),
		Verbose:       v.GetInt("verbose"),
	}

	var err error
	if address := v.GetString("address"); address != "" {
		if opts.Address, err = netip.ParseAddr(address); err != nil {
			return nil, fmt.Errorf("invalid --address: %w", err)
		}
	}
	if opts.DNSServer, err = netip.ParseAddrPort(v.GetString("dns-server")); err != nil {
		return nil, fmt.Errorf("invalid --dns-server: %w", err)
	}
	if opts.Modes, err = parseModes(v.GetString("mode")); err != nil {
		return nil, err
	}

	switch {
	case opts.Host == "":
		return nil, errors.New("--host must not be empty")
	case !strings.HasPrefix(opts.Path, "/"):
		return nil, errors.New("--path must start with /")
	case opts.Samples < 0:
		return nil, errors.New("--samples must not be negative")
	case opts.ReadSize <= 0:
		return nil, errors.New("--read-size must be positive")
	case opts.Format != formatText && opts.Format != formatYAML:
		return nil, fmt.Errorf("unknown --format %q", opts.Format)
	}
	return opts, nil
}

func parseModes(value string) ([]tlsreuse.Mode, error) {
	if value == "all" {
		return tlsreuse.AllModes, nil
	}
	mode, err := tlsreuse.ParseMode(value)
	if err != nil {
		return nil, err
	}
	return []tlsreuse.Mode{mode}, nil
}

// config returns the [*tlsreuse.Config] for these options.
func (opts *options) config() *tlsreuse.Config {
	cfg := tlsreuse.NewConfig()
	cfg.DNSServer = opts.DNSServer
	cfg.IOTimeout = opts.IOTimeout
	cfg.MinValidLatency = opts.MinLatency
	cfg.ReadBufferSize = opts.ReadSize
	cfg.UnwrapTimeout = opts.UnwrapTimeout
	return cfg
}

// logLevel maps the -v count to a level: Warn, then Info, then Debug.
func logLevel(verbose int) slog.Level {
	switch {
	case verbose <= 0:
		return slog.LevelWarn
	case verbose == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
