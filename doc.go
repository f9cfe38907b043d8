// SPDX-License-Identifier: GPL-3.0-or-later

// Package tlsreuse measures HTTPS request latency against a single endpoint
// under three connection-reuse regimes.
//
// # Regimes
//
// The [Mode] of an experiment decides how the connection state flows from
// one sample to the next:
//
//   - [ModeColdCold]: every sample opens a new TCP connection, negotiates a
//     new TLS session, sends "Connection: close", and shuts the transport down.
//   - [ModeWarmCold]: one TCP connection for the whole experiment; every
//     sample after the first unwraps the previous TLS session (close_notify
//     in both directions) and negotiates a new one over the same transport.
//   - [ModeWarmWarm]: one TCP connection and one TLS session for the whole
//     experiment.
//
// Comparing the three isolates the cost of TCP setup, the cost of the TLS
// handshake, and the steady-state request/response latency.
//
// # Sampling
//
// A [*Sampler] performs one request/response exchange per call to
// [*Sampler.PerformRequest]. It writes a fixed HTTP/1.1 request (see
// [Target.Request]) and performs a single bounded read. The latency is
// taken from immediately before the send to the end of that read. A
// sample that reads no bytes fails with [ErrEmptyResponse]; a sample
// faster than [Config.MinValidLatency] fails with [ErrImplausiblyFast].
// Failures never escape a sample: they are recorded in [SampleResult].
//
// A [*Runner] drives the samples of an experiment strictly in sequence and
// produces an [*ExperimentReport], which can be written as text, as YAML,
// or as a per-experiment timing log file.
//
// # Connection State
//
// A [BareChannel] is a transport with no TLS session; a [*SecureChannel]
// is a transport bound to a negotiated session. Only the sampler moves a
// channel between the two, so a transport is never wrapped twice.
//
// Connections are built by composing [Func] stages with [Compose2],
// [Compose3], and [Compose4]: [ConnectFunc] dials, [ObserveConnFunc]
// logs I/O, [CancelWatchFunc] closes the conn when the context is done,
// and [TLSHandshakeFunc] negotiates the session. [ResolveFunc] resolves
// the target once, over DNS-over-UDP, before any sample is taken, and
// [PreflightFunc] optionally checks the endpoint with an ordinary GET.
//
// # Observability
//
// All operations log through [SLogger] (compatible with [log/slog]); by
// default logging is disabled. Operations emit *Start/*Done span events
// carrying localAddr, remoteAddr, protocol, t, and (on *Done) t0, err,
// and errClass. I/O events are emitted at [slog.LevelDebug], lifecycle
// events at [slog.LevelInfo], and rejected samples and cleanup failures at
// [slog.LevelWarn]. Each sample has a UUIDv7 span ID from [NewSpanID].
package tlsreuse
