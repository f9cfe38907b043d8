// SPDX-License-Identifier: GPL-3.0-or-later

package tlsreuse

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/safeconn"
)

// NewSampler returns a new [*Sampler] for the given target.
//
// The tlsConfig argument is the process-wide configuration returned
// by [NewTLSConfig]; it is never mutated.
func NewSampler(cfg *Config, target Target, tlsConfig *tls.Config, logger SLogger) *Sampler {
	return &Sampler{
		Dial: Compose3(
			NewConnectFunc(cfg, "tcp", logger),
			NewObserveConnFunc(cfg, logger),
			NewCancelWatchFunc(),
		),
		ErrClassifier:   cfg.ErrClassifier,
		Handshake:       NewTLSHandshakeFunc(cfg, tlsConfig, logger),
		IOTimeout:       cfg.IOTimeout,
		Logger:          logger,
		MinValidLatency: cfg.MinValidLatency,
		ReadBufferSize:  cfg.ReadBufferSize,
		Target:          target,
		TimeNow:         cfg.TimeNow,
		UnwrapTimeout:   cfg.UnwrapTimeout,
	}
}

// Sampler manages the connection lifecycle of one experiment and times
// each request/response exchange.
//
// A Sampler owns at most one channel at a time, which is handed back and
// forth with the caller of [*Sampler.PerformRequest]. It is not safe for
// concurrent use.
//
// All fields are safe to modify after construction but before first use.
type Sampler struct {
	// Dial opens a new transport to the target address.
	//
	// Set by [NewSampler] to connect, observe, and cancel-watch stages.
	Dial Func[netip.AddrPort, net.Conn]

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Handshake negotiates a new TLS session over a bare transport.
	Handshake *TLSHandshakeFunc

	// IOTimeout bounds the send and the receive of each sample (zero
	// means no deadline).
	IOTimeout time.Duration

	// Logger is the [SLogger] to use.
	Logger SLogger

	// MinValidLatency is the validity floor.
	MinValidLatency time.Duration

	// ReadBufferSize is the size of the single response read.
	ReadBufferSize int

	// Target is the endpoint to sample.
	Target Target

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time

	// UnwrapTimeout bounds the close_notify exchange (zero means no deadline).
	UnwrapTimeout time.Duration
}

// PerformRequest times one request/response exchange.
//
// With a nil existing channel, it opens a new transport and negotiates
// a new session. With a non-nil existing channel and forceRenegotiate,
// it unwraps the session and negotiates a new one over the same
// transport. Otherwise it reuses existing as-is.
//
// Failures never escape: they are logged and reported through
// [SampleResult.Err]. When keepAlive is false, the channel is shut down
// before returning and the returned channel is nil. When keepAlive is
// true, whatever channel the sample used is returned for the next one,
// even after a failed exchange; nil is returned only when no channel
// could be established.
func (s *Sampler) PerformRequest(ctx context.Context,
	existing *SecureChannel, keepAlive, forceRenegotiate bool) (SampleResult, *SecureChannel) {
	result := SampleResult{SpanID: NewSpanID()}
	t0 := s.TimeNow()
	s.Logger.Info(
		"sampleStart",
		slog.Bool("forceRenegotiate", forceRenegotiate),
		slog.Bool("keepAlive", keepAlive),
		slog.Bool("reuseChannel", existing != nil),
		slog.String("spanID", result.SpanID),
		slog.Time("t", t0),
	)

	channel, err := s.establish(ctx, existing, forceRenegotiate, &result)
	if err == nil {
		result.Session = channel.Session
		err = s.exchange(channel, keepAlive, &result)
	}
	result.Err = err

	s.logSampleDone(t0, result)
	return result, s.finish(channel, keepAlive, result)
}

// establish returns the secure channel to use for this sample.
//
// On failure, any transport this function opened or was handed has
// already been released.
func (s *Sampler) establish(ctx context.Context,
	existing *SecureChannel, forceRenegotiate bool, result *SampleResult) (*SecureChannel, error) {
	switch {
	case existing == nil:
		bare, err := s.dial(ctx, result)
		if err != nil {
			return nil, err
		}
		return s.secure(ctx, bare, result)

	case forceRenegotiate:
		bare, err := s.unwrap(existing, result.SpanID)
		if err != nil {
			s.shutdown(existing, result.SpanID)
			return nil, err
		}
		return s.secure(ctx, bare, result)

	default:
		return existing, nil
	}
}

// dial opens a new transport to the target.
func (s *Sampler) dial(ctx context.Context, result *SampleResult) (BareChannel, error) {
	t0 := s.TimeNow()
	conn, err := s.Dial.Call(ctx, s.Target.Address)
	result.ConnectTime = s.TimeNow().Sub(t0)
	if err != nil {
		return BareChannel{}, err
	}
	return BareChannel{Conn: conn}, nil
}

// secure negotiates a new TLS session over a bare transport.
//
// On failure the transport is closed by the handshake.
func (s *Sampler) secure(ctx context.Context, bare BareChannel, result *SampleResult) (*SecureChannel, error) {
	t0 := s.TimeNow()
	tconn, err := s.Handshake.Call(ctx, bare.Conn)
	result.HandshakeTime = s.TimeNow().Sub(t0)
	if err != nil {
		return nil, err
	}
	channel := &SecureChannel{
		Conn:    bare.Conn,
		Session: newSessionInfo(tconn.ConnectionState()),
		TLS:     tconn,
	}
	return channel, nil
}

// unwrap destroys the TLS session of a channel and returns its transport.
//
// It sends close_notify and consumes the session until the peer answers
// with its own close_notify. Application data still in flight is discarded.
// The transport stays open on success; on failure the caller must shut
// it down.
func (s *Sampler) unwrap(channel *SecureChannel, spanID string) (BareChannel, error) {
	conn := channel.Conn
	t0 := s.TimeNow()
	s.Logger.Info(
		"tlsUnwrapStart",
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.String("spanID", spanID),
		slog.Time("t", t0),
	)

	discarded, err := s.drainSession(channel)

	s.Logger.Info(
		"tlsUnwrapDone",
		slog.Any("err", err),
		slog.String("errClass", s.ErrClassifier.Classify(err)),
		slog.Int("ioBytesDiscarded", discarded),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.String("spanID", spanID),
		slog.Time("t0", t0),
		slog.Time("t", s.TimeNow()),
	)

	if err != nil {
		return BareChannel{}, err
	}
	return BareChannel{Conn: conn}, nil
}

func (s *Sampler) drainSession(channel *SecureChannel) (int, error) {
	// Sending close_notify leaves an expired write deadline on the
	// transport, which must be cleared before the next handshake.
	defer channel.Conn.SetDeadline(time.Time{})
	if s.UnwrapTimeout > 0 {
		if err := channel.Conn.SetDeadline(s.TimeNow().Add(s.UnwrapTimeout)); err != nil {
			return 0, err
		}
	}
	if err := closeWrite(channel.TLS); err != nil {
		return 0, err
	}
	var discarded int
	buf := make([]byte, s.ReadBufferSize)
	for {
		count, err := channel.TLS.Read(buf)
		discarded += count
		if errors.Is(err, io.EOF) {
			return discarded, nil
		}
		if err != nil {
			return discarded, err
		}
	}
}

// exchange sends the fixed request and times the single bounded read.
func (s *Sampler) exchange(channel *SecureChannel, keepAlive bool, result *SampleResult) error {
	request := s.Target.Request(keepAlive)
	buf := make([]byte, s.ReadBufferSize)

	t0 := s.TimeNow()
	if s.IOTimeout > 0 {
		if err := channel.Conn.SetDeadline(t0.Add(s.IOTimeout)); err != nil {
			return err
		}
		defer channel.Conn.SetDeadline(time.Time{})
	}
	if _, err := channel.TLS.Write(request); err != nil {
		return err
	}
	count, err := channel.TLS.Read(buf)
	result.Latency = s.TimeNow().Sub(t0)
	result.Bytes = count

	switch {
	case count == 0 && (err == nil || errors.Is(err, io.EOF)):
		return ErrEmptyResponse
	case count == 0:
		return err
	case result.Latency < s.MinValidLatency:
		return fmt.Errorf("%w: %s < %s", ErrImplausiblyFast, result.Latency, s.MinValidLatency)
	default:
		return nil
	}
}

// finish decides whether the channel survives into the next sample.
func (s *Sampler) finish(channel *SecureChannel, keepAlive bool, result SampleResult) *SecureChannel {
	if channel == nil {
		return nil
	}
	if keepAlive {
		return channel
	}
	s.shutdown(channel, result.SpanID)
	return nil
}

// shutdown shuts down both directions of the channel transport and closes it.
//
// The TLS session is abandoned without close_notify. Errors are logged
// and otherwise ignored.
func (s *Sampler) shutdown(channel Channel, spanID string) {
	conn := channel.Transport()
	t0 := s.TimeNow()
	s.Logger.Info(
		"shutdownStart",
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.String("spanID", spanID),
		slog.Time("t", t0),
	)

	err := errors.Join(shutdownConn(conn), conn.Close())

	s.Logger.Info(
		"shutdownDone",
		slog.Any("err", err),
		slog.String("errClass", s.ErrClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.String("spanID", spanID),
		slog.Time("t0", t0),
		slog.Time("t", s.TimeNow()),
	)
	if err != nil {
		s.Logger.Warn(
			"cleanupFailed",
			slog.Any("err", err),
			slog.String("errClass", s.ErrClassifier.Classify(err)),
			slog.String("spanID", spanID),
		)
	}
}

func (s *Sampler) logSampleDone(t0 time.Time, result SampleResult) {
	s.Logger.Info(
		"sampleDone",
		slog.Int("ioBytesCount", result.Bytes),
		slog.Any("err", result.Err),
		slog.String("errClass", s.ErrClassifier.Classify(result.Err)),
		slog.Duration("connectTime", result.ConnectTime),
		slog.Duration("handshakeTime", result.HandshakeTime),
		slog.Duration("latency", result.Latency),
		slog.String("spanID", result.SpanID),
		slog.Time("t0", t0),
		slog.Time("t", s.TimeNow()),
	)

	switch {
	case result.Rejected():
		s.Logger.Warn(
			"sampleInvalid",
			slog.String("reason", result.Err.Error()),
			slog.Int("ioBytesCount", result.Bytes),
			slog.Duration("latency", result.Latency),
			slog.String("spanID", result.SpanID),
		)
	case result.Err != nil:
		s.Logger.Warn(
			"sampleFailed",
			slog.Any("err", result.Err),
			slog.String("errClass", s.ErrClassifier.Classify(result.Err)),
			slog.String("spanID", result.SpanID),
		)
	}
}
