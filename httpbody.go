// SPDX-License-Identifier: GPL-3.0-or-later

package tlsreuse

import (
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bassosimone/safeconn"
)

// observedBody counts the bytes of a response body and logs
// httpBodyStreamStart on the first Read and httpBodyStreamDone on
// the first Close that follows at least one Read.
type observedBody struct {
	body      io.ReadCloser
	closeOnce sync.Once
	count     int64
	errClass  ErrClassifier
	laddr     string
	logger    SLogger
	mu        sync.Mutex
	protocol  string
	raddr     string
	t0        time.Time
	timeNow   func() time.Time
}

func newObservedBody(body io.ReadCloser, conn net.Conn,
	errClass ErrClassifier, logger SLogger, timeNow func() time.Time) *observedBody {
	return &observedBody{
		body:     body,
		errClass: errClass,
		laddr:    safeconn.LocalAddr(conn),
		logger:   logger,
		protocol: safeconn.Network(conn),
		raddr:    safeconn.RemoteAddr(conn),
		timeNow:  timeNow,
	}
}

var _ io.ReadCloser = &observedBody{}

// Read implements [io.ReadCloser].
func (b *observedBody) Read(buffer []byte) (int, error) {
	b.mu.Lock()
	if b.t0.IsZero() {
		b.t0 = b.timeNow()
		b.logger.Info(
			"httpBodyStreamStart",
			slog.String("localAddr", b.laddr),
			slog.String("protocol", b.protocol),
			slog.String("remoteAddr", b.raddr),
			slog.Time("t", b.t0),
		)
	}
	b.mu.Unlock()

	count, err := b.body.Read(buffer)

	b.mu.Lock()
	b.count += int64(count)
	b.mu.Unlock()
	return count, err
}

// Close implements [io.ReadCloser].
func (b *observedBody) Close() (err error) {
	b.closeOnce.Do(func() {
		err = b.body.Close()
		b.mu.Lock()
		t0, count := b.t0, b.count
		b.mu.Unlock()
		if t0.IsZero() {
			return
		}
		b.logger.Info(
			"httpBodyStreamDone",
			slog.Any("err", err),
			slog.String("errClass", b.errClass.Classify(err)),
			slog.Int64("ioBytesCount", count),
			slog.String("localAddr", b.laddr),
			slog.String("protocol", b.protocol),
			slog.String("remoteAddr", b.raddr),
			slog.Time("t0", t0),
			slog.Time("t", b.timeNow()),
		)
	})
	return
}
