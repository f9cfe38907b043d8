// SPDX-License-Identifier: GPL-3.0-or-later

package tlsreuse

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewObserveConnFunc(t *testing.T) {
	fn := NewObserveConnFunc(NewConfig(), DefaultSLogger())
	require.NotNil(t, fn)
	assert.NotNil(t, fn.Logger)
	assert.NotNil(t, fn.TimeNow)
	assert.NotNil(t, fn.ErrClassifier)
}

// Read and Write delegate to the wrapped conn and emit Debug events.
func TestObservedConnReadWrite(t *testing.T) {
	logger, records := newCapturingLogger()

	var written []byte
	mockConn := newMinimalConn()
	mockConn.ReadFunc = func(b []byte) (int, error) {
		return copy(b, "hello world"), nil
	}
	mockConn.WriteFunc = func(b []byte) (int, error) {
		written = append(written, b...)
		return len(b), nil
	}

	observed, err := NewObserveConnFunc(NewConfig(), logger).Call(context.Background(), mockConn)
	require.NoError(t, err)

	n, err := observed.Write([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "ping", string(written))

	buf := make([]byte, 100)
	n, err = observed.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(buf[:n]))

	require.Len(t, *records, 4)
	assert.Equal(t, "writeStart", (*records)[0].Message)
	assert.Equal(t, "writeDone", (*records)[1].Message)
	assert.Equal(t, "readStart", (*records)[2].Message)
	assert.Equal(t, "readDone", (*records)[3].Message)
	for _, record := range *records {
		assert.Equal(t, slog.LevelDebug, record.Level)
	}
}

// Read propagates errors from the wrapped conn.
func TestObservedConnReadError(t *testing.T) {
	wantErr := errors.New("read error")
	mockConn := newMinimalConn()
	mockConn.ReadFunc = func(b []byte) (int, error) {
		return 0, wantErr
	}

	observed, _ := NewObserveConnFunc(NewConfig(), DefaultSLogger()).Call(context.Background(), mockConn)

	_, err := observed.Read(make([]byte, 10))
	require.ErrorIs(t, err, wantErr)
}

// A second Close returns net.ErrClosed without closing the wrapped conn again.
func TestObservedConnCloseOnce(t *testing.T) {
	logger, records := newCapturingLogger()

	closeCount := 0
	mockConn := newMinimalConn()
	mockConn.CloseFunc = func() error {
		closeCount++
		return nil
	}

	observed, _ := NewObserveConnFunc(NewConfig(), logger).Call(context.Background(), mockConn)

	require.NoError(t, observed.Close())
	require.ErrorIs(t, observed.Close(), net.ErrClosed)
	assert.Equal(t, 1, closeCount)

	require.Len(t, *records, 2)
	assert.Equal(t, "closeStart", (*records)[0].Message)
	assert.Equal(t, "closeDone", (*records)[1].Message)
}

// SetDeadline delegates to the wrapped conn.
func TestObservedConnSetDeadline(t *testing.T) {
	var got time.Time
	mockConn := newMinimalConn()
	mockConn.SetDeadlineFunc = func(t time.Time) error {
		got = t
		return nil
	}

	observed, _ := NewObserveConnFunc(NewConfig(), DefaultSLogger()).Call(context.Background(), mockConn)

	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, observed.SetDeadline(want))
	assert.Equal(t, want, got)
}

// Per-direction shutdown is forwarded when the wrapped conn supports it.
func TestObservedConnHalfClose(t *testing.T) {
	inner := &halfCloseConn{FuncConn: newMinimalConn()}

	observed, _ := NewObserveConnFunc(NewConfig(), DefaultSLogger()).Call(context.Background(), inner)

	require.NoError(t, shutdownConn(observed))
	assert.Equal(t, 1, inner.closeReads)
	assert.Equal(t, 1, inner.closeWrites)
}

// Per-direction shutdown is a no-op when the wrapped conn does not support it.
func TestObservedConnHalfCloseUnsupported(t *testing.T) {
	mockConn := &netstub.FuncConn{
		LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
	}

	observed, _ := NewObserveConnFunc(NewConfig(), DefaultSLogger()).Call(context.Background(), mockConn)

	require.NoError(t, shutdownConn(observed))
}
