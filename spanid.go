package tlsreuse

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 identifying a span.
//
// Each sample is a span: it either yields one latency or fails in one
// specific way. The ID is stored in [SampleResult.SpanID] and attached to
// every log event the sample emits, so that log lines can be joined back
// to report rows.
//
// This function panics if the system random number generator fails.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
