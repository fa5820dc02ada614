package throw

import (
	"time"

	"golang.org/x/net/context"
)

// Metric receives counters and timings of protocol activity.
// Name is one of the Metric* constants.
type Metric interface {
	StatCount(ctx context.Context, name string, val float64)
	ErrorCount(ctx context.Context, name string, val float64)
	Timing(ctx context.Context, name string, d time.Duration)
}

const (
	MetricSessionAccept   = "session.accept"
	MetricSessionClose    = "session.close"
	MetricRequest         = "request"
	MetricRequestPayload  = "request.payload_bytes"
	MetricResponsePayload = "response.payload_bytes"
	MetricDispatch        = "dispatch"
	MetricHandlerPanic    = "handler.panic"
	MetricDecode          = "decode"
	MetricEncode          = "encode"
	MetricCall            = "call"
)

// NoopMetric discards all measurements.
type NoopMetric struct{}

func (NoopMetric) StatCount(context.Context, string, float64)     {}
func (NoopMetric) ErrorCount(context.Context, string, float64)    {}
func (NoopMetric) Timing(context.Context, string, time.Duration) {}
