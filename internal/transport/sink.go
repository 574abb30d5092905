// Package transport delivers payloads to the caller and carries its
// invocations into the bridge.
package transport

import (
	"context"
	"log/slog"

	"github.com/olehkaliuzhnyi/ledger-bridge/internal/metrics"
	"github.com/olehkaliuzhnyi/ledger-bridge/internal/payload"
)

// Sink is the caller's message delivery primitive. Send is fire-and-forget:
// it has no return value and must not block for long.
type Sink interface {
	Send(channel, method, payload string)
}

// Invoker runs one named bridge operation and returns its inline reply.
type Invoker interface {
	Invoke(ctx context.Context, method string, args []byte) string
}

// Channel binds a Sink to the single logical reply channel the caller
// listens on.
type Channel struct {
	name    string
	sink    Sink
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewChannel returns a Channel delivering to sink under name. m may be nil.
func NewChannel(name string, sink Sink, m *metrics.Metrics) *Channel {
	return &Channel{
		name:    name,
		sink:    sink,
		metrics: m,
		logger:  slog.Default().With("component", "channel", "channel", name),
	}
}

// Name returns the reply channel name.
func (c *Channel) Name() string { return c.name }

// Emit marshals body and hands it to the sink under method.
func (c *Channel) Emit(method string, body payload.Body) {
	data, err := payload.Marshal(body)
	if err != nil {
		// Bodies are flat string structs; this only fires on programmer error.
		c.logger.Error("marshal payload failed", "method", method, "error", err)
		return
	}
	c.sink.Send(c.name, method, data)
	c.metrics.MessageSent(method)
}

// LogSink is the fallback used when no caller transport is attached: every
// message is written to the log instead.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a LogSink writing through logger, or slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "log_sink")}
}

// Send logs the message at info level.
func (s *LogSink) Send(channel, method, payload string) {
	s.logger.Info("send message", "channel", channel, "method", method, "payload", payload)
}
