package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher is the part of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes each message to <prefix>.<channel>.<method>.
type NATSSink struct {
	pub    Publisher
	prefix string
	logger *slog.Logger
}

// NewNATSSink returns a sink publishing through pub under prefix.
func NewNATSSink(pub Publisher, prefix string) *NATSSink {
	return &NATSSink{
		pub:    pub,
		prefix: strings.TrimSuffix(prefix, "."),
		logger: slog.Default().With("component", "nats_sink"),
	}
}

// Subject returns the subject a message for channel/method is published on.
func (s *NATSSink) Subject(channel, method string) string {
	if s.prefix == "" {
		return channel + "." + method
	}
	return s.prefix + "." + channel + "." + method
}

// Send publishes payload on the subject for channel and method.
func (s *NATSSink) Send(channel, method, payload string) {
	subject := s.Subject(channel, method)
	if err := s.pub.Publish(subject, []byte(payload)); err != nil {
		s.logger.Error("publish failed", "subject", subject, "error", err)
	}
}

// Connect dials a NATS server with the reconnect policy the bridge uses.
func Connect(url, name string, timeout time.Duration) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return conn, nil
}

// NATSServer accepts invocations on <prefix>.<Operation> and responds with
// the inline reply.
type NATSServer struct {
	invoker Invoker
	prefix  string
	sub     *nats.Subscription
	logger  *slog.Logger
}

// NewNATSServer returns a server dispatching to invoker.
func NewNATSServer(invoker Invoker, prefix string) *NATSServer {
	return &NATSServer{
		invoker: invoker,
		prefix:  strings.TrimSuffix(prefix, "."),
		logger:  slog.Default().With("component", "nats_server"),
	}
}

// Start subscribes on conn. Handlers run on the NATS delivery goroutine;
// asynchronous operations return immediately so the goroutine is never held
// by network I/O.
func (s *NATSServer) Start(ctx context.Context, conn *nats.Conn) error {
	sub, err := conn.Subscribe(s.prefix+".*", func(msg *nats.Msg) {
		reply := s.handle(ctx, msg.Subject, msg.Data)
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond([]byte(reply)); err != nil {
			s.logger.Error("respond failed", "subject", msg.Subject, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.prefix, err)
	}
	s.sub = sub
	s.logger.Info("accepting invocations", "subject", s.prefix+".*")
	return nil
}

// Stop drains the invocation subscription.
func (s *NATSServer) Stop() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Drain()
}

func (s *NATSServer) handle(ctx context.Context, subject string, data []byte) string {
	method := subject[strings.LastIndex(subject, ".")+1:]
	return s.invoker.Invoke(ctx, method, data)
}
