package transport

import (
	"sync"
	"time"
)

// Message is one delivery captured by a Recorder.
type Message struct {
	Channel string
	Method  string
	Payload string
}

// Recorder is a Sink that keeps every message in memory. Tests use it in
// place of a real caller transport.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Send records the message.
func (r *Recorder) Send(channel, method, payload string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Channel: channel, Method: method, Payload: payload})
}

// Messages returns a snapshot of everything received so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// ByMethod returns the messages sent under method.
func (r *Recorder) ByMethod(method string) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Method == method {
			out = append(out, m)
		}
	}
	return out
}

// WaitFor polls until at least n messages arrived or timeout elapses and
// returns whatever was received.
func (r *Recorder) WaitFor(n int, timeout time.Duration) []Message {
	deadline := time.Now().Add(timeout)
	for {
		msgs := r.Messages()
		if len(msgs) >= n || time.Now().After(deadline) {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
}
