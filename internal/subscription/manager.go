// Package subscription keeps at most one live ledger listener per
// (event kind, account handle) and forwards its events to the caller.
package subscription

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/olehkaliuzhnyi/ledger-bridge/internal/ledger"
	"github.com/olehkaliuzhnyi/ledger-bridge/internal/metrics"
	"github.com/olehkaliuzhnyi/ledger-bridge/internal/payload"
	"github.com/olehkaliuzhnyi/ledger-bridge/internal/registry"
	"github.com/olehkaliuzhnyi/ledger-bridge/pkg/models"
)

// ErrClosed is returned by Add after Close.
var ErrClosed = errors.New("subscription manager closed")

// Kind is an account event stream.
type Kind string

const (
	KindPayment         Kind = "payment"
	KindBalance         Kind = "balance"
	KindAccountCreation Kind = "account_creation"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPayment, KindBalance, KindAccountCreation:
		return true
	}
	return false
}

// Emitter delivers push events to the caller.
type Emitter interface {
	Emit(method string, body payload.Body)
}

type key struct {
	kind   Kind
	handle string
}

// entry is Absent while reg is nil and Active otherwise. A dead entry has
// been dropped from the table and must not be reused.
type entry struct {
	mu   sync.Mutex
	reg  ledger.Registration
	dead bool
}

// Manager owns the subscription table. Add and Remove on different keys never
// contend beyond a short table lookup.
type Manager struct {
	accounts registry.Store
	emitter  Emitter
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[key]*entry
	closed  bool
}

// New returns a Manager resolving account handles in accounts. m may be nil.
func New(accounts registry.Store, e Emitter, m *metrics.Metrics) *Manager {
	return &Manager{
		accounts: accounts,
		emitter:  e,
		metrics:  m,
		logger:   slog.Default().With("component", "subscriptions"),
		entries:  make(map[key]*entry),
	}
}

// Add activates the (kind, handle) subscription. It is a no-op when the key is
// already active. A handle missing from the registry yields ErrNotFound and
// leaves the key absent.
func (m *Manager) Add(kind Kind, handle string) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: event kind %q", payload.ErrInvalidArgument, kind)
	}
	k := key{kind: kind, handle: handle}
	e, err := m.lock(k)
	if err != nil {
		return err
	}
	defer m.unlock(k, e)

	if e.reg != nil {
		m.logger.Debug("listener already active", "kind", kind, "handle", handle)
		return nil
	}
	acct, ok := registry.Lookup[ledger.Account](m.accounts, registry.Accounts, handle)
	if !ok {
		return fmt.Errorf("%w: account %q", payload.ErrNotFound, handle)
	}

	e.reg = m.subscribe(kind, handle, acct)
	m.metrics.SubscriptionAdded(string(kind))
	m.logger.Info("listener added", "kind", kind, "handle", handle)
	return nil
}

// Remove releases the (kind, handle) subscription if active.
func (m *Manager) Remove(kind Kind, handle string) {
	k := key{kind: kind, handle: handle}
	e, err := m.lock(k)
	if err != nil {
		return
	}
	defer m.unlock(k, e)

	if e.reg == nil {
		return
	}
	e.reg.Remove()
	e.reg = nil
	m.metrics.SubscriptionRemoved(string(kind))
	m.logger.Info("listener removed", "kind", kind, "handle", handle)
}

// Active reports whether the (kind, handle) subscription is live.
func (m *Manager) Active(kind Kind, handle string) bool {
	m.mu.Lock()
	e, ok := m.entries[key{kind: kind, handle: handle}]
	m.mu.Unlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reg != nil && !e.dead
}

// Count returns the number of live subscriptions.
func (m *Manager) Count() int {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	n := 0
	for _, e := range entries {
		e.mu.Lock()
		if e.reg != nil && !e.dead {
			n++
		}
		e.mu.Unlock()
	}
	return n
}

// Close releases every live subscription. Later Adds fail with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	entries := m.entries
	m.entries = make(map[key]*entry)
	m.mu.Unlock()

	for k, e := range entries {
		e.mu.Lock()
		if e.reg != nil {
			e.reg.Remove()
			e.reg = nil
			m.metrics.SubscriptionRemoved(string(k.kind))
		}
		e.dead = true
		e.mu.Unlock()
	}
	m.logger.Info("subscriptions closed", "released", len(entries))
	return nil
}

// lock returns the live entry for k with its mutex held.
func (m *Manager) lock(k key) (*entry, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		e, ok := m.entries[k]
		if !ok {
			e = &entry{}
			m.entries[k] = e
		}
		m.mu.Unlock()

		e.mu.Lock()
		if !e.dead {
			return e, nil
		}
		e.mu.Unlock()
	}
}

// unlock drops absent entries from the table and releases e.
func (m *Manager) unlock(k key, e *entry) {
	if e.reg == nil && !e.dead {
		m.mu.Lock()
		if m.entries[k] == e {
			delete(m.entries, k)
		}
		m.mu.Unlock()
		e.dead = true
	}
	e.mu.Unlock()
}

func (m *Manager) subscribe(kind Kind, handle string, acct ledger.Account) ledger.Registration {
	switch kind {
	case KindPayment:
		return acct.AddPaymentListener(func(info models.PaymentInfo) {
			m.push(payload.EncodePayment(info, handle))
		})
	case KindBalance:
		return acct.AddBalanceListener(func(balance models.Amount) {
			m.push(payload.EncodePushEvent(payload.MethodOnBalance, balance.String(), handle))
		})
	default:
		return acct.AddAccountCreationListener(func() {
			m.push(payload.EncodePushEvent(payload.MethodOnAccountCreated, "", handle))
		})
	}
}

func (m *Manager) push(ev payload.Event) {
	m.emitter.Emit(ev.Method, ev.Body)
}
