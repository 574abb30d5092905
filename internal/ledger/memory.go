package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/olehkaliuzhnyi/ledger-bridge/pkg/models"
)

// ErrUnavailable is returned by network calls while the network is offline.
var ErrUnavailable = errors.New("network unavailable")

var appIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]{3,4}$`)

// NetworkConfig parameterizes a MemoryNetwork.
type NetworkConfig struct {
	Passphrase string
	// MinimumFee in quarks; non-whitelisted payments must pay at least this.
	MinimumFee int64
}

// MemoryNetwork is an in-process ledger. It keeps balances and sequences per
// address, key stores per (appId, storeKey), and notifies listeners
// synchronously when a payment applies.
type MemoryNetwork struct {
	passphrase   string
	minFee       int64
	whitelistKey *btcec.PrivateKey
	now          func() time.Time
	logger       *slog.Logger

	mu        sync.Mutex
	offline   bool
	accounts  map[string]*ledgerAccount
	stores    map[string]*keyStore
	submitted map[string]struct{}
	listeners map[string]*listenerSet
	nextID    uint64
}

type ledgerAccount struct {
	balance  models.Amount
	sequence uint64
}

type listenerSet struct {
	payment map[uint64]func(models.PaymentInfo)
	balance map[uint64]func(models.Amount)
	created map[uint64]func()
}

type registration struct {
	once   sync.Once
	remove func()
}

func (r *registration) Remove() { r.once.Do(r.remove) }

// NewMemoryNetwork creates an empty ledger with a fresh whitelisting key.
func NewMemoryNetwork(cfg NetworkConfig) (*MemoryNetwork, error) {
	wl, err := newKey()
	if err != nil {
		return nil, fmt.Errorf("whitelist key: %w", err)
	}
	return &MemoryNetwork{
		passphrase:   cfg.Passphrase,
		minFee:       cfg.MinimumFee,
		whitelistKey: wl,
		now:          time.Now,
		logger:       slog.Default().With("component", "memory_ledger"),
		accounts:     make(map[string]*ledgerAccount),
		stores:       make(map[string]*keyStore),
		submitted:    make(map[string]struct{}),
		listeners:    make(map[string]*listenerSet),
	}, nil
}

// Passphrase returns the network passphrase bound into every envelope.
func (n *MemoryNetwork) Passphrase() string { return n.passphrase }

// SetOffline makes every network call fail with ErrUnavailable until reset.
func (n *MemoryNetwork) SetOffline(offline bool) {
	n.mu.Lock()
	n.offline = offline
	n.mu.Unlock()
}

// Factory returns n.NewClient as a ClientFactory.
func (n *MemoryNetwork) Factory() ClientFactory {
	return n.NewClient
}

// NewClient opens the key store identified by appID and storeKey. Clients
// sharing a store see the same account objects.
func (n *MemoryNetwork) NewClient(env models.Environment, appID, storeKey string) (Client, error) {
	if !env.Valid() {
		return nil, fmt.Errorf("unknown environment %d", int(env))
	}
	if !appIDPattern.MatchString(appID) {
		return nil, fmt.Errorf("%w: %q must be 3-4 alphanumeric characters", ErrInvalidAppID, appID)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	id := env.String() + "/" + appID + "/" + storeKey
	store, ok := n.stores[id]
	if !ok {
		store = &keyStore{}
		n.stores[id] = store
	}
	return &memoryClient{net: n, env: env, appID: appID, store: store}, nil
}

// CreateAccount puts address on the ledger with a starting balance. It plays
// the part of the onboarding service.
func (n *MemoryNetwork) CreateAccount(address string, starting models.Amount) error {
	if !validAddress(address) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	n.mu.Lock()
	if n.offline {
		n.mu.Unlock()
		return ErrUnavailable
	}
	if _, exists := n.accounts[address]; exists {
		n.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAccountExists, address)
	}
	n.accounts[address] = &ledgerAccount{balance: starting}

	var notify []func()
	if ls, ok := n.listeners[address]; ok {
		for _, f := range ls.created {
			notify = append(notify, f)
		}
		for _, f := range ls.balance {
			f := f
			notify = append(notify, func() { f(starting) })
		}
	}
	n.mu.Unlock()

	n.logger.Info("account created", "address", address, "balance", starting.String())
	for _, f := range notify {
		f()
	}
	return nil
}

// BalanceOf returns the ledger balance of address.
func (n *MemoryNetwork) BalanceOf(address string) (models.Amount, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	acc, ok := n.accounts[address]
	if !ok {
		return models.Amount{}, false
	}
	return acc.balance, true
}

// Whitelist countersigns a transaction payload with the network whitelisting
// key and returns the new payload, as an app's whitelisting service would.
func (n *MemoryNetwork) Whitelist(payload string) (string, error) {
	env, err := decodeEnvelope(payload)
	if err != nil {
		return "", err
	}
	if env.Passphrase != n.passphrase {
		return "", fmt.Errorf("network passphrase mismatch")
	}
	if err := verifySender(env); err != nil {
		return "", err
	}
	env.Whitelist = sign(n.whitelistKey, env.hash())
	return env.encode()
}

func (n *MemoryNetwork) minimumFee(ctx context.Context) (int64, error) {
	if err := n.online(ctx); err != nil {
		return 0, err
	}
	return n.minFee, nil
}

func (n *MemoryNetwork) status(ctx context.Context, address string) (models.AccountStatus, error) {
	if err := n.online(ctx); err != nil {
		return 0, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.accounts[address]; ok {
		return models.AccountStatusCreated, nil
	}
	return models.AccountStatusNotCreated, nil
}

func (n *MemoryNetwork) balance(ctx context.Context, address string) (models.Amount, error) {
	if err := n.online(ctx); err != nil {
		return models.Amount{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	acc, ok := n.accounts[address]
	if !ok {
		return models.Amount{}, fmt.Errorf("%w: %s", ErrAccountNotCreated, address)
	}
	return acc.balance, nil
}

func (n *MemoryNetwork) sequence(ctx context.Context, address string) (uint64, error) {
	if err := n.online(ctx); err != nil {
		return 0, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	acc, ok := n.accounts[address]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrAccountNotCreated, address)
	}
	return acc.sequence, nil
}

func (n *MemoryNetwork) online(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.offline {
		return ErrUnavailable
	}
	return nil
}

func verifySender(env *envelope) error {
	pub, err := verify(env.PublicKey, env.Signature, env.hash())
	if err != nil {
		return err
	}
	if addressOf(pub) != env.Source {
		return fmt.Errorf("%w: signer is not %s", ErrInvalidSignature, env.Source)
	}
	return nil
}

// submit verifies and applies a signed envelope. whitelisted requires a valid
// whitelist countersignature and waives the fee.
func (n *MemoryNetwork) submit(ctx context.Context, env *envelope, whitelisted bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if env.Passphrase != n.passphrase {
		return "", fmt.Errorf("network passphrase mismatch")
	}
	if err := verifySender(env); err != nil {
		return "", err
	}
	fee := env.Fee
	if whitelisted {
		if env.Whitelist == "" {
			return "", fmt.Errorf("%w: missing whitelist signature", ErrInvalidSignature)
		}
		wlPub := hex.EncodeToString(n.whitelistKey.PubKey().SerializeCompressed())
		if _, err := verify(wlPub, env.Whitelist, env.hash()); err != nil {
			return "", fmt.Errorf("whitelist: %w", err)
		}
		fee = 0
	}
	amount, err := env.amount()
	if err != nil {
		return "", fmt.Errorf("envelope amount: %w", err)
	}
	id := env.id()

	n.mu.Lock()
	if n.offline {
		n.mu.Unlock()
		return "", ErrUnavailable
	}
	src, ok := n.accounts[env.Source]
	if !ok {
		n.mu.Unlock()
		return "", fmt.Errorf("%w: source %s", ErrAccountNotCreated, env.Source)
	}
	dst, ok := n.accounts[env.Destination]
	if !ok {
		n.mu.Unlock()
		return "", fmt.Errorf("%w: destination %s", ErrAccountNotCreated, env.Destination)
	}
	if _, dup := n.submitted[id]; dup {
		n.mu.Unlock()
		return "", fmt.Errorf("transaction %s already submitted", id)
	}
	if env.Sequence != src.sequence+1 {
		n.mu.Unlock()
		return "", fmt.Errorf("%w: got %d, want %d", ErrBadSequence, env.Sequence, src.sequence+1)
	}
	if !whitelisted && fee < n.minFee {
		n.mu.Unlock()
		return "", fmt.Errorf("%w: %d < %d", ErrInsufficientFee, fee, n.minFee)
	}
	total := amount.Add(models.NewAmount(fee))
	if src.balance.Cmp(total) < 0 {
		n.mu.Unlock()
		return "", fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, src.balance, total)
	}

	src.balance = src.balance.Sub(total)
	src.sequence++
	dst.balance = dst.balance.Add(amount)
	n.submitted[id] = struct{}{}

	info := models.PaymentInfo{
		Amount:               amount,
		CreatedAt:            n.now().UTC().Format(time.RFC3339),
		DestinationPublicKey: env.Destination,
		SourcePublicKey:      env.Source,
		Hash:                 id,
		Memo:                 env.Memo,
	}
	notify := n.paymentNotifications(env.Source, info, src.balance)
	if env.Destination != env.Source {
		notify = append(notify, n.paymentNotifications(env.Destination, info, dst.balance)...)
	}
	n.mu.Unlock()

	n.logger.Info("payment applied",
		"tx", id,
		"from", env.Source,
		"to", env.Destination,
		"amount", amount.String(),
		"fee", fee,
		"whitelisted", whitelisted,
	)
	for _, f := range notify {
		f()
	}
	return id, nil
}

// paymentNotifications snapshots the listeners of address. Caller holds n.mu.
func (n *MemoryNetwork) paymentNotifications(address string, info models.PaymentInfo, balance models.Amount) []func() {
	ls, ok := n.listeners[address]
	if !ok {
		return nil
	}
	var out []func()
	for _, f := range ls.payment {
		f := f
		out = append(out, func() { f(info) })
	}
	for _, f := range ls.balance {
		f := f
		out = append(out, func() { f(balance) })
	}
	return out
}

func (n *MemoryNetwork) listenerSet(address string) *listenerSet {
	ls, ok := n.listeners[address]
	if !ok {
		ls = &listenerSet{
			payment: make(map[uint64]func(models.PaymentInfo)),
			balance: make(map[uint64]func(models.Amount)),
			created: make(map[uint64]func()),
		}
		n.listeners[address] = ls
	}
	return ls
}

func (n *MemoryNetwork) addPaymentListener(address string, f func(models.PaymentInfo)) Registration {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	n.listenerSet(address).payment[id] = f
	return &registration{remove: func() {
		n.mu.Lock()
		delete(n.listenerSet(address).payment, id)
		n.mu.Unlock()
	}}
}

func (n *MemoryNetwork) addBalanceListener(address string, f func(models.Amount)) Registration {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	n.listenerSet(address).balance[id] = f
	return &registration{remove: func() {
		n.mu.Lock()
		delete(n.listenerSet(address).balance, id)
		n.mu.Unlock()
	}}
}

func (n *MemoryNetwork) addCreationListener(address string, f func()) Registration {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	n.listenerSet(address).created[id] = f
	return &registration{remove: func() {
		n.mu.Lock()
		delete(n.listenerSet(address).created, id)
		n.mu.Unlock()
	}}
}

// ListenerCount reports live listeners of all kinds on address.
func (n *MemoryNetwork) ListenerCount(address string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	ls, ok := n.listeners[address]
	if !ok {
		return 0
	}
	return len(ls.payment) + len(ls.balance) + len(ls.created)
}
