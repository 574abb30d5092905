// Package bridge is the facade between a fire-and-forget, string-keyed caller
// and the stateful ledger SDK. Callers refer to SDK objects by handles they
// choose; cheap calls answer inline and network-bound calls answer through
// the reply channel with exactly one terminal payload.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/olehkaliuzhnyi/ledger-bridge/internal/ledger"
	"github.com/olehkaliuzhnyi/ledger-bridge/internal/metrics"
	"github.com/olehkaliuzhnyi/ledger-bridge/internal/payload"
	"github.com/olehkaliuzhnyi/ledger-bridge/internal/registry"
	"github.com/olehkaliuzhnyi/ledger-bridge/internal/runner"
	"github.com/olehkaliuzhnyi/ledger-bridge/internal/subscription"
	"github.com/olehkaliuzhnyi/ledger-bridge/pkg/models"
)

const defaultConsumedHistory = 1024

// Options configures a Bridge.
type Options struct {
	// Factory builds SDK clients. Required.
	Factory ledger.ClientFactory
	// Emitter receives every asynchronous and push payload. Required.
	Emitter runner.Emitter
	// Store holds handles. Defaults to an in-memory registry.
	Store registry.Store
	// Runner bounds the asynchronous workers.
	Runner runner.Config
	// ConsumedHistory is how many submitted transaction ids are remembered
	// to report AlreadyConsumed instead of NotFound.
	ConsumedHistory int
	Metrics         *metrics.Metrics
}

// Bridge is the explicit context object shared by every operation.
type Bridge struct {
	store    registry.Store
	factory  ledger.ClientFactory
	runner   *runner.Runner
	subs     *subscription.Manager
	consumed *lru.Cache[string, struct{}]
	metrics  *metrics.Metrics
	logger   *slog.Logger
	ops      map[string]operation
}

// New builds a Bridge from opts.
func New(opts Options) (*Bridge, error) {
	if opts.Factory == nil {
		return nil, fmt.Errorf("bridge: client factory is required")
	}
	if opts.Emitter == nil {
		return nil, fmt.Errorf("bridge: emitter is required")
	}
	if opts.Store == nil {
		opts.Store = registry.New()
	}
	if opts.ConsumedHistory <= 0 {
		opts.ConsumedHistory = defaultConsumedHistory
	}
	consumed, err := lru.New[string, struct{}](opts.ConsumedHistory)
	if err != nil {
		return nil, fmt.Errorf("bridge: consumed history: %w", err)
	}

	b := &Bridge{
		store:    opts.Store,
		factory:  opts.Factory,
		runner:   runner.New(opts.Emitter, opts.Runner, opts.Metrics),
		subs:     subscription.New(opts.Store, opts.Emitter, opts.Metrics),
		consumed: consumed,
		metrics:  opts.Metrics,
		logger:   slog.Default().With("component", "bridge"),
	}
	b.ops = b.operations()
	return b, nil
}

// Wait blocks until every dispatched asynchronous operation has reported.
func (b *Bridge) Wait() { b.runner.Wait() }

// Close waits for in-flight operations and releases every listener.
func (b *Bridge) Close() error {
	if err := b.runner.Close(); err != nil {
		return fmt.Errorf("close runner: %w", err)
	}
	if err := b.subs.Close(); err != nil {
		return fmt.Errorf("close subscriptions: %w", err)
	}
	b.logger.Info("bridge closed")
	return nil
}

func (b *Bridge) client(handle string) (ledger.Client, error) {
	c, ok := registry.Lookup[ledger.Client](b.store, registry.Clients, handle)
	if !ok {
		return nil, fmt.Errorf("%w: client %q", payload.ErrNotFound, handle)
	}
	return c, nil
}

func (b *Bridge) account(handle string) (ledger.Account, error) {
	a, ok := registry.Lookup[ledger.Account](b.store, registry.Accounts, handle)
	if !ok {
		return nil, fmt.Errorf("%w: account %q", payload.ErrNotFound, handle)
	}
	return a, nil
}

// --- clients ---

// CreateClient builds an SDK client and registers it under clientID,
// replacing any client already there.
func (b *Bridge) CreateClient(clientID string, env models.Environment, appID, storeKey string) error {
	if !env.Valid() {
		return fmt.Errorf("%w: environment %d", payload.ErrInvalidArgument, int(env))
	}
	if appID == "" {
		return fmt.Errorf("%w: empty app id", payload.ErrInvalidArgument)
	}
	c, err := b.factory(env, appID, storeKey)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	b.store.Put(registry.Clients, clientID, c)
	b.logger.Info("client created", "client", clientID, "environment", env.String(), "app_id", appID)
	return nil
}

// FreeCachedClient forgets clientID. Absent handles are ignored.
func (b *Bridge) FreeCachedClient(clientID string) {
	b.store.Remove(registry.Clients, clientID)
}

// ImportAccount restores an exported account into the client's store and
// registers it under accountID. Importing a backup whose account is already
// registered under another handle leaves accountID unbound, as GetAccount
// does.
func (b *Bridge) ImportAccount(clientID, accountID, exportedJSON, passphrase string) error {
	c, err := b.client(clientID)
	if err != nil {
		return err
	}
	a, err := c.ImportAccount(exportedJSON, passphrase)
	if err != nil {
		return fmt.Errorf("import account: %w", err)
	}
	if !b.store.PutIfValueAbsent(registry.Accounts, accountID, a) {
		b.logger.Warn("imported account already registered", "client", clientID, "account", accountID)
	}
	return nil
}

// GetAccountCount returns the number of accounts in the client's store.
func (b *Bridge) GetAccountCount(clientID string) (int, error) {
	c, err := b.client(clientID)
	if err != nil {
		return 0, err
	}
	return c.AccountCount(), nil
}

// AddAccount creates a new account in the client's store and registers it.
func (b *Bridge) AddAccount(clientID, accountID string) error {
	c, err := b.client(clientID)
	if err != nil {
		return err
	}
	a, err := c.AddAccount()
	if err != nil {
		return fmt.Errorf("add account: %w", err)
	}
	b.store.Put(registry.Accounts, accountID, a)
	b.logger.Info("account added", "client", clientID, "account", accountID)
	return nil
}

// GetAccount reports whether the client has an account at index. An account
// that is already registered under some handle is not registered again, so
// accountID stays unbound in that case.
func (b *Bridge) GetAccount(clientID, accountID string, index int) (bool, error) {
	c, err := b.client(clientID)
	if err != nil {
		return false, err
	}
	a := c.GetAccount(index)
	if a == nil {
		return false, nil
	}
	if !b.store.PutIfValueAbsent(registry.Accounts, accountID, a) {
		b.logger.Debug("account already registered", "client", clientID, "index", index)
	}
	return true, nil
}

// DeleteAccount removes the account at index from the client's store. The
// index is checked before the SDK is called.
func (b *Bridge) DeleteAccount(clientID string, index int) error {
	c, err := b.client(clientID)
	if err != nil {
		return err
	}
	if c.GetAccount(index) == nil {
		return fmt.Errorf("%w: attempted to delete account that doesn't exist at index %d", payload.ErrInvalidArgument, index)
	}
	if err := c.DeleteAccount(index); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

// ClearAllAccounts deletes every account from the client's store. Handles
// already registered stay valid but refer to deleted accounts.
func (b *Bridge) ClearAllAccounts(clientID string) error {
	c, err := b.client(clientID)
	if err != nil {
		return err
	}
	if err := c.ClearAllAccounts(); err != nil {
		return fmt.Errorf("clear accounts: %w", err)
	}
	return nil
}

// --- accounts ---

// FreeCachedAccount forgets accountID. Live listeners on it stay registered
// until removed.
func (b *Bridge) FreeCachedAccount(accountID string) {
	b.store.Remove(registry.Accounts, accountID)
}

// GetPublicAddress returns the address of the account behind accountID.
func (b *Bridge) GetPublicAddress(accountID string) (string, error) {
	a, err := b.account(accountID)
	if err != nil {
		return "", err
	}
	return a.PublicAddress(), nil
}

// Export returns the account's encrypted backup JSON.
func (b *Bridge) Export(accountID, passphrase string) (string, error) {
	a, err := b.account(accountID)
	if err != nil {
		return "", err
	}
	if passphrase == "" {
		return "", fmt.Errorf("%w: empty passphrase", payload.ErrInvalidArgument)
	}
	out, err := a.Export(passphrase)
	if err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	return out, nil
}

// AddListener activates push events of kind for accountID.
func (b *Bridge) AddListener(kind subscription.Kind, accountID string) error {
	return b.subs.Add(kind, accountID)
}

// RemoveListener deactivates push events of kind for accountID.
func (b *Bridge) RemoveListener(kind subscription.Kind, accountID string) {
	b.subs.Remove(kind, accountID)
}

// --- asynchronous operations ---

// GetStatus reports the account status under GetStatusSucceeded/Failed.
func (b *Bridge) GetStatus(accountID string) {
	t := runner.Task{Operation: "GetStatus", Handle: accountID}
	a, err := b.account(accountID)
	if err != nil {
		b.runner.Reject(t, err)
		return
	}
	t.Work = func(ctx context.Context) (payload.Body, error) {
		st, err := a.Status(ctx)
		if err != nil {
			return nil, err
		}
		return payload.EncodeSuccess(strconv.Itoa(int(st)), accountID), nil
	}
	b.runner.Go(t)
}

// GetBalance reports the balance as a decimal string.
func (b *Bridge) GetBalance(accountID string) {
	t := runner.Task{Operation: "GetBalance", Handle: accountID}
	a, err := b.account(accountID)
	if err != nil {
		b.runner.Reject(t, err)
		return
	}
	t.Work = func(ctx context.Context) (payload.Body, error) {
		bal, err := a.Balance(ctx)
		if err != nil {
			return nil, err
		}
		return payload.EncodeSuccess(bal.String(), accountID), nil
	}
	b.runner.Go(t)
}

// GetMinimumFee reports the network fee in quarks, tagged with clientID.
func (b *Bridge) GetMinimumFee(clientID string) {
	t := runner.Task{Operation: "GetMinimumFee", Handle: clientID}
	c, err := b.client(clientID)
	if err != nil {
		b.runner.Reject(t, err)
		return
	}
	t.Work = func(ctx context.Context) (payload.Body, error) {
		fee, err := c.MinimumFee(ctx)
		if err != nil {
			return nil, err
		}
		return payload.EncodeSuccess(strconv.FormatInt(fee, 10), clientID), nil
	}
	b.runner.Go(t)
}

// BuildTransaction builds and signs a payment and stores it as pending under
// its transaction id, which the success payload carries.
func (b *Bridge) BuildTransaction(accountID, toAddress, kinAmount string, fee int64, memo string) {
	t := runner.Task{Operation: "BuildTransaction", Handle: accountID}
	a, err := b.account(accountID)
	if err != nil {
		b.runner.Reject(t, err)
		return
	}
	if toAddress == "" {
		b.runner.Reject(t, fmt.Errorf("%w: empty destination address", payload.ErrInvalidArgument))
		return
	}
	amount, err := models.ParseAmount(kinAmount)
	if err != nil {
		b.runner.Reject(t, fmt.Errorf("%w: %v", payload.ErrInvalidArgument, err))
		return
	}
	if fee < 0 {
		b.runner.Reject(t, fmt.Errorf("%w: negative fee %d", payload.ErrInvalidArgument, fee))
		return
	}

	t.Work = func(ctx context.Context) (payload.Body, error) {
		tx, err := a.BuildTransaction(ctx, toAddress, amount, fee, memo)
		if err != nil {
			return nil, err
		}
		b.store.Put(registry.Transactions, tx.ID, tx)
		return payload.EncodeTransaction(tx.ID, tx.Envelope, tx.NetworkPassphrase, accountID), nil
	}
	b.runner.Go(t)
}

// SendTransaction consumes the pending transaction txID and submits it.
func (b *Bridge) SendTransaction(accountID, txID string) {
	t := runner.Task{Operation: "SendTransaction", Handle: accountID}
	a, tx, err := b.takePending(accountID, txID)
	if err != nil {
		b.runner.Reject(t, err)
		return
	}
	t.Work = func(ctx context.Context) (payload.Body, error) {
		hash, err := a.SendTransaction(ctx, tx)
		if err != nil {
			return nil, err
		}
		return payload.EncodeSuccess(hash, accountID), nil
	}
	b.runner.Go(t)
}

// SendWhitelistTransaction consumes txID and submits the countersigned
// whitelist payload in its place. It reports under the SendTransaction tags.
func (b *Bridge) SendWhitelistTransaction(accountID, txID, whitelist string) {
	t := runner.Task{
		Operation:     "SendWhitelistTransaction",
		Handle:        accountID,
		SuccessMethod: payload.Succeeded("SendTransaction"),
		FailureMethod: payload.Failed("SendTransaction"),
	}
	if whitelist == "" {
		b.runner.Reject(t, fmt.Errorf("%w: empty whitelist payload", payload.ErrInvalidArgument))
		return
	}
	a, _, err := b.takePending(accountID, txID)
	if err != nil {
		b.runner.Reject(t, err)
		return
	}
	t.Work = func(ctx context.Context) (payload.Body, error) {
		hash, err := a.SendWhitelistTransaction(ctx, whitelist)
		if err != nil {
			return nil, err
		}
		return payload.EncodeSuccess(hash, accountID), nil
	}
	b.runner.Go(t)
}

// takePending resolves the account and removes txID from the pending set.
// The removal happens before submission so that a transaction handle is
// consumed exactly once even under concurrent sends.
func (b *Bridge) takePending(accountID, txID string) (ledger.Account, *ledger.Transaction, error) {
	a, err := b.account(accountID)
	if err != nil {
		return nil, nil, err
	}
	obj, ok := b.store.Take(registry.Transactions, txID)
	if !ok {
		if b.consumed.Contains(txID) {
			return nil, nil, fmt.Errorf("%w: transaction %q", payload.ErrAlreadyConsumed, txID)
		}
		return nil, nil, fmt.Errorf("%w: transaction %q", payload.ErrNotFound, txID)
	}
	tx, ok := obj.(*ledger.Transaction)
	if !ok {
		return nil, nil, fmt.Errorf("%w: transaction %q", payload.ErrNotFound, txID)
	}
	b.consumed.Add(txID, struct{}{})
	return a, tx, nil
}
