package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/olehkaliuzhnyi/ledger-bridge/pkg/models"
)

type keyStore struct {
	mu       sync.Mutex
	accounts []*memoryAccount
}

type memoryClient struct {
	net   *MemoryNetwork
	env   models.Environment
	appID string
	store *keyStore
}

func (c *memoryClient) AddAccount() (Account, error) {
	key, err := newKey()
	if err != nil {
		return nil, fmt.Errorf("add account: %w", err)
	}
	acct := c.newAccount(key)

	c.store.mu.Lock()
	c.store.accounts = append(c.store.accounts, acct)
	c.store.mu.Unlock()
	return acct, nil
}

func (c *memoryClient) ImportAccount(exportedJSON, passphrase string) (Account, error) {
	key, err := importKey(exportedJSON, passphrase)
	if err != nil {
		return nil, fmt.Errorf("import account: %w", err)
	}
	address := addressOf(key.PubKey())

	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	for _, a := range c.store.accounts {
		if a.address == address {
			return a, nil
		}
	}
	acct := c.newAccount(key)
	c.store.accounts = append(c.store.accounts, acct)
	return acct, nil
}

func (c *memoryClient) GetAccount(index int) Account {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if index < 0 || index >= len(c.store.accounts) {
		return nil
	}
	return c.store.accounts[index]
}

func (c *memoryClient) AccountCount() int {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return len(c.store.accounts)
}

func (c *memoryClient) DeleteAccount(index int) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if index < 0 || index >= len(c.store.accounts) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	c.store.accounts[index].markDeleted()
	c.store.accounts = append(c.store.accounts[:index], c.store.accounts[index+1:]...)
	return nil
}

func (c *memoryClient) ClearAllAccounts() error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	for _, a := range c.store.accounts {
		a.markDeleted()
	}
	c.store.accounts = nil
	return nil
}

func (c *memoryClient) MinimumFee(ctx context.Context) (int64, error) {
	return c.net.minimumFee(ctx)
}

func (c *memoryClient) newAccount(key *btcec.PrivateKey) *memoryAccount {
	return &memoryAccount{
		net:     c.net,
		appID:   c.appID,
		key:     key,
		address: addressOf(key.PubKey()),
	}
}

type memoryAccount struct {
	net     *MemoryNetwork
	appID   string
	key     *btcec.PrivateKey
	address string

	mu      sync.RWMutex
	deleted bool
}

func (a *memoryAccount) markDeleted() {
	a.mu.Lock()
	a.deleted = true
	a.mu.Unlock()
}

func (a *memoryAccount) usable() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.deleted {
		return fmt.Errorf("%w: %s", ErrAccountDeleted, a.address)
	}
	return nil
}

// PublicAddress returns "" once the account has been deleted.
func (a *memoryAccount) PublicAddress() string {
	if a.usable() != nil {
		return ""
	}
	return a.address
}

func (a *memoryAccount) Export(passphrase string) (string, error) {
	if err := a.usable(); err != nil {
		return "", err
	}
	return exportKey(a.key, passphrase)
}

func (a *memoryAccount) Status(ctx context.Context) (models.AccountStatus, error) {
	if err := a.usable(); err != nil {
		return 0, err
	}
	return a.net.status(ctx, a.address)
}

func (a *memoryAccount) Balance(ctx context.Context) (models.Amount, error) {
	if err := a.usable(); err != nil {
		return models.Amount{}, err
	}
	return a.net.balance(ctx, a.address)
}

func (a *memoryAccount) BuildTransaction(ctx context.Context, to string, amount models.Amount, fee int64, memo string) (*Transaction, error) {
	if err := a.usable(); err != nil {
		return nil, err
	}
	if !validAddress(to) {
		return nil, fmt.Errorf("%w: destination %q", ErrInvalidAddress, to)
	}
	if amount.IsZero() {
		return nil, fmt.Errorf("amount must be positive")
	}
	if fee < 0 {
		return nil, fmt.Errorf("negative fee %d", fee)
	}
	full, err := fullMemo(a.appID, memo)
	if err != nil {
		return nil, err
	}
	seq, err := a.net.sequence(ctx, a.address)
	if err != nil {
		return nil, fmt.Errorf("fetch sequence: %w", err)
	}

	env := &envelope{
		Source:      a.address,
		Destination: to,
		Amount:      amount.String(),
		Fee:         fee,
		Memo:        full,
		Sequence:    seq + 1,
		Passphrase:  a.net.passphrase,
	}
	env.sign(a.key)
	return env.toTransaction()
}

func (a *memoryAccount) SendTransaction(ctx context.Context, tx *Transaction) (string, error) {
	if err := a.usable(); err != nil {
		return "", err
	}
	if tx == nil {
		return "", fmt.Errorf("nil transaction")
	}
	env, err := a.ownEnvelope(tx.Envelope)
	if err != nil {
		return "", err
	}
	return a.net.submit(ctx, env, false)
}

func (a *memoryAccount) SendWhitelistTransaction(ctx context.Context, whitelist string) (string, error) {
	if err := a.usable(); err != nil {
		return "", err
	}
	env, err := a.ownEnvelope(whitelist)
	if err != nil {
		return "", err
	}
	return a.net.submit(ctx, env, true)
}

func (a *memoryAccount) ownEnvelope(payload string) (*envelope, error) {
	env, err := decodeEnvelope(payload)
	if err != nil {
		return nil, err
	}
	if env.Source != a.address {
		return nil, fmt.Errorf("transaction source %s is not account %s", env.Source, a.address)
	}
	return env, nil
}

func (a *memoryAccount) AddPaymentListener(f func(models.PaymentInfo)) Registration {
	return a.net.addPaymentListener(a.address, f)
}

func (a *memoryAccount) AddBalanceListener(f func(models.Amount)) Registration {
	return a.net.addBalanceListener(a.address, f)
}

func (a *memoryAccount) AddAccountCreationListener(f func()) Registration {
	return a.net.addCreationListener(a.address, f)
}
