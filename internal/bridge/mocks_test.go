package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/olehkaliuzhnyi/ledger-bridge/internal/ledger"
	"github.com/olehkaliuzhnyi/ledger-bridge/pkg/models"
)

var errNetwork = errors.New("connection reset by peer")

// mockClient is a hand-written ledger.Client.
type mockClient struct {
	mu        sync.Mutex
	accounts  []ledger.Account
	addErr    error
	fee       int64
	feeErr    error
	deletes   int
	importAcc ledger.Account
}

func (c *mockClient) AddAccount() (ledger.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.addErr != nil {
		return nil, c.addErr
	}
	a := &mockAccount{address: fmt.Sprintf("GADDR%d", len(c.accounts))}
	c.accounts = append(c.accounts, a)
	return a, nil
}

func (c *mockClient) ImportAccount(exportedJSON, passphrase string) (ledger.Account, error) {
	if passphrase != "pw" {
		return nil, errors.New("wrong passphrase")
	}
	return c.importAcc, nil
}

func (c *mockClient) GetAccount(index int) ledger.Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.accounts) {
		return nil
	}
	return c.accounts[index]
}

func (c *mockClient) AccountCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.accounts)
}

func (c *mockClient) DeleteAccount(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	c.accounts = append(c.accounts[:index], c.accounts[index+1:]...)
	return nil
}

func (c *mockClient) ClearAllAccounts() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts = nil
	return nil
}

func (c *mockClient) MinimumFee(context.Context) (int64, error) {
	return c.fee, c.feeErr
}

// mockAccount is a hand-written ledger.Account.
type mockAccount struct {
	address    string
	status     models.AccountStatus
	balance    models.Amount
	balanceErr error
	buildID    string
	sendHash   string
	sendErr    error

	mu        sync.Mutex
	sent      []*ledger.Transaction
	whitelist []string
	live      int32
}

func (a *mockAccount) PublicAddress() string { return a.address }

func (a *mockAccount) Export(passphrase string) (string, error) {
	return `{"pkey":"` + a.address + `"}`, nil
}

func (a *mockAccount) Status(context.Context) (models.AccountStatus, error) {
	return a.status, nil
}

func (a *mockAccount) Balance(context.Context) (models.Amount, error) {
	return a.balance, a.balanceErr
}

func (a *mockAccount) BuildTransaction(_ context.Context, to string, amount models.Amount, fee int64, memo string) (*ledger.Transaction, error) {
	return &ledger.Transaction{
		ID:                a.buildID,
		Source:            a.address,
		Destination:       to,
		Amount:            amount,
		Fee:               fee,
		Memo:              memo,
		Envelope:          "ZW52ZWxvcGU=",
		NetworkPassphrase: "Mock Network",
	}, nil
}

func (a *mockAccount) SendTransaction(_ context.Context, tx *ledger.Transaction) (string, error) {
	a.mu.Lock()
	a.sent = append(a.sent, tx)
	a.mu.Unlock()
	return a.sendHash, a.sendErr
}

func (a *mockAccount) SendWhitelistTransaction(_ context.Context, whitelist string) (string, error) {
	a.mu.Lock()
	a.whitelist = append(a.whitelist, whitelist)
	a.mu.Unlock()
	return a.sendHash, a.sendErr
}

type mockRegistration struct {
	once sync.Once
	acct *mockAccount
}

func (r *mockRegistration) Remove() {
	r.once.Do(func() { atomic.AddInt32(&r.acct.live, -1) })
}

func (a *mockAccount) register() ledger.Registration {
	atomic.AddInt32(&a.live, 1)
	return &mockRegistration{acct: a}
}

func (a *mockAccount) AddPaymentListener(func(models.PaymentInfo)) ledger.Registration {
	return a.register()
}

func (a *mockAccount) AddBalanceListener(func(models.Amount)) ledger.Registration {
	return a.register()
}

func (a *mockAccount) AddAccountCreationListener(func()) ledger.Registration {
	return a.register()
}

func (a *mockAccount) liveListeners() int { return int(atomic.LoadInt32(&a.live)) }
