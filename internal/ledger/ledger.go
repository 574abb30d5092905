// Package ledger defines the account/ledger SDK surface the bridge consumes
// and provides MemoryNetwork, an in-process ledger implementing it.
package ledger

import (
	"context"
	"errors"

	"github.com/olehkaliuzhnyi/ledger-bridge/pkg/models"
)

// Errors returned by MemoryNetwork. Real SDK errors are opaque to the bridge.
var (
	ErrAccountNotCreated   = errors.New("account not created")
	ErrAccountDeleted      = errors.New("account deleted")
	ErrAccountExists       = errors.New("account already exists")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientFee     = errors.New("insufficient fee")
	ErrBadSequence         = errors.New("bad sequence")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrMemoTooLong         = errors.New("memo too long")
	ErrInvalidAppID        = errors.New("invalid app id")
	ErrIndexOutOfRange     = errors.New("account index out of range")
	ErrWrongPassphrase     = errors.New("wrong passphrase")
)

// Client owns the accounts of one key store on one environment.
type Client interface {
	// AddAccount creates and stores a new keypair.
	AddAccount() (Account, error)
	// ImportAccount restores an account from Account.Export output. An
	// account already in the store is returned as is.
	ImportAccount(exportedJSON, passphrase string) (Account, error)
	// GetAccount returns the account at index, or nil when out of range.
	// The same index yields the same Account value while it exists.
	GetAccount(index int) Account
	AccountCount() int
	DeleteAccount(index int) error
	ClearAllAccounts() error
	// MinimumFee queries the network fee in quarks.
	MinimumFee(ctx context.Context) (int64, error)
}

// Account is a keypair bound to a client. Methods taking a context may
// perform network I/O.
type Account interface {
	PublicAddress() string
	Export(passphrase string) (string, error)
	Status(ctx context.Context) (models.AccountStatus, error)
	Balance(ctx context.Context) (models.Amount, error)
	BuildTransaction(ctx context.Context, to string, amount models.Amount, fee int64, memo string) (*Transaction, error)
	// SendTransaction submits tx and returns the network transaction id.
	SendTransaction(ctx context.Context, tx *Transaction) (string, error)
	// SendWhitelistTransaction submits an envelope countersigned by the
	// app's whitelisting service.
	SendWhitelistTransaction(ctx context.Context, whitelist string) (string, error)

	AddPaymentListener(func(models.PaymentInfo)) Registration
	AddBalanceListener(func(models.Amount)) Registration
	AddAccountCreationListener(func()) Registration
}

// Registration is a live listener; Remove detaches it. Remove is idempotent.
type Registration interface {
	Remove()
}

// Transaction is a built, signed, not yet submitted payment.
type Transaction struct {
	ID          string
	Source      string
	Destination string
	Amount      models.Amount
	Fee         int64
	Memo        string
	// Envelope is the base64 payload a whitelisting service countersigns.
	Envelope          string
	NetworkPassphrase string
}

// ClientFactory constructs a Client. It stands in for the SDK constructor.
type ClientFactory func(env models.Environment, appID, storeKey string) (Client, error)
