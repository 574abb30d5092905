package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/olehkaliuzhnyi/ledger-bridge/internal/payload"
	"github.com/olehkaliuzhnyi/ledger-bridge/internal/subscription"
	"github.com/olehkaliuzhnyi/ledger-bridge/pkg/models"
)

// args is the union of every operation's arguments as the caller encodes
// them. Each operation reads only the fields it needs.
type args struct {
	ClientID     string `json:"clientId"`
	AccountID    string `json:"accountId"`
	Environment  int    `json:"environment"`
	AppID        string `json:"appId"`
	StoreKey     string `json:"storeKey"`
	ExportedJSON string `json:"exportedJson"`
	Passphrase   string `json:"passphrase"`
	Index        int    `json:"index"`
	ToAddress    string `json:"toAddress"`
	KinAmount    string `json:"kinAmount"`
	Fee          int64  `json:"fee"`
	Memo         string `json:"memo"`
	ID           string `json:"id"`
	Whitelist    string `json:"whitelist"`
}

// operation runs one dispatch entry. It returns the inline success value and
// the handle the reply is tagged with.
type operation func(a args) (value, handle string, err error)

// Invocation results recorded in metrics.
const (
	resultOK    = "ok"
	resultError = "error"
)

func (b *Bridge) operations() map[string]operation {
	// async wraps an asynchronous operation: the inline reply is an empty
	// acknowledgement and the outcome arrives through the emitter.
	async := func(handle func(args) string, start func(args)) operation {
		return func(a args) (string, string, error) {
			start(a)
			return "", handle(a), nil
		}
	}
	client := func(a args) string { return a.ClientID }
	account := func(a args) string { return a.AccountID }

	listener := func(kind subscription.Kind, add bool) operation {
		return func(a args) (string, string, error) {
			if !add {
				b.RemoveListener(kind, a.AccountID)
				return "", a.AccountID, nil
			}
			return "", a.AccountID, b.AddListener(kind, a.AccountID)
		}
	}

	return map[string]operation{
		"CreateClient": func(a args) (string, string, error) {
			return "", a.ClientID, b.CreateClient(a.ClientID, models.Environment(a.Environment), a.AppID, a.StoreKey)
		},
		"FreeCachedClient": func(a args) (string, string, error) {
			b.FreeCachedClient(a.ClientID)
			return "", a.ClientID, nil
		},
		"ImportAccount": func(a args) (string, string, error) {
			return "", a.AccountID, b.ImportAccount(a.ClientID, a.AccountID, a.ExportedJSON, a.Passphrase)
		},
		"GetAccountCount": func(a args) (string, string, error) {
			n, err := b.GetAccountCount(a.ClientID)
			return strconv.Itoa(n), a.ClientID, err
		},
		"AddAccount": func(a args) (string, string, error) {
			return "", a.AccountID, b.AddAccount(a.ClientID, a.AccountID)
		},
		"GetAccount": func(a args) (string, string, error) {
			ok, err := b.GetAccount(a.ClientID, a.AccountID, a.Index)
			return strconv.FormatBool(ok), a.AccountID, err
		},
		"DeleteAccount": func(a args) (string, string, error) {
			return "", a.ClientID, b.DeleteAccount(a.ClientID, a.Index)
		},
		"ClearAllAccounts": func(a args) (string, string, error) {
			return "", a.ClientID, b.ClearAllAccounts(a.ClientID)
		},
		"FreeCachedAccount": func(a args) (string, string, error) {
			b.FreeCachedAccount(a.AccountID)
			return "", a.AccountID, nil
		},
		"GetPublicAddress": func(a args) (string, string, error) {
			addr, err := b.GetPublicAddress(a.AccountID)
			return addr, a.AccountID, err
		},
		"Export": func(a args) (string, string, error) {
			out, err := b.Export(a.AccountID, a.Passphrase)
			return out, a.AccountID, err
		},

		"AddPaymentListener":            listener(subscription.KindPayment, true),
		"RemovePaymentListener":         listener(subscription.KindPayment, false),
		"AddBalanceListener":            listener(subscription.KindBalance, true),
		"RemoveBalanceListener":         listener(subscription.KindBalance, false),
		"AddAccountCreationListener":    listener(subscription.KindAccountCreation, true),
		"RemoveAccountCreationListener": listener(subscription.KindAccountCreation, false),

		"GetStatus":     async(account, func(a args) { b.GetStatus(a.AccountID) }),
		"GetBalance":    async(account, func(a args) { b.GetBalance(a.AccountID) }),
		"GetMinimumFee": async(client, func(a args) { b.GetMinimumFee(a.ClientID) }),
		"BuildTransaction": async(account, func(a args) {
			b.BuildTransaction(a.AccountID, a.ToAddress, a.KinAmount, a.Fee, a.Memo)
		}),
		"SendTransaction": async(account, func(a args) { b.SendTransaction(a.AccountID, a.ID) }),
		"SendWhitelistTransaction": async(account, func(a args) {
			b.SendWhitelistTransaction(a.AccountID, a.ID, a.Whitelist)
		}),
	}
}

// Operations lists the dispatch table keys in sorted order.
func (b *Bridge) Operations() []string {
	names := make([]string, 0, len(b.ops))
	for name := range b.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the named operation with JSON-encoded arguments and returns the
// inline reply: a success payload, or a failure payload tagged with the
// operation's handle. Unknown operations and undecodable arguments fail with
// InvalidArgument and no handle. Invoke never panics.
func (b *Bridge) Invoke(_ context.Context, method string, raw []byte) (reply string) {
	defer func() {
		if p := recover(); p != nil {
			b.logger.Error("operation panicked", "operation", method, "panic", p)
			b.metrics.Invoked(method, resultError)
			reply = b.reply(payload.EncodeFailure(fmt.Errorf("%s panicked: %v", method, p), ""))
		}
	}()

	op, ok := b.ops[method]
	if !ok {
		b.logger.Warn("unknown operation", "operation", method)
		b.metrics.Invoked("unknown", resultError)
		return b.reply(payload.EncodeFailure(fmt.Errorf("%w: unknown operation %q", payload.ErrInvalidArgument, method), ""))
	}

	var a args
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &a); err != nil {
			b.metrics.Invoked(method, resultError)
			return b.reply(payload.EncodeFailure(fmt.Errorf("%w: decode arguments: %v", payload.ErrInvalidArgument, err), ""))
		}
	}

	value, handle, err := op(a)
	if err != nil {
		b.logger.Warn("operation failed", "operation", method, "handle", handle, "error", err)
		b.metrics.Invoked(method, resultError)
		return b.reply(payload.EncodeFailure(err, handle))
	}
	b.metrics.Invoked(method, resultOK)
	return b.reply(payload.EncodeSuccess(value, handle))
}

func (b *Bridge) reply(body payload.Body) string {
	s, err := payload.Marshal(body)
	if err != nil {
		b.logger.Error("marshal reply failed", "error", err)
		return ""
	}
	return s
}
