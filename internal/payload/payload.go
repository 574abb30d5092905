// Package payload turns bridge outcomes into the JSON records delivered to the
// caller. Field names are part of the wire contract; every record carries the
// handle the caller uses to route it back to a local object.
package payload

import (
	"encoding/json"

	"github.com/olehkaliuzhnyi/ledger-bridge/pkg/models"
)

// Push event method names.
const (
	MethodOnPayment        = "OnPayment"
	MethodOnBalance        = "OnBalance"
	MethodOnAccountCreated = "OnAccountCreated"
)

// Succeeded returns the success method name for verb, e.g. GetBalanceSucceeded.
func Succeeded(verb string) string { return verb + "Succeeded" }

// Failed returns the failure method name for verb, e.g. GetBalanceFailed.
func Failed(verb string) string { return verb + "Failed" }

// Body is an encoded record ready to be marshaled for the transport.
type Body interface {
	isBody()
}

// Success carries a stringified result value.
type Success struct {
	Value     string `json:"Value"`
	AccountID string `json:"AccountId"`
}

// Failure describes an error without exposing a stack trace.
type Failure struct {
	Message    string `json:"Message"`
	NativeType string `json:"NativeType"`
	AccountID  string `json:"AccountId,omitempty"`
}

// Payment is the OnPayment push event.
type Payment struct {
	Amount               string `json:"_Amount"`
	CreatedAt            string `json:"CreatedAt"`
	DestinationPublicKey string `json:"DestinationPublicKey"`
	SourcePublicKey      string `json:"SourcePublicKey"`
	Hash                 string `json:"Hash"`
	Memo                 string `json:"Memo"`
	AccountID            string `json:"AccountId"`
}

// Transaction reports a built, not yet submitted, transaction.
type Transaction struct {
	AccountID                                 string `json:"AccountId"`
	ID                                        string `json:"Id"`
	WhitelistableTransactionPayLoad           string `json:"WhitelistableTransactionPayLoad"`
	WhitelistableTransactionNetworkPassphrase string `json:"WhitelistableTransactionNetworkPassphrase"`
}

func (Success) isBody()     {}
func (Failure) isBody()     {}
func (Payment) isBody()     {}
func (Transaction) isBody() {}

// Event is an unsolicited notification tagged with its method name.
type Event struct {
	Method string
	Body   Body
}

// EncodeSuccess wraps an already stringified value.
func EncodeSuccess(value, handle string) Success {
	return Success{Value: value, AccountID: handle}
}

// EncodeFailure classifies err. An empty handle is omitted from the record.
func EncodeFailure(err error, handle string) Failure {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Failure{
		Message:    msg,
		NativeType: string(KindOf(err)),
		AccountID:  handle,
	}
}

// EncodeTransaction describes a built transaction for the caller.
func EncodeTransaction(id, envelope, passphrase, handle string) Transaction {
	return Transaction{
		AccountID:                                 handle,
		ID:                                        id,
		WhitelistableTransactionPayLoad:           envelope,
		WhitelistableTransactionNetworkPassphrase: passphrase,
	}
}

// EncodePayment converts a ledger payment for the account behind handle.
func EncodePayment(info models.PaymentInfo, handle string) Event {
	return Event{
		Method: MethodOnPayment,
		Body: Payment{
			Amount:               info.Amount.String(),
			CreatedAt:            info.CreatedAt,
			DestinationPublicKey: info.DestinationPublicKey,
			SourcePublicKey:      info.SourcePublicKey,
			Hash:                 info.Hash,
			Memo:                 info.Memo,
			AccountID:            handle,
		},
	}
}

// EncodePushEvent tags a success-shaped value with an event method name.
func EncodePushEvent(method, value, handle string) Event {
	return Event{Method: method, Body: EncodeSuccess(value, handle)}
}

// Marshal renders b as the JSON string handed to the transport.
func Marshal(b Body) (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
