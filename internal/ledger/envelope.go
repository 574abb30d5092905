package ledger

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/olehkaliuzhnyi/ledger-bridge/pkg/models"
)

// Memos are stored as "1-<appId>-<memo>" and the whole string is bounded.
const maxMemoBytes = 28

// envelope is the signed wire form of a payment.
type envelope struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
	Fee         int64  `json:"fee"`
	Memo        string `json:"memo"`
	Sequence    uint64 `json:"sequence"`
	Passphrase  string `json:"passphrase"`
	PublicKey   string `json:"public_key"`
	Signature   string `json:"signature,omitempty"`
	Whitelist   string `json:"whitelist,omitempty"`
}

func fullMemo(appID, memo string) (string, error) {
	full := "1-" + appID + "-" + memo
	if len(full) > maxMemoBytes {
		return "", fmt.Errorf("%w: %d bytes, max %d", ErrMemoTooLong, len(full), maxMemoBytes)
	}
	return full, nil
}

// hash covers every field except the signatures.
func (e *envelope) hash() []byte {
	return keccak256([]byte(strings.Join([]string{
		e.Passphrase,
		e.Source,
		e.Destination,
		e.Amount,
		strconv.FormatInt(e.Fee, 10),
		e.Memo,
		strconv.FormatUint(e.Sequence, 10),
		e.PublicKey,
	}, "\x00")))
}

func (e *envelope) id() string {
	return hex.EncodeToString(e.hash())
}

func (e *envelope) sign(key *btcec.PrivateKey) {
	e.PublicKey = hex.EncodeToString(key.PubKey().SerializeCompressed())
	e.Signature = sign(key, e.hash())
}

func (e *envelope) amount() (models.Amount, error) {
	return models.ParseAmount(e.Amount)
}

func (e *envelope) encode() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func decodeEnvelope(s string) (*envelope, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &e, nil
}

// toTransaction exposes a signed envelope through the SDK Transaction type.
func (e *envelope) toTransaction() (*Transaction, error) {
	amount, err := e.amount()
	if err != nil {
		return nil, err
	}
	encoded, err := e.encode()
	if err != nil {
		return nil, err
	}
	return &Transaction{
		ID:                e.id(),
		Source:            e.Source,
		Destination:       e.Destination,
		Amount:            amount,
		Fee:               e.Fee,
		Memo:              e.Memo,
		Envelope:          encoded,
		NetworkPassphrase: e.Passphrase,
	}, nil
}
