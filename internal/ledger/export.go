package ledger

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// scrypt cost parameters for export encryption.
const (
	scryptN   = 1 << 14
	scryptR   = 8
	scryptP   = 1
	saltBytes = 16
)

type exportedAccount struct {
	PublicKey string `json:"pkey"`
	Seed      string `json:"seed"`
	Salt      string `json:"salt"`
}

// exportKey seals key under passphrase. Seed is hex(nonce || ciphertext);
// the address is bound as associated data.
func exportKey(key *btcec.PrivateKey, passphrase string) (string, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	aead, err := exportCipher(passphrase, salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}

	address := addressOf(key.PubKey())
	sealed := aead.Seal(nonce, nonce, key.Serialize(), []byte(address))

	data, err := json.Marshal(exportedAccount{
		PublicKey: address,
		Seed:      hex.EncodeToString(sealed),
		Salt:      hex.EncodeToString(salt),
	})
	if err != nil {
		return "", fmt.Errorf("marshal export: %w", err)
	}
	return string(data), nil
}

// importKey reverses exportKey.
func importKey(exported, passphrase string) (*btcec.PrivateKey, error) {
	var acc exportedAccount
	if err := json.Unmarshal([]byte(exported), &acc); err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}
	if !validAddress(acc.PublicKey) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, acc.PublicKey)
	}
	salt, err := hex.DecodeString(acc.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	sealed, err := hex.DecodeString(acc.Seed)
	if err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	aead, err := exportCipher(passphrase, salt)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("decode seed: too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	raw, err := aead.Open(nil, nonce, ciphertext, []byte(acc.PublicKey))
	if err != nil {
		return nil, ErrWrongPassphrase
	}

	key, _ := btcec.PrivKeyFromBytes(raw)
	if addressOf(key.PubKey()) != acc.PublicKey {
		return nil, fmt.Errorf("%w: key does not match %s", ErrInvalidAddress, acc.PublicKey)
	}
	return key, nil
}

func exportCipher(passphrase string, salt []byte) (cipher.AEAD, error) {
	k, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive export key: %w", err)
	}
	aead, err := chacha20poly1305.New(k)
	if err != nil {
		return nil, fmt.Errorf("export cipher: %w", err)
	}
	return aead, nil
}
