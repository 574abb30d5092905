package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // Hash160 address format
	"golang.org/x/crypto/sha3"
)

// Derivation path: m/44'/2017'/0'/0/0, one fresh mnemonic per account.
const (
	coinType       = 2017
	addressVersion = 0x3f
)

// newKey generates a keypair from fresh BIP-39 entropy.
func newKey() (*btcec.PrivateKey, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return nil, fmt.Errorf("entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("mnemonic: %w", err)
	}
	raw, err := deriveKey(bip39.NewSeed(mnemonic, ""), coinType, 0)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return priv, nil
}

// deriveKey derives a child private key from a BIP-39 seed using BIP-32/BIP-44.
func deriveKey(seed []byte, coin uint32, index uint32) ([]byte, error) {
	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	path := []uint32{
		bip32.FirstHardenedChild + 44,
		bip32.FirstHardenedChild + coin,
		bip32.FirstHardenedChild + 0,
		0,
		index,
	}
	for _, child := range path {
		key, err = key.NewChildKey(child)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", child, err)
		}
	}
	return key.Key, nil
}

// addressOf returns Base58Check(version + Hash160(compressed pubkey)).
func addressOf(pub *btcec.PublicKey) string {
	return base58.CheckEncode(hash160(pub.SerializeCompressed()), addressVersion)
}

// validAddress reports whether s decodes as a ledger address.
func validAddress(s string) bool {
	payload, version, err := base58.CheckDecode(s)
	return err == nil && version == addressVersion && len(payload) == ripemd160.Size
}

func hash160(data []byte) []byte {
	sha := sha256.Sum256(data)
	ripe := ripemd160.New()
	ripe.Write(sha[:])
	return ripe.Sum(nil)
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

func sign(key *btcec.PrivateKey, hash []byte) string {
	return hex.EncodeToString(ecdsa.Sign(key, hash).Serialize())
}

func verify(pubHex, sigHex string, hash []byte) (*btcec.PublicKey, error) {
	pubBytes, err := hex.DecodeString(pubHex)
	if err != nil {
		return nil, fmt.Errorf("%w: public key encoding", ErrInvalidSignature)
	}
	pub, err := btcec.ParsePubKey(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, fmt.Errorf("%w: signature encoding", ErrInvalidSignature)
	}
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !sig.Verify(hash, pub) {
		return nil, ErrInvalidSignature
	}
	return pub, nil
}
