package models

import (
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
)

// Environment selects which ledger network a client talks to.
type Environment int

// Supported ledger environments. The numeric values are part of the
// caller-facing contract.
const (
	EnvironmentTest       Environment = 0
	EnvironmentProduction Environment = 1
)

func (e Environment) String() string {
	switch e {
	case EnvironmentTest:
		return "test"
	case EnvironmentProduction:
		return "production"
	default:
		return fmt.Sprintf("environment(%d)", int(e))
	}
}

// Valid reports whether e is a known environment.
func (e Environment) Valid() bool {
	return e == EnvironmentTest || e == EnvironmentProduction
}

// AccountStatus is the on-ledger state of an account.
type AccountStatus int

// Account states as reported to callers.
const (
	AccountStatusNotCreated AccountStatus = 0
	AccountStatusCreated    AccountStatus = 2
)

// AmountDecimals is the number of fractional digits a ledger amount carries.
const AmountDecimals = 5

var quarksPerUnit = big.NewInt(100_000)

// Amount is a non-negative ledger amount stored in quarks (10^-5 units).
type Amount struct {
	quarks *big.Int
}

// NewAmount returns an Amount of the given number of quarks.
func NewAmount(quarks int64) Amount {
	return Amount{quarks: big.NewInt(quarks)}
}

// amountPattern is the decimal grammar accepted for amounts: digits with an
// optional fraction and an optional base-10 exponent. Radix prefixes and
// "a/b" ratios do not match.
var amountPattern = regexp.MustCompile(`^\+?(\d*)(?:\.(\d*))?(?:[eE]([+-]?\d{1,4}))?$`)

// ParseAmount parses a decimal string such as "10.5" or "1.5e2" into an
// Amount. Values finer than AmountDecimals fractional digits and negative
// values are rejected.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return Amount{}, fmt.Errorf("negative amount %q", s)
	}
	m := amountPattern.FindStringSubmatch(s)
	if m == nil || m[1]+m[2] == "" {
		return Amount{}, fmt.Errorf("malformed amount %q", s)
	}
	digits, ok := new(big.Int).SetString(m[1]+m[2], 10)
	if !ok {
		return Amount{}, fmt.Errorf("malformed amount %q", s)
	}
	exp := 0
	if m[3] != "" {
		e, err := strconv.Atoi(m[3])
		if err != nil {
			return Amount{}, fmt.Errorf("malformed amount %q", s)
		}
		exp = e
	}
	// digits * 10^(exp - len(fraction)) units, scaled to quarks.
	shift := AmountDecimals + exp - len(m[2])
	if shift >= 0 {
		digits.Mul(digits, pow10(shift))
		return Amount{quarks: digits}, nil
	}
	q, r := new(big.Int).QuoRem(digits, pow10(-shift), new(big.Int))
	if r.Sign() != 0 {
		return Amount{}, fmt.Errorf("amount %q has more than %d decimal places", s, AmountDecimals)
	}
	return Amount{quarks: q}, nil
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Quarks returns the amount in the smallest ledger unit.
func (a Amount) Quarks() *big.Int {
	if a.quarks == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.quarks)
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool {
	return a.quarks == nil || a.quarks.Sign() == 0
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return Amount{quarks: new(big.Int).Add(a.Quarks(), b.Quarks())}
}

// Sub returns a - b. The caller must ensure a >= b.
func (a Amount) Sub(b Amount) Amount {
	return Amount{quarks: new(big.Int).Sub(a.Quarks(), b.Quarks())}
}

// Cmp compares a and b and returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	return a.Quarks().Cmp(b.Quarks())
}

// String renders the amount with exactly AmountDecimals fractional digits,
// e.g. "10.50000".
func (a Amount) String() string {
	q := a.Quarks()
	whole, frac := new(big.Int).QuoRem(q, quarksPerUnit, new(big.Int))
	return fmt.Sprintf("%s.%0*d", whole.String(), AmountDecimals, frac.Int64())
}

// PaymentInfo describes a payment observed on the ledger.
type PaymentInfo struct {
	Amount               Amount
	CreatedAt            string
	DestinationPublicKey string
	SourcePublicKey      string
	Hash                 string
	Memo                 string
}
