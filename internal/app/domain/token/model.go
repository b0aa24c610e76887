// Package token defines the fungible token ledger model. Amounts are stored
// as integer token units scaled by 10^18 from the decimal currency unit, so
// the ledger itself never rounds; presentation-layer conversion is exact
// multiplication and floor division.
package token

import (
	"math/big"
	"time"
)

// Factor converts between decimal currency units and ledger token units.
var Factor = big.NewInt(1_000_000_000_000_000_000)

// FromDecimal scales a decimal currency amount into token units.
func FromDecimal(amount int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(amount), Factor)
}

// ToDecimal scales token units down to whole decimal currency units.
func ToDecimal(units *big.Int) *big.Int {
	return new(big.Int).Quo(units, Factor)
}

// Ledger is the whole-entity snapshot of the token ledger.
type Ledger struct {
	Owner            string
	OwnershipClaimed bool
	Balances         map[string]*big.Int
	// Allowances maps balance owner -> spender -> approved amount.
	Allowances map[string]map[string]*big.Int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewLedger creates an empty ledger with the given minting authority.
func NewLedger(owner string) Ledger {
	now := time.Now().UTC()
	return Ledger{
		Owner:      owner,
		Balances:   make(map[string]*big.Int),
		Allowances: make(map[string]map[string]*big.Int),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// BalanceOf returns a copy of the address balance, zero when absent.
func (l Ledger) BalanceOf(address string) *big.Int {
	if b, ok := l.Balances[address]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// AllowanceOf returns a copy of the approved amount, zero when absent.
func (l Ledger) AllowanceOf(owner, spender string) *big.Int {
	if spenders, ok := l.Allowances[owner]; ok {
		if a, ok := spenders[spender]; ok {
			return new(big.Int).Set(a)
		}
	}
	return new(big.Int)
}

// TotalSupply is the sum of all balances.
func (l Ledger) TotalSupply() *big.Int {
	total := new(big.Int)
	for _, b := range l.Balances {
		total.Add(total, b)
	}
	return total
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (l Ledger) Clone() Ledger {
	balances := make(map[string]*big.Int, len(l.Balances))
	for addr, b := range l.Balances {
		balances[addr] = new(big.Int).Set(b)
	}
	allowances := make(map[string]map[string]*big.Int, len(l.Allowances))
	for owner, spenders := range l.Allowances {
		inner := make(map[string]*big.Int, len(spenders))
		for spender, a := range spenders {
			inner[spender] = new(big.Int).Set(a)
		}
		allowances[owner] = inner
	}
	l.Balances = balances
	l.Allowances = allowances
	return l
}
