package book

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AssetLedger is the external custody collaborator: a two-token ledger the
// book credits and debits. Implementations must not call back into the Book.
//
// The book orders every action as validate, Debit, internal bookkeeping,
// Credit. Debit is the only step allowed to fail on business grounds (the
// payer's balance is insufficient) and always runs before any internal state
// changes, so a failed debit aborts the action cleanly. Credits run after the
// bookkeeping has committed: by then the book has already debited at least
// the credited amounts, so a solvent implementation must accept every Credit.
// A Credit error is treated as a ledger fault, not a rollback signal — the
// book's internal state stays advanced and the error is surfaced to the
// caller.
type AssetLedger interface {
	Credit(side Side, to common.Address, amount *uint256.Int) error
	Debit(side Side, from common.Address, amount *uint256.Int) error
}

// Vault is an in-memory two-token ledger used by the node. It stands in for
// a token bridge: balances are minted through a devnet faucet and moved by
// the book on deposits, withdrawals, borrows, repayments, and fills.
type Vault struct {
	mu       sync.Mutex
	balances [2]map[common.Address]*uint256.Int
}

func NewVault() *Vault {
	return &Vault{
		balances: [2]map[common.Address]*uint256.Int{
			make(map[common.Address]*uint256.Int),
			make(map[common.Address]*uint256.Int),
		},
	}
}

// Mint adds freshly created balance (devnet faucet).
func (v *Vault) Mint(side Side, to common.Address, amount *uint256.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.add(side, to, amount)
}

func (v *Vault) add(side Side, to common.Address, amount *uint256.Int) {
	bal, ok := v.balances[side][to]
	if !ok {
		bal = new(uint256.Int)
		v.balances[side][to] = bal
	}
	bal.Add(bal, amount)
}

func (v *Vault) Credit(side Side, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.add(side, to, amount)
	return nil
}

func (v *Vault) Debit(side Side, from common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	bal, ok := v.balances[side][from]
	if !ok || bal.Lt(amount) {
		return fmt.Errorf("vault: insufficient %s balance for %s: have %s, need %s",
			side, from.Hex(), balString(bal), amount.Dec())
	}
	bal.Sub(bal, amount)
	return nil
}

// BalanceOf returns a copy of the account's balance on the given side.
func (v *Vault) BalanceOf(side Side, addr common.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	bal, ok := v.balances[side][addr]
	if !ok {
		return new(uint256.Int)
	}
	return bal.Clone()
}

func balString(b *uint256.Int) string {
	if b == nil {
		return "0"
	}
	return b.Dec()
}
