// Package ledger holds per-user custodial balances and the append-only
// record of executed positions.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ashureev/capdeploy/internal/domain"
	"github.com/ashureev/capdeploy/internal/store"
	"github.com/shopspring/decimal"
)

// Balances maps an upper-case asset symbol to an amount.
type Balances map[string]decimal.Decimal

// ParseBalances parses "USDC=1000000,ETH=10" into Balances.
func ParseBalances(s string) (Balances, error) {
	out := Balances{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid balance %q: want ASSET=AMOUNT", part)
		}
		asset := normalizeAsset(kv[0])
		amount, err := decimal.NewFromString(strings.TrimSpace(kv[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid amount for %s: %w", asset, err)
		}
		if amount.IsNegative() {
			return nil, fmt.Errorf("negative seed balance for %s", asset)
		}
		out[asset] = amount
	}
	return out, nil
}

// Assets returns the asset symbols in sorted order.
func (b Balances) Assets() []string {
	assets := make([]string, 0, len(b))
	for a := range b {
		assets = append(assets, a)
	}
	sort.Strings(assets)
	return assets
}

func (b Balances) clone() Balances {
	out := make(Balances, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Account is the persisted balance sheet of one user.
type Account struct {
	UserID    string    `json:"user_id"`
	Balances  Balances  `json:"balances"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ledger reads and mutates accounts through a store.KV, which may be a
// transaction. Accounts that were never written start from the seed.
type Ledger struct {
	kv   store.KV
	seed Balances
}

// New creates a Ledger over kv.
func New(kv store.KV, seed Balances) *Ledger {
	if seed == nil {
		seed = Balances{}
	}
	return &Ledger{kv: kv, seed: seed}
}

// Account loads the user's account, seeding it in memory if absent.
func (l *Ledger) Account(ctx context.Context, userID string) (*Account, error) {
	data, err := l.kv.Get(ctx, store.UserKey(store.NamespaceLedger, userID))
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if data == nil {
		return &Account{UserID: userID, Balances: l.seed.clone()}, nil
	}
	var acct Account
	if err := json.Unmarshal(data, &acct); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	if acct.Balances == nil {
		acct.Balances = Balances{}
	}
	return &acct, nil
}

// Balance returns the user's balance of asset (zero if none).
func (l *Ledger) Balance(ctx context.Context, userID, asset string) (decimal.Decimal, error) {
	acct, err := l.Account(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return acct.Balances[normalizeAsset(asset)], nil
}

// Debit subtracts amount from the user's asset balance. It fails with an
// *domain.InsufficientFundsError, leaving the account untouched, when the
// balance is too low.
func (l *Ledger) Debit(ctx context.Context, userID, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: debit of %s", domain.ErrInvalidAmount, amount)
	}
	acct, err := l.Account(ctx, userID)
	if err != nil {
		return err
	}
	asset = normalizeAsset(asset)
	available := acct.Balances[asset]
	if available.LessThan(amount) {
		return &domain.InsufficientFundsError{Asset: asset, Available: available, Required: amount}
	}
	acct.Balances[asset] = available.Sub(amount)
	return l.save(ctx, acct)
}

// Credit adds amount to the user's asset balance.
func (l *Ledger) Credit(ctx context.Context, userID, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: credit of %s", domain.ErrInvalidAmount, amount)
	}
	acct, err := l.Account(ctx, userID)
	if err != nil {
		return err
	}
	asset = normalizeAsset(asset)
	acct.Balances[asset] = acct.Balances[asset].Add(amount)
	return l.save(ctx, acct)
}

// Reset restores the user's balances to the seed.
func (l *Ledger) Reset(ctx context.Context, userID string) error {
	return l.save(ctx, &Account{UserID: userID, Balances: l.seed.clone()})
}

func (l *Ledger) save(ctx context.Context, acct *Account) error {
	acct.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	if err := l.kv.Set(ctx, store.UserKey(store.NamespaceLedger, acct.UserID), data); err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
