// Package policy implements the spend policy engine: a pure evaluation of
// whether a proposed payment is allowed given the token allowlist and the
// caller's daily spend.
package policy

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prompthash/paygate/types"
)

// USDCDecimals is fixed for the supported asset.
const USDCDecimals = 6

// ledgerNamespace routes repeated reads/writes for the same address and
// day to the same storage slot.
const ledgerNamespace = "paygate:daily-spend"

// Decision is the outcome of a policy evaluation. Derived, never stored.
type Decision struct {
	Allowed bool
	Reason  types.ReasonCode
	Message string
}

// Engine evaluates spend policy against a fixed allowlist and caps.
type Engine struct {
	allowlist   map[string]struct{}
	maxPerTxUSD decimal.Decimal
	maxDailyUSD decimal.Decimal
}

// NewEngine builds an engine. Allowlist entries are matched
// case-insensitively.
func NewEngine(allowlist []string, maxPerTxUSD, maxDailyUSD decimal.Decimal) *Engine {
	set := make(map[string]struct{}, len(allowlist))
	for _, addr := range allowlist {
		set[strings.ToLower(addr)] = struct{}{}
	}
	return &Engine{
		allowlist:   set,
		maxPerTxUSD: maxPerTxUSD,
		maxDailyUSD: maxDailyUSD,
	}
}

// IsAllowedToken reports allowlist membership for an asset address.
func (e *Engine) IsAllowedToken(assetAddress string) bool {
	_, ok := e.allowlist[strings.ToLower(assetAddress)]
	return ok
}

// Evaluate applies the rules in order; the first failing rule wins.
//
//  1. asset must be allowlisted
//  2. converted amount must not exceed the per-transaction cap
//  3. dailySpent + amount must not exceed the daily cap
func (e *Engine) Evaluate(assetAddress, amountAtomic string, dailySpentUSD decimal.Decimal) (Decision, error) {
	if !e.IsAllowedToken(assetAddress) {
		return Decision{
			Reason:  types.ReasonTokenNotAllowed,
			Message: "Token is not in the payment allowlist.",
		}, nil
	}

	requested, err := AtomicToDecimal(amountAtomic, USDCDecimals)
	if err != nil {
		return Decision{}, err
	}

	if requested.GreaterThan(e.maxPerTxUSD) {
		return Decision{
			Reason:  types.ReasonMaxPerTxExceeded,
			Message: fmt.Sprintf("Per-transaction cap exceeded (%s USDC).", e.maxPerTxUSD),
		}, nil
	}

	if dailySpentUSD.Add(requested).GreaterThan(e.maxDailyUSD) {
		return Decision{
			Reason:  types.ReasonDailyCapExceeded,
			Message: fmt.Sprintf("Daily cap exceeded (%s USDC).", e.maxDailyUSD),
		}, nil
	}

	return Decision{Allowed: true}, nil
}

// AtomicToDecimal converts an atomic integer amount to decimal units.
// The atomic string is parsed as an integer and shifted, never routed
// through a float, so large amounts stay exact.
func AtomicToDecimal(amountAtomic string, decimals int32) (decimal.Decimal, error) {
	n, ok := new(big.Int).SetString(amountAtomic, 10)
	if !ok {
		return decimal.Decimal{}, types.NewError(types.ErrInvalidRequirements,
			fmt.Sprintf("invalid atomic amount %q", amountAtomic), nil)
	}
	if n.Sign() < 0 {
		return decimal.Decimal{}, types.NewError(types.ErrInvalidRequirements,
			"atomic amount must not be negative", nil)
	}
	return decimal.NewFromBigInt(n, -decimals), nil
}

// DecimalToAtomic converts a decimal amount to an atomic integer string,
// truncating below the asset's precision.
func DecimalToAtomic(value decimal.Decimal, decimals int32) string {
	return value.Shift(decimals).Truncate(0).BigInt().String()
}

// DailySpendKey is the deterministic ledger key for (address, UTC day).
// Key rollover at midnight UTC implicitly expires the previous counter.
func DailySpendKey(address string, now time.Time) string {
	day := now.UTC().Format("2006-01-02")
	return fmt.Sprintf("%s:%s:%s", ledgerNamespace, strings.ToLower(address), day)
}
