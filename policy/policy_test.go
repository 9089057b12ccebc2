package policy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prompthash/paygate/types"
)

const (
	usdcAddress    = "0xc4083B1E81ceb461Ccef3FDa8A9F24F0d764B6D8"
	unknownAddress = "0x1111111111111111111111111111111111111111"
)

func newTestEngine() *Engine {
	return NewEngine(
		[]string{usdcAddress},
		decimal.NewFromInt(2),
		decimal.NewFromInt(10),
	)
}

func TestEvaluateAllowed(t *testing.T) {
	engine := newTestEngine()

	// 0.25 USDC, nothing spent today.
	decision, err := engine.Evaluate(usdcAddress, "250000", decimal.Zero)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Reason)
}

func TestEvaluateTokenNotAllowed(t *testing.T) {
	engine := newTestEngine()

	// Allowlist membership is checked first, regardless of amount.
	decision, err := engine.Evaluate(unknownAddress, "1", decimal.Zero)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, types.ReasonTokenNotAllowed, decision.Reason)
}

func TestEvaluateMaxPerTxExceeded(t *testing.T) {
	engine := newTestEngine()

	// 4 USDC against a 2 USDC per-tx cap.
	decision, err := engine.Evaluate(usdcAddress, "4000000", decimal.Zero)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, types.ReasonMaxPerTxExceeded, decision.Reason)
}

func TestEvaluateDailyCapExceeded(t *testing.T) {
	engine := newTestEngine()

	// 10 USDC already spent, 1 more against a 10 USDC daily cap.
	decision, err := engine.Evaluate(usdcAddress, "1000000", decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, types.ReasonDailyCapExceeded, decision.Reason)
}

func TestEvaluateCaseInsensitiveAllowlist(t *testing.T) {
	engine := newTestEngine()

	decision, err := engine.Evaluate("0XC4083B1E81CEB461CCEF3FDA8A9F24F0D764B6D8", "100", decimal.Zero)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestEvaluateIsPure(t *testing.T) {
	engine := newTestEngine()

	first, err := engine.Evaluate(usdcAddress, "250000", decimal.NewFromInt(3))
	require.NoError(t, err)
	second, err := engine.Evaluate(usdcAddress, "250000", decimal.NewFromInt(3))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEvaluateInvalidAmount(t *testing.T) {
	engine := newTestEngine()

	_, err := engine.Evaluate(usdcAddress, "not-a-number", decimal.Zero)
	require.Error(t, err)
}

func TestAtomicToDecimalExact(t *testing.T) {
	got, err := AtomicToDecimal("1234567", 6)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("1.234567")), "got %s", got)

	// Large atomic amounts must not lose precision to float parsing.
	got, err = AtomicToDecimal("123456789012345678", 6)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("123456789012.345678")), "got %s", got)

	got, err = AtomicToDecimal("0", 6)
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestAtomicToDecimalRejectsNegative(t *testing.T) {
	_, err := AtomicToDecimal("-1", 6)
	require.Error(t, err)
}

func TestDecimalToAtomicRoundTrip(t *testing.T) {
	atomic := DecimalToAtomic(decimal.RequireFromString("0.25"), 6)
	assert.Equal(t, "250000", atomic)

	back, err := AtomicToDecimal(atomic, 6)
	require.NoError(t, err)
	assert.True(t, back.Equal(decimal.RequireFromString("0.25")))
}

func TestDailySpendKey(t *testing.T) {
	at := time.Date(2026, 8, 28, 23, 30, 0, 0, time.UTC)
	key := DailySpendKey("0xABCdef", at)
	assert.Equal(t, "paygate:daily-spend:0xabcdef:2026-08-28", key)

	// Same address and day always routes to the same slot.
	assert.Equal(t, key, DailySpendKey("0xabcDEF", at.Add(10*time.Minute)))

	// Day rollover moves to a fresh slot.
	next := DailySpendKey("0xabcdef", at.Add(time.Hour))
	assert.NotEqual(t, key, next)
}
