package paygate

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prompthash/paygate/client"
	"github.com/prompthash/paygate/config"
	"github.com/prompthash/paygate/eip712"
	"github.com/prompthash/paygate/facilitator"
	"github.com/prompthash/paygate/policy"
	"github.com/prompthash/paygate/receipts"
	"github.com/prompthash/paygate/signer"
	"github.com/prompthash/paygate/state"
	"github.com/prompthash/paygate/types"
)

const testPrivateKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

// recoveringFacilitator verifies payloads by actually recovering the
// EIP-712 signer, then settles unconditionally.
type recoveringFacilitator struct{}

func (recoveringFacilitator) Verify(_ context.Context, p *types.PaymentPayload) (*facilitator.VerifyResult, error) {
	domain, err := eip712.DomainForRequirements(&p.Accepted)
	if err != nil {
		return nil, err
	}
	digest, err := eip712.AuthorizationDigest(domain, p.Payload.Authorization)
	if err != nil {
		return nil, err
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(p.Payload.Signature, "0x"))
	if err != nil {
		return nil, err
	}
	recovered, err := eip712.RecoverSigner(digest, sig)
	if err != nil {
		return nil, err
	}
	if recovered.Hex() != p.Payload.Authorization.From {
		return &facilitator.VerifyResult{IsValid: false, InvalidReason: "invalid_signature"}, nil
	}
	return &facilitator.VerifyResult{IsValid: true, Payer: recovered.Hex()}, nil
}

func (recoveringFacilitator) Settle(_ context.Context, p *types.PaymentPayload) (*facilitator.SettleResult, error) {
	return &facilitator.SettleResult{
		Success:     true,
		Transaction: "0xfeedface",
		Network:     p.Accepted.Network,
		Payer:       p.Payload.Authorization.From,
	}, nil
}

func TestEndToEndPaidRequest(t *testing.T) {
	cfg, err := config.Load(config.MapEnv(nil))
	require.NoError(t, err)

	p := New(cfg, WithFacilitator(recoveringFacilitator{}))

	premium := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"result": "premium content"})
	})

	guarded, err := p.Protect("/api/premium/generate", p.DefaultRouteConfig("Premium generation"), premium)
	require.NoError(t, err)

	srv := httptest.NewServer(guarded)
	defer srv.Close()

	sgn, err := signer.NewLocalSigner(testPrivateKey)
	require.NoError(t, err)

	confirm := func(context.Context, client.ConfirmationContext) (bool, error) { return true, nil }

	res, err := p.NewClient().Submit(context.Background(), sgn, &client.Request{
		Method: http.MethodPost,
		URL:    srv.URL + "/api/premium/generate",
		Header: http.Header{},
		Body:   []byte(`{"prompt":"hello"}`),
	}, confirm)
	require.NoError(t, err)
	defer res.Response.Body.Close()

	assert.Equal(t, state.Settled, res.State)
	require.NotNil(t, res.Settlement)
	assert.True(t, res.Settlement.Success)
	assert.Equal(t, "0xfeedface", res.Settlement.Transaction)

	body, err := io.ReadAll(res.Response.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "premium content")

	// Both sides share the audit trail: challenge, submission, settlement.
	rows, err := p.Receipts().Query(context.Background(), receipts.Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	settled, err := p.Receipts().Query(context.Background(), receipts.Filter{Status: types.StatusSettled})
	require.NoError(t, err)
	require.Len(t, settled, 1)
	assert.Equal(t, "0xfeedface", settled[0].TxHash)
	assert.Equal(t, "/api/premium/generate", settled[0].Endpoint)

	// The client's daily-spend ledger moved by the route price.
	key := policy.DailySpendKey(sgn.Address(), time.Now())
	spent, err := p.ledger.Get(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, spent.Equal(decimal.RequireFromString("0.25")), "got %s", spent)
}

func TestDefaultRouteConfig(t *testing.T) {
	cfg, err := config.Load(config.MapEnv(nil))
	require.NoError(t, err)

	p := New(cfg)
	route := p.DefaultRouteConfig("Premium generation")

	assert.Equal(t, types.SchemeExact, route.Scheme)
	assert.Equal(t, cfg.Primary.Network(), route.Network)
	assert.Equal(t, cfg.PayToAddress, route.PayTo)
	assert.Equal(t, "0.25", route.PriceUSD)
	assert.Equal(t, 90, route.MaxTimeoutSeconds)
	require.NotNil(t, route.UnpaidBody)
}

func TestReceiptsHandlerServesStore(t *testing.T) {
	cfg, err := config.Load(config.MapEnv(nil))
	require.NoError(t, err)

	p := New(cfg, WithFacilitator(recoveringFacilitator{}))
	require.NoError(t, p.Receipts().Write(context.Background(), &types.Receipt{
		RequestID:  "req-1",
		Endpoint:   "/api/premium/generate",
		Status:     types.StatusSettled,
		ReasonCode: types.ReasonSettled,
	}))

	rec := httptest.NewRecorder()
	p.ReceiptsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/payments/receipts", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var rows []types.Receipt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "req-1", rows[0].RequestID)
}
