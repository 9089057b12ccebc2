package receipts

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prompthash/paygate/types"
)

func seedStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	rows := []types.Receipt{
		{
			RequestID:     "req-1",
			Endpoint:      "/api/premium/generate",
			WalletAddress: "0xAAaa000000000000000000000000000000000001",
			Status:        types.StatusRequiresPayment,
			ReasonCode:    types.ReasonPaymentRequired,
			CreatedAt:     base,
		},
		{
			RequestID:     "req-1",
			Endpoint:      "/api/premium/generate",
			WalletAddress: "0xaaaa000000000000000000000000000000000001",
			Status:        types.StatusSettled,
			ReasonCode:    types.ReasonSettled,
			TxHash:        "0xdeadbeef",
			CreatedAt:     base.Add(time.Minute),
		},
		{
			RequestID:  "req-2",
			Endpoint:   "/api/premium/other",
			Status:     types.StatusFailed,
			ReasonCode: types.ReasonSettleFailed,
			CreatedAt:  base.Add(2 * time.Minute),
		},
	}
	for i := range rows {
		require.NoError(t, store.Write(context.Background(), &rows[i]))
	}
	return store
}

func TestMemoryStoreQueryNewestFirst(t *testing.T) {
	store := seedStore(t)

	rows, err := store.Query(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "req-2", rows[0].RequestID)
	assert.Equal(t, types.StatusSettled, rows[1].Status)
	assert.Equal(t, types.StatusRequiresPayment, rows[2].Status)
}

func TestMemoryStoreQueryFilters(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	// Wallet filtering is case-insensitive because rows are lowercased on write.
	rows, err := store.Query(ctx, Filter{WalletAddress: "0xAAAA000000000000000000000000000000000001"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = store.Query(ctx, Filter{Status: types.StatusSettled})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "0xdeadbeef", rows[0].TxHash)

	rows, err = store.Query(ctx, Filter{Endpoint: "/api/premium/other"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "req-2", rows[0].RequestID)
}

func TestMemoryStoreQueryLimit(t *testing.T) {
	store := seedStore(t)

	rows, err := store.Query(context.Background(), Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, (&Filter{}).ClampLimit())
	assert.Equal(t, DefaultLimit, (&Filter{Limit: -5}).ClampLimit())
	assert.Equal(t, 40, (&Filter{Limit: 40}).ClampLimit())
	assert.Equal(t, MaxLimit, (&Filter{Limit: 10_000}).ClampLimit())
}

func TestHandlerList(t *testing.T) {
	handler := NewHandler(seedStore(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/payments/receipts?status=settled", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var rows []types.Receipt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, types.ReasonSettled, rows[0].ReasonCode)
}

func TestHandlerListRejectsUnknownStatus(t *testing.T) {
	handler := NewHandler(NewMemoryStore(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/payments/receipts?status=bogus", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerListEmptyIsArray(t *testing.T) {
	handler := NewHandler(NewMemoryStore(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/payments/receipts", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestHandlerCreate(t *testing.T) {
	store := NewMemoryStore()
	handler := NewHandler(store, nil)

	body, err := json.Marshal(types.Receipt{
		RequestID:  "req-9",
		Endpoint:   "/api/premium/generate",
		Status:     types.StatusPolicyRejected,
		ReasonCode: types.ReasonMaxPerTxExceeded,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/payments/receipts", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	rows, err := store.Query(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "req-9", rows[0].RequestID)
	assert.False(t, rows[0].CreatedAt.IsZero())
}

func TestHandlerCreateRejectsIncomplete(t *testing.T) {
	handler := NewHandler(NewMemoryStore(), nil)

	// Missing endpoint and reason code.
	req := httptest.NewRequest(http.MethodPost, "/api/payments/receipts",
		bytes.NewReader([]byte(`{"requestId":"req-9","status":"settled"}`)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerCreateRejectsUnknownReason(t *testing.T) {
	handler := NewHandler(NewMemoryStore(), nil)

	body := []byte(`{"requestId":"req-9","endpoint":"/x","status":"settled","reasonCode":"MADE_UP"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/payments/receipts", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerMethodNotAllowed(t *testing.T) {
	handler := NewHandler(NewMemoryStore(), nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/payments/receipts", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
