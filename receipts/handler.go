package receipts

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/prompthash/paygate/logger"
	"github.com/prompthash/paygate/types"
)

var validate = validator.New()

// Handler exposes the receipt audit surface over HTTP: GET lists
// receipts filtered by walletAddress, status, and endpoint; POST appends
// a receipt row.
type Handler struct {
	store Store
	log   logger.Logger
}

// NewHandler creates the audit handler.
func NewHandler(store Store, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Handler{store: store, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.create(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err == nil {
			limit = parsed
		}
	}

	f := Filter{
		WalletAddress: q.Get("walletAddress"),
		Status:        types.ReceiptStatus(q.Get("status")),
		Endpoint:      q.Get("endpoint"),
		Limit:         limit,
	}
	if f.Status != "" && !types.ValidStatus(f.Status) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown receipt status"})
		return
	}

	rows, err := h.store.Query(r.Context(), f)
	if err != nil {
		h.log.Error("receipt query failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to fetch payment receipts"})
		return
	}
	if rows == nil {
		rows = []types.Receipt{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var receipt types.Receipt
	if err := json.NewDecoder(r.Body).Decode(&receipt); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid receipt payload"})
		return
	}
	if err := validate.Struct(&receipt); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "requestId, endpoint, status, and reasonCode are required for payment receipts",
		})
		return
	}
	if !types.ValidStatus(receipt.Status) || !receipt.ReasonCode.IsKnown() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status or reason code"})
		return
	}

	if err := h.store.Write(r.Context(), &receipt); err != nil {
		h.log.Error("receipt write failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save payment receipt"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
