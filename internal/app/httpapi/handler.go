package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	app "github.com/lockshop/storefront/internal/app"
	"github.com/lockshop/storefront/internal/app/domain/account"
	"github.com/lockshop/storefront/internal/app/domain/inventory"
	"github.com/lockshop/storefront/internal/app/domain/ledger"
	"github.com/lockshop/storefront/internal/app/metrics"
	"github.com/lockshop/storefront/internal/app/services/balance"
	"github.com/lockshop/storefront/internal/app/services/purchase"
	"github.com/lockshop/storefront/internal/app/storage"
	"github.com/lockshop/storefront/internal/keymutex"
	"github.com/lockshop/storefront/pkg/logger"
)

// handler bundles HTTP endpoints for the storefront services.
type handler struct {
	app *app.Application
	log *logger.Logger
}

// NewHandler returns a router exposing the storefront REST API.
func NewHandler(application *app.Application, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log}

	r := chi.NewRouter()
	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/register", h.register)
	r.Get("/identities/{key}", h.resolveIdentity)

	r.Route("/accounts/{handle}", func(r chi.Router) {
		r.Get("/balance", h.getBalance)
		r.Post("/balance", h.updateBalance)
		r.Get("/transactions", h.listTransactions)
	})

	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Put("/{code}", h.upsertProduct)
		r.Get("/{code}", h.getProduct)
		r.Get("/{code}/stock", h.getStock)
		r.Get("/{code}/history", h.stockHistory)
		r.Post("/{code}/restock", h.restock)
	})

	r.Post("/purchases", h.purchase)
	r.Get("/world", h.getWorld)
	r.Put("/world", h.setWorld)
	r.Get("/cache/stats", h.cacheStats)

	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		IdentityKey string `json:"identity_key"`
		Handle      string `json:"handle"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	acct, err := h.app.Balance.Register(r.Context(), payload.IdentityKey, payload.Handle)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"identity_key": acct.IdentityKey,
		"handle":       acct.Handle,
	})
}

func (h *handler) resolveIdentity(w http.ResponseWriter, r *http.Request) {
	handle, err := h.app.Balance.GetHandle(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"handle": handle})
}

func balancePayload(b account.Balance) map[string]any {
	return map[string]any{
		"wl":        b.WL,
		"dl":        b.DL,
		"bgl":       b.BGL,
		"total_wl":  b.TotalWL(),
		"formatted": b.Format(),
	}
}

func (h *handler) getBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.app.Balance.GetBalance(r.Context(), chi.URLParam(r, "handle"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balancePayload(bal))
}

func (h *handler) updateBalance(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		WL      int64  `json:"wl"`
		DL      int64  `json:"dl"`
		BGL     int64  `json:"bgl"`
		Kind    string `json:"kind"`
		Details string `json:"details"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	handle := chi.URLParam(r, "handle")
	bal, err := h.app.Balance.UpdateBalance(r.Context(), handle, payload.WL, payload.DL, payload.BGL, payload.Kind, payload.Details)
	if err != nil {
		metrics.RecordBalanceUpdate(payload.Kind, "rejected")
		h.writeServiceError(w, err)
		return
	}
	metrics.RecordBalanceUpdate(payload.Kind, "committed")
	writeJSON(w, http.StatusOK, balancePayload(bal))
}

func (h *handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	txs, err := h.app.Balance.GetTransactionHistory(r.Context(), chi.URLParam(r, "handle"), limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	out := make([]map[string]any, 0, len(txs))
	for _, tx := range txs {
		out = append(out, transactionPayload(tx))
	}
	writeJSON(w, http.StatusOK, out)
}

func transactionPayload(tx ledger.Transaction) map[string]any {
	return map[string]any{
		"id":          tx.ID,
		"handle":      tx.Handle,
		"type":        tx.Type,
		"details":     tx.Details,
		"old_balance": tx.OldBalance,
		"new_balance": tx.NewBalance,
		"item_count":  tx.ItemCount,
		"total_price": tx.TotalPrice,
		"created_at":  tx.CreatedAt.Format(time.RFC3339),
	}
}

func (h *handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.app.Catalog.GetAllProducts(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Catalog.GetProduct(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) upsertProduct(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name  string `json:"name"`
		Price int64  `json:"price"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	p, err := h.app.Catalog.UpsertProduct(r.Context(), inventory.Product{
		Code:  chi.URLParam(r, "code"),
		Name:  payload.Name,
		Price: payload.Price,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) getStock(w http.ResponseWriter, r *http.Request) {
	count, err := h.app.Catalog.GetStockCount(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"available": count})
}

func (h *handler) stockHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.app.Catalog.GetStockHistory(r.Context(), chi.URLParam(r, "code"), limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *handler) restock(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Contents []string `json:"contents"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	added, err := h.app.Catalog.Restock(r.Context(), chi.URLParam(r, "code"), payload.Contents)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"added": len(added)})
}

func (h *handler) purchase(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Handle      string `json:"handle"`
		ProductCode string `json:"product_code"`
		Quantity    int    `json:"quantity"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	start := time.Now()
	result, err := h.app.Purchase.ProcessPurchase(r.Context(), payload.Handle, payload.ProductCode, payload.Quantity)
	if err != nil {
		metrics.RecordPurchase("rejected", time.Since(start))
		h.writeServiceError(w, err)
		return
	}
	metrics.RecordPurchase("committed", time.Since(start))

	writeJSON(w, http.StatusOK, map[string]any{
		"product_code": result.Product.Code,
		"product_name": result.Product.Name,
		"quantity":     result.Quantity,
		"total_price":  result.TotalPrice,
		"contents":     result.Contents,
		"new_balance":  balancePayload(result.NewBalance),
	})
}

func (h *handler) getWorld(w http.ResponseWriter, r *http.Request) {
	info, err := h.app.Catalog.GetWorldInfo(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *handler) setWorld(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		World  string `json:"world"`
		Owner  string `json:"owner"`
		Bot    string `json:"bot"`
		Status string `json:"status"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	info, err := h.app.Catalog.SetWorldInfo(r.Context(), inventory.WorldInfo{
		World:  payload.World,
		Owner:  payload.Owner,
		Bot:    payload.Bot,
		Status: payload.Status,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *handler) cacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Cache.Stats())
}

// writeServiceError maps service failures onto HTTP statuses. Anything not in
// the known taxonomy is a store failure: logged in full, surfaced sanitized.
func (h *handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, keymutex.ErrLockTimeout):
		metrics.RecordLockTimeout()
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, errors.New("system busy, try again"))
	case errors.Is(err, storage.ErrHandleConflict):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, balance.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, err)
	case errors.Is(err, balance.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, purchase.ErrInsufficientStock):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, purchase.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		h.log.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
