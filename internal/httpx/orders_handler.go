package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/hpratama/go-fieldsales-orders/internal/orders"
	"github.com/hpratama/go-fieldsales-orders/internal/pricing"
	"github.com/hpratama/go-fieldsales-orders/internal/redisx"
)

// OrdersHandler exposes the cart, order lifecycle and shipment intake
// operations. Authorization is by actor ID in the request body or query;
// there is no session layer in front of this service.
type OrdersHandler struct {
	Lifecycle *orders.Lifecycle
	Pricing   *pricing.Engine
	Redis     *redis.Client
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Get("/cart", h.getCart)
	r.Post("/cart/items", h.addCartItem)
	r.Put("/cart/items", h.updateCartItem)
	r.Delete("/cart/items", h.removeCartItem)

	r.Post("/orders", h.placeOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
	r.Post("/orders/{id}/confirm", h.confirmOrder)
	r.Post("/orders/{id}/reject", h.rejectOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)

	r.Get("/products/{id}/price", h.priceProduct)

	r.Post("/shipments/{batchID}/validate", h.validateShipment)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeResult maps the business failure taxonomy onto HTTP codes. A
// successful result is 200 even when lines were deferred; the pending
// count tells the client what did not ship.
func writeResult(w http.ResponseWriter, res orders.Result) {
	code := http.StatusOK
	switch res.Failure {
	case orders.FailureNotFound:
		code = http.StatusNotFound
	case orders.FailureUnauthorized:
		code = http.StatusForbidden
	case orders.FailureInvalidState:
		code = http.StatusConflict
	case orders.FailureValidation:
		code = http.StatusBadRequest
	}
	writeJSON(w, code, res)
}

// --- cart ---

type cartItemReq struct {
	ActorID   string `json:"actor_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *OrdersHandler) addCartItem(w http.ResponseWriter, r *http.Request) {
	h.mutateCart(w, r, h.Lifecycle.AddCartLine)
}

func (h *OrdersHandler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	h.mutateCart(w, r, h.Lifecycle.UpdateCartLine)
}

func (h *OrdersHandler) mutateCart(w http.ResponseWriter, r *http.Request, op func(context.Context, string, string, int) (orders.Result, error)) {
	var req cartItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ActorID == "" || req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "missing fields")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := op(ctx, req.ActorID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeResult(w, res)
}

func (h *OrdersHandler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	var req cartItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ActorID == "" || req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "missing fields")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Lifecycle.RemoveCartLine(ctx, req.ActorID, req.ProductID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeResult(w, res)
}

type cartLineDTO struct {
	ProductID    string          `json:"product_id"`
	Quantity     int             `json:"quantity"`
	FreeQuantity int             `json:"free_quantity,omitempty"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
}

func (h *OrdersHandler) getCart(w http.ResponseWriter, r *http.Request) {
	actorID := r.URL.Query().Get("actor_id")
	if actorID == "" {
		writeError(w, http.StatusBadRequest, "missing actor_id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	lines, err := h.Lifecycle.GetCart(ctx, actorID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]cartLineDTO, 0, len(lines))
	for _, l := range lines {
		out = append(out, cartLineDTO{
			ProductID:    l.ProductID,
			Quantity:     l.Quantity,
			FreeQuantity: l.FreeQuantity,
			UnitPrice:    l.UnitPrice,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"actor_id": actorID, "items": out})
}

// --- order lifecycle ---

type placeOrderReq struct {
	PlacerID   string `json:"placer_id"`
	CustomerID string `json:"customer_id,omitempty"`
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.PlacerID == "" {
		writeError(w, http.StatusBadRequest, "missing placer_id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Lifecycle.PlaceOrder(ctx, req.PlacerID, req.CustomerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if res.Success && res.OrderID != "" {
		h.cacheStatus(ctx, res.OrderID, string(orders.StatusPending), orders.StagePlaced)
	}
	writeResult(w, res)
}

type confirmOrderReq struct {
	DistributorID string                     `json:"distributor_id"`
	Edits         map[string]orders.ItemEdit `json:"edits,omitempty"`
}

func (h *OrdersHandler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req confirmOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.DistributorID == "" {
		writeError(w, http.StatusBadRequest, "missing distributor_id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Lifecycle.ConfirmOrderByDistributor(ctx, orderID, req.DistributorID, req.Edits)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if res.Success {
		h.cacheStatus(ctx, orderID, string(orders.StatusConfirmed), orders.StageConfirmed)
	}
	writeResult(w, res)
}

type rejectOrderReq struct {
	DistributorID string `json:"distributor_id"`
	Reason        string `json:"reason,omitempty"`
}

func (h *OrdersHandler) rejectOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req rejectOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.DistributorID == "" {
		writeError(w, http.StatusBadRequest, "missing distributor_id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Lifecycle.RejectOrderByDistributor(ctx, orderID, req.DistributorID, req.Reason)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if res.Success {
		h.cacheStatus(ctx, orderID, string(orders.StatusRejected), orders.StageRejected)
	}
	writeResult(w, res)
}

type cancelOrderReq struct {
	PlacerID string `json:"placer_id"`
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req cancelOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.PlacerID == "" {
		writeError(w, http.StatusBadRequest, "missing placer_id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Lifecycle.CancelOrderByMR(ctx, orderID, req.PlacerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if res.Success {
		h.cacheStatus(ctx, orderID, string(orders.StatusCancelled), orders.StageCancelled)
	}
	writeResult(w, res)
}

// --- order reads ---

type orderItemDTO struct {
	ID               string          `json:"id"`
	ProductCode      string          `json:"product_code"`
	Quantity         int             `json:"quantity"`
	FreeQuantity     int             `json:"free_quantity,omitempty"`
	PendingQuantity  int             `json:"pending_quantity,omitempty"`
	AdjustedQuantity *int            `json:"adjusted_quantity,omitempty"`
	AdjustmentReason string          `json:"adjustment_reason,omitempty"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	TotalPrice       decimal.Decimal `json:"total_price"`
}

type orderDTO struct {
	ID          string          `json:"id"`
	PlacerID    string          `json:"placer_id"`
	CustomerID  string          `json:"customer_id,omitempty"`
	Status      string          `json:"status"`
	Stage       string          `json:"stage"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	ConfirmedBy string          `json:"confirmed_by,omitempty"`
	ConfirmedAt *time.Time      `json:"confirmed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Items       []orderItemDTO  `json:"items"`
}

func toOrderDTO(v orders.OrderView) orderDTO {
	out := orderDTO{
		ID:          v.Order.ID,
		PlacerID:    v.Order.PlacerID,
		CustomerID:  v.Order.CustomerID,
		Status:      string(v.Order.Status),
		Stage:       v.Order.OrderStage,
		Subtotal:    v.Order.Subtotal,
		TaxAmount:   v.Order.TaxAmount,
		TotalAmount: v.Order.TotalAmount,
		ConfirmedBy: v.Order.ConfirmedBy,
		ConfirmedAt: v.Order.ConfirmedAt,
		CreatedAt:   v.Order.CreatedAt,
	}
	for _, it := range v.Items {
		out.Items = append(out.Items, orderItemDTO{
			ID:               it.ID,
			ProductCode:      it.ProductCode,
			Quantity:         it.Quantity,
			FreeQuantity:     it.FreeQuantity,
			PendingQuantity:  it.PendingQuantity,
			AdjustedQuantity: it.AdjustedQuantity,
			AdjustmentReason: it.AdjustmentReason,
			UnitPrice:        it.UnitPrice,
			TotalPrice:       it.TotalPrice,
		})
	}
	return out
}

// getOrder returns the authorized full view: the placer sees their own
// order, a distributor sees orders of their area.
func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	actorID := r.URL.Query().Get("actor_id")
	if actorID == "" {
		writeError(w, http.StatusBadRequest, "missing actor_id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	var (
		view orders.OrderView
		err  error
	)
	if r.URL.Query().Get("as") == "distributor" {
		view, err = h.Lifecycle.GetOrderStatusForDistributor(ctx, orderID, actorID)
	} else {
		view, err = h.Lifecycle.GetOrderStatus(ctx, orderID, actorID)
	}
	if err != nil {
		switch {
		case errors.Is(err, orders.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, orders.ErrUnauthorized):
			writeError(w, http.StatusForbidden, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(view))
}

// getOrderStatus is the cheap unauthenticated status probe backed by the
// Redis cache, refreshed on every lifecycle transition.
func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if h.Redis != nil {
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	view, err := h.Lifecycle.GetOrderStatusUnchecked(ctx, orderID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.cacheStatus(ctx, orderID, string(view.Order.Status), view.Order.OrderStage)
	writeJSON(w, http.StatusOK, map[string]string{
		"status": string(view.Order.Status),
		"stage":  view.Order.OrderStage,
	})
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, orderID, status, stage string) {
	if h.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	body, _ := json.Marshal(map[string]string{"status": status, "stage": stage})
	_ = h.Redis.Set(ctx, key, body, redisx.TTLStatusCache).Err()
}

// priceProduct quotes qty units without touching a cart. ?by=code looks
// the product up by its code instead of its id.
func (h *OrdersHandler) priceProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	qty, err := strconv.Atoi(r.URL.Query().Get("qty"))
	if err != nil || qty <= 0 {
		writeError(w, http.StatusBadRequest, "qty must be a positive integer")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	var res pricing.Result
	if r.URL.Query().Get("by") == "code" {
		res, err = h.Pricing.PriceByCode(ctx, id, qty)
	} else {
		res, err = h.Pricing.Price(ctx, id, qty)
	}
	if err != nil {
		switch {
		case errors.Is(err, pricing.ErrProductNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, pricing.ErrInvalidQuantity), errors.Is(err, pricing.ErrInvalidPromotion):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- shipments ---

type validateShipmentReq struct {
	DistributorID   string `json:"distributor_id"`
	CountedQuantity int    `json:"counted_quantity"`
}

func (h *OrdersHandler) validateShipment(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	var req validateShipmentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.DistributorID == "" {
		writeError(w, http.StatusBadRequest, "missing distributor_id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Lifecycle.ValidateShipment(ctx, batchID, req.DistributorID, req.CountedQuantity)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeResult(w, res)
}
