package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/TomyLeHuy/ecommerce-platform/internal/orders"
	"github.com/TomyLeHuy/ecommerce-platform/internal/redisx"
	"github.com/TomyLeHuy/ecommerce-platform/internal/service"
)

const (
	HeaderActorID        = "X-Actor-Id"
	HeaderActorRole      = "X-Actor-Role"
	HeaderIdempotencyKey = "Idempotency-Key"
)

type OrderService interface {
	PlaceOrder(ctx context.Context, cmd service.PlaceOrderCommand) (service.PlaceOrderResult, error)
	GetOrder(ctx context.Context, id string) (orders.Order, error)
	ListOrders(ctx context.Context, f orders.ListFilter) ([]orders.Order, error)
	OrderHistory(ctx context.Context, id string) ([]orders.StatusHistory, error)
	CancelOrder(ctx context.Context, id string, actor orders.Actor, reason string) (orders.Order, error)
	UpdateStatus(ctx context.Context, cmd service.UpdateStatusCommand) (orders.Order, error)
	UpdateTracking(ctx context.Context, id string, actor orders.Actor, number, url string) (orders.Order, error)
}

// Cache is the optional Redis shortcut; *redisx.Cache implements it.
type Cache interface {
	Status(ctx context.Context, orderID string) (redisx.CachedStatus, bool)
	SetStatus(ctx context.Context, o orders.Order) error
	RememberIdempotency(ctx context.Context, customerID, key, orderID string) error
	LookupIdempotency(ctx context.Context, customerID, key string) (string, bool)
}

type OrdersHandler struct {
	Service OrderService
	Cache   Cache
	Logger  *zap.Logger
}

func (h *OrdersHandler) Register(r chi.Router) {
	if h.Logger == nil {
		h.Logger = zap.NewNop()
	}
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.placeOrder)
		r.Get("/", h.listOrders)
		r.Get("/{id}", h.getOrder)
		r.Get("/{id}/status", h.getStatus)
		r.Get("/{id}/history", h.getHistory)
		r.Patch("/{id}/status", h.updateStatus)
		r.Patch("/{id}/tracking", h.updateTracking)
		r.Post("/{id}/cancel", h.cancelOrder)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: "bad_request"})
}

// actorFrom reads the caller identity set by the authenticating gateway.
func actorFrom(r *http.Request) (orders.Actor, bool) {
	a := orders.Actor{
		ID:   strings.TrimSpace(r.Header.Get(HeaderActorID)),
		Role: orders.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderActorRole)))),
	}
	if a.ID == "" {
		return orders.Actor{}, false
	}
	switch a.Role {
	case orders.RoleCustomer, orders.RoleMerchant, orders.RoleAdmin, orders.RoleSystem:
		return a, true
	}
	return orders.Actor{}, false
}

func (h *OrdersHandler) requireActor(w http.ResponseWriter, r *http.Request) (orders.Actor, bool) {
	a, ok := actorFrom(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing or invalid actor headers", Code: "unauthorized"})
	}
	return a, ok
}

type itemReq struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type placeOrderReq struct {
	CustomerID        string          `json:"customer_id"`
	FulfillmentMethod string          `json:"fulfillment_method"`
	ShippingAddress   orders.Address  `json:"shipping_address"`
	CustomerNotes     string          `json:"customer_notes"`
	PaymentMethod     string          `json:"payment_method"`
	Items             []itemReq       `json:"items"`
	TokensUsed        int             `json:"tokens_used"`
	DiscountAmount    decimal.Decimal `json:"discount_amount"`
	IdempotencyKey    string          `json:"idempotency_key"`
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req placeOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.CustomerID == "" && actor.Role == orders.RoleCustomer {
		req.CustomerID = actor.ID
	}
	if actor.Role == orders.RoleCustomer && req.CustomerID != actor.ID {
		writeError(w, orders.ErrActorNotPermitted)
		return
	}
	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key == "" {
		key = req.IdempotencyKey
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Fast path; the store's unique key stays authoritative.
	if key != "" && h.Cache != nil {
		if id, ok := h.Cache.LookupIdempotency(ctx, req.CustomerID, key); ok {
			if o, err := h.Service.GetOrder(ctx, id); err == nil && o.CustomerID == req.CustomerID {
				writeJSON(w, http.StatusOK, toOrderResp(o, true))
				return
			}
		}
	}

	cmd := service.PlaceOrderCommand{
		CustomerID:      req.CustomerID,
		Actor:           actor,
		Fulfillment:     orders.FulfillmentMethod(strings.ToLower(req.FulfillmentMethod)),
		ShippingAddress: req.ShippingAddress,
		CustomerNotes:   req.CustomerNotes,
		PaymentMethod:   req.PaymentMethod,
		TokensUsed:      req.TokensUsed,
		DiscountAmount:  req.DiscountAmount,
		IdempotencyKey:  key,
	}
	for _, it := range req.Items {
		cmd.Items = append(cmd.Items, service.ItemRequest{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	res, err := h.Service.PlaceOrder(ctx, cmd)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.Cache != nil {
		if key != "" {
			_ = h.Cache.RememberIdempotency(ctx, res.Order.CustomerID, key, res.Order.ID)
		}
		_ = h.Cache.SetStatus(ctx, res.Order)
	}

	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, toOrderResp(res.Order, res.Replayed))
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := orders.ListFilter{
		CustomerID: q.Get("customer_id"),
		ShopID:     q.Get("shop_id"),
		Status:     orders.Status(strings.ToLower(q.Get("status"))),
	}
	if actor.Role == orders.RoleCustomer {
		f.CustomerID, f.ShopID = actor.ID, ""
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Service.ListOrders(ctx, f)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]orderResp, 0, len(list))
	for _, o := range list {
		resp := toOrderResp(o, false)
		resp.History = nil
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Service.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !canRead(actor, o.CustomerID) {
		writeError(w, orders.ErrOrderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o, false))
}

// canRead hides other customers' orders; they are reported as not found.
func canRead(actor orders.Actor, customerID string) bool {
	return actor.Role != orders.RoleCustomer || customerID == actor.ID
}

// getStatus answers from the cache when it can and refills it otherwise.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Cache != nil {
		// entries without an owner predate the customer field
		if cs, ok := h.Cache.Status(ctx, id); ok && cs.CustomerID != "" {
			if !canRead(actor, cs.CustomerID) {
				writeError(w, orders.ErrOrderNotFound)
				return
			}
			writeJSON(w, http.StatusOK, cs)
			return
		}
	}
	o, err := h.Service.GetOrder(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !canRead(actor, o.CustomerID) {
		writeError(w, orders.ErrOrderNotFound)
		return
	}
	if h.Cache != nil {
		_ = h.Cache.SetStatus(ctx, o)
	}
	writeJSON(w, http.StatusOK, redisx.CachedStatus{OrderID: o.ID, CustomerID: o.CustomerID, Status: o.Status, UpdatedAt: o.UpdatedAt})
}

func (h *OrdersHandler) getHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if actor.Role == orders.RoleCustomer {
		o, err := h.Service.GetOrder(ctx, id)
		if err != nil {
			writeError(w, err)
			return
		}
		if !canRead(actor, o.CustomerID) {
			writeError(w, orders.ErrOrderNotFound)
			return
		}
	}
	hist, err := h.Service.OrderHistory(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryResp(hist))
}

type updateStatusReq struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req updateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	st, err := orders.ParseStatus(req.Status)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Service.UpdateStatus(ctx, service.UpdateStatusCommand{
		OrderID: chi.URLParam(r, "id"),
		Status:  st,
		Actor:   actor,
		Notes:   req.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	h.refreshStatus(ctx, o)
	writeJSON(w, http.StatusOK, toOrderResp(o, false))
}

type trackingReq struct {
	TrackingNumber string `json:"tracking_number"`
	TrackingURL    string `json:"tracking_url"`
}

func (h *OrdersHandler) updateTracking(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req trackingReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Service.UpdateTracking(ctx, chi.URLParam(r, "id"), actor, req.TrackingNumber, req.TrackingURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o, false))
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req cancelReq
	// the body is optional
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Service.CancelOrder(ctx, chi.URLParam(r, "id"), actor, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	h.refreshStatus(ctx, o)
	writeJSON(w, http.StatusOK, toOrderResp(o, false))
}

func (h *OrdersHandler) refreshStatus(ctx context.Context, o orders.Order) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.SetStatus(ctx, o); err != nil {
		h.Logger.Warn("status cache update failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}
