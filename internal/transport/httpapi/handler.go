package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"checkout-service/internal/metrics"
	"checkout-service/internal/models"
	"checkout-service/internal/service"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Handler struct {
	checkout service.CheckoutService
	catalog  service.CatalogService
	metrics  *metrics.CheckoutMetrics
	log      *zap.Logger
}

func NewHandler(checkout service.CheckoutService, catalog service.CatalogService, m *metrics.CheckoutMetrics, log *zap.Logger) *Handler {
	return &Handler{checkout: checkout, catalog: catalog, metrics: m, log: log}
}

func (h *Handler) Router() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /checkout", h.handleCheckout)
	mux.HandleFunc("POST /payments/callback", h.handlePaymentCallback)

	mux.HandleFunc("GET /orders", h.handleListOrders)
	mux.HandleFunc("GET /orders/{id}", h.handleGetOrder)
	mux.HandleFunc("GET /orders/{id}/totals", h.handleGetTotals)
	mux.HandleFunc("POST /orders/{id}/cancel", h.handleCancelOrder)
	mux.HandleFunc("POST /orders/{id}/complete", h.handleCompleteOrder)

	mux.HandleFunc("POST /categories", h.handleCreateCategory)
	mux.HandleFunc("GET /categories", h.handleListCategories)
	mux.HandleFunc("POST /items", h.handleCreateItem)
	mux.HandleFunc("GET /items", h.handleListItems)
	mux.HandleFunc("GET /items/{id}", h.handleGetItem)
	mux.HandleFunc("PATCH /items/{id}", h.handleUpdateItem)
	mux.HandleFunc("DELETE /items/{id}", h.handleDeleteItem)
	mux.HandleFunc("POST /items/{id}/stock", h.handleSetStock)
	mux.HandleFunc("POST /items/{id}/stock/adjust", h.handleAdjustStock)

	return mux
}

type cartLineDTO struct {
	ItemID   string `json:"item_id"`
	Quantity int32  `json:"quantity"`
}

type checkoutRequest struct {
	Cart             []cartLineDTO `json:"cart"`
	CustomerName     string        `json:"customer_name"`
	CustomerMobileNo string        `json:"customer_mobile_no"`
	PaymentMethod    string        `json:"payment_method"`
	DeliveryOption   string        `json:"delivery_option"`
	DistanceFromShop int           `json:"distance_from_shop"`
	ShippingAddress  string        `json:"shipping_address"`
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer h.observe("checkout", start)

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	in := service.CheckoutInput{
		CustomerName:     req.CustomerName,
		CustomerMobileNo: req.CustomerMobileNo,
		PaymentMethod:    models.PaymentMethod(req.PaymentMethod),
		DeliveryOption:   models.DeliveryOption(req.DeliveryOption),
		DistanceFromShop: req.DistanceFromShop,
		ShippingAddress:  req.ShippingAddress,
	}
	for _, line := range req.Cart {
		id, err := uuid.Parse(line.ItemID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid item_id: "+line.ItemID)
			return
		}
		in.Cart = append(in.Cart, service.CartLine{ItemID: id, Quantity: line.Quantity})
	}

	order, err := h.checkout.Checkout(r.Context(), in)
	if err != nil {
		h.countCheckout("error")
		h.writeServiceError(w, err)
		return
	}
	h.countCheckout("created")
	writeJSON(w, http.StatusCreated, toOrderDTO(order))
}

type paymentCallbackRequest struct {
	OrderID         string `json:"order_id"`
	RemotePaymentID string `json:"remote_payment_id"`
	RemoteSignature string `json:"remote_signature"`
}

func (h *Handler) handlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer h.observe("payment_callback", start)

	var req paymentCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.OrderID == "" || req.RemotePaymentID == "" || req.RemoteSignature == "" {
		writeError(w, http.StatusBadRequest, "order_id, remote_payment_id and remote_signature are required")
		return
	}

	ok, err := h.checkout.Settle(r.Context(), req.OrderID, req.RemotePaymentID, req.RemoteSignature)
	if err != nil {
		h.countSettlement("error")
		h.writeServiceError(w, err)
		return
	}

	order, getErr := h.checkout.GetOrder(r.Context(), req.OrderID)
	errorCode := ""
	if getErr == nil && order != nil {
		errorCode = order.PaymentErrorCode
	}

	if ok {
		h.countSettlement("success")
		writeJSON(w, http.StatusOK, map[string]any{"settled": true})
		return
	}
	h.countSettlement("failed")
	writeJSON(w, http.StatusOK, map[string]any{"settled": false, "error_code": errorCode})
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.checkout.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order))
}

func (h *Handler) handleGetTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := h.checkout.GetTotals(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"total_item_price": totals.ItemPrice.StringFixed(2),
		"total_savings":    totals.Savings.StringFixed(2),
		"total_tax":        totals.Tax.StringFixed(2),
		"total_shipping":   totals.Shipping.StringFixed(2),
		"amount_payable":   totals.Payable.StringFixed(2),
	})
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	f := service.ListFilter{}
	if s := r.URL.Query().Get("order_status"); s != "" {
		st := models.OrderStatus(s)
		f.OrderStatus = &st
	}
	if s := r.URL.Query().Get("payment_status"); s != "" {
		st := models.PaymentStatus(s)
		f.PaymentStatus = &st
	}
	f.Limit, f.Offset = pageParams(r)

	orders, total, err := h.checkout.ListOrders(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	out := make([]any, 0, len(orders))
	for i := range orders {
		out = append(out, toOrderDTO(&orders[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out, "total": total})
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.checkout.CancelOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order))
}

func (h *Handler) handleCompleteOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.checkout.MarkCompleted(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order))
}

type createCategoryRequest struct {
	Name string `json:"name"`
}

func (h *Handler) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req createCategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	c, err := h.catalog.CreateCategory(r.Context(), req.Name)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) handleListCategories(w http.ResponseWriter, r *http.Request) {
	list, err := h.catalog.ListCategories(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": list})
}

type createItemRequest struct {
	Name          string  `json:"name"`
	CategoryID    string  `json:"category_id"`
	OriginalPrice string  `json:"original_price"`
	DiscountPrice *string `json:"discount_price,omitempty"`
	WeightInGms   string  `json:"weight_in_gms"`
	Available     bool    `json:"available"`
	Quantity      int32   `json:"quantity"`
}

func (h *Handler) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	catID, err := uuid.Parse(req.CategoryID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid category_id")
		return
	}
	price, err := decimal.NewFromString(req.OriginalPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid original_price")
		return
	}
	in := service.ItemInput{
		Name:          req.Name,
		CategoryID:    catID,
		OriginalPrice: price,
		Available:     req.Available,
		Quantity:      req.Quantity,
	}
	if req.DiscountPrice != nil {
		d, err := decimal.NewFromString(*req.DiscountPrice)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid discount_price")
			return
		}
		in.DiscountPrice = &d
	}
	if req.WeightInGms != "" {
		wgt, err := decimal.NewFromString(req.WeightInGms)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid weight_in_gms")
			return
		}
		in.WeightInGms = wgt
	}

	it, err := h.catalog.CreateItem(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

func (h *Handler) handleListItems(w http.ResponseWriter, r *http.Request) {
	f := service.ItemListFilter{Query: r.URL.Query().Get("q")}
	if s := r.URL.Query().Get("category_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid category_id")
			return
		}
		f.CategoryID = &id
	}
	if s := r.URL.Query().Get("available"); s != "" {
		avail := s == "true"
		f.OnlyAvailable = &avail
	}
	f.Limit, f.Offset = pageParams(r)
	list, total, err := h.catalog.ListItems(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list, "total": total})
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	it, err := h.catalog.GetItem(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

type updateItemRequest struct {
	Name          *string `json:"name,omitempty"`
	OriginalPrice *string `json:"original_price,omitempty"`
	DiscountPrice *string `json:"discount_price,omitempty"`
	WeightInGms   *string `json:"weight_in_gms,omitempty"`
	Available     *bool   `json:"available,omitempty"`
}

func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	patch := service.ItemPatch{Name: req.Name, Available: req.Available}
	parse := func(s *string, field string) (*decimal.Decimal, bool) {
		if s == nil {
			return nil, true
		}
		d, err := decimal.NewFromString(*s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+field)
			return nil, false
		}
		return &d, true
	}
	var ok bool
	if patch.OriginalPrice, ok = parse(req.OriginalPrice, "original_price"); !ok {
		return
	}
	if patch.DiscountPrice, ok = parse(req.DiscountPrice, "discount_price"); !ok {
		return
	}
	if patch.WeightInGms, ok = parse(req.WeightInGms, "weight_in_gms"); !ok {
		return
	}

	it, err := h.catalog.UpdateItem(r.Context(), id, patch)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *Handler) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	deleted, err := h.catalog.DeleteItem(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, service.ErrItemNotFound.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setStockRequest struct {
	Quantity int32 `json:"quantity"`
}

func (h *Handler) handleSetStock(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	var req setStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	it, err := h.catalog.SetStock(r.Context(), id, req.Quantity)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

type adjustStockRequest struct {
	Delta int32 `json:"delta"`
}

func (h *Handler) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	var req adjustStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	it, err := h.catalog.AdjustStock(r.Context(), id, req.Delta)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

type orderDTO struct {
	OrderID          string         `json:"order_id"`
	RemoteOrderID    string         `json:"remote_order_id,omitempty"`
	OrderStatus      string         `json:"order_status"`
	PaymentStatus    string         `json:"payment_status"`
	PaymentErrorCode string         `json:"payment_error_code"`
	BillingDateTime  time.Time      `json:"billing_date_time"`
	CustomerName     string         `json:"customer_name"`
	DeliveryOption   string         `json:"delivery_option"`
	ShippingAddress  string         `json:"shipping_address,omitempty"`
	Items            []orderLineDTO `json:"items"`
}

type orderLineDTO struct {
	ItemID            string `json:"item_id"`
	PurchasedPrice    string `json:"purchased_price"`
	Savings           string `json:"savings"`
	PurchasedQuantity int32  `json:"purchased_quantity"`
}

func toOrderDTO(o *models.Order) orderDTO {
	dto := orderDTO{
		OrderID:          o.OrderID,
		RemoteOrderID:    o.RemoteOrderID,
		OrderStatus:      string(o.OrderStatus),
		PaymentStatus:    string(o.PaymentStatus),
		PaymentErrorCode: o.PaymentErrorCode,
		BillingDateTime:  o.BillingDateTime,
		CustomerName:     o.CustomerName,
		DeliveryOption:   string(o.DeliveryOption),
		ShippingAddress:  o.ShippingAddress,
		Items:            make([]orderLineDTO, 0, len(o.Items)),
	}
	for i := range o.Items {
		line := &o.Items[i]
		dto.Items = append(dto.Items, orderLineDTO{
			ItemID:            line.ItemID.String(),
			PurchasedPrice:    line.PurchasedPrice.StringFixed(2),
			Savings:           line.Savings.StringFixed(2),
			PurchasedQuantity: line.PurchasedQuantity,
		})
	}
	return dto
}

func (h *Handler) countCheckout(result string) {
	if h.metrics != nil {
		h.metrics.CheckoutsTotal.WithLabelValues(result).Inc()
	}
}

func (h *Handler) countSettlement(result string) {
	if h.metrics != nil {
		h.metrics.SettlementsTotal.WithLabelValues(result).Inc()
	}
}

func (h *Handler) observe(handler string, start time.Time) {
	if h.metrics != nil {
		h.metrics.LatencyMS.WithLabelValues(handler).Observe(float64(time.Since(start).Milliseconds()))
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrItemNotFound),
		errors.Is(err, service.ErrCategoryNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrEmptyCart),
		errors.Is(err, service.ErrQuantityInvalid),
		errors.Is(err, service.ErrDuplicateCartRow):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUndeliverableAddress),
		errors.Is(err, service.ErrNotEnoughQuantities),
		errors.Is(err, service.ErrItemUnavailable):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrAlreadySettled),
		errors.Is(err, service.ErrAlreadyCancelled),
		errors.Is(err, service.ErrPaymentNotSuccessful),
		errors.Is(err, service.ErrCategoryExists),
		errors.Is(err, service.ErrItemExists),
		errors.Is(err, service.ErrItemReferenced):
		writeError(w, http.StatusConflict, err.Error())
	default:
		if h.log != nil {
			h.log.Error("Внутренняя ошибка обработчика", zap.Error(err))
		}
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pageParams(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
