package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"restaurant-system/internal/logger"
	"restaurant-system/internal/middleware"
	"restaurant-system/internal/models"
)

const (
	maxBodyBytes        = 1 << 20
	maxWebhookBodyBytes = 64 << 10
	maxIdempotencyKey   = 255
	maxRequestIDLength  = 128
)

// Handler handles HTTP requests for the order service
type Handler struct {
	service        *Service
	auth           *middleware.Authenticator
	limiter        *middleware.RateLimiter
	requestTimeout time.Duration
	logger         *logger.Logger
}

// NewHandler creates a new order handler. A nil limiter disables rate limiting.
func NewHandler(service *Service, auth *middleware.Authenticator, limiter *middleware.RateLimiter, requestTimeout time.Duration, log *logger.Logger) *Handler {
	return &Handler{
		service:        service,
		auth:           auth,
		limiter:        limiter,
		requestTimeout: requestTimeout,
		logger:         log,
	}
}

// SetupRoutes sets up the HTTP routes
func (h *Handler) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	const orders = "/api/restaurants/{restaurantID}/orders"

	mux.Handle("POST "+orders, h.public(h.CreateOrder))
	mux.Handle("POST "+orders+"/payment-intent", h.public(h.CreateOrderWithPaymentIntent))
	mux.Handle("POST "+orders+"/{orderID}/confirm-payment", h.public(h.ConfirmPayment))

	mux.Handle("GET "+orders, h.owner(h.ListOrders))
	mux.Handle("GET "+orders+"/{orderID}", h.owner(h.GetOrder))
	mux.Handle("GET "+orders+"/{orderID}/history", h.owner(h.GetOrderHistory))
	mux.Handle("PATCH "+orders+"/{orderID}/status", h.owner(h.UpdateStatus))
	mux.Handle("POST "+orders+"/{orderID}/cash-payment", h.owner(h.RecordCashPayment))

	mux.HandleFunc("POST /api/webhooks/stripe", h.StripeWebhook)
	mux.HandleFunc("GET /api/health", h.HealthCheck)

	return h.withLogging(mux)
}

func (h *Handler) public(next http.HandlerFunc) http.Handler {
	if h.limiter == nil {
		return next
	}
	return h.limiter.Limit(next)
}

func (h *Handler) owner(next http.HandlerFunc) http.Handler {
	return h.auth.RequireOwner(next)
}

// CreateOrder handles POST /api/restaurants/{restaurantID}/orders
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	requestID := logger.RequestIDFromContext(r.Context())

	req, key, ok := h.decodeCheckout(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	order, err := h.service.CreateOrder(ctx, r.PathValue("restaurantID"), req, key)
	if err != nil {
		h.writeServiceError(w, err, requestID, "order_creation_failed")
		return
	}

	h.writeJSON(w, http.StatusOK, order, requestID)
}

// CreateOrderWithPaymentIntent handles POST /api/restaurants/{restaurantID}/orders/payment-intent
func (h *Handler) CreateOrderWithPaymentIntent(w http.ResponseWriter, r *http.Request) {
	requestID := logger.RequestIDFromContext(r.Context())

	req, key, ok := h.decodeCheckout(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	resp, err := h.service.CreateOrderWithPaymentIntent(ctx, r.PathValue("restaurantID"), req, key)
	if err != nil {
		h.writeServiceError(w, err, requestID, "payment_intent_failed")
		return
	}

	h.writeJSON(w, http.StatusOK, resp, requestID)
}

// ConfirmPayment handles POST /api/restaurants/{restaurantID}/orders/{orderID}/confirm-payment
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	requestID := logger.RequestIDFromContext(r.Context())

	var req models.ConfirmPaymentRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	err := h.service.ConfirmPayment(ctx, r.PathValue("restaurantID"), r.PathValue("orderID"), req.PaymentIntentID)
	if err != nil {
		h.writeServiceError(w, err, requestID, "confirm_payment_failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"ok": true}, requestID)
}

// ListOrders handles GET /api/restaurants/{restaurantID}/orders
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	requestID := logger.RequestIDFromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	orders, err := h.service.ListOrders(ctx, r.PathValue("restaurantID"))
	if err != nil {
		h.writeServiceError(w, err, requestID, "list_orders_failed")
		return
	}

	h.writeJSON(w, http.StatusOK, orders, requestID)
}

// GetOrder handles GET /api/restaurants/{restaurantID}/orders/{orderID}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	requestID := logger.RequestIDFromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	order, err := h.service.GetOrder(ctx, r.PathValue("restaurantID"), r.PathValue("orderID"))
	if err != nil {
		h.writeServiceError(w, err, requestID, "get_order_failed")
		return
	}

	h.writeJSON(w, http.StatusOK, order, requestID)
}

// GetOrderHistory handles GET /api/restaurants/{restaurantID}/orders/{orderID}/history
func (h *Handler) GetOrderHistory(w http.ResponseWriter, r *http.Request) {
	requestID := logger.RequestIDFromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	history, err := h.service.GetOrderHistory(ctx, r.PathValue("restaurantID"), r.PathValue("orderID"))
	if err != nil {
		h.writeServiceError(w, err, requestID, "get_history_failed")
		return
	}

	h.writeJSON(w, http.StatusOK, history, requestID)
}

// UpdateStatus handles PATCH /api/restaurants/{restaurantID}/orders/{orderID}/status
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	requestID := logger.RequestIDFromContext(r.Context())

	var req models.UpdateStatusRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	order, err := h.service.RequestStatusTransition(ctx, r.PathValue("restaurantID"), r.PathValue("orderID"), req.Status, h.changedBy(r))
	if err != nil {
		h.writeServiceError(w, err, requestID, "status_update_failed")
		return
	}

	h.writeJSON(w, http.StatusOK, order, requestID)
}

// RecordCashPayment handles POST /api/restaurants/{restaurantID}/orders/{orderID}/cash-payment
func (h *Handler) RecordCashPayment(w http.ResponseWriter, r *http.Request) {
	requestID := logger.RequestIDFromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	order, err := h.service.RecordCashPayment(ctx, r.PathValue("restaurantID"), r.PathValue("orderID"), h.changedBy(r))
	if err != nil {
		h.writeServiceError(w, err, requestID, "cash_payment_failed")
		return
	}

	h.writeJSON(w, http.StatusOK, order, requestID)
}

// StripeWebhook handles POST /api/webhooks/stripe. The body is read raw because
// the signature covers the exact bytes.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	requestID := logger.RequestIDFromContext(r.Context())

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.logger.Warn("webhook_read_failed", "Failed to read webhook body", requestID, map[string]interface{}{"error": err.Error()})
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid webhook body", requestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	if err := h.service.HandleProviderWebhook(ctx, payload, r.Header.Get("Stripe-Signature")); err != nil {
		h.writeServiceError(w, err, requestID, "webhook_failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"received": true}, requestID)
}

// HealthCheck handles GET /api/health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	healthy := h.service.HealthCheck(ctx)

	response := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "order-service",
		"healthy":   healthy,
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
		response["status"] = "unhealthy"
	}

	h.writeJSON(w, status, response, logger.RequestIDFromContext(r.Context()))
}

func (h *Handler) changedBy(r *http.Request) string {
	if owner, ok := middleware.OwnerFromContext(r.Context()); ok {
		return owner
	}
	return "staff"
}

func (h *Handler) decodeCheckout(w http.ResponseWriter, r *http.Request) (*models.CreateOrderRequest, string, bool) {
	requestID := logger.RequestIDFromContext(r.Context())

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(key) > maxIdempotencyKey {
		h.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Idempotency-Key must be at most %d characters", maxIdempotencyKey), requestID)
		return nil, "", false
	}

	var req models.CreateOrderRequest
	if !h.decodeJSON(w, r, &req) {
		return nil, "", false
	}

	h.logger.Debug("order_received", "Received checkout request", requestID, map[string]interface{}{
		"restaurant_id":   r.PathValue("restaurantID"),
		"items":           len(req.Items),
		"payment_method":  req.PaymentMethod,
		"idempotency_key": key != "",
	})
	return &req, key, true
}

// decodeJSON reads a strict JSON body into v and writes the 400 itself on failure
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	requestID := logger.RequestIDFromContext(r.Context())

	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		h.writeErrorResponse(w, http.StatusBadRequest, "Content-Type must be application/json", requestID)
		return false
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		h.logger.Warn("validation_failed", "Failed to parse request body", requestID, map[string]interface{}{"error": err.Error()})

		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeErrorResponse(w, http.StatusRequestEntityTooLarge, "Request body too large", requestID)
			return false
		}
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON format", requestID)
		return false
	}
	return true
}

// writeServiceError maps a lifecycle error onto a status code
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, requestID, action string) {
	var validation models.ValidationError
	var transition models.InvalidTransitionError

	switch {
	case errors.As(err, &validation):
		h.writeErrorResponse(w, http.StatusBadRequest, validation.Error(), requestID)
	case errors.As(err, &transition):
		h.writeErrorResponse(w, http.StatusBadRequest, transition.Error(), requestID)
	case errors.Is(err, models.ErrOrderNotFound):
		h.writeErrorResponse(w, http.StatusNotFound, "Order not found", requestID)
	case errors.Is(err, models.ErrPaymentMismatch), errors.Is(err, models.ErrPaymentIncomplete):
		h.writeErrorResponse(w, http.StatusBadRequest, rootMessage(err), requestID)
	case errors.Is(err, models.ErrSignature):
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid signature", requestID)
	case errors.Is(err, models.ErrIdempotencyInProgress):
		h.writeErrorResponse(w, http.StatusConflict, models.ErrIdempotencyInProgress.Error(), requestID)
	case errors.Is(err, models.ErrUpstream):
		h.logger.Error(action, "Payment provider call failed", requestID, err, nil)
		h.writeErrorResponse(w, http.StatusBadGateway, "Payment provider unavailable", requestID)
	default:
		h.logger.Error(action, "Request failed", requestID, err, nil)
		h.writeErrorResponse(w, http.StatusInternalServerError, "Internal server error", requestID)
	}
}

// rootMessage returns the sentinel text for payment errors so wrapped details stay in the logs
func rootMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrPaymentMismatch):
		return models.ErrPaymentMismatch.Error()
	case errors.Is(err, models.ErrPaymentIncomplete):
		return models.ErrPaymentIncomplete.Error()
	}
	return err.Error()
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("response_encoding_failed", "Failed to encode response", requestID, err, nil)
	}
}

// writeErrorResponse writes an error response in JSON format
func (h *Handler) writeErrorResponse(w http.ResponseWriter, statusCode int, message, requestID string) {
	middleware.WriteError(w, statusCode, message, requestID)
}

// withLogging assigns the request id and logs every request
func (h *Handler) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = logger.GenerateRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)
		r = r.WithContext(logger.WithRequestID(r.Context(), requestID))

		h.logger.Debug("request_started",
			fmt.Sprintf("%s %s", r.Method, r.URL.Path),
			requestID,
			map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"remote_addr": r.RemoteAddr,
				"user_agent":  r.Header.Get("User-Agent"),
			})

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		h.logger.Info("request_completed",
			fmt.Sprintf("%s %s - %d", r.Method, r.URL.Path, rw.statusCode),
			requestID,
			map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status_code": rw.statusCode,
				"duration_ms": time.Since(start).Milliseconds(),
			})
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
