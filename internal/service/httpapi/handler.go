// Package httpapi: HTTP-интерфейс приёма и просмотра заказов.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashorder/internal/domain"
	"github.com/vladislavdragonenkov/flashorder/internal/service/submission"
)

const (
	// HeaderUserID выставляется gateway после аутентификации.
	HeaderUserID = "X-User-ID"

	maxBodyBytes = 1 << 20

	timestampLayout = "2006-01-02 15:04:05"
)

// OrderService: операции, которые нужны HTTP-слою.
type OrderService interface {
	Submit(ctx context.Context, req submission.SubmitRequest) (submission.SubmitResult, error)
	Lookup(ctx context.Context, publicID string) (domain.Order, error)
}

// PlaceOrderRequest: тело POST /api/orders.
type PlaceOrderRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

// PlaceOrderResponse: ответ на принятый заказ.
type PlaceOrderResponse struct {
	Message       string             `json:"message"`
	OrderPublicID string             `json:"order_public_id"`
	Status        domain.OrderStatus `json:"status"`
}

// OrderResource: представление заказа для клиента.
type OrderResource struct {
	OrderID      string             `json:"order_id"`
	UserID       int64              `json:"user_id"`
	ProductID    int64              `json:"product_id"`
	Quantity     int64              `json:"quantity"`
	TotalPrice   string             `json:"total_price"`
	Status       domain.OrderStatus `json:"status"`
	FailedReason string             `json:"failed_reason,omitempty"`
	CreatedAt    string             `json:"created_at"`
	UpdatedAt    string             `json:"updated_at"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// Handler обслуживает /api/orders.
type Handler struct {
	orders OrderService
	logger *log.Entry
}

// NewHandler создаёт HTTP-обработчик заказов.
func NewHandler(orders OrderService, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	return &Handler{orders: orders, logger: logger}
}

// Register регистрирует маршруты в mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", h.placeOrder)
	mux.HandleFunc("GET /api/orders/{public_id}", h.getOrder)
}

// Routes возвращает отдельный mux с маршрутами API и логированием запросов.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.Register(mux)
	return h.logRequests(mux)
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromRequest(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Message: "missing or invalid " + HeaderUserID})
		return
	}

	var body PlaceOrderRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(&body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Message: "invalid request body"})
		return
	}

	result, err := h.orders.Submit(r.Context(), submission.SubmitRequest{
		UserID:    userID,
		ProductID: body.ProductID,
		Quantity:  body.Quantity,
	})
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.WithError(err).WithFields(log.Fields{
				"user_id":    userID,
				"product_id": body.ProductID,
				"status":     status,
			}).Warn("order submission failed")
		}
		writeJSON(w, status, errorResponse{Message: messageFor(err)})
		return
	}

	writeJSON(w, http.StatusAccepted, PlaceOrderResponse{
		Message:       "order accepted and is being processed",
		OrderPublicID: result.OrderPublicID,
		Status:        result.Status,
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromRequest(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Message: "missing or invalid " + HeaderUserID})
		return
	}

	order, err := h.orders.Lookup(r.Context(), r.PathValue("public_id"))
	if err != nil {
		if !errors.Is(err, domain.ErrOrderNotFound) {
			h.logger.WithError(err).Warn("order lookup failed")
		}
		writeJSON(w, statusFor(err), errorResponse{Message: messageFor(err)})
		return
	}
	// Чужой заказ неотличим от отсутствующего.
	if order.UserID != userID {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: domain.ErrOrderNotFound.Error()})
		return
	}

	writeJSON(w, http.StatusOK, NewOrderResource(order))
}

// NewOrderResource собирает клиентское представление заказа.
func NewOrderResource(order domain.Order) OrderResource {
	return OrderResource{
		OrderID:      order.PublicID,
		UserID:       order.UserID,
		ProductID:    order.ProductID,
		Quantity:     order.Quantity,
		TotalPrice:   order.TotalPrice.StringFixed(2),
		Status:       order.Status,
		FailedReason: order.FailureReason,
		CreatedAt:    order.CreatedAt.UTC().Format(timestampLayout),
		UpdatedAt:    order.UpdatedAt.UTC().Format(timestampLayout),
	}
}

func userFromRequest(r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// statusFor переводит доменную ошибку в HTTP-статус.
func statusFor(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusUnprocessableEntity
	case domain.IsInsufficientStock(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrProductNotFound), errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrQueueUnavailable), errors.Is(err, domain.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(err error) string {
	switch {
	case domain.IsValidation(err):
		for _, known := range []error{domain.ErrQuantityInvalid, domain.ErrUserRequired, domain.ErrProductRequired} {
			if errors.Is(err, known) {
				return known.Error()
			}
		}
	case domain.IsInsufficientStock(err):
		return "insufficient stock, order rejected"
	case errors.Is(err, domain.ErrProductNotFound):
		return domain.ErrProductNotFound.Error()
	case errors.Is(err, domain.ErrOrderNotFound):
		return domain.ErrOrderNotFound.Error()
	case errors.Is(err, domain.ErrQueueUnavailable), errors.Is(err, domain.ErrLedgerUnavailable):
		return "order processing is busy, please retry later"
	case errors.Is(err, domain.ErrOrderPersist):
		return "failed to create order, please retry"
	}
	return "internal error"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusRecorder запоминает код ответа для логирования.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.WithFields(log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Debug("http request served")
	})
}
