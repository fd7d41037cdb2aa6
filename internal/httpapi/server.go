// Package httpapi exposes the settlement core over REST plus the gateway
// webhook endpoint. Handlers translate transport concerns only; all rules
// live in the domain and service layers.
package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/nikolayk812/marketcore/internal/domain"
	"github.com/nikolayk812/marketcore/internal/port"
	"github.com/nikolayk812/marketcore/internal/service"
)

const signatureHeader = "X-Gateway-Signature"

type Server struct {
	checkout    *service.Checkout
	payments    *service.PaymentOps
	refunds     *service.RefundManager
	returns     *service.Returns
	coordinator *service.Coordinator
	repos       port.RepositorySet
	log         *slog.Logger

	webhookSecret []byte
}

func NewServer(
	checkout *service.Checkout,
	payments *service.PaymentOps,
	refunds *service.RefundManager,
	returns *service.Returns,
	coordinator *service.Coordinator,
	repos port.RepositorySet,
	webhookSecret string,
	log *slog.Logger,
) (*Server, error) {
	if checkout == nil || payments == nil || refunds == nil || returns == nil || coordinator == nil {
		return nil, fmt.Errorf("all services required")
	}
	if webhookSecret == "" {
		return nil, fmt.Errorf("webhook secret required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Server{
		checkout:      checkout,
		payments:      payments,
		refunds:       refunds,
		returns:       returns,
		coordinator:   coordinator,
		repos:         repos,
		webhookSecret: []byte(webhookSecret),
		log:           log,
	}, nil
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/orders", s.placeOrder)
		r.Get("/orders/{orderID}", s.getOrder)
		r.Post("/orders/{orderID}/status", s.updateOrderStatus)
		r.Post("/orders/{orderID}/confirm-payment", s.confirmPayment)
		r.Post("/orders/{orderID}/returns", s.requestReturn)
		r.Post("/orders/{orderID}/returns/{returnID}/resolve", s.resolveReturn)

		r.Get("/payments/{paymentID}", s.getPayment)
		r.Post("/payments/{paymentID}/authorize", s.authorizePayment)
		r.Post("/payments/{paymentID}/capture", s.capturePayment)
		r.Post("/payments/{paymentID}/void", s.voidPayment)
		r.Post("/payments/{paymentID}/refunds", s.requestRefund)
		r.Post("/payments/{paymentID}/disputes", s.openDispute)
		r.Post("/payments/{paymentID}/disputes/{disputeID}/resolve", s.resolveDispute)
	})

	r.Post("/webhooks/gateway", s.gatewayWebhook)

	return r
}

type placeOrderRequest struct {
	BuyerID string `json:"buyer_id"`
	Method  string `json:"method"`
	Items   []struct {
		ProductID uuid.UUID    `json:"product_id"`
		VendorID  uuid.UUID    `json:"vendor_id"`
		StoreID   uuid.UUID    `json:"store_id"`
		Category  string       `json:"category"`
		UnitPrice domain.Money `json:"unit_price"`
		Quantity  int32        `json:"quantity"`
	} `json:"items"`
	Discount       domain.Money `json:"discount"`
	CouponDiscount domain.Money `json:"coupon_discount"`
	Tax            domain.Money `json:"tax"`
	Shipping       domain.Money `json:"shipping"`
	Insurance      domain.Money `json:"insurance"`
	Handling       domain.Money `json:"handling"`
}

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	input := service.PlaceOrderInput{
		BuyerID:        req.BuyerID,
		Method:         req.Method,
		Discount:       req.Discount,
		CouponDiscount: req.CouponDiscount,
		Tax:            req.Tax,
		Shipping:       req.Shipping,
		Insurance:      req.Insurance,
		Handling:       req.Handling,
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, service.ItemInput{
			ProductID: item.ProductID,
			VendorID:  item.VendorID,
			StoreID:   item.StoreID,
			Category:  item.Category,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}

	order, payment, err := s.checkout.PlaceOrder(r.Context(), input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"order":   order,
		"payment": payment,
	})
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "orderID", Reason: "must be a uuid"})
		return
	}

	order, err := s.repos.Orders.GetOrder(r.Context(), orderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, order)
}

type statusUpdateRequest struct {
	Target   domain.OrderStatus `json:"target"`
	VendorID uuid.UUID          `json:"vendor_id,omitempty"`
	ItemID   uuid.UUID          `json:"item_id,omitempty"`
	Tracking string             `json:"tracking,omitempty"`
	Carrier  string             `json:"carrier,omitempty"`
	Actor    string             `json:"actor"`
	Note     string             `json:"note,omitempty"`
}

func (s *Server) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "orderID", Reason: "must be a uuid"})
		return
	}

	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	order, err := s.coordinator.UpdateOrderStatus(r.Context(), service.StatusUpdateInput{
		OrderID:  orderID,
		Target:   req.Target,
		VendorID: req.VendorID,
		ItemID:   req.ItemID,
		Tracking: req.Tracking,
		Carrier:  req.Carrier,
		Actor:    req.Actor,
		Note:     req.Note,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, order)
}

func (s *Server) confirmPayment(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "orderID", Reason: "must be a uuid"})
		return
	}

	order, err := s.coordinator.ConfirmPayment(r.Context(), orderID, actorOr(r, "admin"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, order)
}

type returnRequest struct {
	ItemIDs []uuid.UUID `json:"item_ids"`
	Reason  string      `json:"reason"`
	Actor   string      `json:"actor"`
}

func (s *Server) requestReturn(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "orderID", Reason: "must be a uuid"})
		return
	}

	var req returnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	request, err := s.returns.Request(r.Context(), orderID, req.ItemIDs, req.Reason, req.Actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, request)
}

func (s *Server) resolveReturn(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "orderID", Reason: "must be a uuid"})
		return
	}
	returnID, err := uuid.Parse(chi.URLParam(r, "returnID"))
	if err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "returnID", Reason: "must be a uuid"})
		return
	}

	var req struct {
		Approved bool   `json:"approved"`
		Actor    string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	request, err := s.returns.Resolve(r.Context(), orderID, returnID, req.Approved, req.Actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, request)
}

func (s *Server) getPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "paymentID", Reason: "must be a uuid"})
		return
	}

	payment, err := s.repos.Payments.GetPayment(r.Context(), paymentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, payment)
}

func (s *Server) authorizePayment(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "paymentID", Reason: "must be a uuid"})
		return
	}

	payment, err := s.payments.Authorize(r.Context(), paymentID, actorOr(r, "system"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, payment)
}

func (s *Server) capturePayment(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "paymentID", Reason: "must be a uuid"})
		return
	}

	var req struct {
		Amount domain.Money `json:"amount"`
		Actor  string       `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	payment, err := s.payments.Capture(r.Context(), paymentID, req.Amount, req.Actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, payment)
}

func (s *Server) voidPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "paymentID", Reason: "must be a uuid"})
		return
	}

	payment, err := s.payments.Void(r.Context(), paymentID, actorOr(r, "system"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, payment)
}

type refundRequest struct {
	Amount domain.Money `json:"amount"`
	Reason string       `json:"reason"`
	Actor  string       `json:"actor"`
}

func (s *Server) requestRefund(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "paymentID", Reason: "must be a uuid"})
		return
	}

	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	refund, err := s.refunds.RequestRefund(r.Context(), paymentID, req.Amount, req.Reason, req.Actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, refund)
}

type disputeRequest struct {
	Reason  string       `json:"reason"`
	Amount  domain.Money `json:"amount"`
	DueDate *time.Time   `json:"due_date,omitempty"`
	Actor   string       `json:"actor"`
}

func (s *Server) openDispute(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "paymentID", Reason: "must be a uuid"})
		return
	}

	var req disputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	dispute, err := s.refunds.OpenDispute(r.Context(), paymentID, req.Reason, req.Amount, req.DueDate, req.Actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, dispute)
}

func (s *Server) resolveDispute(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "paymentID", Reason: "must be a uuid"})
		return
	}
	disputeID, err := uuid.Parse(chi.URLParam(r, "disputeID"))
	if err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "disputeID", Reason: "must be a uuid"})
		return
	}

	var req struct {
		Won   bool   `json:"won"`
		Actor string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	payment, err := s.refunds.ResolveDispute(r.Context(), paymentID, disputeID, req.Won, req.Actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, payment)
}

// gatewayWebhook verifies the HMAC signature over the raw body before any
// parsing; an unverifiable request is rejected without side effects.
func (s *Server) gatewayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	if !s.verifySignature(body, r.Header.Get(signatureHeader)) {
		s.log.WarnContext(r.Context(), "webhook signature rejected")
		s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	}

	var event service.GatewayEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	outcome, err := s.coordinator.ApplyGatewayEvent(r.Context(), event)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if outcome.Duplicate {
		s.writeJSON(w, http.StatusOK, map[string]any{"duplicate": true})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"payment_status": outcome.Payment.Status,
	})
}

func (s *Server) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, s.webhookSecret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError

	var (
		validation domain.ValidationError
		invariant  domain.InvariantViolation
		conflict   domain.ConflictError
		gateway    domain.GatewayError
	)

	switch {
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrPaymentNotFound):
		status = http.StatusNotFound
	case errors.As(err, &validation):
		status = http.StatusBadRequest
	case errors.As(err, &invariant), errors.As(err, &conflict):
		status = http.StatusConflict
	case errors.As(err, &gateway):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}

	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func actorOr(r *http.Request, fallback string) string {
	if actor := r.URL.Query().Get("actor"); actor != "" {
		return actor
	}
	return fallback
}
