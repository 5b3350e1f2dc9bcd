// Package handler exposes the HTTP trigger surface: storefront webhooks
// and the scheduled maintenance job.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-perks/internal/catalog"
	"github.com/xenking/storefront-perks/internal/mail"
	"github.com/xenking/storefront-perks/internal/maintenance"
	"github.com/xenking/storefront-perks/internal/welcome"
)

// Issuer issues welcome codes. Implemented by *welcome.Service.
type Issuer interface {
	Issue(ctx context.Context, rawCustomerID string) (welcome.IssueResult, error)
}

// Sweeper runs maintenance. Implemented by *maintenance.Sweeper.
type Sweeper interface {
	Run(ctx context.Context) (*maintenance.Report, error)
}

// Mailer sends the transactional emails. Implemented by *mail.Service.
type Mailer interface {
	SendWelcome(ctx context.Context, p mail.WelcomeParams) error
	SendBackInStock(ctx context.Context, p mail.BackInStockParams) error
}

// CustomerReader loads customer records for email delivery.
type CustomerReader interface {
	GetCustomer(ctx context.Context, customerID int64) (*catalog.Customer, error)
}

// Config holds the shared secrets gating the trigger endpoints.
type Config struct {
	// WebhookSecret gates the storefront webhook endpoints.
	WebhookSecret string
	// CronSecret gates the scheduled maintenance endpoint.
	CronSecret string
}

// Handler wires the trigger endpoints to the domain services.
type Handler struct {
	issuer    Issuer
	sweeper   Sweeper
	mailer    Mailer
	customers CustomerReader
	cfg       Config
}

// NewHandler constructs a Handler with the required dependencies.
func NewHandler(cfg Config, issuer Issuer, sweeper Sweeper, mailer Mailer, customers CustomerReader) *Handler {
	return &Handler{
		issuer:    issuer,
		sweeper:   sweeper,
		mailer:    mailer,
		customers: customers,
		cfg:       cfg,
	}
}

// Routes registers all endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/customers", requireSecret(h.cfg.WebhookSecret, h.handleCustomerCreated))
	mux.HandleFunc("POST /webhooks/back-in-stock", requireSecret(h.cfg.WebhookSecret, h.handleBackInStock))
	mux.HandleFunc("POST /jobs/maintenance", requireSecret(h.cfg.CronSecret, h.handleMaintenance))
}

// flexID accepts a customer identifier as either a JSON string or a JSON
// number, since storefront webhook payloads are inconsistent about it.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type customerCreatedRequest struct {
	CustomerID       flexID `json:"customer_id"`
	SendWelcomeEmail bool   `json:"send_welcome_email"`
}

func (h *Handler) handleCustomerCreated(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req customerCreatedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "customer_id is required")
		return
	}

	res, err := h.issuer.Issue(ctx, string(req.CustomerID))
	if err != nil {
		switch {
		case errors.Is(err, welcome.ErrBadCustomerID):
			writeError(w, http.StatusBadRequest, "malformed customer id")
		case errors.Is(err, welcome.ErrAttemptsExhausted):
			writeError(w, http.StatusBadGateway, "could not allocate a unique code")
		default:
			zctx.From(ctx).Error("Issuance failed", zap.Error(err))
			writeError(w, http.StatusBadGateway, "issuance failed")
		}
		return
	}

	if req.SendWelcomeEmail && !res.Reused {
		// Email delivery is best effort: the code is already issued and
		// recorded, and a second welcome email is worse than none.
		if err := h.sendWelcomeEmail(ctx, string(req.CustomerID), res.Code); err != nil {
			zctx.From(ctx).Warn("Welcome email not sent", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, struct {
		Code   string `json:"code"`
		Reused bool   `json:"reused"`
	}{Code: res.Code, Reused: res.Reused})
}

func (h *Handler) sendWelcomeEmail(ctx context.Context, rawCustomerID, code string) error {
	id, err := welcome.ParseCustomerID(rawCustomerID)
	if err != nil {
		return err
	}
	customer, err := h.customers.GetCustomer(ctx, id.Int64())
	if err != nil {
		return err
	}
	return h.mailer.SendWelcome(ctx, mail.WelcomeParams{
		To:           customer.Email,
		CustomerName: customer.FirstName,
		Code:         code,
	})
}

type backInStockRequest struct {
	CustomerID  flexID `json:"customer_id"`
	ProductName string `json:"product_name"`
	ProductURL  string `json:"product_url"`
}

func (h *Handler) handleBackInStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req backInStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.CustomerID == "" || req.ProductName == "" || req.ProductURL == "" {
		writeError(w, http.StatusBadRequest, "customer_id, product_name and product_url are required")
		return
	}

	id, err := welcome.ParseCustomerID(string(req.CustomerID))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed customer id")
		return
	}

	customer, err := h.customers.GetCustomer(ctx, id.Int64())
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "customer not found")
			return
		}
		zctx.From(ctx).Error("Customer lookup failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "customer lookup failed")
		return
	}

	err = h.mailer.SendBackInStock(ctx, mail.BackInStockParams{
		To:           customer.Email,
		CustomerName: customer.FirstName,
		ProductName:  req.ProductName,
		ProductURL:   req.ProductURL,
	})
	if err != nil {
		zctx.From(ctx).Error("Back-in-stock email failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "email delivery failed")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rep, err := h.sweeper.Run(ctx)
	if err != nil {
		failedAt := time.Now().UTC()
		zctx.From(ctx).Error("Maintenance run failed",
			zap.Error(err),
			zap.Time("failed_at", failedAt),
		)
		writeJSON(w, http.StatusBadGateway, struct {
			Code     int    `json:"code"`
			Message  string `json:"message"`
			FailedAt string `json:"failed_at"`
		}{
			Code:     http.StatusBadGateway,
			Message:  "maintenance run failed",
			FailedAt: failedAt.Format(time.RFC3339),
		})
		return
	}

	writeJSON(w, http.StatusOK, rep)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}{Code: status, Message: msg})
}
