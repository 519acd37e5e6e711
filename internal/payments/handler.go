package payments

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/prepdeck/payments-backend/internal/chain"
	"github.com/prepdeck/payments-backend/internal/middleware"
	"github.com/prepdeck/payments-backend/internal/models"
	"github.com/prepdeck/payments-backend/internal/reconcile"
	"github.com/prepdeck/payments-backend/internal/repository"
)

// PaymentCreator is the store subset needed to open a purchase flow.
type PaymentCreator interface {
	Create(ctx context.Context, p *models.PaymentRecord) error
}

// Reconciler runs the verification sequence.
type Reconciler interface {
	VerifyPayment(ctx context.Context, in reconcile.VerifyPaymentInput) (*reconcile.VerifyPaymentOutput, error)
}

// AccountReader reads user accounts.
type AccountReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// LedgerReader lists a user's ledger entries.
type LedgerReader interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.CreditLedgerEntry, error)
}

// Handler serves the payment and credit endpoints.
type Handler struct {
	Payments   PaymentCreator
	Reconciler Reconciler
	Accounts   AccountReader
	Ledger     LedgerReader

	Recipient        string
	MinPurchaseCents int64
	Logger           *slog.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// --- POST /api/v1/payments ---

type createPaymentRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Token       string `json:"token"`
}

type createPaymentResponse struct {
	TransactionID string `json:"transaction_id"`
	Recipient     string `json:"recipient"`
	AmountCents   int64  `json:"amount_cents"`
	Token         string `json:"token"`
	Status        string `json:"status"`
}

// CreatePayment opens a purchase flow: it creates a pending record under a
// placeholder transaction id and tells the client where to send funds. The
// record is later rebound to the real signature during verification.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.AmountCents < h.MinPurchaseCents {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":              "amount below minimum purchase",
			"min_purchase_cents": h.MinPurchaseCents,
		})
		return
	}
	if !models.ValidTokens[req.Token] {
		http.Error(w, `{"error":"unsupported token"}`, http.StatusBadRequest)
		return
	}

	record := &models.PaymentRecord{
		TransactionID: models.NewPlaceholderID(),
		UserID:        userID,
		AmountCents:   req.AmountCents,
		Token:         req.Token,
		Recipient:     h.Recipient,
		Status:        models.PaymentStatusPending,
	}
	if err := h.Payments.Create(r.Context(), record); err != nil {
		h.Logger.Error("create payment record", "user_id", userID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, createPaymentResponse{
		TransactionID: record.TransactionID,
		Recipient:     record.Recipient,
		AmountCents:   record.AmountCents,
		Token:         record.Token,
		Status:        record.Status,
	})
}

// --- POST /api/v1/payments/verify ---

type verifyPaymentRequest struct {
	TransactionID       string `json:"transaction_id"`
	ExpectedAmountCents int64  `json:"expected_amount_cents,omitempty"`
	ExpectedToken       string `json:"expected_token,omitempty"`
}

type verifyPaymentResponse struct {
	Success      bool   `json:"success"`
	CreditsAdded int    `json:"credits_added,omitempty"`
	Error        string `json:"error,omitempty"`
	Retryable    bool   `json:"retryable,omitempty"`
}

// VerifyPayment handles the verification entry point. Authentication is
// optional: without a user id an otherwise-valid payment is acknowledged but
// no credits are granted.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.TransactionID == "" {
		http.Error(w, `{"error":"transaction_id is required"}`, http.StatusBadRequest)
		return
	}

	out, err := h.Reconciler.VerifyPayment(r.Context(), reconcile.VerifyPaymentInput{
		TransactionID:       req.TransactionID,
		UserID:              middleware.UserFromCtx(r.Context()),
		ExpectedAmountCents: req.ExpectedAmountCents,
		ExpectedToken:       req.ExpectedToken,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, verifyPaymentResponse{
			Success:      out.Success,
			CreditsAdded: out.CreditsAdded,
		})
	case errors.Is(err, reconcile.ErrVerificationFailed):
		writeJSON(w, http.StatusPaymentRequired, verifyPaymentResponse{
			Success: false,
			Error:   err.Error(),
		})
	case errors.Is(err, reconcile.ErrDatabaseUpdate):
		h.Logger.Error("reconciliation database update failed",
			"transaction_id", req.TransactionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, verifyPaymentResponse{
			Success: false,
			Error:   "payment verified but crediting could not be confirmed; contact support",
		})
	case chain.IsTransient(err):
		writeJSON(w, http.StatusServiceUnavailable, verifyPaymentResponse{
			Success:   false,
			Error:     "temporary error verifying payment, please retry",
			Retryable: true,
		})
	default:
		h.Logger.Error("verify payment", "transaction_id", req.TransactionID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, verifyPaymentResponse{
			Success:   false,
			Error:     "temporary error, please retry",
			Retryable: true,
		})
	}
}

// --- GET /api/v1/credits/balance ---

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	account, err := h.Accounts.GetByID(r.Context(), userID)
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, `{"error":"account not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		h.Logger.Error("get balance", "user_id", userID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"credit_balance":      account.CreditBalance,
		"free_interview_used": account.FreeInterview,
	})
}

// --- GET /api/v1/credits/ledger ---

func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	entries, err := h.Ledger.ListByUser(r.Context(), userID)
	if err != nil {
		h.Logger.Error("list ledger", "user_id", userID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.CreditLedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
