package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/auth"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
)

type totalsReader interface {
	AggregateTotals(ctx context.Context) (*repository.AggregateTotals, error)
}

type reverser interface {
	Reverse(ctx context.Context, transactionID uuid.UUID, reason string) (*domain.Transaction, error)
}

// AdminHandler serves operator-only endpoints. Routes must be wrapped in
// middleware.RequireAdmin.
type AdminHandler struct {
	totals   totalsReader
	reverser reverser
}

func NewAdminHandler(totals totalsReader, reverser reverser) *AdminHandler {
	return &AdminHandler{totals: totals, reverser: reverser}
}

type totalsDTO struct {
	TotalHTG        int64 `json:"total_htg"`
	TotalUSD        int64 `json:"total_usd"`
	UserCount       int64 `json:"user_count"`
	PendingKYCCount int64 `json:"pending_kyc_count"`
}

type reverseRequest struct {
	Reason string `json:"reason"`
}

func (r reverseRequest) Validate() []FieldError {
	if r.Reason == "" {
		return []FieldError{{Field: "reason", Message: "required"}}
	}
	return nil
}

func (h *AdminHandler) AggregateTotals(w http.ResponseWriter, r *http.Request) {
	t, err := h.totals.AggregateTotals(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("aggregate totals failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, totalsDTO{
		TotalHTG:        t.TotalHTG,
		TotalUSD:        t.TotalUSD,
		UserCount:       t.UserCount,
		PendingKYCCount: t.PendingKYCCount,
	})
}

func (h *AdminHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	transactionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrTransactionNotFound, nil)
		return
	}

	var req reverseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	t, err := h.reverser.Reverse(r.Context(), transactionID, req.Reason)
	if err != nil {
		log.Warn("reversal failed", "transaction_id", transactionID, "error", err)
		RespondDomainError(w, err)
		return
	}

	p, _ := auth.PrincipalFromContext(r.Context())
	log.Info("transaction reversed", "transaction_id", transactionID, "reversal_id", t.ID, "operator_id", p.UserID)
	RespondSuccess(w, http.StatusCreated, toTransactionDTO(t))
}
