package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/finvera/txn-engine/internal/api/httpx"
	"github.com/finvera/txn-engine/internal/api/validate"
	"github.com/finvera/txn-engine/internal/models"
	repo "github.com/finvera/txn-engine/internal/repository"
	"github.com/finvera/txn-engine/internal/services"
)

type TransactionHandler struct {
	Intake   *services.IntakeService
	Reversal *services.ReversalService
	Trx      repo.Transactions
	History  repo.StatusHistory
}

func NewTransactionHandler(intake *services.IntakeService, rev *services.ReversalService, trx repo.Transactions, hist repo.StatusHistory) *TransactionHandler {
	return &TransactionHandler{Intake: intake, Reversal: rev, Trx: trx, History: hist}
}

// createReq accepts the aliases legacy clients send. normalize() collapses it
// into the single canonical intake shape; nothing downstream sees aliases.
type createReq struct {
	Type        string          `json:"type"`
	Source      string          `json:"source"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`

	From          string `json:"from"`
	FromAccount   string `json:"from_account"`
	SourceAccount string `json:"source_account"`
	FromWallet    string `json:"from_wallet"`

	To                 string `json:"to"`
	ToAccount          string `json:"to_account"`
	DestinationAccount string `json:"destination_account"`
	ToWallet           string `json:"to_wallet"`

	MaxRetries *int `json:"max_retries"`
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (r createReq) normalize() services.CreateInput {
	source := strings.ToLower(r.Source)
	if source == "" {
		source = string(models.SourceAPI)
	}
	return services.CreateInput{
		Type:        models.TransactionType(strings.ToLower(r.Type)),
		Source:      models.TransactionSource(source),
		Amount:      r.Amount,
		Currency:    strings.ToUpper(r.Currency),
		Description: r.Description,
		From:        firstNonEmpty(r.From, r.FromAccount, r.SourceAccount, r.FromWallet),
		To:          firstNonEmpty(r.To, r.ToAccount, r.DestinationAccount, r.ToWallet),
		MaxRetries:  r.MaxRetries,
	}
}

func (h *TransactionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid json", nil)
		return
	}
	tx, err := h.Intake.Create(r.Context(), req.normalize())
	if err != nil {
		var verrs validate.Errs
		if errors.As(err, &verrs) {
			httpx.WriteError(w, http.StatusBadRequest, "validation_failed", verrs.Error(), verrs)
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "could not create transaction", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, tx)
}

type reverseReq struct {
	Reason string `json:"reason"`
}

func (h *TransactionHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req reverseReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid json", nil)
		return
	}
	if e := validate.Required("reason", req.Reason); e != nil {
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", e.Field+": "+e.Msg, validate.Errs{*e})
		return
	}
	rev, err := h.Reversal.Reverse(r.Context(), id, req.Reason)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "transaction not found", nil)
	case errors.Is(err, services.ErrNotCompleted):
		httpx.WriteError(w, http.StatusConflict, "not_completed", err.Error(), nil)
	case errors.Is(err, services.ErrAlreadyReversed):
		httpx.WriteError(w, http.StatusConflict, "already_reversed", err.Error(), nil)
	case err != nil:
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "could not reverse transaction", nil)
	default:
		httpx.WriteJSON(w, http.StatusCreated, rev)
	}
}

type txnWithHistory struct {
	Transaction models.Transaction                `json:"transaction"`
	History     []models.TransactionStatusHistory `json:"history"`
}

func (h *TransactionHandler) withHistory(r *http.Request, tx models.Transaction) (txnWithHistory, error) {
	hist, err := h.History.ListByTransaction(r.Context(), tx.ID)
	if err != nil {
		return txnWithHistory{}, err
	}
	return txnWithHistory{Transaction: tx, History: hist}, nil
}

func (h *TransactionHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Trx.GetByID(r.Context(), chi.URLParam(r, "id"))
	h.writeOne(w, r, tx, err)
}

func (h *TransactionHandler) GetByReference(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Trx.GetByReference(r.Context(), chi.URLParam(r, "reference"))
	h.writeOne(w, r, tx, err)
}

func (h *TransactionHandler) writeOne(w http.ResponseWriter, r *http.Request, tx models.Transaction, err error) {
	if errors.Is(err, repo.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "transaction not found", nil)
		return
	}
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "lookup failed", nil)
		return
	}
	out, err := h.withHistory(r, tx)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "lookup failed", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f repo.ListFilter

	if v := q.Get("status"); v != "" {
		st := models.TransactionStatus(strings.ToLower(v))
		f.Status = &st
	}
	if v := q.Get("account"); v != "" {
		f.AccountID = &v
	}
	if v := q.Get("wallet"); v != "" {
		f.WalletID = &v
	}
	if v := q.Get("from"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			f.From = &ts
		}
	}
	if v := q.Get("to"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			f.To = &ts
		}
	}
	f.Limit = 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			f.Offset = n
		}
	}

	txs, err := h.Trx.List(r.Context(), f)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "list failed", nil)
		return
	}
	out := make([]txnWithHistory, 0, len(txs))
	for _, tx := range txs {
		item, err := h.withHistory(r, tx)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "list failed", nil)
			return
		}
		out = append(out, item)
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}
