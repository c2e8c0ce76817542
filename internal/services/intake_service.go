package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/finvera/txn-engine/internal/api/validate"
	"github.com/finvera/txn-engine/internal/limits"
	"github.com/finvera/txn-engine/internal/metrics"
	"github.com/finvera/txn-engine/internal/models"
	"github.com/finvera/txn-engine/internal/reference"
	repo "github.com/finvera/txn-engine/internal/repository"
)

// ErrReferenceExhausted is the internal error raised when every minted
// reference collided. With the generator's entropy this should never fire.
var ErrReferenceExhausted = errors.New("could not mint a unique reference")

const referenceAttempts = 3

const maxRetriesCeiling = 10

// Supported currencies and their minor-unit exponents. Amounts are validated
// against the exponent at intake and never divided afterwards, so the engine
// never needs a rounding mode.
var currencyExponents = map[string]int32{
	"USD": 2, "EUR": 2, "GBP": 2,
	"NGN": 2, "GHS": 2, "KES": 2, "ZAR": 2,
	"JPY": 0,
}

// CreateInput is the canonical intake shape. Alias handling for flexible API
// payloads happens at the HTTP boundary; nothing past this point branches on
// input shape.
type CreateInput struct {
	Type        models.TransactionType
	Source      models.TransactionSource
	Amount      decimal.Decimal
	Currency    string
	Description string

	// Symbolic endpoint identifiers (id or number), resolved here.
	From string
	To   string

	MaxRetries *int

	// Set only by the reversal handler, never from API input.
	IsReversal    bool
	OriginalTxnID *string
}

type IntakeService struct {
	trx      repo.Transactions
	accounts repo.Accounts
	wallets  repo.Wallets
	limits   limits.Checker
	refs     reference.Generator

	defaultMaxRetries int
	log               *slog.Logger
}

func NewIntakeService(t repo.Transactions, a repo.Accounts, w repo.Wallets, lc limits.Checker, g reference.Generator, defaultMaxRetries int, log *slog.Logger) *IntakeService {
	return &IntakeService{trx: t, accounts: a, wallets: w, limits: lc, refs: g, defaultMaxRetries: defaultMaxRetries, log: log}
}

// Create validates and persists a new transaction intent in pending state.
// It never executes anything; the scheduler picks the row up later.
func (s *IntakeService) Create(ctx context.Context, in CreateInput) (models.Transaction, error) {
	if errs := s.validate(in); len(errs) > 0 {
		return models.Transaction{}, errs
	}

	t := models.Transaction{
		Type:        in.Type,
		Source:      in.Source,
		Status:      models.TxnPending,
		Amount:      in.Amount,
		Currency:    strings.ToUpper(in.Currency),
		Description: in.Description,
		MaxRetries:  s.maxRetries(in),
		IsReversal:  in.IsReversal,
	}
	if in.OriginalTxnID != nil {
		id := *in.OriginalTxnID
		t.OriginalTxnID = &id
	}

	ownerID, errs := s.resolveEndpoints(ctx, in, &t)
	if len(errs) > 0 {
		return models.Transaction{}, errs
	}

	decision, err := s.limits.CheckLimits(ctx, ownerID, in.Amount, in.Type)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("limit check: %w", err)
	}
	if !decision.Allowed {
		reason := decision.Reason
		if reason == "" {
			reason = "limit exceeded"
		}
		return models.Transaction{}, validate.Errs{{Field: "amount", Msg: reason}}
	}

	for attempt := 0; attempt < referenceAttempts; attempt++ {
		t.Reference = s.refs.Generate()
		created, err := s.trx.Create(ctx, t)
		if errors.Is(err, repo.ErrDuplicateReference) {
			s.log.Warn("reference collision", "reference", t.Reference, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return models.Transaction{}, err
		}
		metrics.TransactionsCreated.WithLabelValues(string(created.Type), string(created.Source)).Inc()
		return created, nil
	}
	return models.Transaction{}, ErrReferenceExhausted
}

func (s *IntakeService) validate(in CreateInput) validate.Errs {
	var errs validate.Errs
	if !in.Type.Valid() {
		errs = append(errs, validate.ErrField{Field: "type", Msg: "unknown transaction type"})
	}
	if !in.Source.Valid() {
		errs = append(errs, validate.ErrField{Field: "source", Msg: "unknown source"})
	}
	if !in.Amount.IsPositive() {
		errs = append(errs, validate.ErrField{Field: "amount", Msg: "must be > 0"})
	}
	exp, ok := currencyExponents[strings.ToUpper(in.Currency)]
	if !ok {
		errs = append(errs, validate.ErrField{Field: "currency", Msg: "unsupported currency"})
	} else if !in.Amount.Equal(in.Amount.Round(exp)) {
		errs = append(errs, validate.ErrField{Field: "amount", Msg: fmt.Sprintf("more than %d decimal places", exp)})
	}

	if spec, ok := models.EndpointSpecFor(in.Type); ok {
		if spec.FromKind != nil && in.From == "" {
			errs = append(errs, validate.ErrField{Field: "from", Msg: "required for " + string(in.Type)})
		}
		if spec.FromKind == nil && in.From != "" {
			errs = append(errs, validate.ErrField{Field: "from", Msg: "not allowed for " + string(in.Type)})
		}
		if spec.ToKind != nil && in.To == "" {
			errs = append(errs, validate.ErrField{Field: "to", Msg: "required for " + string(in.Type)})
		}
		if spec.ToKind == nil && in.To != "" {
			errs = append(errs, validate.ErrField{Field: "to", Msg: "not allowed for " + string(in.Type)})
		}
		if spec.FromKind != nil && spec.ToKind != nil && *spec.FromKind == *spec.ToKind && in.From != "" && in.From == in.To {
			errs = append(errs, validate.ErrField{Field: "to", Msg: "cannot equal from"})
		}
	}
	return errs
}

// resolveEndpoints turns symbolic identifiers into canonical references on t
// and returns the owner used for the limit check (debit side wins).
func (s *IntakeService) resolveEndpoints(ctx context.Context, in CreateInput, t *models.Transaction) (string, validate.Errs) {
	spec, ok := models.EndpointSpecFor(in.Type)
	if !ok {
		return "", validate.Errs{{Field: "type", Msg: "unknown transaction type"}}
	}
	var errs validate.Errs
	var ownerID string

	resolve := func(field, symbolic string, kind models.EndpointKind) (id, owner string) {
		if kind == models.EndpointAccount {
			a, err := s.accounts.Resolve(ctx, symbolic)
			if err != nil {
				errs = append(errs, validate.ErrField{Field: field, Msg: "account not found"})
				return "", ""
			}
			if !a.Active {
				errs = append(errs, validate.ErrField{Field: field, Msg: "account inactive"})
				return "", ""
			}
			if a.Currency != t.Currency {
				errs = append(errs, validate.ErrField{Field: field, Msg: "currency mismatch"})
				return "", ""
			}
			return a.ID, a.OwnerID
		}
		w, err := s.wallets.Resolve(ctx, symbolic)
		if err != nil {
			errs = append(errs, validate.ErrField{Field: field, Msg: "wallet not found"})
			return "", ""
		}
		if !w.Active {
			errs = append(errs, validate.ErrField{Field: field, Msg: "wallet inactive"})
			return "", ""
		}
		if w.Currency != t.Currency {
			errs = append(errs, validate.ErrField{Field: field, Msg: "currency mismatch"})
			return "", ""
		}
		return w.ID, w.OwnerID
	}

	if spec.FromKind != nil {
		id, owner := resolve("from", in.From, *spec.FromKind)
		if id != "" {
			if *spec.FromKind == models.EndpointAccount {
				t.FromAccountID = &id
			} else {
				t.FromWalletID = &id
			}
			ownerID = owner
		}
	}
	if spec.ToKind != nil {
		id, owner := resolve("to", in.To, *spec.ToKind)
		if id != "" {
			if *spec.ToKind == models.EndpointAccount {
				t.ToAccountID = &id
			} else {
				t.ToWalletID = &id
			}
			if ownerID == "" {
				ownerID = owner
			}
		}
	}
	return ownerID, errs
}

func (s *IntakeService) maxRetries(in CreateInput) int {
	if in.MaxRetries == nil {
		return s.defaultMaxRetries
	}
	n := *in.MaxRetries
	if n < 0 {
		n = 0
	}
	if n > maxRetriesCeiling {
		n = maxRetriesCeiling
	}
	return n
}
