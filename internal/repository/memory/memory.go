// Package memory holds in-memory repository implementations mirroring the
// postgres semantics. They back the service and scheduler tests and the local
// dev mode; they are not meant for production use.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finvera/txn-engine/internal/models"
	repo "github.com/finvera/txn-engine/internal/repository"
)

type Store struct {
	mu      sync.Mutex
	seq     int
	txns    map[string]*models.Transaction
	order   map[string]int // insertion order, tiebreak for equal timestamps
	history map[string][]models.TransactionStatusHistory

	accounts map[string]models.Account // keyed by id and number
	wallets  map[string]models.Wallet
}

func NewStore() *Store {
	return &Store{
		txns:     map[string]*models.Transaction{},
		order:    map[string]int{},
		history:  map[string][]models.TransactionStatusHistory{},
		accounts: map[string]models.Account{},
		wallets:  map[string]models.Wallet{},
	}
}

func (s *Store) SeedAccount(a models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
	s.accounts[a.Number] = a
}

func (s *Store) SeedWallet(w models.Wallet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[w.ID] = w
	s.wallets[w.Number] = w
}

func (s *Store) Transactions() repo.Transactions   { return (*txnRepo)(s) }
func (s *Store) StatusHistory() repo.StatusHistory { return (*historyRepo)(s) }
func (s *Store) Accounts() repo.Accounts           { return (*accountsRepo)(s) }
func (s *Store) Wallets() repo.Wallets             { return (*walletsRepo)(s) }

func (s *Store) appendHistory(txnID string, from *models.TransactionStatus, to models.TransactionStatus, reason *string, retryNumber *int) {
	var fromCopy *models.TransactionStatus
	if from != nil {
		f := *from
		fromCopy = &f
	}
	s.history[txnID] = append(s.history[txnID], models.TransactionStatusHistory{
		ID:            uuid.NewString(),
		TransactionID: txnID,
		FromStatus:    fromCopy,
		ToStatus:      to,
		Reason:        reason,
		RetryNumber:   retryNumber,
		CreatedAt:     time.Now(),
	})
}

func strPtr(s string) *string { return &s }

type txnRepo Store

func (r *txnRepo) Create(_ context.Context, t models.Transaction) (models.Transaction, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.txns {
		if existing.Reference == t.Reference {
			return models.Transaction{}, repo.ErrDuplicateReference
		}
		if t.IsReversal && existing.IsReversal &&
			existing.OriginalTxnID != nil && t.OriginalTxnID != nil &&
			*existing.OriginalTxnID == *t.OriginalTxnID {
			return models.Transaction{}, repo.ErrReversalExists
		}
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now()
	t.Status = models.TxnPending
	t.RetryCount = 0
	t.CreatedAt = now
	t.UpdatedAt = now

	cp := t
	s.txns[t.ID] = &cp
	s.seq++
	s.order[t.ID] = s.seq
	s.appendHistory(t.ID, nil, models.TxnPending, strPtr("created"), nil)
	return t, nil
}

func (r *txnRepo) GetByID(_ context.Context, id string) (models.Transaction, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	if !ok {
		return models.Transaction{}, repo.ErrNotFound
	}
	return *t, nil
}

func (r *txnRepo) GetByReference(_ context.Context, ref string) (models.Transaction, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.txns {
		if t.Reference == ref {
			return *t, nil
		}
	}
	return models.Transaction{}, repo.ErrNotFound
}

func (r *txnRepo) ClaimDue(_ context.Context, limit int, now time.Time) ([]models.Transaction, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending, retry []*models.Transaction
	for _, t := range s.txns {
		switch {
		case t.Status == models.TxnPending:
			pending = append(pending, t)
		case t.Status == models.TxnFailed && t.RetryCount < t.MaxRetries &&
			t.NextRetryAt != nil && !t.NextRetryAt.After(now):
			retry = append(retry, t)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return s.order[pending[i].ID] < s.order[pending[j].ID] })
	sort.Slice(retry, func(i, j int) bool { return retry[i].NextRetryAt.Before(*retry[j].NextRetryAt) })
	if len(pending) > limit {
		pending = pending[:limit]
	}
	if len(retry) > limit {
		retry = retry[:limit]
	}

	var out []models.Transaction
	for _, t := range pending {
		from := t.Status
		t.Status = models.TxnProcessing
		t.UpdatedAt = time.Now()
		s.appendHistory(t.ID, &from, models.TxnProcessing, strPtr("claimed"), nil)
		out = append(out, *t)
	}
	for _, t := range retry {
		from := t.Status
		n := t.RetryCount
		t.Status = models.TxnProcessing
		t.NextRetryAt = nil
		t.UpdatedAt = time.Now()
		s.appendHistory(t.ID, &from, models.TxnProcessing, strPtr("retry pick-up"), &n)
		out = append(out, *t)
	}
	return out, nil
}

func (r *txnRepo) ClaimOne(_ context.Context, id string, now time.Time) (models.Transaction, bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.txns[id]
	if !ok {
		return models.Transaction{}, false, repo.ErrNotFound
	}
	claimable := t.Status == models.TxnPending ||
		(t.Status == models.TxnFailed && t.RetryCount < t.MaxRetries &&
			t.NextRetryAt != nil && !t.NextRetryAt.After(now))
	if !claimable {
		return models.Transaction{}, false, nil
	}
	from := t.Status
	var retryNum *int
	reason := "claimed"
	if from == models.TxnFailed {
		reason = "retry pick-up"
		n := t.RetryCount
		retryNum = &n
	}
	t.Status = models.TxnProcessing
	t.NextRetryAt = nil
	t.UpdatedAt = time.Now()
	s.appendHistory(id, &from, models.TxnProcessing, &reason, retryNum)
	return *t, true, nil
}

func (r *txnRepo) MarkCompleted(_ context.Context, id string, upd repo.CompletionUpdate) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.txns[id]
	if !ok {
		return repo.ErrNotFound
	}
	from := t.Status
	t.Status = models.TxnCompleted
	t.CoreBankingRef = &upd.CoreBankingRef
	t.GatewayRequest = upd.RawRequest
	t.GatewayResponse = upd.RawResponse
	t.ErrorCode, t.ErrorMessage = nil, nil
	t.NextRetryAt = nil
	completedAt := upd.CompletedAt
	t.CompletedAt = &completedAt
	t.UpdatedAt = time.Now()
	s.appendHistory(id, &from, models.TxnCompleted, nil, nil)
	return nil
}

func (r *txnRepo) MarkFailedRetry(_ context.Context, id string, upd repo.FailureUpdate) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.txns[id]
	if !ok {
		return repo.ErrNotFound
	}
	from := t.Status
	t.Status = models.TxnFailed
	t.RetryCount = upd.RetryCount
	t.NextRetryAt = upd.NextRetryAt
	t.LastRetryAt = upd.LastRetryAt
	t.ErrorCode = strPtr(upd.ErrorCode)
	t.ErrorMessage = strPtr(upd.ErrorMessage)
	t.GatewayRequest = upd.RawRequest
	t.GatewayResponse = upd.RawResponse
	t.UpdatedAt = time.Now()
	n := upd.RetryCount
	s.appendHistory(id, &from, models.TxnFailed, strPtr(upd.ErrorMessage), &n)
	return nil
}

func (r *txnRepo) MarkFailedPermanent(_ context.Context, id string, upd repo.FailureUpdate) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.txns[id]
	if !ok {
		return repo.ErrNotFound
	}
	from := t.Status
	t.Status = models.TxnFailedPermanent
	t.RetryCount = upd.RetryCount
	t.NextRetryAt = nil
	if upd.LastRetryAt != nil {
		t.LastRetryAt = upd.LastRetryAt
	}
	t.ErrorCode = strPtr(upd.ErrorCode)
	t.ErrorMessage = strPtr(upd.ErrorMessage)
	t.GatewayRequest = upd.RawRequest
	t.GatewayResponse = upd.RawResponse
	t.UpdatedAt = time.Now()
	var retryNum *int
	if upd.RetryCount > 0 {
		n := upd.RetryCount
		retryNum = &n
	}
	s.appendHistory(id, &from, models.TxnFailedPermanent, strPtr(upd.ErrorMessage), retryNum)
	return nil
}

func (r *txnRepo) AnnotateReversal(_ context.Context, id, reason string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.txns[id]
	if !ok || t.Status != models.TxnCompleted {
		return repo.ErrNotFound
	}
	t.ReversalReason = &reason
	t.UpdatedAt = time.Now()
	return nil
}

func (r *txnRepo) FindReversalOf(_ context.Context, originalID string) (models.Transaction, bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.txns {
		if t.IsReversal && t.OriginalTxnID != nil && *t.OriginalTxnID == originalID {
			return *t, true, nil
		}
	}
	return models.Transaction{}, false, nil
}

func (r *txnRepo) List(_ context.Context, f repo.ListFilter) ([]models.Transaction, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Transaction
	for _, t := range s.txns {
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		if f.AccountID != nil && !matchPtr(t.FromAccountID, *f.AccountID) && !matchPtr(t.ToAccountID, *f.AccountID) {
			continue
		}
		if f.WalletID != nil && !matchPtr(t.FromWalletID, *f.WalletID) && !matchPtr(t.ToWalletID, *f.WalletID) {
			continue
		}
		if f.From != nil && t.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !t.CreatedAt.Before(*f.To) {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return s.order[out[i].ID] > s.order[out[j].ID] })
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matchPtr(p *string, v string) bool { return p != nil && *p == v }

type historyRepo Store

func (r *historyRepo) ListByTransaction(_ context.Context, txnID string) ([]models.TransactionStatusHistory, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TransactionStatusHistory, len(s.history[txnID]))
	copy(out, s.history[txnID])
	return out, nil
}

type accountsRepo Store

func (r *accountsRepo) Resolve(_ context.Context, idOrNumber string) (models.Account, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[idOrNumber]
	if !ok {
		return models.Account{}, fmt.Errorf("account %q: %w", idOrNumber, repo.ErrNotFound)
	}
	return a, nil
}

type walletsRepo Store

func (r *walletsRepo) Resolve(_ context.Context, idOrNumber string) (models.Wallet, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[idOrNumber]
	if !ok {
		return models.Wallet{}, fmt.Errorf("wallet %q: %w", idOrNumber, repo.ErrNotFound)
	}
	return w, nil
}
