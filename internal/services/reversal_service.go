package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/finvera/txn-engine/internal/models"
	repo "github.com/finvera/txn-engine/internal/repository"
)

var (
	ErrNotCompleted    = errors.New("only completed transactions can be reversed")
	ErrAlreadyReversed = errors.New("transaction already reversed")
)

// ReversalService builds a compensating transaction for a completed one. The
// compensating record goes through intake like any other intent, gets its own
// reference and re-enters the pipeline in pending state. The original keeps
// status completed and is only annotated with the reversal reason.
type ReversalService struct {
	trx    repo.Transactions
	intake *IntakeService
	log    *slog.Logger
}

func NewReversalService(t repo.Transactions, intake *IntakeService, log *slog.Logger) *ReversalService {
	return &ReversalService{trx: t, intake: intake, log: log}
}

func (s *ReversalService) Reverse(ctx context.Context, id, reason string) (models.Transaction, error) {
	orig, err := s.trx.GetByID(ctx, id)
	if err != nil {
		return models.Transaction{}, err
	}
	if orig.Status != models.TxnCompleted {
		return models.Transaction{}, ErrNotCompleted
	}
	if _, exists, err := s.trx.FindReversalOf(ctx, id); err != nil {
		return models.Transaction{}, err
	} else if exists {
		return models.Transaction{}, ErrAlreadyReversed
	}

	in := CreateInput{
		Type:          reversalType(orig.Type),
		Source:        models.SourceAdmin,
		Amount:        orig.Amount,
		Currency:      orig.Currency,
		Description:   fmt.Sprintf("reversal of %s: %s", orig.Reference, reason),
		MaxRetries:    &orig.MaxRetries,
		IsReversal:    true,
		OriginalTxnID: &orig.ID,
	}
	// Endpoints swap: money flows back the way it came.
	if to := orig.To(); to != nil {
		in.From = to.Ref
	}
	if from := orig.From(); from != nil {
		in.To = from.Ref
	}

	rev, err := s.intake.Create(ctx, in)
	if errors.Is(err, repo.ErrReversalExists) {
		return models.Transaction{}, ErrAlreadyReversed
	}
	if err != nil {
		return models.Transaction{}, err
	}

	if err := s.trx.AnnotateReversal(ctx, orig.ID, reason); err != nil {
		// The compensating record exists and will execute; the annotation is
		// advisory and a miss here only loses the reason on the original.
		s.log.Error("annotate reversal failed", "txn", orig.ID, "err", err)
	}
	s.log.Info("reversal created", "original", orig.ID, "reversal", rev.ID, "reference", rev.Reference)
	return rev, nil
}

// reversalType yields the type whose endpoint shape matches the original's
// endpoints swapped. Two-sided types keep their type; one-sided debits become
// credits and vice versa.
func reversalType(t models.TransactionType) models.TransactionType {
	switch t {
	case models.TxnDebit:
		return models.TxnCredit
	case models.TxnCredit:
		return models.TxnDebit
	case models.TxnWalletDebit:
		return models.TxnWalletCredit
	case models.TxnWalletCredit:
		return models.TxnWalletDebit
	case models.TxnAccountToWallet:
		return models.TxnWalletToAccount
	case models.TxnWalletToAccount:
		return models.TxnAccountToWallet
	default:
		return t
	}
}
