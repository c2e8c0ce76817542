package services

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finvera/txn-engine/internal/api/validate"
	"github.com/finvera/txn-engine/internal/limits"
	"github.com/finvera/txn-engine/internal/models"
	"github.com/finvera/txn-engine/internal/reference"
	repo "github.com/finvera/txn-engine/internal/repository"
	"github.com/finvera/txn-engine/internal/repository/memory"
)

const (
	accA = "11111111-1111-1111-1111-111111111111"
	accB = "22222222-2222-2222-2222-222222222222"
	walA = "33333333-3333-3333-3333-333333333333"
	walB = "44444444-4444-4444-4444-444444444444"
)

func seededStore() *memory.Store {
	store := memory.NewStore()
	store.SeedAccount(models.Account{ID: accA, Number: "0011223344", OwnerID: "owner-a", Currency: "USD", Active: true})
	store.SeedAccount(models.Account{ID: accB, Number: "0055667788", OwnerID: "owner-b", Currency: "USD", Active: true})
	store.SeedWallet(models.Wallet{ID: walA, Number: "W-1001", OwnerID: "owner-a", Currency: "USD", Active: true})
	store.SeedWallet(models.Wallet{ID: walB, Number: "W-1002", OwnerID: "owner-b", Currency: "USD", Active: true})
	return store
}

func newIntake(store *memory.Store, lc limits.Checker) *IntakeService {
	if lc == nil {
		lc = limits.AllowAll{}
	}
	return NewIntakeService(store.Transactions(), store.Accounts(), store.Wallets(), lc, reference.New("TXN"), 3, testLogger())
}

func transferInput() CreateInput {
	return CreateInput{
		Type:     models.TxnTransfer,
		Source:   models.SourceMobileBanking,
		Amount:   decimal.RequireFromString("100.00"),
		Currency: "USD",
		From:     accA,
		To:       accB,
	}
}

func TestIntakeCreatePending(t *testing.T) {
	store := seededStore()
	svc := newIntake(store, nil)

	tx, err := svc.Create(context.Background(), transferInput())
	require.NoError(t, err)

	assert.Equal(t, models.TxnPending, tx.Status)
	assert.NotEmpty(t, tx.Reference)
	assert.Equal(t, 0, tx.RetryCount)
	assert.Equal(t, 3, tx.MaxRetries)
	require.NotNil(t, tx.FromAccountID)
	assert.Equal(t, accA, *tx.FromAccountID)
	require.NotNil(t, tx.ToAccountID)
	assert.Equal(t, accB, *tx.ToAccountID)

	hist, err := store.StatusHistory().ListByTransaction(context.Background(), tx.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Nil(t, hist[0].FromStatus)
	assert.Equal(t, models.TxnPending, hist[0].ToStatus)
}

func TestIntakeResolvesByNumber(t *testing.T) {
	store := seededStore()
	svc := newIntake(store, nil)

	in := transferInput()
	in.From = "0011223344"
	in.To = "0055667788"
	tx, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, accA, *tx.FromAccountID)
	assert.Equal(t, accB, *tx.ToAccountID)
}

func TestIntakeValidation(t *testing.T) {
	store := seededStore()
	svc := newIntake(store, nil)

	tests := []struct {
		name   string
		mutate func(*CreateInput)
		field  string
	}{
		{"zero amount", func(in *CreateInput) { in.Amount = decimal.Zero }, "amount"},
		{"negative amount", func(in *CreateInput) { in.Amount = decimal.RequireFromString("-5") }, "amount"},
		{"too many decimals", func(in *CreateInput) { in.Amount = decimal.RequireFromString("10.005") }, "amount"},
		{"unsupported currency", func(in *CreateInput) { in.Currency = "XXX" }, "currency"},
		{"unknown type", func(in *CreateInput) { in.Type = "teleport" }, "type"},
		{"unknown source", func(in *CreateInput) { in.Source = "fax" }, "source"},
		{"transfer missing to", func(in *CreateInput) { in.To = "" }, "to"},
		{"transfer missing from", func(in *CreateInput) { in.From = "" }, "from"},
		{"transfer to self", func(in *CreateInput) { in.To = in.From }, "to"},
		{"unresolvable endpoint", func(in *CreateInput) { in.From = "9999999999" }, "from"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := transferInput()
			tt.mutate(&in)
			_, err := svc.Create(context.Background(), in)
			var verrs validate.Errs
			require.ErrorAs(t, err, &verrs)
			fields := make([]string, len(verrs))
			for i, e := range verrs {
				fields[i] = e.Field
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestIntakeDebitRejectsToEndpoint(t *testing.T) {
	store := seededStore()
	svc := newIntake(store, nil)

	_, err := svc.Create(context.Background(), CreateInput{
		Type:     models.TxnDebit,
		Source:   models.SourceAPI,
		Amount:   decimal.RequireFromString("10"),
		Currency: "USD",
		From:     accA,
		To:       accB,
	})
	var verrs validate.Errs
	require.ErrorAs(t, err, &verrs)
}

func TestIntakeWalletToAccount(t *testing.T) {
	store := seededStore()
	svc := newIntake(store, nil)

	tx, err := svc.Create(context.Background(), CreateInput{
		Type:     models.TxnWalletToAccount,
		Source:   models.SourceWallet,
		Amount:   decimal.RequireFromString("25.50"),
		Currency: "USD",
		From:     "W-1001",
		To:       accB,
	})
	require.NoError(t, err)
	require.NotNil(t, tx.FromWalletID)
	assert.Equal(t, walA, *tx.FromWalletID)
	require.NotNil(t, tx.ToAccountID)
	assert.Equal(t, accB, *tx.ToAccountID)
	assert.Nil(t, tx.FromAccountID)
}

type denyChecker struct{ reason string }

func (d denyChecker) CheckLimits(context.Context, string, decimal.Decimal, models.TransactionType) (limits.Decision, error) {
	return limits.Decision{Allowed: false, Reason: d.reason}, nil
}

func TestIntakeLimitDenialCreatesNoRow(t *testing.T) {
	store := seededStore()
	svc := newIntake(store, denyChecker{reason: "daily limit exceeded"})

	_, err := svc.Create(context.Background(), transferInput())
	var verrs validate.Errs
	require.ErrorAs(t, err, &verrs)
	assert.Contains(t, verrs.Error(), "daily limit exceeded")

	txs, err := store.Transactions().List(context.Background(), repo.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

// collidingRepo makes the first n Creates fail with a reference collision.
type collidingRepo struct {
	repo.Transactions
	remaining int
}

func (c *collidingRepo) Create(ctx context.Context, t models.Transaction) (models.Transaction, error) {
	if c.remaining > 0 {
		c.remaining--
		return models.Transaction{}, repo.ErrDuplicateReference
	}
	return c.Transactions.Create(ctx, t)
}

func TestIntakeReferenceCollisionRetried(t *testing.T) {
	store := seededStore()
	trx := &collidingRepo{Transactions: store.Transactions(), remaining: 2}
	svc := NewIntakeService(trx, store.Accounts(), store.Wallets(), limits.AllowAll{}, reference.New("TXN"), 3, testLogger())

	tx, err := svc.Create(context.Background(), transferInput())
	require.NoError(t, err)
	assert.NotEmpty(t, tx.Reference)
}

func TestIntakeReferenceCollisionExhausted(t *testing.T) {
	store := seededStore()
	trx := &collidingRepo{Transactions: store.Transactions(), remaining: 99}
	svc := NewIntakeService(trx, store.Accounts(), store.Wallets(), limits.AllowAll{}, reference.New("TXN"), 3, testLogger())

	_, err := svc.Create(context.Background(), transferInput())
	require.ErrorIs(t, err, ErrReferenceExhausted)
}

func TestIntakeMaxRetriesClamped(t *testing.T) {
	store := seededStore()
	svc := newIntake(store, nil)

	big := 50
	in := transferInput()
	in.MaxRetries = &big
	tx, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 10, tx.MaxRetries)

	neg := -1
	in = transferInput()
	in.MaxRetries = &neg
	tx, err = svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 0, tx.MaxRetries)
}
