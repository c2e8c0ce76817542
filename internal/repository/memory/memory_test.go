package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finvera/txn-engine/internal/models"
	repo "github.com/finvera/txn-engine/internal/repository"
)

func seedPending(t *testing.T, store *Store, ref string) models.Transaction {
	t.Helper()
	from, to := "11111111-1111-1111-1111-111111111111", "22222222-2222-2222-2222-222222222222"
	tx, err := store.Transactions().Create(context.Background(), models.Transaction{
		Reference:     ref,
		Type:          models.TxnTransfer,
		Source:        models.SourceAPI,
		Amount:        decimal.RequireFromString("10.00"),
		Currency:      "USD",
		FromAccountID: &from,
		ToAccountID:   &to,
		MaxRetries:    3,
	})
	require.NoError(t, err)
	return tx
}

// seedRetryDue puts a row into failed state with next_retry_at already in
// the past.
func seedRetryDue(t *testing.T, store *Store, ref string, now time.Time) models.Transaction {
	t.Helper()
	tx := seedPending(t, store, ref)
	_, ok, err := store.Transactions().ClaimOne(context.Background(), tx.ID, now)
	require.NoError(t, err)
	require.True(t, ok)
	due := now.Add(-time.Minute)
	require.NoError(t, store.Transactions().MarkFailedRetry(context.Background(), tx.ID, repo.FailureUpdate{
		RetryCount:   1,
		ErrorCode:    "timeout",
		ErrorMessage: "upstream timeout",
		NextRetryAt:  &due,
		LastRetryAt:  &now,
	}))
	return tx
}

// A full pending backlog must not crowd retry-due rows out of the claim:
// each bucket gets its own limit.
func TestClaimDueBucketsAreIndependent(t *testing.T) {
	store := NewStore()
	now := time.Now()

	retryTx := seedRetryDue(t, store, "TXN-MEM-RETRY", now)
	for i := 0; i < 10; i++ {
		seedPending(t, store, fmt.Sprintf("TXN-MEM-%03d", i))
	}

	claimed, err := store.Transactions().ClaimDue(context.Background(), 10, now)
	require.NoError(t, err)
	require.Len(t, claimed, 11)

	var gotRetry bool
	for _, tx := range claimed {
		assert.Equal(t, models.TxnProcessing, tx.Status)
		if tx.ID == retryTx.ID {
			gotRetry = true
		}
	}
	assert.True(t, gotRetry, "retry-due row must be claimed alongside a full pending bucket")
}

func TestClaimDueRespectsPerBucketLimit(t *testing.T) {
	store := NewStore()
	now := time.Now()

	for i := 0; i < 15; i++ {
		seedPending(t, store, fmt.Sprintf("TXN-MEM-%03d", i))
	}
	claimed, err := store.Transactions().ClaimDue(context.Background(), 10, now)
	require.NoError(t, err)
	assert.Len(t, claimed, 10)
}

// Claiming a failed row clears next_retry_at together with the status flip,
// so a processing row never carries a stale schedule.
func TestClaimClearsNextRetryAt(t *testing.T) {
	store := NewStore()
	now := time.Now()

	viaDue := seedRetryDue(t, store, "TXN-MEM-DUE", now)
	claimed, err := store.Transactions().ClaimDue(context.Background(), 10, now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Nil(t, claimed[0].NextRetryAt)

	got, err := store.Transactions().GetByID(context.Background(), viaDue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxnProcessing, got.Status)
	assert.Nil(t, got.NextRetryAt)

	viaOne := seedRetryDue(t, store, "TXN-MEM-ONE", now)
	tx, ok, err := store.Transactions().ClaimOne(context.Background(), viaOne.ID, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, tx.NextRetryAt)

	got, err = store.Transactions().GetByID(context.Background(), viaOne.ID)
	require.NoError(t, err)
	assert.Nil(t, got.NextRetryAt)
}
