package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finvera/txn-engine/internal/events"
	"github.com/finvera/txn-engine/internal/gateway"
	"github.com/finvera/txn-engine/internal/models"
	"github.com/finvera/txn-engine/internal/repository/memory"
)

type gatewayStep struct {
	res gateway.Result
	err error
}

// scriptedGateway pops one step per Execute call; the last step repeats.
type scriptedGateway struct {
	mu    sync.Mutex
	steps []gatewayStep
	calls int
}

func (g *scriptedGateway) Execute(_ context.Context, _ gateway.Request) (gateway.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	step := g.steps[0]
	if len(g.steps) > 1 {
		g.steps = g.steps[1:]
	}
	return step.res, step.err
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) statuses() []models.TransactionStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.TransactionStatus, len(p.events))
	for i, e := range p.events {
		out[i] = e.Status
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(store *memory.Store, gw gateway.Gateway) (*Engine, *capturePublisher) {
	pub := &capturePublisher{}
	policy := RetryPolicy{Base: 30 * time.Second, Max: 30 * time.Minute}
	return NewEngine(store.Transactions(), gw, pub, policy, testLogger()), pub
}

func seedTransfer(t *testing.T, store *memory.Store, maxRetries int) models.Transaction {
	t.Helper()
	from, to := "11111111-1111-1111-1111-111111111111", "22222222-2222-2222-2222-222222222222"
	tx, err := store.Transactions().Create(context.Background(), models.Transaction{
		Reference:     "TXN-TEST-" + time.Now().Format("150405.000000000"),
		Type:          models.TxnTransfer,
		Source:        models.SourceMobileBanking,
		Amount:        decimal.RequireFromString("100.00"),
		Currency:      "USD",
		FromAccountID: &from,
		ToAccountID:   &to,
		MaxRetries:    maxRetries,
	})
	require.NoError(t, err)
	return tx
}

func claim(t *testing.T, store *memory.Store, id string, now time.Time) models.Transaction {
	t.Helper()
	tx, ok, err := store.Transactions().ClaimOne(context.Background(), id, now)
	require.NoError(t, err)
	require.True(t, ok)
	return tx
}

// Transfer succeeds on the first attempt: completed with the gateway's
// reference and the full pending -> processing -> completed trail.
func TestEngineSuccess(t *testing.T) {
	store := memory.NewStore()
	gw := &scriptedGateway{steps: []gatewayStep{
		{res: gateway.Result{OK: true, Reference: "CB123", Raw: []byte(`{"success":true}`)}},
	}}
	eng, pub := newTestEngine(store, gw)

	created := seedTransfer(t, store, 3)
	claimed := claim(t, store, created.ID, time.Now())

	out := eng.Execute(context.Background(), claimed)
	assert.Equal(t, OutcomeCompleted, out)

	got, err := store.Transactions().GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxnCompleted, got.Status)
	require.NotNil(t, got.CoreBankingRef)
	assert.Equal(t, "CB123", *got.CoreBankingRef)
	require.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.ErrorCode)
	assert.Nil(t, got.NextRetryAt)
	assert.Equal(t, 0, got.RetryCount)

	hist, err := store.StatusHistory().ListByTransaction(context.Background(), created.ID)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Nil(t, hist[0].FromStatus)
	assert.Equal(t, models.TxnPending, hist[0].ToStatus)
	assert.Equal(t, models.TxnProcessing, hist[1].ToStatus)
	assert.Equal(t, models.TxnCompleted, hist[2].ToStatus)
	for _, h := range hist {
		assert.True(t, models.LegalTransition(h.FromStatus, h.ToStatus), "illegal transition %v -> %v", h.FromStatus, h.ToStatus)
	}

	assert.Equal(t, []models.TransactionStatus{models.TxnCompleted}, pub.statuses())
}

// Three consecutive timeouts with maxRetries=3 exhaust the budget: the row
// ends failed_permanent with retry_count=3 and no next attempt scheduled.
func TestEngineRetriesExhausted(t *testing.T) {
	store := memory.NewStore()
	gw := &scriptedGateway{steps: []gatewayStep{
		{err: errors.New("gateway call: context deadline exceeded")},
	}}
	eng, pub := newTestEngine(store, gw)

	created := seedTransfer(t, store, 3)

	now := time.Now()
	for attempt := 1; attempt <= 3; attempt++ {
		// Jump past next_retry_at so the row is claimable again.
		now = now.Add(time.Hour)
		claimed := claim(t, store, created.ID, now)
		out := eng.Execute(context.Background(), claimed)
		if attempt < 3 {
			assert.Equal(t, OutcomeRetryScheduled, out, "attempt %d", attempt)
		} else {
			assert.Equal(t, OutcomeFailedPermanent, out)
		}
	}
	assert.Equal(t, 3, gw.calls)

	got, err := store.Transactions().GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxnFailedPermanent, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.Nil(t, got.NextRetryAt)
	require.NotNil(t, got.ErrorCode)
	assert.Equal(t, "gateway_error", *got.ErrorCode)

	// Never claimable again.
	_, ok, err := store.Transactions().ClaimOne(context.Background(), created.ID, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	hist, err := store.StatusHistory().ListByTransaction(context.Background(), created.ID)
	require.NoError(t, err)
	var failures []models.TransactionStatusHistory
	for _, h := range hist {
		assert.True(t, models.LegalTransition(h.FromStatus, h.ToStatus), "illegal transition %v -> %v", h.FromStatus, h.ToStatus)
		if h.ToStatus == models.TxnFailed || h.ToStatus == models.TxnFailedPermanent {
			failures = append(failures, h)
		}
	}
	require.Len(t, failures, 3)
	for i, h := range failures {
		require.NotNil(t, h.RetryNumber)
		assert.Equal(t, i+1, *h.RetryNumber)
	}
	assert.Equal(t, models.TxnFailedPermanent, failures[2].ToStatus)

	assert.Equal(t, []models.TransactionStatus{
		models.TxnFailed, models.TxnFailed, models.TxnFailedPermanent,
	}, pub.statuses())
}

// A business rejection is permanent on the spot: no retry is ever attempted.
func TestEngineBusinessRejection(t *testing.T) {
	store := memory.NewStore()
	gw := &scriptedGateway{steps: []gatewayStep{
		{res: gateway.Result{
			OK:           false,
			Retryable:    false,
			ErrorCode:    "insufficient_funds",
			ErrorMessage: "insufficient funds",
			Raw:          []byte(`{"success":false}`),
		}},
	}}
	eng, pub := newTestEngine(store, gw)

	created := seedTransfer(t, store, 3)
	claimed := claim(t, store, created.ID, time.Now())

	out := eng.Execute(context.Background(), claimed)
	assert.Equal(t, OutcomeFailedPermanent, out)
	assert.Equal(t, 1, gw.calls)

	got, err := store.Transactions().GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxnFailedPermanent, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	assert.Nil(t, got.NextRetryAt)
	require.NotNil(t, got.ErrorCode)
	assert.Equal(t, "insufficient_funds", *got.ErrorCode)

	assert.Equal(t, []models.TransactionStatus{models.TxnFailedPermanent}, pub.statuses())
}

// Backoff grows between consecutive transient failures on the same row.
func TestEngineBackoffGrows(t *testing.T) {
	store := memory.NewStore()
	gw := &scriptedGateway{steps: []gatewayStep{
		{res: gateway.Result{Retryable: true, ErrorCode: "timeout", ErrorMessage: "upstream timeout"}},
	}}
	eng, _ := newTestEngine(store, gw)

	created := seedTransfer(t, store, 5)

	now := time.Now()
	var prevDelay time.Duration
	for attempt := 1; attempt <= 4; attempt++ {
		now = now.Add(2 * time.Hour)
		claimed := claim(t, store, created.ID, now)
		eng.Execute(context.Background(), claimed)

		got, err := store.Transactions().GetByID(context.Background(), created.ID)
		require.NoError(t, err)
		require.NotNil(t, got.NextRetryAt)
		require.NotNil(t, got.LastRetryAt)
		delay := got.NextRetryAt.Sub(*got.LastRetryAt)
		assert.GreaterOrEqual(t, delay, prevDelay, "attempt %d", attempt)
		prevDelay = delay
	}
}

// Process is a no-op for rows that are already processing or terminal.
func TestEngineProcessSkipsUnclaimable(t *testing.T) {
	store := memory.NewStore()
	gw := &scriptedGateway{steps: []gatewayStep{
		{res: gateway.Result{OK: true, Reference: "CB999"}},
	}}
	eng, _ := newTestEngine(store, gw)

	created := seedTransfer(t, store, 3)
	claim(t, store, created.ID, time.Now()) // now processing

	assert.Equal(t, OutcomeSkipped, eng.Process(context.Background(), created.ID))
	assert.Equal(t, 0, gw.calls)

	assert.Equal(t, OutcomeSkipped, eng.Process(context.Background(), "missing-id"))
}

// A panic inside execution is recorded as a transient failure of the attempt.
func TestEnginePanicIsTransient(t *testing.T) {
	store := memory.NewStore()
	eng, _ := newTestEngine(store, panicGateway{})

	created := seedTransfer(t, store, 3)
	claimed := claim(t, store, created.ID, time.Now())

	out := eng.Execute(context.Background(), claimed)
	assert.Equal(t, OutcomeRetryScheduled, out)

	got, err := store.Transactions().GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxnFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.ErrorCode)
	assert.Equal(t, "internal_error", *got.ErrorCode)
}

type panicGateway struct{}

func (panicGateway) Execute(context.Context, gateway.Request) (gateway.Result, error) {
	panic("boom")
}
