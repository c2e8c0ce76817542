package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/finvera/txn-engine/internal/events"
	"github.com/finvera/txn-engine/internal/gateway"
	"github.com/finvera/txn-engine/internal/metrics"
	"github.com/finvera/txn-engine/internal/models"
	repo "github.com/finvera/txn-engine/internal/repository"
)

type Outcome string

const (
	OutcomeCompleted       Outcome = "completed"
	OutcomeRetryScheduled  Outcome = "retry_scheduled"
	OutcomeFailedPermanent Outcome = "failed_permanent"
	// OutcomeSkipped: the row was not in a claimable state, or bookkeeping
	// itself failed and the row was left for the next pass.
	OutcomeSkipped Outcome = "skipped"
)

// Engine drives one claimed transaction through the gateway and records the
// outcome. Nothing it does ever escapes to the scheduler's batch join: every
// path ends in a persisted status plus history row (or a logged bookkeeping
// failure), never a propagated error.
type Engine struct {
	trx   repo.Transactions
	gw    gateway.Gateway
	pub   events.Publisher
	retry RetryPolicy
	now   func() time.Time
	log   *slog.Logger
}

func NewEngine(t repo.Transactions, gw gateway.Gateway, pub events.Publisher, retry RetryPolicy, log *slog.Logger) *Engine {
	return &Engine{trx: t, gw: gw, pub: pub, retry: retry, now: time.Now, log: log}
}

// Process claims and executes a single transaction by id. Rows that are
// already processing or terminal are left alone.
func (e *Engine) Process(ctx context.Context, id string) Outcome {
	tx, ok, err := e.trx.ClaimOne(ctx, id, e.now())
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			e.log.Error("claim failed", "txn", id, "err", err)
		}
		return OutcomeSkipped
	}
	if !ok {
		return OutcomeSkipped
	}
	return e.Execute(ctx, tx)
}

// Execute runs an already-claimed (processing) transaction.
func (e *Engine) Execute(ctx context.Context, tx models.Transaction) (out Outcome) {
	req := gateway.Request{
		Operation:      gateway.OperationFor(tx.Type),
		From:           tx.From(),
		To:             tx.To(),
		Amount:         tx.Amount,
		Currency:       tx.Currency,
		Narration:      tx.Description,
		IdempotencyKey: tx.Reference,
	}
	rawReq, _ := json.Marshal(req)

	// An unexpected panic counts as a transient failure of this attempt.
	defer func() {
		if rec := recover(); rec != nil {
			e.log.Error("execute panic", "txn", tx.ID, "err", rec)
			out = e.onTransient(ctx, tx, rawReq, nil, "internal_error", fmt.Sprint(rec))
		}
	}()

	res, err := e.gw.Execute(ctx, req)
	switch {
	case err != nil:
		out = e.onTransient(ctx, tx, rawReq, res.Raw, "gateway_error", err.Error())
	case res.OK:
		out = e.onSuccess(ctx, tx, rawReq, res)
	case res.Retryable:
		out = e.onTransient(ctx, tx, rawReq, res.Raw, res.ErrorCode, res.ErrorMessage)
	default:
		out = e.onRejection(ctx, tx, rawReq, res)
	}
	metrics.TransactionsProcessed.WithLabelValues(string(out)).Inc()
	return out
}

func (e *Engine) onSuccess(ctx context.Context, tx models.Transaction, rawReq []byte, res gateway.Result) Outcome {
	err := e.trx.MarkCompleted(ctx, tx.ID, repo.CompletionUpdate{
		CoreBankingRef: res.Reference,
		RawRequest:     rawReq,
		RawResponse:    res.Raw,
		CompletedAt:    e.now(),
	})
	if err != nil {
		e.log.Error("mark completed failed", "txn", tx.ID, "err", err)
		return OutcomeSkipped
	}
	e.log.Info("transaction completed", "txn", tx.ID, "reference", tx.Reference, "core_ref", res.Reference)
	e.emit(ctx, tx, models.TxnCompleted)
	return OutcomeCompleted
}

// onRejection handles an explicit business refusal: permanent, never retried.
func (e *Engine) onRejection(ctx context.Context, tx models.Transaction, rawReq []byte, res gateway.Result) Outcome {
	err := e.trx.MarkFailedPermanent(ctx, tx.ID, repo.FailureUpdate{
		RetryCount:   tx.RetryCount,
		ErrorCode:    res.ErrorCode,
		ErrorMessage: res.ErrorMessage,
		RawRequest:   rawReq,
		RawResponse:  res.Raw,
	})
	if err != nil {
		e.log.Error("mark rejected failed", "txn", tx.ID, "err", err)
		return OutcomeSkipped
	}
	e.log.Info("transaction rejected", "txn", tx.ID, "reference", tx.Reference, "code", res.ErrorCode)
	e.emit(ctx, tx, models.TxnFailedPermanent)
	return OutcomeFailedPermanent
}

func (e *Engine) onTransient(ctx context.Context, tx models.Transaction, rawReq, rawResp []byte, code, msg string) Outcome {
	now := e.now()
	rc := tx.RetryCount + 1
	if rc > tx.MaxRetries {
		rc = tx.MaxRetries
	}

	if rc >= tx.MaxRetries {
		err := e.trx.MarkFailedPermanent(ctx, tx.ID, repo.FailureUpdate{
			RetryCount:   rc,
			ErrorCode:    code,
			ErrorMessage: msg,
			RawRequest:   rawReq,
			RawResponse:  rawResp,
			LastRetryAt:  &now,
		})
		if err != nil {
			e.log.Error("mark permanent failed", "txn", tx.ID, "err", err)
			return OutcomeSkipped
		}
		e.log.Warn("retries exhausted", "txn", tx.ID, "reference", tx.Reference, "retries", rc, "code", code)
		e.emit(ctx, tx, models.TxnFailedPermanent)
		return OutcomeFailedPermanent
	}

	next := now.Add(e.retry.Next(rc))
	err := e.trx.MarkFailedRetry(ctx, tx.ID, repo.FailureUpdate{
		RetryCount:   rc,
		ErrorCode:    code,
		ErrorMessage: msg,
		RawRequest:   rawReq,
		RawResponse:  rawResp,
		NextRetryAt:  &next,
		LastRetryAt:  &now,
	})
	if err != nil {
		e.log.Error("mark failed failed", "txn", tx.ID, "err", err)
		return OutcomeSkipped
	}
	e.log.Warn("transient failure", "txn", tx.ID, "reference", tx.Reference, "retry", rc, "next_retry_at", next, "code", code)
	e.emit(ctx, tx, models.TxnFailed)
	return OutcomeRetryScheduled
}

// emit is fire-and-forget: the state transition is already persisted and a
// publish failure only gets logged and counted.
func (e *Engine) emit(ctx context.Context, tx models.Transaction, status models.TransactionStatus) {
	err := e.pub.Publish(ctx, events.Event{
		TransactionID: tx.ID,
		Reference:     tx.Reference,
		Status:        status,
		From:          tx.From(),
		To:            tx.To(),
		Amount:        tx.Amount,
		Currency:      tx.Currency,
	})
	if err != nil {
		metrics.EventsPublishFailed.Inc()
		e.log.Warn("event publish failed", "txn", tx.ID, "err", err)
		return
	}
	metrics.EventsPublished.Inc()
}
