package payments

import (
	"context"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/sagapay/backend/internal/idempotency"
	"github.com/sagapay/backend/pkg/bus"
	"github.com/sagapay/backend/pkg/db/models"
	"github.com/sagapay/backend/pkg/enums"
	pkgerrors "github.com/sagapay/backend/pkg/errors"
	"github.com/sagapay/backend/pkg/locks"
	"github.com/sagapay/backend/pkg/logger"
	"github.com/sagapay/backend/pkg/metrics"
)

// ConsumerName is the dedup scope of the processor on order-events.
const ConsumerName = "payment-processor"

// publisher is the outbound slice of the bus the processor needs.
type publisher interface {
	Publish(ctx context.Context, topic string, env bus.Envelope) error
}

// txRunner runs a function inside a ledger-store transaction.
type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Processor consumes order-events and moves money. order.created attempts the
// debit and emits payment.resolved; order.cancelled refunds an applied debit.
// A per-order lock serializes the two paths so a duplicate debit and a
// compensation for the same order can never interleave.
type Processor struct {
	repo    Repository
	tx      txRunner
	guard   idempotency.Guard
	pub     publisher
	locks   *locks.Keyed
	logg    *logger.Logger
	metrics *metrics.SagaMetrics
}

// NewProcessor wires the payment processor.
func NewProcessor(
	repo Repository,
	tx txRunner,
	guard idempotency.Guard,
	pub publisher,
	logg *logger.Logger,
	sagaMetrics *metrics.SagaMetrics,
) *Processor {
	return &Processor{
		repo:    repo,
		tx:      tx,
		guard:   guard,
		pub:     pub,
		locks:   locks.NewKeyed(),
		logg:    logg,
		metrics: sagaMetrics,
	}
}

// Register subscribes the processor on the order-events topic.
func (p *Processor) Register(b bus.Bus) {
	dispatcher := bus.NewDispatcher(p.logg).
		On(enums.EventTypeOrderCreated, p.HandleOrderCreated).
		On(enums.EventTypeOrderCancelled, p.HandleOrderCancelled)
	b.Subscribe(bus.TopicOrderEvents, dispatcher.Handle)
}

// HandleOrderCreated attempts the debit for a freshly created order and emits
// payment.resolved with the outcome.
func (p *Processor) HandleOrderCreated(ctx context.Context, env bus.Envelope) error {
	ctx = p.logg.WithFields(ctx, map[string]any{
		"event_id": env.EventID,
		"order_id": env.OrderID,
	})

	payload, err := bus.DecodeOrderEvent(env)
	if err != nil {
		p.logg.Error(ctx, "dropping malformed order event", err)
		return nil
	}

	p.locks.Lock(payload.OrderID)
	defer p.locks.Unlock(payload.OrderID)

	status := enums.PaymentStatusFailed
	reason := enums.FailureReasonNone

	var already bool
	err = p.tx.WithTx(ctx, func(tx *gorm.DB) error {
		// The mark joins the ledger transaction: a crash cannot commit one
		// without the other.
		var err error
		already, err = idempotency.ForTx(p.guard, tx).CheckAndMark(ctx, ConsumerName, env.EventID)
		if err != nil || already {
			return err
		}

		repo := p.repo.WithTx(tx)

		// An existing transaction row means a previous delivery already
		// debited this order but the outcome event got lost. Re-emit instead
		// of debiting twice.
		if _, err := repo.FindTransactionByOrder(ctx, payload.OrderID); err == nil {
			status = enums.PaymentStatusCompleted
			return nil
		} else if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return err
		}

		debited, err := repo.DebitIfAbove(ctx, payload.UserID, payload.Price)
		if err != nil {
			return err
		}
		if !debited {
			if _, err := repo.FindBalance(ctx, payload.UserID); err != nil {
				if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
					reason = enums.FailureReasonUnknownUser
					return nil
				}
				return err
			}
			reason = enums.FailureReasonInsufficientFunds
			return nil
		}

		status = enums.PaymentStatusCompleted
		return repo.CreateTransaction(ctx, &models.UserTransaction{
			OrderID: payload.OrderID,
			UserID:  payload.UserID,
			Amount:  payload.Price,
		})
	})
	if err != nil {
		return p.retryLater(ctx, env.EventID, err)
	}
	if already {
		p.logg.Debug(ctx, "order event already processed")
		return nil
	}

	p.recordDebit(status, reason)
	if status == enums.PaymentStatusCompleted {
		p.logg.Info(ctx, "debit applied")
	} else {
		p.logg.Info(ctx, "debit refused: "+reason.String())
	}

	resolved, err := bus.NewEnvelope(enums.EventTypePaymentResolved, payload.OrderID, bus.PaymentEventPayload{
		OrderID: payload.OrderID,
		UserID:  payload.UserID,
		Amount:  payload.Price,
		Status:  status,
		Reason:  reason,
	})
	if err != nil {
		return p.retryLater(ctx, env.EventID, err)
	}
	if err := p.pub.Publish(ctx, bus.TopicPaymentEvents, resolved); err != nil {
		// The redelivery re-enters the transaction, finds the transaction row
		// and re-emits without touching the balance again.
		return p.retryLater(ctx, env.EventID, err)
	}
	return nil
}

// HandleOrderCancelled refunds the debit recorded for the order, if any. The
// refund is keyed off the stored transaction row, so the credit always lands
// on the account that was debited.
func (p *Processor) HandleOrderCancelled(ctx context.Context, env bus.Envelope) error {
	ctx = p.logg.WithFields(ctx, map[string]any{
		"event_id": env.EventID,
		"order_id": env.OrderID,
	})

	payload, err := bus.DecodeOrderEvent(env)
	if err != nil {
		p.logg.Error(ctx, "dropping malformed order event", err)
		return nil
	}

	p.locks.Lock(payload.OrderID)
	defer p.locks.Unlock(payload.OrderID)

	refunded := false
	var already bool
	err = p.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		already, err = idempotency.ForTx(p.guard, tx).CheckAndMark(ctx, ConsumerName, env.EventID)
		if err != nil || already {
			return err
		}

		repo := p.repo.WithTx(tx)

		txRow, err := repo.FindTransactionByOrder(ctx, payload.OrderID)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				// Nothing was debited, or an earlier delivery already
				// refunded it.
				return nil
			}
			return err
		}

		deleted, err := repo.DeleteTransaction(ctx, txRow.OrderID)
		if err != nil {
			return err
		}
		if !deleted {
			return nil
		}
		if err := repo.Credit(ctx, txRow.UserID, txRow.Amount); err != nil {
			return err
		}
		refunded = true
		return nil
	})
	if err != nil {
		return p.retryLater(ctx, env.EventID, err)
	}
	if already {
		p.logg.Debug(ctx, "order event already processed")
		return nil
	}

	if refunded {
		p.metrics.IncCompensation()
		p.logg.Info(ctx, "debit refunded")
	} else {
		p.logg.Debug(ctx, "no debit to refund")
	}
	return nil
}

func (p *Processor) recordDebit(status enums.PaymentStatus, reason enums.FailureReason) {
	outcome := "completed"
	if status != enums.PaymentStatusCompleted {
		outcome = reason.String()
	}
	p.metrics.IncDebit(outcome)
}

// retryLater releases any surviving dedup mark so the redelivery is
// processed, then propagates the failure to the transport. A DB mark rolls
// back with the failed transaction on its own; the Redis mark needs the
// explicit Unmark.
func (p *Processor) retryLater(ctx context.Context, eventID string, cause error) error {
	if err := p.guard.Unmark(ctx, ConsumerName, eventID); err != nil {
		return multierr.Append(cause, err)
	}
	return cause
}
