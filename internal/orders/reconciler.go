package orders

import (
	"context"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/sagapay/backend/internal/idempotency"
	"github.com/sagapay/backend/pkg/bus"
	"github.com/sagapay/backend/pkg/db/models"
	"github.com/sagapay/backend/pkg/enums"
	pkgerrors "github.com/sagapay/backend/pkg/errors"
	"github.com/sagapay/backend/pkg/logger"
)

// ConsumerName is the dedup scope of the reconciler on payment-events.
const ConsumerName = "order-reconciler"

// txRunner runs a function inside an order-store transaction.
type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Reconciler consumes payment.resolved and drives each order to its terminal
// state. The conditional update in the repository keeps duplicate deliveries
// and late events from overwriting an already-resolved order.
type Reconciler struct {
	repo      Repository
	tx        txRunner
	guard     idempotency.Guard
	publisher publisher
	waiters   *Waiters
	logg      *logger.Logger
}

// NewReconciler wires the reconciler.
func NewReconciler(
	repo Repository,
	tx txRunner,
	guard idempotency.Guard,
	pub publisher,
	waiters *Waiters,
	logg *logger.Logger,
) *Reconciler {
	return &Reconciler{
		repo:      repo,
		tx:        tx,
		guard:     guard,
		publisher: pub,
		waiters:   waiters,
		logg:      logg,
	}
}

// Register subscribes the reconciler on the payment-events topic.
func (r *Reconciler) Register(b bus.Bus) {
	dispatcher := bus.NewDispatcher(r.logg).
		On(enums.EventTypePaymentResolved, r.HandlePaymentResolved)
	b.Subscribe(bus.TopicPaymentEvents, dispatcher.Handle)
}

// HandlePaymentResolved applies one payment outcome. Returning an error
// requests redelivery; malformed payloads and events for unknown orders are
// acknowledged because retrying cannot fix them.
func (r *Reconciler) HandlePaymentResolved(ctx context.Context, env bus.Envelope) error {
	ctx = r.logg.WithFields(ctx, map[string]any{
		"event_id": env.EventID,
		"order_id": env.OrderID,
	})

	payload, err := bus.DecodePaymentEvent(env)
	if err != nil {
		r.logg.Error(ctx, "dropping malformed payment event", err)
		return nil
	}

	order, err := r.repo.FindByID(ctx, payload.OrderID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			r.logg.Warn(ctx, "payment event references unknown order")
			return nil
		}
		return err
	}
	if order.IsResolved() {
		// A replay for a terminal order has nothing to update and must not
		// re-emit compensation traffic.
		r.logg.Debug(ctx, "order already terminal, ignoring payment event")
		return nil
	}

	orderStatus := enums.OrderStatusCancelled
	if payload.Status == enums.PaymentStatusCompleted {
		orderStatus = enums.OrderStatusCompleted
	}

	// Compensation goes out before the terminal update. The refund path is
	// idempotent on ledger state, so a redelivery republishing it is safe;
	// the reverse order could mark the order terminal and then lose the
	// refund forever on a publish failure.
	if orderStatus == enums.OrderStatusCancelled && payload.Reason.RequiresCompensation() {
		if err := r.publishCancelled(ctx, order); err != nil {
			return err
		}
	}

	var already, updated bool
	err = r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		// The mark joins the update transaction: a crash cannot commit one
		// without the other.
		var err error
		already, err = idempotency.ForTx(r.guard, tx).CheckAndMark(ctx, ConsumerName, env.EventID)
		if err != nil || already {
			return err
		}
		updated, err = r.repo.WithTx(tx).ResolveIfCreated(ctx, order.ID, orderStatus, payload.Status)
		return err
	})
	if err != nil {
		return r.retryLater(ctx, env.EventID, err)
	}
	if already {
		r.logg.Debug(ctx, "payment event already processed")
		return nil
	}
	if !updated {
		r.logg.Debug(ctx, "order already terminal, ignoring payment event")
		return nil
	}

	r.logg.Info(ctx, "order resolved to "+orderStatus.String())

	final := *order
	final.OrderStatus = orderStatus
	final.PaymentStatus = payload.Status
	r.waiters.Resolve(order.ID, &final)
	return nil
}

func (r *Reconciler) publishCancelled(ctx context.Context, order *models.Order) error {
	env, err := bus.NewEnvelope(enums.EventTypeOrderCancelled, order.ID, bus.OrderEventPayload{
		OrderID:   order.ID,
		UserID:    order.UserID,
		ProductID: order.ProductID,
		Price:     order.Price,
		Status:    enums.OrderStatusCancelled,
	})
	if err != nil {
		return err
	}
	if err := r.publisher.Publish(ctx, bus.TopicOrderEvents, env); err != nil {
		return err
	}
	r.logg.Info(ctx, "order.cancelled published for compensation")
	return nil
}

// retryLater releases any surviving dedup mark so the redelivery is
// processed, then propagates the failure to the transport. A DB mark rolls
// back with the failed transaction on its own; the Redis mark needs the
// explicit Unmark.
func (r *Reconciler) retryLater(ctx context.Context, eventID string, cause error) error {
	if err := r.guard.Unmark(ctx, ConsumerName, eventID); err != nil {
		return multierr.Append(cause, err)
	}
	return cause
}
