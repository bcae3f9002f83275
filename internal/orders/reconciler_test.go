package orders

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sagapay/backend/internal/idempotency"
	"github.com/sagapay/backend/pkg/bus"
	"github.com/sagapay/backend/pkg/db"
	"github.com/sagapay/backend/pkg/db/models"
	"github.com/sagapay/backend/pkg/enums"
)

func newTestReconciler(t *testing.T, conn *gorm.DB, pub *capturePublisher, waiters *Waiters) *Reconciler {
	t.Helper()
	guard, err := idempotency.NewDBGuard(conn)
	require.NoError(t, err)
	return NewReconciler(NewRepository(conn), db.FromGorm(conn), guard, pub, waiters, testLogger())
}

func createPendingOrder(t *testing.T, conn *gorm.DB) *models.Order {
	t.Helper()
	order := &models.Order{
		UserID:        101,
		ProductID:     7,
		Price:         2000,
		OrderStatus:   enums.OrderStatusCreated,
		PaymentStatus: enums.PaymentStatusUnknown,
	}
	require.NoError(t, conn.Create(order).Error)
	return order
}

func paymentResolvedEnv(t *testing.T, orderID int64, status enums.PaymentStatus, reason enums.FailureReason) bus.Envelope {
	t.Helper()
	env, err := bus.NewEnvelope(enums.EventTypePaymentResolved, orderID, bus.PaymentEventPayload{
		OrderID: orderID,
		UserID:  101,
		Amount:  2000,
		Status:  status,
		Reason:  reason,
	})
	require.NoError(t, err)
	return env
}

func loadOrder(t *testing.T, conn *gorm.DB, id int64) models.Order {
	t.Helper()
	var order models.Order
	require.NoError(t, conn.First(&order, "id = ?", id).Error)
	return order
}

func TestCompletedPaymentCompletesOrder(t *testing.T) {
	conn := openTestDB(t)
	order := createPendingOrder(t, conn)
	pub := &capturePublisher{}
	waiters := NewWaiters()
	rec := newTestReconciler(t, conn, pub, waiters)

	resolved, cancel := waiters.Await(order.ID)
	defer cancel()

	env := paymentResolvedEnv(t, order.ID, enums.PaymentStatusCompleted, enums.FailureReasonNone)
	require.NoError(t, rec.HandlePaymentResolved(context.Background(), env))

	stored := loadOrder(t, conn, order.ID)
	require.Equal(t, enums.OrderStatusCompleted, stored.OrderStatus)
	require.Equal(t, enums.PaymentStatusCompleted, stored.PaymentStatus)
	require.Empty(t, pub.published())

	select {
	case final := <-resolved:
		require.Equal(t, enums.OrderStatusCompleted, final.OrderStatus)
	default:
		t.Fatal("waiter was not resolved")
	}
}

func TestFundsFailureCancelsWithoutCompensation(t *testing.T) {
	conn := openTestDB(t)
	order := createPendingOrder(t, conn)
	pub := &capturePublisher{}
	rec := newTestReconciler(t, conn, pub, NewWaiters())

	env := paymentResolvedEnv(t, order.ID, enums.PaymentStatusFailed, enums.FailureReasonInsufficientFunds)
	require.NoError(t, rec.HandlePaymentResolved(context.Background(), env))

	stored := loadOrder(t, conn, order.ID)
	require.Equal(t, enums.OrderStatusCancelled, stored.OrderStatus)
	require.Equal(t, enums.PaymentStatusFailed, stored.PaymentStatus)
	// No debit was applied, so nothing to compensate.
	require.Empty(t, pub.published())
}

func TestBusinessFailureTriggersCompensation(t *testing.T) {
	conn := openTestDB(t)
	order := createPendingOrder(t, conn)
	pub := &capturePublisher{}
	rec := newTestReconciler(t, conn, pub, NewWaiters())

	env := paymentResolvedEnv(t, order.ID, enums.PaymentStatusFailed, enums.FailureReasonOrderCancelled)
	require.NoError(t, rec.HandlePaymentResolved(context.Background(), env))

	stored := loadOrder(t, conn, order.ID)
	require.Equal(t, enums.OrderStatusCancelled, stored.OrderStatus)

	published := pub.published()
	require.Len(t, published, 1)
	require.Equal(t, enums.EventTypeOrderCancelled, published[0].Type)

	payload, err := bus.DecodeOrderEvent(published[0])
	require.NoError(t, err)
	require.Equal(t, order.ID, payload.OrderID)
	require.Equal(t, order.UserID, payload.UserID)
}

func TestReplayedPaymentEventDoesNotRepeatCompensation(t *testing.T) {
	conn := openTestDB(t)
	order := createPendingOrder(t, conn)
	pub := &capturePublisher{}
	rec := newTestReconciler(t, conn, pub, NewWaiters())

	first := paymentResolvedEnv(t, order.ID, enums.PaymentStatusFailed, enums.FailureReasonOrderCancelled)
	require.NoError(t, rec.HandlePaymentResolved(context.Background(), first))
	require.Len(t, pub.published(), 1)

	// A broker replay carries a fresh event id; the terminal order must not
	// trigger a second order.cancelled.
	replay := paymentResolvedEnv(t, order.ID, enums.PaymentStatusFailed, enums.FailureReasonOrderCancelled)
	require.NoError(t, rec.HandlePaymentResolved(context.Background(), replay))
	require.Len(t, pub.published(), 1)
}

// crashingTxRunner fails the first transaction at commit time, after the
// handler body ran, the way a dropped connection would.
type crashingTxRunner struct {
	inner *db.Client
	armed bool
}

func (c *crashingTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if !c.armed {
		return c.inner.WithTx(ctx, fn)
	}
	c.armed = false
	return c.inner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := fn(tx); err != nil {
			return err
		}
		return errors.New("connection lost before commit")
	})
}

// deafGuard ignores Unmark, standing in for a process that died before the
// handler's cleanup could run. The tx-scoped mark path is inherited from the
// real DB guard.
type deafGuard struct {
	*idempotency.DBGuard
}

func (deafGuard) Unmark(context.Context, string, string) error {
	return nil
}

func TestResolveMarkRollsBackWhenTransactionFails(t *testing.T) {
	conn := openTestDB(t)
	order := createPendingOrder(t, conn)
	pub := &capturePublisher{}

	dbGuard, err := idempotency.NewDBGuard(conn)
	require.NoError(t, err)
	rec := NewReconciler(
		NewRepository(conn),
		&crashingTxRunner{inner: db.FromGorm(conn), armed: true},
		deafGuard{dbGuard},
		pub,
		NewWaiters(),
		testLogger(),
	)

	env := paymentResolvedEnv(t, order.ID, enums.PaymentStatusCompleted, enums.FailureReasonNone)

	// The transaction dies at commit; neither the update nor the mark survive.
	require.Error(t, rec.HandlePaymentResolved(context.Background(), env))
	stored := loadOrder(t, conn, order.ID)
	require.Equal(t, enums.OrderStatusCreated, stored.OrderStatus)
	var marks int64
	require.NoError(t, conn.Model(&models.ProcessedEvent{}).Count(&marks).Error)
	require.Zero(t, marks)

	// The redelivery resolves the order instead of being dropped.
	require.NoError(t, rec.HandlePaymentResolved(context.Background(), env))
	stored = loadOrder(t, conn, order.ID)
	require.Equal(t, enums.OrderStatusCompleted, stored.OrderStatus)
}

func TestDuplicatePaymentEventIsIgnored(t *testing.T) {
	conn := openTestDB(t)
	order := createPendingOrder(t, conn)
	pub := &capturePublisher{}
	rec := newTestReconciler(t, conn, pub, NewWaiters())

	env := paymentResolvedEnv(t, order.ID, enums.PaymentStatusCompleted, enums.FailureReasonNone)
	require.NoError(t, rec.HandlePaymentResolved(context.Background(), env))
	require.NoError(t, rec.HandlePaymentResolved(context.Background(), env))

	stored := loadOrder(t, conn, order.ID)
	require.Equal(t, enums.OrderStatusCompleted, stored.OrderStatus)
}

func TestLatePaymentEventDoesNotOverwriteTerminalState(t *testing.T) {
	conn := openTestDB(t)
	order := createPendingOrder(t, conn)
	pub := &capturePublisher{}
	rec := newTestReconciler(t, conn, pub, NewWaiters())

	first := paymentResolvedEnv(t, order.ID, enums.PaymentStatusCompleted, enums.FailureReasonNone)
	require.NoError(t, rec.HandlePaymentResolved(context.Background(), first))

	// A second emission with a fresh event id and a contradictory outcome.
	late := paymentResolvedEnv(t, order.ID, enums.PaymentStatusFailed, enums.FailureReasonInsufficientFunds)
	require.NoError(t, rec.HandlePaymentResolved(context.Background(), late))

	stored := loadOrder(t, conn, order.ID)
	require.Equal(t, enums.OrderStatusCompleted, stored.OrderStatus)
	require.Equal(t, enums.PaymentStatusCompleted, stored.PaymentStatus)
}

func TestPaymentEventForUnknownOrderIsAcked(t *testing.T) {
	conn := openTestDB(t)
	pub := &capturePublisher{}
	rec := newTestReconciler(t, conn, pub, NewWaiters())

	env := paymentResolvedEnv(t, 404, enums.PaymentStatusCompleted, enums.FailureReasonNone)
	require.NoError(t, rec.HandlePaymentResolved(context.Background(), env))
	require.Empty(t, pub.published())
}

func TestMalformedPaymentEventIsAcked(t *testing.T) {
	conn := openTestDB(t)
	rec := newTestReconciler(t, conn, &capturePublisher{}, NewWaiters())

	env, err := bus.NewEnvelope(enums.EventTypePaymentResolved, 1, bus.PaymentEventPayload{OrderID: 1})
	require.NoError(t, err)
	env.Payload = []byte("{not json")

	require.NoError(t, rec.HandlePaymentResolved(context.Background(), env))
}
