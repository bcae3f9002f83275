package orders

import (
	"context"
	"time"

	"github.com/sagapay/backend/pkg/bus"
	"github.com/sagapay/backend/pkg/db/models"
	"github.com/sagapay/backend/pkg/enums"
	pkgerrors "github.com/sagapay/backend/pkg/errors"
	"github.com/sagapay/backend/pkg/logger"
	"github.com/sagapay/backend/pkg/metrics"
)

const defaultAwaitTimeout = 30 * time.Second

// publisher is the outbound slice of the bus the service needs.
type publisher interface {
	Publish(ctx context.Context, topic string, env bus.Envelope) error
}

// Service is the order lifecycle surface exposed to the HTTP layer.
type Service interface {
	// CreateOrder opens an order and publishes order.created without waiting
	// for the payment outcome.
	CreateOrder(ctx context.Context, in CreateOrderInput) (*models.Order, error)
	// CreateAndAwait opens an order and blocks until the reconciler resolves
	// it or the configured timeout elapses.
	CreateAndAwait(ctx context.Context, in CreateOrderInput) (*models.Order, error)
	Get(ctx context.Context, id int64) (*models.Order, error)
	List(ctx context.Context) ([]models.Order, error)
}

type service struct {
	repo         Repository
	publisher    publisher
	waiters      *Waiters
	logg         *logger.Logger
	metrics      *metrics.SagaMetrics
	awaitTimeout time.Duration
}

// NewService wires the order service.
func NewService(
	repo Repository,
	pub publisher,
	waiters *Waiters,
	logg *logger.Logger,
	sagaMetrics *metrics.SagaMetrics,
	awaitTimeout time.Duration,
) Service {
	if awaitTimeout <= 0 {
		awaitTimeout = defaultAwaitTimeout
	}
	return &service{
		repo:         repo,
		publisher:    pub,
		waiters:      waiters,
		logg:         logg,
		metrics:      sagaMetrics,
		awaitTimeout: awaitTimeout,
	}
}

func (s *service) CreateOrder(ctx context.Context, in CreateOrderInput) (*models.Order, error) {
	order, err := s.create(ctx, in)
	if err != nil {
		return nil, err
	}
	s.publishCreated(ctx, order)
	return order, nil
}

func (s *service) CreateAndAwait(ctx context.Context, in CreateOrderInput) (*models.Order, error) {
	order, err := s.create(ctx, in)
	if err != nil {
		return nil, err
	}

	// The waiter goes in before the event goes out so the resolution signal
	// cannot slip through the gap.
	resolved, cancel := s.waiters.Await(order.ID)
	defer cancel()

	s.publishCreated(ctx, order)

	// Covers a resolution applied by another replica between our store write
	// and the waiter registration.
	if fresh, err := s.repo.FindByID(ctx, order.ID); err == nil && fresh.IsResolved() {
		return fresh, nil
	}

	timer := time.NewTimer(s.awaitTimeout)
	defer timer.Stop()

	select {
	case final := <-resolved:
		return final, nil
	case <-ctx.Done():
		return nil, pkgerrors.Wrap(pkgerrors.CodeTimeout, ctx.Err(), "request aborted while awaiting payment outcome").
			WithDetails(map[string]any{"orderId": order.ID})
	case <-timer.C:
		// Another replica's reconciler may have consumed the payment event,
		// in which case the local waiter never fires. The store is the
		// authority, the channel is only a shortcut.
		if fresh, err := s.repo.FindByID(ctx, order.ID); err == nil && fresh.IsResolved() {
			return fresh, nil
		}
		s.metrics.IncAwaitTimeout()
		logCtx := s.logg.WithOrderID(ctx, order.ID)
		s.logg.Warn(logCtx, "payment outcome still pending after await timeout")
		return nil, pkgerrors.New(pkgerrors.CodeTimeout, "payment outcome still pending").
			WithDetails(map[string]any{"orderId": order.ID})
	}
}

func (s *service) Get(ctx context.Context, id int64) (*models.Order, error) {
	if id <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id must be positive")
	}
	return s.repo.FindByID(ctx, id)
}

func (s *service) List(ctx context.Context) ([]models.Order, error) {
	return s.repo.ListAll(ctx)
}

func (s *service) create(ctx context.Context, in CreateOrderInput) (*models.Order, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	order := &models.Order{
		UserID:        in.UserID,
		ProductID:     in.ProductID,
		Price:         in.Price,
		OrderStatus:   enums.OrderStatusCreated,
		PaymentStatus: enums.PaymentStatusUnknown,
	}
	if err := s.repo.Create(ctx, order); err != nil {
		return nil, err
	}

	logCtx := s.logg.WithOrderID(ctx, order.ID)
	s.logg.Info(logCtx, "order created")
	return order, nil
}

// publishCreated emits order.created. A publish failure after the store write
// is logged, not surfaced: the order row exists and the caller already owns
// it; the stuck CREATED order is what the bus metrics and logs are for.
func (s *service) publishCreated(ctx context.Context, order *models.Order) {
	env, err := bus.NewEnvelope(enums.EventTypeOrderCreated, order.ID, bus.OrderEventPayload{
		OrderID:   order.ID,
		UserID:    order.UserID,
		ProductID: order.ProductID,
		Price:     order.Price,
		Status:    order.OrderStatus,
	})
	if err != nil {
		s.logg.Error(s.logg.WithOrderID(ctx, order.ID), "building order.created envelope", err)
		return
	}

	publishCtx := context.WithoutCancel(ctx)
	if err := s.publisher.Publish(publishCtx, bus.TopicOrderEvents, env); err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id": order.ID,
			"event_id": env.EventID,
		})
		s.logg.Error(logCtx, "publishing order.created", err)
	}
}
