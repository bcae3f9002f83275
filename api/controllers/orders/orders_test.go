package orders

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	internalorders "github.com/sagapay/backend/internal/orders"
	"github.com/sagapay/backend/pkg/db/models"
	"github.com/sagapay/backend/pkg/enums"
	pkgerrors "github.com/sagapay/backend/pkg/errors"
	"github.com/sagapay/backend/pkg/logger"
	"github.com/sagapay/backend/pkg/types"
)

type stubService struct {
	createFn func(ctx context.Context, in internalorders.CreateOrderInput) (*models.Order, error)
	awaitFn  func(ctx context.Context, in internalorders.CreateOrderInput) (*models.Order, error)
	getFn    func(ctx context.Context, id int64) (*models.Order, error)
	listFn   func(ctx context.Context) ([]models.Order, error)
}

func (s *stubService) CreateOrder(ctx context.Context, in internalorders.CreateOrderInput) (*models.Order, error) {
	return s.createFn(ctx, in)
}

func (s *stubService) CreateAndAwait(ctx context.Context, in internalorders.CreateOrderInput) (*models.Order, error) {
	return s.awaitFn(ctx, in)
}

func (s *stubService) Get(ctx context.Context, id int64) (*models.Order, error) {
	return s.getFn(ctx, id)
}

func (s *stubService) List(ctx context.Context) ([]models.Order, error) {
	return s.listFn(ctx)
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func pendingOrder() *models.Order {
	return &models.Order{
		ID:            1,
		UserID:        101,
		ProductID:     7,
		Price:         2000,
		OrderStatus:   enums.OrderStatusCreated,
		PaymentStatus: enums.PaymentStatusUnknown,
	}
}

func TestCreateReturnsPendingOrder(t *testing.T) {
	svc := &stubService{
		createFn: func(_ context.Context, in internalorders.CreateOrderInput) (*models.Order, error) {
			require.Equal(t, int64(101), in.UserID)
			require.Equal(t, int64(2000), in.Price)
			return pendingOrder(), nil
		},
		awaitFn: func(context.Context, internalorders.CreateOrderInput) (*models.Order, error) {
			t.Fatal("await must not be used without getStatus")
			return nil, nil
		},
	}

	body := `{"userId":101,"productId":7,"amount":2000}`
	r := httptest.NewRequest(http.MethodPost, "/order/create", strings.NewReader(body))
	w := httptest.NewRecorder()
	Create(svc, testLogger())(w, r)

	require.Equal(t, http.StatusCreated, w.Code)

	var envelope types.SuccessEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	payload := envelope.Data.(map[string]any)
	require.Equal(t, "CREATED", payload["orderStatus"])
	require.Equal(t, "UNKNOWN", payload["paymentStatus"])
}

func TestCreateWithGetStatusAwaitsOutcome(t *testing.T) {
	resolved := pendingOrder()
	resolved.OrderStatus = enums.OrderStatusCompleted
	resolved.PaymentStatus = enums.PaymentStatusCompleted

	svc := &stubService{
		createFn: func(context.Context, internalorders.CreateOrderInput) (*models.Order, error) {
			t.Fatal("async create must not be used with getStatus=true")
			return nil, nil
		},
		awaitFn: func(context.Context, internalorders.CreateOrderInput) (*models.Order, error) {
			return resolved, nil
		},
	}

	body := `{"userId":101,"productId":7,"amount":2000}`
	r := httptest.NewRequest(http.MethodPost, "/order/create?getStatus=true", strings.NewReader(body))
	w := httptest.NewRecorder()
	Create(svc, testLogger())(w, r)

	require.Equal(t, http.StatusCreated, w.Code)

	var envelope types.SuccessEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	payload := envelope.Data.(map[string]any)
	require.Equal(t, "COMPLETED", payload["orderStatus"])
}

func TestCreateRejectsInvalidBody(t *testing.T) {
	svc := &stubService{}

	body := `{"userId":101}`
	r := httptest.NewRequest(http.MethodPost, "/order/create", strings.NewReader(body))
	w := httptest.NewRecorder()
	Create(svc, testLogger())(w, r)

	require.Equal(t, http.StatusBadRequest, w.Code)

	var envelope types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	require.Equal(t, string(pkgerrors.CodeValidation), envelope.Error.Code)
}

func TestCreateMapsAwaitTimeoutTo504(t *testing.T) {
	svc := &stubService{
		awaitFn: func(context.Context, internalorders.CreateOrderInput) (*models.Order, error) {
			return nil, pkgerrors.New(pkgerrors.CodeTimeout, "payment outcome still pending").
				WithDetails(map[string]any{"orderId": int64(1)})
		},
	}

	body := `{"userId":101,"productId":7,"amount":2000}`
	r := httptest.NewRequest(http.MethodPost, "/order/create?getStatus=true", strings.NewReader(body))
	w := httptest.NewRecorder()
	Create(svc, testLogger())(w, r)

	require.Equal(t, http.StatusGatewayTimeout, w.Code)

	var envelope types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	require.Equal(t, string(pkgerrors.CodeTimeout), envelope.Error.Code)
	require.NotNil(t, envelope.Error.Details)
}

func TestFetchReturnsOrder(t *testing.T) {
	svc := &stubService{
		getFn: func(_ context.Context, id int64) (*models.Order, error) {
			require.Equal(t, int64(42), id)
			order := pendingOrder()
			order.ID = id
			return order, nil
		},
	}

	r := httptest.NewRequest(http.MethodGet, "/order/fetch?orderId=42", nil)
	w := httptest.NewRecorder()
	Fetch(svc, testLogger())(w, r)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestFetchRequiresOrderID(t *testing.T) {
	svc := &stubService{}

	r := httptest.NewRequest(http.MethodGet, "/order/fetch", nil)
	w := httptest.NewRecorder()
	Fetch(svc, testLogger())(w, r)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFetchMapsUnknownOrderTo404(t *testing.T) {
	svc := &stubService{
		getFn: func(context.Context, int64) (*models.Order, error) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		},
	}

	r := httptest.NewRequest(http.MethodGet, "/order/fetch?orderId=9000", nil)
	w := httptest.NewRecorder()
	Fetch(svc, testLogger())(w, r)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestListReturnsOrders(t *testing.T) {
	svc := &stubService{
		listFn: func(context.Context) ([]models.Order, error) {
			return []models.Order{*pendingOrder()}, nil
		},
	}

	r := httptest.NewRequest(http.MethodGet, "/order/all", nil)
	w := httptest.NewRecorder()
	List(svc, testLogger())(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var envelope types.SuccessEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	require.Len(t, envelope.Data.([]any), 1)
}
