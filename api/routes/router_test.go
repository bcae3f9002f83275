package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/sagapay/backend/internal/orders"
	"github.com/sagapay/backend/pkg/config"
	"github.com/sagapay/backend/pkg/db/models"
	"github.com/sagapay/backend/pkg/enums"
	"github.com/sagapay/backend/pkg/logger"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type stubOrdersService struct{}

func (stubOrdersService) CreateOrder(context.Context, orders.CreateOrderInput) (*models.Order, error) {
	return &models.Order{ID: 1, OrderStatus: enums.OrderStatusCreated, PaymentStatus: enums.PaymentStatusUnknown}, nil
}

func (stubOrdersService) CreateAndAwait(context.Context, orders.CreateOrderInput) (*models.Order, error) {
	return &models.Order{ID: 1, OrderStatus: enums.OrderStatusCompleted, PaymentStatus: enums.PaymentStatusCompleted}, nil
}

func (stubOrdersService) Get(context.Context, int64) (*models.Order, error) {
	return &models.Order{ID: 1}, nil
}

func (stubOrdersService) List(context.Context) ([]models.Order, error) {
	return nil, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	cfg := &config.Config{}
	cfg.App.Env = "test"
	return NewRouter(cfg, logg, stubPinger{}, stubOrdersService{}, prometheus.NewRegistry())
}

func TestRouterServesProbes(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestRouterServesOrderRoutes(t *testing.T) {
	router := newTestRouter(t)

	r := httptest.NewRequest(http.MethodGet, "/order/all", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	r = httptest.NewRequest(http.MethodGet, "/order/fetch?orderId=1", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRouterUnknownRouteIs404(t *testing.T) {
	router := newTestRouter(t)

	r := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusNotFound, w.Code)
}
