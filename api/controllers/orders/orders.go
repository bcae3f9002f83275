package orders

import (
	"net/http"

	"github.com/sagapay/backend/api/responses"
	"github.com/sagapay/backend/api/validators"
	internalorders "github.com/sagapay/backend/internal/orders"
	pkgerrors "github.com/sagapay/backend/pkg/errors"
	"github.com/sagapay/backend/pkg/logger"
)

// CreateOrderRequest is the wire shape of POST /order/create. Amount is the
// price to debit, in minor currency units.
type CreateOrderRequest struct {
	UserID    int64 `json:"userId" validate:"required,gt=0"`
	ProductID int64 `json:"productId" validate:"required,gt=0"`
	Amount    int64 `json:"amount" validate:"required,gt=0"`
}

// Create opens an order. With getStatus=true the request blocks until the
// payment outcome lands or the await timeout maps to 504.
func Create(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		var req CreateOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		getStatus, err := validators.ParseQueryBool(r, "getStatus", false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		in := internalorders.CreateOrderInput{
			UserID:    req.UserID,
			ProductID: req.ProductID,
			Price:     req.Amount,
		}

		create := svc.CreateOrder
		if getStatus {
			create = svc.CreateAndAwait
		}

		order, err := create(r.Context(), in)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// List returns every order with its current status pair.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		list, err := svc.List(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// Fetch returns one order by the orderId query parameter.
func Fetch(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := validators.ParseQueryInt64(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}
