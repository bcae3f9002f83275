package orders

import (
	pkgerrors "github.com/sagapay/backend/pkg/errors"
)

// CreateOrderInput carries the fields needed to open an order. Price is the
// amount the payment processor will try to debit, in minor currency units.
type CreateOrderInput struct {
	UserID    int64
	ProductID int64
	Price     int64
}

// Validate enforces the creation preconditions.
func (in CreateOrderInput) Validate() error {
	details := map[string]string{}
	if in.UserID <= 0 {
		details["userId"] = "must be positive"
	}
	if in.ProductID <= 0 {
		details["productId"] = "must be positive"
	}
	if in.Price <= 0 {
		details["price"] = "must be positive"
	}
	if len(details) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid order input").WithDetails(details)
	}
	return nil
}
