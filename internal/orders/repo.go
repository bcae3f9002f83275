package orders

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/sagapay/backend/pkg/db/models"
	"github.com/sagapay/backend/pkg/enums"
	pkgerrors "github.com/sagapay/backend/pkg/errors"
)

// Repository is the order-store surface. ResolveIfCreated is the only write
// path after creation; its WHERE clause on the CREATED state is what makes
// duplicate payment events harmless.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id int64) (*models.Order, error)
	ListAll(ctx context.Context) ([]models.Order, error)
	ResolveIfCreated(ctx context.Context, id int64, orderStatus enums.OrderStatus, paymentStatus enums.PaymentStatus) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds the GORM-backed order repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating order")
	}
	return nil
}

func (r *repository) FindByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found").
				WithDetails(map[string]any{"orderId": id})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fetching order")
	}
	return &order, nil
}

func (r *repository) ListAll(ctx context.Context) ([]models.Order, error) {
	var list []models.Order
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&list).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing orders")
	}
	return list, nil
}

func (r *repository) ResolveIfCreated(ctx context.Context, id int64, orderStatus enums.OrderStatus, paymentStatus enums.PaymentStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND order_status = ?", id, enums.OrderStatusCreated).
		Updates(map[string]any{
			"order_status":   orderStatus,
			"payment_status": paymentStatus,
		})
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "resolving order status")
	}
	return res.RowsAffected > 0, nil
}
