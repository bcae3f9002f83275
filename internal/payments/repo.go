package payments

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/sagapay/backend/pkg/db/models"
	pkgerrors "github.com/sagapay/backend/pkg/errors"
)

// Repository is the ledger-store surface. DebitIfAbove is the single guarded
// write that keeps balances non-negative; everything else moves rows the
// processor already decided on.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindBalance(ctx context.Context, userID int64) (*models.UserBalance, error)
	// DebitIfAbove subtracts amount when the balance is strictly greater than
	// it, reporting whether the debit was applied.
	DebitIfAbove(ctx context.Context, userID, amount int64) (bool, error)
	Credit(ctx context.Context, userID, amount int64) error
	CreateTransaction(ctx context.Context, txRow *models.UserTransaction) error
	FindTransactionByOrder(ctx context.Context, orderID int64) (*models.UserTransaction, error)
	DeleteTransaction(ctx context.Context, orderID int64) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds the GORM-backed ledger repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

func (r *repository) FindBalance(ctx context.Context, userID int64) (*models.UserBalance, error) {
	var balance models.UserBalance
	err := r.db.WithContext(ctx).First(&balance, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user balance not found").
				WithDetails(map[string]any{"userId": userID})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fetching user balance")
	}
	return &balance, nil
}

func (r *repository) DebitIfAbove(ctx context.Context, userID, amount int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.UserBalance{}).
		Where("user_id = ? AND balance > ?", userID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "debiting user balance")
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) Credit(ctx context.Context, userID, amount int64) error {
	res := r.db.WithContext(ctx).
		Model(&models.UserBalance{}).
		Where("user_id = ?", userID).
		Update("balance", gorm.Expr("balance + ?", amount))
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "crediting user balance")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "cannot credit missing balance row").
			WithDetails(map[string]any{"userId": userID})
	}
	return nil
}

func (r *repository) CreateTransaction(ctx context.Context, txRow *models.UserTransaction) error {
	if err := r.db.WithContext(ctx).Create(txRow).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording user transaction")
	}
	return nil
}

func (r *repository) FindTransactionByOrder(ctx context.Context, orderID int64) (*models.UserTransaction, error) {
	var txRow models.UserTransaction
	err := r.db.WithContext(ctx).First(&txRow, "order_id = ?", orderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user transaction not found").
				WithDetails(map[string]any{"orderId": orderID})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fetching user transaction")
	}
	return &txRow, nil
}

func (r *repository) DeleteTransaction(ctx context.Context, orderID int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Delete(&models.UserTransaction{})
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "deleting user transaction")
	}
	return res.RowsAffected > 0, nil
}
