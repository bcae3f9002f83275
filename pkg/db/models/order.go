package models

import (
	"time"

	"github.com/sagapay/backend/pkg/enums"
)

// Order is the order-store row. OrderStatus and PaymentStatus are the dual
// status fields the reconciler resolves; only the reconciler mutates them
// after creation.
type Order struct {
	ID            int64               `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID        int64               `gorm:"column:user_id;not null;index" json:"userId"`
	ProductID     int64               `gorm:"column:product_id;not null" json:"productId"`
	Price         int64               `gorm:"column:price;not null" json:"price"`
	OrderStatus   enums.OrderStatus   `gorm:"column:order_status;type:varchar(16);not null" json:"orderStatus"`
	PaymentStatus enums.PaymentStatus `gorm:"column:payment_status;type:varchar(16);not null" json:"paymentStatus"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName pins the logical table name.
func (Order) TableName() string {
	return "orders"
}

// IsResolved reports whether both status fields reached a final value.
func (o Order) IsResolved() bool {
	return o.OrderStatus.IsTerminal() && o.PaymentStatus.IsResolved()
}
