package models

import "time"

// UserTransaction exists iff a debit for the order succeeded and has not been
// compensated. Created on successful debit, deleted on refund, never updated
// in place.
type UserTransaction struct {
	OrderID   int64     `gorm:"column:order_id;primaryKey" json:"orderId"`
	UserID    int64     `gorm:"column:user_id;not null;index" json:"userId"`
	Amount    int64     `gorm:"column:amount;not null" json:"amount"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName pins the logical table name.
func (UserTransaction) TableName() string {
	return "user_transactions"
}
