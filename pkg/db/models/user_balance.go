package models

import "time"

// UserBalance is the ledger-store balance row. Balance never goes negative;
// only the payment processor mutates it, always in the same transaction as
// the matching UserTransaction write or delete.
type UserBalance struct {
	UserID    int64     `gorm:"column:user_id;primaryKey" json:"userId"`
	Balance   int64     `gorm:"column:balance;not null" json:"balance"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName pins the logical table name.
func (UserBalance) TableName() string {
	return "user_balances"
}
