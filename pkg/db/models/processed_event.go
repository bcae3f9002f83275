package models

import "time"

// ProcessedEvent records an event id a named consumer has already handled.
// The row is inserted inside the same transaction as the guarded mutation, so
// a redelivered event either sees the row or the mutation rolled back with it.
type ProcessedEvent struct {
	EventID     string    `gorm:"column:event_id;type:varchar(36);primaryKey" json:"eventId"`
	Consumer    string    `gorm:"column:consumer;type:varchar(64);primaryKey" json:"consumer"`
	ProcessedAt time.Time `gorm:"column:processed_at;autoCreateTime" json:"processedAt"`
}

// TableName pins the logical table name.
func (ProcessedEvent) TableName() string {
	return "processed_events"
}
