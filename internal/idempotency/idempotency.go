package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	dbpkg "github.com/sagapay/backend/pkg/db"
	"github.com/sagapay/backend/pkg/db/models"
	"github.com/sagapay/backend/pkg/redis"
)

// Guard deduplicates event ids per consumer. CheckAndMark marks the event as
// processed and reports whether it already was; Unmark releases the mark so a
// redelivery can retry after a handler failure.
type Guard interface {
	CheckAndMark(ctx context.Context, consumer, eventID string) (bool, error)
	Unmark(ctx context.Context, consumer, eventID string) error
}

// TxGuard is implemented by guards whose mark can join a store transaction,
// so the mark commits or rolls back together with the mutation it protects.
type TxGuard interface {
	Guard
	WithTx(tx *gorm.DB) Guard
}

// ForTx rebinds g onto tx when the underlying store supports transactional
// marks. External stores like Redis are returned as-is; their marks commit
// immediately and rely on Unmark for cleanup after a failed handler.
func ForTx(g Guard, tx *gorm.DB) Guard {
	if tg, ok := g.(TxGuard); ok {
		return tg.WithTx(tx)
	}
	return g
}

// RedisGuard tracks processed event ids using Redis SETNX with a TTL.
// Keys follow the `sagapay:idem:evt:processed:<consumer>:<event_id>` pattern.
type RedisGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewRedisGuard builds a guard that marks events as processed for the given TTL.
func NewRedisGuard(store redis.IdempotencyStore, ttl time.Duration) (*RedisGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &RedisGuard{store: store, ttl: ttl}, nil
}

// CheckAndMark returns true if the event has already been processed and
// otherwise marks it as processed with the configured TTL.
func (g *RedisGuard) CheckAndMark(ctx context.Context, consumer, eventID string) (bool, error) {
	key, err := g.processedKey(consumer, eventID)
	if err != nil {
		return false, err
	}
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Unmark removes the processed mark so the event can be handled again.
func (g *RedisGuard) Unmark(ctx context.Context, consumer, eventID string) error {
	key, err := g.processedKey(consumer, eventID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *RedisGuard) processedKey(consumer, eventID string) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == "" {
		return "", errors.New("event id is required")
	}
	scope := fmt.Sprintf("evt:processed:%s", consumer)
	return g.store.IdempotencyKey(scope, eventID), nil
}

// DBGuard records processed event ids in the processed_events table. Used by
// single-node deployments and tests where Redis is not available; the unique
// primary key makes the mark race-safe across handler goroutines.
type DBGuard struct {
	db *gorm.DB
}

// NewDBGuard builds a guard over the given connection.
func NewDBGuard(db *gorm.DB) (*DBGuard, error) {
	if db == nil {
		return nil, errors.New("db handle is required")
	}
	return &DBGuard{db: db}, nil
}

// WithTx rebinds the guard onto a transaction handle. A mark inserted through
// the rebound guard only survives if the transaction commits, which closes
// the window where a crash could leave a mark without the guarded mutation.
func (g *DBGuard) WithTx(tx *gorm.DB) Guard {
	return &DBGuard{db: tx}
}

// CheckAndMark inserts the processed row, reporting true on a duplicate.
func (g *DBGuard) CheckAndMark(ctx context.Context, consumer, eventID string) (bool, error) {
	if consumer == "" {
		return false, errors.New("consumer name is required")
	}
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	row := models.ProcessedEvent{EventID: eventID, Consumer: consumer}
	err := g.db.WithContext(ctx).Create(&row).Error
	if err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// Unmark deletes the processed row.
func (g *DBGuard) Unmark(ctx context.Context, consumer, eventID string) error {
	return g.db.WithContext(ctx).
		Where("event_id = ? AND consumer = ?", eventID, consumer).
		Delete(&models.ProcessedEvent{}).Error
}
