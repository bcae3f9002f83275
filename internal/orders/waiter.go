package orders

import (
	"sync"

	"github.com/sagapay/backend/pkg/db/models"
)

// Waiters lets the synchronous creation path block on the reconciler's
// resolution signal instead of polling the store. A waiter is registered
// before the order.created event is published so the signal cannot be missed.
type Waiters struct {
	mu      sync.Mutex
	pending map[int64][]chan *models.Order
}

// NewWaiters builds an empty registry.
func NewWaiters() *Waiters {
	return &Waiters{pending: make(map[int64][]chan *models.Order)}
}

// Await registers interest in the resolution of orderID. The returned cancel
// func must be called when the caller stops waiting.
func (w *Waiters) Await(orderID int64) (<-chan *models.Order, func()) {
	ch := make(chan *models.Order, 1)

	w.mu.Lock()
	w.pending[orderID] = append(w.pending[orderID], ch)
	w.mu.Unlock()

	cancel := func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		waiters := w.pending[orderID]
		for i, candidate := range waiters {
			if candidate == ch {
				w.pending[orderID] = append(waiters[:i], waiters[i+1:]...)
				break
			}
		}
		if len(w.pending[orderID]) == 0 {
			delete(w.pending, orderID)
		}
	}
	return ch, cancel
}

// Resolve wakes every waiter registered for orderID with the resolved order.
func (w *Waiters) Resolve(orderID int64, order *models.Order) {
	w.mu.Lock()
	waiters := w.pending[orderID]
	delete(w.pending, orderID)
	w.mu.Unlock()

	for _, ch := range waiters {
		select {
		case ch <- order:
		default:
		}
	}
}
