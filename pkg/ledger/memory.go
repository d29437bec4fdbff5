package ledger

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryClient is the non-durable stand-in used in tests and offline
// environments. It honors the idempotency contract: a repeated key returns
// the receipt of the first append and stores nothing new.
type MemoryClient struct {
	mu       sync.Mutex
	events   []Event
	receipts map[string]Receipt
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{receipts: map[string]Receipt{}}
}

func (c *MemoryClient) AppendEvent(_ context.Context, ev Event) (Receipt, error) {
	if err := validate(ev); err != nil {
		return Receipt{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if prior, ok := c.receipts[ev.IdempotencyKey]; ok {
		return prior, nil
	}
	receipt := Receipt{
		LedgerEventID:  "led_" + uuid.NewString(),
		IdempotencyKey: ev.IdempotencyKey,
	}
	c.events = append(c.events, ev)
	c.receipts[ev.IdempotencyKey] = receipt
	return receipt, nil
}

// Events returns a snapshot of stored events, oldest first.
func (c *MemoryClient) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}
