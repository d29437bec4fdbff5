// Package ledger is the client for the ProvenIQ append-only event log. The
// ledger is an external service: Protect only appends events and holds
// receipts, never ledger internals. Two interchangeable implementations exist
// behind the same contract, selected by injected configuration.
package ledger

import (
	"context"
	"time"

	"github.com/terryholliday/proveniq-protect/pkg/domain"
)

const SchemaVersion = "1.0.0"

// Event is one append request. Payload embeds, by convention, the canonical
// hash of its own business payload under canonical_hash_hex. IdempotencyKey
// must be derived from stable identifiers for any retriable operation.
type Event struct {
	Type           string         `json:"type"`
	AssetID        string         `json:"asset_id"`
	CustodyTokenID string         `json:"custody_token_id,omitempty"`
	Payload        map[string]any `json:"payload"`
	CorrelationID  string         `json:"correlation_id"`
	IdempotencyKey string         `json:"idempotency_key"`
	CreatedAt      time.Time      `json:"created_at"`
	SchemaVersion  string         `json:"schema_version"`
}

type Receipt struct {
	LedgerEventID  string `json:"ledger_event_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Client appends events with exactly-once semantics at the ledger boundary:
// two appends with the same idempotency key yield one stored event and the
// same receipt.
type Client interface {
	AppendEvent(ctx context.Context, ev Event) (Receipt, error)
}

const (
	ModeMemory = "memory"
	ModeLive   = "live"
)

type Config struct {
	Mode    string
	BaseURL string
	Token   string
	Timeout time.Duration
}

// New selects an implementation from cfg. Configuration is injected at
// construction so multiple configurations can coexist in one process.
func New(cfg Config) (Client, error) {
	switch cfg.Mode {
	case ModeMemory, "":
		return NewMemoryClient(), nil
	case ModeLive:
		if cfg.BaseURL == "" {
			return nil, domain.NewError(domain.CodeValidation, "ledger mode live requires a base URL")
		}
		return NewHTTPClient(cfg.BaseURL, cfg.Token, cfg.Timeout), nil
	default:
		return nil, domain.Errorf(domain.CodeValidation, "unknown ledger mode %q", cfg.Mode)
	}
}

func validate(ev Event) error {
	if ev.Type == "" {
		return domain.NewError(domain.CodeValidation, "ledger event type is required")
	}
	if ev.IdempotencyKey == "" {
		return domain.NewError(domain.CodeValidation, "ledger event idempotency_key is required")
	}
	return nil
}
