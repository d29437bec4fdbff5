// Package engine orchestrates the Protect core: quote rating, policy bind,
// claim lifecycle, anchor-event ingestion and the signal-loss watchdog. The
// engine owns ordering and idempotency of side effects; row persistence is
// delegated to the Store contract and the ledger/adjudication collaborators
// are best-effort.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/terryholliday/proveniq-protect/pkg/adjudication"
	"github.com/terryholliday/proveniq-protect/pkg/canonical"
	"github.com/terryholliday/proveniq-protect/pkg/domain"
	"github.com/terryholliday/proveniq-protect/pkg/ledger"
)

// ClaimFilter narrows ListClaims. Zero values match everything.
type ClaimFilter struct {
	PolicyID string
	Status   domain.ClaimStatus
	Limit    int
}

// OutboxItem is one deferred best-effort side effect awaiting retry.
type OutboxItem struct {
	OutboxID     string
	Kind         string // "ledger_append" | "adjudication_submit"
	EntityType   string
	EntityID     string
	Payload      []byte
	Attempts     int
	LastError    string
	CreatedAt    time.Time
	DispatchedAt *time.Time
}

const (
	OutboxLedgerAppend       = "ledger_append"
	OutboxAdjudicationSubmit = "adjudication_submit"
)

// Store is the record-store contract consumed by the engine. Implementations
// provide per-row atomic updates; the engine does not assume any cross-row
// transaction.
type Store interface {
	CreateQuote(ctx context.Context, q domain.Quote) error
	GetQuote(ctx context.Context, quoteID string) (*domain.Quote, error)
	SetQuoteStatus(ctx context.Context, quoteID string, status domain.QuoteStatus) error
	SetLedgerEventID(ctx context.Context, entityType, entityID, ledgerEventID string) error

	CreatePolicy(ctx context.Context, p domain.Policy) error
	GetPolicy(ctx context.Context, policyID string) (*domain.Policy, error)
	FindActivePoliciesByAnchor(ctx context.Context, anchorID string) ([]domain.Policy, error)
	FindSilenceCandidates(ctx context.Context, cutoff time.Time) ([]domain.Policy, error)
	ApplyPolicyAnchorUpdate(ctx context.Context, policyID string, upd domain.PolicyAnchorUpdate) error

	CreateClaim(ctx context.Context, c domain.Claim) error
	GetClaim(ctx context.Context, claimID string) (*domain.Claim, error)
	ListClaims(ctx context.Context, f ClaimFilter) ([]domain.Claim, error)
	ApplyClaimUpdate(ctx context.Context, claimID string, upd domain.ClaimUpdate, resolvedAt *time.Time) (*domain.Claim, error)
	SetClaimAdjudication(ctx context.Context, claimID, adjudicationID, status string) error

	CreateAnchorEvent(ctx context.Context, ev domain.AnchorEvent) error
	GetAnchorEventByLedgerEventID(ctx context.Context, ledgerEventID string) (*domain.AnchorEvent, error)
	// MarkAnchorEventProcessed flips processed and records how many policies
	// the completed run updated, so replays can report the original outcome.
	MarkAnchorEventProcessed(ctx context.Context, anchorEventID string, at time.Time, policiesAffected int) error

	// AppendAudit is append-only. An entry with a non-empty AuditID is
	// written at most once; replays with the same id are no-ops.
	AppendAudit(ctx context.Context, entry domain.AuditLogEntry) error

	EnqueueOutbox(ctx context.Context, item OutboxItem) error
	PendingOutbox(ctx context.Context, limit int) ([]OutboxItem, error)
	MarkOutboxDispatched(ctx context.Context, outboxID string, at time.Time) error
	MarkOutboxFailed(ctx context.Context, outboxID, lastError string) error
}

type Engine struct {
	store        Store
	ledger       ledger.Client
	adjudication adjudication.Client
	log          *slog.Logger

	quoteTTL         time.Duration
	silenceThreshold time.Duration
	now              func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithQuoteTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.quoteTTL = ttl }
}

func WithSilenceThreshold(d time.Duration) Option {
	return func(e *Engine) { e.silenceThreshold = d }
}

func New(store Store, lc ledger.Client, adj adjudication.Client, log *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:            store,
		ledger:           lc,
		adjudication:     adj,
		log:              log,
		quoteTTL:         24 * time.Hour,
		silenceThreshold: 24 * time.Hour,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	return e
}

// appendLedger performs a best-effort ledger append. On availability failure
// the event is queued on the outbox for later reconciliation and an empty
// ledger event id is returned; the domain operation proceeds regardless.
func (e *Engine) appendLedger(ctx context.Context, ev ledger.Event, entityType, entityID string) string {
	receipt, err := e.ledger.AppendEvent(ctx, ev)
	if err == nil {
		return receipt.LedgerEventID
	}
	e.log.Warn("ledger append failed, queued for retry",
		"idempotency_key", ev.IdempotencyKey,
		"event_type", ev.Type,
		"error", err)
	e.enqueueLedgerRetry(ctx, ev, entityType, entityID)
	return ""
}

func (e *Engine) enqueueLedgerRetry(ctx context.Context, ev ledger.Event, entityType, entityID string) {
	payload, err := canonical.Canonicalize(ev)
	if err != nil {
		e.log.Error("drop unserializable ledger event", "idempotency_key", ev.IdempotencyKey, "error", err)
		return
	}
	item := OutboxItem{
		OutboxID:   "obx_" + uuid.NewString(),
		Kind:       OutboxLedgerAppend,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
		CreatedAt:  e.now().UTC(),
	}
	if err := e.store.EnqueueOutbox(ctx, item); err != nil {
		e.log.Error("enqueue ledger retry failed", "idempotency_key", ev.IdempotencyKey, "error", err)
	}
}

func (e *Engine) audit(ctx context.Context, entry domain.AuditLogEntry) {
	if entry.AuditID == "" {
		entry.AuditID = "aud_" + uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = e.now().UTC()
	}
	if err := e.store.AppendAudit(ctx, entry); err != nil {
		e.log.Error("audit append failed", "action", entry.Action, "resource_id", entry.ResourceID, "error", err)
	}
}

// deterministicAuditID derives a stable audit id from the causal event so a
// reprocessed anchor event cannot double-write its audit entries.
func deterministicAuditID(parts ...string) string {
	joined := ""
	for i, p := range parts {
		if i > 0 {
			joined += "\n"
		}
		joined += p
	}
	return "aud_" + canonical.Hash256Hex([]byte(joined))[:32]
}

func randHex(nBytes int) string {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure is unrecoverable for id generation
		panic(err)
	}
	return hex.EncodeToString(b)
}
