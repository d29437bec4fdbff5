package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/terryholliday/proveniq-protect/pkg/canonical"
	"github.com/terryholliday/proveniq-protect/pkg/domain"
	"github.com/terryholliday/proveniq-protect/pkg/ledger"
	"github.com/terryholliday/proveniq-protect/pkg/pricing"
)

type QuoteRequest struct {
	CoverageType string `json:"coverage_type"`
	TermDays     int    `json:"term_days"`
}

// RateQuote prices the context and persists a PENDING quote that expires
// after the configured TTL. Premium and risk are fixed at creation; the quote
// is a replayable function of the context plus the pricing version.
func (e *Engine) RateQuote(ctx context.Context, pctx pricing.Context, req QuoteRequest) (*domain.Quote, error) {
	if pctx.AssetID == "" {
		return nil, domain.NewError(domain.CodeValidation, "asset_id is required").
			WithDetail("field", "asset_id")
	}
	if req.TermDays <= 0 {
		return nil, domain.Errorf(domain.CodeValidation, "term_days must be positive, got %d", req.TermDays).
			WithDetail("field", "term_days")
	}
	if req.CoverageType == "" {
		return nil, domain.NewError(domain.CodeValidation, "coverage_type is required").
			WithDetail("field", "coverage_type")
	}

	result, err := pricing.CalculatePremium(pctx)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	q := domain.Quote{
		QuoteID:                 uuid.NewString(),
		AssetID:                 pctx.AssetID,
		ValuationMicros:         pctx.ValuationMicros,
		SecurityLevel:           pctx.SecurityLevel,
		LastVerifiedServiceDays: pctx.LastVerifiedServiceDays,
		TransitDamageHistory:    pctx.TransitDamageHistory,
		PremiumMicros:           result.PremiumMicros,
		Currency:                result.Currency,
		RiskBps:                 result.RiskBps,
		Reasons:                 result.Reasons,
		PricingVersion:          result.PricingVersion,
		InputsHash:              result.InputsHash,
		CoverageType:            req.CoverageType,
		TermDays:                req.TermDays,
		Status:                  domain.QuotePending,
		ExpiresAt:               now.Add(e.quoteTTL),
		CreatedAt:               now,
	}
	if err := e.store.CreateQuote(ctx, q); err != nil {
		return nil, domain.Errorf(domain.CodeInternal, "persist quote: %v", err)
	}

	quotePayload := map[string]any{
		"quote_id":             q.QuoteID,
		"asset_id":             q.AssetID,
		"premium_micros":       q.PremiumMicros,
		"risk_bps":             q.RiskBps,
		"pricing_version":      q.PricingVersion,
		"inputs_snapshot_hash": q.InputsHash,
		"expires_at":           q.ExpiresAt.Format(time.RFC3339),
	}
	hash, err := canonical.HashObject(quotePayload)
	if err != nil {
		return nil, err
	}
	quotePayload["canonical_hash_hex"] = hash

	if id := e.appendLedger(ctx, ledger.Event{
		Type:           "PROTECT_QUOTE_CREATED",
		AssetID:        q.AssetID,
		Payload:        quotePayload,
		CorrelationID:  uuid.NewString(),
		IdempotencyKey: "quote-create-" + q.QuoteID,
		CreatedAt:      now,
		SchemaVersion:  ledger.SchemaVersion,
	}, "quote", q.QuoteID); id != "" {
		q.LedgerEventID = id
		if err := e.store.SetLedgerEventID(ctx, "quote", q.QuoteID, id); err != nil {
			e.log.Error("record quote ledger receipt failed", "quote_id", q.QuoteID, "error", err)
		}
	}

	e.audit(ctx, domain.AuditLogEntry{
		Action:       "QUOTE_CREATED",
		ResourceType: "quote",
		ResourceID:   q.QuoteID,
		Details: map[string]any{
			"asset_id":       q.AssetID,
			"premium_micros": q.PremiumMicros,
			"risk_bps":       q.RiskBps,
		},
	})

	return &q, nil
}

// GetQuote returns a quote, lapsing it first if its expiry has passed. The
// expiry check is the same one bind performs, so reads never show a stale
// PENDING quote past its expires_at.
func (e *Engine) GetQuote(ctx context.Context, quoteID string) (*domain.Quote, error) {
	q, err := e.store.GetQuote(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, domain.NewError(domain.CodeNotFound, "quote not found")
	}
	if q.Status == domain.QuotePending && !q.ExpiresAt.After(e.now()) {
		if err := e.store.SetQuoteStatus(ctx, q.QuoteID, domain.QuoteExpired); err != nil {
			return nil, domain.Errorf(domain.CodeInternal, "expire quote: %v", err)
		}
		q.Status = domain.QuoteExpired
	}
	return q, nil
}
