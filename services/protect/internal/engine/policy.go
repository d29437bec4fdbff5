package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/terryholliday/proveniq-protect/pkg/canonical"
	"github.com/terryholliday/proveniq-protect/pkg/domain"
	"github.com/terryholliday/proveniq-protect/pkg/ledger"
)

type BindRequest struct {
	QuoteID  string `json:"quote_id"`
	OwnerID  string `json:"owner_id,omitempty"`
	AnchorID string `json:"anchor_id,omitempty"`
}

// PolicyDetail is the read model for a policy: the row plus its originating
// quote and claims, newest first.
type PolicyDetail struct {
	Policy domain.Policy  `json:"policy"`
	Quote  *domain.Quote  `json:"quote,omitempty"`
	Claims []domain.Claim `json:"claims"`
}

// BindPolicy consumes a PENDING, unexpired quote and creates an ACTIVE
// policy. A bind attempt against a lapsed quote fails with STATE_CONFLICT and
// flips the quote to EXPIRED as a side effect.
func (e *Engine) BindPolicy(ctx context.Context, req BindRequest) (*domain.Policy, error) {
	if req.QuoteID == "" {
		return nil, domain.NewError(domain.CodeValidation, "quote_id is required").
			WithDetail("field", "quote_id")
	}
	q, err := e.store.GetQuote(ctx, req.QuoteID)
	if err != nil {
		return nil, domain.Errorf(domain.CodeInternal, "load quote: %v", err)
	}
	if q == nil {
		return nil, domain.NewError(domain.CodeNotFound, "quote not found")
	}

	now := e.now().UTC()
	if err := domain.CheckBindable(q, now); err != nil {
		if q.Status == domain.QuotePending && !q.ExpiresAt.After(now) {
			if serr := e.store.SetQuoteStatus(ctx, q.QuoteID, domain.QuoteExpired); serr != nil {
				e.log.Error("expire quote failed", "quote_id", q.QuoteID, "error", serr)
			}
		}
		return nil, err
	}

	anchorStatus := domain.AnchorActive
	p := domain.Policy{
		PolicyID:       uuid.NewString(),
		PolicyNumber:   domain.FormatRefNumber("PRO", now, strings.ToUpper(randHex(4))),
		QuoteID:        q.QuoteID,
		AssetID:        q.AssetID,
		CoverageType:   q.CoverageType,
		PremiumMicros:  q.PremiumMicros,
		Currency:       q.Currency,
		EffectiveDate:  now,
		ExpirationDate: now.AddDate(0, 0, q.TermDays),
		Status:         domain.PolicyActive,
		OwnerID:        req.OwnerID,
		AnchorID:       req.AnchorID,
		AnchorStatus:   anchorStatus,
		CreatedAt:      now,
	}
	if err := e.store.CreatePolicy(ctx, p); err != nil {
		return nil, domain.Errorf(domain.CodeInternal, "persist policy: %v", err)
	}
	if err := e.store.SetQuoteStatus(ctx, q.QuoteID, domain.QuoteBound); err != nil {
		return nil, domain.Errorf(domain.CodeInternal, "mark quote bound: %v", err)
	}

	policyPayload := map[string]any{
		"policy_id":       p.PolicyID,
		"policy_number":   p.PolicyNumber,
		"quote_id":        q.QuoteID,
		"asset_id":        p.AssetID,
		"coverage_type":   p.CoverageType,
		"premium_micros":  p.PremiumMicros,
		"effective_date":  p.EffectiveDate.Format(time.RFC3339),
		"expiration_date": p.ExpirationDate.Format(time.RFC3339),
		"anchor_id":       p.AnchorID,
	}
	hash, err := canonical.HashObject(policyPayload)
	if err != nil {
		return nil, err
	}
	policyPayload["canonical_hash_hex"] = hash

	if id := e.appendLedger(ctx, ledger.Event{
		Type:           "POLICY_BOUND",
		AssetID:        p.AssetID,
		Payload:        policyPayload,
		CorrelationID:  uuid.NewString(),
		IdempotencyKey: "policy-bind-" + p.PolicyID,
		CreatedAt:      now,
		SchemaVersion:  ledger.SchemaVersion,
	}, "policy", p.PolicyID); id != "" {
		p.LedgerEventID = id
		if err := e.store.SetLedgerEventID(ctx, "policy", p.PolicyID, id); err != nil {
			e.log.Error("record policy ledger receipt failed", "policy_id", p.PolicyID, "error", err)
		}
	}

	e.audit(ctx, domain.AuditLogEntry{
		Action:       "POLICY_BOUND",
		ResourceType: "policy",
		ResourceID:   p.PolicyID,
		ActorID:      req.OwnerID,
		Details: map[string]any{
			"quote_id":      q.QuoteID,
			"policy_number": p.PolicyNumber,
		},
	})

	return &p, nil
}

// GetPolicyDetail loads a policy with its quote and claim history.
func (e *Engine) GetPolicyDetail(ctx context.Context, policyID string) (*PolicyDetail, error) {
	p, err := e.store.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, domain.Errorf(domain.CodeInternal, "load policy: %v", err)
	}
	if p == nil {
		return nil, domain.NewError(domain.CodeNotFound, "policy not found")
	}
	detail := &PolicyDetail{Policy: *p}

	if q, err := e.store.GetQuote(ctx, p.QuoteID); err == nil && q != nil {
		detail.Quote = q
	}
	claims, err := e.store.ListClaims(ctx, ClaimFilter{PolicyID: p.PolicyID})
	if err != nil {
		return nil, domain.Errorf(domain.CodeInternal, "load claims: %v", err)
	}
	detail.Claims = claims
	return detail, nil
}
