package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/terryholliday/proveniq-protect/pkg/domain"
	"github.com/terryholliday/proveniq-protect/pkg/pricing"
)

type AnchorEventInput struct {
	AnchorID       string                 `json:"anchor_id"`
	EventType      domain.AnchorEventType `json:"event_type"`
	Payload        map[string]any         `json:"payload"`
	EventTimestamp time.Time              `json:"event_timestamp"`
	LedgerEventID  string                 `json:"ledger_event_id"`
}

type IngestResult struct {
	Accepted         bool              `json:"accepted"`
	AnchorEventID    string            `json:"anchor_event_id"`
	PoliciesAffected int               `json:"policies_affected"`
	RiskImpact       domain.RiskImpact `json:"risk_impact"`
	Replayed         bool              `json:"replayed,omitempty"`
}

func (in AnchorEventInput) validate() error {
	if in.AnchorID == "" {
		return domain.NewError(domain.CodeValidation, "anchor_id is required").WithDetail("field", "anchor_id")
	}
	if !domain.ValidAnchorEventType(in.EventType) {
		return domain.Errorf(domain.CodeValidation, "unrecognized event_type %q", in.EventType).
			WithDetail("field", "event_type")
	}
	if in.EventTimestamp.IsZero() {
		return domain.NewError(domain.CodeValidation, "event_timestamp is required").
			WithDetail("field", "event_timestamp")
	}
	if in.LedgerEventID == "" {
		return domain.NewError(domain.CodeValidation, "ledger_event_id is required").
			WithDetail("field", "ledger_event_id")
	}
	return nil
}

// IngestAnchorEvent runs the ingestion protocol: validate, resolve bound
// policies, classify, persist the event unprocessed, apply per-policy anchor
// transitions with audits, then flip processed exactly once. A replay of an
// already-processed event (same ledger_event_id) returns the prior outcome
// without re-applying side effects; a partially processed event resumes from
// the side-effect step.
func (e *Engine) IngestAnchorEvent(ctx context.Context, in AnchorEventInput) (*IngestResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	impact := pricing.ClassifyAnchorRisk(in.EventType, in.Payload)

	policies, err := e.store.FindActivePoliciesByAnchor(ctx, in.AnchorID)
	if err != nil {
		return nil, domain.Errorf(domain.CodeInternal, "resolve policies: %v", err)
	}

	ev, err := e.store.GetAnchorEventByLedgerEventID(ctx, in.LedgerEventID)
	if err != nil {
		return nil, domain.Errorf(domain.CodeInternal, "lookup anchor event: %v", err)
	}
	if ev != nil && ev.Processed {
		// Report the original run's outcome, not the current policy set.
		return &IngestResult{
			Accepted:         true,
			AnchorEventID:    ev.AnchorEventID,
			PoliciesAffected: ev.PoliciesAffected,
			RiskImpact:       ev.RiskImpact,
			Replayed:         true,
		}, nil
	}
	if ev == nil {
		created := domain.AnchorEvent{
			AnchorEventID:  "aev_" + uuid.NewString(),
			AnchorID:       in.AnchorID,
			EventType:      in.EventType,
			Payload:        in.Payload,
			EventTimestamp: in.EventTimestamp,
			LedgerEventID:  in.LedgerEventID,
			RiskImpact:     impact,
			Processed:      false,
			CreatedAt:      e.now().UTC(),
		}
		if len(policies) > 0 {
			// Traceability link only; every matching policy is updated below.
			created.PolicyID = policies[0].PolicyID
		}
		if err := e.store.CreateAnchorEvent(ctx, created); err != nil {
			return nil, domain.Errorf(domain.CodeInternal, "persist anchor event: %v", err)
		}
		ev = &created
	}

	for _, p := range policies {
		upd := domain.PolicyAnchorUpdate{
			AnchorStatus:      domain.ResolveAnchorStatus(p.AnchorStatus, in.EventType),
			LastAnchorEventAt: in.EventTimestamp,
		}
		if err := e.store.ApplyPolicyAnchorUpdate(ctx, p.PolicyID, upd); err != nil {
			// processed stays false; the event remains discoverable for retry
			return nil, domain.Errorf(domain.CodeInternal, "update policy %s: %v", p.PolicyID, err)
		}
		if impact == domain.ImpactCritical {
			e.audit(ctx, domain.AuditLogEntry{
				AuditID:      deterministicAuditID("ANCHOR_BREACH_DETECTED", p.PolicyID, in.LedgerEventID),
				Action:       "ANCHOR_BREACH_DETECTED",
				ResourceType: "policy",
				ResourceID:   p.PolicyID,
				Details: map[string]any{
					"anchor_id":   in.AnchorID,
					"event_type":  string(in.EventType),
					"risk_impact": string(impact),
					"message":     "Tamper detected - potential claim trigger",
				},
			})
		}
	}

	processedAt := e.now().UTC()
	if err := e.store.MarkAnchorEventProcessed(ctx, ev.AnchorEventID, processedAt, len(policies)); err != nil {
		return nil, domain.Errorf(domain.CodeInternal, "mark anchor event processed: %v", err)
	}

	return &IngestResult{
		Accepted:         true,
		AnchorEventID:    ev.AnchorEventID,
		PoliciesAffected: len(policies),
		RiskImpact:       impact,
	}, nil
}
