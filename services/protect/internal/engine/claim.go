package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/terryholliday/proveniq-protect/pkg/adjudication"
	"github.com/terryholliday/proveniq-protect/pkg/canonical"
	"github.com/terryholliday/proveniq-protect/pkg/domain"
	"github.com/terryholliday/proveniq-protect/pkg/ledger"
)

type ClaimRequest struct {
	PolicyID            string           `json:"policy_id"`
	ClaimType           domain.ClaimType `json:"claim_type"`
	Description         string           `json:"description"`
	IncidentDate        time.Time        `json:"incident_date"`
	IncidentLocation    string           `json:"incident_location,omitempty"`
	ClaimedAmountMicros string           `json:"claimed_amount_micros"`
	EvidenceIDs         []string         `json:"evidence_ids,omitempty"`
	AnchorEventIDs      []string         `json:"anchor_event_ids,omitempty"`
}

// ClaimResult is the submission response: the claim plus the adjudication
// hand-off outcome ("QUEUED" when the downstream was unreachable).
type ClaimResult struct {
	Claim        domain.Claim        `json:"claim"`
	Adjudication adjudication.Result `json:"adjudication"`
}

func (r ClaimRequest) validate() error {
	if r.PolicyID == "" {
		return domain.NewError(domain.CodeValidation, "policy_id is required").WithDetail("field", "policy_id")
	}
	switch r.ClaimType {
	case domain.ClaimTheft, domain.ClaimDamage, domain.ClaimLoss:
	default:
		return domain.Errorf(domain.CodeValidation, "claim_type must be THEFT, DAMAGE or LOSS, got %q", r.ClaimType).
			WithDetail("field", "claim_type")
	}
	if n := len(r.Description); n < 10 || n > 2000 {
		return domain.NewError(domain.CodeValidation, "description must be between 10 and 2000 characters").
			WithDetail("field", "description")
	}
	if r.IncidentDate.IsZero() {
		return domain.NewError(domain.CodeValidation, "incident_date is required").WithDetail("field", "incident_date")
	}
	if r.ClaimedAmountMicros == "" {
		return domain.NewError(domain.CodeValidation, "claimed_amount_micros is required").
			WithDetail("field", "claimed_amount_micros")
	}
	return nil
}

// SubmitClaim files a claim against an ACTIVE policy. The incident-in-term
// guard runs once, here; the ledger append and adjudication hand-off are
// best-effort and never fail the submission.
func (e *Engine) SubmitClaim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	p, err := e.store.GetPolicy(ctx, req.PolicyID)
	if err != nil {
		return nil, domain.Errorf(domain.CodeInternal, "load policy: %v", err)
	}
	if p == nil {
		return nil, domain.NewError(domain.CodeNotFound, "policy not found")
	}
	if err := domain.CheckClaimWindow(p, req.IncidentDate); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	c := domain.Claim{
		ClaimID:             uuid.NewString(),
		ClaimNumber:         domain.FormatRefNumber("CLM", now, strings.ToUpper(randHex(3))),
		PolicyID:            p.PolicyID,
		ClaimType:           req.ClaimType,
		Description:         req.Description,
		IncidentDate:        req.IncidentDate,
		IncidentLocation:    req.IncidentLocation,
		ClaimedAmountMicros: req.ClaimedAmountMicros,
		Currency:            p.Currency,
		Status:              domain.ClaimSubmitted,
		EvidenceIDs:         orEmpty(req.EvidenceIDs),
		AnchorEventIDs:      orEmpty(req.AnchorEventIDs),
		CreatedAt:           now,
	}
	if err := e.store.CreateClaim(ctx, c); err != nil {
		return nil, domain.Errorf(domain.CodeInternal, "persist claim: %v", err)
	}

	claimPayload := map[string]any{
		"claim_id":              c.ClaimID,
		"claim_number":          c.ClaimNumber,
		"policy_id":             p.PolicyID,
		"policy_number":         p.PolicyNumber,
		"asset_id":              p.AssetID,
		"claim_type":            string(c.ClaimType),
		"incident_date":         c.IncidentDate.Format(time.RFC3339),
		"claimed_amount_micros": c.ClaimedAmountMicros,
		"evidence_ids":          c.EvidenceIDs,
		"anchor_event_ids":      c.AnchorEventIDs,
	}
	hash, err := canonical.HashObject(claimPayload)
	if err != nil {
		return nil, err
	}
	claimPayload["canonical_hash_hex"] = hash

	if id := e.appendLedger(ctx, ledger.Event{
		Type:           "CLAIM_SUBMITTED",
		AssetID:        p.AssetID,
		Payload:        claimPayload,
		CorrelationID:  uuid.NewString(),
		IdempotencyKey: "claim-submit-" + c.ClaimID,
		CreatedAt:      now,
		SchemaVersion:  ledger.SchemaVersion,
	}, "claim", c.ClaimID); id != "" {
		c.LedgerEventID = id
		if err := e.store.SetLedgerEventID(ctx, "claim", c.ClaimID, id); err != nil {
			e.log.Error("record claim ledger receipt failed", "claim_id", c.ClaimID, "error", err)
		}
	}

	e.audit(ctx, domain.AuditLogEntry{
		Action:       "CLAIM_SUBMITTED",
		ResourceType: "claim",
		ResourceID:   c.ClaimID,
		Details: map[string]any{
			"policy_id":             p.PolicyID,
			"claim_number":          c.ClaimNumber,
			"claimed_amount_micros": c.ClaimedAmountMicros,
		},
	})

	adjResult := e.handOffClaim(ctx, c, claimPayload)
	if adjResult.AdjudicationID != "" && adjResult.AdjudicationID != adjudication.PendingRetryID {
		c.AdjudicationPacketID = adjResult.AdjudicationID
	}
	return &ClaimResult{Claim: c, Adjudication: adjResult}, nil
}

// handOffClaim submits the claim packet for adjudication. Failure degrades to
// a queued outbox entry; the submission response is never blocked on the
// downstream.
func (e *Engine) handOffClaim(ctx context.Context, c domain.Claim, packet map[string]any) adjudication.Result {
	result, err := e.adjudication.SubmitClaim(ctx, packet)
	if err == nil {
		if serr := e.store.SetClaimAdjudication(ctx, c.ClaimID, result.AdjudicationID, result.Status); serr != nil {
			e.log.Error("record adjudication hand-off failed", "claim_id", c.ClaimID, "error", serr)
		}
		return result
	}

	e.log.Warn("adjudication hand-off deferred", "claim_id", c.ClaimID, "error", err)
	payload, cerr := canonical.Canonicalize(packet)
	if cerr != nil {
		e.log.Error("drop unserializable adjudication packet", "claim_id", c.ClaimID, "error", cerr)
	} else if qerr := e.store.EnqueueOutbox(ctx, OutboxItem{
		OutboxID:   "obx_" + uuid.NewString(),
		Kind:       OutboxAdjudicationSubmit,
		EntityType: "claim",
		EntityID:   c.ClaimID,
		Payload:    payload,
		CreatedAt:  e.now().UTC(),
	}); qerr != nil {
		e.log.Error("enqueue adjudication retry failed", "claim_id", c.ClaimID, "error", qerr)
	}
	return adjudication.Result{AdjudicationID: adjudication.PendingRetryID, Status: adjudication.StatusQueued}
}

// GetClaim returns a single claim.
func (e *Engine) GetClaim(ctx context.Context, claimID string) (*domain.Claim, error) {
	c, err := e.store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, domain.Errorf(domain.CodeInternal, "load claim: %v", err)
	}
	if c == nil {
		return nil, domain.NewError(domain.CodeNotFound, "claim not found")
	}
	return c, nil
}

// ListClaims returns claims matching the filter, newest first, capped at 100.
func (e *Engine) ListClaims(ctx context.Context, f ClaimFilter) ([]domain.Claim, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 100
	}
	claims, err := e.store.ListClaims(ctx, f)
	if err != nil {
		return nil, domain.Errorf(domain.CodeInternal, "list claims: %v", err)
	}
	return claims, nil
}

// UpdateClaim applies an adjudication update. Moving into a terminal status
// stamps resolved_at/resolved_by exactly once; a second terminal transition
// is rejected with STATE_CONFLICT, and so is any attempt to rewrite
// resolution metadata on an already-resolved claim.
func (e *Engine) UpdateClaim(ctx context.Context, claimID string, upd domain.ClaimUpdate) (*domain.Claim, error) {
	c, err := e.store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, domain.Errorf(domain.CodeInternal, "load claim: %v", err)
	}
	if c == nil {
		return nil, domain.NewError(domain.CodeNotFound, "claim not found")
	}
	if upd.Status == nil && c.Status.Terminal() && (upd.ResolvedBy != nil || upd.ResolutionNotes != nil) {
		return nil, domain.Errorf(domain.CodeStateConflict, "claim is %s; resolution is final", c.Status)
	}

	var resolvedAt *time.Time
	action := "CLAIM_UPDATED"
	if upd.Status != nil {
		if err := domain.NextClaimStatus(c.Status, *upd.Status); err != nil {
			return nil, err
		}
		if upd.Status.Terminal() {
			at := e.now().UTC()
			resolvedAt = &at
		}
		action = "CLAIM_" + string(*upd.Status)
	}

	updated, err := e.store.ApplyClaimUpdate(ctx, claimID, upd, resolvedAt)
	if err != nil {
		return nil, domain.Errorf(domain.CodeInternal, "update claim: %v", err)
	}

	actor := ""
	if upd.ResolvedBy != nil {
		actor = *upd.ResolvedBy
	}
	e.audit(ctx, domain.AuditLogEntry{
		Action:       action,
		ResourceType: "claim",
		ResourceID:   claimID,
		ActorID:      actor,
		Details:      claimUpdateDetails(upd),
	})
	return updated, nil
}

func claimUpdateDetails(upd domain.ClaimUpdate) map[string]any {
	details := map[string]any{}
	if upd.Status != nil {
		details["status"] = string(*upd.Status)
	}
	if upd.ApprovedAmountMicros != nil {
		details["approved_amount_micros"] = *upd.ApprovedAmountMicros
	}
	if upd.ResolutionNotes != nil {
		details["resolution_notes"] = *upd.ResolutionNotes
	}
	if upd.AdjudicationPacketID != nil {
		details["adjudication_packet_id"] = *upd.AdjudicationPacketID
	}
	if upd.AdjudicationScore != nil {
		details["adjudication_score"] = *upd.AdjudicationScore
	}
	return details
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
