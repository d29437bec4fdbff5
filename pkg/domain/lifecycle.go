package domain

import (
	"fmt"
	"time"
)

// AnchorTransition is the typed outcome of applying an anchor event to a
// policy's anchor sub-state. Status is empty when the event implies no status
// change (the last-seen timestamp still advances).
type AnchorTransition struct {
	Status     AnchorStatus
	ObservedAt time.Time
}

// AnchorStatusAfter maps an accepted event type onto the anchor sub-state
// machine: SEAL_ARMED seals, SEAL_BROKEN breaches, everything else keeps the
// current status. Arrival of any event clears SILENT, so callers apply the
// transition even when Status is empty by falling back to the event-implied
// baseline.
func AnchorStatusAfter(t AnchorEventType) AnchorStatus {
	switch t {
	case EventSealArmed:
		return AnchorSealed
	case EventSealBroken:
		return AnchorBreached
	default:
		return ""
	}
}

// ResolveAnchorStatus computes the policy's next anchor status for an inbound
// event. A concrete event-implied status always wins; otherwise a SILENT
// policy returns to ACTIVE (fresh signal disproves silence) and any other
// status is retained.
func ResolveAnchorStatus(current AnchorStatus, t AnchorEventType) AnchorStatus {
	if next := AnchorStatusAfter(t); next != "" {
		return next
	}
	if current == AnchorSilent {
		return AnchorActive
	}
	return current
}

// PolicyAnchorUpdate enumerates the policy fields anchor processing may
// mutate. Nothing else on a policy is touched by the ingestion path.
type PolicyAnchorUpdate struct {
	AnchorStatus      AnchorStatus
	LastAnchorEventAt time.Time
}

// ClaimUpdate enumerates the mutable claim fields for adjudication updates.
// Nil pointers mean "leave unchanged".
type ClaimUpdate struct {
	Status               *ClaimStatus
	ApprovedAmountMicros *string
	ResolutionNotes      *string
	ResolvedBy           *string
	AdjudicationPacketID *string
	AdjudicationScore    *float64
}

// terminal claim statuses stamp resolution metadata exactly once.
func (s ClaimStatus) Terminal() bool {
	switch s {
	case ClaimApproved, ClaimDenied, ClaimPaid:
		return true
	default:
		return false
	}
}

// NextClaimStatus validates a requested claim status transition. Unknown
// target values are rejected at the boundary, not coerced.
func NextClaimStatus(current, requested ClaimStatus) error {
	switch requested {
	case ClaimUnderReview, ClaimApproved, ClaimDenied, ClaimPaid:
	default:
		return Errorf(CodeValidation, "unknown claim status %q", requested).
			WithDetail("field", "status")
	}
	if current.Terminal() {
		return Errorf(CodeStateConflict, "claim is %s; resolution is final", current)
	}
	return nil
}

// CheckBindable enforces the bind preconditions: quote PENDING, unexpired,
// and a derivable policy effective window.
func CheckBindable(q *Quote, now time.Time) error {
	if q.Status != QuotePending {
		return Errorf(CodeStateConflict, "quote cannot be bound: status is %s", q.Status)
	}
	if !q.ExpiresAt.After(now) {
		return NewError(CodeStateConflict, "quote has expired")
	}
	if q.TermDays <= 0 {
		return Errorf(CodeValidation, "quote term_days must be positive, got %d", q.TermDays).
			WithDetail("field", "term_days")
	}
	return nil
}

// CheckClaimWindow enforces the claim submission preconditions: policy ACTIVE
// and the incident inside [effective_date, expiration_date). The upper bound
// is exclusive: an incident at the expiration instant is out of term.
func CheckClaimWindow(p *Policy, incident time.Time) error {
	if p.Status != PolicyActive {
		return Errorf(CodeStateConflict, "cannot file claim on %s policy", p.Status)
	}
	if incident.Before(p.EffectiveDate) || !incident.Before(p.ExpirationDate) {
		return NewError(CodeStateConflict, "incident date is outside policy coverage period").
			WithDetail("effective_date", p.EffectiveDate).
			WithDetail("expiration_date", p.ExpirationDate)
	}
	return nil
}

// WatchdogEligible reports whether the watchdog should silence this policy:
// active coverage, an anchor assigned, anchor currently reporting healthy
// (ACTIVE or SEALED), and no event since the cutoff. Policies already SILENT
// or BREACHED are excluded, which is what makes the scan idempotent.
func WatchdogEligible(p *Policy, cutoff time.Time) bool {
	if p.Status != PolicyActive || p.AnchorID == "" {
		return false
	}
	if p.AnchorStatus != AnchorActive && p.AnchorStatus != AnchorSealed {
		return false
	}
	return p.LastAnchorEventAt != nil && p.LastAnchorEventAt.Before(cutoff)
}

// FormatRefNumber builds human-readable policy/claim numbers, e.g.
// PRO-2603-4F1A2B3C.
func FormatRefNumber(prefix string, now time.Time, randomHex string) string {
	return fmt.Sprintf("%s-%02d%02d-%s", prefix, now.Year()%100, int(now.Month()), randomHex)
}
