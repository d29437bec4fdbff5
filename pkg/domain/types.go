// Package domain holds the Protect data model: quotes, policies, claims,
// anchor events and the lifecycle rules that govern their transitions.
package domain

import "time"

type SecurityLevel string

const (
	SecurityStandard SecurityLevel = "STANDARD"
	SecurityVerified SecurityLevel = "VERIFIED"
)

type QuoteStatus string

const (
	QuotePending QuoteStatus = "PENDING"
	QuoteBound   QuoteStatus = "BOUND"
	QuoteExpired QuoteStatus = "EXPIRED"
)

type PolicyStatus string

const (
	PolicyActive    PolicyStatus = "ACTIVE"
	PolicyCancelled PolicyStatus = "CANCELLED"
	PolicyLapsed    PolicyStatus = "LAPSED"
)

// AnchorStatus is the derived health of the physical anchor bound to a
// policy. It is set only by anchor-event processing and the signal-loss
// watchdog, never by quote or claim logic.
type AnchorStatus string

const (
	AnchorActive   AnchorStatus = "ACTIVE"
	AnchorSealed   AnchorStatus = "SEALED"
	AnchorBreached AnchorStatus = "BREACHED"
	AnchorSilent   AnchorStatus = "SILENT"
)

type ClaimStatus string

const (
	ClaimSubmitted   ClaimStatus = "SUBMITTED"
	ClaimUnderReview ClaimStatus = "UNDER_REVIEW"
	ClaimApproved    ClaimStatus = "APPROVED"
	ClaimDenied      ClaimStatus = "DENIED"
	ClaimPaid        ClaimStatus = "PAID"
)

type ClaimType string

const (
	ClaimTheft  ClaimType = "THEFT"
	ClaimDamage ClaimType = "DAMAGE"
	ClaimLoss   ClaimType = "LOSS"
)

type RiskImpact string

const (
	ImpactNone     RiskImpact = "NONE"
	ImpactMinor    RiskImpact = "MINOR"
	ImpactMajor    RiskImpact = "MAJOR"
	ImpactCritical RiskImpact = "CRITICAL"
)

// AnchorEventType is the fixed enumeration of telemetry signals accepted at
// the ingestion boundary. Anything else is rejected, never classified.
type AnchorEventType string

const (
	EventAnchorRegistered   AnchorEventType = "ANCHOR_REGISTERED"
	EventSealArmed          AnchorEventType = "ANCHOR_SEAL_ARMED"
	EventSealBroken         AnchorEventType = "ANCHOR_SEAL_BROKEN"
	EventEnvironmentalAlert AnchorEventType = "ANCHOR_ENVIRONMENTAL_ALERT"
	EventCustodySignal      AnchorEventType = "ANCHOR_CUSTODY_SIGNAL"
)

func ValidAnchorEventType(t AnchorEventType) bool {
	switch t {
	case EventAnchorRegistered, EventSealArmed, EventSealBroken,
		EventEnvironmentalAlert, EventCustodySignal:
		return true
	default:
		return false
	}
}

// Quote is an underwriting snapshot. Premium and risk are derived at creation
// from the pricing context plus a fixed pricing version and never mutated; a
// quote is replayable from its inputs hash.
type Quote struct {
	QuoteID                 string        `json:"quote_id"`
	AssetID                 string        `json:"asset_id"`
	ValuationMicros         string        `json:"asset_valuation_micros"`
	SecurityLevel           SecurityLevel `json:"security_level"`
	LastVerifiedServiceDays int           `json:"last_verified_service_days"`
	TransitDamageHistory    bool          `json:"transit_damage_history"`
	PremiumMicros           string        `json:"premium_micros"`
	Currency                string        `json:"currency"`
	RiskBps                 int           `json:"risk_bps"`
	Reasons                 []string      `json:"reasons"`
	PricingVersion          string        `json:"pricing_version"`
	InputsHash              string        `json:"inputs_snapshot_hash"`
	CoverageType            string        `json:"coverage_type"`
	TermDays                int           `json:"term_days"`
	Status                  QuoteStatus   `json:"status"`
	ExpiresAt               time.Time     `json:"expires_at"`
	LedgerEventID           string        `json:"ledger_event_id,omitempty"`
	CreatedAt               time.Time     `json:"created_at"`
}

type Policy struct {
	PolicyID          string       `json:"policy_id"`
	PolicyNumber      string       `json:"policy_number"`
	QuoteID           string       `json:"quote_id"`
	AssetID           string       `json:"asset_id"`
	CoverageType      string       `json:"coverage_type"`
	PremiumMicros     string       `json:"premium_micros"`
	Currency          string       `json:"currency"`
	EffectiveDate     time.Time    `json:"effective_date"`
	ExpirationDate    time.Time    `json:"expiration_date"`
	Status            PolicyStatus `json:"status"`
	OwnerID           string       `json:"owner_id,omitempty"`
	AnchorID          string       `json:"anchor_id,omitempty"`
	AnchorStatus      AnchorStatus `json:"anchor_status"`
	LastAnchorEventAt *time.Time   `json:"last_anchor_event_at,omitempty"`
	LedgerEventID     string       `json:"ledger_event_id,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
}

type Claim struct {
	ClaimID              string      `json:"claim_id"`
	ClaimNumber          string      `json:"claim_number"`
	PolicyID             string      `json:"policy_id"`
	ClaimType            ClaimType   `json:"claim_type"`
	Description          string      `json:"description"`
	IncidentDate         time.Time   `json:"incident_date"`
	IncidentLocation     string      `json:"incident_location,omitempty"`
	ClaimedAmountMicros  string      `json:"claimed_amount_micros"`
	ApprovedAmountMicros string      `json:"approved_amount_micros,omitempty"`
	Currency             string      `json:"currency"`
	Status               ClaimStatus `json:"status"`
	EvidenceIDs          []string    `json:"evidence_ids"`
	AnchorEventIDs       []string    `json:"anchor_event_ids"`
	AdjudicationPacketID string      `json:"adjudication_packet_id,omitempty"`
	AdjudicationStatus   string      `json:"adjudication_status,omitempty"`
	AdjudicationScore    *float64    `json:"adjudication_score,omitempty"`
	ResolutionNotes      string      `json:"resolution_notes,omitempty"`
	ResolvedBy           string      `json:"resolved_by,omitempty"`
	ResolvedAt           *time.Time  `json:"resolved_at,omitempty"`
	LedgerEventID        string      `json:"ledger_event_id,omitempty"`
	CreatedAt            time.Time   `json:"created_at"`
}

// AnchorEvent records one telemetry signal. Processed flips false to true
// exactly once, after every side effect completed; a row stuck at false marks
// a partially processed event awaiting reconciliation.
type AnchorEvent struct {
	AnchorEventID    string          `json:"anchor_event_id"`
	AnchorID         string          `json:"anchor_id"`
	EventType        AnchorEventType `json:"event_type"`
	Payload          map[string]any  `json:"payload"`
	EventTimestamp   time.Time       `json:"event_timestamp"`
	LedgerEventID    string          `json:"ledger_event_id"`
	PolicyID         string          `json:"policy_id,omitempty"`
	RiskImpact       RiskImpact      `json:"risk_impact"`
	PoliciesAffected int             `json:"policies_affected"`
	Processed        bool            `json:"processed"`
	ProcessedAt      *time.Time      `json:"processed_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// AuditLogEntry is write-once; it is never updated or deleted.
type AuditLogEntry struct {
	AuditID      string         `json:"audit_id"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	ActorID      string         `json:"actor_id,omitempty"`
	Details      map[string]any `json:"details"`
	CreatedAt    time.Time      `json:"created_at"`
}
