// Package store is the Postgres record store for Protect. Each method maps
// onto a single-row read or write; the engine relies on per-row atomicity
// only, never on cross-row transactions.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/terryholliday/proveniq-protect/pkg/domain"
	"github.com/terryholliday/proveniq-protect/services/protect/internal/engine"
)

type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) CreateQuote(ctx context.Context, q domain.Quote) error {
	reasons, _ := json.Marshal(q.Reasons)
	_, err := s.DB.Exec(ctx, `
INSERT INTO quotes(quote_id,asset_id,valuation_micros,security_level,last_verified_service_days,
  transit_damage_history,premium_micros,currency,risk_bps,reasons,pricing_version,inputs_hash,
  coverage_type,term_days,status,expires_at,created_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::jsonb,$11,$12,$13,$14,$15,$16,$17)`,
		q.QuoteID, q.AssetID, q.ValuationMicros, string(q.SecurityLevel), q.LastVerifiedServiceDays,
		q.TransitDamageHistory, q.PremiumMicros, q.Currency, q.RiskBps, string(reasons), q.PricingVersion,
		q.InputsHash, q.CoverageType, q.TermDays, string(q.Status), q.ExpiresAt, q.CreatedAt)
	return err
}

func (s *Store) GetQuote(ctx context.Context, quoteID string) (*domain.Quote, error) {
	var q domain.Quote
	var reasons []byte
	var ledgerEventID *string
	err := s.DB.QueryRow(ctx, `
SELECT quote_id,asset_id,valuation_micros,security_level,last_verified_service_days,
  transit_damage_history,premium_micros,currency,risk_bps,reasons,pricing_version,inputs_hash,
  coverage_type,term_days,status,expires_at,ledger_event_id,created_at
FROM quotes WHERE quote_id=$1`, quoteID).Scan(
		&q.QuoteID, &q.AssetID, &q.ValuationMicros, &q.SecurityLevel, &q.LastVerifiedServiceDays,
		&q.TransitDamageHistory, &q.PremiumMicros, &q.Currency, &q.RiskBps, &reasons, &q.PricingVersion,
		&q.InputsHash, &q.CoverageType, &q.TermDays, &q.Status, &q.ExpiresAt, &ledgerEventID, &q.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	_ = json.Unmarshal(reasons, &q.Reasons)
	if ledgerEventID != nil {
		q.LedgerEventID = *ledgerEventID
	}
	return &q, nil
}

func (s *Store) SetQuoteStatus(ctx context.Context, quoteID string, status domain.QuoteStatus) error {
	_, err := s.DB.Exec(ctx, `UPDATE quotes SET status=$1, updated_at=now() WHERE quote_id=$2`,
		string(status), quoteID)
	return err
}

// SetLedgerEventID backfills a ledger receipt onto its owning row.
func (s *Store) SetLedgerEventID(ctx context.Context, entityType, entityID, ledgerEventID string) error {
	var sql string
	switch entityType {
	case "quote":
		sql = `UPDATE quotes SET ledger_event_id=$1, updated_at=now() WHERE quote_id=$2`
	case "policy":
		sql = `UPDATE policies SET ledger_event_id=$1, updated_at=now() WHERE policy_id=$2`
	case "claim":
		sql = `UPDATE claims SET ledger_event_id=$1, updated_at=now() WHERE claim_id=$2`
	default:
		return errors.New("unknown entity type " + entityType)
	}
	_, err := s.DB.Exec(ctx, sql, ledgerEventID, entityID)
	return err
}

func (s *Store) CreatePolicy(ctx context.Context, p domain.Policy) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO policies(policy_id,policy_number,quote_id,asset_id,coverage_type,premium_micros,currency,
  effective_date,expiration_date,status,owner_id,anchor_id,anchor_status,created_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULLIF($11,''),NULLIF($12,''),$13,$14)`,
		p.PolicyID, p.PolicyNumber, p.QuoteID, p.AssetID, p.CoverageType, p.PremiumMicros, p.Currency,
		p.EffectiveDate, p.ExpirationDate, string(p.Status), p.OwnerID, p.AnchorID, string(p.AnchorStatus), p.CreatedAt)
	return err
}

const policyColumns = `policy_id,policy_number,quote_id,asset_id,coverage_type,premium_micros,currency,
  effective_date,expiration_date,status,COALESCE(owner_id,''),COALESCE(anchor_id,''),anchor_status,
  last_anchor_event_at,COALESCE(ledger_event_id,''),created_at`

func scanPolicy(row pgx.Row) (*domain.Policy, error) {
	var p domain.Policy
	err := row.Scan(&p.PolicyID, &p.PolicyNumber, &p.QuoteID, &p.AssetID, &p.CoverageType,
		&p.PremiumMicros, &p.Currency, &p.EffectiveDate, &p.ExpirationDate, &p.Status,
		&p.OwnerID, &p.AnchorID, &p.AnchorStatus, &p.LastAnchorEventAt, &p.LedgerEventID, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetPolicy(ctx context.Context, policyID string) (*domain.Policy, error) {
	p, err := scanPolicy(s.DB.QueryRow(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE policy_id=$1`, policyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (s *Store) FindActivePoliciesByAnchor(ctx context.Context, anchorID string) ([]domain.Policy, error) {
	rows, err := s.DB.Query(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE anchor_id=$1 AND status=$2 ORDER BY created_at ASC`,
		anchorID, string(domain.PolicyActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPolicies(rows)
}

func (s *Store) FindSilenceCandidates(ctx context.Context, cutoff time.Time) ([]domain.Policy, error) {
	rows, err := s.DB.Query(ctx, `
SELECT `+policyColumns+` FROM policies
WHERE status=$1 AND anchor_id IS NOT NULL
  AND anchor_status = ANY($2)
  AND last_anchor_event_at < $3`,
		string(domain.PolicyActive),
		[]string{string(domain.AnchorActive), string(domain.AnchorSealed)},
		cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPolicies(rows)
}

func collectPolicies(rows pgx.Rows) ([]domain.Policy, error) {
	var out []domain.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) ApplyPolicyAnchorUpdate(ctx context.Context, policyID string, upd domain.PolicyAnchorUpdate) error {
	_, err := s.DB.Exec(ctx, `
UPDATE policies SET anchor_status=$1, last_anchor_event_at=$2, updated_at=now()
WHERE policy_id=$3`,
		string(upd.AnchorStatus), upd.LastAnchorEventAt, policyID)
	return err
}

func (s *Store) CreateClaim(ctx context.Context, c domain.Claim) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO claims(claim_id,claim_number,policy_id,claim_type,description,incident_date,
  incident_location,claimed_amount_micros,currency,status,evidence_ids,anchor_event_ids,created_at)
VALUES($1,$2,$3,$4,$5,$6,NULLIF($7,''),$8,$9,$10,$11,$12,$13)`,
		c.ClaimID, c.ClaimNumber, c.PolicyID, string(c.ClaimType), c.Description, c.IncidentDate,
		c.IncidentLocation, c.ClaimedAmountMicros, c.Currency, string(c.Status),
		c.EvidenceIDs, c.AnchorEventIDs, c.CreatedAt)
	return err
}

const claimColumns = `claim_id,claim_number,policy_id,claim_type,description,incident_date,
  COALESCE(incident_location,''),claimed_amount_micros,COALESCE(approved_amount_micros,''),currency,status,
  evidence_ids,anchor_event_ids,COALESCE(adjudication_packet_id,''),COALESCE(adjudication_status,''),
  adjudication_score,COALESCE(resolution_notes,''),COALESCE(resolved_by,''),resolved_at,
  COALESCE(ledger_event_id,''),created_at`

func scanClaim(row pgx.Row) (*domain.Claim, error) {
	var c domain.Claim
	err := row.Scan(&c.ClaimID, &c.ClaimNumber, &c.PolicyID, &c.ClaimType, &c.Description,
		&c.IncidentDate, &c.IncidentLocation, &c.ClaimedAmountMicros, &c.ApprovedAmountMicros,
		&c.Currency, &c.Status, &c.EvidenceIDs, &c.AnchorEventIDs, &c.AdjudicationPacketID,
		&c.AdjudicationStatus, &c.AdjudicationScore, &c.ResolutionNotes, &c.ResolvedBy,
		&c.ResolvedAt, &c.LedgerEventID, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetClaim(ctx context.Context, claimID string) (*domain.Claim, error) {
	c, err := scanClaim(s.DB.QueryRow(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE claim_id=$1`, claimID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *Store) ListClaims(ctx context.Context, f engine.ClaimFilter) ([]domain.Claim, error) {
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := s.DB.Query(ctx, `
SELECT `+claimColumns+` FROM claims
WHERE ($1='' OR policy_id=$1) AND ($2='' OR status=$2)
ORDER BY created_at DESC
LIMIT $3`, f.PolicyID, string(f.Status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) ApplyClaimUpdate(ctx context.Context, claimID string, upd domain.ClaimUpdate, resolvedAt *time.Time) (*domain.Claim, error) {
	_, err := s.DB.Exec(ctx, `
UPDATE claims SET
  status = COALESCE($1, status),
  approved_amount_micros = COALESCE($2, approved_amount_micros),
  resolution_notes = COALESCE($3, resolution_notes),
  resolved_by = COALESCE($4, resolved_by),
  adjudication_packet_id = COALESCE($5, adjudication_packet_id),
  adjudication_score = COALESCE($6, adjudication_score),
  resolved_at = COALESCE($7, resolved_at),
  updated_at = now()
WHERE claim_id=$8`,
		claimStatusArg(upd.Status), upd.ApprovedAmountMicros, upd.ResolutionNotes, upd.ResolvedBy,
		upd.AdjudicationPacketID, upd.AdjudicationScore, resolvedAt, claimID)
	if err != nil {
		return nil, err
	}
	return s.GetClaim(ctx, claimID)
}

func claimStatusArg(s *domain.ClaimStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func (s *Store) SetClaimAdjudication(ctx context.Context, claimID, adjudicationID, status string) error {
	_, err := s.DB.Exec(ctx, `
UPDATE claims SET adjudication_packet_id=$1, adjudication_status=$2, updated_at=now()
WHERE claim_id=$3`,
		adjudicationID, status, claimID)
	return err
}

func (s *Store) CreateAnchorEvent(ctx context.Context, ev domain.AnchorEvent) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO anchor_events(anchor_event_id,anchor_id,event_type,payload,event_timestamp,
  ledger_event_id,policy_id,risk_impact,processed,created_at)
VALUES($1,$2,$3,$4::jsonb,$5,$6,NULLIF($7,''),$8,false,$9)
ON CONFLICT (ledger_event_id) DO NOTHING`,
		ev.AnchorEventID, ev.AnchorID, string(ev.EventType), string(payload), ev.EventTimestamp,
		ev.LedgerEventID, ev.PolicyID, string(ev.RiskImpact), ev.CreatedAt)
	return err
}

func (s *Store) GetAnchorEventByLedgerEventID(ctx context.Context, ledgerEventID string) (*domain.AnchorEvent, error) {
	var ev domain.AnchorEvent
	var payload []byte
	err := s.DB.QueryRow(ctx, `
SELECT anchor_event_id,anchor_id,event_type,payload,event_timestamp,ledger_event_id,
  COALESCE(policy_id,''),risk_impact,policies_affected,processed,processed_at,created_at
FROM anchor_events WHERE ledger_event_id=$1`, ledgerEventID).Scan(
		&ev.AnchorEventID, &ev.AnchorID, &ev.EventType, &payload, &ev.EventTimestamp,
		&ev.LedgerEventID, &ev.PolicyID, &ev.RiskImpact, &ev.PoliciesAffected,
		&ev.Processed, &ev.ProcessedAt, &ev.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	_ = json.Unmarshal(payload, &ev.Payload)
	return &ev, nil
}

func (s *Store) MarkAnchorEventProcessed(ctx context.Context, anchorEventID string, at time.Time, policiesAffected int) error {
	_, err := s.DB.Exec(ctx, `
UPDATE anchor_events SET processed=true, processed_at=$1, policies_affected=$2
WHERE anchor_event_id=$3`,
		at, policiesAffected, anchorEventID)
	return err
}

func (s *Store) AppendAudit(ctx context.Context, entry domain.AuditLogEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO audit_log(audit_id,action,resource_type,resource_id,actor_id,details,created_at)
VALUES($1,$2,$3,$4,NULLIF($5,''),$6::jsonb,$7)
ON CONFLICT (audit_id) DO NOTHING`,
		entry.AuditID, entry.Action, entry.ResourceType, entry.ResourceID, entry.ActorID,
		string(details), entry.CreatedAt)
	return err
}

func (s *Store) EnqueueOutbox(ctx context.Context, item engine.OutboxItem) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO outbox(outbox_id,kind,entity_type,entity_id,payload,attempts,created_at)
VALUES($1,$2,$3,$4,$5::jsonb,0,$6)`,
		item.OutboxID, item.Kind, item.EntityType, item.EntityID, string(item.Payload), item.CreatedAt)
	return err
}

func (s *Store) PendingOutbox(ctx context.Context, limit int) ([]engine.OutboxItem, error) {
	rows, err := s.DB.Query(ctx, `
SELECT outbox_id,kind,entity_type,entity_id,payload,attempts,COALESCE(last_error,''),created_at
FROM outbox WHERE dispatched_at IS NULL ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []engine.OutboxItem
	for rows.Next() {
		var item engine.OutboxItem
		if err := rows.Scan(&item.OutboxID, &item.Kind, &item.EntityType, &item.EntityID,
			&item.Payload, &item.Attempts, &item.LastError, &item.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) MarkOutboxDispatched(ctx context.Context, outboxID string, at time.Time) error {
	_, err := s.DB.Exec(ctx, `UPDATE outbox SET dispatched_at=$1 WHERE outbox_id=$2`, at, outboxID)
	return err
}

func (s *Store) MarkOutboxFailed(ctx context.Context, outboxID, lastError string) error {
	_, err := s.DB.Exec(ctx, `
UPDATE outbox SET attempts=attempts+1, last_error=$1 WHERE outbox_id=$2`, lastError, outboxID)
	return err
}
