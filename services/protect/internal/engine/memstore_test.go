package engine

// Test doubles: an in-memory Store plus controllable ledger and adjudication
// collaborators. The memStore mirrors the per-row atomicity of the real
// store, nothing more.

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/terryholliday/proveniq-protect/pkg/adjudication"
	"github.com/terryholliday/proveniq-protect/pkg/domain"
	"github.com/terryholliday/proveniq-protect/pkg/ledger"
)

type memStore struct {
	quotes       map[string]domain.Quote
	policies     map[string]domain.Policy
	claims       map[string]domain.Claim
	anchorEvents map[string]domain.AnchorEvent // keyed by anchor_event_id
	audits       []domain.AuditLogEntry
	auditIDs     map[string]struct{}
	outbox       []OutboxItem
}

func newMemStore() *memStore {
	return &memStore{
		quotes:       map[string]domain.Quote{},
		policies:     map[string]domain.Policy{},
		claims:       map[string]domain.Claim{},
		anchorEvents: map[string]domain.AnchorEvent{},
		auditIDs:     map[string]struct{}{},
	}
}

func (s *memStore) CreateQuote(_ context.Context, q domain.Quote) error {
	s.quotes[q.QuoteID] = q
	return nil
}

func (s *memStore) GetQuote(_ context.Context, quoteID string) (*domain.Quote, error) {
	q, ok := s.quotes[quoteID]
	if !ok {
		return nil, nil
	}
	return &q, nil
}

func (s *memStore) SetQuoteStatus(_ context.Context, quoteID string, status domain.QuoteStatus) error {
	q, ok := s.quotes[quoteID]
	if !ok {
		return errors.New("quote not found")
	}
	q.Status = status
	s.quotes[quoteID] = q
	return nil
}

func (s *memStore) SetLedgerEventID(_ context.Context, entityType, entityID, ledgerEventID string) error {
	switch entityType {
	case "quote":
		q := s.quotes[entityID]
		q.LedgerEventID = ledgerEventID
		s.quotes[entityID] = q
	case "policy":
		p := s.policies[entityID]
		p.LedgerEventID = ledgerEventID
		s.policies[entityID] = p
	case "claim":
		c := s.claims[entityID]
		c.LedgerEventID = ledgerEventID
		s.claims[entityID] = c
	default:
		return errors.New("unknown entity type " + entityType)
	}
	return nil
}

func (s *memStore) CreatePolicy(_ context.Context, p domain.Policy) error {
	s.policies[p.PolicyID] = p
	return nil
}

func (s *memStore) GetPolicy(_ context.Context, policyID string) (*domain.Policy, error) {
	p, ok := s.policies[policyID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *memStore) FindActivePoliciesByAnchor(_ context.Context, anchorID string) ([]domain.Policy, error) {
	var out []domain.Policy
	for _, p := range s.policies {
		if p.AnchorID == anchorID && p.Status == domain.PolicyActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) FindSilenceCandidates(_ context.Context, cutoff time.Time) ([]domain.Policy, error) {
	var out []domain.Policy
	for _, p := range s.policies {
		if p.Status != domain.PolicyActive || p.AnchorID == "" {
			continue
		}
		if p.AnchorStatus != domain.AnchorActive && p.AnchorStatus != domain.AnchorSealed {
			continue
		}
		if p.LastAnchorEventAt != nil && p.LastAnchorEventAt.Before(cutoff) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memStore) ApplyPolicyAnchorUpdate(_ context.Context, policyID string, upd domain.PolicyAnchorUpdate) error {
	p, ok := s.policies[policyID]
	if !ok {
		return errors.New("policy not found")
	}
	p.AnchorStatus = upd.AnchorStatus
	at := upd.LastAnchorEventAt
	p.LastAnchorEventAt = &at
	s.policies[policyID] = p
	return nil
}

func (s *memStore) CreateClaim(_ context.Context, c domain.Claim) error {
	s.claims[c.ClaimID] = c
	return nil
}

func (s *memStore) GetClaim(_ context.Context, claimID string) (*domain.Claim, error) {
	c, ok := s.claims[claimID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *memStore) ListClaims(_ context.Context, f ClaimFilter) ([]domain.Claim, error) {
	var out []domain.Claim
	for _, c := range s.claims {
		if f.PolicyID != "" && c.PolicyID != f.PolicyID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *memStore) ApplyClaimUpdate(_ context.Context, claimID string, upd domain.ClaimUpdate, resolvedAt *time.Time) (*domain.Claim, error) {
	c, ok := s.claims[claimID]
	if !ok {
		return nil, errors.New("claim not found")
	}
	if upd.Status != nil {
		c.Status = *upd.Status
	}
	if upd.ApprovedAmountMicros != nil {
		c.ApprovedAmountMicros = *upd.ApprovedAmountMicros
	}
	if upd.ResolutionNotes != nil {
		c.ResolutionNotes = *upd.ResolutionNotes
	}
	if upd.ResolvedBy != nil {
		c.ResolvedBy = *upd.ResolvedBy
	}
	if upd.AdjudicationPacketID != nil {
		c.AdjudicationPacketID = *upd.AdjudicationPacketID
	}
	if upd.AdjudicationScore != nil {
		c.AdjudicationScore = upd.AdjudicationScore
	}
	if resolvedAt != nil {
		c.ResolvedAt = resolvedAt
	}
	s.claims[claimID] = c
	return &c, nil
}

func (s *memStore) SetClaimAdjudication(_ context.Context, claimID, adjudicationID, status string) error {
	c, ok := s.claims[claimID]
	if !ok {
		return errors.New("claim not found")
	}
	c.AdjudicationPacketID = adjudicationID
	c.AdjudicationStatus = status
	s.claims[claimID] = c
	return nil
}

func (s *memStore) CreateAnchorEvent(_ context.Context, ev domain.AnchorEvent) error {
	for _, existing := range s.anchorEvents {
		if existing.LedgerEventID == ev.LedgerEventID {
			return nil
		}
	}
	s.anchorEvents[ev.AnchorEventID] = ev
	return nil
}

func (s *memStore) GetAnchorEventByLedgerEventID(_ context.Context, ledgerEventID string) (*domain.AnchorEvent, error) {
	for _, ev := range s.anchorEvents {
		if ev.LedgerEventID == ledgerEventID {
			out := ev
			return &out, nil
		}
	}
	return nil, nil
}

func (s *memStore) MarkAnchorEventProcessed(_ context.Context, anchorEventID string, at time.Time, policiesAffected int) error {
	ev, ok := s.anchorEvents[anchorEventID]
	if !ok {
		return errors.New("anchor event not found")
	}
	ev.Processed = true
	ev.ProcessedAt = &at
	ev.PoliciesAffected = policiesAffected
	s.anchorEvents[anchorEventID] = ev
	return nil
}

func (s *memStore) AppendAudit(_ context.Context, entry domain.AuditLogEntry) error {
	if entry.AuditID != "" {
		if _, seen := s.auditIDs[entry.AuditID]; seen {
			return nil
		}
		s.auditIDs[entry.AuditID] = struct{}{}
	}
	s.audits = append(s.audits, entry)
	return nil
}

func (s *memStore) EnqueueOutbox(_ context.Context, item OutboxItem) error {
	s.outbox = append(s.outbox, item)
	return nil
}

func (s *memStore) PendingOutbox(_ context.Context, limit int) ([]OutboxItem, error) {
	var out []OutboxItem
	for _, item := range s.outbox {
		if item.DispatchedAt == nil {
			out = append(out, item)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) MarkOutboxDispatched(_ context.Context, outboxID string, at time.Time) error {
	for i := range s.outbox {
		if s.outbox[i].OutboxID == outboxID {
			s.outbox[i].DispatchedAt = &at
			return nil
		}
	}
	return errors.New("outbox item not found")
}

func (s *memStore) MarkOutboxFailed(_ context.Context, outboxID, lastError string) error {
	for i := range s.outbox {
		if s.outbox[i].OutboxID == outboxID {
			s.outbox[i].Attempts++
			s.outbox[i].LastError = lastError
			return nil
		}
	}
	return errors.New("outbox item not found")
}

func (s *memStore) auditsByAction(action string) []domain.AuditLogEntry {
	var out []domain.AuditLogEntry
	for _, a := range s.audits {
		if a.Action == action {
			out = append(out, a)
		}
	}
	return out
}

// flakyLedger fails every append while Fail is set, delegating to a real
// memory client otherwise.
type flakyLedger struct {
	Fail  bool
	inner *ledger.MemoryClient
}

func newFlakyLedger() *flakyLedger {
	return &flakyLedger{inner: ledger.NewMemoryClient()}
}

func (f *flakyLedger) AppendEvent(ctx context.Context, ev ledger.Event) (ledger.Receipt, error) {
	if f.Fail {
		return ledger.Receipt{}, domain.NewError(domain.CodeLedgerUnavailable, "ledger offline")
	}
	return f.inner.AppendEvent(ctx, ev)
}

// fakeAdjudicator records submitted packets and can be told to fail.
type fakeAdjudicator struct {
	Fail    bool
	packets []map[string]any
}

func (f *fakeAdjudicator) SubmitClaim(_ context.Context, payload map[string]any) (adjudication.Result, error) {
	if f.Fail {
		return adjudication.Result{}, domain.NewError(domain.CodeDownstreamUnavailable, "claimsiq offline")
	}
	f.packets = append(f.packets, payload)
	return adjudication.Result{AdjudicationID: "adj_ok", Status: "RECEIVED"}, nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
