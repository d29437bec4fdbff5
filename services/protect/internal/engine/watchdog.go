package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/terryholliday/proveniq-protect/pkg/domain"
	"github.com/terryholliday/proveniq-protect/pkg/ledger"
)

type WatchdogResult struct {
	Processed         int      `json:"processed"`
	SilencedPolicyIDs []string `json:"silenced_policy_ids"`
}

// RunWatchdog re-derives anchor health from silence: every ACTIVE policy
// whose anchor was last heard before the threshold moves to SILENT with an
// audit entry. The selection filter excludes already-SILENT policies, so
// consecutive runs with no new events silence each policy exactly once.
func (e *Engine) RunWatchdog(ctx context.Context) (*WatchdogResult, error) {
	cutoff := e.now().UTC().Add(-e.silenceThreshold)
	e.log.Info("watchdog scan", "cutoff", cutoff)

	candidates, err := e.store.FindSilenceCandidates(ctx, cutoff)
	if err != nil {
		return nil, domain.Errorf(domain.CodeInternal, "find silence candidates: %v", err)
	}

	result := &WatchdogResult{SilencedPolicyIDs: []string{}}
	for _, p := range candidates {
		if !domain.WatchdogEligible(&p, cutoff) {
			continue
		}
		upd := domain.PolicyAnchorUpdate{
			AnchorStatus:      domain.AnchorSilent,
			LastAnchorEventAt: *p.LastAnchorEventAt,
		}
		if err := e.store.ApplyPolicyAnchorUpdate(ctx, p.PolicyID, upd); err != nil {
			e.log.Error("silence policy failed", "policy_id", p.PolicyID, "error", err)
			continue
		}

		lastSeen := p.LastAnchorEventAt.Format(time.RFC3339)
		e.audit(ctx, domain.AuditLogEntry{
			AuditID:      deterministicAuditID("ANCHOR_SIGNAL_LOSS", p.PolicyID, lastSeen),
			Action:       "ANCHOR_SIGNAL_LOSS",
			ResourceType: "policy",
			ResourceID:   p.PolicyID,
			Details: map[string]any{
				"message":         "No anchor signal received within the silence threshold",
				"previous_status": string(p.AnchorStatus),
				"last_seen":       lastSeen,
			},
		})

		result.Processed++
		result.SilencedPolicyIDs = append(result.SilencedPolicyIDs, p.PolicyID)
	}
	return result, nil
}

type OutboxResult struct {
	Dispatched int `json:"dispatched"`
	Failed     int `json:"failed"`
}

const outboxBatchSize = 50

// FlushOutbox retries deferred best-effort side effects: ledger appends and
// adjudication submissions that failed on the primary path. Idempotency keys
// inside the stored payloads make redelivery safe.
func (e *Engine) FlushOutbox(ctx context.Context) (*OutboxResult, error) {
	items, err := e.store.PendingOutbox(ctx, outboxBatchSize)
	if err != nil {
		return nil, domain.Errorf(domain.CodeInternal, "load outbox: %v", err)
	}

	result := &OutboxResult{}
	for _, item := range items {
		if err := e.dispatchOutboxItem(ctx, item); err != nil {
			result.Failed++
			e.log.Warn("outbox dispatch failed", "outbox_id", item.OutboxID, "kind", item.Kind, "error", err)
			if merr := e.store.MarkOutboxFailed(ctx, item.OutboxID, err.Error()); merr != nil {
				e.log.Error("mark outbox failed errored", "outbox_id", item.OutboxID, "error", merr)
			}
			continue
		}
		result.Dispatched++
		if merr := e.store.MarkOutboxDispatched(ctx, item.OutboxID, e.now().UTC()); merr != nil {
			e.log.Error("mark outbox dispatched errored", "outbox_id", item.OutboxID, "error", merr)
		}
	}
	return result, nil
}

func (e *Engine) dispatchOutboxItem(ctx context.Context, item OutboxItem) error {
	switch item.Kind {
	case OutboxLedgerAppend:
		var ev ledger.Event
		if err := json.Unmarshal(item.Payload, &ev); err != nil {
			return domain.Errorf(domain.CodeEncoding, "decode outbox ledger event: %v", err)
		}
		receipt, err := e.ledger.AppendEvent(ctx, ev)
		if err != nil {
			return err
		}
		if item.EntityType != "" && item.EntityID != "" {
			if serr := e.store.SetLedgerEventID(ctx, item.EntityType, item.EntityID, receipt.LedgerEventID); serr != nil {
				e.log.Error("backfill ledger receipt failed",
					"entity_type", item.EntityType, "entity_id", item.EntityID, "error", serr)
			}
		}
		return nil

	case OutboxAdjudicationSubmit:
		var packet map[string]any
		if err := json.Unmarshal(item.Payload, &packet); err != nil {
			return domain.Errorf(domain.CodeEncoding, "decode outbox adjudication packet: %v", err)
		}
		result, err := e.adjudication.SubmitClaim(ctx, packet)
		if err != nil {
			return err
		}
		if item.EntityID != "" {
			if serr := e.store.SetClaimAdjudication(ctx, item.EntityID, result.AdjudicationID, result.Status); serr != nil {
				e.log.Error("backfill adjudication result failed", "claim_id", item.EntityID, "error", serr)
			}
		}
		return nil

	default:
		return domain.Errorf(domain.CodeInternal, "unknown outbox kind %q", item.Kind)
	}
}
