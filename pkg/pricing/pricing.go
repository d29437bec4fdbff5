// Package pricing is the Protect risk engine: premium calculation from an
// underwriting context and risk-impact classification of anchor telemetry.
// Both are pure functions of their inputs.
package pricing

import (
	"math/big"
	"strings"

	"github.com/terryholliday/proveniq-protect/pkg/canonical"
	"github.com/terryholliday/proveniq-protect/pkg/domain"
)

const (
	PricingVersion = "1.0.0"

	baseRateBps = 1000
	floorBps    = 200

	ReasonVerifiedMaintenanceRecent = "VERIFIED_MAINTENANCE_RECENT"
	ReasonCleanTransitHistory       = "CLEAN_TRANSIT_HISTORY"
	ReasonSecurityVerified          = "SECURITY_VERIFIED"
)

// Context is the full underwriting input. Its canonical hash is embedded in
// every quote so a price can later be proven to derive from exactly these
// inputs.
type Context struct {
	AssetID                 string               `json:"asset_id"`
	ValuationMicros         string               `json:"asset_valuation_micros"`
	SecurityLevel           domain.SecurityLevel `json:"security_level"`
	LastVerifiedServiceDays int                  `json:"last_verified_service_days"`
	TransitDamageHistory    bool                 `json:"transit_damage_history"`
}

type Result struct {
	PricingVersion string   `json:"pricing_version"`
	PremiumMicros  string   `json:"premium_micros"`
	Currency       string   `json:"currency"`
	RiskBps        int      `json:"risk_bps"`
	Reasons        []string `json:"reasons"`
	InputsHash     string   `json:"inputs_snapshot_hash"`
}

// CalculatePremium applies the fixed deduction schedule to the base rate,
// clamps to the floor, and derives the premium with arbitrary-precision
// integer arithmetic. Premium = floor(valuation_micros * risk_bps / 10000).
func CalculatePremium(ctx Context) (Result, error) {
	valuation, ok := new(big.Int).SetString(strings.TrimSpace(ctx.ValuationMicros), 10)
	if !ok || valuation.Sign() < 0 {
		return Result{}, domain.Errorf(domain.CodeValidation,
			"asset_valuation_micros must be a non-negative integer, got %q", ctx.ValuationMicros).
			WithDetail("field", "asset_valuation_micros")
	}
	switch ctx.SecurityLevel {
	case domain.SecurityStandard, domain.SecurityVerified:
	default:
		return Result{}, domain.Errorf(domain.CodeValidation,
			"security_level must be STANDARD or VERIFIED, got %q", ctx.SecurityLevel).
			WithDetail("field", "security_level")
	}

	riskBps := baseRateBps
	reasons := []string{}

	if ctx.LastVerifiedServiceDays < 90 {
		riskBps -= 150
		reasons = append(reasons, ReasonVerifiedMaintenanceRecent)
	}
	if !ctx.TransitDamageHistory {
		riskBps -= 50
		reasons = append(reasons, ReasonCleanTransitHistory)
	}
	if ctx.SecurityLevel == domain.SecurityVerified {
		riskBps -= 100
		reasons = append(reasons, ReasonSecurityVerified)
	}
	if riskBps < floorBps {
		riskBps = floorBps
	}

	premium := new(big.Int).Mul(valuation, big.NewInt(int64(riskBps)))
	premium.Quo(premium, big.NewInt(10000))

	inputsHash, err := canonical.HashObject(ctx)
	if err != nil {
		return Result{}, err
	}

	return Result{
		PricingVersion: PricingVersion,
		PremiumMicros:  premium.String(),
		Currency:       "USD",
		RiskBps:        riskBps,
		Reasons:        reasons,
		InputsHash:     inputsHash,
	}, nil
}

// ClassifyAnchorRisk maps an accepted anchor event onto a risk impact. The
// table is total over the accepted enumeration; unrecognized event types are
// rejected before classification, and only uninterpretable payload sub-fields
// default downward here.
func ClassifyAnchorRisk(eventType domain.AnchorEventType, payload map[string]any) domain.RiskImpact {
	switch eventType {
	case domain.EventSealBroken:
		trigger, _ := payload["trigger_type"].(string)
		if trigger == "TAMPER" || trigger == "FORCE" {
			return domain.ImpactCritical
		}
		return domain.ImpactMajor
	case domain.EventEnvironmentalAlert:
		metric, _ := payload["metric"].(string)
		if metric == "SHOCK" {
			return domain.ImpactMajor
		}
		return domain.ImpactMinor
	case domain.EventCustodySignal:
		return domain.ImpactMinor
	case domain.EventSealArmed:
		return domain.ImpactNone
	default:
		return domain.ImpactNone
	}
}
