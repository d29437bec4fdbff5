package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terryholliday/proveniq-protect/pkg/domain"
)

func TestCalculatePremiumAllDeductions(t *testing.T) {
	res, err := CalculatePremium(Context{
		AssetID:                 "asset-1",
		ValuationMicros:         "100000000",
		SecurityLevel:           domain.SecurityVerified,
		LastVerifiedServiceDays: 30,
		TransitDamageHistory:    false,
	})
	require.NoError(t, err)

	assert.Equal(t, 700, res.RiskBps)
	assert.Equal(t, "7000000", res.PremiumMicros)
	assert.Equal(t, "USD", res.Currency)
	assert.Equal(t, "1.0.0", res.PricingVersion)
	assert.Equal(t, []string{
		ReasonVerifiedMaintenanceRecent,
		ReasonCleanTransitHistory,
		ReasonSecurityVerified,
	}, res.Reasons)
	assert.Len(t, res.InputsHash, 64)
}

func TestCalculatePremiumNoDeductions(t *testing.T) {
	res, err := CalculatePremium(Context{
		AssetID:                 "asset-1",
		ValuationMicros:         "100000000",
		SecurityLevel:           domain.SecurityStandard,
		LastVerifiedServiceDays: 365,
		TransitDamageHistory:    true,
	})
	require.NoError(t, err)

	assert.Equal(t, 1000, res.RiskBps)
	assert.Equal(t, "10000000", res.PremiumMicros)
	assert.Empty(t, res.Reasons)
}

func TestCalculatePremiumServiceDayBoundary(t *testing.T) {
	at89, err := CalculatePremium(Context{
		AssetID: "a", ValuationMicros: "1000000",
		SecurityLevel: domain.SecurityStandard, LastVerifiedServiceDays: 89,
		TransitDamageHistory: true,
	})
	require.NoError(t, err)
	at90, err := CalculatePremium(Context{
		AssetID: "a", ValuationMicros: "1000000",
		SecurityLevel: domain.SecurityStandard, LastVerifiedServiceDays: 90,
		TransitDamageHistory: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 850, at89.RiskBps)
	assert.Equal(t, 1000, at90.RiskBps)
}

func TestCalculatePremiumTruncatesTowardZero(t *testing.T) {
	// 9999 * 1000 / 10000 = 999.9 -> 999
	res, err := CalculatePremium(Context{
		AssetID: "a", ValuationMicros: "9999",
		SecurityLevel: domain.SecurityStandard, LastVerifiedServiceDays: 365,
		TransitDamageHistory: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "999", res.PremiumMicros)
}

func TestCalculatePremiumLargeValuation(t *testing.T) {
	// 10^19 micros overflows int64; big.Int keeps it exact
	res, err := CalculatePremium(Context{
		AssetID: "a", ValuationMicros: "10000000000000000000",
		SecurityLevel: domain.SecurityStandard, LastVerifiedServiceDays: 365,
		TransitDamageHistory: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", res.PremiumMicros)
}

func TestCalculatePremiumInputsHashDeterministic(t *testing.T) {
	ctx := Context{
		AssetID: "a", ValuationMicros: "500",
		SecurityLevel: domain.SecurityVerified, LastVerifiedServiceDays: 10,
	}
	a, err := CalculatePremium(ctx)
	require.NoError(t, err)
	b, err := CalculatePremium(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.InputsHash, b.InputsHash)

	ctx.ValuationMicros = "501"
	c, err := CalculatePremium(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, a.InputsHash, c.InputsHash)
}

func TestCalculatePremiumRejectsBadValuation(t *testing.T) {
	for _, bad := range []string{"", "abc", "-5", "1.5"} {
		_, err := CalculatePremium(Context{
			AssetID: "a", ValuationMicros: bad,
			SecurityLevel: domain.SecurityStandard,
		})
		require.Error(t, err, "valuation %q", bad)
		assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
	}
}

func TestCalculatePremiumRejectsBadSecurityLevel(t *testing.T) {
	_, err := CalculatePremium(Context{
		AssetID: "a", ValuationMicros: "100",
		SecurityLevel: "PARANOID",
	})
	require.Error(t, err)
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
}

func TestClassifyAnchorRisk(t *testing.T) {
	cases := []struct {
		name      string
		eventType domain.AnchorEventType
		payload   map[string]any
		want      domain.RiskImpact
	}{
		{"seal broken tamper", domain.EventSealBroken, map[string]any{"trigger_type": "TAMPER"}, domain.ImpactCritical},
		{"seal broken force", domain.EventSealBroken, map[string]any{"trigger_type": "FORCE"}, domain.ImpactCritical},
		{"seal broken other", domain.EventSealBroken, map[string]any{"trigger_type": "WEAR"}, domain.ImpactMajor},
		{"seal broken no trigger", domain.EventSealBroken, nil, domain.ImpactMajor},
		{"environmental shock", domain.EventEnvironmentalAlert, map[string]any{"metric": "SHOCK"}, domain.ImpactMajor},
		{"environmental humidity", domain.EventEnvironmentalAlert, map[string]any{"metric": "HUMIDITY"}, domain.ImpactMinor},
		{"custody signal", domain.EventCustodySignal, nil, domain.ImpactMinor},
		{"seal armed", domain.EventSealArmed, nil, domain.ImpactNone},
		{"registered", domain.EventAnchorRegistered, nil, domain.ImpactNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyAnchorRisk(tc.eventType, tc.payload))
		})
	}
}
