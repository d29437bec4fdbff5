package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnchorStatusAfter(t *testing.T) {
	assert.Equal(t, AnchorSealed, AnchorStatusAfter(EventSealArmed))
	assert.Equal(t, AnchorBreached, AnchorStatusAfter(EventSealBroken))
	assert.Equal(t, AnchorStatus(""), AnchorStatusAfter(EventCustodySignal))
	assert.Equal(t, AnchorStatus(""), AnchorStatusAfter(EventAnchorRegistered))
}

func TestResolveAnchorStatus(t *testing.T) {
	// event-implied status wins over anything
	assert.Equal(t, AnchorBreached, ResolveAnchorStatus(AnchorSealed, EventSealBroken))
	assert.Equal(t, AnchorSealed, ResolveAnchorStatus(AnchorSilent, EventSealArmed))

	// a fresh non-status event clears SILENT
	assert.Equal(t, AnchorActive, ResolveAnchorStatus(AnchorSilent, EventCustodySignal))

	// otherwise the current status sticks
	assert.Equal(t, AnchorSealed, ResolveAnchorStatus(AnchorSealed, EventCustodySignal))
	assert.Equal(t, AnchorBreached, ResolveAnchorStatus(AnchorBreached, EventCustodySignal))
}

func TestNextClaimStatus(t *testing.T) {
	require.NoError(t, NextClaimStatus(ClaimSubmitted, ClaimUnderReview))
	require.NoError(t, NextClaimStatus(ClaimUnderReview, ClaimApproved))

	err := NextClaimStatus(ClaimSubmitted, "SHREDDED")
	require.Error(t, err)
	assert.Equal(t, CodeValidation, CodeOf(err))

	for _, terminal := range []ClaimStatus{ClaimApproved, ClaimDenied, ClaimPaid} {
		err := NextClaimStatus(terminal, ClaimUnderReview)
		require.Error(t, err, "from %s", terminal)
		assert.Equal(t, CodeStateConflict, CodeOf(err))
	}
}

func TestCheckBindable(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	good := &Quote{Status: QuotePending, ExpiresAt: now.Add(time.Hour), TermDays: 365}
	require.NoError(t, CheckBindable(good, now))

	bound := &Quote{Status: QuoteBound, ExpiresAt: now.Add(time.Hour), TermDays: 365}
	assert.Equal(t, CodeStateConflict, CodeOf(CheckBindable(bound, now)))

	// an expiry exactly at now is already expired
	atNow := &Quote{Status: QuotePending, ExpiresAt: now, TermDays: 365}
	assert.Equal(t, CodeStateConflict, CodeOf(CheckBindable(atNow, now)))

	badTerm := &Quote{Status: QuotePending, ExpiresAt: now.Add(time.Hour), TermDays: 0}
	assert.Equal(t, CodeValidation, CodeOf(CheckBindable(badTerm, now)))
}

func TestCheckClaimWindowHalfOpen(t *testing.T) {
	eff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	exp := eff.AddDate(1, 0, 0)
	p := &Policy{Status: PolicyActive, EffectiveDate: eff, ExpirationDate: exp}

	require.NoError(t, CheckClaimWindow(p, eff))
	require.NoError(t, CheckClaimWindow(p, exp.Add(-time.Second)))

	assert.Equal(t, CodeStateConflict, CodeOf(CheckClaimWindow(p, eff.Add(-time.Second))))
	// expiration instant itself is out of term
	assert.Equal(t, CodeStateConflict, CodeOf(CheckClaimWindow(p, exp)))

	cancelled := &Policy{Status: PolicyCancelled, EffectiveDate: eff, ExpirationDate: exp}
	assert.Equal(t, CodeStateConflict, CodeOf(CheckClaimWindow(cancelled, eff.Add(time.Hour))))
}

func TestWatchdogEligible(t *testing.T) {
	cutoff := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	old := cutoff.Add(-time.Hour)
	fresh := cutoff.Add(time.Hour)

	base := Policy{Status: PolicyActive, AnchorID: "anc-1", AnchorStatus: AnchorSealed, LastAnchorEventAt: &old}
	assert.True(t, WatchdogEligible(&base, cutoff))

	recent := base
	recent.LastAnchorEventAt = &fresh
	assert.False(t, WatchdogEligible(&recent, cutoff))

	silent := base
	silent.AnchorStatus = AnchorSilent
	assert.False(t, WatchdogEligible(&silent, cutoff))

	breached := base
	breached.AnchorStatus = AnchorBreached
	assert.False(t, WatchdogEligible(&breached, cutoff))

	noAnchor := base
	noAnchor.AnchorID = ""
	assert.False(t, WatchdogEligible(&noAnchor, cutoff))

	neverSeen := base
	neverSeen.LastAnchorEventAt = nil
	assert.False(t, WatchdogEligible(&neverSeen, cutoff))
}

func TestFormatRefNumber(t *testing.T) {
	at := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	got := FormatRefNumber("PRO", at, "4F1A2B3C")
	assert.Equal(t, "PRO-2603-4F1A2B3C", got)
	assert.Len(t, strings.Split(got, "-"), 3)

	dec := time.Date(2025, 12, 31, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "CLM-2512-AB12CD", FormatRefNumber("CLM", dec, "AB12CD"))
}
