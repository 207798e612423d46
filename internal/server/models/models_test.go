package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTransfer_EffectiveStatus(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		status    TransferStatus
		expiresAt time.Time
		want      TransferStatus
	}{
		{name: "active before expiry", status: TransferActive, expiresAt: now.Add(time.Hour), want: TransferActive},
		{name: "active after expiry", status: TransferActive, expiresAt: now.Add(-time.Second), want: TransferExpired},
		{name: "pending after expiry", status: TransferPending, expiresAt: now.Add(-time.Hour), want: TransferExpired},
		{name: "exactly at expiry is not expired", status: TransferActive, expiresAt: now, want: TransferActive},
		{name: "deleted stays deleted", status: TransferDeleted, expiresAt: now.Add(-time.Hour), want: TransferDeleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &Transfer{Status: tt.status, ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, tr.EffectiveStatus(now))
		})
	}
}

func TestLimitsFor(t *testing.T) {
	assert.Equal(t, 7, LimitsFor(PlanFree).RetentionDays)
	assert.Equal(t, Unlimited, LimitsFor(PlanPro).MaxMonthlyTransfers)
	assert.Equal(t, LimitsFor(PlanFree), LimitsFor("mystery"))
}

func TestUsageDelta(t *testing.T) {
	d := UsageDelta{Storage: 10, Files: 1, Transfers: 1}
	assert.False(t, d.IsZero())
	assert.Equal(t, UsageDelta{Storage: -10, Files: -1, Transfers: -1}, d.Negate())
	assert.True(t, UsageDelta{}.IsZero())
}

func TestAPIKey_UsableAndPermissions(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)

	k := &APIKey{Active: true, Permissions: []string{PermissionRead}}
	assert.True(t, k.Usable(now))
	assert.True(t, k.HasPermission(PermissionRead))
	assert.False(t, k.HasPermission(PermissionWrite))

	k.ExpiresAt = &past
	assert.False(t, k.Usable(now))

	k.ExpiresAt = nil
	k.Active = false
	assert.False(t, k.Usable(now))
}

func TestAnonymousSender_Window(t *testing.T) {
	now := time.Now()
	verified := now.Add(-time.Hour)
	a := &AnonymousSender{WindowStartedAt: now.Add(-AnonymousWindow - time.Second), VerifiedAt: &verified}

	assert.True(t, a.WindowElapsed(now))
	assert.True(t, a.IsVerified(now))

	a.VerifiedAt = nil
	assert.False(t, a.IsVerified(now))
}
