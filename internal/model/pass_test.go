package model

import (
	"testing"
	"time"
)

func TestPassStatus(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		pass Pass
		want PassStatus
	}{
		{"active without expiry", Pass{}, PassActive},
		{"active before expiry", Pass{ExpiresAt: &future}, PassActive},
		{"expired at the exact instant", Pass{ExpiresAt: &now}, PassExpired},
		{"expired in the past", Pass{ExpiresAt: &past}, PassExpired},
		{"redeemed", Pass{RedeemedAt: &past}, PassRedeemed},
		{"redeemed then expired stays redeemed", Pass{RedeemedAt: &past, ExpiresAt: &past}, PassRedeemed},
		{"voided wins over redeemed", Pass{VoidedAt: &past, RedeemedAt: &past}, PassVoided},
		{"voided wins over expired", Pass{VoidedAt: &past, ExpiresAt: &past}, PassVoided},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pass.Status(now); got != tt.want {
				t.Errorf("Status() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPassFilterMatches(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	apple := &Pass{Platforms: []Platform{PlatformApple}}
	both := &Pass{Platforms: []Platform{PlatformApple, PlatformGoogle}}
	voidedGoogle := &Pass{Platforms: []Platform{PlatformGoogle}, VoidedAt: &past}

	tests := []struct {
		name   string
		filter PassFilter
		pass   *Pass
		want   bool
	}{
		{"empty filter matches everything", PassFilter{}, voidedGoogle, true},
		{"platform apple", PassFilter{Platform: PlatformApple}, apple, true},
		{"platform google on apple-only pass", PassFilter{Platform: PlatformGoogle}, apple, false},
		{"platform google on dual pass", PassFilter{Platform: PlatformGoogle}, both, true},
		{"active excludes voided", PassFilter{Status: PassActive}, voidedGoogle, false},
		{"active and platform", PassFilter{Status: PassActive, Platform: PlatformGoogle}, both, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(tt.pass, now); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
