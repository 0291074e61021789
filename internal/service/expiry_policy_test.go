package service

import (
	"testing"
	"time"

	"github.com/spec-kit/mail-ticket-service/internal/config"
	"github.com/spec-kit/mail-ticket-service/internal/domain"
)

func TestExpiryPolicyHorizon(t *testing.T) {
	policy := NewExpiryPolicy(config.LifecycleConfig{
		ExpiryLow:      0,
		ExpiryMedium:   36 * time.Hour,
		ExpiryHigh:     12 * time.Hour,
		CategoryExpiry: map[string]time.Duration{"network": 96 * time.Hour, "broken": -time.Hour},
	})

	cases := []struct {
		category string
		priority domain.TicketPriority
		want     time.Duration
	}{
		{"hardware", domain.TicketPriorityLow, DefaultExpiryLow},
		{"hardware", domain.TicketPriorityMedium, 36 * time.Hour},
		{"hardware", domain.TicketPriorityHigh, 12 * time.Hour},
		{"network", domain.TicketPriorityHigh, 96 * time.Hour},
		{"broken", domain.TicketPriorityHigh, 12 * time.Hour},
		{"hardware", domain.TicketPriority("unknown"), DefaultExpiryLow},
	}
	for _, tc := range cases {
		if got := policy.Horizon(tc.category, tc.priority); got != tc.want {
			t.Errorf("Horizon(%s, %s) = %s, want %s", tc.category, tc.priority, got, tc.want)
		}
	}
}

func TestExpiryPolicyWithCategoryCopies(t *testing.T) {
	base := DefaultExpiryPolicy()
	derived := base.WithCategory("network", time.Hour)
	if got := base.Horizon("network", domain.TicketPriorityLow); got != DefaultExpiryLow {
		t.Errorf("base policy mutated: %s", got)
	}
	if got := derived.Horizon("network", domain.TicketPriorityLow); got != time.Hour {
		t.Errorf("derived = %s", got)
	}
}
