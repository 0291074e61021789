package service

import (
	"time"

	"github.com/spec-kit/mail-ticket-service/internal/config"
	"github.com/spec-kit/mail-ticket-service/internal/domain"
)

// Default expiry horizons per priority.
const (
	DefaultExpiryLow    = 72 * time.Hour
	DefaultExpiryMedium = 48 * time.Hour
	DefaultExpiryHigh   = 24 * time.Hour
)

// ExpiryPolicy computes how long a new ticket may stay unresolved. A category
// override wins over the priority horizon.
type ExpiryPolicy struct {
	byPriority map[domain.TicketPriority]time.Duration
	byCategory map[string]time.Duration
}

// DefaultExpiryPolicy uses the built-in priority horizons and no overrides.
func DefaultExpiryPolicy() ExpiryPolicy {
	return ExpiryPolicy{
		byPriority: map[domain.TicketPriority]time.Duration{
			domain.TicketPriorityLow:    DefaultExpiryLow,
			domain.TicketPriorityMedium: DefaultExpiryMedium,
			domain.TicketPriorityHigh:   DefaultExpiryHigh,
		},
		byCategory: map[string]time.Duration{},
	}
}

// NewExpiryPolicy builds a policy from lifecycle settings. Non-positive values
// fall back to the defaults.
func NewExpiryPolicy(cfg config.LifecycleConfig) ExpiryPolicy {
	p := DefaultExpiryPolicy()
	set := func(priority domain.TicketPriority, d time.Duration) {
		if d > 0 {
			p.byPriority[priority] = d
		}
	}
	set(domain.TicketPriorityLow, cfg.ExpiryLow)
	set(domain.TicketPriorityMedium, cfg.ExpiryMedium)
	set(domain.TicketPriorityHigh, cfg.ExpiryHigh)
	for category, d := range cfg.CategoryExpiry {
		if d > 0 {
			p.byCategory[category] = d
		}
	}
	return p
}

// WithCategory returns a copy of p with an override for categoryID.
func (p ExpiryPolicy) WithCategory(categoryID string, d time.Duration) ExpiryPolicy {
	next := ExpiryPolicy{
		byPriority: p.byPriority,
		byCategory: make(map[string]time.Duration, len(p.byCategory)+1),
	}
	for k, v := range p.byCategory {
		next.byCategory[k] = v
	}
	next.byCategory[categoryID] = d
	return next
}

// Horizon returns the expiry duration for a ticket.
func (p ExpiryPolicy) Horizon(categoryID string, priority domain.TicketPriority) time.Duration {
	if d, ok := p.byCategory[categoryID]; ok && d > 0 {
		return d
	}
	if d, ok := p.byPriority[priority]; ok && d > 0 {
		return d
	}
	return DefaultExpiryLow
}

// ExpiresAt returns the expiry instant for a ticket created at createdAt.
func (p ExpiryPolicy) ExpiresAt(createdAt time.Time, categoryID string, priority domain.TicketPriority) time.Time {
	return createdAt.Add(p.Horizon(categoryID, priority))
}
