package subscription

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a Repo when no record exists for a user.
// Callers are expected to substitute DefaultRecord rather than treat this
// as a failure: a user with no billing row is a free-tier user.
var ErrNotFound = errors.New("subscription not found")

// Record is one user's billing state. Records are never deleted - a
// subscription that ends degrades the record back to the free tier.
type Record struct {
	UserID            string     `json:"userId"`
	Tier              Tier       `json:"tier"`
	Status            Status     `json:"status"`
	CustomerID        string     `json:"customerId,omitempty"`
	SubscriptionID    string     `json:"subscriptionId,omitempty"`
	CurrentPeriodEnd  *time.Time `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd"`
	TrialEndsAt       *time.Time `json:"trialEndsAt,omitempty"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// DefaultRecord is the implicit subscription for a user with no billing row.
func DefaultRecord(userID string) *Record {
	return &Record{
		UserID: userID,
		Tier:   TierFree,
		Status: StatusActive,
	}
}

// Trialing reports whether the record is in an unexpired trial at the given
// time. The trial flag is always derived from TrialEndsAt, never stored.
func (r *Record) Trialing(now time.Time) bool {
	if r.Status != StatusTrialing {
		return false
	}
	if r.TrialEndsAt == nil {
		return true
	}
	return now.Before(*r.TrialEndsAt)
}

// Usable reports whether the record grants access to its tier's features.
func (r *Record) Usable() bool {
	return r.Status.Usable()
}

// Repo defines the interface for subscription storage operations.
type Repo interface {
	// Get retrieves the record for a user. Returns ErrNotFound when the
	// user has no billing row.
	Get(ctx context.Context, userID string) (*Record, error)

	// Upsert creates or replaces the record for its UserID.
	Upsert(ctx context.Context, record *Record) error
}
