package billing

import (
	"time"

	"github.com/covergen/go-session-service/subscription"
)

// UpdateKind is the provider event behind a SubscriptionUpdate.
type UpdateKind string

const (
	UpdateCreated          UpdateKind = "subscription.created"
	UpdateChanged          UpdateKind = "subscription.updated"
	UpdateCanceled         UpdateKind = "subscription.canceled"
	UpdatePaymentSucceeded UpdateKind = "payment.succeeded"
	UpdatePaymentFailed    UpdateKind = "payment.failed"
)

// Valid reports whether the kind is one of the known provider events.
func (k UpdateKind) Valid() bool {
	switch k {
	case UpdateCreated, UpdateChanged, UpdateCanceled, UpdatePaymentSucceeded, UpdatePaymentFailed:
		return true
	}
	return false
}

// SubscriptionUpdate is an inbound webhook-style event describing a billing
// state change for one user. Events for users other than the currently
// loaded one are persisted but never patched into memory.
type SubscriptionUpdate struct {
	EventID           string              `json:"eventId"`
	UserID            string              `json:"userId"`
	Kind              UpdateKind          `json:"kind"`
	Tier              subscription.Tier   `json:"tier,omitempty"`
	Status            subscription.Status `json:"status,omitempty"`
	CustomerID        string              `json:"customerId,omitempty"`
	SubscriptionID    string              `json:"subscriptionId,omitempty"`
	CurrentPeriodEnd  *time.Time          `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd bool                `json:"cancelAtPeriodEnd,omitempty"`
	TrialEndsAt       *time.Time          `json:"trialEndsAt,omitempty"`
	OccurredAt        time.Time           `json:"occurredAt"`
}

// ApplyTo folds the event into a subscription record. The record is mutated
// in place; it is never deleted, a canceled subscription degrades to free.
func (u SubscriptionUpdate) ApplyTo(rec *subscription.Record) {
	if u.CustomerID != "" {
		rec.CustomerID = u.CustomerID
	}
	if u.SubscriptionID != "" {
		rec.SubscriptionID = u.SubscriptionID
	}

	switch u.Kind {
	case UpdateCreated, UpdateChanged:
		if u.Tier.Valid() {
			rec.Tier = u.Tier
		}
		if u.Status != "" {
			rec.Status = u.Status
		}
		rec.CurrentPeriodEnd = u.CurrentPeriodEnd
		rec.CancelAtPeriodEnd = u.CancelAtPeriodEnd
		rec.TrialEndsAt = u.TrialEndsAt
	case UpdateCanceled:
		rec.Tier = subscription.TierFree
		rec.Status = subscription.StatusActive
		rec.SubscriptionID = ""
		rec.CurrentPeriodEnd = nil
		rec.CancelAtPeriodEnd = false
		rec.TrialEndsAt = nil
	case UpdatePaymentSucceeded:
		rec.Status = subscription.StatusActive
		if u.Tier.Valid() {
			rec.Tier = u.Tier
		}
		if u.CurrentPeriodEnd != nil {
			rec.CurrentPeriodEnd = u.CurrentPeriodEnd
		}
	case UpdatePaymentFailed:
		rec.Status = subscription.StatusPastDue
	}
	rec.UpdatedAt = u.OccurredAt
}
