package subscription

// Tier is a subscription plan level. Tiers are ordered: a checkout request
// for a tier at or below the user's current tier is a no-op upgrade.
type Tier string

const (
	TierFree    Tier = "free"
	TierPro     Tier = "pro"
	TierProPlus Tier = "pro_plus"
)

var tierRanks = map[Tier]int{
	TierFree:    0,
	TierPro:     1,
	TierProPlus: 2,
}

// Rank returns the position of the tier in the upgrade order. Unknown tiers
// rank below free so they never pass an upgrade check.
func (t Tier) Rank() int {
	if r, ok := tierRanks[t]; ok {
		return r
	}
	return -1
}

// Valid reports whether the tier is one of the known plan levels.
func (t Tier) Valid() bool {
	_, ok := tierRanks[t]
	return ok
}

// Paid reports whether the tier is a paying plan.
func (t Tier) Paid() bool {
	return t.Rank() > TierFree.Rank()
}

// Status is the billing state of a subscription.
type Status string

const (
	StatusActive     Status = "active"
	StatusTrialing   Status = "trialing"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
	StatusIncomplete Status = "incomplete"
)

// Usable reports whether the subscription grants access to its tier's
// features. Past-due, canceled, and incomplete subscriptions do not.
func (s Status) Usable() bool {
	return s == StatusActive || s == StatusTrialing
}
