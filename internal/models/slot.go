package models

import "time"

// Slot is one unit of grantable entitlement capacity attached to a credential.
type Slot struct {
	ID             string     `json:"id"`
	CooldownEndsAt *time.Time `json:"cooldown_ends_at,omitempty"`
	SubscriptionID string     `json:"subscription_id,omitempty"`
	Canceled       bool       `json:"canceled"`
}

// Available reports whether the slot can be granted at now: its cooldown has
// expired, or it carries no active subscription and is not canceled.
func (s Slot) Available(now time.Time) bool {
	if s.CooldownEndsAt != nil && s.CooldownEndsAt.Before(now) {
		return true
	}
	return s.SubscriptionID == "" && !s.Canceled
}

// AvailableSlots filters slots down to those grantable at now, keeping order.
func AvailableSlots(slots []Slot, now time.Time) []Slot {
	available := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if s.Available(now) {
			available = append(available, s)
		}
	}
	return available
}
