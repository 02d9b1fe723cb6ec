package models

import "time"

// OrderKey is an issued, human-typeable code that encodes a duration class and an operation count.
type OrderKey struct {
	Code          string        `json:"code"`
	DurationClass DurationClass `json:"duration_class"`
	Operations    int           `json:"operations"`
	IssuedAt      time.Time     `json:"issued_at"`
	Redeemed      bool          `json:"redeemed"`
	RedeemedAt    time.Time     `json:"redeemed_at,omitempty"`
	OrderID       string        `json:"order_id,omitempty"`
}
