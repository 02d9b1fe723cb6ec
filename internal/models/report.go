// -----------------------------------------------------------------------
// Result report - aggregate outcome of one work request
// -----------------------------------------------------------------------

package models

import "time"

// FailureKind classifies why a credential did not complete its work.
type FailureKind string

const (
	FailureInvalid    FailureKind = "invalid"     // authentication rejected, credential removed from the store
	FailureNoCapacity FailureKind = "no_capacity" // no grantable slot this run
	FailureChallenge  FailureKind = "challenge"   // join blocked by an anti-automation challenge
	FailureJoin       FailureKind = "join"        // join refused for another reason
	FailureGrant      FailureKind = "grant"       // every grant attempt in a pass failed
	FailureTransport  FailureKind = "transport"   // network or unexpected error
)

// UnitState names the steps of the per-unit state machine.
type UnitState string

const (
	StateAcquireCredential UnitState = "acquire_credential"
	StateEstablishSession  UnitState = "establish_session"
	StateJoinResource      UnitState = "join_resource"
	StateGrantEntitlement  UnitState = "grant_entitlement"
	StateCustomize         UnitState = "customize"
	StateDone              UnitState = "done"
)

// UnitOutcome is the terminal status of a work unit.
type UnitOutcome string

const (
	UnitSuccess UnitOutcome = "success"
	UnitPartial UnitOutcome = "partial"
	UnitFailed  UnitOutcome = "failed"
)

// UnitStatus is recorded once per unit when it terminates.
type UnitStatus struct {
	Status     UnitOutcome `json:"status"`
	Operations int         `json:"operations"`
	Expected   int         `json:"expected"`
	TokensUsed int         `json:"tokens_used"`
	LastState  UnitState   `json:"last_state"`
}

// ThreadStats counts finished units.
type ThreadStats struct {
	Total     int `json:"total_threads"`
	Completed int `json:"completed_threads"`
	Succeeded int `json:"successful_threads"`
	Failed    int `json:"failed_threads"`
}

// RateLimitHint surfaces an advisory wait returned by a grant call.
type RateLimitHint struct {
	Credential string        `json:"credential"`
	SlotID     string        `json:"slot_id"`
	RetryAfter time.Duration `json:"retry_after"`
}

// TokenReport lists credentials by outcome category.
// Failed is the union of every failure category.
type TokenReport struct {
	Success    []string `json:"success"`
	Failed     []string `json:"failed"`
	Challenge  []string `json:"challenge"`
	Invalid    []string `json:"invalid"`
	NoCapacity []string `json:"no_capacity"`
}

// RequestSummary echoes the request in the report.
type RequestSummary struct {
	Target        string         `json:"target"`
	ResourceID    string         `json:"resource_id"`
	DurationClass DurationClass  `json:"duration_class"`
	Operations    int            `json:"operations"`
	Customization *Customization `json:"customization,omitempty"`
}

// ResultReport is the final, immutable outcome of a work request.
type ResultReport struct {
	Success            bool               `json:"success"`
	TotalOperations    int                `json:"total_operations"`
	ExpectedOperations int                `json:"expected_operations"`
	OrderID            string             `json:"order_id"`
	Tokens             TokenReport        `json:"tokens"`
	Request            RequestSummary     `json:"request"`
	Message            string             `json:"message"`
	Error              string             `json:"error,omitempty"`
	Details            []string           `json:"details,omitempty"`
	Units              map[int]UnitStatus `json:"units,omitempty"`
	Threads            ThreadStats        `json:"threads"`
	RateLimits         []RateLimitHint    `json:"rate_limits,omitempty"`
	StartedAt          time.Time          `json:"start_time"`
	EndedAt            time.Time          `json:"end_time"`
}

// Duration is the wall time between start and end.
func (r *ResultReport) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// OrderRecord is a persisted report.
type OrderRecord struct {
	OrderID   string       `json:"order_id"`
	Success   bool         `json:"success"`
	Report    ResultReport `json:"report"`
	CreatedAt time.Time    `json:"created_at"`
}
