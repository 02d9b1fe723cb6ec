package models

import "errors"

var (
	// ErrInvalidDurationClass is returned for any class outside DurationClasses.
	ErrInvalidDurationClass = errors.New("invalid duration class")

	// ErrEmptyStock is returned by a single checkout when no credential is available.
	ErrEmptyStock = errors.New("no credentials available")

	// ErrInsufficientStock is returned when a batch checkout cannot be satisfied in full.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidParameters marks a request rejected before dispatch.
	ErrInvalidParameters = errors.New("invalid parameters")

	// ErrOrchestratorUsed is returned when an orchestrator is asked to run a second request.
	ErrOrchestratorUsed = errors.New("orchestrator already used")

	// ErrKeyNotFound is returned when an order key was never issued.
	ErrKeyNotFound = errors.New("order key not found")

	// ErrKeyRedeemed is returned when an order key has already been redeemed.
	ErrKeyRedeemed = errors.New("order key already redeemed")

	// ErrOrderNotFound is returned when no report is stored for an order id.
	ErrOrderNotFound = errors.New("order not found")
)
