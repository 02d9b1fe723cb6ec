package interfaces

import (
	"github.com/ternarybob/entitle/internal/models"
)

// CredentialStore - process-wide inventory of single-use credentials, keyed by duration class.
// A checked-out credential is never present in the at-rest inventory of any class.
type CredentialStore interface {
	// Checkout removes one random available credential from the at-rest set and marks it in use
	Checkout(class models.DurationClass) (string, error)

	// CheckoutBatch checks out exactly n credentials or none (models.ErrInsufficientStock)
	CheckoutBatch(class models.DurationClass, n int) ([]string, error)

	// Return puts a credential back at rest, optionally annotated with a reason
	Return(credential string, class models.DurationClass, reason string) error

	// Remove permanently deletes a credential from the at-rest set and the in-use map
	Remove(credential string, class models.DurationClass, reason string) error

	// Add merges credential lines into the at-rest set, returning how many were new
	Add(credentials []string, class models.DurationClass) (int, error)

	// Stock returns a snapshot for one class
	Stock(class models.DurationClass) (models.StockInfo, error)

	// StockAll returns a snapshot for every class taken under one lock
	StockAll() (map[models.DurationClass]models.StockInfo, error)

	// Fetch lists inventory entries for a scope
	Fetch(scope models.InventoryScope) (*models.InventorySnapshot, error)

	// Filter rewrites a class's at-rest set keeping only lines whose secret satisfies keep
	Filter(class models.DurationClass, keep func(secret string) bool) (*models.FilterResult, error)
}
