package audit

import (
	"context"
	"fmt"
	"sort"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/entitle/internal/interfaces"
	"github.com/ternarybob/entitle/internal/models"
)

// PurgeResult is the outcome of purging one class
type PurgeResult struct {
	DurationClass models.DurationClass `json:"duration_class"`
	Report        *Report              `json:"report"`
	Filter        *models.FilterResult `json:"filter"`
}

// Service purges unusable credentials from the store
type Service struct {
	store   interfaces.CredentialStore
	checker *Checker
	logger  arbor.ILogger
}

// NewService creates an audit service
func NewService(store interfaces.CredentialStore, checker *Checker, logger arbor.ILogger) *Service {
	return &Service{store: store, checker: checker, logger: logger}
}

// Check probes a class's at-rest credentials without changing the store
func (s *Service) Check(ctx context.Context, class models.DurationClass) (*Report, error) {
	creds, err := s.available(class)
	if err != nil {
		return nil, err
	}
	return s.checker.Check(ctx, class, creds), nil
}

// Purge checks a class's at-rest credentials and drops those found invalid or without capacity.
// Credentials that could not be checked, or were added after the snapshot, are kept.
func (s *Service) Purge(ctx context.Context, class models.DurationClass) (*PurgeResult, error) {
	report, err := s.Check(ctx, class)
	if err != nil {
		return nil, err
	}

	filtered, err := s.store.Filter(class, func(secret string) bool {
		return !report.Bad(secret)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to purge %s credentials: %w", class, err)
	}

	s.logger.Info().
		Str("duration_class", class.String()).
		Int("kept", filtered.Kept).
		Int("removed", filtered.Removed).
		Int("unknown", len(report.Unknown)).
		Msg("Inventory purged")

	return &PurgeResult{DurationClass: class, Report: report, Filter: filtered}, nil
}

// PurgeAll purges every duration class in order, stopping at the first store error
func (s *Service) PurgeAll(ctx context.Context) ([]*PurgeResult, error) {
	results := make([]*PurgeResult, 0, len(models.DurationClasses))
	for _, class := range models.DurationClasses {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		res, err := s.Purge(ctx, class)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *Service) available(class models.DurationClass) ([]string, error) {
	scope := models.ScopeOne
	if class == models.DurationThreeMonths {
		scope = models.ScopeThree
	}
	snapshot, err := s.store.Fetch(scope)
	if err != nil {
		return nil, err
	}

	inv := snapshot.Classes[class]
	creds := make([]string, 0, len(inv.Available))
	for secret := range inv.Available {
		creds = append(creds, secret)
	}
	sort.Strings(creds)
	return creds, nil
}
