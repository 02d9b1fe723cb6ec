package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/entitle/internal/interfaces"
	"github.com/ternarybob/entitle/internal/models"
)

// CredentialSource hands credentials to workers for one request and settles them afterwards.
type CredentialSource interface {
	// Acquire returns a credential not yet handed out in this run, or models.ErrEmptyStock
	Acquire(ctx context.Context) (string, error)
	// Return puts a credential with leftover capacity back into circulation
	Return(credential, reason string)
	// Remove discards a credential that is invalid or fully consumed
	Remove(credential, reason string)
	// Hold parks a credential that failed for this run; it is released at Close
	Hold(credential string, kind models.FailureKind)
	// Close releases everything still reserved or held
	Close() error
}

// storeSource draws from a CredentialStore, starting with a batch reserved pre-flight.
type storeSource struct {
	store    interfaces.CredentialStore
	class    models.DurationClass
	logger   arbor.ILogger
	mu       sync.Mutex
	reserved []string
	held     map[string]models.FailureKind
}

func newStoreSource(store interfaces.CredentialStore, class models.DurationClass, reserved []string, logger arbor.ILogger) *storeSource {
	return &storeSource{
		store:    store,
		class:    class,
		logger:   logger,
		reserved: reserved,
		held:     make(map[string]models.FailureKind),
	}
}

func (s *storeSource) Acquire(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	if n := len(s.reserved); n > 0 {
		cred := s.reserved[n-1]
		s.reserved = s.reserved[:n-1]
		s.mu.Unlock()
		return cred, nil
	}
	s.mu.Unlock()

	return s.store.Checkout(s.class)
}

func (s *storeSource) Return(credential, reason string) {
	if err := s.store.Return(credential, s.class, reason); err != nil {
		s.logger.Error().Err(err).Str("credential", models.MaskCredential(credential)).Msg("Failed to return credential to store")
	}
}

func (s *storeSource) Remove(credential, reason string) {
	if err := s.store.Remove(credential, s.class, reason); err != nil {
		s.logger.Error().Err(err).Str("credential", models.MaskCredential(credential)).Msg("Failed to remove credential from store")
	}
}

func (s *storeSource) Hold(credential string, kind models.FailureKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held[credential] = kind
}

// Close returns unused reservations as they were and held credentials annotated with their failure
func (s *storeSource) Close() error {
	s.mu.Lock()
	reserved := s.reserved
	held := s.held
	s.reserved = nil
	s.held = make(map[string]models.FailureKind)
	s.mu.Unlock()

	var firstErr error
	for _, cred := range reserved {
		if err := s.store.Return(cred, s.class, ""); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for cred, kind := range held {
		if err := s.store.Return(cred, s.class, "failed: "+string(kind)); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if len(reserved)+len(held) > 0 {
		s.logger.Debug().
			Int("unused", len(reserved)).
			Int("held", len(held)).
			Msg("Credential source released")
	}
	if firstErr != nil {
		return fmt.Errorf("failed to release credentials: %w", firstErr)
	}
	return nil
}

// explicitSource serves a caller-supplied list. The store is never touched.
type explicitSource struct {
	mu     sync.Mutex
	queue  []string
	logger arbor.ILogger
}

func newExplicitSource(credentials []string, logger arbor.ILogger) *explicitSource {
	seen := make(map[string]struct{}, len(credentials))
	queue := make([]string, 0, len(credentials))
	for _, c := range credentials {
		secret := models.NormalizeCredential(c)
		if secret == "" {
			continue
		}
		if _, dup := seen[secret]; dup {
			continue
		}
		seen[secret] = struct{}{}
		queue = append(queue, secret)
	}
	return &explicitSource{queue: queue, logger: logger}
}

// Len is the number of credentials not yet handed out
func (s *explicitSource) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *explicitSource) Acquire(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return "", fmt.Errorf("%w: explicit credential list exhausted", models.ErrEmptyStock)
	}
	cred := s.queue[0]
	s.queue = s.queue[1:]
	return cred, nil
}

func (s *explicitSource) Return(credential, reason string) {
	s.logger.Debug().Str("credential", models.MaskCredential(credential)).Str("reason", reason).Msg("Explicit credential has leftover capacity")
}

func (s *explicitSource) Remove(credential, reason string) {}

func (s *explicitSource) Hold(credential string, kind models.FailureKind) {}

func (s *explicitSource) Close() error { return nil }
