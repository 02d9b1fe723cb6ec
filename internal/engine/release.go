package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/ternarybob/entitle/internal/common"
	"github.com/ternarybob/entitle/internal/models"
	"github.com/ternarybob/entitle/internal/remote"
)

// DefaultReleaseWorkers bounds concurrent leave calls when no limit is given.
const DefaultReleaseWorkers = 50

// SessionOpener opens a per-credential session. *remote.Client satisfies it.
type SessionOpener interface {
	Open(credential string) (*remote.Session, error)
}

// Releaser removes credentials from a resource, undoing earlier grants.
// Every credential gets one best-effort attempt and the store is left alone.
type Releaser struct {
	opener     SessionOpener
	maxWorkers int
	logger     arbor.ILogger
	now        func() time.Time
}

// NewReleaser creates a releaser running at most maxWorkers leave calls at once
func NewReleaser(opener SessionOpener, maxWorkers int, logger arbor.ILogger) *Releaser {
	if maxWorkers < 1 {
		maxWorkers = DefaultReleaseWorkers
	}
	return &Releaser{
		opener:     opener,
		maxWorkers: maxWorkers,
		logger:     logger,
		now:        time.Now,
	}
}

// Run releases every credential from resourceID and reports which ones left.
// Duplicates are released once. Credentials keep their stored form in the report.
func (r *Releaser) Run(ctx context.Context, resourceID string, credentials []string) *models.ReleaseReport {
	report := &models.ReleaseReport{ResourceID: resourceID, StartedAt: r.now()}
	logger := r.logger.WithCorrelationId(common.NewOrderID())

	finish := func() *models.ReleaseReport {
		report.EndedAt = r.now()
		report.TimeTaken = report.EndedAt.Sub(report.StartedAt).Seconds()
		report.Released.Count = len(report.Released.Tokens)
		report.Failed.Count = len(report.Failed.Tokens)
		return report
	}

	if resourceID == "" {
		report.Error = fmt.Sprintf("%s: resource id is required", models.ErrInvalidParameters)
		return finish()
	}

	unique := dedupe(credentials)
	if len(unique) == 0 {
		report.Error = fmt.Sprintf("%s: no credentials given", models.ErrInvalidParameters)
		return finish()
	}

	var (
		mu       sync.Mutex
		released []string
		failed   []string
	)
	record := func(credential string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failed = append(failed, credential)
			return
		}
		released = append(released, credential)
	}

	workers := min(len(unique), r.maxWorkers)
	logger.Info().
		Str("resource_id", resourceID).
		Int("credentials", len(unique)).
		Int("workers", workers).
		Msg("Releasing credentials")

	var g errgroup.Group
	g.SetLimit(workers)
	for _, credential := range unique {
		g.Go(func() error {
			var leaveErr error
			err := common.SafeCall(logger, "release", func() error {
				leaveErr = r.leave(ctx, resourceID, credential)
				return nil
			})
			if err != nil {
				leaveErr = err
			}
			if leaveErr != nil {
				logger.Warn().
					Err(leaveErr).
					Str("credential", models.MaskCredential(credential)).
					Msg("Release failed")
			}
			record(credential, leaveErr)
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(released)
	sort.Strings(failed)
	report.Released.Tokens = released
	report.Failed.Tokens = failed
	report.Success = true
	finish()

	logger.Info().
		Str("resource_id", resourceID).
		Int("released", report.Released.Count).
		Int("failed", report.Failed.Count).
		Dur("duration", report.EndedAt.Sub(report.StartedAt)).
		Msg("Release complete")
	return report
}

func (r *Releaser) leave(ctx context.Context, resourceID, credential string) error {
	session, err := r.opener.Open(models.NormalizeCredential(credential))
	if err != nil {
		return err
	}
	return session.Leave(ctx, resourceID)
}

// dedupe keeps the first occurrence of each normalized credential and drops blanks
func dedupe(credentials []string) []string {
	seen := make(map[string]struct{}, len(credentials))
	unique := make([]string, 0, len(credentials))
	for _, c := range credentials {
		secret := models.NormalizeCredential(c)
		if secret == "" {
			continue
		}
		if _, ok := seen[secret]; ok {
			continue
		}
		seen[secret] = struct{}{}
		unique = append(unique, c)
	}
	return unique
}
