// Package engine partitions a work request into units and runs them on a bounded worker set.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/ternarybob/entitle/internal/common"
	"github.com/ternarybob/entitle/internal/interfaces"
	"github.com/ternarybob/entitle/internal/models"
	"github.com/ternarybob/entitle/internal/remote"
)

// InviteResolver turns an invite code into a resource id before dispatch.
type InviteResolver interface {
	ResolveInvite(ctx context.Context, code string) (*remote.Invite, error)
}

// Dependencies are the collaborators an Orchestrator runs against.
type Dependencies struct {
	Store      interfaces.CredentialStore
	Resolver   InviteResolver
	Sessions   SessionFactory
	Customizer *Customizer
	Orders     interfaces.OrderStorage // optional, finalized reports are saved when set

	// BeforeDispatch runs once pre-flight has passed and credentials are reserved.
	// An error aborts the run and returns the reservation untouched.
	BeforeDispatch func(ctx context.Context, orderID string) error
}

// Orchestrator runs exactly one WorkRequest. Create a new one per request.
type Orchestrator struct {
	deps   Dependencies
	cfg    common.EngineConfig
	logger arbor.ILogger
	used   atomic.Bool
	now    func() time.Time
}

// NewOrchestrator creates a single-use orchestrator
func NewOrchestrator(deps Dependencies, cfg common.EngineConfig, logger arbor.ILogger) *Orchestrator {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 30
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	// A credential never carries more than two grants
	if cfg.OpsPerCredential < 1 || cfg.OpsPerCredential > models.DefaultOperationsPerCredential {
		cfg.OpsPerCredential = models.DefaultOperationsPerCredential
	}
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Run executes req and always returns a report; failures are described in it, never raised.
func (o *Orchestrator) Run(ctx context.Context, req *models.WorkRequest) *models.ResultReport {
	orderID := req.OrderID
	if orderID == "" {
		orderID = common.NewOrderID()
	}
	logger := o.logger.WithCorrelationId(orderID)
	agg := NewAggregator(req, orderID, o.now())

	if !o.used.CompareAndSwap(false, true) {
		return agg.Fail(o.now(), models.ErrOrchestratorUsed, nil)
	}

	report := o.run(ctx, req, orderID, agg, logger)
	o.persist(ctx, report, logger)
	return report
}

func (o *Orchestrator) run(ctx context.Context, req *models.WorkRequest, orderID string, agg *Aggregator, logger arbor.ILogger) *models.ResultReport {
	if details := req.ValidationDetails(); len(details) > 0 {
		logger.Warn().Strs("details", details).Msg("Request rejected")
		return agg.Fail(o.now(), models.ErrInvalidParameters, details)
	}

	inviteCode := models.InviteCode(req.Target)
	resourceID := req.ResourceID
	if resourceID == "" {
		invite, err := o.deps.Resolver.ResolveInvite(ctx, inviteCode)
		if err != nil {
			logger.Warn().Err(err).Str("invite", inviteCode).Msg("Target could not be resolved")
			return agg.Fail(o.now(), fmt.Errorf("invalid target: %w", err), nil)
		}
		resourceID = invite.ResourceID
		agg.SetResourceID(resourceID)
	}

	needed := models.RequiredCredentials(req.Operations, o.cfg.OpsPerCredential)
	source, maxAttempts, err := o.source(req, needed, logger)
	if err != nil {
		logger.Warn().Err(err).Int("required", needed).Msg("Pre-flight failed")
		return agg.Fail(o.now(), err, nil)
	}

	if o.deps.BeforeDispatch != nil {
		if err := o.deps.BeforeDispatch(ctx, orderID); err != nil {
			logger.Warn().Err(err).Msg("Dispatch refused")
			if cerr := source.Close(); cerr != nil {
				logger.Error().Err(cerr).Msg("Failed to release credentials")
			}
			return agg.Fail(o.now(), err, nil)
		}
	}

	units := models.SplitUnits(resourceID, inviteCode, req.Operations, o.cfg.OpsPerCredential)
	workers := min(len(units), o.cfg.MaxWorkers)
	agg.SetThreads(len(units))

	logger.Info().
		Str("resource_id", resourceID).
		Str("duration_class", req.DurationClass.String()).
		Int("operations", req.Operations).
		Int("units", len(units)).
		Int("workers", workers).
		Bool("explicit_credentials", req.UsesExplicitCredentials()).
		Msg("Dispatching work units")

	var g errgroup.Group
	g.SetLimit(workers)
	for _, unit := range units {
		g.Go(func() error {
			var status models.UnitStatus
			err := common.SafeCall(logger, fmt.Sprintf("unit-%d", unit.ID), func() error {
				w := NewWorker(unit, req, source, o.deps.Sessions, o.deps.Customizer, agg, NewRetryPolicy(maxAttempts), logger)
				status = w.Run(ctx)
				return nil
			})
			if err != nil {
				status = panickedStatus(unit)
			}
			agg.UnitFinished(unit.ID, status)
			return nil
		})
	}
	_ = g.Wait()

	if err := source.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to release credentials")
	}

	report := agg.Finalize(o.now())
	logger.Info().
		Bool("success", report.Success).
		Int("total_operations", report.TotalOperations).
		Int("expected_operations", report.ExpectedOperations).
		Int("successful_units", report.Threads.Succeeded).
		Int("failed_units", report.Threads.Failed).
		Dur("duration", report.Duration()).
		Msg(report.Message)
	return report
}

// source picks the credential source and the per-unit retry budget.
// Store credentials are reserved up front so a short inventory fails before any worker starts.
func (o *Orchestrator) source(req *models.WorkRequest, needed int, logger arbor.ILogger) (CredentialSource, int, error) {
	if req.UsesExplicitCredentials() {
		src := newExplicitSource(req.Credentials, logger)
		if src.Len() < needed {
			return nil, 0, fmt.Errorf("%w. Required: %dx, Available: %dx", models.ErrInsufficientStock, needed, src.Len())
		}
		return src, 1, nil
	}

	reserved, err := o.deps.Store.CheckoutBatch(req.DurationClass, needed)
	if err != nil {
		return nil, 0, err
	}
	return newStoreSource(o.deps.Store, req.DurationClass, reserved, logger), o.cfg.MaxRetries, nil
}

func (o *Orchestrator) persist(ctx context.Context, report *models.ResultReport, logger arbor.ILogger) {
	if o.deps.Orders == nil {
		return
	}
	if err := o.deps.Orders.SaveReport(context.WithoutCancel(ctx), report); err != nil {
		logger.Error().Err(err).Msg("Failed to save order report")
	}
}
