package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/entitle/internal/common"
	"github.com/ternarybob/entitle/internal/engine"
	"github.com/ternarybob/entitle/internal/interfaces"
	"github.com/ternarybob/entitle/internal/models"
	"github.com/ternarybob/entitle/internal/remote"
	"github.com/ternarybob/entitle/internal/services/audit"
	"github.com/ternarybob/entitle/internal/services/keys"
	"github.com/ternarybob/entitle/internal/session"
	"github.com/ternarybob/entitle/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	StorageManager  interfaces.StorageManager
	CredentialStore interfaces.CredentialStore

	// Platform access
	Client     *remote.Client
	Sessions   *session.Factory
	Customizer *engine.Customizer

	// Services
	KeyService     *keys.Service
	AuditService   *audit.Service
	AuditScheduler *audit.Scheduler

	httpClient *http.Client
}

// Option adjusts App construction
type Option func(*App) error

// WithHTTPClient routes platform calls through client. Used by tests against a fake server.
func WithHTTPClient(client *http.Client) Option {
	return func(a *App) error {
		a.httpClient = client
		return nil
	}
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger, opts ...Option) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}

	if err := a.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a.initServices()

	logger.Info().
		Str("base_url", cfg.Remote.BaseURL).
		Str("data_dir", cfg.Inventory.DataDir).
		Int("max_workers", cfg.Engine.MaxWorkers).
		Int("max_retries", cfg.Engine.MaxRetries).
		Msg("Application initialization complete")

	return a, nil
}

// initStorage opens the credential inventory and the Badger database
func (a *App) initStorage() error {
	store, err := storage.NewCredentialStore(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	a.CredentialStore = store

	manager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.StorageManager = manager

	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Str("inventory", a.Config.Inventory.DataDir).
		Msg("Storage layer initialized")
	return nil
}

// initServices builds the platform client and the services on top of it
func (a *App) initServices() {
	var clientOpts []remote.ClientOption
	if a.httpClient != nil {
		clientOpts = append(clientOpts, remote.WithHTTPClient(a.httpClient))
	}
	clientOpts = append(clientOpts,
		remote.WithLogger(a.Logger),
		remote.WithRateLimit(a.Config.Remote.RateLimit),
		remote.WithTimeout(a.Config.Remote.TimeoutDuration()),
	)
	a.Client = remote.NewClient(a.Config.Remote.BaseURL, clientOpts...)
	a.Sessions = session.NewFactory(a.Client, a.Logger)
	a.Customizer = engine.NewCustomizer(a.Config.Customization, a.Logger)

	a.KeyService = keys.NewService(a.StorageManager.KeyStorage(), a.Logger)

	checker := audit.NewChecker(a.Sessions, a.Config.Audit.Concurrency, a.Logger)
	a.AuditService = audit.NewService(a.CredentialStore, checker, a.Logger)
	a.AuditScheduler = audit.NewScheduler(a.AuditService, 0, a.Logger)
}

// NewOrchestrator creates a single-use orchestrator wired to the app's collaborators
func (a *App) NewOrchestrator() *engine.Orchestrator {
	return engine.NewOrchestrator(a.dependencies(), a.Config.Engine, a.Logger)
}

func (a *App) dependencies() engine.Dependencies {
	return engine.Dependencies{
		Store:      a.CredentialStore,
		Resolver:   a.Client,
		Sessions:   a.Sessions,
		Customizer: a.Customizer,
		Orders:     a.StorageManager.OrderStorage(),
	}
}

// RunOrder executes one work request on a fresh orchestrator
func (a *App) RunOrder(ctx context.Context, req *models.WorkRequest) *models.ResultReport {
	return a.NewOrchestrator().Run(ctx, req)
}

// RedeemAndRun executes the request an order key stands for.
// The key is spent only once pre-flight has passed, so an order that never dispatches leaves it redeemable.
func (a *App) RedeemAndRun(ctx context.Context, code, target string, customization *models.Customization) (*models.ResultReport, error) {
	req, err := a.KeyService.Prepare(ctx, code, target, customization)
	if err != nil {
		return nil, err
	}

	var confirmErr error
	deps := a.dependencies()
	deps.BeforeDispatch = func(ctx context.Context, orderID string) error {
		confirmErr = a.KeyService.Confirm(ctx, code, orderID)
		return confirmErr
	}

	report := engine.NewOrchestrator(deps, a.Config.Engine, a.Logger).Run(ctx, req)
	return report, confirmErr
}

// Release removes credentials from a resource. workers below 1 uses the engine default.
func (a *App) Release(ctx context.Context, resourceID string, credentials []string, workers int) *models.ReleaseReport {
	return engine.NewReleaser(a.Client, workers, a.Logger).Run(ctx, resourceID, credentials)
}

// Close stops background work and releases storage
func (a *App) Close() error {
	if a.AuditScheduler != nil {
		a.AuditScheduler.Stop()
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}
	a.Logger.Info().Msg("Application closed")
	return nil
}
