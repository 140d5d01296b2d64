package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/upb/authgateway/config"
	"github.com/upb/authgateway/identity"
	"github.com/upb/authgateway/identity/google"
	"github.com/upb/authgateway/internal/observability"
	"github.com/upb/authgateway/middleware"
	"github.com/upb/authgateway/repositories"
	"github.com/upb/authgateway/repositories/postgres"
	"github.com/upb/authgateway/services"
	"github.com/upb/authgateway/services/audit"
	"github.com/upb/authgateway/tokens"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	DB      *postgres.DB
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Users         repositories.UserRepository
	RefreshTokens repositories.RefreshTokenRepository
	AuditLogs     repositories.AuditRepository
	TxManager     repositories.TransactionManager

	// Credentials
	Tokens   *tokens.Manager
	Verifier identity.Verifier

	// Services
	Audit        *audit.AuditService
	TokenService *services.TokenService
	AuthService  *services.AuthService
	UserService  *services.UserService

	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies opens the database and wires every component on top of it
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps, err := NewDependenciesWithFactory(ctx, cfg, factory, logger)
	if err != nil {
		_ = factory.Close()
		return nil, err
	}
	return deps, nil
}

// NewDependenciesWithFactory wires every component around an existing factory
func NewDependenciesWithFactory(ctx context.Context, cfg *config.Config, factory *postgres.RepositoryFactory, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		RepoFactory: factory,
		DB:          factory.GetDB(),
	}

	if err := deps.initMetrics(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	deps.initRepositories()

	if err := deps.initCredentials(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize credentials: %w", err)
	}

	if err := deps.initAudit(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize audit: %w", err)
	}

	deps.initServices(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.String("signing_algorithm", cfg.Tokens.SigningAlgorithm),
		zap.Bool("rotate_on_refresh", cfg.Tokens.RotateOnRefresh),
		zap.Bool("audit_enabled", cfg.Audit.Enabled))
	return deps, nil
}

func (d *Dependencies) initMetrics(cfg *config.Config) error {
	if !cfg.Observability.MetricsEnabled {
		return nil
	}
	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}
	d.Metrics = metrics
	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Users = repos.Users
	d.RefreshTokens = repos.RefreshTokens
	d.AuditLogs = repos.AuditLogs
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

// initCredentials loads the signing key once and builds the Google verifier
func (d *Dependencies) initCredentials(cfg *config.Config) error {
	manager, err := tokens.LoadManager(cfg.Tokens)
	if err != nil {
		return err
	}
	d.Tokens = manager

	d.Verifier = google.NewVerifier(google.Config{
		ClientID:           cfg.Google.ClientID,
		JWKSURL:            cfg.Google.JWKSURL,
		CacheTTL:           cfg.Google.CacheTTL,
		MinRefreshInterval: cfg.Google.MinRefreshInterval,
		HTTPTimeout:        cfg.Google.HTTPTimeout,
	}, d.Logger, d.Metrics)

	d.AuthMiddleware = middleware.NewAuthMiddleware(manager, d.Metrics, d.Logger)
	return nil
}

// initAudit builds the audit trail. Writers only run when auditing is enabled;
// history reads work either way.
func (d *Dependencies) initAudit(cfg *config.Config) error {
	d.Audit = audit.NewAuditService(d.AuditLogs, d.Logger, audit.Config{
		BufferSize:  cfg.Audit.BufferSize,
		WorkerCount: cfg.Audit.Workers,
	})
	if !cfg.Audit.Enabled {
		return nil
	}
	return d.Audit.Start()
}

func (d *Dependencies) initServices(cfg *config.Config) {
	repos := &repositories.Repositories{
		Users:         d.Users,
		RefreshTokens: d.RefreshTokens,
		AuditLogs:     d.AuditLogs,
	}

	var recorder services.AuditRecorder
	if cfg.Audit.Enabled {
		recorder = d.Audit
	}

	d.TokenService = services.NewTokenService(d.TxManager, repos, d.Tokens, cfg.Tokens, recorder, d.Metrics, d.Logger)
	d.AuthService = services.NewAuthService(d.Verifier, d.TxManager, repos, d.TokenService, recorder, d.Metrics, d.Logger)
	d.UserService = services.NewUserService(d.TxManager, repos, recorder, d.Logger)
}

// Close drains the audit queue and closes the database
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Audit != nil && d.Config.Audit.Enabled {
		if err := d.Audit.Stop(d.Config.Audit.ShutdownTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	_ = d.Logger.Sync()

	return errors.Join(errs...)
}
