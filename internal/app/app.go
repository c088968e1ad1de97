// -----------------------------------------------------------------------
// Application - Dependency wiring and lifecycle
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pictor/internal/common"
	"github.com/ternarybob/pictor/internal/handlers"
	"github.com/ternarybob/pictor/internal/interfaces"
	"github.com/ternarybob/pictor/internal/server"
	"github.com/ternarybob/pictor/internal/services/catalog"
	"github.com/ternarybob/pictor/internal/services/civitai"
	"github.com/ternarybob/pictor/internal/services/discord"
	"github.com/ternarybob/pictor/internal/services/guard"
	"github.com/ternarybob/pictor/internal/services/metadata"
	"github.com/ternarybob/pictor/internal/services/purge"
	"github.com/ternarybob/pictor/internal/services/queue"
	"github.com/ternarybob/pictor/internal/services/renderer"
	"github.com/ternarybob/pictor/internal/services/session"
	"github.com/ternarybob/pictor/internal/services/workflow"
	"github.com/ternarybob/pictor/internal/storage"
)

// catalogBootTimeout bounds the first node registry fetch. A renderer
// that cannot answer within this window fails boot rather than leaving
// the bot online with empty select menus.
const catalogBootTimeout = 30 * time.Second

// App holds every long-lived component of the bot process
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	StorageManager interfaces.StorageManager

	// Services
	RendererClient  interfaces.RendererClient
	CatalogService  interfaces.CatalogService
	WorkflowBinder  interfaces.WorkflowBinder
	GuardService    interfaces.GuardService
	SessionService  interfaces.SessionService
	MetadataService interfaces.MetadataService
	QueueService    interfaces.QueueService
	PurgeService    interfaces.PurgeService

	// Chat surface
	RestClient *discord.RestClient
	Notifier   interfaces.ChatNotifier
	Router     *handlers.InteractionRouter
	Gateway    *discord.Gateway

	// Operational HTTP server, nil when disabled
	StatusServer *server.Server
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initChat(); err != nil {
		return nil, fmt.Errorf("failed to initialize chat surface: %w", err)
	}

	return app, nil
}

func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("sqlite", a.Config.Storage.SQLite.Path).
		Str("badger", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices builds the render pipeline in dependency order:
// renderer client, node catalog, workflow binder, then the smaller
// services that hang off them.
func (a *App) initServices() error {
	a.RendererClient = renderer.NewClient(&a.Config.Backend, a.Logger)

	ctx, cancel := context.WithTimeout(context.Background(), catalogBootTimeout)
	defer cancel()

	if !a.RendererClient.Ping(ctx) {
		a.Logger.Warn().
			Str("base_url", a.Config.Backend.BaseURL).
			Msg("Renderer backend not reachable yet")
	}

	// The catalog must load at boot; the form is unusable without it
	a.CatalogService = catalog.NewResolver(a.RendererClient, a.Logger)
	if err := a.CatalogService.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to load node catalog: %w", err)
	}

	binder, err := workflow.NewService(a.Config, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to load workflow templates: %w", err)
	}
	a.WorkflowBinder = binder

	a.GuardService = guard.NewService(a.StorageManager.BannedWordStorage(), a.Logger)
	a.SessionService = session.NewStore(a.CatalogService, a.Logger)

	registry := civitai.NewClient(&a.Config.Civitai, a.Logger)
	a.MetadataService = metadata.NewService(
		a.StorageManager.TriggerWordStorage(),
		a.RendererClient,
		registry,
		a.Logger,
	)

	return nil
}

// initChat wires the Discord-facing components: REST client, result
// notifier, job queue, purge schedule, interaction router, gateway,
// and the optional status server.
func (a *App) initChat() error {
	a.RestClient = discord.NewRestClient(&a.Config.Discord, a.Logger)
	a.Notifier = discord.NewNotifier(a.RestClient, a.Config, a.Logger)

	a.QueueService = queue.NewService(
		a.StorageManager,
		a.WorkflowBinder,
		a.RendererClient,
		a.MetadataService,
		a.Notifier,
		a.Config,
		a.Logger,
	)

	a.PurgeService = purge.NewScheduler(a.StorageManager, a.Config.Purge, a.Logger)

	a.Router = handlers.NewInteractionRouter(
		a.Config,
		a.StorageManager,
		a.RestClient,
		a.SessionService,
		a.GuardService,
		a.CatalogService,
		a.MetadataService,
		a.QueueService,
		a.PurgeService,
		a.WorkflowBinder,
		a.RendererClient,
		a.Logger,
	)

	a.Gateway = discord.NewGateway(&a.Config.Discord, a.Router.HandleInteraction, a.Logger)

	if a.Config.Server.Port > 0 {
		a.StatusServer = server.New(
			a.Config,
			a.QueueService,
			a.RendererClient,
			a.CatalogService,
			a.PurgeService,
			a.Logger,
		)
	}

	return nil
}

// Start brings the bot online: slash commands registered, persisted
// queue state recovered, purge schedule running, gateway connected.
// The gateway connects last so no interaction arrives before the
// services behind it are ready.
func (a *App) Start(ctx context.Context) error {
	if err := a.RestClient.RegisterCommands(ctx, handlers.CommandDefinitions()); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	if err := a.QueueService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start queue runner: %w", err)
	}

	if err := a.PurgeService.Start(); err != nil {
		return fmt.Errorf("failed to start purge scheduler: %w", err)
	}

	if a.StatusServer != nil {
		common.SafeGo(a.Logger, "status-server", func() {
			if err := a.StatusServer.Start(); err != nil {
				a.Logger.Error().Err(err).Msg("Status server failed")
			}
		})
	}

	if err := a.Gateway.Start(ctx); err != nil {
		return fmt.Errorf("failed to connect gateway: %w", err)
	}

	return nil
}

// Close closes all application resources in reverse startup order
func (a *App) Close() error {
	if a.Gateway != nil {
		a.Gateway.Stop()
		a.Logger.Info().Msg("Gateway stopped")
	}

	if a.PurgeService != nil {
		a.PurgeService.Stop()
	}

	if a.QueueService != nil {
		a.QueueService.Stop()
		a.Logger.Info().Msg("Queue runner stopped")
	}

	if a.StatusServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.StatusServer.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop status server")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
