// Package app wires the sheetsync components from a configuration and owns
// their lifecycle.
package app

import (
	"context"
	"fmt"
	"log"

	"sheetsync/internal/config"
	"sheetsync/internal/dbclient"
	"sheetsync/internal/domain"
	"sheetsync/internal/engine"
	"sheetsync/internal/logging"
	"sheetsync/internal/poller"
	"sheetsync/internal/queue"
	"sheetsync/internal/reconcile"
	"sheetsync/internal/schema"
	"sheetsync/internal/secret"
	"sheetsync/internal/service"
	"sheetsync/internal/storage"
)

// App holds every component of a running sheetsync instance.
type App struct {
	cfg     config.Config
	logs    *logging.Logs
	logger  *log.Logger
	secrets secret.SecretStore

	store      domain.TableStore
	meta       *storage.DB
	schema     *schema.Synchronizer
	engine     *engine.Engine
	queue      *queue.Queue
	notifier   *poller.HTTPNotifier
	poller     *poller.Poller
	reconciler *reconcile.Reconciler

	Sync *service.SyncService
}

// New connects to the table store and the metadata database and builds the
// components. Nothing runs until Startup.
func New(ctx context.Context, cfg config.Config, logs *logging.Logs, secrets secret.SecretStore) (*App, error) {
	a := &App{cfg: cfg, logs: logs, logger: logs.For("app"), secrets: secrets}

	conn := cfg.Store
	password, err := secret.Resolve(conn.Password, secrets)
	if err != nil {
		return nil, fmt.Errorf("store password: %w", err)
	}
	conn.Password = password

	store, err := dbclient.NewTableStore(&conn)
	if err != nil {
		return nil, fmt.Errorf("open table store: %w", err)
	}
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("ping %s: %w", conn.Driver, err)
	}
	a.store = store

	meta, err := storage.New(cfg.Metadata.Path)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	a.meta = meta

	webhook, err := a.webhookURL(cfg.Poller)
	if err != nil {
		a.close()
		return nil, err
	}

	a.schema = schema.NewSynchronizer(store, logs.For("schema"))
	a.engine = engine.New(store, a.schema, cfg.Engine, logs.For("engine"))
	a.queue = queue.New(storage.NewJobStore(meta), a.engine, cfg.Queue, logs.For("queue"))
	a.notifier = poller.NewHTTPNotifier(webhook, cfg.Poller.PushTimeout)
	a.poller = poller.New(store, a.notifier, storage.NewCheckpointStore(meta), cfg.Poller, logs.For("poller"))
	a.reconciler = reconcile.New(store, a.schema, logs.For("reconcile"))

	a.Sync = service.NewSyncService(service.Deps{
		Store:      store,
		Schema:     a.schema,
		Engine:     a.engine,
		Queue:      a.queue,
		Poller:     a.poller,
		Reconciler: a.reconciler,
		Emitter:    service.LogEmitter{Logger: logs.Debug("events")},
		Logger:     logs.For("sync"),
		SubmitWait: cfg.HTTP.SubmitWait,
	})

	a.logger.Printf("store %s table %q, metadata %s", conn.Driver, store.Table(), meta.Path())
	return a, nil
}

func (a *App) webhookURL(cfg poller.Config) (string, error) {
	url, err := secret.Resolve(cfg.WebhookURL, a.secrets)
	if err != nil {
		return "", fmt.Errorf("poller webhook: %w", err)
	}
	return url, nil
}

// Prepare creates the synced table with its system columns if it is missing.
func (a *App) Prepare(ctx context.Context) error {
	if err := a.store.EnsureTable(ctx); err != nil {
		return fmt.Errorf("ensure table: %w", err)
	}
	return nil
}

// Startup prepares the table, then starts the queue workers and the change
// poller schedule. A disabled poller still ticks but never pushes.
func (a *App) Startup(ctx context.Context) error {
	if err := a.Prepare(ctx); err != nil {
		return err
	}
	a.StartWorkers(ctx)
	if err := a.poller.Start(ctx); err != nil {
		return err
	}
	return nil
}

// StartWorkers starts the ingestion queue alone, for one-off commands that
// ingest but should not push.
func (a *App) StartWorkers(ctx context.Context) {
	a.queue.Start(ctx)
}

// ApplyConfig takes the parts of a reloaded configuration that can change
// while running: the push target and whether pushes are on.
func (a *App) ApplyConfig(old, updated config.Config) {
	if updated.Poller.WebhookURL != old.Poller.WebhookURL {
		url, err := a.webhookURL(updated.Poller)
		if err != nil {
			a.logger.Printf("config reload: %v", err)
		} else {
			a.notifier.SetURL(url)
			a.logger.Printf("config reload: webhook url updated")
		}
	}
	a.poller.SetEnabled(updated.Poller.Enabled)

	if updated.Store != old.Store || updated.Metadata != old.Metadata || updated.HTTP.Addr != old.HTTP.Addr {
		a.logger.Printf("config reload: store, metadata or http settings changed; restart to apply")
	}
	a.cfg = updated
}

// Shutdown stops background work, waits for in-flight jobs and closes both
// databases.
func (a *App) Shutdown(ctx context.Context) {
	// Cancel service-side poll triggers first so none starts once the poller
	// has drained.
	a.Sync.Close(ctx)
	a.poller.Stop()
	a.queue.Stop()
	a.close()
}

func (a *App) close() {
	if a.meta != nil {
		a.meta.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}
