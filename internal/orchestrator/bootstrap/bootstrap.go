// Copyright 2025 Cloudo Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bootstrap assembles and runs the orchestrator.
package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudo-ops/cloudo/internal/orchestrator/config"
	"github.com/cloudo-ops/cloudo/internal/orchestrator/notify"
	"github.com/cloudo-ops/cloudo/internal/orchestrator/repo"
	"github.com/cloudo-ops/cloudo/internal/orchestrator/router"
	"github.com/cloudo-ops/cloudo/internal/orchestrator/service"
	"github.com/cloudo-ops/cloudo/internal/pkg/token"
	"github.com/cloudo-ops/cloudo/pkg/database"
	"github.com/cloudo-ops/cloudo/pkg/httpx"
	"github.com/cloudo-ops/cloudo/pkg/log"
	"github.com/cloudo-ops/cloudo/pkg/metrics"
	"github.com/cloudo-ops/cloudo/pkg/queue"
	"github.com/pkg/errors"
)

// App holds the assembled orchestrator components.
type App struct {
	Conf          *config.AppConfig
	Router        *router.Router
	MetricsServer *metrics.Server
	Escalator     *service.EscalationService
	Registry      *service.RegistryService
	Queue         queue.IQueue
	DB            database.IDatabase

	escalatorCancel context.CancelFunc
}

// NewApp builds the full component graph from the config file.
func NewApp(confFile string) (*App, func(), error) {
	conf := config.NewConf(confFile)

	if err := log.Init(&conf.Log); err != nil {
		return nil, nil, errors.Wrap(err, "init logging")
	}

	db, err := database.NewManager(conf.Database)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open database")
	}
	if err := repo.Migrate(db); err != nil {
		_ = db.Close()
		return nil, nil, errors.Wrap(err, "migrate database")
	}

	q, err := queue.New(context.Background(), conf.Queue)
	if err != nil {
		_ = db.Close()
		return nil, nil, errors.Wrap(err, "connect queue")
	}

	logsRepo := repo.NewExecutionLogRepo(db)
	schemaRepo := repo.NewSchemaRepo(db)
	workerRepo := repo.NewWorkerRepo(db)
	settingsRepo := repo.NewSettingsRepo(db)

	settings := service.NewSettingSource(settingsRepo)
	chat := notify.NewSlackSender("")
	page := notify.NewOpsgenieSender("")

	selector := service.NewSelector(workerRepo, time.Duration(conf.Dispatch.FreshnessWindow)*time.Second)
	dispatcher := service.NewDispatcher(selector, q)
	escalator := service.NewEscalationService(logsRepo, settings, chat, page, q,
		conf.Dispatch.NotificationQueue, conf.Routing.DefaultSlackChannel)
	approvals := service.NewApprovalService(logsRepo, schemaRepo, dispatcher, escalator,
		token.NewCodec(conf.Approval.Secret),
		time.Duration(conf.Approval.TTLMinutes)*time.Minute,
		conf.Approval.BaseURL,
		chat, conf.Approval.SlackToken, conf.Approval.SlackChannel)
	trigger := service.NewTriggerService(schemaRepo, logsRepo, approvals, dispatcher, escalator)
	registry := service.NewRegistryService(workerRepo,
		time.Duration(conf.Dispatch.GCWindow)*time.Second, conf.Dispatch.GCCron)
	logSvc := service.NewLogService(logsRepo)

	rt := router.New(&conf.Http, trigger, approvals, registry, logSvc, conf.Dispatch.WorkerAuthKey)

	metricsServer := metrics.NewServer(conf.Metrics)
	if err := httpx.RegisterHTTPMetrics(metricsServer.Registry()); err != nil {
		log.Errorw("register http metrics failed", "error", err)
	}
	rt.App().Use(httpx.HTTPMetricsMiddleware())

	app := &App{
		Conf:          conf,
		Router:        rt,
		MetricsServer: metricsServer,
		Escalator:     escalator,
		Registry:      registry,
		Queue:         q,
		DB:            db,
	}

	cleanup := func() {
		if app.escalatorCancel != nil {
			app.escalatorCancel()
		}
		app.Registry.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.MetricsServer.Stop(shutdownCtx); err != nil {
			log.Errorw("metrics server shutdown error", "error", err)
		}
		if err := app.Queue.Close(); err != nil {
			log.Errorw("queue close error", "error", err)
		}
		if err := app.DB.Close(); err != nil {
			log.Errorw("database close error", "error", err)
		}
		log.Sync()
	}

	return app, cleanup, nil
}

// Run starts the servers and blocks until an exit signal, then shuts down
// gracefully.
func Run(app *App, cleanup func()) {
	app.MetricsServer.Start()

	if err := app.Registry.StartGC(); err != nil {
		log.Errorw("worker registry gc not started", "error", err)
	}

	escalatorCtx, cancel := context.WithCancel(context.Background())
	app.escalatorCancel = cancel
	go app.Escalator.Run(escalatorCtx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		addr := app.Conf.Http.Addr()
		log.Infow("http listener started", "address", addr)
		if err := app.Router.App().Listen(addr); err != nil {
			log.Errorw("http listener failed", "address", addr, "error", err)
		}
	}()

	sig := <-quit
	log.Infow("received signal, shutting down gracefully", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(app.Conf.Http.ShutdownTimeout)*time.Second)
	defer shutdownCancel()
	if err := app.Router.App().ShutdownWithContext(shutdownCtx); err != nil {
		log.Errorw("http server shutdown error", "error", err)
	} else {
		log.Info("http server shut down gracefully")
	}

	cleanup()
	log.Info("shutdown complete")
}
