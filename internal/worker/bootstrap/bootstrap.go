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

// Package bootstrap assembles and runs the worker.
package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudo-ops/cloudo/internal/worker/config"
	"github.com/cloudo-ops/cloudo/internal/worker/engine"
	"github.com/cloudo-ops/cloudo/internal/worker/heartbeat"
	"github.com/cloudo-ops/cloudo/internal/worker/router"
	"github.com/cloudo-ops/cloudo/pkg/log"
	"github.com/cloudo-ops/cloudo/pkg/queue"
	"github.com/pkg/errors"
)

// App holds the assembled worker components.
type App struct {
	Conf      *config.WorkerConfig
	Router    *router.Router
	Engine    *engine.Engine
	Heartbeat *heartbeat.Sender
	Queue     queue.IQueue

	engineCancel context.CancelFunc
}

// NewApp builds the worker component graph from the config file.
func NewApp(confFile string) (*App, func(), error) {
	conf := config.NewConf(confFile)

	if err := log.Init(&conf.Log); err != nil {
		return nil, nil, errors.Wrap(err, "init logging")
	}

	q, err := queue.New(context.Background(), conf.Queue)
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect queue")
	}

	fetcher := engine.NewScriptFetcher(conf.Runner)
	reporter := engine.NewReporter(q, conf.Runner.NotificationQueue)
	eng := engine.New(conf.Runner, q, fetcher, reporter)
	rt := router.New(&conf.Http, eng, conf.Runner.Dev)
	hb := heartbeat.NewSender(conf.Heartbeat, conf.Runner)

	app := &App{
		Conf:      conf,
		Router:    rt,
		Engine:    eng,
		Heartbeat: hb,
		Queue:     q,
	}

	cleanup := func() {
		if app.engineCancel != nil {
			app.engineCancel()
		}
		app.Heartbeat.Stop()
		if err := app.Queue.Close(); err != nil {
			log.Errorw("queue close error", "error", err)
		}
		log.Sync()
	}

	return app, cleanup, nil
}

// Run starts the engine, heartbeat and HTTP server, then blocks until an
// exit signal.
func Run(app *App, cleanup func()) {
	engineCtx, cancel := context.WithCancel(context.Background())
	app.engineCancel = cancel
	go app.Engine.Run(engineCtx)

	if err := app.Heartbeat.Start(); err != nil {
		log.Errorw("heartbeat not started", "error", err)
	}

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
	}

	cleanup()
	log.Info("shutdown complete")
}
