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

// Package metrics exposes prometheus counters for the orchestration pipeline
// on a standalone HTTP listener.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cloudo-ops/cloudo/pkg/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Conf defines the metrics listener settings.
type Conf struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// SetDefaults fills unset fields with defaults.
func (c *Conf) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 9090
	}
}

var (
	// DispatchTotal counts dispatch attempts per capability.
	DispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudo_dispatch_total",
			Help: "Job dispatch attempts by capability and result",
		},
		[]string{"capability", "result"},
	)

	// ExecutionsTotal counts execution outcomes reported by workers.
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudo_executions_total",
			Help: "Runbook executions by final status",
		},
		[]string{"status"},
	)

	// EscalationsTotal counts escalation actions by type.
	EscalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudo_escalations_total",
			Help: "Escalation actions by type and result",
		},
		[]string{"type", "result"},
	)

	// ApprovalsTotal counts approval gate decisions.
	ApprovalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudo_approvals_total",
			Help: "Approval gate decisions",
		},
		[]string{"decision"},
	)
)

// Server serves the prometheus registry over HTTP.
type Server struct {
	conf     Conf
	registry *prometheus.Registry
	srv      *http.Server
}

// NewServer builds a registry with the pipeline counters plus go/process
// collectors registered.
func NewServer(conf Conf) *Server {
	conf.SetDefaults()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		DispatchTotal,
		ExecutionsTotal,
		EscalationsTotal,
		ApprovalsTotal,
	)
	return &Server{conf: conf, registry: registry}
}

// Registry returns the underlying registry for extra collectors.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Start begins serving /metrics. No-op when disabled.
func (s *Server) Start() {
	if !s.conf.Enabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.conf.Host, s.conf.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infow("metrics server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("metrics server exited", "error", err)
		}
	}()
}

// Stop shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
