// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/novatechflow/streamadmin/pkg/location"
)

// healthService is the gRPC health service name reported next to the
// server-wide "" entry.
const healthService = "streamadmin.StreamAdmin"

const healthRefreshInterval = time.Second

var storageHealth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "streamadmin",
	Name:      "storage_health_state",
	Help:      "Stream storage health; 1 for the current state, 0 otherwise.",
}, []string{"state"})

var storageLatency = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "streamadmin",
	Name:      "storage_latency_avg_seconds",
	Help:      "Average stream storage call latency over the health window.",
})

var storageErrorRate = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "streamadmin",
	Name:      "storage_error_rate",
	Help:      "Fraction of failed stream storage calls over the health window.",
})

func init() {
	prometheus.MustRegister(storageHealth, storageLatency, storageErrorRate)
}

var healthStates = []location.HealthState{
	location.StateHealthy,
	location.StateDegraded,
	location.StateUnavailable,
}

// servingStatus maps storage health onto the gRPC health protocol. Degraded
// storage still serves.
func servingStatus(state location.HealthState) healthpb.HealthCheckResponse_ServingStatus {
	if state == location.StateUnavailable {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

func ready(state location.HealthState) bool {
	return state != location.StateUnavailable
}

func publishHealth(snap location.HealthSnapshot) {
	for _, state := range healthStates {
		val := 0.0
		if state == snap.State {
			val = 1
		}
		storageHealth.WithLabelValues(string(state)).Set(val)
	}
	storageLatency.Set(snap.AvgLatency.Seconds())
	storageErrorRate.Set(snap.ErrorRate)
}

type servers struct {
	httpAddr net.Addr
	grpcAddr net.Addr
	wg       sync.WaitGroup
}

// startServers binds the metrics and gRPC listeners and serves until ctx is
// done.
func startServers(ctx context.Context, rt *runtime) (*servers, error) {
	httpLis, err := net.Listen("tcp", rt.cfg.Server.MetricsAddr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", rt.cfg.Server.MetricsAddr, err)
	}
	grpcLis, err := net.Listen("tcp", rt.cfg.Server.GRPCAddr)
	if err != nil {
		_ = httpLis.Close()
		return nil, fmt.Errorf("grpc listen %s: %w", rt.cfg.Server.GRPCAddr, err)
	}
	s := &servers{httpAddr: httpLis.Addr(), grpcAddr: grpcLis.Addr()}

	healthSrv := health.NewServer()
	refresh := func() location.HealthState {
		snap := rt.monitor.Snapshot()
		publishHealth(snap)
		status := servingStatus(snap.State)
		healthSrv.SetServingStatus("", status)
		healthSrv.SetServingStatus(healthService, status)
		return snap.State
	}
	refresh()

	metrics := promhttp.Handler()
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		refresh()
		metrics.ServeHTTP(w, r)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "ok state=%s\n", rt.monitor.State())
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		state := refresh()
		if !ready(state) {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "not ready state=%s\n", state)
			return
		}
		fmt.Fprintf(w, "ready state=%s\n", state)
	})
	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)

	s.wg.Add(4)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(healthRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refresh()
			}
		}
	}()
	go func() {
		defer s.wg.Done()
		<-ctx.Done()
		healthSrv.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		done := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(shutdownTimeout):
			grpcSrv.Stop()
		}
	}()
	go func() {
		defer s.wg.Done()
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("metrics server error", "error", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		if err := grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			rt.logger.Error("grpc server error", "error", err)
		}
	}()
	return s, nil
}

// Wait blocks until every server goroutine has returned.
func (s *servers) Wait() {
	s.wg.Wait()
}

func serve(ctx context.Context, rt *runtime) error {
	srv, err := startServers(ctx, rt)
	if err != nil {
		return err
	}
	rt.logger.Info("streamadmin serving", "metrics_addr", srv.httpAddr.String(), "grpc_addr", srv.grpcAddr.String())
	<-ctx.Done()
	srv.Wait()
	rt.logger.Info("streamadmin stopped")
	return nil
}
