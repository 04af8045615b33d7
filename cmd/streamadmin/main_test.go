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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/novatechflow/streamadmin/internal/config"
	"github.com/novatechflow/streamadmin/pkg/location"
)

func TestParseProperties(t *testing.T) {
	props, err := parseProperties([]string{"stream.partition.duration=60000", " stream.index.interval = 500 "})
	if err != nil {
		t.Fatalf("parseProperties: %v", err)
	}
	if props["stream.partition.duration"] != "60000" || props["stream.index.interval"] != "500" {
		t.Fatalf("unexpected properties: %v", props)
	}
	for _, bad := range []string{"novalue", "=1"} {
		if _, err := parseProperties([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseGroupInfo(t *testing.T) {
	info, err := parseGroupInfo([]string{"1=3", "7=1"})
	if err != nil {
		t.Fatalf("parseGroupInfo: %v", err)
	}
	if len(info) != 2 || info[1] != 3 || info[7] != 1 {
		t.Fatalf("unexpected group info: %v", info)
	}
	for _, bad := range [][]string{{"1"}, {"x=1"}, {"1=y"}, {"1=2", "1=3"}} {
		if _, err := parseGroupInfo(bad); err == nil {
			t.Fatalf("expected error for %v", bad)
		}
	}
}

func TestServingStatus(t *testing.T) {
	cases := map[location.HealthState]healthpb.HealthCheckResponse_ServingStatus{
		location.StateHealthy:     healthpb.HealthCheckResponse_SERVING,
		location.StateDegraded:    healthpb.HealthCheckResponse_SERVING,
		location.StateUnavailable: healthpb.HealthCheckResponse_NOT_SERVING,
	}
	for state, want := range cases {
		if got := servingStatus(state); got != want {
			t.Fatalf("%s: expected %s got %s", state, want, got)
		}
		if ready(state) != (want == healthpb.HealthCheckResponse_SERVING) {
			t.Fatalf("%s: readiness mismatch", state)
		}
	}
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("warn", &buf)
	logger.Info("hidden")
	logger.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("unexpected log output: %s", out)
	}
	if !strings.Contains(out, `"component":"streamadmin"`) {
		t.Fatalf("expected component attribute: %s", out)
	}
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "streamadmin.yaml")
	body := fmt.Sprintf(`base_dir: streams
log_level: error
storage:
  backend: local
  root: %s
state:
  backend: pebble
  pebble:
    dir: %s
    disable_sync: true
`, filepath.Join(dir, "data"), filepath.Join(dir, "state"))
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(io.Discard)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLIEndToEnd(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := runCLI(t, "--config", cfgPath, "exists", "orders")
	if err != nil || strings.TrimSpace(out) != "false" {
		t.Fatalf("exists before create: %q %v", out, err)
	}

	out, err = runCLI(t, "--config", cfgPath, "create", "orders", "-p", "stream.partition.duration=60000")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var created streamOutput
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("decode create output: %v\n%s", err, out)
	}
	if created.Name != "orders" || created.PartitionDurationMS != 60000 || created.IndexIntervalMS != 10000 {
		t.Fatalf("unexpected created config: %+v", created)
	}

	out, err = runCLI(t, "--config", cfgPath, "describe", "orders")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	var described streamOutput
	if err := json.Unmarshal([]byte(out), &described); err != nil {
		t.Fatalf("decode describe output: %v", err)
	}
	if described != created {
		t.Fatalf("describe mismatch: %+v vs %+v", described, created)
	}

	out, err = runCLI(t, "--config", cfgPath, "configure-instances", "orders", "--group", "1", "--instances", "2")
	if err != nil {
		t.Fatalf("configure-instances: %v", err)
	}
	var resized reconfigurationOutput
	if err := json.Unmarshal([]byte(out), &resized); err != nil {
		t.Fatalf("decode reconfiguration: %v", err)
	}
	if len(resized.Saved) != 2 || len(resized.Removed) != 0 {
		t.Fatalf("unexpected resize result: %+v", resized)
	}

	// State persisted in pebble survives the process boundary.
	out, err = runCLI(t, "--config", cfgPath, "configure-groups", "orders", "-g", "2=1")
	if err != nil {
		t.Fatalf("configure-groups: %v", err)
	}
	var regrouped reconfigurationOutput
	if err := json.Unmarshal([]byte(out), &regrouped); err != nil {
		t.Fatalf("decode reconfiguration: %v", err)
	}
	if len(regrouped.Saved) != 1 || regrouped.Saved[0].Group != 2 {
		t.Fatalf("unexpected saved states: %+v", regrouped.Saved)
	}
	if len(regrouped.Removed) != 2 || len(regrouped.DiscardedGroups) != 1 || regrouped.DiscardedGroups[0] != 1 {
		t.Fatalf("expected group 1 discarded: %+v", regrouped)
	}

	if _, err := runCLI(t, "--config", cfgPath, "describe", "missing"); err == nil {
		t.Fatalf("expected describe of missing stream to fail")
	}
	if _, err := runCLI(t, "--config", cfgPath, "configure-groups", "orders"); err == nil {
		t.Fatalf("expected empty group set to fail")
	}
	if _, err := runCLI(t, "--config", cfgPath, "drop", "orders"); err != nil {
		t.Fatalf("drop: %v", err)
	}
}

func TestServeHealthEndpoints(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	cfg.Storage.Backend = "memory"
	cfg.State.Backend = "memory"
	cfg.Server.MetricsAddr = "127.0.0.1:0"
	cfg.Server.GRPCAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt, err := buildRuntime(ctx, cfg, newLogger("error", io.Discard))
	if err != nil {
		t.Fatalf("buildRuntime: %v", err)
	}
	defer rt.Close()
	if _, err := rt.admin.Create(ctx, "orders", nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	srv, err := startServers(ctx, rt)
	if err != nil {
		t.Fatalf("startServers: %v", err)
	}
	base := "http://" + srv.httpAddr.String()
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(base + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "state=healthy") {
		t.Fatalf("unexpected readyz: %d %s", resp.StatusCode, body)
	}

	resp, err = client.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, name := range []string{
		`streamadmin_storage_health_state{state="healthy"} 1`,
		"streamadmin_streams_created_total",
	} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("metrics missing %s", name)
		}
	}

	conn, err := grpc.NewClient(srv.grpcAddr.String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc dial: %v", err)
	}
	defer conn.Close()
	checkCtx, checkCancel := context.WithTimeout(ctx, 2*time.Second)
	defer checkCancel()
	health, err := healthpb.NewHealthClient(conn).Check(checkCtx, &healthpb.HealthCheckRequest{Service: healthService})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if health.Status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %s", health.Status)
	}

	cancel()
	srv.Wait()
}
