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

package location

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"sync"
	"time"
)

// HealthState summarizes recent storage behaviour.
type HealthState string

const (
	StateHealthy     HealthState = "healthy"
	StateDegraded    HealthState = "degraded"
	StateUnavailable HealthState = "unavailable"
)

// MonitorConfig holds the window and the degraded/unavailable thresholds.
// Zero fields take defaults.
type MonitorConfig struct {
	Window      time.Duration
	LatencyWarn time.Duration
	LatencyCrit time.Duration
	ErrorWarn   float64
	ErrorCrit   float64
}

// Monitor aggregates storage calls into one-second buckets and derives a
// HealthState from the buckets inside the window.
type Monitor struct {
	cfg MonitorConfig
	now func() time.Time

	mu      sync.Mutex
	buckets map[int64]*callBucket
}

type callBucket struct {
	calls   int64
	errors  int64
	latency time.Duration
}

// HealthSnapshot is the window aggregate at one point in time.
type HealthSnapshot struct {
	State      HealthState
	AvgLatency time.Duration
	ErrorRate  float64
	Calls      int64
}

func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.LatencyWarn <= 0 {
		cfg.LatencyWarn = 500 * time.Millisecond
	}
	if cfg.LatencyCrit <= 0 {
		cfg.LatencyCrit = 3 * time.Second
	}
	if cfg.ErrorWarn <= 0 {
		cfg.ErrorWarn = 0.2
	}
	if cfg.ErrorCrit <= 0 {
		cfg.ErrorCrit = 0.6
	}
	return &Monitor{
		cfg:     cfg,
		now:     time.Now,
		buckets: make(map[int64]*callBucket),
	}
}

// Record adds one storage call.
func (m *Monitor) Record(latency time.Duration, err error) {
	sec := m.now().Unix()
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.buckets[sec]
	if b == nil {
		b = &callBucket{}
		m.buckets[sec] = b
	}
	b.calls++
	b.latency += latency
	if err != nil {
		b.errors++
	}
	m.pruneLocked(sec)
}

// Snapshot aggregates the calls inside the window. An idle window is healthy.
func (m *Monitor) Snapshot() HealthSnapshot {
	sec := m.now().Unix()
	m.mu.Lock()
	m.pruneLocked(sec)
	var total callBucket
	for _, b := range m.buckets {
		total.calls += b.calls
		total.errors += b.errors
		total.latency += b.latency
	}
	m.mu.Unlock()

	snap := HealthSnapshot{State: StateHealthy, Calls: total.calls}
	if total.calls == 0 {
		return snap
	}
	snap.AvgLatency = total.latency / time.Duration(total.calls)
	snap.ErrorRate = float64(total.errors) / float64(total.calls)
	switch {
	case snap.AvgLatency >= m.cfg.LatencyCrit || snap.ErrorRate >= m.cfg.ErrorCrit:
		snap.State = StateUnavailable
	case snap.AvgLatency >= m.cfg.LatencyWarn || snap.ErrorRate >= m.cfg.ErrorWarn:
		snap.State = StateDegraded
	}
	return snap
}

func (m *Monitor) State() HealthState {
	return m.Snapshot().State
}

func (m *Monitor) pruneLocked(now int64) {
	oldest := now - int64(m.cfg.Window/time.Second)
	for sec := range m.buckets {
		if sec <= oldest {
			delete(m.buckets, sec)
		}
	}
}

// Instrument wraps fsys so every call is recorded in m. Missing paths are
// an expected answer, not a failure, and count as successful calls.
func Instrument(fsys FileSystem, m *Monitor) FileSystem {
	if m == nil {
		return fsys
	}
	return &instrumented{next: fsys, monitor: m}
}

type instrumented struct {
	next    FileSystem
	monitor *Monitor
}

// observe returns a func that records the call started now.
func (i *instrumented) observe() func(error) {
	start := time.Now()
	return func(err error) {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, context.Canceled) {
			err = nil
		}
		i.monitor.Record(time.Since(start), err)
	}
}

func (i *instrumented) MkdirAll(ctx context.Context, name string) error {
	done := i.observe()
	err := i.next.MkdirAll(ctx, name)
	done(err)
	return err
}

func (i *instrumented) IsDir(ctx context.Context, name string) (bool, error) {
	done := i.observe()
	ok, err := i.next.IsDir(ctx, name)
	done(err)
	return ok, err
}

func (i *instrumented) Exists(ctx context.Context, name string) (bool, error) {
	done := i.observe()
	ok, err := i.next.Exists(ctx, name)
	done(err)
	return ok, err
}

func (i *instrumented) CreateNew(ctx context.Context, name string) (bool, error) {
	done := i.observe()
	ok, err := i.next.CreateNew(ctx, name)
	done(err)
	return ok, err
}

func (i *instrumented) Rename(ctx context.Context, from, to string) error {
	done := i.observe()
	err := i.next.Rename(ctx, from, to)
	done(err)
	return err
}

func (i *instrumented) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	done := i.observe()
	rc, err := i.next.Open(ctx, name)
	done(err)
	return rc, err
}

// Create is recorded when the writer closes, where buffered backends do
// their I/O.
func (i *instrumented) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	done := i.observe()
	wc, err := i.next.Create(ctx, name)
	if err != nil {
		done(err)
		return nil, err
	}
	return &instrumentedWriter{WriteCloser: wc, done: done}, nil
}

func (i *instrumented) Remove(ctx context.Context, name string) error {
	done := i.observe()
	err := i.next.Remove(ctx, name)
	done(err)
	return err
}

type instrumentedWriter struct {
	io.WriteCloser
	done func(error)
}

func (w *instrumentedWriter) Close() error {
	err := w.WriteCloser.Close()
	w.done(err)
	return err
}
