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

package admin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/novatechflow/streamadmin/pkg/stream"
)

func seedStates(t *testing.T, env *testEnv, name string, states ...stream.ConsumerState) {
	t.Helper()
	ctx := context.Background()
	cfg, err := env.admin.Config(ctx, name)
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	store, err := env.states.Factory.Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()
	if err := store.Save(ctx, states); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func loadGroup(t *testing.T, env *testEnv, name string, groupID uint64) []stream.ConsumerState {
	t.Helper()
	ctx := context.Background()
	store, err := env.states.Factory.Open(ctx, stream.Config{Name: name})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()
	states, err := store.GetByGroup(ctx, groupID)
	if err != nil {
		t.Fatalf("GetByGroup: %v", err)
	}
	return states
}

func newStreamWithGroup(t *testing.T) *testEnv {
	t.Helper()
	env := newTestEnv(t)
	if _, err := env.admin.Create(context.Background(), "orders", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	seedStates(t, env, "orders",
		stream.NewConsumerState(9, 0, []stream.FileOffset{{FileID: "fileA", Offset: 100}}),
		stream.NewConsumerState(9, 1, []stream.FileOffset{{FileID: "fileA", Offset: 150}, {FileID: "fileB", Offset: 20}}),
	)
	return env
}

var mergedSnapshot = []stream.FileOffset{{FileID: "fileA", Offset: 100}, {FileID: "fileB", Offset: 20}}

func assertGroup(t *testing.T, states []stream.ConsumerState, instances int, offsets []stream.FileOffset) {
	t.Helper()
	if len(states) != instances {
		t.Fatalf("expected %d states got %v", instances, states)
	}
	for i, state := range states {
		if state.InstanceID != i {
			t.Fatalf("instance ids not contiguous: %v", states)
		}
		if !reflect.DeepEqual(state.Offsets, offsets) {
			t.Fatalf("instance %d offsets %v want %v", i, state.Offsets, offsets)
		}
	}
}

func TestConfigureInstancesGrow(t *testing.T) {
	env := newStreamWithGroup(t)
	result, err := env.admin.ConfigureInstances(context.Background(), "orders", 9, 3)
	if err != nil {
		t.Fatalf("ConfigureInstances: %v", err)
	}
	assertGroup(t, result.Saved, 3, mergedSnapshot)
	if len(result.Removed) != 0 || len(result.DiscardedGroups) != 0 {
		t.Fatalf("growing must not remove states: %+v", result)
	}
	assertGroup(t, loadGroup(t, env, "orders", 9), 3, mergedSnapshot)
	if opened, closed := env.states.counts(); opened != 1 || closed != 1 {
		t.Fatalf("expected store opened and closed once got %d/%d", opened, closed)
	}
}

func TestConfigureInstancesShrink(t *testing.T) {
	env := newStreamWithGroup(t)
	removedBefore := testutil.ToFloat64(statesRemoved.WithLabelValues(opConfigureInstances))

	result, err := env.admin.ConfigureInstances(context.Background(), "orders", 9, 1)
	if err != nil {
		t.Fatalf("ConfigureInstances: %v", err)
	}
	assertGroup(t, result.Saved, 1, mergedSnapshot)
	if len(result.Removed) != 1 || result.Removed[0].InstanceID != 1 {
		t.Fatalf("expected instance 1 removed got %v", result.Removed)
	}
	assertGroup(t, loadGroup(t, env, "orders", 9), 1, mergedSnapshot)
	if delta := testutil.ToFloat64(statesRemoved.WithLabelValues(opConfigureInstances)) - removedBefore; delta != 1 {
		t.Fatalf("expected one removed state recorded got %v", delta)
	}
}

func TestConfigureInstancesSameSizeKeepsSkew(t *testing.T) {
	env := newStreamWithGroup(t)
	result, err := env.admin.ConfigureInstances(context.Background(), "orders", 9, 2)
	if err != nil {
		t.Fatalf("ConfigureInstances: %v", err)
	}
	if result.Changed() {
		t.Fatalf("expected no change got %+v", result)
	}
	states := loadGroup(t, env, "orders", 9)
	if off, _ := states[1].Offset("fileA"); off != 150 {
		t.Fatalf("same-size configuration must not rewrite offsets, fileA at %d", off)
	}
}

func TestConfigureInstancesNewGroup(t *testing.T) {
	env := newStreamWithGroup(t)
	if _, err := env.admin.ConfigureInstances(context.Background(), "orders", 4, 2); err != nil {
		t.Fatalf("ConfigureInstances: %v", err)
	}
	assertGroup(t, loadGroup(t, env, "orders", 4), 2, nil)
	assertGroup(t, loadGroup(t, env, "orders", 9)[:1], 1, []stream.FileOffset{{FileID: "fileA", Offset: 100}})
}

func TestConfigureInstancesValidation(t *testing.T) {
	env := newStreamWithGroup(t)
	ctx := context.Background()
	before := testutil.ToFloat64(reconfigureTotal.WithLabelValues(opConfigureInstances, "error"))

	tooMany := stream.MaxInstances
	tooMany++
	for _, n := range []int{0, -1, tooMany} {
		if _, err := env.admin.ConfigureInstances(ctx, "orders", 9, n); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument for %d instances got %v", n, err)
		}
	}
	if _, err := env.admin.ConfigureInstances(ctx, "bad/name", 9, 1); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for bad name got %v", err)
	}
	if _, err := env.admin.ConfigureInstances(ctx, "missing", 9, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
	if opened, _ := env.states.counts(); opened != 0 {
		t.Fatalf("rejected requests must not open the store, opened %d", opened)
	}
	assertGroup(t, loadGroup(t, env, "orders", 9)[:1], 1, []stream.FileOffset{{FileID: "fileA", Offset: 100}})
	if delta := testutil.ToFloat64(reconfigureTotal.WithLabelValues(opConfigureInstances, "error")) - before; delta != 5 {
		t.Fatalf("expected 5 failed reconfigurations recorded got %v", delta)
	}
}

func TestConfigureInstancesClosesStoreOnFailure(t *testing.T) {
	cases := map[string]func(*countingFactory, error){
		"load":   func(f *countingFactory, err error) { f.loadErr = err },
		"save":   func(f *countingFactory, err error) { f.saveErr = err },
		"remove": func(f *countingFactory, err error) { f.removeErr = err },
	}
	for name, inject := range cases {
		t.Run(name, func(t *testing.T) {
			env := newStreamWithGroup(t)
			boom := fmt.Errorf("%s failed", name)
			inject(env.states, boom)

			_, err := env.admin.ConfigureInstances(context.Background(), "orders", 9, 1)
			if !errors.Is(err, boom) {
				t.Fatalf("expected %v got %v", boom, err)
			}
			var storageErr *StorageError
			if !errors.As(err, &storageErr) || storageErr.Stream != "orders" || !reflect.DeepEqual(storageErr.Groups, []uint64{9}) {
				t.Fatalf("expected StorageError with context got %#v", err)
			}
			if opened, closed := env.states.counts(); opened != 1 || closed != 1 {
				t.Fatalf("store must be closed on failure, opened %d closed %d", opened, closed)
			}
		})
	}
}

func TestConfigureInstancesRetryAfterPartialFailure(t *testing.T) {
	env := newStreamWithGroup(t)
	env.states.removeErr = errors.New("etcd unavailable")
	if _, err := env.admin.ConfigureInstances(context.Background(), "orders", 9, 1); err == nil {
		t.Fatalf("expected remove failure")
	}
	// Save went through for instance 0; instance 1 is still in place.
	states := loadGroup(t, env, "orders", 9)
	if len(states) != 2 || !reflect.DeepEqual(states[0].Offsets, mergedSnapshot) {
		t.Fatalf("unexpected states after partial failure: %v", states)
	}
	if off, _ := states[1].Offset("fileA"); off != 150 {
		t.Fatalf("instance 1 should keep its offsets until removed, fileA at %d", off)
	}

	env.states.removeErr = nil
	result, err := env.admin.ConfigureInstances(context.Background(), "orders", 9, 1)
	if err != nil {
		t.Fatalf("retry ConfigureInstances: %v", err)
	}
	if len(result.Removed) != 1 {
		t.Fatalf("retry should remove instance 1 got %v", result.Removed)
	}
	assertGroup(t, loadGroup(t, env, "orders", 9), 1, mergedSnapshot)
}

func TestConfigureGroupsDiscardsMissingGroups(t *testing.T) {
	env := newStreamWithGroup(t)
	ctx := context.Background()
	seedStates(t, env, "orders", stream.NewConsumerState(2, 0, []stream.FileOffset{{FileID: "fileC", Offset: 5}}))
	discardedBefore := testutil.ToFloat64(groupsDiscarded)

	result, err := env.admin.ConfigureGroups(ctx, "orders", map[uint64]int{9: 2, 3: 2})
	if err != nil {
		t.Fatalf("ConfigureGroups: %v", err)
	}
	if !reflect.DeepEqual(result.DiscardedGroups, []uint64{2}) {
		t.Fatalf("expected group 2 discarded got %v", result.DiscardedGroups)
	}
	if len(result.Removed) != 1 || result.Removed[0].GroupID != 2 {
		t.Fatalf("expected only group 2 state removed got %v", result.Removed)
	}
	if got := loadGroup(t, env, "orders", 2); len(got) != 0 {
		t.Fatalf("discarded group still has states: %v", got)
	}
	assertGroup(t, loadGroup(t, env, "orders", 3), 2, nil)
	if states := loadGroup(t, env, "orders", 9); len(states) != 2 {
		t.Fatalf("unchanged group 9 lost states: %v", states)
	} else if off, _ := states[1].Offset("fileA"); off != 150 {
		t.Fatalf("group 9 kept its size and must not be rewritten, fileA at %d", off)
	}
	if delta := testutil.ToFloat64(groupsDiscarded) - discardedBefore; delta != 1 {
		t.Fatalf("expected one discarded group recorded got %v", delta)
	}
	if !bytes.Contains(env.logs.Bytes(), []byte("discarding consumer groups missing from configuration")) {
		t.Fatalf("expected discard warning in logs: %s", env.logs.String())
	}
	if opened, closed := env.states.counts(); opened != 1 || closed != 1 {
		t.Fatalf("expected store opened and closed once got %d/%d", opened, closed)
	}
}

func TestConfigureGroupsResizesEachGroup(t *testing.T) {
	env := newStreamWithGroup(t)
	result, err := env.admin.ConfigureGroups(context.Background(), "orders", map[uint64]int{9: 3})
	if err != nil {
		t.Fatalf("ConfigureGroups: %v", err)
	}
	if len(result.DiscardedGroups) != 0 {
		t.Fatalf("nothing should be discarded got %v", result.DiscardedGroups)
	}
	assertGroup(t, result.Saved, 3, mergedSnapshot)
	assertGroup(t, loadGroup(t, env, "orders", 9), 3, mergedSnapshot)
}

func TestConfigureGroupsValidation(t *testing.T) {
	env := newStreamWithGroup(t)
	ctx := context.Background()
	if _, err := env.admin.ConfigureGroups(ctx, "orders", nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty map got %v", err)
	}
	if _, err := env.admin.ConfigureGroups(ctx, "orders", map[uint64]int{9: 0}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for zero instances got %v", err)
	}
	tooMany := stream.MaxInstances
	tooMany++
	if _, err := env.admin.ConfigureGroups(ctx, "orders", map[uint64]int{9: 1, 10: tooMany}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for oversized group got %v", err)
	}
	if _, err := env.admin.ConfigureGroups(ctx, "missing", map[uint64]int{9: 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
	if opened, _ := env.states.counts(); opened != 0 {
		t.Fatalf("rejected requests must not open the store, opened %d", opened)
	}
	if states := loadGroup(t, env, "orders", 9); len(states) != 2 {
		t.Fatalf("rejected requests must not touch states: %v", states)
	}
}

func TestConfigureGroupsClosesStoreOnFailure(t *testing.T) {
	env := newStreamWithGroup(t)
	boom := errors.New("remove failed")
	env.states.removeErr = boom
	_, err := env.admin.ConfigureGroups(context.Background(), "orders", map[uint64]int{4: 1})
	if !errors.Is(err, boom) {
		t.Fatalf("expected %v got %v", boom, err)
	}
	var storageErr *StorageError
	if !errors.As(err, &storageErr) || storageErr.Op != "remove states" {
		t.Fatalf("expected remove StorageError got %v", err)
	}
	if opened, closed := env.states.counts(); opened != 1 || closed != 1 {
		t.Fatalf("store must be closed on failure, opened %d closed %d", opened, closed)
	}
}

func TestConcurrentReconfigurationsKeepGroupContiguous(t *testing.T) {
	env := newStreamWithGroup(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := env.admin.ConfigureInstances(ctx, "orders", 9, n); err != nil {
				errs <- err
			}
		}(1 + i%5)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("ConfigureInstances: %v", err)
	}

	states := loadGroup(t, env, "orders", 9)
	if len(states) == 0 {
		t.Fatalf("group lost all states")
	}
	assertGroup(t, states, len(states), mergedSnapshot)
}
