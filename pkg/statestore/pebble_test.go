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

package statestore

import (
	"context"
	"testing"

	"github.com/novatechflow/streamadmin/pkg/stream"
)

func TestPebbleStore(t *testing.T) {
	factory, err := OpenPebbleFactory(PebbleConfig{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("OpenPebbleFactory: %v", err)
	}
	defer factory.Close()
	exerciseStore(t, factory)
}

func TestPebbleStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	cfg := stream.Config{Name: "orders"}

	factory, err := OpenPebbleFactory(PebbleConfig{Dir: dir})
	if err != nil {
		t.Fatalf("OpenPebbleFactory: %v", err)
	}
	store, _ := factory.Open(ctx, cfg)
	if err := store.Save(ctx, []stream.ConsumerState{
		stream.NewConsumerState(1<<40, 3, []stream.FileOffset{{FileID: "f", Offset: 1 << 50}}),
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_ = store.Close()
	if err := factory.Close(); err != nil {
		t.Fatalf("Close factory: %v", err)
	}

	factory, err = OpenPebbleFactory(PebbleConfig{Dir: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer factory.Close()
	store, _ = factory.Open(ctx, cfg)
	defer store.Close()
	states, err := store.GetByGroup(ctx, 1<<40)
	if err != nil {
		t.Fatalf("GetByGroup: %v", err)
	}
	if len(states) != 1 || states[0].InstanceID != 3 {
		t.Fatalf("unexpected states %v", states)
	}
	if off, ok := states[0].Offset("f"); !ok || off != 1<<50 {
		t.Fatalf("unexpected offset %d (%v)", off, ok)
	}
}

func TestOpenPebbleFactoryRequiresDir(t *testing.T) {
	if _, err := OpenPebbleFactory(PebbleConfig{}); err == nil {
		t.Fatalf("expected error without dir")
	}
}
