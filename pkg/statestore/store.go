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

// Package statestore persists consumer states per stream. A Store is scoped to
// one stream and must be closed when the caller is done with it.
package statestore

import (
	"context"
	"errors"

	"github.com/novatechflow/streamadmin/pkg/stream"
)

// ErrClosed is returned by every Store method after Close.
var ErrClosed = errors.New("state store closed")

// Store is the keyed consumer state store of one stream. States are identified
// by (GroupID, InstanceID). Reads return states ordered by key.
type Store interface {
	// GetByGroup returns the live states of a group, empty when the group was
	// never configured.
	GetByGroup(ctx context.Context, groupID uint64) ([]stream.ConsumerState, error)
	// GetAll returns every live state of the stream.
	GetAll(ctx context.Context) ([]stream.ConsumerState, error)
	// Save upserts states by key. Each upsert is durable when Save returns;
	// the set as a whole is not applied atomically.
	Save(ctx context.Context, states []stream.ConsumerState) error
	// Remove deletes states by key. Missing keys are ignored.
	Remove(ctx context.Context, states []stream.ConsumerState) error
	// Close releases the store.
	Close() error
}

// Factory opens stores scoped to a stream.
type Factory interface {
	Open(ctx context.Context, cfg stream.Config) (Store, error)
}
