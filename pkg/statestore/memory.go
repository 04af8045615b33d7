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
	"sync"

	"github.com/novatechflow/streamadmin/pkg/stream"
)

// MemoryFactory keeps consumer states in process memory. Stores opened for the
// same stream share data, so states survive Close like a durable backend.
type MemoryFactory struct {
	mu      sync.Mutex
	streams map[string]map[stream.StateKey][]stream.FileOffset
}

// NewMemoryFactory returns an empty in-memory factory.
func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{
		streams: make(map[string]map[stream.StateKey][]stream.FileOffset),
	}
}

// Open implements Factory.
func (f *MemoryFactory) Open(ctx context.Context, cfg stream.Config) (Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memoryStore{factory: f, stream: cfg.Name}, nil
}

type memoryStore struct {
	factory *MemoryFactory
	stream  string

	mu     sync.Mutex
	closed bool
}

func (s *memoryStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *memoryStore) GetByGroup(ctx context.Context, groupID uint64) ([]stream.ConsumerState, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.collect(func(key stream.StateKey) bool { return key.GroupID == groupID }), nil
}

func (s *memoryStore) GetAll(ctx context.Context) ([]stream.ConsumerState, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.collect(func(stream.StateKey) bool { return true }), nil
}

func (s *memoryStore) collect(match func(stream.StateKey) bool) []stream.ConsumerState {
	f := s.factory
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stream.ConsumerState, 0)
	for key, offsets := range f.streams[s.stream] {
		if !match(key) {
			continue
		}
		out = append(out, stream.NewConsumerState(key.GroupID, key.InstanceID, offsets))
	}
	stream.SortStates(out)
	return out
}

func (s *memoryStore) Save(ctx context.Context, states []stream.ConsumerState) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	f := s.factory
	f.mu.Lock()
	defer f.mu.Unlock()
	records := f.streams[s.stream]
	if records == nil {
		records = make(map[stream.StateKey][]stream.FileOffset)
		f.streams[s.stream] = records
	}
	for _, state := range states {
		records[state.Key()] = stream.NormalizeOffsets(state.Offsets)
	}
	return nil
}

func (s *memoryStore) Remove(ctx context.Context, states []stream.ConsumerState) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	f := s.factory
	f.mu.Lock()
	defer f.mu.Unlock()
	records := f.streams[s.stream]
	for _, state := range states {
		delete(records, state.Key())
	}
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
