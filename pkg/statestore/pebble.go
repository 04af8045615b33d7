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
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/novatechflow/streamadmin/pkg/stream"
)

// PebbleConfig configures a local consumer state database.
type PebbleConfig struct {
	// Dir is the path to the Pebble database directory.
	Dir string
	// DisableSync skips the WAL fsync on commit. Saves are then no longer
	// durable across a machine crash; only use it for development.
	DisableSync bool
	// Options allows advanced tuning of Pebble. If nil, defaults are used.
	Options *pebble.Options
}

// PebbleFactory keeps the consumer states of every stream in one local
// Pebble database.
type PebbleFactory struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
}

// OpenPebbleFactory creates or opens the database in cfg.Dir.
func OpenPebbleFactory(cfg PebbleConfig) (*PebbleFactory, error) {
	if cfg.Dir == "" {
		return nil, errors.New("pebble: dir is required")
	}
	opts := cfg.Options
	if opts == nil {
		opts = &pebble.Options{}
	}
	db, err := pebble.Open(cfg.Dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", cfg.Dir, err)
	}
	writeOpts := pebble.Sync
	if cfg.DisableSync {
		writeOpts = pebble.NoSync
	}
	return &PebbleFactory{db: db, writeOpts: writeOpts}, nil
}

// Open implements Factory.
func (f *PebbleFactory) Open(ctx context.Context, cfg stream.Config) (Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &pebbleStore{factory: f, stream: cfg.Name}, nil
}

// Close closes the database. Stores opened from f stop working.
func (f *PebbleFactory) Close() error {
	return f.db.Close()
}

type pebbleStore struct {
	factory *PebbleFactory
	stream  string

	mu     sync.Mutex
	closed bool
}

func (s *pebbleStore) check(ctx context.Context) error {
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

func (s *pebbleStore) GetByGroup(ctx context.Context, groupID uint64) ([]stream.ConsumerState, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.scan(pebbleGroupPrefix(s.stream, groupID))
}

func (s *pebbleStore) GetAll(ctx context.Context) ([]stream.ConsumerState, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.scan(pebbleStreamPrefix(s.stream))
}

func (s *pebbleStore) scan(prefix []byte) (out []stream.ConsumerState, err error) {
	iter, err := s.factory.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("pebble iterator: %w", err)
	}
	defer func() {
		if cerr := iter.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close pebble iterator: %w", cerr)
		}
	}()

	streamPrefix := pebbleStreamPrefix(s.stream)
	out = make([]stream.ConsumerState, 0)
	for iter.First(); iter.Valid(); iter.Next() {
		key, err := parsePebbleStateKey(streamPrefix, iter.Key())
		if err != nil {
			return nil, err
		}
		state, err := decodeState(key, iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("pebble scan: %w", err)
	}
	return out, nil
}

func (s *pebbleStore) Save(ctx context.Context, states []stream.ConsumerState) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if len(states) == 0 {
		return nil
	}
	batch := s.factory.db.NewBatch()
	defer batch.Close()
	for _, state := range states {
		key, err := pebbleStateKey(s.stream, state.Key())
		if err != nil {
			return err
		}
		value := EncodeOffsets(stream.NormalizeOffsets(state.Offsets))
		if err := batch.Set(key, value, nil); err != nil {
			return fmt.Errorf("stage state %s: %w", state.Key(), err)
		}
	}
	if err := batch.Commit(s.factory.writeOpts); err != nil {
		return fmt.Errorf("commit consumer states of %s: %w", s.stream, err)
	}
	return nil
}

func (s *pebbleStore) Remove(ctx context.Context, states []stream.ConsumerState) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if len(states) == 0 {
		return nil
	}
	batch := s.factory.db.NewBatch()
	defer batch.Close()
	for _, state := range states {
		key, err := pebbleStateKey(s.stream, state.Key())
		if err != nil {
			return err
		}
		if err := batch.Delete(key, nil); err != nil {
			return fmt.Errorf("stage delete %s: %w", state.Key(), err)
		}
	}
	if err := batch.Commit(s.factory.writeOpts); err != nil {
		return fmt.Errorf("delete consumer states of %s: %w", s.stream, err)
	}
	return nil
}

func (s *pebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
