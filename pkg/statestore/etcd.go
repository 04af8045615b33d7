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
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/novatechflow/streamadmin/pkg/stream"
)

// etcd rejects transactions above --max-txn-ops (128 by default).
const etcdTxnChunk = 64

// EtcdConfig defines how we connect to etcd for consumer states.
type EtcdConfig struct {
	Endpoints      []string
	Username       string
	Password       string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	// Prefix is prepended to every key, e.g. "/streamadmin".
	Prefix string
}

// EtcdFactory opens stores that keep consumer states in etcd.
type EtcdFactory struct {
	client  *clientv3.Client
	prefix  string
	timeout time.Duration
}

// NewEtcdFactory connects to etcd.
func NewEtcdFactory(cfg EtcdConfig) (*EtcdFactory, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("etcd endpoints required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 3 * time.Second
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	return &EtcdFactory{
		client:  cli,
		prefix:  strings.TrimSuffix(cfg.Prefix, "/"),
		timeout: cfg.RequestTimeout,
	}, nil
}

// Open implements Factory.
func (f *EtcdFactory) Open(ctx context.Context, cfg stream.Config) (Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &etcdStore{
		client:  f.client,
		prefix:  f.prefix,
		stream:  cfg.Name,
		timeout: f.timeout,
	}, nil
}

// Close releases the etcd client. Stores opened from f stop working.
func (f *EtcdFactory) Close() error {
	return f.client.Close()
}

type etcdStore struct {
	client  *clientv3.Client
	prefix  string
	stream  string
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

func (s *etcdStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *etcdStore) GetByGroup(ctx context.Context, groupID uint64) ([]stream.ConsumerState, error) {
	return s.list(ctx, etcdGroupPrefix(s.prefix, s.stream, groupID))
}

func (s *etcdStore) GetAll(ctx context.Context) ([]stream.ConsumerState, error) {
	return s.list(ctx, etcdStreamPrefix(s.prefix, s.stream))
}

func (s *etcdStore) list(ctx context.Context, keyPrefix string) ([]stream.ConsumerState, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	resp, err := s.client.Get(ctx, keyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", keyPrefix, err)
	}
	streamPrefix := etcdStreamPrefix(s.prefix, s.stream)
	out := make([]stream.ConsumerState, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		key, err := parseEtcdStateKey(streamPrefix, string(kv.Key))
		if err != nil {
			return nil, err
		}
		state, err := decodeState(key, kv.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	stream.SortStates(out)
	return out, nil
}

func (s *etcdStore) Save(ctx context.Context, states []stream.ConsumerState) error {
	ops := make([]clientv3.Op, 0, len(states))
	for _, state := range states {
		key := etcdStateKey(s.prefix, s.stream, state.Key())
		ops = append(ops, clientv3.OpPut(key, string(EncodeOffsets(stream.NormalizeOffsets(state.Offsets)))))
	}
	return s.commit(ctx, "put", ops)
}

func (s *etcdStore) Remove(ctx context.Context, states []stream.ConsumerState) error {
	ops := make([]clientv3.Op, 0, len(states))
	for _, state := range states {
		ops = append(ops, clientv3.OpDelete(etcdStateKey(s.prefix, s.stream, state.Key())))
	}
	return s.commit(ctx, "delete", ops)
}

func (s *etcdStore) commit(ctx context.Context, op string, ops []clientv3.Op) error {
	if s.isClosed() {
		return ErrClosed
	}
	for start := 0; start < len(ops); start += etcdTxnChunk {
		end := min(start+etcdTxnChunk, len(ops))
		txnCtx, cancel := context.WithTimeout(ctx, s.timeout)
		_, err := s.client.Txn(txnCtx).Then(ops[start:end]...).Commit()
		cancel()
		if err != nil {
			return fmt.Errorf("%s consumer states of %s: %w", op, s.stream, err)
		}
	}
	return nil
}

func (s *etcdStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
