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

// Package admin manages stream descriptors and consumer group configuration.
//
// A stream lives in a directory under the base location and is described by
// a config.json document written once at create time. Consumer read positions
// are kept in a statestore.Store; changing the size or the set of consumer
// groups rewrites them through the rebalance package.
package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/google/uuid"

	"github.com/novatechflow/streamadmin/pkg/cache"
	"github.com/novatechflow/streamadmin/pkg/location"
	"github.com/novatechflow/streamadmin/pkg/statestore"
	"github.com/novatechflow/streamadmin/pkg/stream"
)

const defaultCacheSize = 1024

// Options configures an Admin.
type Options struct {
	// BaseDir is the directory holding one subdirectory per stream.
	BaseDir string
	// Defaults apply to properties that are not given at create time.
	Defaults   stream.Defaults
	FileSystem location.FileSystem
	States     statestore.Factory
	Logger     *slog.Logger
	// CacheSize bounds the number of cached descriptors.
	CacheSize int
}

// Admin is the control plane entry point for streams.
type Admin struct {
	baseDir  string
	defaults stream.Defaults
	fs       location.FileSystem
	states   statestore.Factory
	logger   *slog.Logger
	configs  *cache.ConfigCache
	locks    *streamLocker
}

// New validates opts and builds an Admin.
func New(opts Options) (*Admin, error) {
	if opts.FileSystem == nil {
		return nil, errors.New("admin: file system required")
	}
	if opts.States == nil {
		return nil, errors.New("admin: state store factory required")
	}
	if opts.Defaults.PartitionDuration <= 0 || opts.Defaults.IndexInterval <= 0 {
		opts.Defaults = stream.DefaultDefaults
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Admin{
		baseDir:  location.Clean(opts.BaseDir),
		defaults: opts.Defaults,
		fs:       opts.FileSystem,
		states:   opts.States,
		logger:   logger,
		configs:  cache.NewConfigCache(opts.CacheSize),
		locks:    newStreamLocker(),
	}, nil
}

func (a *Admin) streamDir(name string) string {
	return location.Join(a.baseDir, name)
}

func (a *Admin) descriptorPath(name string) string {
	return location.Join(a.baseDir, name, stream.DescriptorFile)
}

// Create creates a stream unless its descriptor already exists, in which case
// the stored config is returned unchanged. Durations come from props, falling
// back to the configured defaults.
func (a *Admin) Create(ctx context.Context, name string, props map[string]string) (stream.Config, error) {
	if err := stream.ValidateName(name); err != nil {
		return stream.Config{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	dir := a.streamDir(name)
	cfg, err := stream.ConfigFromProperties(name, dir, props, a.defaults)
	if err != nil {
		// Properties only matter for a new stream; an existing one is returned
		// as stored whatever the caller passed.
		if existing, rerr := a.readConfig(ctx, name); rerr == nil {
			a.logger.Debug("stream already exists, ignoring properties", "stream", name, "error", err)
			return existing, nil
		}
		return stream.Config{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	if err := a.fs.MkdirAll(ctx, dir); err != nil {
		return stream.Config{}, &StorageError{Op: "create", Stream: name, Err: err}
	}
	descriptor := a.descriptorPath(name)
	created, err := a.fs.CreateNew(ctx, descriptor)
	if err != nil {
		return stream.Config{}, &StorageError{Op: "create", Stream: name, Err: err}
	}
	if !created {
		existing, err := a.readConfig(ctx, name)
		if errors.Is(err, stream.ErrIncompleteDescriptor) {
			return stream.Config{}, fmt.Errorf("stream %s is being created concurrently or an earlier create was interrupted; remove %s if no create is running: %w", name, descriptor, err)
		}
		if err != nil {
			return stream.Config{}, err
		}
		a.logger.Debug("stream already exists", "stream", name)
		return existing, nil
	}

	if err := a.writeDescriptor(ctx, cfg); err != nil {
		// Drop the placeholder so the next create starts over.
		if rmErr := a.fs.Remove(ctx, descriptor); rmErr != nil {
			a.logger.Warn("remove incomplete stream descriptor failed", "stream", name, "error", rmErr)
		}
		return stream.Config{}, &StorageError{Op: "create", Stream: name, Err: err}
	}
	a.configs.Set(cfg)
	streamsCreated.Inc()
	a.logger.Info("stream created",
		"stream", name,
		"partition_duration", cfg.PartitionDuration,
		"index_interval", cfg.IndexInterval)
	return cfg, nil
}

func (a *Admin) writeDescriptor(ctx context.Context, cfg stream.Config) error {
	data, err := stream.EncodeDescriptor(cfg)
	if err != nil {
		return err
	}
	tmp := location.Join(cfg.Location, "."+stream.DescriptorFile+"."+uuid.NewString()+".tmp")
	w, err := a.fs.Create(ctx, tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		a.removeTemp(ctx, tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := w.Close(); err != nil {
		a.removeTemp(ctx, tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := a.fs.Rename(ctx, tmp, a.descriptorPath(cfg.Name)); err != nil {
		a.removeTemp(ctx, tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func (a *Admin) removeTemp(ctx context.Context, name string) {
	if err := a.fs.Remove(ctx, name); err != nil {
		a.logger.Warn("remove temporary descriptor failed", "path", name, "error", err)
	}
}

// Exists reports whether the stream descriptor is present. Storage failures
// are logged and reported as absent.
func (a *Admin) Exists(ctx context.Context, name string) bool {
	if stream.ValidateName(name) != nil {
		return false
	}
	ok, err := a.fs.Exists(ctx, a.descriptorPath(name))
	if err != nil {
		a.logger.Error("check stream existence failed", "stream", name, "error", err)
		return false
	}
	return ok
}

// Config returns the descriptor of a stream. It fails with ErrNotFound when
// the stream directory or its descriptor is missing.
func (a *Admin) Config(ctx context.Context, name string) (stream.Config, error) {
	if err := stream.ValidateName(name); err != nil {
		return stream.Config{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	cfg, err := a.readConfig(ctx, name)
	if errors.Is(err, stream.ErrIncompleteDescriptor) {
		return stream.Config{}, fmt.Errorf("%w: %s: %v", ErrNotFound, name, err)
	}
	return cfg, err
}

func (a *Admin) readConfig(ctx context.Context, name string) (stream.Config, error) {
	dir := a.streamDir(name)
	isDir, err := a.fs.IsDir(ctx, dir)
	if err != nil {
		return stream.Config{}, &StorageError{Op: "describe", Stream: name, Err: err}
	}
	if !isDir {
		a.configs.Invalidate(name)
		return stream.Config{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if cfg, ok := a.configs.Get(name); ok {
		return cfg, nil
	}

	rc, err := a.fs.Open(ctx, a.descriptorPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return stream.Config{}, fmt.Errorf("%w: %s has no descriptor", ErrNotFound, name)
	}
	if err != nil {
		return stream.Config{}, &StorageError{Op: "describe", Stream: name, Err: err}
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return stream.Config{}, &StorageError{Op: "describe", Stream: name, Err: err}
	}
	cfg, err := stream.DecodeDescriptor(data)
	if err != nil {
		return stream.Config{}, fmt.Errorf("stream %s: %w", name, err)
	}
	cfg.Name = name
	cfg.Location = dir
	a.configs.Set(cfg)
	return cfg, nil
}

// Drop is a placeholder. Removing a stream safely needs coordination with
// open writers and readers, which live outside the control plane.
func (a *Admin) Drop(ctx context.Context, name string) error {
	if err := stream.ValidateName(name); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	a.logger.Warn("stream drop is not supported, ignoring", "stream", name)
	return nil
}

// Truncate is a placeholder for the same reason as Drop.
func (a *Admin) Truncate(ctx context.Context, name string) error {
	if err := stream.ValidateName(name); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	a.logger.Warn("stream truncate is not supported, ignoring", "stream", name)
	return nil
}

// DropAll is a placeholder for the same reason as Drop.
func (a *Admin) DropAll(ctx context.Context) error {
	a.logger.Warn("drop of all streams is not supported, ignoring")
	return nil
}
