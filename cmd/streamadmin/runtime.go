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
	"log/slog"
	"time"

	"github.com/novatechflow/streamadmin/internal/config"
	"github.com/novatechflow/streamadmin/pkg/admin"
	"github.com/novatechflow/streamadmin/pkg/location"
	"github.com/novatechflow/streamadmin/pkg/statestore"
)

// runtime holds the admin and the backends it was built from.
type runtime struct {
	cfg     config.Config
	logger  *slog.Logger
	admin   *admin.Admin
	monitor *location.Monitor
	closers []func() error
}

func buildRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		monitor: location.NewMonitor(location.MonitorConfig{}),
	}
	fsys, err := buildFileSystem(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	states, err := rt.buildStateFactory(cfg.State)
	if err != nil {
		return nil, err
	}
	rt.admin, err = admin.New(admin.Options{
		BaseDir:    cfg.BaseDir,
		Defaults:   cfg.StreamDefaults(),
		FileSystem: location.Instrument(fsys, rt.monitor),
		States:     states,
		Logger:     logger,
		CacheSize:  cfg.CacheSize,
	})
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func buildFileSystem(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (location.FileSystem, error) {
	switch cfg.Backend {
	case "memory":
		logger.Warn("using in-memory stream storage; descriptors are lost on exit")
		return location.NewMemoryFileSystem(), nil
	case "s3":
		fsys, err := location.NewS3FileSystem(ctx, location.S3Config{
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			ForcePathStyle:  cfg.S3.PathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			SessionToken:    cfg.S3.SessionToken,
			KMSKeyARN:       cfg.S3.KMSKeyARN,
		})
		if err != nil {
			return nil, fmt.Errorf("init s3 storage: %w", err)
		}
		logger.Info("using s3 stream storage", "bucket", cfg.S3.Bucket, "prefix", cfg.S3.Prefix, "region", cfg.S3.Region)
		return fsys, nil
	default:
		fsys, err := location.NewLocalFileSystem(cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		logger.Info("using local stream storage", "root", fsys.Root())
		return fsys, nil
	}
}

func (rt *runtime) buildStateFactory(cfg config.StateConfig) (statestore.Factory, error) {
	switch cfg.Backend {
	case "memory":
		rt.logger.Warn("using in-memory consumer state store; offsets are lost on exit")
		return statestore.NewMemoryFactory(), nil
	case "etcd":
		factory, err := statestore.NewEtcdFactory(statestore.EtcdConfig{
			Endpoints:      cfg.Etcd.Endpoints,
			Username:       cfg.Etcd.Username,
			Password:       cfg.Etcd.Password,
			DialTimeout:    time.Duration(cfg.Etcd.DialTimeoutMS) * time.Millisecond,
			RequestTimeout: time.Duration(cfg.Etcd.RequestTimeoutMS) * time.Millisecond,
			Prefix:         cfg.Etcd.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("init etcd state store: %w", err)
		}
		rt.closers = append(rt.closers, factory.Close)
		rt.logger.Info("using etcd consumer state store", "endpoints", cfg.Etcd.Endpoints, "prefix", cfg.Etcd.Prefix)
		return factory, nil
	default:
		factory, err := statestore.OpenPebbleFactory(statestore.PebbleConfig{
			Dir:         cfg.Pebble.Dir,
			DisableSync: cfg.Pebble.DisableSync,
		})
		if err != nil {
			return nil, fmt.Errorf("init pebble state store: %w", err)
		}
		rt.closers = append(rt.closers, factory.Close)
		rt.logger.Info("using pebble consumer state store", "dir", cfg.Pebble.Dir)
		return factory, nil
	}
}

// Close releases the backends in reverse order of creation.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
