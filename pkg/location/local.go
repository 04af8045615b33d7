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
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalFileSystem stores everything below a directory on the local disk.
type LocalFileSystem struct {
	root string
}

// NewLocalFileSystem roots a FileSystem at dir, creating it when missing.
func NewLocalFileSystem(dir string) (*LocalFileSystem, error) {
	if dir == "" {
		return nil, errors.New("local root directory required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create root %s: %w", abs, err)
	}
	return &LocalFileSystem{root: abs}, nil
}

// Root returns the absolute root directory.
func (l *LocalFileSystem) Root() string {
	return l.root
}

func (l *LocalFileSystem) resolve(name string) string {
	return filepath.Join(l.root, filepath.FromSlash(Clean(name)))
}

func (l *LocalFileSystem) MkdirAll(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.MkdirAll(l.resolve(name), 0o755)
}

func (l *LocalFileSystem) IsDir(ctx context.Context, name string) (bool, error) {
	info, err := l.stat(ctx, name)
	if err != nil || info == nil {
		return false, err
	}
	return info.IsDir(), nil
}

func (l *LocalFileSystem) Exists(ctx context.Context, name string) (bool, error) {
	info, err := l.stat(ctx, name)
	return info != nil, err
}

func (l *LocalFileSystem) stat(ctx context.Context, name string) (fs.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(l.resolve(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (l *LocalFileSystem) CreateNew(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := validPath(name); err != nil {
		return false, fmt.Errorf("create %q: %w", name, err)
	}
	f, err := os.OpenFile(l.resolve(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := f.Close(); err != nil {
		return false, err
	}
	return true, nil
}

func (l *LocalFileSystem) Rename(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.Rename(l.resolve(from), l.resolve(to))
}

func (l *LocalFileSystem) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(l.resolve(name))
}

func (l *LocalFileSystem) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validPath(name); err != nil {
		return nil, fmt.Errorf("create %q: %w", name, err)
	}
	f, err := os.OpenFile(l.resolve(name), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &syncedFile{File: f}, nil
}

func (l *LocalFileSystem) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(l.resolve(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// syncedFile flushes to disk before closing so a following rename never
// exposes a partially written file after a crash.
type syncedFile struct {
	*os.File
}

func (f *syncedFile) Close() error {
	if err := f.File.Sync(); err != nil {
		_ = f.File.Close()
		return err
	}
	return f.File.Close()
}
