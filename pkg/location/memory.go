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
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
)

// MemoryFileSystem keeps files in process memory. It is used in tests and
// for development setups that do not need durability.
type MemoryFileSystem struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]struct{}
}

// NewMemoryFileSystem returns an empty in-memory FileSystem.
func NewMemoryFileSystem() *MemoryFileSystem {
	return &MemoryFileSystem{
		files: make(map[string][]byte),
		dirs:  map[string]struct{}{"": {}},
	}
}

func (m *MemoryFileSystem) MkdirAll(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name = Clean(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	for dir := name; dir != "" && dir != "."; dir = path.Dir(dir) {
		if _, ok := m.files[dir]; ok {
			return fmt.Errorf("mkdir %s: %s is a file", name, dir)
		}
		m.dirs[dir] = struct{}{}
	}
	return nil
}

func (m *MemoryFileSystem) IsDir(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.dirs[Clean(name)]
	return ok, nil
}

func (m *MemoryFileSystem) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	name = Clean(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[name]; ok {
		return true, nil
	}
	_, ok := m.dirs[name]
	return ok, nil
}

func (m *MemoryFileSystem) CreateNew(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := validPath(name); err != nil {
		return false, fmt.Errorf("create %q: %w", name, err)
	}
	name = Clean(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[name]; ok {
		return false, nil
	}
	if _, ok := m.dirs[name]; ok {
		return false, nil
	}
	if err := m.checkParentLocked(name); err != nil {
		return false, err
	}
	m.files[name] = nil
	return true, nil
}

func (m *MemoryFileSystem) Rename(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from, to = Clean(from), Clean(to)
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[from]
	if !ok {
		return &fs.PathError{Op: "rename", Path: from, Err: fs.ErrNotExist}
	}
	if err := m.checkParentLocked(to); err != nil {
		return err
	}
	m.files[to] = data
	delete(m.files, from)
	return nil
}

func (m *MemoryFileSystem) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name = Clean(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), data...))), nil
}

func (m *MemoryFileSystem) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validPath(name); err != nil {
		return nil, fmt.Errorf("create %q: %w", name, err)
	}
	name = Clean(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkParentLocked(name); err != nil {
		return nil, err
	}
	return &memoryWriter{fs: m, name: name}, nil
}

func (m *MemoryFileSystem) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name = Clean(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[name]; ok {
		delete(m.files, name)
		return nil
	}
	if _, ok := m.dirs[name]; !ok || name == "" {
		return nil
	}
	prefix := name + "/"
	for child := range m.files {
		if strings.HasPrefix(child, prefix) {
			return fmt.Errorf("remove %s: directory not empty", name)
		}
	}
	for child := range m.dirs {
		if strings.HasPrefix(child, prefix) {
			return fmt.Errorf("remove %s: directory not empty", name)
		}
	}
	delete(m.dirs, name)
	return nil
}

// Files lists every stored file path, sorted.
func (m *MemoryFileSystem) Files() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files))
	for name := range m.files {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (m *MemoryFileSystem) checkParentLocked(name string) error {
	parent := path.Dir(name)
	if parent == "." {
		parent = ""
	}
	if _, ok := m.dirs[parent]; !ok {
		return &fs.PathError{Op: "create", Path: name, Err: fs.ErrNotExist}
	}
	return nil
}

type memoryWriter struct {
	fs     *MemoryFileSystem
	name   string
	buf    bytes.Buffer
	closed bool
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fs.ErrClosed
	}
	return w.buf.Write(p)
}

func (w *memoryWriter) Close() error {
	if w.closed {
		return fs.ErrClosed
	}
	w.closed = true
	w.fs.mu.Lock()
	defer w.fs.mu.Unlock()
	w.fs.files[w.name] = append([]byte(nil), w.buf.Bytes()...)
	return nil
}
