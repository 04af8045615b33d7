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

// Package location abstracts the hierarchical storage that holds stream
// directories and their descriptors. Paths are slash separated and relative
// to the root of the backing FileSystem.
package location

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// FileSystem is the storage surface the stream admin needs. Missing paths are
// reported with an error matching fs.ErrNotExist.
type FileSystem interface {
	// MkdirAll creates a directory and its parents. Existing directories are fine.
	MkdirAll(ctx context.Context, name string) error
	// IsDir reports whether name is a directory.
	IsDir(ctx context.Context, name string) (bool, error)
	// Exists reports whether name is a file or directory.
	Exists(ctx context.Context, name string) (bool, error)
	// CreateNew atomically creates an empty file. It returns false without
	// error when the file already exists.
	CreateNew(ctx context.Context, name string) (bool, error)
	// Rename atomically replaces to with from.
	Rename(ctx context.Context, from, to string) error
	// Open returns a reader over the file contents.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Create returns a writer that replaces the file. The content is only
	// guaranteed to be visible once Close returns nil.
	Create(ctx context.Context, name string) (io.WriteCloser, error)
	// Remove deletes a file or empty directory. Missing paths are not an error.
	Remove(ctx context.Context, name string) error
}

var errInvalidPath = errors.New("invalid path")

// Join builds a clean relative path from elements.
func Join(elem ...string) string {
	return Clean(path.Join(elem...))
}

// Clean normalizes name to a relative slash path without leading separators.
// Any ".." that would leave the root is dropped.
func Clean(name string) string {
	cleaned := path.Clean("/" + name)
	return strings.TrimPrefix(cleaned, "/")
}

func validPath(name string) error {
	if Clean(name) == "" {
		return errInvalidPath
	}
	return nil
}
