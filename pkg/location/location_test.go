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
	"io"
	"io/fs"
	"testing"
)

func TestFileSystems(t *testing.T) {
	local, err := NewLocalFileSystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFileSystem: %v", err)
	}
	cases := map[string]FileSystem{
		"local":  local,
		"memory": NewMemoryFileSystem(),
		"s3":     newS3FileSystemWithAPI("bucket", "root", "", newFakeS3()),
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			exerciseFileSystem(t, fsys)
		})
	}
}

func exerciseFileSystem(t *testing.T, fsys FileSystem) {
	t.Helper()
	ctx := context.Background()

	if ok, err := fsys.IsDir(ctx, "streams/orders"); err != nil || ok {
		t.Fatalf("IsDir before mkdir: %v %v", ok, err)
	}
	if err := fsys.MkdirAll(ctx, "streams/orders"); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := fsys.MkdirAll(ctx, "streams/orders"); err != nil {
		t.Fatalf("MkdirAll again: %v", err)
	}
	if ok, err := fsys.IsDir(ctx, "streams/orders"); err != nil || !ok {
		t.Fatalf("IsDir after mkdir: %v %v", ok, err)
	}

	created, err := fsys.CreateNew(ctx, "streams/orders/config.json")
	if err != nil || !created {
		t.Fatalf("CreateNew: %v %v", created, err)
	}
	created, err = fsys.CreateNew(ctx, "streams/orders/config.json")
	if err != nil || created {
		t.Fatalf("second CreateNew should report existing file: %v %v", created, err)
	}
	if ok, err := fsys.Exists(ctx, "streams/orders/config.json"); err != nil || !ok {
		t.Fatalf("Exists: %v %v", ok, err)
	}
	if ok, err := fsys.IsDir(ctx, "streams/orders/config.json"); err != nil || ok {
		t.Fatalf("file reported as directory: %v %v", ok, err)
	}

	w, err := fsys.Create(ctx, "streams/orders/.tmp")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := io.WriteString(w, `{"name":"orders"}`); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := fsys.Rename(ctx, "streams/orders/.tmp", "streams/orders/config.json"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if ok, _ := fsys.Exists(ctx, "streams/orders/.tmp"); ok {
		t.Fatalf("rename left the source behind")
	}
	if got := readAll(t, fsys, "streams/orders/config.json"); got != `{"name":"orders"}` {
		t.Fatalf("unexpected content %q", got)
	}

	if _, err := fsys.Open(ctx, "streams/missing/config.json"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected ErrNotExist got %v", err)
	}
	if ok, err := fsys.Exists(ctx, "streams/missing"); err != nil || ok {
		t.Fatalf("Exists on missing path: %v %v", ok, err)
	}
	if err := fsys.Remove(ctx, "streams/orders/config.json"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := fsys.Remove(ctx, "streams/orders/config.json"); err != nil {
		t.Fatalf("Remove missing: %v", err)
	}
	if ok, _ := fsys.Exists(ctx, "streams/orders/config.json"); ok {
		t.Fatalf("file still present after Remove")
	}
}

func readAll(t *testing.T, fsys FileSystem, name string) string {
	t.Helper()
	rc, err := fsys.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("Open %s: %v", name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll %s: %v", name, err)
	}
	return string(data)
}

func TestCleanStaysBelowRoot(t *testing.T) {
	cases := map[string]string{
		"":              "",
		"/":             "",
		"a/b/":          "a/b",
		"../../etc":     "etc",
		"a/../../b":     "b",
		"/streams/x/./": "streams/x",
	}
	for in, want := range cases {
		if got := Clean(in); got != want {
			t.Fatalf("Clean(%q) = %q want %q", in, got, want)
		}
	}
	if got := Join("streams", "orders", "config.json"); got != "streams/orders/config.json" {
		t.Fatalf("Join: %q", got)
	}
}

func TestMemoryCreateRequiresParent(t *testing.T) {
	fsys := NewMemoryFileSystem()
	if _, err := fsys.CreateNew(context.Background(), "nodir/config.json"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected ErrNotExist got %v", err)
	}
	if _, err := fsys.CreateNew(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
