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

package admin

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidArgument rejects a request before any state is touched.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound reports a missing stream or descriptor.
	ErrNotFound = errors.New("stream not found")
)

// StorageError wraps a persistence failure with the operation and the stream
// and groups it touched. Retrying the whole operation is safe.
type StorageError struct {
	Op     string
	Stream string
	Groups []uint64
	Err    error
}

func (e *StorageError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s stream %s", e.Op, e.Stream)
	if len(e.Groups) > 0 {
		fmt.Fprintf(&b, " groups %v", e.Groups)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
