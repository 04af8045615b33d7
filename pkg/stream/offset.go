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

package stream

import (
	"fmt"
	"strings"
)

// FileOffset identifies a read position inside one partition file of a stream.
// FileID is opaque to the control plane; the reader path usually stores the
// partition file location there.
type FileOffset struct {
	FileID string
	Offset uint64
}

// Compare orders offsets by file first and position second.
func (o FileOffset) Compare(other FileOffset) int {
	if c := strings.Compare(o.FileID, other.FileID); c != 0 {
		return c
	}
	switch {
	case o.Offset < other.Offset:
		return -1
	case o.Offset > other.Offset:
		return 1
	default:
		return 0
	}
}

func (o FileOffset) String() string {
	return fmt.Sprintf("%s:%d", o.FileID, o.Offset)
}
