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
	"math"
	"sort"
	"strings"
)

// MaxInstances bounds the size of one consumer group, so instance ids always
// fit in 32 bits.
const MaxInstances = math.MaxInt32

// StateKey is the identity of a consumer state within one stream.
type StateKey struct {
	GroupID    uint64
	InstanceID int
}

func (k StateKey) String() string {
	return fmt.Sprintf("%d/%d", k.GroupID, k.InstanceID)
}

// Valid reports whether the instance id lies in [0, MaxInstances).
func (k StateKey) Valid() bool {
	return k.InstanceID >= 0 && k.InstanceID < MaxInstances
}

// Less orders keys by group and then instance.
func (k StateKey) Less(other StateKey) bool {
	if k.GroupID != other.GroupID {
		return k.GroupID < other.GroupID
	}
	return k.InstanceID < other.InstanceID
}

// ConsumerState records how far one instance of a consumer group has read
// across the partition files it has touched. Offsets hold at most one entry
// per file and are kept sorted by FileID.
type ConsumerState struct {
	GroupID    uint64
	InstanceID int
	Offsets    []FileOffset
}

// NewConsumerState builds a normalized state. When offsets repeat a file the
// smallest position is kept.
func NewConsumerState(groupID uint64, instanceID int, offsets []FileOffset) ConsumerState {
	return ConsumerState{
		GroupID:    groupID,
		InstanceID: instanceID,
		Offsets:    NormalizeOffsets(offsets),
	}
}

// NormalizeOffsets returns a sorted copy with one entry per file.
func NormalizeOffsets(offsets []FileOffset) []FileOffset {
	if len(offsets) == 0 {
		return nil
	}
	out := make([]FileOffset, len(offsets))
	copy(out, offsets)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Compare(out[j]) < 0
	})
	dedup := out[:1]
	for _, off := range out[1:] {
		if off.FileID == dedup[len(dedup)-1].FileID {
			continue
		}
		dedup = append(dedup, off)
	}
	return dedup
}

// Key returns the identity of the state.
func (s ConsumerState) Key() StateKey {
	return StateKey{GroupID: s.GroupID, InstanceID: s.InstanceID}
}

// Offset returns the recorded position for a file.
func (s ConsumerState) Offset(fileID string) (uint64, bool) {
	idx := sort.Search(len(s.Offsets), func(i int) bool {
		return s.Offsets[i].FileID >= fileID
	})
	if idx < len(s.Offsets) && s.Offsets[idx].FileID == fileID {
		return s.Offsets[idx].Offset, true
	}
	return 0, false
}

// Clone returns a deep copy.
func (s ConsumerState) Clone() ConsumerState {
	out := s
	if len(s.Offsets) > 0 {
		out.Offsets = append([]FileOffset(nil), s.Offsets...)
	}
	return out
}

func (s ConsumerState) String() string {
	parts := make([]string, len(s.Offsets))
	for i, off := range s.Offsets {
		parts[i] = off.String()
	}
	return fmt.Sprintf("%s{%s}", s.Key(), strings.Join(parts, ","))
}

// SortStates orders states by key in place.
func SortStates(states []ConsumerState) {
	sort.Slice(states, func(i, j int) bool {
		return states[i].Key().Less(states[j].Key())
	})
}

// FilterGroup returns the states that belong to groupID.
func FilterGroup(states []ConsumerState, groupID uint64) []ConsumerState {
	out := make([]ConsumerState, 0)
	for _, state := range states {
		if state.GroupID == groupID {
			out = append(out, state)
		}
	}
	return out
}

// GroupIDs returns the distinct group ids present in states, sorted.
func GroupIDs(states []ConsumerState) []uint64 {
	seen := make(map[uint64]struct{})
	out := make([]uint64, 0)
	for _, state := range states {
		if _, ok := seen[state.GroupID]; ok {
			continue
		}
		seen[state.GroupID] = struct{}{}
		out = append(out, state.GroupID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
