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

// Package rebalance computes consumer state changes when the number of
// instances in a consumer group changes.
//
// Every surviving or new instance restarts from the smallest offset any old
// instance recorded for each file, so no event is skipped when the partition
// of work between instances shifts. Instances may re-read events as a result.
package rebalance

import (
	"sort"

	"github.com/novatechflow/streamadmin/pkg/stream"
)

// Result holds the states to upsert and the states to delete.
type Result struct {
	New    []stream.ConsumerState
	Remove []stream.ConsumerState
}

// Empty reports whether the rebalance changes nothing.
func (r Result) Empty() bool {
	return len(r.New) == 0 && len(r.Remove) == 0
}

// Rebalance resizes a group to instances members. old must hold the current
// states of groupID only. When the group already has instances members the
// result is empty, even if their offsets differ.
func Rebalance(groupID uint64, instances int, old []stream.ConsumerState) Result {
	if len(old) == instances {
		return Result{}
	}
	if instances < 0 {
		instances = 0
	}

	snapshot := MinOffsets(old)
	result := Result{
		New: make([]stream.ConsumerState, 0, instances),
	}
	for id := 0; id < instances; id++ {
		result.New = append(result.New, stream.ConsumerState{
			GroupID:    groupID,
			InstanceID: id,
			Offsets:    append([]stream.FileOffset(nil), snapshot...),
		})
	}
	for _, state := range old {
		if state.InstanceID >= instances {
			result.Remove = append(result.Remove, state.Clone())
		}
	}
	stream.SortStates(result.Remove)
	return result
}

// MinOffsets merges states into one offset per file, taking the smallest
// position recorded by any state. The result is sorted by file.
func MinOffsets(states []stream.ConsumerState) []stream.FileOffset {
	smallest := make(map[string]uint64)
	for _, state := range states {
		for _, off := range state.Offsets {
			if cur, ok := smallest[off.FileID]; !ok || off.Offset < cur {
				smallest[off.FileID] = off.Offset
			}
		}
	}
	if len(smallest) == 0 {
		return nil
	}
	out := make([]stream.FileOffset, 0, len(smallest))
	for fileID, offset := range smallest {
		out = append(out, stream.FileOffset{FileID: fileID, Offset: offset})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FileID < out[j].FileID
	})
	return out
}
