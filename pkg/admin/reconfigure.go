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
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/novatechflow/streamadmin/pkg/rebalance"
	"github.com/novatechflow/streamadmin/pkg/statestore"
	"github.com/novatechflow/streamadmin/pkg/stream"
)

// Reconfiguration reports what a reconfiguration wrote and deleted.
type Reconfiguration struct {
	Stream  string
	Saved   []stream.ConsumerState
	Removed []stream.ConsumerState
	// DiscardedGroups lists groups whose whole offset history was deleted
	// because they were left out of a ConfigureGroups call.
	DiscardedGroups []uint64
}

// Changed reports whether any state was written or deleted.
func (r Reconfiguration) Changed() bool {
	return len(r.Saved) > 0 || len(r.Removed) > 0
}

// ConfigureInstances resizes one consumer group of a stream to instances
// members. When the size changes every member restarts from the smallest
// offset any previous member recorded per file.
func (a *Admin) ConfigureInstances(ctx context.Context, name string, groupID uint64, instances int) (result Reconfiguration, err error) {
	start := time.Now()
	defer func() { observeReconfigure(opConfigureInstances, start, err) }()

	if err := stream.ValidateName(name); err != nil {
		return Reconfiguration{}, invalidf("%v", err)
	}
	if err := checkInstances(instances); err != nil {
		return Reconfiguration{}, invalidf("%v", err)
	}
	groups := []uint64{groupID}
	a.logger.Info("configure instances", "stream", name, "group", groupID, "instances", instances)

	unlock := a.locks.Lock(name)
	defer unlock()

	err = a.withStore(ctx, name, groups, func(store statestore.Store) error {
		current, err := store.GetByGroup(ctx, groupID)
		if err != nil {
			return &StorageError{Op: "load states", Stream: name, Groups: groups, Err: err}
		}
		change := rebalance.Rebalance(groupID, instances, current)
		result = Reconfiguration{Stream: name, Saved: change.New, Removed: change.Remove}
		return a.apply(ctx, store, opConfigureInstances, name, groups, result)
	})
	if err != nil {
		return Reconfiguration{}, err
	}
	a.logger.Info("configure instances done",
		"stream", name,
		"group", groupID,
		"instances", instances,
		"saved", len(result.Saved),
		"removed", len(result.Removed))
	a.logger.Debug("configure instances states", "stream", name, "saved", result.Saved, "removed", result.Removed)
	return result, nil
}

// ConfigureGroups sets the consumer groups of a stream and their sizes.
// Groups that currently hold states but are missing from groupInfo lose all
// of their offsets; they are returned in DiscardedGroups.
func (a *Admin) ConfigureGroups(ctx context.Context, name string, groupInfo map[uint64]int) (result Reconfiguration, err error) {
	start := time.Now()
	defer func() { observeReconfigure(opConfigureGroups, start, err) }()

	if err := stream.ValidateName(name); err != nil {
		return Reconfiguration{}, invalidf("%v", err)
	}
	if len(groupInfo) == 0 {
		return Reconfiguration{}, invalidf("consumer group information must not be empty")
	}
	groups := make([]uint64, 0, len(groupInfo))
	for groupID, instances := range groupInfo {
		if err := checkInstances(instances); err != nil {
			return Reconfiguration{}, invalidf("group %d: %v", groupID, err)
		}
		groups = append(groups, groupID)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })
	a.logger.Info("configure groups", "stream", name, "groups", groupInfo)

	unlock := a.locks.Lock(name)
	defer unlock()

	err = a.withStore(ctx, name, groups, func(store statestore.Store) error {
		current, err := store.GetAll(ctx)
		if err != nil {
			return &StorageError{Op: "load states", Stream: name, Groups: groups, Err: err}
		}
		result = Reconfiguration{Stream: name}
		for _, groupID := range stream.GroupIDs(current) {
			if _, keep := groupInfo[groupID]; keep {
				continue
			}
			result.DiscardedGroups = append(result.DiscardedGroups, groupID)
			for _, state := range stream.FilterGroup(current, groupID) {
				result.Removed = append(result.Removed, state.Clone())
			}
		}
		for _, groupID := range groups {
			change := rebalance.Rebalance(groupID, groupInfo[groupID], stream.FilterGroup(current, groupID))
			result.Saved = append(result.Saved, change.New...)
			result.Removed = append(result.Removed, change.Remove...)
		}
		stream.SortStates(result.Removed)
		if len(result.DiscardedGroups) > 0 {
			a.logger.Warn("discarding consumer groups missing from configuration",
				"stream", name,
				"groups", result.DiscardedGroups,
				"states", len(result.Removed))
		}
		return a.apply(ctx, store, opConfigureGroups, name, groups, result)
	})
	if err != nil {
		return Reconfiguration{}, err
	}
	groupsDiscarded.Add(float64(len(result.DiscardedGroups)))
	a.logger.Info("configure groups done",
		"stream", name,
		"groups", len(groupInfo),
		"saved", len(result.Saved),
		"removed", len(result.Removed),
		"discarded_groups", result.DiscardedGroups)
	a.logger.Debug("configure groups states", "stream", name, "saved", result.Saved, "removed", result.Removed)
	return result, nil
}

// withStore opens the consumer state store of an existing stream, runs fn,
// and closes the store whatever fn returned.
func (a *Admin) withStore(ctx context.Context, name string, groups []uint64, fn func(statestore.Store) error) (err error) {
	cfg, err := a.Config(ctx, name)
	if err != nil {
		return err
	}
	store, err := a.states.Open(ctx, cfg)
	if err != nil {
		return &StorageError{Op: "open state store", Stream: name, Groups: groups, Err: err}
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			err = errors.Join(err, &StorageError{Op: "close state store", Stream: name, Groups: groups, Err: cerr})
		}
	}()
	return fn(store)
}

// apply saves new states before removing stale ones, so an interrupted run
// never leaves a group without its low instance ids.
func (a *Admin) apply(ctx context.Context, store statestore.Store, op, name string, groups []uint64, result Reconfiguration) error {
	if len(result.Saved) > 0 {
		if err := store.Save(ctx, result.Saved); err != nil {
			return &StorageError{Op: "save states", Stream: name, Groups: groups, Err: err}
		}
		statesWritten.WithLabelValues(op).Add(float64(len(result.Saved)))
	}
	if len(result.Removed) > 0 {
		if err := store.Remove(ctx, result.Removed); err != nil {
			return &StorageError{Op: "remove states", Stream: name, Groups: groups, Err: err}
		}
		statesRemoved.WithLabelValues(op).Add(float64(len(result.Removed)))
	}
	return nil
}

func checkInstances(instances int) error {
	if instances <= 0 {
		return fmt.Errorf("number of consumer instances must be > 0, got %d", instances)
	}
	if instances > stream.MaxInstances {
		return fmt.Errorf("number of consumer instances must be <= %d, got %d", stream.MaxInstances, instances)
	}
	return nil
}
