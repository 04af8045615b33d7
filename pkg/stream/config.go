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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// PropertyPartitionDuration overrides the partition duration in milliseconds.
	PropertyPartitionDuration = "stream.partition.duration"
	// PropertyIndexInterval overrides the index interval in milliseconds.
	PropertyIndexInterval = "stream.index.interval"

	// DescriptorFile is the name of the config document inside a stream directory.
	DescriptorFile = "config.json"

	maxNameLength = 255
)

var (
	// ErrInvalidName indicates the name cannot denote a stream.
	ErrInvalidName = errors.New("invalid stream name")
	// ErrInvalidProperty indicates a stream property could not be parsed.
	ErrInvalidProperty = errors.New("invalid stream property")
	// ErrIncompleteDescriptor is returned for a descriptor whose creation has not finished.
	ErrIncompleteDescriptor = errors.New("incomplete stream descriptor")
)

// Config describes a stream. It is written once when the stream is created.
type Config struct {
	Name              string
	PartitionDuration time.Duration
	IndexInterval     time.Duration
	// Location is the stream directory under the base location.
	Location string
}

// Defaults supplies durations for properties that were not given at create time.
type Defaults struct {
	PartitionDuration time.Duration
	IndexInterval     time.Duration
}

// DefaultDefaults mirrors the platform defaults: hourly partitions, 10s index.
var DefaultDefaults = Defaults{
	PartitionDuration: time.Hour,
	IndexInterval:     10 * time.Second,
}

type descriptor struct {
	Name              string `json:"name"`
	PartitionDuration int64  `json:"partitionDuration"`
	IndexInterval     int64  `json:"indexInterval"`
}

// ValidateName checks that name can denote a stream directory.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: %q longer than %d bytes", ErrInvalidName, name, maxNameLength)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-':
		default:
			return fmt.Errorf("%w: %q contains %q", ErrInvalidName, name, r)
		}
	}
	return nil
}

// ConfigFromProperties builds a Config, taking durations from props when set.
func ConfigFromProperties(name, location string, props map[string]string, defaults Defaults) (Config, error) {
	partition, err := durationProperty(props, PropertyPartitionDuration, defaults.PartitionDuration)
	if err != nil {
		return Config{}, err
	}
	index, err := durationProperty(props, PropertyIndexInterval, defaults.IndexInterval)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Name:              name,
		PartitionDuration: partition,
		IndexInterval:     index,
		Location:          location,
	}, nil
}

func durationProperty(props map[string]string, key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := props[key]
	if !ok || strings.TrimSpace(raw) == "" {
		if fallback <= 0 {
			return 0, fmt.Errorf("%w: no default for %s", ErrInvalidProperty, key)
		}
		return fallback, nil
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q: %v", ErrInvalidProperty, key, raw, err)
	}
	if ms <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidProperty, key, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// EncodeDescriptor serializes the persisted form of cfg. Location is not
// stored; it is derived from where the descriptor lives.
func EncodeDescriptor(cfg Config) ([]byte, error) {
	data, err := json.Marshal(descriptor{
		Name:              cfg.Name,
		PartitionDuration: cfg.PartitionDuration.Milliseconds(),
		IndexInterval:     cfg.IndexInterval.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal stream descriptor: %w", err)
	}
	return data, nil
}

// DecodeDescriptor parses a persisted descriptor.
func DecodeDescriptor(data []byte) (Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Config{}, ErrIncompleteDescriptor
	}
	var desc descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return Config{}, fmt.Errorf("unmarshal stream descriptor: %w", err)
	}
	return Config{
		Name:              desc.Name,
		PartitionDuration: time.Duration(desc.PartitionDuration) * time.Millisecond,
		IndexInterval:     time.Duration(desc.IndexInterval) * time.Millisecond,
	}, nil
}
