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

package statestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/novatechflow/streamadmin/pkg/stream"
)

// Record values use the protobuf wire format:
//
//	message Offsets { repeated Entry entries = 1; }
//	message Entry   { bytes file_id = 1; uint64 offset = 2; }
const (
	fieldEntry  protowire.Number = 1
	fieldFileID protowire.Number = 1
	fieldOffset protowire.Number = 2
)

var errMalformedRecord = errors.New("malformed consumer state record")

// EncodeOffsets serializes an ordered offset list.
func EncodeOffsets(offsets []stream.FileOffset) []byte {
	var out []byte
	for _, off := range offsets {
		var entry []byte
		entry = protowire.AppendTag(entry, fieldFileID, protowire.BytesType)
		entry = protowire.AppendString(entry, off.FileID)
		entry = protowire.AppendTag(entry, fieldOffset, protowire.VarintType)
		entry = protowire.AppendVarint(entry, off.Offset)

		out = protowire.AppendTag(out, fieldEntry, protowire.BytesType)
		out = protowire.AppendBytes(out, entry)
	}
	return out
}

// DecodeOffsets parses a record value. Unknown fields are skipped.
func DecodeOffsets(data []byte) ([]stream.FileOffset, error) {
	var out []stream.FileOffset
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", errMalformedRecord, protowire.ParseError(n))
		}
		data = data[n:]
		if num != fieldEntry || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", errMalformedRecord, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		entry, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", errMalformedRecord, protowire.ParseError(n))
		}
		data = data[n:]
		off, err := decodeEntry(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, off)
	}
	return out, nil
}

func decodeEntry(data []byte) (stream.FileOffset, error) {
	var off stream.FileOffset
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return off, fmt.Errorf("%w: %v", errMalformedRecord, protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldFileID && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return off, fmt.Errorf("%w: %v", errMalformedRecord, protowire.ParseError(n))
			}
			off.FileID = string(v)
			data = data[n:]
		case num == fieldOffset && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return off, fmt.Errorf("%w: %v", errMalformedRecord, protowire.ParseError(n))
			}
			off.Offset = v
			data = data[n:]
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return off, fmt.Errorf("%w: %v", errMalformedRecord, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return off, nil
}

func decodeState(key stream.StateKey, value []byte) (stream.ConsumerState, error) {
	offsets, err := DecodeOffsets(value)
	if err != nil {
		return stream.ConsumerState{}, fmt.Errorf("decode state %s: %w", key, err)
	}
	return stream.NewConsumerState(key.GroupID, key.InstanceID, offsets), nil
}

// etcd keys: <prefix>/streams/<stream>/consumers/<group>/<instance>

func etcdStreamPrefix(prefix, name string) string {
	return fmt.Sprintf("%s/streams/%s/consumers/", prefix, name)
}

func etcdGroupPrefix(prefix, name string, groupID uint64) string {
	return etcdStreamPrefix(prefix, name) + strconv.FormatUint(groupID, 10) + "/"
}

func etcdStateKey(prefix, name string, key stream.StateKey) string {
	return etcdGroupPrefix(prefix, name, key.GroupID) + strconv.Itoa(key.InstanceID)
}

func parseEtcdStateKey(streamPrefix, raw string) (stream.StateKey, error) {
	rest, ok := strings.CutPrefix(raw, streamPrefix)
	if !ok {
		return stream.StateKey{}, fmt.Errorf("key %q outside %q", raw, streamPrefix)
	}
	groupPart, instancePart, ok := strings.Cut(rest, "/")
	if !ok {
		return stream.StateKey{}, fmt.Errorf("key %q missing instance", raw)
	}
	groupID, err := strconv.ParseUint(groupPart, 10, 64)
	if err != nil {
		return stream.StateKey{}, fmt.Errorf("key %q group: %w", raw, err)
	}
	instanceID, err := strconv.Atoi(instancePart)
	if err != nil || instanceID < 0 {
		return stream.StateKey{}, fmt.Errorf("key %q instance %q invalid", raw, instancePart)
	}
	return stream.StateKey{GroupID: groupID, InstanceID: instanceID}, nil
}

// pebble keys: 'c' <stream> 0x00 <group u64 BE> <instance u32 BE>
// Stream names never contain 0x00, so the separator keeps prefixes distinct
// and the big-endian ids keep iteration in key order.

const pebbleConsumerTag = 'c'

func pebbleStreamPrefix(name string) []byte {
	out := make([]byte, 0, len(name)+2)
	out = append(out, pebbleConsumerTag)
	out = append(out, name...)
	return append(out, 0)
}

func pebbleGroupPrefix(name string, groupID uint64) []byte {
	return binary.BigEndian.AppendUint64(pebbleStreamPrefix(name), groupID)
}

func pebbleStateKey(name string, key stream.StateKey) ([]byte, error) {
	if !key.Valid() {
		return nil, fmt.Errorf("instance id %d of %s out of range", key.InstanceID, key)
	}
	return binary.BigEndian.AppendUint32(pebbleGroupPrefix(name, key.GroupID), uint32(key.InstanceID)), nil
}

func parsePebbleStateKey(streamPrefix, raw []byte) (stream.StateKey, error) {
	if len(raw) != len(streamPrefix)+12 {
		return stream.StateKey{}, fmt.Errorf("pebble key of %d bytes does not hold a consumer state", len(raw))
	}
	rest := raw[len(streamPrefix):]
	return stream.StateKey{
		GroupID:    binary.BigEndian.Uint64(rest[:8]),
		InstanceID: int(binary.BigEndian.Uint32(rest[8:])),
	}, nil
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
