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

package cache

import (
	"container/list"
	"sync"

	"github.com/novatechflow/streamadmin/pkg/stream"
)

// ConfigCache is an LRU of stream descriptors keyed by stream name.
type ConfigCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

func NewConfigCache(capacity int) *ConfigCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &ConfigCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (c *ConfigCache) Get(name string) (stream.Config, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[name]; ok {
		c.ll.MoveToFront(elem)
		return elem.Value.(stream.Config), true
	}
	return stream.Config{}, false
}

func (c *ConfigCache) Set(cfg stream.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[cfg.Name]; ok {
		elem.Value = cfg
		c.ll.MoveToFront(elem)
		return
	}
	c.items[cfg.Name] = c.ll.PushFront(cfg)
	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		delete(c.items, oldest.Value.(stream.Config).Name)
		c.ll.Remove(oldest)
	}
}

// Invalidate drops name from the cache.
func (c *ConfigCache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[name]; ok {
		delete(c.items, name)
		c.ll.Remove(elem)
	}
}

func (c *ConfigCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
