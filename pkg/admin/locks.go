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

import "sync"

// streamLocker serializes reconfigurations of the same stream. Entries are
// reference counted and dropped once no caller holds or waits on them.
type streamLocker struct {
	mu    sync.Mutex
	locks map[string]*streamLock
}

type streamLock struct {
	sync.Mutex
	refs int
}

func newStreamLocker() *streamLocker {
	return &streamLocker{locks: make(map[string]*streamLock)}
}

// Lock blocks until the caller owns name and returns the release func.
func (l *streamLocker) Lock(name string) (unlock func()) {
	l.mu.Lock()
	lock := l.locks[name]
	if lock == nil {
		lock = &streamLock{}
		l.locks[name] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			lock.Unlock()
			l.mu.Lock()
			lock.refs--
			if lock.refs == 0 {
				delete(l.locks, name)
			}
			l.mu.Unlock()
		})
	}
}

// held reports how many streams have an owner or waiters.
func (l *streamLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
