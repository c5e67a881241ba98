/*
 *    Copyright 2021 chenquan
 *
 *    Licensed under the Apache License, Version 2.0 (the "License");
 *    you may not use this file except in compliance with the License.
 *    You may obtain a copy of the License at
 *
 *        http://www.apache.org/licenses/LICENSE-2.0
 *
 *    Unless required by applicable law or agreed to in writing, software
 *    distributed under the License is distributed on an "AS IS" BASIS,
 *    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *    See the License for the specific language governing permissions and
 *    limitations under the License.
 */

// Package store holds the broker-wide, ref-counted BaseMessage body store.
// A BaseMessage's payload is written once by whoever first published it and
// shared by every session that still has a ClientMessage pointing at it;
// the store frees the body the instant the last such ClientMessage is gone.
package store

import (
	"sync"

	"github.com/yunqi/lighthouse-core/internal/persistence"
	"github.com/yunqi/lighthouse-core/internal/xerror"
)

// Origin identifies who produced a BaseMessage.
type Origin int

const (
	OriginClient Origin = iota
	OriginBroker
)

// BaseMessage is the globally unique, shared body of a published message.
// The store owns Topic, Payload, SourceID, SourceUsername, DestIDs and
// Properties; callers must not retain direct pointers into them past a
// RefDec that could drop the count to zero.
type BaseMessage struct {
	DBID              uint64
	Topic             string
	Payload           []byte
	QoS               byte
	Retain            bool
	SourceID          string
	SourceUsername    string
	SourceListener    string
	SourceMID         uint16
	Origin            Origin
	Properties        interface{}
	MessageExpiryTime int64
	RefCount          int
	DestIDs           map[string]struct{}
}

// Store is the broker-wide keyed-by-DBID registry of BaseMessages.
type Store struct {
	mu    sync.Mutex
	byID  map[uint64]*BaseMessage
	bytes uint64
	hooks persistence.Hooks
}

// New returns an empty Store. hooks receives a BaseMsgDelete notification
// whenever Remove's notify argument is true; pass persistence.NoopHooks{}
// if nothing downstream needs it.
func New(hooks persistence.Hooks) *Store {
	if hooks == nil {
		hooks = persistence.NoopHooks{}
	}
	return &Store{byID: make(map[uint64]*BaseMessage), hooks: hooks}
}

// Add inserts msg keyed by its DBID. It fails with a xerror.AlreadyExists
// kind if that id is already present.
func (s *Store) Add(msg *BaseMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[msg.DBID]; ok {
		return xerror.New(xerror.AlreadyExists, "base message db_id already present")
	}
	s.byID[msg.DBID] = msg
	s.bytes += uint64(len(msg.Payload))
	return nil
}

// Remove unlinks msg, decrements the store's byte accounting, and
// optionally notifies persistence before discarding it. Removing an id not
// present in the store is a silent no-op, mirroring a free-on-nil guard.
func (s *Store) Remove(msg *BaseMessage, notify bool) {
	if msg == nil {
		return
	}
	s.mu.Lock()
	if _, ok := s.byID[msg.DBID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.byID, msg.DBID)
	s.bytes -= uint64(len(msg.Payload))
	s.mu.Unlock()

	if notify {
		s.hooks.BaseMsgDelete(msg.DBID)
	}
}

// RefInc increments msg's reference count. Callers take a reference for
// the lifetime of every ClientMessage pointing at it.
func (s *Store) RefInc(msg *BaseMessage) {
	s.mu.Lock()
	msg.RefCount++
	s.mu.Unlock()
}

// RefDec decrements (*msg)'s reference count and, if it reaches zero,
// removes and frees it, nulling the caller's handle so a stale pointer
// can't be dereferenced afterward.
func (s *Store) RefDec(msg **BaseMessage) {
	if msg == nil || *msg == nil {
		return
	}
	s.mu.Lock()
	(*msg).RefCount--
	dead := (*msg).RefCount <= 0
	s.mu.Unlock()

	if dead {
		s.Remove(*msg, true)
		*msg = nil
	}
}

// Compact is a defensive sweep that removes every entry whose ref count
// has fallen to or below zero without going through RefDec — it should
// normally find nothing, and exists to repair drift after a crash-restore
// from persistence.
func (s *Store) Compact() {
	s.mu.Lock()
	dead := make([]*BaseMessage, 0)
	for _, m := range s.byID {
		if m.RefCount < 1 {
			dead = append(dead, m)
		}
	}
	s.mu.Unlock()

	for _, m := range dead {
		s.Remove(m, true)
	}
}

// Get returns the BaseMessage stored under id, if any.
func (s *Store) Get(id uint64) (*BaseMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	return m, ok
}

// Count reports how many BaseMessages are currently stored.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Bytes reports the total payload size of every stored BaseMessage.
func (s *Store) Bytes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}
