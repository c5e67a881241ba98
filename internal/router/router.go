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

// Package router is the in-memory stand-in for the "route an accepted
// message to interested sessions" collaborator internal/session drives
// through the Router interface. It deliberately does not implement MQTT
// wildcard topic filters (+ and #) or a retained-message store — matching
// is exact-topic only. The real subscription tree is explicitly out of
// this module's scope; this package exists so internal/session.ReleaseIncoming
// and EasyQueue have something to call.
package router

import (
	"sync"
	"sync/atomic"

	"github.com/yunqi/lighthouse-core/internal/session"
	"github.com/yunqi/lighthouse-core/internal/store"
	"github.com/yunqi/lighthouse-core/internal/xerror"
)

type subscriber struct {
	sessionID              string
	qos                    byte
	subscriptionIdentifier uint32
}

// Router fans a published BaseMessage out to every session subscribed to
// its topic. Subscriber lists are held as copy-on-write atomic snapshots so
// a fan-out iterates a stable list while Subscribe/Unsubscribe replace it;
// the topic and session map lookups still take the router's mutex.
type Router struct {
	store *store.Store

	mu       sync.Mutex
	byTopic  map[string]*atomic.Value // topic -> []subscriber
	sessions map[string]*session.Session
}

// New returns an empty Router backed by store for looking up BaseMessage
// bodies by id.
func New(store *store.Store) *Router {
	return &Router{
		store:    store,
		byTopic:  make(map[string]*atomic.Value),
		sessions: make(map[string]*session.Session),
	}
}

// RegisterSession makes s a valid fan-out target. Transport calls this once
// a CONNECT has produced a Session.
func (r *Router) RegisterSession(s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// UnregisterSession removes sessionID as a fan-out target and drops every
// subscription it held.
func (r *Router) UnregisterSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
	for topic, v := range r.byTopic {
		snapshot := v.Load().([]subscriber)
		filtered := snapshot[:0:0]
		for _, sub := range snapshot {
			if sub.sessionID != sessionID {
				filtered = append(filtered, sub)
			}
		}
		if len(filtered) == 0 {
			delete(r.byTopic, topic)
		} else {
			v.Store(filtered)
		}
	}
}

// Subscribe records sessionID's interest in the exact topic string.
func (r *Router) Subscribe(sessionID, topic string, qos byte, subscriptionIdentifier uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.byTopic[topic]
	if !ok {
		v = &atomic.Value{}
		v.Store([]subscriber{})
		r.byTopic[topic] = v
	}

	existing := v.Load().([]subscriber)
	next := make([]subscriber, 0, len(existing)+1)
	for _, sub := range existing {
		if sub.sessionID != sessionID {
			next = append(next, sub)
		}
	}
	next = append(next, subscriber{sessionID: sessionID, qos: qos, subscriptionIdentifier: subscriptionIdentifier})
	v.Store(next)
}

// Unsubscribe removes sessionID's interest in topic, if present.
func (r *Router) Unsubscribe(sessionID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.byTopic[topic]
	if !ok {
		return
	}
	existing := v.Load().([]subscriber)
	next := existing[:0:0]
	for _, sub := range existing {
		if sub.sessionID != sessionID {
			next = append(next, sub)
		}
	}
	if len(next) == 0 {
		delete(r.byTopic, topic)
	} else {
		v.Store(next)
	}
}

// MessagesQueue implements session.Router: it looks dbID up in the base
// message store and admits it into every subscribed session's outgoing
// queue via InsertOutgoing. Returns xerror.NoSubscribers (informational,
// not an error) if nobody is subscribed to topic.
func (r *Router) MessagesQueue(sourceID, topic string, qos byte, retain bool, dbID uint64) error {
	base, ok := r.store.Get(dbID)
	if !ok {
		return xerror.New(xerror.NotFound, "base message not found for routing")
	}

	r.mu.Lock()
	v, ok := r.byTopic[topic]
	r.mu.Unlock()
	if !ok {
		return xerror.New(xerror.NoSubscribers, "no subscribers for topic")
	}
	subs := v.Load().([]subscriber)
	if len(subs) == 0 {
		return xerror.New(xerror.NoSubscribers, "no subscribers for topic")
	}

	for _, sub := range subs {
		r.mu.Lock()
		target, ok := r.sessions[sub.sessionID]
		r.mu.Unlock()
		if !ok {
			continue
		}
		effectiveQoS := qos
		if sub.qos < effectiveQoS {
			effectiveQoS = sub.qos
		}
		var mid uint16
		if effectiveQoS > 0 {
			mid = target.NextMID()
		}
		if _, err := target.InsertOutgoing(0, mid, effectiveQoS, retain, base, sub.subscriptionIdentifier, true); err != nil {
			return err
		}
	}
	return nil
}
