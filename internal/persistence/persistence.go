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

// Package persistence notifies an external collaborator whenever
// internal/store or internal/session change a BaseMessage or ClientMessage.
// The core calls these hooks synchronously, so an implementation that does
// its work inline (RedisHooks) delays the caller until it returns; Async
// wraps another implementation to dispatch each call through a worker pool
// instead. This package has no restart-time load interface.
package persistence

// Hooks is notified of every BaseMessage/ClientMessage mutation the core
// makes. Implementations must not assume these calls happen on any
// particular goroutine.
type Hooks interface {
	// BaseMsgAdd fires when a session first admits a BaseMessage, i.e. when
	// its ref count goes from zero to one; Store.Add itself does not fire it.
	BaseMsgAdd(dbID uint64, topic string, payload []byte)
	// BaseMsgDelete fires after a BaseMessage's ref count reaches zero and
	// it is removed from the store.
	BaseMsgDelete(dbID uint64)
	// ClientMsgAdd fires after a ClientMessage is admitted to a session's
	// inflight or queued list.
	ClientMsgAdd(clientID string, cmsgID uint64, baseDBID uint64, mid uint16, state string)
	// ClientMsgUpdate fires after a ClientMessage's state or mid changes in
	// place (QoS handshake transitions, dequeue promotions).
	ClientMsgUpdate(clientID string, cmsgID uint64, state string)
	// ClientMsgDelete fires after a ClientMessage is removed from either
	// list (ack completion, expiry, reconnect reset).
	ClientMsgDelete(clientID string, cmsgID uint64)
}

// NoopHooks discards every notification. It is the default when no
// persistence backend is configured.
type NoopHooks struct{}

func (NoopHooks) BaseMsgAdd(uint64, string, []byte)                   {}
func (NoopHooks) BaseMsgDelete(uint64)                                {}
func (NoopHooks) ClientMsgAdd(string, uint64, uint64, uint16, string) {}
func (NoopHooks) ClientMsgUpdate(string, uint64, string)              {}
func (NoopHooks) ClientMsgDelete(string, uint64)                      {}

// Async wraps another Hooks implementation and dispatches every call
// through a worker pool so a slow backend never stalls the session/store
// code calling into it.
type Async struct {
	Hooks Hooks
	Pool  interface{ Go(func()) }
}

func (a Async) BaseMsgAdd(dbID uint64, topic string, payload []byte) {
	a.Pool.Go(func() { a.Hooks.BaseMsgAdd(dbID, topic, payload) })
}

func (a Async) BaseMsgDelete(dbID uint64) {
	a.Pool.Go(func() { a.Hooks.BaseMsgDelete(dbID) })
}

func (a Async) ClientMsgAdd(clientID string, cmsgID, baseDBID uint64, mid uint16, state string) {
	a.Pool.Go(func() { a.Hooks.ClientMsgAdd(clientID, cmsgID, baseDBID, mid, state) })
}

func (a Async) ClientMsgUpdate(clientID string, cmsgID uint64, state string) {
	a.Pool.Go(func() { a.Hooks.ClientMsgUpdate(clientID, cmsgID, state) })
}

func (a Async) ClientMsgDelete(clientID string, cmsgID uint64) {
	a.Pool.Go(func() { a.Hooks.ClientMsgDelete(clientID, cmsgID) })
}
