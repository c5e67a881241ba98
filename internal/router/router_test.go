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

package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yunqi/lighthouse-core/internal/persistence"
	"github.com/yunqi/lighthouse-core/internal/session"
	"github.com/yunqi/lighthouse-core/internal/store"
	"github.com/yunqi/lighthouse-core/internal/xerror"
)

type alwaysConnected struct{}

func (alwaysConnected) SendPublish(clientID string, msg *session.ClientMessage, expiryInterval int64) error {
	return nil
}
func (alwaysConnected) SendPubrec(clientID string, mid uint16) error { return nil }
func (alwaysConnected) SendPubrel(clientID string, mid uint16) error { return nil }
func (alwaysConnected) IsConnected(clientID string) bool             { return true }

type fixedClock struct{}

func (fixedClock) NowUnix() int64 { return 0 }

func TestRouter_MessagesQueueNoSubscribersIsInformational(t *testing.T) {
	st := store.New(persistence.NoopHooks{})
	r := New(st)

	base := &store.BaseMessage{DBID: 1, Topic: "a/b", Payload: []byte("x"), QoS: 0}
	require.NoError(t, st.Add(base))

	err := r.MessagesQueue("", "a/b", 0, false, 1)
	require.Error(t, err)
	assert.True(t, xerror.Is(err, xerror.NoSubscribers))
}

func TestRouter_SubscribeThenMessagesQueueFansOut(t *testing.T) {
	st := store.New(persistence.NoopHooks{})
	r := New(st)

	sess := session.New("c1", session.Config{
		MaxQoS:          2,
		InflightMaximum: 20,
		Store:           st,
		Sender:          alwaysConnected{},
		Router:          r,
		Clock:           fixedClock{},
		Hooks:           persistence.NoopHooks{},
	})
	r.RegisterSession(sess)
	r.Subscribe("c1", "a/b", 1, 0)

	base := &store.BaseMessage{DBID: 1, Topic: "a/b", Payload: []byte("x"), QoS: 1}
	require.NoError(t, st.Add(base))

	require.NoError(t, r.MessagesQueue("", "a/b", 1, false, 1))
	assert.Equal(t, 1, sess.Out.Inflight.Len())
}

func TestRouter_UnregisterSessionDropsSubscriptions(t *testing.T) {
	st := store.New(persistence.NoopHooks{})
	r := New(st)

	sess := session.New("c1", session.Config{
		Store:  st,
		Sender: alwaysConnected{},
		Router: r,
		Clock:  fixedClock{},
		Hooks:  persistence.NoopHooks{},
	})
	r.RegisterSession(sess)
	r.Subscribe("c1", "a/b", 0, 0)
	r.UnregisterSession("c1")

	base := &store.BaseMessage{DBID: 1, Topic: "a/b", Payload: []byte("x"), QoS: 0}
	require.NoError(t, st.Add(base))

	err := r.MessagesQueue("", "a/b", 0, false, 1)
	assert.True(t, xerror.Is(err, xerror.NoSubscribers))
}
