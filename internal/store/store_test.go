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

package store

import (
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yunqi/lighthouse-core/internal/persistence"
	"github.com/yunqi/lighthouse-core/internal/xerror"
)

func TestStore_AddRejectsDuplicateID(t *testing.T) {
	s := New(nil)
	m := &BaseMessage{DBID: 1, Topic: "a/b", Payload: []byte("x")}
	require.NoError(t, s.Add(m))

	err := s.Add(&BaseMessage{DBID: 1, Topic: "a/b"})
	require.Error(t, err)
	assert.True(t, xerror.Is(err, xerror.AlreadyExists))
}

func TestStore_RefDecRemovesAtZero(t *testing.T) {
	s := New(nil)
	m := &BaseMessage{DBID: 2, Topic: "a/b", Payload: []byte("x"), RefCount: 1}
	require.NoError(t, s.Add(m))

	s.RefInc(m)
	assert.Equal(t, 2, m.RefCount)

	s.RefDec(&m)
	assert.NotNil(t, m)
	_, ok := s.Get(2)
	assert.True(t, ok)

	s.RefDec(&m)
	assert.Nil(t, m)
	_, ok = s.Get(2)
	assert.False(t, ok)
}

func TestStore_CompactRemovesZeroRefEntries(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Add(&BaseMessage{DBID: 3, RefCount: 0}))
	require.NoError(t, s.Add(&BaseMessage{DBID: 4, RefCount: 1}))

	s.Compact()

	_, ok3 := s.Get(3)
	_, ok4 := s.Get(4)
	assert.False(t, ok3)
	assert.True(t, ok4)
}

func TestStore_BytesTracksPayloadSize(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Add(&BaseMessage{DBID: 5, Payload: []byte("hello"), RefCount: 1}))
	assert.EqualValues(t, 5, s.Bytes())

	m, _ := s.Get(5)
	s.Remove(m, false)
	assert.EqualValues(t, 0, s.Bytes())
}

func TestStore_RemoveNotifiesHooksOnRefDecToZero(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	hooks := persistence.NewMockHooks(ctrl)
	hooks.EXPECT().BaseMsgDelete(uint64(6)).Times(1)

	s := New(hooks)
	m := &BaseMessage{DBID: 6, Topic: "a/b", Payload: []byte("x"), RefCount: 1}
	require.NoError(t, s.Add(m))

	s.RefDec(&m)
	assert.Nil(t, m)
}

func TestStore_RemoveWithoutNotifySkipsHooks(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	hooks := persistence.NewMockHooks(ctrl)
	// No BaseMsgDelete expectation: notify=false must not call it.

	s := New(hooks)
	m := &BaseMessage{DBID: 7, Topic: "a/b", Payload: []byte("x")}
	require.NoError(t, s.Add(m))
	s.Remove(m, false)
}
