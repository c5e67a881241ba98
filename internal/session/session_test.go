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

package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yunqi/lighthouse-core/internal/persistence"
	"github.com/yunqi/lighthouse-core/internal/store"
	"github.com/yunqi/lighthouse-core/internal/xerror"
)

// fakeSender is a hand-rolled collaborator double; internal/session has no
// production dependency on a mocking framework, and these interfaces are
// small enough that a table-driven fake reads more clearly than generated
// mock boilerplate.
type fakeSender struct {
	mu          sync.Mutex
	connected   map[string]bool
	publishes   []uint16
	pubrecs     []uint16
	pubrels     []uint16
	failPublish error
}

func newFakeSender() *fakeSender {
	return &fakeSender{connected: map[string]bool{}}
}

func (f *fakeSender) SendPublish(clientID string, msg *ClientMessage, expiryInterval int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPublish != nil {
		return f.failPublish
	}
	f.publishes = append(f.publishes, msg.MID)
	return nil
}

func (f *fakeSender) SendPubrec(clientID string, mid uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pubrecs = append(f.pubrecs, mid)
	return nil
}

func (f *fakeSender) SendPubrel(clientID string, mid uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pubrels = append(f.pubrels, mid)
	return nil
}

func (f *fakeSender) IsConnected(clientID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected[clientID]
}

type fakeRouter struct {
	queued  []string
	retains []bool
	err     error
}

func (f *fakeRouter) MessagesQueue(sourceID, topic string, qos byte, retain bool, dbID uint64) error {
	f.queued = append(f.queued, topic)
	f.retains = append(f.retains, retain)
	return f.err
}

// fakeHooks is a hand-rolled persistence.Hooks double that only counts
// BaseMsgAdd calls; the other methods are no-ops the way NoopHooks's are.
type fakeHooks struct {
	baseMsgAddCalls int
}

func (f *fakeHooks) BaseMsgAdd(dbID uint64, topic string, payload []byte) { f.baseMsgAddCalls++ }
func (f *fakeHooks) BaseMsgDelete(dbID uint64)                            {}
func (f *fakeHooks) ClientMsgAdd(clientID string, cmsgID, baseDBID uint64, mid uint16, state string) {
}
func (f *fakeHooks) ClientMsgUpdate(clientID string, cmsgID uint64, state string) {}
func (f *fakeHooks) ClientMsgDelete(clientID string, cmsgID uint64)               {}

// fakeGen is a hand-rolled stand-in for internal/msgid.Generator.
type fakeGen struct{ n uint64 }

func (g *fakeGen) Next() uint64 { g.n++; return g.n }

type fakeClock struct{ now int64 }

func (f *fakeClock) NowUnix() int64 { return f.now }

func newTestSession(t *testing.T, clientID string, sender *fakeSender, router *fakeRouter, clock *fakeClock, lim Limits) *Session {
	t.Helper()
	return New(clientID, Config{
		MaxQoS:          2,
		InflightMaximum: 20,
		Limits:          lim,
		Store:           store.New(persistence.NoopHooks{}),
		Sender:          sender,
		Router:          router,
		Clock:           clock,
		Hooks:           persistence.NoopHooks{},
	})
}

func unlimited() Limits { return Limits{} }

func TestInsertOutgoing_ConnectedReadyGoesStraightToPublishState(t *testing.T) {
	sender := newFakeSender()
	sender.connected["c1"] = true
	s := newTestSession(t, "c1", sender, &fakeRouter{}, &fakeClock{}, unlimited())

	base := &store.BaseMessage{DBID: 1, Topic: "a/b", Payload: []byte("hi"), QoS: 1}
	result, err := s.InsertOutgoing(0, 10, 1, false, base, 0, false)
	require.NoError(t, err)
	assert.Equal(t, Inflight, result)
	require.Equal(t, 1, s.Out.Inflight.Len())
	cm := s.Out.Inflight.Front().Value.(*ClientMessage)
	assert.Equal(t, StatePublishQoS1, cm.State)
	assert.Equal(t, 1, base.RefCount)
}

func TestInsertOutgoing_DisconnectedQoS0DroppedByDefault(t *testing.T) {
	sender := newFakeSender()
	s := newTestSession(t, "c1", sender, &fakeRouter{}, &fakeClock{}, unlimited())

	base := &store.BaseMessage{DBID: 1, Topic: "a", Payload: []byte("x"), QoS: 0}
	result, err := s.InsertOutgoing(0, 1, 0, false, base, 0, false)
	require.NoError(t, err)
	assert.Equal(t, Dropped, result)
	assert.True(t, s.IsDropping)
	assert.Equal(t, 0, base.RefCount)
}

func TestInsertOutgoing_DisconnectedQoS1Queues(t *testing.T) {
	sender := newFakeSender()
	s := newTestSession(t, "c1", sender, &fakeRouter{}, &fakeClock{}, unlimited())

	base := &store.BaseMessage{DBID: 1, Topic: "a", Payload: []byte("x"), QoS: 1}
	result, err := s.InsertOutgoing(0, 1, 1, false, base, 0, false)
	require.NoError(t, err)
	assert.Equal(t, Queued, result)
	require.Equal(t, 1, s.Out.Queued.Len())
}

// Re-admitting the same BaseMessage to the same session a second time is
// suppressed once dest_ids already records it.
func TestInsertOutgoing_DuplicateSuppressionSkipsSecondInsert(t *testing.T) {
	sender := newFakeSender()
	sender.connected["c1"] = true
	s := newTestSession(t, "c1", sender, &fakeRouter{}, &fakeClock{}, unlimited())

	base := &store.BaseMessage{DBID: 1, Topic: "a", Payload: []byte("x"), QoS: 1}
	_, err := s.InsertOutgoing(0, 1, 1, false, base, 0, false)
	require.NoError(t, err)
	require.Equal(t, 1, s.Out.Inflight.Len())
	require.Contains(t, base.DestIDs, "c1")

	result, err := s.InsertOutgoing(0, 2, 1, false, base, 0, false)
	require.NoError(t, err)
	assert.Equal(t, Inflight, result)
	assert.Equal(t, 1, s.Out.Inflight.Len(), "duplicate insert must not append a second record")
	assert.Equal(t, []string{"c1"}, mapKeys(base.DestIDs))
}

func mapKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestInsertOutgoing_RetainedMessageBypassesDuplicateSuppression(t *testing.T) {
	sender := newFakeSender()
	sender.connected["c1"] = true
	s := newTestSession(t, "c1", sender, &fakeRouter{}, &fakeClock{}, unlimited())

	base := &store.BaseMessage{DBID: 1, Topic: "a", Payload: []byte("x"), QoS: 1, DestIDs: map[string]struct{}{"c1": {}}}
	result, err := s.InsertOutgoing(0, 1, 1, true, base, 0, false)
	require.NoError(t, err)
	assert.Equal(t, Inflight, result)
	assert.Equal(t, 1, s.Out.Inflight.Len())
}

func TestInsertIncoming_QoS2GoesToWaitForPubrel(t *testing.T) {
	sender := newFakeSender()
	s := newTestSession(t, "c1", sender, &fakeRouter{}, &fakeClock{}, unlimited())

	base := &store.BaseMessage{DBID: 1, Topic: "a", Payload: []byte("x"), QoS: 2, SourceMID: 7}
	result, err := s.InsertIncoming(0, base)
	require.NoError(t, err)
	assert.Equal(t, Inflight, result)
	cm := s.In.Inflight.Front().Value.(*ClientMessage)
	assert.Equal(t, StateWaitForPubrel, cm.State)
	assert.Equal(t, uint16(7), cm.MID)
}

func TestWriteInflightOutSingle_QoS0RemovesOnSuccess(t *testing.T) {
	sender := newFakeSender()
	sender.connected["c1"] = true
	s := newTestSession(t, "c1", sender, &fakeRouter{}, &fakeClock{}, unlimited())

	base := &store.BaseMessage{DBID: 1, Topic: "a", Payload: []byte("x"), QoS: 0}
	_, err := s.InsertOutgoing(0, 1, 0, false, base, 0, true)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Out.Inflight.Len())
	assert.Equal(t, []uint16{1}, sender.publishes)
	assert.Equal(t, 0, base.RefCount)
}

func TestWriteInflightOutSingle_QoS1TransitionsToWaitForPuback(t *testing.T) {
	sender := newFakeSender()
	sender.connected["c1"] = true
	s := newTestSession(t, "c1", sender, &fakeRouter{}, &fakeClock{}, unlimited())

	base := &store.BaseMessage{DBID: 1, Topic: "a", Payload: []byte("x"), QoS: 1}
	_, err := s.InsertOutgoing(0, 1, 1, false, base, 0, true)
	require.NoError(t, err)
	require.Equal(t, 1, s.Out.Inflight.Len())
	cm := s.Out.Inflight.Front().Value.(*ClientMessage)
	assert.Equal(t, StateWaitForPuback, cm.State)
	assert.True(t, cm.Dup)
}

func TestWriteInflightOutSingle_ExpiredMessageRemovedWithoutSending(t *testing.T) {
	sender := newFakeSender()
	sender.connected["c1"] = true
	clock := &fakeClock{now: 1000}
	s := newTestSession(t, "c1", sender, &fakeRouter{}, clock, unlimited())

	base := &store.BaseMessage{DBID: 1, Topic: "a", Payload: []byte("x"), QoS: 1, MessageExpiryTime: 500}
	_, err := s.InsertOutgoing(0, 1, 1, false, base, 0, true)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Out.Inflight.Len())
	assert.Empty(t, sender.publishes)
}

func TestDeleteOutgoing_QoSMismatchIsProtocolError(t *testing.T) {
	sender := newFakeSender()
	sender.connected["c1"] = true
	s := newTestSession(t, "c1", sender, &fakeRouter{}, &fakeClock{}, unlimited())

	base := &store.BaseMessage{DBID: 1, Topic: "a", Payload: []byte("x"), QoS: 1}
	_, err := s.InsertOutgoing(0, 5, 1, false, base, 0, false)
	require.NoError(t, err)

	err = s.DeleteOutgoing(5, StateWaitForPuback, 2)
	require.Error(t, err)
	assert.True(t, xerror.Is(err, xerror.Protocol))
}

func TestDeleteOutgoing_PromotesQueuedEntryThatNowFits(t *testing.T) {
	sender := newFakeSender()
	sender.connected["c1"] = true
	lim := Limits{MaxInflightBytes: 0}
	s := newTestSession(t, "c1", sender, &fakeRouter{}, &fakeClock{}, lim)
	s.Out.InflightMaximum = 1
	s.Out.InflightQuota = 1

	base1 := &store.BaseMessage{DBID: 1, Topic: "a", Payload: []byte("x"), QoS: 1}
	_, err := s.InsertOutgoing(0, 1, 1, false, base1, 0, false)
	require.NoError(t, err)
	require.Equal(t, 1, s.Out.Inflight.Len())

	base2 := &store.BaseMessage{DBID: 2, Topic: "b", Payload: []byte("y"), QoS: 1}
	result, err := s.InsertOutgoing(0, 2, 1, false, base2, 0, false)
	require.NoError(t, err)
	require.Equal(t, Queued, result)
	require.Equal(t, 1, s.Out.Queued.Len())

	require.NoError(t, s.DeleteOutgoing(1, StateInvalid, 1))
	assert.Equal(t, 0, s.Out.Queued.Len())
	assert.Equal(t, 1, s.Out.Inflight.Len())
}

func TestReleaseIncoming_RoutesThenRemoves(t *testing.T) {
	sender := newFakeSender()
	router := &fakeRouter{}
	s := newTestSession(t, "c1", sender, router, &fakeClock{}, unlimited())

	base := &store.BaseMessage{DBID: 1, Topic: "a/b", Payload: []byte("x"), QoS: 2, SourceID: "c1", SourceMID: 9}
	_, err := s.InsertIncoming(0, base)
	require.NoError(t, err)

	require.NoError(t, s.ReleaseIncoming(9))
	assert.Equal(t, 0, s.In.Inflight.Len())
	assert.Equal(t, []string{"a/b"}, router.queued)
}

func TestReleaseIncoming_NoSubscribersIsTreatedAsSuccess(t *testing.T) {
	sender := newFakeSender()
	router := &fakeRouter{err: xerror.New(xerror.NoSubscribers, "")}
	s := newTestSession(t, "c1", sender, router, &fakeClock{}, unlimited())

	base := &store.BaseMessage{DBID: 1, Topic: "a/b", Payload: []byte("x"), QoS: 2, SourceMID: 9}
	_, err := s.InsertIncoming(0, base)
	require.NoError(t, err)

	assert.NoError(t, s.ReleaseIncoming(9))
	assert.Equal(t, 0, s.In.Inflight.Len())
}

func TestReleaseIncoming_DeniedMessageWithNoTopicIsNeverRouted(t *testing.T) {
	sender := newFakeSender()
	router := &fakeRouter{}
	s := newTestSession(t, "c1", sender, router, &fakeClock{}, unlimited())

	base := &store.BaseMessage{DBID: 1, Topic: "", Payload: []byte("x"), QoS: 2, SourceMID: 9}
	_, err := s.InsertIncoming(0, base)
	require.NoError(t, err)

	require.NoError(t, s.ReleaseIncoming(9))
	assert.Empty(t, router.queued)
}

func TestReconnectResetOutgoing_Qos2WaitForPubcompBecomesResendPubrel(t *testing.T) {
	sender := newFakeSender()
	sender.connected["c1"] = true
	s := newTestSession(t, "c1", sender, &fakeRouter{}, &fakeClock{}, unlimited())

	base := &store.BaseMessage{DBID: 1, Topic: "a", Payload: []byte("x"), QoS: 2}
	_, err := s.InsertOutgoing(0, 1, 2, false, base, 0, false)
	require.NoError(t, err)
	cm := s.Out.Inflight.Front().Value.(*ClientMessage)
	cm.State = StateWaitForPubcomp

	s.ReconnectResetOutgoing()
	assert.Equal(t, StateResendPubrel, cm.State)
	assert.Equal(t, s.Out.InflightMaximum, s.Out.InflightQuota)
}

func TestReconnectResetIncoming_DropsSubQos2ButKeepsQos2(t *testing.T) {
	sender := newFakeSender()
	s := newTestSession(t, "c1", sender, &fakeRouter{}, &fakeClock{}, unlimited())

	qos1Base := &store.BaseMessage{DBID: 1, Topic: "a", Payload: []byte("x"), QoS: 2}
	// Force a QoS1 incoming inflight entry directly since InsertIncoming is QoS2-only.
	cm1 := &ClientMessage{CmsgID: 1, Base: qos1Base, MID: 1, Direction: Incoming, State: StatePublishQoS1, QoS: 1}
	s.store.RefInc(qos1Base)
	s.In.Inflight.PushBack(cm1)
	s.In.addToInflightStats(cm1)

	qos2Base := &store.BaseMessage{DBID: 2, Topic: "b", Payload: []byte("y"), QoS: 2}
	_, err := s.InsertIncoming(0, qos2Base)
	require.NoError(t, err)

	s.ReconnectResetIncoming()
	assert.Equal(t, 1, s.In.Inflight.Len())
	remaining := s.In.Inflight.Front().Value.(*ClientMessage)
	assert.Equal(t, byte(2), remaining.QoS)
}

func TestExpireAllMessages_RestoresSendQuotaForInflightQoS1(t *testing.T) {
	sender := newFakeSender()
	sender.connected["c1"] = true
	clock := &fakeClock{now: 2000}
	s := newTestSession(t, "c1", sender, &fakeRouter{}, clock, unlimited())
	s.Out.InflightMaximum = 5
	s.Out.InflightQuota = 5

	base := &store.BaseMessage{DBID: 1, Topic: "a", Payload: []byte("x"), QoS: 1, MessageExpiryTime: 1000}
	_, err := s.InsertOutgoing(0, 1, 1, false, base, 0, false)
	require.NoError(t, err)
	require.Equal(t, uint16(4), s.Out.InflightQuota)

	s.ExpireAllMessages()
	assert.Equal(t, 0, s.Out.Inflight.Len())
	assert.Equal(t, uint16(5), s.Out.InflightQuota)
}

func TestMessagesDelete_CleanStartClearsBothDirections(t *testing.T) {
	sender := newFakeSender()
	sender.connected["c1"] = true
	s := newTestSession(t, "c1", sender, &fakeRouter{}, &fakeClock{}, unlimited())

	outBase := &store.BaseMessage{DBID: 1, Topic: "a", Payload: []byte("x"), QoS: 1}
	_, err := s.InsertOutgoing(0, 1, 1, false, outBase, 0, false)
	require.NoError(t, err)

	inBase := &store.BaseMessage{DBID: 2, Topic: "b", Payload: []byte("y"), QoS: 2}
	_, err = s.InsertIncoming(0, inBase)
	require.NoError(t, err)

	s.MessagesDelete(false, true)
	assert.Equal(t, 0, s.Out.Inflight.Len())
	assert.Equal(t, 0, s.In.Inflight.Len())
	assert.Equal(t, 0, outBase.RefCount)
	assert.Equal(t, 0, inBase.RefCount)
}

func TestFindBySourceMID_ScansInflightThenQueued(t *testing.T) {
	sender := newFakeSender()
	s := newTestSession(t, "c1", sender, &fakeRouter{}, &fakeClock{}, unlimited())

	base := &store.BaseMessage{DBID: 1, Topic: "a", Payload: []byte("x"), QoS: 2, SourceMID: 42}
	_, err := s.InsertIncoming(0, base)
	require.NoError(t, err)

	found, ok := s.FindBySourceMID(42)
	require.True(t, ok)
	assert.Equal(t, base, found)

	_, ok = s.FindBySourceMID(999)
	assert.False(t, ok)
}

func TestInsertOutgoing_NotifiesBaseMsgAddOnlyOnceAcrossSessions(t *testing.T) {
	hooks := &fakeHooks{}
	st := store.New(hooks)
	base := &store.BaseMessage{DBID: 1, Topic: "a/b", Payload: []byte("x"), QoS: 1}
	require.NoError(t, st.Add(base))

	sender := newFakeSender()
	sender.connected["c1"] = true
	sender.connected["c2"] = true

	newSession := func(clientID string) *Session {
		return New(clientID, Config{
			MaxQoS:          2,
			InflightMaximum: 20,
			Limits:          unlimited(),
			Store:           st,
			Sender:          sender,
			Router:          &fakeRouter{},
			Clock:           &fakeClock{},
			Hooks:           hooks,
		})
	}
	s1 := newSession("c1")
	s2 := newSession("c2")

	_, err := s1.InsertOutgoing(0, 1, 1, false, base, 0, false)
	require.NoError(t, err)
	_, err = s2.InsertOutgoing(0, 2, 1, false, base, 0, false)
	require.NoError(t, err)

	assert.Equal(t, 1, hooks.baseMsgAddCalls)
}

func TestEasyQueue_RetainForcedFalseWhenRetainUnavailable(t *testing.T) {
	sender := newFakeSender()
	router := &fakeRouter{}
	s := newTestSession(t, "c1", sender, router, &fakeClock{}, Limits{RetainAvailable: false})

	require.NoError(t, s.EasyQueue(&fakeGen{}, "$SYS/test", 0, []byte("x"), true, 0))

	require.Len(t, router.retains, 1)
	assert.False(t, router.retains[0])
}

func TestEasyQueue_RetainPreservedWhenAvailable(t *testing.T) {
	sender := newFakeSender()
	router := &fakeRouter{}
	s := newTestSession(t, "c1", sender, router, &fakeClock{}, Limits{RetainAvailable: true})

	require.NoError(t, s.EasyQueue(&fakeGen{}, "$SYS/test", 0, []byte("x"), true, 0))

	require.Len(t, router.retains, 1)
	assert.True(t, router.retains[0])
}
