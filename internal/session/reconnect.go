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
	"container/list"

	"github.com/yunqi/lighthouse-core/internal/store"
)

func zeroStats(d *MessageData) {
	d.InflightBytes = 0
	d.InflightBytes12 = 0
	d.InflightCount = 0
	d.InflightCount12 = 0
	d.QueuedBytes = 0
	d.QueuedBytes12 = 0
	d.QueuedCount = 0
	d.QueuedCount12 = 0
}

// ReconnectResetOutgoing is called when a previously-offline session comes
// back online. It recomputes Out's stats from scratch, reseeds the inflight
// quota, forces every inflight entry back to a resend-appropriate state, and
// promotes any queued entry that now fits so delivery order is preserved.
// Mirrors db__message_reconnect_reset_outgoing.
func (s *Session) ReconnectResetOutgoing() {
	zeroStats(s.Out)
	s.Out.InflightQuota = s.Out.InflightMaximum

	for e := s.Out.Inflight.Front(); e != nil; e = e.Next() {
		cm := e.Value.(*ClientMessage)
		s.Out.addToInflightStats(cm)
		if cm.QoS > 0 {
			s.decrementSendQuota()
		}
		switch cm.QoS {
		case 0:
			cm.State = StatePublishQoS0
		case 1:
			cm.State = StatePublishQoS1
		case 2:
			if cm.State == StateWaitForPubcomp {
				cm.State = StateResendPubrel
			} else {
				cm.State = StatePublishQoS2
			}
		}
		s.hooks.ClientMsgUpdate(s.ID, cm.CmsgID, cm.State.String())
	}

	for e := s.Out.Queued.Front(); e != nil; {
		next := e.Next()
		cm := e.Value.(*ClientMessage)
		s.Out.addToQueuedStats(cm)
		if s.Out.ReadyForFlight(Outgoing, cm.QoS, s.limits) {
			cm.State = publishStateForQoS(cm.QoS)
			s.Out.dequeueFirst()
			s.hooks.ClientMsgUpdate(s.ID, cm.CmsgID, cm.State.String())
		}
		e = next
	}
}

// ReconnectResetIncoming mirrors db__message_reconnect_reset_incoming: QoS
// 0/1 incoming inflight is dropped outright (the client can safely retry
// it), QoS 2 is preserved as-is since its state must match what the client
// believes, and queued entries are promoted the same way as the outgoing side.
func (s *Session) ReconnectResetIncoming() {
	zeroStats(s.In)
	s.In.InflightQuota = s.In.InflightMaximum

	for e := s.In.Inflight.Front(); e != nil; {
		next := e.Next()
		cm := e.Value.(*ClientMessage)
		s.In.addToInflightStats(cm)
		if cm.QoS > 0 {
			s.decrementReceiveQuota()
		}
		if cm.QoS != 2 {
			s.removeInflight(s.In, e)
		}
		e = next
	}

	for e := s.In.Queued.Front(); e != nil; {
		next := e.Next()
		cm := e.Value.(*ClientMessage)
		s.In.addToQueuedStats(cm)
		if s.In.ReadyForFlight(Incoming, cm.QoS, s.limits) {
			cm.State = publishStateForQoS(cm.QoS)
			s.In.dequeueFirst()
			s.hooks.ClientMsgUpdate(s.ID, cm.CmsgID, cm.State.String())
		}
		e = next
	}
}

// ReconnectReset runs both halves of reconnect recovery, outgoing first.
func (s *Session) ReconnectReset() {
	s.ReconnectResetOutgoing()
	s.ReconnectResetIncoming()
}

// ExpireAllMessages sweeps every list in both directions, removing any entry
// whose MessageExpiryTime has passed and restoring quota for QoS>0 entries
// that were inflight. Mirrors db__expire_all_messages.
func (s *Session) ExpireAllMessages() {
	now := s.clock.NowUnix()

	for e := s.Out.Inflight.Front(); e != nil; {
		next := e.Next()
		cm := e.Value.(*ClientMessage)
		if cm.MessageExpiryTime != 0 && now > cm.MessageExpiryTime {
			if cm.QoS > 0 {
				s.incrementSendQuota()
			}
			s.removeInflight(s.Out, e)
		}
		e = next
	}
	for e := s.Out.Queued.Front(); e != nil; {
		next := e.Next()
		cm := e.Value.(*ClientMessage)
		if cm.MessageExpiryTime != 0 && now > cm.MessageExpiryTime {
			s.removeQueued(s.Out, e)
		}
		e = next
	}
	for e := s.In.Inflight.Front(); e != nil; {
		next := e.Next()
		cm := e.Value.(*ClientMessage)
		if cm.MessageExpiryTime != 0 && now > cm.MessageExpiryTime {
			if cm.QoS > 0 {
				s.incrementReceiveQuota()
			}
			s.removeInflight(s.In, e)
		}
		e = next
	}
	for e := s.In.Queued.Front(); e != nil; {
		next := e.Next()
		cm := e.Value.(*ClientMessage)
		if cm.MessageExpiryTime != 0 && now > cm.MessageExpiryTime {
			s.removeQueued(s.In, e)
		}
		e = next
	}
}

// messagesDeleteList releases every entry's store reference and empties l.
func (s *Session) messagesDeleteList(l *list.List) {
	for e := l.Front(); e != nil; {
		next := e.Next()
		cm := e.Value.(*ClientMessage)
		s.hooks.ClientMsgDelete(s.ID, cm.CmsgID)
		s.store.RefDec(&cm.Base)
		l.Remove(e)
		e = next
	}
}

// MessagesDeleteIncoming discards every incoming record, releasing store
// references, and zeroes In's stats. Mirrors db__messages_delete_incoming.
func (s *Session) MessagesDeleteIncoming() {
	s.messagesDeleteList(s.In.Inflight)
	s.messagesDeleteList(s.In.Queued)
	zeroStats(s.In)
}

// MessagesDeleteOutgoing discards every outgoing record and zeroes Out's
// stats. Mirrors db__messages_delete_outgoing.
func (s *Session) MessagesDeleteOutgoing() {
	s.messagesDeleteList(s.Out.Inflight)
	s.messagesDeleteList(s.Out.Queued)
	zeroStats(s.Out)
}

// MessagesDelete discards both incoming and outgoing state when forceFree or
// cleanStart is true, matching
// db__messages_delete (bridges excluded; bridge connection management is
// out of this module's scope).
func (s *Session) MessagesDelete(forceFree, cleanStart bool) {
	if forceFree || cleanStart {
		s.MessagesDeleteIncoming()
	}
	if forceFree || cleanStart {
		s.MessagesDeleteOutgoing()
	}
}

// EasyQueue builds a broker-originated BaseMessage (origin OriginBroker,
// source id "") and hands it to the router, which admits it to each
// subscribed session through InsertOutgoing; s's own lists are not touched.
// It's the path $SYS and other internally-generated publishes take. retain
// is forced false when s.limits.RetainAvailable is false, mirroring
// db__messages_easy_queue's db.config->retain_available check.
func (s *Session) EasyQueue(gen interface{ Next() uint64 }, topic string, qos byte, payload []byte, retain bool, messageExpiryTime int64) error {
	if !s.limits.RetainAvailable {
		retain = false
	}
	base := &store.BaseMessage{
		DBID:              gen.Next(),
		Topic:             topic,
		Payload:           payload,
		QoS:               qos,
		Retain:            retain,
		SourceID:          "",
		Origin:            store.OriginBroker,
		MessageExpiryTime: messageExpiryTime,
	}
	if err := s.store.Add(base); err != nil {
		return err
	}
	err := s.router.MessagesQueue("", base.Topic, base.QoS, base.Retain, base.DBID)
	if err != nil && !IsNoSubscribers(err) {
		return err
	}
	return nil
}
