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
	"github.com/yunqi/lighthouse-core/internal/xerror"
)

// InsertResult tells the caller what happened to a message handed to
// InsertOutgoing/InsertIncoming. It replaces the C core's overloaded
// "return 2 means queued-or-dropped" convention with a real tri-state.
type InsertResult int

const (
	Inflight InsertResult = iota
	Queued
	Dropped
)

// removeInflight detaches e from d.Inflight, releases its store reference,
// and notifies persistence. Matches db__message_remove_inflight.
func (s *Session) removeInflight(d *MessageData, e *list.Element) {
	cm := e.Value.(*ClientMessage)
	s.hooks.ClientMsgDelete(s.ID, cm.CmsgID)
	d.Inflight.Remove(e)
	if cm.Base != nil {
		d.removeFromInflightStats(cm)
		s.store.RefDec(&cm.Base)
	}
}

// removeQueued detaches e from d.Queued. Matches db__message_remove_queued.
func (s *Session) removeQueued(d *MessageData, e *list.Element) {
	cm := e.Value.(*ClientMessage)
	s.hooks.ClientMsgDelete(s.ID, cm.CmsgID)
	d.Queued.Remove(e)
	if cm.Base != nil {
		d.removeFromQueuedStats(cm)
		s.store.RefDec(&cm.Base)
	}
}

// notifyBaseMsgAdd fires Hooks.BaseMsgAdd exactly once per BaseMessage, at
// the moment its ref count goes from zero to one. Mirrors
// db__message_insert_outgoing/db__message_insert_incoming, which call
// plugin_persist__handle_base_msg_add right alongside the client-msg-add
// notification.
func (s *Session) notifyBaseMsgAdd(base *store.BaseMessage) {
	if base.RefCount == 0 {
		s.hooks.BaseMsgAdd(base.DBID, base.Topic, base.Payload)
	}
}

// InsertOutgoing admits base for outgoing delivery, mirroring
// db__message_insert_outgoing. cmsgID of 0 assigns the next per-session id.
func (s *Session) InsertOutgoing(cmsgID uint64, mid uint16, qos byte, retain bool, base *store.BaseMessage, subID uint32, update bool) (InsertResult, error) {
	if s.ID == "" {
		return Dropped, nil
	}

	allowDup := s.limits.AllowDuplicateMessages
	if !allowDup && !retain && base.DestIDs != nil {
		if _, sent := base.DestIDs[s.ID]; sent {
			return Inflight, nil
		}
	}

	connected := s.connected()
	if !connected && qos == 0 && !s.limits.QueueQoS0Messages {
		return Dropped, nil
	}

	var state State
	result := Inflight
	if connected {
		if s.Out.ReadyForFlight(Outgoing, qos, s.limits) {
			state = publishStateForQoS(qos)
		} else if qos != 0 && s.Out.ReadyForQueue(qos, connected, s.limits) {
			state = StateQueued
			result = Queued
		} else {
			s.markDropping()
			return Dropped, nil
		}
	} else {
		if s.Out.ReadyForQueue(qos, connected, s.limits) {
			state = StateQueued
			result = Queued
		} else {
			s.markDropping()
			return Dropped, nil
		}
	}

	cm := &ClientMessage{
		CmsgID:                 s.nextCmsgID(cmsgID),
		Base:                   base,
		MID:                    mid,
		Direction:              Outgoing,
		State:                  state,
		QoS:                    capQoS(qos, s.MaxQoS),
		Retain:                 retain,
		SubscriptionIdentifier: subID,
		MessageExpiryTime:      base.MessageExpiryTime,
	}
	s.notifyBaseMsgAdd(base)
	s.store.RefInc(base)

	if state == StateQueued {
		s.Out.Queued.PushBack(cm)
		s.Out.addToQueuedStats(cm)
	} else {
		s.Out.Inflight.PushBack(cm)
		s.Out.addToInflightStats(cm)
	}

	s.hooks.ClientMsgAdd(s.ID, cm.CmsgID, base.DBID, cm.MID, cm.State.String())

	if !allowDup && !retain {
		if base.DestIDs == nil {
			base.DestIDs = make(map[string]struct{})
		}
		base.DestIDs[s.ID] = struct{}{}
	}

	if cm.QoS > 0 && state != StateQueued {
		s.decrementSendQuota()
	}

	if update {
		if err := s.WriteInflightOutLatest(); err != nil {
			return result, err
		}
		if err := s.WriteQueuedOut(); err != nil {
			return result, err
		}
	}
	return result, nil
}

// InsertIncoming admits a QoS 2 base message for incoming delivery,
// mirroring db__message_insert_incoming.
func (s *Session) InsertIncoming(cmsgID uint64, base *store.BaseMessage) (InsertResult, error) {
	if s.ID == "" {
		return Dropped, nil
	}

	var state State
	result := Inflight
	if s.In.ReadyForFlight(Incoming, base.QoS, s.limits) {
		state = StateWaitForPubrel
	} else if base.QoS != 0 && s.In.ReadyForQueue(base.QoS, s.connected(), s.limits) {
		state = StateQueued
		result = Queued
	} else {
		s.markDropping()
		return Dropped, nil
	}

	cm := &ClientMessage{
		CmsgID:            s.nextCmsgID(cmsgID),
		Base:              base,
		MID:               base.SourceMID,
		Direction:         Incoming,
		State:             state,
		QoS:               capQoS(base.QoS, s.MaxQoS),
		Retain:            base.Retain,
		MessageExpiryTime: base.MessageExpiryTime,
	}
	s.notifyBaseMsgAdd(base)
	s.store.RefInc(base)

	if state == StateQueued {
		s.In.Queued.PushBack(cm)
		s.In.addToQueuedStats(cm)
	} else {
		s.In.Inflight.PushBack(cm)
		s.In.addToInflightStats(cm)
	}
	s.hooks.ClientMsgAdd(s.ID, cm.CmsgID, base.DBID, cm.MID, cm.State.String())

	if base.QoS > 0 {
		s.decrementReceiveQuota()
	}
	return result, nil
}

func (s *Session) decrementSendQuota() {
	if s.Out.InflightQuota > 0 {
		s.Out.InflightQuota--
	}
}

func (s *Session) incrementSendQuota() {
	if s.Out.InflightQuota < s.Out.InflightMaximum {
		s.Out.InflightQuota++
	}
}

func (s *Session) decrementReceiveQuota() {
	if s.In.InflightQuota > 0 {
		s.In.InflightQuota--
	}
}

func (s *Session) incrementReceiveQuota() {
	if s.In.InflightQuota < s.In.InflightMaximum {
		s.In.InflightQuota++
	}
}

// writeInflightOutSingle mirrors db__message_write_inflight_out_single.
func (s *Session) writeInflightOutSingle(e *list.Element) error {
	cm := e.Value.(*ClientMessage)

	var expiryInterval int64
	if cm.MessageExpiryTime != 0 {
		now := s.clock.NowUnix()
		if now > cm.MessageExpiryTime {
			if cm.QoS > 0 {
				s.incrementSendQuota()
			}
			s.removeInflight(s.Out, e)
			return nil
		}
		expiryInterval = cm.MessageExpiryTime - now
	}

	switch cm.State {
	case StatePublishQoS0:
		err := s.sender.SendPublish(s.ID, cm, expiryInterval)
		if err == nil || xerror.Is(err, xerror.OversizePacket) {
			s.removeInflight(s.Out, e)
			return nil
		}
		return err

	case StatePublishQoS1:
		err := s.sender.SendPublish(s.ID, cm, expiryInterval)
		if err == nil {
			cm.Dup = true
			cm.State = StateWaitForPuback
			s.hooks.ClientMsgUpdate(s.ID, cm.CmsgID, cm.State.String())
		} else if xerror.Is(err, xerror.OversizePacket) {
			s.removeInflight(s.Out, e)
		} else {
			return err
		}

	case StatePublishQoS2:
		err := s.sender.SendPublish(s.ID, cm, expiryInterval)
		if err == nil {
			cm.Dup = true
			cm.State = StateWaitForPubrec
			s.hooks.ClientMsgUpdate(s.ID, cm.CmsgID, cm.State.String())
		} else if xerror.Is(err, xerror.OversizePacket) {
			s.removeInflight(s.Out, e)
		} else {
			return err
		}

	case StateResendPubrel:
		if err := s.sender.SendPubrel(s.ID, cm.MID); err != nil {
			return err
		}
		cm.State = StateWaitForPubcomp
		s.hooks.ClientMsgUpdate(s.ID, cm.CmsgID, cm.State.String())

	default:
		// wait-for-* and queued states are no-ops here.
	}
	return nil
}

// WriteInflightOutAll drives every outgoing inflight entry, mirroring
// db__message_write_inflight_out_all. Callers gate this on the session
// being connected; an offline session's inflight list is left untouched.
func (s *Session) WriteInflightOutAll() error {
	for e := s.Out.Inflight.Front(); e != nil; {
		next := e.Next()
		if err := s.writeInflightOutSingle(e); err != nil {
			return err
		}
		e = next
	}
	return nil
}

// WriteInflightOutLatest drives only the not-yet-sent tail block of the
// outgoing inflight list, mirroring db__message_write_inflight_out_latest:
// entries already past the bare publish state have already been sent and
// need no retransmit.
func (s *Session) WriteInflightOutLatest() error {
	if s.Out.Inflight.Len() == 0 {
		return nil
	}
	if s.Out.Inflight.Len() == 1 {
		return s.writeInflightOutSingle(s.Out.Inflight.Front())
	}

	tail := s.Out.Inflight.Back()
	for tail != nil {
		cm := tail.Value.(*ClientMessage)
		if cm.State != StatePublishQoS0 && cm.State != StatePublishQoS1 && cm.State != StatePublishQoS2 {
			break
		}
		tail = tail.Prev()
	}

	var start *list.Element
	if tail == nil {
		start = s.Out.Inflight.Front()
	} else {
		start = tail.Next()
	}

	for e := start; e != nil; {
		next := e.Next()
		if err := s.writeInflightOutSingle(e); err != nil {
			return err
		}
		e = next
	}
	return nil
}

// WriteQueuedOut promotes the head of Out.Queued to inflight while it keeps
// passing ReadyForFlight, mirroring db__message_write_queued_out.
func (s *Session) WriteQueuedOut() error {
	for {
		e := s.Out.Queued.Front()
		if e == nil {
			return nil
		}
		cm := e.Value.(*ClientMessage)
		if !s.Out.ReadyForFlight(Outgoing, cm.QoS, s.limits) {
			return nil
		}
		cm.State = publishStateForQoS(cm.QoS)
		s.Out.dequeueFirst()
		s.hooks.ClientMsgUpdate(s.ID, cm.CmsgID, cm.State.String())
	}
}

// WriteQueuedIn promotes queued QoS 2 incoming messages while the receive
// quota allows, emitting PUBREC and transitioning to wait_for_pubrel.
// Mirrors db__message_write_queued_in.
func (s *Session) WriteQueuedIn() error {
	for {
		e := s.In.Queued.Front()
		if e == nil {
			return nil
		}
		if s.In.InflightMaximum != 0 && s.In.InflightQuota == 0 {
			return nil
		}
		cm := e.Value.(*ClientMessage)
		if cm.QoS != 2 {
			return nil
		}
		cm.State = StateSendPubrec
		s.In.dequeueFirst()
		if err := s.sender.SendPubrec(s.ID, cm.MID); err != nil {
			s.hooks.ClientMsgUpdate(s.ID, cm.CmsgID, cm.State.String())
			return err
		}
		cm.State = StateWaitForPubrel
		s.hooks.ClientMsgUpdate(s.ID, cm.CmsgID, cm.State.String())
	}
}

// DeleteOutgoing scans inflight then queued for mid, validating qos and (for
// QoS 2) expectState, removes the match, promotes any queued messages that
// now fit, and drives WriteInflightOutLatest. Mirrors db__message_delete_outgoing.
func (s *Session) DeleteOutgoing(mid uint16, expectState State, qos byte) error {
	deleted := false
	for e := s.Out.Inflight.Front(); e != nil; e = e.Next() {
		cm := e.Value.(*ClientMessage)
		if cm.MID != mid {
			continue
		}
		if cm.QoS != qos {
			return xerror.New(xerror.Protocol, "mid/qos mismatch in outgoing inflight")
		}
		if qos == 2 && cm.State != expectState {
			return xerror.New(xerror.Protocol, "unexpected state for qos2 ack")
		}
		if qos > 0 {
			s.incrementSendQuota()
		}
		s.removeInflight(s.Out, e)
		deleted = true
		break
	}

	if !deleted {
		for e := s.Out.Queued.Front(); e != nil; e = e.Next() {
			cm := e.Value.(*ClientMessage)
			if cm.MID != mid {
				continue
			}
			if cm.QoS != qos {
				return xerror.New(xerror.Protocol, "mid/qos mismatch in outgoing queue")
			}
			if qos == 2 && cm.State != expectState {
				return xerror.New(xerror.Protocol, "unexpected state for qos2 ack")
			}
			s.removeQueued(s.Out, e)
			break
		}
	}

	for {
		e := s.Out.Queued.Front()
		if e == nil {
			break
		}
		cm := e.Value.(*ClientMessage)
		if !s.Out.ReadyForFlight(Outgoing, cm.QoS, s.limits) {
			break
		}
		cm.State = publishStateForQoS(cm.QoS)
		s.hooks.ClientMsgUpdate(s.ID, cm.CmsgID, cm.State.String())
		s.Out.dequeueFirst()
	}

	return s.WriteInflightOutLatest()
}

// UpdateOutgoing sets the state of the matching outgoing inflight entry.
// Mirrors db__message_update_outgoing.
func (s *Session) UpdateOutgoing(mid uint16, newState State, qos byte) error {
	for e := s.Out.Inflight.Front(); e != nil; e = e.Next() {
		cm := e.Value.(*ClientMessage)
		if cm.MID != mid {
			continue
		}
		if cm.QoS != qos {
			return xerror.New(xerror.Protocol, "mid/qos mismatch in outgoing inflight")
		}
		cm.State = newState
		s.hooks.ClientMsgUpdate(s.ID, cm.CmsgID, cm.State.String())
		return nil
	}
	return xerror.New(xerror.NotFound, "mid not found in outgoing inflight")
}

// RemoveIncoming removes a QoS 2 incoming inflight entry by mid. Mirrors
// db__message_remove_incoming.
func (s *Session) RemoveIncoming(mid uint16) error {
	for e := s.In.Inflight.Front(); e != nil; e = e.Next() {
		cm := e.Value.(*ClientMessage)
		if cm.MID != mid {
			continue
		}
		if cm.Base.QoS != 2 {
			return xerror.New(xerror.Protocol, "non-qos2 match for incoming remove")
		}
		s.removeInflight(s.In, e)
		return nil
	}
	return xerror.New(xerror.NotFound, "mid not found in incoming inflight")
}

// ReleaseIncoming handles a PUBREL for a QoS 2 incoming message: hands it to
// the router unless it was already denied (Base.Topic == ""), removes it,
// and promotes any queued QoS 2 incoming that now fits. Mirrors
// db__message_release_incoming.
func (s *Session) ReleaseIncoming(mid uint16) error {
	deleted := false
	for e := s.In.Inflight.Front(); e != nil; e = e.Next() {
		cm := e.Value.(*ClientMessage)
		if cm.MID != mid {
			continue
		}
		if cm.Base.QoS != 2 {
			return xerror.New(xerror.Protocol, "non-qos2 match on release")
		}

		if cm.Base.Topic == "" {
			// A QoS 2 message that was denied/dropped and is being drained
			// so the client stops re-sending it; never routed.
			s.removeInflight(s.In, e)
			deleted = true
			break
		}

		err := s.router.MessagesQueue(cm.Base.SourceID, cm.Base.Topic, 2, cm.Retain, cm.Base.DBID)
		if err == nil || IsNoSubscribers(err) {
			s.removeInflight(s.In, e)
			deleted = true
			break
		}
		return err
	}

	for {
		e := s.In.Queued.Front()
		if e == nil {
			break
		}
		cm := e.Value.(*ClientMessage)
		if !s.In.ReadyForFlight(Incoming, cm.QoS, s.limits) {
			break
		}
		if cm.QoS == 2 {
			if err := s.sender.SendPubrec(s.ID, cm.MID); err != nil {
				return err
			}
			cm.State = StateWaitForPubrel
			s.In.dequeueFirst()
			s.hooks.ClientMsgUpdate(s.ID, cm.CmsgID, cm.State.String())
		} else {
			break
		}
	}

	if deleted {
		return nil
	}
	return xerror.New(xerror.NotFound, "mid not found in incoming inflight")
}
