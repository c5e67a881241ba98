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

// Package session holds the per-session delivery-state engine: the
// inflight/queued list pair, the admission predicates that decide which
// list a newly-admitted message lands in, the QoS handshake state machine
// driving messages across those lists, and the reconnect/expiry sweeps.
//
// Every exported method here is meant to run on the single goroutine that
// owns a Session — there is no internal locking beyond what's needed to let
// internal/store and internal/persistence be touched safely from elsewhere.
package session

import "github.com/yunqi/lighthouse-core/internal/store"

// Direction is which way a ClientMessage is traveling.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

// State is a ClientMessage's position in the QoS handshake.
type State int

const (
	StateInvalid State = iota
	StatePublishQoS0
	StatePublishQoS1
	StatePublishQoS2
	StateWaitForPuback
	StateWaitForPubrec
	StateWaitForPubrel
	StateWaitForPubcomp
	StateSendPubrec
	StateResendPubrel
	StateResendPubcomp
	StateQueued
)

func (s State) String() string {
	switch s {
	case StatePublishQoS0:
		return "publish_qos0"
	case StatePublishQoS1:
		return "publish_qos1"
	case StatePublishQoS2:
		return "publish_qos2"
	case StateWaitForPuback:
		return "wait_for_puback"
	case StateWaitForPubrec:
		return "wait_for_pubrec"
	case StateWaitForPubrel:
		return "wait_for_pubrel"
	case StateWaitForPubcomp:
		return "wait_for_pubcomp"
	case StateSendPubrec:
		return "send_pubrec"
	case StateResendPubrel:
		return "resend_pubrel"
	case StateResendPubcomp:
		return "resend_pubcomp"
	case StateQueued:
		return "queued"
	default:
		return "invalid"
	}
}

// publishStateForQoS returns the initial on-wire publish state for qos.
func publishStateForQoS(qos byte) State {
	switch qos {
	case 1:
		return StatePublishQoS1
	case 2:
		return StatePublishQoS2
	default:
		return StatePublishQoS0
	}
}

// ClientMessage is one session's delivery record for a BaseMessage. It
// holds exactly one store reference for its lifetime; the reference is
// released the moment the record is removed from its list.
type ClientMessage struct {
	CmsgID                 uint64
	Base                   *store.BaseMessage
	MID                    uint16
	Direction              Direction
	State                  State
	QoS                    byte
	Retain                 bool
	Dup                    bool
	SubscriptionIdentifier uint32

	// MessageExpiryTime is the absolute second this record must be dropped
	// by, copied from Base at admission time since Base is shared and its
	// own expiry may differ (e.g. a retained message resent later).
	MessageExpiryTime int64
}
