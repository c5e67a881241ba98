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
	"go.uber.org/zap"

	"github.com/yunqi/lighthouse-core/internal/persistence"
	"github.com/yunqi/lighthouse-core/internal/store"
	"github.com/yunqi/lighthouse-core/internal/xlog"
)

// Session is the per-client delivery-state engine: a pair of MessageData
// (outgoing and incoming-QoS2), the admission limits it was configured
// with, and the collaborators it drives I/O and routing through.
type Session struct {
	ID         string
	MaxQoS     byte
	CleanStart bool

	Out *MessageData
	In  *MessageData

	// IsDropping latches true the first time a message is dropped for full
	// queues, so the "messages are being dropped" log line fires once per
	// transition instead of once per drop.
	IsDropping bool

	lastCmsgID uint64
	lastMID    uint16
	limits     Limits
	store      *store.Store

	sender Sender
	router Router
	clock  Clock
	hooks  persistence.Hooks

	log *xlog.Log
}

// Config bundles the pieces New needs beyond a bare client id.
type Config struct {
	MaxQoS          byte
	InflightMaximum uint16
	Limits          Limits
	Store           *store.Store
	Sender          Sender
	Router          Router
	Clock           Clock
	Hooks           persistence.Hooks
}

// New returns a fresh Session for clientID.
func New(clientID string, cfg Config) *Session {
	hooks := cfg.Hooks
	if hooks == nil {
		hooks = persistence.NoopHooks{}
	}
	return &Session{
		ID:     clientID,
		MaxQoS: cfg.MaxQoS,
		Out:    NewMessageData(cfg.InflightMaximum),
		In:     NewMessageData(cfg.InflightMaximum),
		limits: cfg.Limits,
		store:  cfg.Store,
		sender: cfg.Sender,
		router: cfg.Router,
		clock:  cfg.Clock,
		hooks:  hooks,
		log:    xlog.LoggerModule("session"),
	}
}

func (s *Session) nextCmsgID(requested uint64) uint64 {
	if requested != 0 {
		return requested
	}
	s.lastCmsgID++
	return s.lastCmsgID
}

func (s *Session) connected() bool {
	return s.sender.IsConnected(s.ID)
}

// NextMID returns the next 16-bit packet identifier for this session's
// outgoing QoS 1/2 deliveries, wrapping from 65535 back to 1 (0 is reserved
// by the protocol for "no packet identifier"). Callers assigning a mid for
// InsertOutgoing on behalf of a QoS 0 delivery can ignore this and pass 0.
func (s *Session) NextMID() uint16 {
	s.lastMID++
	if s.lastMID == 0 {
		s.lastMID = 1
	}
	return s.lastMID
}

// markDropping latches IsDropping and logs the transition exactly once.
func (s *Session) markDropping() {
	if s.IsDropping {
		return
	}
	s.IsDropping = true
	s.log.Info("outgoing messages are being dropped for client", zap.String("client_id", s.ID))
}

func capQoS(qos, maxQoS byte) byte {
	if qos > maxQoS {
		return maxQoS
	}
	return qos
}

// FindBySourceMID scans incoming inflight then queued for the first
// ClientMessage whose base message's SourceMID matches mid.
func (s *Session) FindBySourceMID(mid uint16) (*store.BaseMessage, bool) {
	for e := s.In.Inflight.Front(); e != nil; e = e.Next() {
		cm := e.Value.(*ClientMessage)
		if cm.Base.SourceMID == mid {
			return cm.Base, true
		}
	}
	for e := s.In.Queued.Front(); e != nil; e = e.Next() {
		cm := e.Value.(*ClientMessage)
		if cm.Base.SourceMID == mid {
			return cm.Base, true
		}
	}
	return nil, false
}
