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

package transport

import (
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/yunqi/lighthouse-core/internal/session"
	"github.com/yunqi/lighthouse-core/internal/xerror"
	"github.com/yunqi/lighthouse-core/internal/xlog"
)

// wireConn is the subset of net.Conn / *websocket.Conn this package needs
// to write frames to. A TCP net.Conn and ws.go's wsConn each satisfy it.
type wireConn interface {
	io.Writer
	io.Closer
}

// connection is one client's live socket, guarded by a write mutex since
// SendPublish/SendPubrec/SendPubrel can be called concurrently from this
// client's own read loop (acking a just-received packet) and from other
// clients' read loops fanning a publish out to this session.
type connection struct {
	mu       sync.Mutex
	conn     wireConn
	maxPacketSize uint32
}

// Manager implements session.Sender for every currently-connected client,
// and is also where a Session gets bound to (and unbound from) the socket
// that owns it. One Manager is shared by the TCP and websocket listeners.
type Manager struct {
	mu    sync.Mutex
	conns map[string]*connection
	log   *xlog.Log
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{
		conns: make(map[string]*connection),
		log:   xlog.LoggerModule("transport"),
	}
}

// Bind registers conn as clientID's live socket, replacing (and closing)
// any previous one — a new CONNECT from the same client id takes over the
// session per [MQTT-3.1.4-2].
func (m *Manager) Bind(clientID string, conn wireConn, maxPacketSize uint32) {
	m.mu.Lock()
	old, existed := m.conns[clientID]
	m.conns[clientID] = &connection{conn: conn, maxPacketSize: maxPacketSize}
	m.mu.Unlock()

	if existed {
		m.log.Info("new connection takes over existing client id", zap.String("client_id", clientID))
		_ = old.conn.Close()
	}
}

// Unbind removes clientID's live socket. Called once its read loop exits.
// It is a no-op if conn is not the currently-bound socket (a newer Bind
// already replaced it).
func (m *Manager) Unbind(clientID string, conn wireConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[clientID]; ok && c.conn == conn {
		delete(m.conns, clientID)
	}
}

func (m *Manager) get(clientID string) (*connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[clientID]
	return c, ok
}

// IsConnected implements session.Sender.
func (m *Manager) IsConnected(clientID string) bool {
	_, ok := m.get(clientID)
	return ok
}

// SendPublish implements session.Sender. expiryInterval is accepted for
// interface parity with a v5 PUBLISH's message-expiry-interval property but
// unused here: this module's wire framing targets v3.1.1, which has no such
// property to carry it in.
func (m *Manager) SendPublish(clientID string, msg *session.ClientMessage, expiryInterval int64) error {
	c, ok := m.get(clientID)
	if !ok {
		return xerror.New(xerror.Invalid, "no live connection for client")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxPacketSize > 0 && uint32(len(msg.Base.Payload))+uint32(len(msg.Base.Topic))+8 > c.maxPacketSize {
		return xerror.New(xerror.OversizePacket, "publish exceeds connection max packet size")
	}
	return encodePublish(c.conn, msg.MID, msg.Base.Topic, msg.Base.Payload, msg.QoS, msg.Retain, msg.Dup)
}

// SendPubrec implements session.Sender.
func (m *Manager) SendPubrec(clientID string, mid uint16) error {
	c, ok := m.get(clientID)
	if !ok {
		return xerror.New(xerror.Invalid, "no live connection for client")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return encodePubrec(c.conn, mid)
}

// SendPubrel implements session.Sender.
func (m *Manager) SendPubrel(clientID string, mid uint16) error {
	c, ok := m.get(clientID)
	if !ok {
		return xerror.New(xerror.Invalid, "no live connection for client")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return encodePubrel(c.conn, mid)
}

// sendPuback and sendPubcomp are not part of session.Sender: this module's
// QoS handshake state machine (internal/session) only ever emits PUBLISH
// and PUBREC/PUBREL on the outgoing side, so PUBACK/PUBCOMP are written
// directly by the accept loop the moment it decodes the matching inbound
// ack, instead of round-tripping through Session first.
func (c *connection) sendPuback(mid uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return encodePuback(c.conn, mid)
}

func (c *connection) sendPubcomp(mid uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return encodePubcomp(c.conn, mid)
}

func (c *connection) sendSuback(mid uint16, grantedQoS []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return encodeSuback(c.conn, mid, grantedQoS)
}

func (c *connection) sendUnsuback(mid uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return encodeUnsuback(c.conn, mid)
}

func (c *connection) sendPingresp() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return encodePingresp(c.conn)
}
