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
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"

	"go.uber.org/zap"

	"github.com/yunqi/lighthouse-core/internal/code"
	"github.com/yunqi/lighthouse-core/internal/packet"
	"github.com/yunqi/lighthouse-core/internal/session"
	"github.com/yunqi/lighthouse-core/internal/store"
	"github.com/yunqi/lighthouse-core/internal/xerror"
)

// handleConn drives one connection from CONNECT through to disconnect. It
// owns the socket for its whole lifetime and is always run on its own
// pooled goroutine (see ServeTCP/ServeWebsocket).
func (s *Server) handleConn(conn rawConn) {
	_, span := s.tracer.Start(context.Background(), "transport.connection")
	defer span.End()
	defer conn.Close()

	fh, err := packet.ReadFixedHeader(conn)
	if err != nil {
		return
	}
	if fh.PacketType != packet.CONNECT {
		return // [MQTT-3.1.0-1]: first packet from a client must be CONNECT
	}

	connectPkt, err := packet.NewConnect(fh, packet.Version311, conn)
	if err != nil {
		s.log.Debug("malformed connect", zap.Error(err))
		return
	}

	clientID := string(connectPkt.ClientId)
	if clientID == "" {
		clientID = generateClientID()
	}

	sess, sessionPresent := s.bindSession(clientID, connectPkt.CleanSession)
	s.router.RegisterSession(sess)
	s.manager.Bind(clientID, conn, s.opts.MaxPacketSize)
	defer func() {
		s.manager.Unbind(clientID, conn)
		s.router.UnregisterSession(clientID)
	}()

	ack := connectPkt.NewConnackPacket(code.Success, sessionPresent)
	var ackBuf bytes.Buffer
	if err := ack.Encode(&ackBuf); err != nil {
		return
	}
	if _, err := conn.Write(ackBuf.Bytes()); err != nil {
		return
	}
	s.log.Info("client connected",
		zap.String("client_id", clientID),
		zap.Bool("clean_session", connectPkt.CleanSession),
		zap.Bool("session_present", sessionPresent))

	// A resumed session may have inflight/queued work waiting from before
	// this client reconnected.
	if err := sess.WriteInflightOutAll(); err != nil {
		s.log.Warn("write inflight on reconnect", zap.String("client_id", clientID), zap.Error(err))
		return
	}
	if err := sess.WriteQueuedOut(); err != nil {
		s.log.Warn("write queued on reconnect", zap.String("client_id", clientID), zap.Error(err))
		return
	}

	s.readLoop(conn, clientID, sess)
}

// bindSession returns the Session to use for clientID, creating one if
// needed. cleanSession wipes any prior state for the id per [MQTT-3.1.2-6];
// otherwise an existing session is resumed (sessionPresent=true) and reset
// for redelivery per ReconnectReset.
func (s *Server) bindSession(clientID string, cleanSession bool) (sess *session.Session, sessionPresent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[clientID]
	if cleanSession {
		if ok {
			existing.MessagesDelete(true, true)
		}
		sess = s.newSession(clientID)
		sess.CleanStart = true
		s.sessions[clientID] = sess
		return sess, false
	}

	if ok {
		existing.ReconnectReset()
		return existing, true
	}

	sess = s.newSession(clientID)
	s.sessions[clientID] = sess
	return sess, false
}

func (s *Server) newSession(clientID string) *session.Session {
	return session.New(clientID, session.Config{
		MaxQoS:          s.opts.MaxQoS,
		InflightMaximum: s.opts.InflightMaximum,
		Limits:          s.opts.Limits,
		Store:           s.store,
		Sender:          s.manager,
		Router:          s.router,
		Clock:           realClock{},
		Hooks:           s.hooks,
	})
}

func (s *Server) readLoop(conn rawConn, clientID string, sess *session.Session) {
	for {
		fh, err := packet.ReadFixedHeader(conn)
		if err != nil {
			return
		}

		switch fh.PacketType {
		case packet.PUBLISH:
			if err := s.handlePublish(clientID, sess, fh, conn); err != nil {
				s.log.Warn("publish", zap.String("client_id", clientID), zap.Error(err))
				return
			}
		case packet.PUBACK:
			mid, err := decodeMidOnly(fh, conn)
			if err != nil {
				return
			}
			if err := sess.DeleteOutgoing(mid, session.StateWaitForPuback, 1); err != nil && !xerror.Is(err, xerror.NotFound) {
				s.log.Warn("puback", zap.String("client_id", clientID), zap.Error(err))
				return
			}
		case packet.PUBREC:
			mid, err := decodeMidOnly(fh, conn)
			if err != nil {
				return
			}
			if err := sess.UpdateOutgoing(mid, session.StateResendPubrel, 2); err != nil {
				if !xerror.Is(err, xerror.NotFound) {
					s.log.Warn("pubrec", zap.String("client_id", clientID), zap.Error(err))
					return
				}
				continue
			}
			if err := sess.WriteInflightOutLatest(); err != nil {
				s.log.Warn("pubrec resend pubrel", zap.String("client_id", clientID), zap.Error(err))
				return
			}
		case packet.PUBREL:
			mid, err := decodeMidOnly(fh, conn)
			if err != nil {
				return
			}
			if err := sess.ReleaseIncoming(mid); err != nil && !xerror.Is(err, xerror.NotFound) {
				s.log.Warn("pubrel", zap.String("client_id", clientID), zap.Error(err))
				return
			}
			if c, ok := s.manager.get(clientID); ok {
				if err := c.sendPubcomp(mid); err != nil {
					return
				}
			}
		case packet.PUBCOMP:
			mid, err := decodeMidOnly(fh, conn)
			if err != nil {
				return
			}
			if err := sess.DeleteOutgoing(mid, session.StateWaitForPubcomp, 2); err != nil && !xerror.Is(err, xerror.NotFound) {
				s.log.Warn("pubcomp", zap.String("client_id", clientID), zap.Error(err))
				return
			}
		case packet.SUBSCRIBE:
			if err := s.handleSubscribe(clientID, fh, conn); err != nil {
				return
			}
		case packet.UNSUBSCRIBE:
			if err := s.handleUnsubscribe(clientID, fh, conn); err != nil {
				return
			}
		case packet.PINGREQ:
			if _, err := io.CopyN(io.Discard, conn, int64(fh.RemainLength)); err != nil {
				return
			}
			if c, ok := s.manager.get(clientID); ok {
				if err := c.sendPingresp(); err != nil {
					return
				}
			}
		case packet.DISCONNECT:
			return
		default:
			if _, err := io.CopyN(io.Discard, conn, int64(fh.RemainLength)); err != nil {
				return
			}
		}
	}
}

// handlePublish admits an inbound PUBLISH: QoS 0/1 are routed immediately
// and QoS 1 is ack'd right away; QoS 2 goes through InsertIncoming so a
// retransmitted PUBLISH (same source mid) doesn't get routed twice before
// the client's PUBREL arrives.
func (s *Server) handlePublish(clientID string, sess *session.Session, fh *packet.FixedHeader, r io.Reader) error {
	pub, err := decodePublish(fh, r)
	if err != nil {
		return err
	}

	if pub.QoS < 2 {
		if err := s.routePublish(clientID, pub.Topic, pub.Payload, pub.QoS, pub.Retain); err != nil {
			return err
		}
		if pub.QoS == 1 {
			if c, ok := s.manager.get(clientID); ok {
				return c.sendPuback(pub.MID)
			}
		}
		return nil
	}

	if _, found := sess.FindBySourceMID(pub.MID); found {
		if c, ok := s.manager.get(clientID); ok {
			return c.sendPubrec(pub.MID)
		}
		return nil
	}

	base := &store.BaseMessage{
		DBID:      s.msgid.Next(),
		Topic:     pub.Topic,
		Payload:   pub.Payload,
		QoS:       2,
		Retain:    pub.Retain,
		SourceID:  clientID,
		SourceMID: pub.MID,
		Origin:    store.OriginClient,
	}
	if err := s.store.Add(base); err != nil {
		return err
	}

	result, err := sess.InsertIncoming(0, base)
	if err != nil {
		return err
	}
	switch result {
	case session.Inflight:
		if c, ok := s.manager.get(clientID); ok {
			return c.sendPubrec(pub.MID)
		}
	case session.Dropped:
		s.store.Remove(base, false)
	case session.Queued:
		// PUBREC follows once receive quota frees up, via ReleaseIncoming's
		// own queued-promotion pass.
	}
	return nil
}

// routePublish assigns base a store entry and fans it out through the
// router. A router.MessagesQueue "no subscribers" result is informational:
// the base message is discarded immediately since nothing ever took a
// reference on it.
func (s *Server) routePublish(sourceID, topic string, payload []byte, qos byte, retain bool) error {
	base := &store.BaseMessage{
		DBID:     s.msgid.Next(),
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retain:   retain,
		SourceID: sourceID,
		Origin:   store.OriginClient,
	}
	if err := s.store.Add(base); err != nil {
		return err
	}
	if err := s.router.MessagesQueue(sourceID, topic, qos, retain, base.DBID); err != nil {
		if xerror.Is(err, xerror.NoSubscribers) {
			s.store.Remove(base, false)
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) handleSubscribe(clientID string, fh *packet.FixedHeader, r io.Reader) error {
	mid, filters, err := decodeSubscribe(fh, r)
	if err != nil {
		return err
	}
	granted := make([]byte, len(filters))
	for i, f := range filters {
		qos := f.QoS
		if qos > s.opts.MaxQoS {
			qos = s.opts.MaxQoS
		}
		s.router.Subscribe(clientID, f.Topic, qos, 0)
		granted[i] = qos
	}
	c, ok := s.manager.get(clientID)
	if !ok {
		return xerror.New(xerror.Invalid, "no live connection for subscribe ack")
	}
	return c.sendSuback(mid, granted)
}

func (s *Server) handleUnsubscribe(clientID string, fh *packet.FixedHeader, r io.Reader) error {
	mid, topics, err := decodeUnsubscribe(fh, r)
	if err != nil {
		return err
	}
	for _, topic := range topics {
		s.router.Unsubscribe(clientID, topic)
	}
	c, ok := s.manager.get(clientID)
	if !ok {
		return xerror.New(xerror.Invalid, "no live connection for unsubscribe ack")
	}
	return c.sendUnsuback(mid)
}

// generateClientID returns an identifier for a client that connected with a
// zero-length client id and CleanSession true, the one case [MQTT-3.1.3-7]
// permits it.
func generateClientID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return "auto-" + hex.EncodeToString(b[:])
}
