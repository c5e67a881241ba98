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

// Package transport is the wire-I/O collaborator internal/session drives
// delivery through: it implements session.Sender over a live TCP or
// websocket connection, runs the accept loop that turns a CONNECT into a
// Session, and fans SUBSCRIBE/UNSUBSCRIBE into internal/router.
//
// internal/packet's own doc comment scopes itself to CONNECT/CONNACK only;
// everything else on the wire (PUBLISH and the rest of the QoS handshake,
// plus SUBSCRIBE/SUBACK/UNSUBSCRIBE/UNSUBACK/PINGREQ/PINGRESP/DISCONNECT)
// is framed directly here, on top of packet.FixedHeader and internal/binary.
package transport

import (
	"bytes"
	"io"

	"github.com/yunqi/lighthouse-core/internal/binary"
	"github.com/yunqi/lighthouse-core/internal/packet"
	"github.com/yunqi/lighthouse-core/internal/xerror"
)

// pubrelFlags is the reserved flags nibble [MQTT-3.6.1-1] requires on PUBREL,
// SUBSCRIBE and UNSUBSCRIBE: 0,0,1,0.
const pubrelFlags byte = 0x02

// writeFramed assembles fh+body in memory and issues exactly one Write to
// w. packet.Encode itself issues up to three small writes; collapsing them
// into one matters for the websocket transport, where each underlying
// Write call becomes its own WebSocket message and must therefore carry
// exactly one complete MQTT packet.
func writeFramed(w io.Writer, fh *packet.FixedHeader, body *bytes.Buffer) error {
	frame := &bytes.Buffer{}
	if err := packet.Encode(fh, body, frame); err != nil {
		return err
	}
	_, err := w.Write(frame.Bytes())
	return err
}

// encodePublish writes a PUBLISH packet. mid is ignored (and omitted from
// the wire) when qos is 0.
func encodePublish(w io.Writer, mid uint16, topic string, payload []byte, qos byte, retain, dup bool) error {
	buf := &bytes.Buffer{}
	topicBytes, _, err := packet.UTF8EncodedStrings([]byte(topic))
	if err != nil {
		return err
	}
	buf.Write(topicBytes)
	if qos > 0 {
		if err := binary.WriteUint16(buf, mid); err != nil {
			return err
		}
	}
	buf.Write(payload)

	var flags byte
	if dup {
		flags |= 0x08
	}
	flags |= qos << 1
	if retain {
		flags |= 0x01
	}
	fh := &packet.FixedHeader{PacketType: packet.PUBLISH, Flags: flags}
	return writeFramed(w, fh, buf)
}

// decodedPublish is a wire PUBLISH decoded far enough to admit into a
// session: it deliberately does not parse MQTT 5 properties, matching this
// module's v3.1.1-shaped QoS handshake.
type decodedPublish struct {
	Topic  string
	MID    uint16
	QoS    byte
	Retain bool
	Dup    bool
	Payload []byte
}

func decodePublish(fh *packet.FixedHeader, r io.Reader) (*decodedPublish, error) {
	body := make([]byte, fh.RemainLength)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	buf := bytes.NewBuffer(body)

	topic, err := packet.UTF8DecodedStrings(true, buf)
	if err != nil {
		return nil, err
	}

	qos := (fh.Flags >> 1) & 0x03
	if qos > 2 {
		return nil, xerror.ErrMalformed
	}

	var mid uint16
	if qos > 0 {
		mid, err = binary.ReadUint16(buf)
		if err != nil {
			return nil, xerror.ErrMalformed
		}
	}

	return &decodedPublish{
		Topic:   string(topic),
		MID:     mid,
		QoS:     qos,
		Retain:  fh.Flags&0x01 != 0,
		Dup:     fh.Flags&0x08 != 0,
		Payload: buf.Bytes(),
	}, nil
}

// encodeMidOnly writes the shape shared by PUBACK, PUBREC, PUBREL, PUBCOMP
// and UNSUBACK: a fixed header plus a bare 2-byte packet identifier and
// nothing else.
func encodeMidOnly(w io.Writer, pt packet.PacketType, flags byte, mid uint16) error {
	buf := &bytes.Buffer{}
	if err := binary.WriteUint16(buf, mid); err != nil {
		return err
	}
	fh := &packet.FixedHeader{PacketType: pt, Flags: flags}
	return writeFramed(w, fh, buf)
}

// decodeMidOnly reads a PUBACK/PUBREC/PUBREL/PUBCOMP body: the first two
// bytes are always the packet identifier. A v5 peer may append a reason
// code and properties the rest of this module never looks at; the full
// body is still consumed here so the connection's byte stream doesn't
// desync on the next packet's fixed header.
func decodeMidOnly(fh *packet.FixedHeader, r io.Reader) (uint16, error) {
	body := make([]byte, fh.RemainLength)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, err
	}
	if len(body) < 2 {
		return 0, xerror.ErrMalformed
	}
	return binary.ReadUint16(bytes.NewReader(body[:2]))
}

func encodePuback(w io.Writer, mid uint16) error {
	return encodeMidOnly(w, packet.PUBACK, packet.FixedHeaderFlagReserved, mid)
}

func encodePubrec(w io.Writer, mid uint16) error {
	return encodeMidOnly(w, packet.PUBREC, packet.FixedHeaderFlagReserved, mid)
}

func encodePubrel(w io.Writer, mid uint16) error {
	return encodeMidOnly(w, packet.PUBREL, pubrelFlags, mid)
}

func encodePubcomp(w io.Writer, mid uint16) error {
	return encodeMidOnly(w, packet.PUBCOMP, packet.FixedHeaderFlagReserved, mid)
}

// subscribeFilter is one (topic filter, requested QoS) pair out of a
// SUBSCRIBE packet's payload.
type subscribeFilter struct {
	Topic string
	QoS   byte
}

func decodeSubscribe(fh *packet.FixedHeader, r io.Reader) (mid uint16, filters []subscribeFilter, err error) {
	body := make([]byte, fh.RemainLength)
	if _, err = io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	buf := bytes.NewBuffer(body)

	mid, err = binary.ReadUint16(buf)
	if err != nil {
		return 0, nil, xerror.ErrMalformed
	}

	for buf.Len() > 0 {
		topic, err := packet.UTF8DecodedStrings(true, buf)
		if err != nil {
			return 0, nil, xerror.ErrMalformed
		}
		qosByte, err := buf.ReadByte()
		if err != nil {
			return 0, nil, xerror.ErrMalformed
		}
		filters = append(filters, subscribeFilter{Topic: string(topic), QoS: qosByte & 0x03})
	}
	if len(filters) == 0 {
		return 0, nil, xerror.ErrMalformed // [MQTT-3.8.3-3]
	}
	return mid, filters, nil
}

func encodeSuback(w io.Writer, mid uint16, grantedQoS []byte) error {
	buf := &bytes.Buffer{}
	if err := binary.WriteUint16(buf, mid); err != nil {
		return err
	}
	buf.Write(grantedQoS)
	fh := &packet.FixedHeader{PacketType: packet.SUBACK, Flags: packet.FixedHeaderFlagReserved}
	return writeFramed(w, fh, buf)
}

func decodeUnsubscribe(fh *packet.FixedHeader, r io.Reader) (mid uint16, topics []string, err error) {
	body := make([]byte, fh.RemainLength)
	if _, err = io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	buf := bytes.NewBuffer(body)

	mid, err = binary.ReadUint16(buf)
	if err != nil {
		return 0, nil, xerror.ErrMalformed
	}
	for buf.Len() > 0 {
		topic, err := packet.UTF8DecodedStrings(true, buf)
		if err != nil {
			return 0, nil, xerror.ErrMalformed
		}
		topics = append(topics, string(topic))
	}
	if len(topics) == 0 {
		return 0, nil, xerror.ErrMalformed // [MQTT-3.10.3-2]
	}
	return mid, topics, nil
}

func encodeUnsuback(w io.Writer, mid uint16) error {
	return encodeMidOnly(w, packet.UNSUBACK, packet.FixedHeaderFlagReserved, mid)
}

func encodePingresp(w io.Writer) error {
	fh := &packet.FixedHeader{PacketType: packet.PINGRESP, Flags: packet.FixedHeaderFlagReserved}
	return writeFramed(w, fh, &bytes.Buffer{})
}
