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

// Package packet implements the handful of MQTT control packets the core
// needs to drive a handshake far enough to hand the connection to
// internal/session: CONNECT and CONNACK. Everything else (PUBLISH and the
// rest of the QoS handshake packets) is framed by internal/transport on top
// of this package's FixedHeader instead of being owned here.
package packet

import (
	"bytes"
	"io"
	"math"

	"github.com/yunqi/lighthouse-core/internal/binary"
	"github.com/yunqi/lighthouse-core/internal/xerror"
)

// Version is the MQTT protocol level carried in CONNECT.
type Version byte

const (
	Version3   Version = 3 // MQTT 3.1
	Version311 Version = 4 // MQTT 3.1.1
	Version5   Version = 5 // MQTT 5.0
)

var version2protocolName = map[Version][]byte{
	Version3:   []byte("MQIsdp"),
	Version311: []byte("MQTT"),
	Version5:   []byte("MQTT"),
}

// IsVersion3 reports whether v is one of the 3.x protocol levels, as opposed
// to 5.0. A handful of MQTT-3.1.x-* requirements only apply to this group.
func IsVersion3(v Version) bool {
	return v == Version3 || v == Version311
}

// PacketType is the MQTT control packet type, the top nibble of the fixed
// header's first byte.
type PacketType byte

const (
	_ PacketType = iota
	CONNECT
	CONNACK
	PUBLISH
	PUBACK
	PUBREC
	PUBREL
	PUBCOMP
	SUBSCRIBE
	SUBACK
	UNSUBSCRIBE
	UNSUBACK
	PINGREQ
	PINGRESP
	DISCONNECT
	AUTH
)

// FixedHeaderFlagReserved is the fixed-header flags nibble CONNECT, CONNACK,
// PUBACK, PUBREC, SUBACK, UNSUBACK, PINGREQ, PINGRESP and DISCONNECT must
// carry (0000b), per [MQTT-2.2.2-2].
const FixedHeaderFlagReserved byte = 0x00

// FixedHeader is the 1-3 byte header shared by every MQTT control packet:
// packet type + flags nibble, followed by a variable-length remaining-length
// field.
type FixedHeader struct {
	PacketType   PacketType
	Flags        byte
	RemainLength uint32
}

// Encode writes fh followed by the contents of body to w. Exported so
// internal/transport can frame the PUBLISH/PUBACK/PUBREC/PUBREL/PUBCOMP/
// SUBSCRIBE/SUBACK/UNSUBSCRIBE/UNSUBACK/PINGREQ/PINGRESP/DISCONNECT packets
// this package itself declines to decode or encode — they stay this
// package's FixedHeader framing without becoming this package's concern.
func Encode(fh *FixedHeader, body *bytes.Buffer, w io.Writer) error {
	return encode(fh, body, w)
}

// ReadFixedHeader decodes the packet-type/flags byte followed by the
// variable-length remaining-length field from the front of r.
func ReadFixedHeader(r io.Reader) (*FixedHeader, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, err
	}
	length, err := ReadRemainLength(r)
	if err != nil {
		return nil, err
	}
	return &FixedHeader{
		PacketType:   PacketType(b[0] >> 4),
		Flags:        b[0] & 0x0F,
		RemainLength: length,
	}, nil
}

// encode writes the fixed header followed by the contents of body to w.
func encode(fh *FixedHeader, body *bytes.Buffer, w io.Writer) error {
	fh.RemainLength = uint32(body.Len())
	if _, err := w.Write([]byte{byte(fh.PacketType)<<4 | fh.Flags}); err != nil {
		return err
	}
	if err := writeRemainLength(w, fh.RemainLength); err != nil {
		return err
	}
	_, err := w.Write(body.Bytes())
	return err
}

func writeRemainLength(w io.Writer, length uint32) error {
	for {
		b := byte(length % 128)
		length /= 128
		if length > 0 {
			b |= 0x80
		}
		if _, err := w.Write([]byte{b}); err != nil {
			return err
		}
		if length == 0 {
			return nil
		}
	}
}

// ReadRemainLength decodes the variable-length remaining-length field from
// the front of r.
func ReadRemainLength(r io.Reader) (uint32, error) {
	var (
		multiplier uint32 = 1
		value      uint32
		b          [1]byte
	)
	for i := 0; i < 4; i++ {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		value += uint32(b[0]&0x7f) * multiplier
		if b[0]&0x80 == 0 {
			return value, nil
		}
		multiplier *= 128
	}
	return 0, xerror.ErrMalformed
}

func writeUint16(w io.Writer, v uint16) error {
	return binary.WriteUint16(w, v)
}

func readUint16(r io.Reader) (uint16, error) {
	return binary.ReadUint16(r)
}

// UTF8EncodedStrings encodes b as an MQTT UTF-8 string: a 2-byte length
// prefix followed by the bytes. It returns the encoded form, its length, and
// an error if b is too long to be length-prefixed by 2 bytes.
func UTF8EncodedStrings(b []byte) ([]byte, int, error) {
	if len(b) > math.MaxUint16 {
		return nil, 0, xerror.ErrMalformed
	}
	buf := &bytes.Buffer{}
	if err := binary.WriteString(buf, b); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), buf.Len(), nil
}

// UTF8DecodedStrings decodes an MQTT UTF-8 string from buf. A failed read is
// always an error: xerror.ErrMalformed when required is true, the underlying
// read error otherwise.
func UTF8DecodedStrings(required bool, buf *bytes.Buffer) ([]byte, error) {
	s, err := binary.ReadString(buf)
	if err != nil {
		if required {
			return nil, xerror.ErrMalformed
		}
		return nil, err
	}
	return []byte(s), nil
}

func readUint32(r io.Reader) (uint32, error) {
	return binary.ReadUint32(r)
}

func writeUint32(w io.Writer, v uint32) error {
	return binary.WriteUint32(w, v)
}
