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

// Package xerror defines the error vocabulary shared by the packet codec and
// the session core.
package xerror

import "fmt"

// Kind classifies a core error so callers can react without string matching.
type Kind uint8

const (
	_ Kind = iota
	// Invalid marks a nil session, missing topic, or other caller misuse.
	Invalid
	// NoMem marks an allocation failure.
	NoMem
	// Protocol marks a QoS or state mismatch while correlating an ack.
	Protocol
	// NotFound marks an ack for an unknown mid.
	NotFound
	// AlreadyExists marks a duplicate db_id insert into the message store.
	AlreadyExists
	// NoSubscribers is informational: the router had nobody to deliver to.
	// Callers treat it as success.
	NoSubscribers
	// OversizePacket is informational: the sender couldn't fit the packet on
	// the wire. Callers drop the message without retrying.
	OversizePacket
)

func (k Kind) String() string {
	switch k {
	case Invalid:
		return "invalid"
	case NoMem:
		return "nomem"
	case Protocol:
		return "protocol"
	case NotFound:
		return "not_found"
	case AlreadyExists:
		return "already_exists"
	case NoSubscribers:
		return "no_subscribers"
	case OversizePacket:
		return "oversize_packet"
	default:
		return "unknown"
	}
}

// Error is a Kind-tagged error. Two Errors of the same Kind compare equal
// under errors.Is regardless of message, so callers can write
// errors.Is(err, xerror.New(xerror.Protocol, "")).
type Error struct {
	Kind Kind
	Msg  string
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

// Packet-decode sentinels used by internal/packet/connect.go and
// internal/transport/frame.go.
var (
	ErrMalformed                     = New(Invalid, "malformed packet")
	ErrV3UnacceptableProtocolVersion = New(Invalid, "unacceptable protocol version")
	ErrV3IdentifierRejected          = New(Invalid, "identifier rejected")
)
