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

import "github.com/yunqi/lighthouse-core/internal/xerror"

// Sender is the wire-I/O collaborator a Session drives delivery through.
// Implementations live in internal/transport; this package never touches a
// socket directly.
type Sender interface {
	// SendPublish writes a PUBLISH for msg. It returns xerror.OversizePacket
	// if the packet can't fit on the wire for this connection; that is not
	// a transport error, it is an instruction to drop the message.
	SendPublish(clientID string, msg *ClientMessage, expiryInterval int64) error
	SendPubrec(clientID string, mid uint16) error
	SendPubrel(clientID string, mid uint16) error
	// IsConnected reports whether clientID currently has a live wire
	// connection. A disconnected session can still hold queued state.
	IsConnected(clientID string) bool
}

// Router is the subscription/topic-match collaborator a Session hands a
// released QoS 2 incoming message to. internal/router is a minimal
// in-memory stand-in; the real topic-match tree is out of this module's
// scope.
type Router interface {
	// MessagesQueue fans base out to matching subscribers. Returning
	// xerror.NoSubscribers is informational, not an error: callers treat it
	// as success.
	MessagesQueue(sourceID, topic string, qos byte, retain bool, dbID uint64) error
}

// Clock abstracts wall-clock reads so expiry logic is testable without
// sleeping.
type Clock interface {
	NowUnix() int64
}

// IsNoSubscribers reports whether err is the router's informational
// "nobody was listening" result.
func IsNoSubscribers(err error) bool {
	return xerror.Is(err, xerror.NoSubscribers)
}
