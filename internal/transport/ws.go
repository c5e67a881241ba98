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
	"io"

	"github.com/gorilla/websocket"
)

// wsConn adapts a *websocket.Conn to the plain io.Reader/io.Writer shape
// the rest of this package speaks, so the same accept-loop/handler code in
// server.go drives both TCP and websocket clients. Grounded on
// other_examples/53a936a1_adred-codev-ws_poc's pattern of wrapping a raw
// gorilla connection behind a narrower interface for the rest of the
// application to depend on.
//
// Every Write call is expected to carry exactly one complete MQTT packet
// (frame.go's writeFramed guarantees this) and becomes exactly one
// binary WebSocket message, per the MQTT-over-WebSockets subprotocol
// requirement. Reads are buffered across WebSocket messages so callers can
// still read() arbitrary byte counts the way a TCP stream allows.
type wsConn struct {
	conn *websocket.Conn
	buf  bytes.Buffer
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for c.buf.Len() == 0 {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		c.buf.Write(data)
	}
	return c.buf.Read(p)
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

var _ io.ReadWriteCloser = (*wsConn)(nil)
