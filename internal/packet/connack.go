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

package packet

import (
	"bytes"
	"io"

	"github.com/yunqi/lighthouse-core/internal/code"
)

// Connack represents the MQTT CONNACK packet, the server's reply to CONNECT.
type Connack struct {
	Version        Version
	Code           code.Code
	SessionPresent bool
}

// Encode writes the CONNACK packet to w.
func (a *Connack) Encode(w io.Writer) error {
	buf := &bytes.Buffer{}
	var flags byte
	if a.SessionPresent {
		flags = 1
	}
	buf.WriteByte(flags)
	buf.WriteByte(byte(a.Code))
	fh := &FixedHeader{PacketType: CONNACK, Flags: FixedHeaderFlagReserved}
	return encode(fh, buf, w)
}
