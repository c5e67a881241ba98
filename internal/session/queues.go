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

import "container/list"

// MessageData is one direction's (outgoing or incoming) pair of lists for a
// session, plus the byte/count accounting the admission controller reads.
// mosquitto threads these lists through intrusive prev/next pointers on the
// message struct itself; a container/list wrapping *ClientMessage gets the
// same O(1) head/tail operations without hand-rolled pointer surgery.
type MessageData struct {
	Inflight *list.List
	Queued   *list.List

	InflightMaximum uint16
	InflightQuota   uint16

	InflightCount   int
	InflightCount12 int
	InflightBytes   int64
	InflightBytes12 int64

	QueuedCount   int
	QueuedCount12 int
	QueuedBytes   int64
	QueuedBytes12 int64

	// OutPacketCount stands in for mosquitto's context->out_packet_count and
	// is read only by the outgoing QoS 0 admission branch. Nothing in this
	// module updates it, so it stays zero and that branch's count check
	// passes whenever MaxQueuedMessages is non-zero.
	OutPacketCount int
}

// NewMessageData returns an empty MessageData with its inflight quota
// seeded from inflightMaximum.
func NewMessageData(inflightMaximum uint16) *MessageData {
	return &MessageData{
		Inflight:        list.New(),
		Queued:          list.New(),
		InflightMaximum: inflightMaximum,
		InflightQuota:   inflightMaximum,
	}
}

func (d *MessageData) addToInflightStats(msg *ClientMessage) {
	d.InflightCount++
	d.InflightBytes += int64(len(msg.Base.Payload))
	if msg.QoS != 0 {
		d.InflightCount12++
		d.InflightBytes12 += int64(len(msg.Base.Payload))
	}
}

func (d *MessageData) removeFromInflightStats(msg *ClientMessage) {
	d.InflightCount--
	d.InflightBytes -= int64(len(msg.Base.Payload))
	if msg.QoS != 0 {
		d.InflightCount12--
		d.InflightBytes12 -= int64(len(msg.Base.Payload))
	}
}

func (d *MessageData) addToQueuedStats(msg *ClientMessage) {
	d.QueuedCount++
	d.QueuedBytes += int64(len(msg.Base.Payload))
	if msg.QoS != 0 {
		d.QueuedCount12++
		d.QueuedBytes12 += int64(len(msg.Base.Payload))
	}
}

func (d *MessageData) removeFromQueuedStats(msg *ClientMessage) {
	d.QueuedCount--
	d.QueuedBytes -= int64(len(msg.Base.Payload))
	if msg.QoS != 0 {
		d.QueuedCount12--
		d.QueuedBytes12 -= int64(len(msg.Base.Payload))
	}
}

// dequeueFirst moves the head of Queued to the tail of Inflight, updating
// both lists' stats and consuming one unit of inflight quota (floored at
// zero — callers are expected to have already checked ReadyForFlight).
func (d *MessageData) dequeueFirst() *list.Element {
	e := d.Queued.Front()
	if e == nil {
		return nil
	}
	msg := e.Value.(*ClientMessage)
	d.Queued.Remove(e)
	d.removeFromQueuedStats(msg)

	d.addToInflightStats(msg)
	if d.InflightQuota > 0 {
		d.InflightQuota--
	}
	return d.Inflight.PushBack(msg)
}
