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

// Limits is the subset of config.Mqtt the admission controller consults.
// Zero means "unlimited" for every numeric field here.
type Limits struct {
	MaxInflightBytes       int64
	MaxQueuedMessages      int
	MaxQueuedBytes         int64
	QueueQoS0Messages      bool
	AllowDuplicateMessages bool
	// RetainAvailable gates whether a broker-originated publish may carry
	// the retain flag; see EasyQueue.
	RetainAvailable bool
}

// ReadyForFlight reports whether dir/qos may be admitted straight to
// inflight right now. This is the safe reformulation of mosquitto's
// signed-subtraction arithmetic: rather than computing
// (inflight_bytes - max_inflight_bytes) in a width that can wrap, the
// comparison is only made once inflight_bytes has actually reached
// max_inflight_bytes.
func (d *MessageData) ReadyForFlight(dir Direction, qos byte, lim Limits) bool {
	if d.InflightMaximum == 0 && lim.MaxInflightBytes == 0 {
		return true
	}

	if qos == 0 {
		if lim.MaxQueuedMessages == 0 && lim.MaxInflightBytes == 0 {
			return true
		}
		validBytes := readyBytes(d.InflightBytes, lim.MaxInflightBytes, lim.MaxQueuedBytes)
		var validCount bool
		if dir == Outgoing {
			validCount = d.OutPacketCount < lim.MaxQueuedMessages
		} else {
			validCount = d.InflightCount-int(d.InflightMaximum) < lim.MaxQueuedMessages
		}
		if lim.MaxQueuedMessages == 0 {
			return validBytes
		}
		if lim.MaxQueuedBytes == 0 {
			return validCount
		}
		return validBytes && validCount
	}

	validBytes := d.InflightBytes12 < lim.MaxInflightBytes
	validCount := d.InflightQuota > 0
	if d.InflightMaximum == 0 {
		return validBytes
	}
	if lim.MaxInflightBytes == 0 {
		return validCount
	}
	return validBytes && validCount
}

// readyBytes is a safe reformulation of mosquitto's literal
// (inflight_bytes - max_inflight_bytes) < max_queued_bytes, which underflows
// in an unsigned width once inflight_bytes < max_inflight_bytes. Below the
// cap there is always room; at or above it, only the overflow counts
// against the queue budget.
func readyBytes(inflightBytes, maxInflightBytes, maxQueuedBytes int64) bool {
	if inflightBytes < maxInflightBytes {
		return true
	}
	return inflightBytes-maxInflightBytes < maxQueuedBytes
}

// ReadyForQueue reports whether qos may be appended to Queued. Callers are
// expected to have already run ReadyForFlight and found it false; this
// predicate does not re-check the inflight path.
func (d *MessageData) ReadyForQueue(qos byte, connected bool, lim Limits) bool {
	if lim.MaxQueuedMessages == 0 && lim.MaxQueuedBytes == 0 {
		return true
	}
	if qos == 0 && !lim.QueueQoS0Messages {
		return false
	}

	sourceBytes := d.QueuedBytes12
	sourceCount := d.QueuedCount12

	adjustBytes := lim.MaxInflightBytes
	adjustCount := int(d.InflightMaximum)
	if !connected {
		adjustBytes = 0
		adjustCount = 0
	}

	validBytes := readyBytes(sourceBytes, adjustBytes, lim.MaxQueuedBytes)
	validCount := sourceCount-adjustCount < lim.MaxQueuedMessages

	if lim.MaxQueuedBytes == 0 {
		return validCount
	}
	if lim.MaxQueuedMessages == 0 {
		return validBytes
	}
	return validBytes && validCount
}
