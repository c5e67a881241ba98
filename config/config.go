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

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Configuration interface {
	// Validate validates the configuration.
	// If returns error, the broker will not start.
	Validate() error
}

var validate = validator.New()

type Config struct {
	Mqtt        Mqtt        `yaml:"mqtt"`
	Persistence Persistence `yaml:"persistence"`
	Log         Log         `yaml:"log"`
	Trace       Trace       `yaml:"trace"`
}

// Load reads and parses a YAML config file at path, then validates it.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	c := &Config{}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return c, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Mqtt.MaxInflight == 0 {
		return fmt.Errorf("mqtt.max_inflight must be > 0")
	}
	if c.Mqtt.MaxInflightBytes > 0 && uint64(c.Mqtt.MaxQueueMessages) > 0 && c.Mqtt.MaxQueuedBytes == 0 {
		return fmt.Errorf("mqtt.max_queued_bytes must be set when mqtt.max_inflight_bytes is set")
	}
	switch c.Mqtt.DeliveryMode {
	case "", "overlap", "onlyonce":
	default:
		return fmt.Errorf("mqtt.delivery_mode must be %q or %q", "overlap", "onlyonce")
	}
	return nil
}

// Log configures internal/xlog's process-wide logger.
type Log struct {
	Level       string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Filename    string `yaml:"filename"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days"`
	Compress    bool   `yaml:"compress"`
	Development bool   `yaml:"development"`
}

// Trace configures internal/xtrace's process-wide TracerProvider.
type Trace struct {
	// Exporter is "", "jaeger" or "zipkin".
	Exporter    string  `yaml:"exporter" validate:"omitempty,oneof=jaeger zipkin"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Persistence selects the backend internal/persistence.Hooks uses. Only
// BaseMessage.Type and Redis are read (by cmd/lighthoused); Session and
// Subscription are parsed and validated but select nothing.
type Persistence struct {
	// Session selects the session store backend: "memory" or "redis".
	Session StoreConfig `yaml:"session"`
	// Subscription selects the subscription store backend: "memory" or "redis".
	Subscription StoreConfig `yaml:"subscription"`
	// BaseMessage selects the base-message store's persistence hooks backend:
	// "none" or "redis".
	BaseMessage StoreConfig `yaml:"base_message"`
	// Redis is the DSN used by any StoreConfig with Type == "redis".
	Redis RedisConfig `yaml:"redis"`
}

type StoreConfig struct {
	Type string `yaml:"type" validate:"omitempty,oneof=memory redis none"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Mqtt holds the broker options. cmd/lighthoused reads the listen
// addresses, NodeID, MaxPacketSize, MaxInflight, MaxInflightBytes,
// MaxQueueMessages, MaxQueuedBytes, QueueQos0Msg, AllowDuplicateMessages,
// RetainAvailable and MaximumQoS; DeliveryMode is only validated, and the
// remaining fields are parsed but not read by any package in this module.
type Mqtt struct {
	// ListenTCP is the address ServeTCP binds, e.g. ":1883". Empty uses
	// internal/transport's own default.
	ListenTCP string `yaml:"listen_tcp"`
	// ListenWebsocket is the address ServeWebsocket binds its "/mqtt"
	// handler to, e.g. ":8083". Empty disables the websocket listener.
	ListenWebsocket string `yaml:"listen_websocket"`
	// NodeID identifies this broker node in the top 10 bits of every
	// generated message id. It must be unique across a cluster sharing a
	// persistence backend; a collision can produce duplicate ids.
	NodeID uint16 `yaml:"node_id" validate:"max=1023"`
	// SessionExpiry is the maximum session expiry interval in seconds.
	SessionExpiry time.Duration `yaml:"session_expiry"`
	// SessionExpiryCheckInterval is the interval time for session expiry checker to check whether there
	// are expired sessions.
	SessionExpiryCheckInterval time.Duration `yaml:"session_expiry_check_interval"`
	// MessageExpiry is the maximum lifetime of the message in seconds.
	// If a message in the queue is not sent in MessageExpiry time, it will be removed, which means it will not be sent to the subscriber.
	MessageExpiry time.Duration `yaml:"message_expiry"`
	// InflightExpiry is the lifetime of the "inflight" message in seconds.
	// If a "inflight" message is not acknowledged by a client in InflightExpiry time, it will be removed when the message queue is full.
	InflightExpiry time.Duration `yaml:"inflight_expiry"`
	// MaxPacketSize is the maximum packet size that the server is willing to accept from the client
	MaxPacketSize uint32 `yaml:"max_packet_size"`
	// ReceiveMax limits the number of QoS 1 and QoS 2 publications that the server is willing to process concurrently for the client.
	ReceiveMax uint16 `yaml:"server_receive_maximum"`
	// MaxKeepAlive is the maximum keep alive time in seconds allows by the server.
	// If the client requests a keepalive time bigger than MaxKeepalive,
	// the server will use MaxKeepAlive as the keepalive time.
	// In this case, if the client version is v5, the server will set MaxKeepalive into CONNACK to inform the client.
	// But if the client version is 3.x, the server has no way to inform the client that the keepalive time has been changed.
	MaxKeepAlive uint16 `yaml:"max_keepalive"`
	// TopicAliasMax indicates the highest value that the server will accept as a Topic Alias sent by the client.
	// No-op if the client version is MQTTv3.x
	TopicAliasMax uint16 `yaml:"topic_alias_maximum"`
	// SubscriptionIDAvailable indicates whether the server supports Subscription Identifiers.
	// No-op if the client version is MQTTv3.x .
	SubscriptionIDAvailable bool `yaml:"subscription_identifier_available"`
	// SharedSubAvailable indicates whether the server supports Shared Subscriptions.
	SharedSubAvailable bool `yaml:"shared_subscription_available"`
	// WildcardSubAvailable indicates whether the server supports Wildcard Subscriptions.
	WildcardAvailable bool `yaml:"wildcard_subscription_available"`
	// RetainAvailable indicates whether the server supports retained messages.
	RetainAvailable bool `yaml:"retain_available"`
	// MaxQueueMessages caps the number of messages a session may hold queued
	// (not yet inflight) per direction; zero means unbounded. A message that
	// fits neither inflight nor the queue is dropped; see ReadyForFlight/ReadyForQueue.
	MaxQueueMessages int `yaml:"max_queue_messages"`
	// MaxInflight is each session's inflight window (in both directions): how
	// many QoS 1 or QoS 2 messages may be sent but not yet acknowledged.
	// Inflight messages are held on a separate list from queued ones.
	MaxInflight uint16 `yaml:"max_inflight"`
	// MaxInflightBytes caps the total payload size of inflight messages for
	// a session. Zero means unbounded. Admission also consults
	// MaxQueuedBytes once this limit is reached; see ReadyForFlight/ReadyForQueue.
	MaxInflightBytes uint64 `yaml:"max_inflight_bytes"`
	// MaxQueuedBytes caps the total payload size of queued (not yet
	// inflight) messages for a session. Zero means unbounded.
	MaxQueuedBytes uint64 `yaml:"max_queued_bytes"`
	// AllowDuplicateMessages, when false, makes a session skip a non-retained
	// base message it has already been handed once (tracked in the message's
	// DestIDs), so overlapping subscriptions deliver it only once.
	AllowDuplicateMessages bool `yaml:"allow_duplicate_messages"`
	// MaximumQoS is the highest QOS level permitted for a Publish.
	MaximumQoS uint8 `yaml:"maximum_qos"`
	// QueueQos0Msg indicates whether to store QoS 0 message for a offline session.
	QueueQos0Msg bool `yaml:"queue_qos0_messages"`
	// DeliveryMode is the delivery mode. The possible value can be "overlap" or "onlyonce".
	// It is possible for a client’s subscriptions to overlap so that a published message might match multiple filters.
	// When set to "overlap" , the server will deliver one message for each matching subscription and respecting the subscription’s QoS in each case.
	// When set to "onlyonce",the server will deliver the message to the client respecting the maximum QoS of all the matching subscriptions.
	DeliveryMode string `yaml:"delivery_mode"`
	// AllowZeroLenClientId indicates whether to allow a client to connect with empty client id.
	AllowZeroLenClientId bool `yaml:"allow_zero_len_client_id"`
}

// TCPListen returns the configured TCP listen address, defaulting to
// ":1883" when unset.
func (m Mqtt) TCPListen() string {
	if m.ListenTCP == "" {
		return ":1883"
	}
	return m.ListenTCP
}

// WebsocketListen returns the configured websocket listen address. An
// empty result means the websocket listener is disabled.
func (m Mqtt) WebsocketListen() string {
	return m.ListenWebsocket
}
