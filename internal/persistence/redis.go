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

package persistence

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/yunqi/lighthouse-core/internal/xlog"
)

var log = xlog.LoggerModule("persistence")

// RedisHooks records BaseMessage/ClientMessage mutations into Redis so a
// restarted broker can rebuild in-memory state. Hashes are used rather than
// plain keys so a single HGETALL can restore a whole record.
type RedisHooks struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisHooks dials addr and returns hooks backed by that Redis instance.
func NewRedisHooks(addr, password string, db int) *RedisHooks {
	return &RedisHooks{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		ctx:    context.Background(),
	}
}

func baseMsgKey(dbID uint64) string {
	return "lh:basemsg:" + strconv.FormatUint(dbID, 10)
}

func clientMsgKey(clientID string, cmsgID uint64) string {
	return fmt.Sprintf("lh:clientmsg:%s:%d", clientID, cmsgID)
}

func (r *RedisHooks) BaseMsgAdd(dbID uint64, topic string, payload []byte) {
	if err := r.client.HSet(r.ctx, baseMsgKey(dbID), map[string]interface{}{
		"topic":   topic,
		"payload": payload,
	}).Err(); err != nil {
		log.Warn("redis base msg add failed", zap.Error(err))
	}
}

func (r *RedisHooks) BaseMsgDelete(dbID uint64) {
	if err := r.client.Del(r.ctx, baseMsgKey(dbID)).Err(); err != nil {
		log.Warn("redis base msg delete failed", zap.Error(err))
	}
}

func (r *RedisHooks) ClientMsgAdd(clientID string, cmsgID, baseDBID uint64, mid uint16, state string) {
	if err := r.client.HSet(r.ctx, clientMsgKey(clientID, cmsgID), map[string]interface{}{
		"base_db_id": baseDBID,
		"mid":        mid,
		"state":      state,
	}).Err(); err != nil {
		log.Warn("redis client msg add failed", zap.Error(err))
	}
}

func (r *RedisHooks) ClientMsgUpdate(clientID string, cmsgID uint64, state string) {
	if err := r.client.HSet(r.ctx, clientMsgKey(clientID, cmsgID), "state", state).Err(); err != nil {
		log.Warn("redis client msg update failed", zap.Error(err))
	}
}

func (r *RedisHooks) ClientMsgDelete(clientID string, cmsgID uint64) {
	if err := r.client.Del(r.ctx, clientMsgKey(clientID, cmsgID)).Err(); err != nil {
		log.Warn("redis client msg delete failed", zap.Error(err))
	}
}

// Close releases the underlying Redis connection pool.
func (r *RedisHooks) Close() error {
	return r.client.Close()
}
