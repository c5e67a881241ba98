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

// Package goroutine hands out a bounded worker pool (backed by ants) for the
// TCP/websocket accept loops' per-connection goroutines. A Pool also
// satisfies internal/persistence.Async's Pool field, though nothing in this
// module currently wires the two together.
package goroutine

import (
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/yunqi/lighthouse-core/internal/xlog"
)

var log = xlog.LoggerModule("goroutine")

// Pool wraps an ants.Pool with the panic logging this module expects from
// every background task.
type Pool struct {
	pool *ants.Pool
}

// NewPool creates a pool with room for size concurrently-running tasks. A
// size <= 0 means unbounded, matching ants' own convention.
func NewPool(size int) (*Pool, error) {
	if size <= 0 {
		size = ants.DefaultAntsPoolSize
	}
	p, err := ants.NewPool(size, ants.WithPanicHandler(func(r interface{}) {
		log.Error("recovered panic in pooled goroutine", zap.Any("recover", r))
	}))
	if err != nil {
		return nil, err
	}
	return &Pool{pool: p}, nil
}

// Go submits task to the pool. Submit waits while every worker is busy; if
// it returns an error instead (for example after Release), task runs inline
// so the work is not silently dropped.
func (p *Pool) Go(task func()) {
	if err := p.pool.Submit(task); err != nil {
		log.Warn("pool saturated, running inline", zap.Error(err))
		task()
	}
}

// Release frees the pool's workers. Call it on shutdown.
func (p *Pool) Release() {
	p.pool.Release()
}

// Running reports how many workers are currently executing a task.
func (p *Pool) Running() int {
	return p.pool.Running()
}
