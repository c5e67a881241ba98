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

package msgid

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_NextIsStrictlyIncreasing(t *testing.T) {
	g := NewGenerator(1)
	var last uint64
	for i := 0; i < 10000; i++ {
		id := g.Next()
		require.Greater(t, id, last)
		last = id
	}
}

func TestGenerator_FrozenClockStillIncrements(t *testing.T) {
	frozen := time.Unix(Epoch+10, 12345)
	g := NewGenerator(7)
	g.nowSource = func() time.Time { return frozen }

	seen := make(map[uint64]bool)
	for i := 0; i < 1000; i++ {
		id := g.Next()
		assert.False(t, seen[id], "id %d repeated under a frozen clock", id)
		seen[id] = true
	}
}

func TestGenerator_NodeIDOccupiesTopBits(t *testing.T) {
	g1 := NewGenerator(1)
	g2 := NewGenerator(2)

	frozen := time.Unix(Epoch+100, 0)
	g1.nowSource = func() time.Time { return frozen }
	g2.nowSource = func() time.Time { return frozen }

	id1 := g1.Next()
	id2 := g2.Next()
	assert.Equal(t, uint64(1)<<nodeIDShift, id1&(uint64(0x3FF)<<nodeIDShift))
	assert.Equal(t, uint64(2)<<nodeIDShift, id2&(uint64(0x3FF)<<nodeIDShift))
}

func TestGenerator_ConcurrentCallsNeverCollide(t *testing.T) {
	g := NewGenerator(3)
	const workers = 50
	const perWorker = 200

	var mu sync.Mutex
	seen := make(map[uint64]bool, workers*perWorker)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id := g.Next()
				mu.Lock()
				assert.False(t, seen[id])
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*perWorker)
}
