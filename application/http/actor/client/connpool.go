package client

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// connPool caps the connections open at once per host and port.
// Waiters are served in the order they arrived.
type connPool struct {
	maxPerAddr uint

	mu     sync.Mutex
	blocks map[string]*connBlock
}

// connBlock tracks the connections to one address.
// It is dropped once nobody holds or waits for it.
type connBlock struct {
	sem   *semaphore.Weighted
	users int // holders and waiters
	open  int
}

func newConnPool(maxPerAddr uint) *connPool {
	return &connPool{maxPerAddr: maxPerAddr, blocks: make(map[string]*connBlock)}
}

// acquire waits for a free slot for addr.
// release must be called once the connection is closed.
func (pool *connPool) acquire(ctx context.Context, addr string) (release func(), err error) {
	if pool.maxPerAddr == 0 {
		return func() {}, nil
	}

	block := pool.join(addr)
	if err := block.sem.Acquire(ctx, 1); err != nil {
		pool.leave(addr, block, false)
		return nil, err
	}

	pool.mu.Lock()
	block.open++
	pool.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			block.sem.Release(1)
			pool.leave(addr, block, true)
		})
	}, nil
}

func (pool *connPool) join(addr string) *connBlock {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	block, ok := pool.blocks[addr]
	if !ok {
		block = &connBlock{sem: semaphore.NewWeighted(int64(pool.maxPerAddr))}
		pool.blocks[addr] = block
	}
	block.users++
	return block
}

func (pool *connPool) leave(addr string, block *connBlock, held bool) {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	if held {
		block.open--
	}
	block.users--
	if block.users == 0 {
		delete(pool.blocks, addr)
	}
}

// open returns the number of connections currently held for addr.
func (pool *connPool) open(addr string) int {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	if block, ok := pool.blocks[addr]; ok {
		return block.open
	}
	return 0
}
