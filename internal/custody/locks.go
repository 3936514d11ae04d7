package custody

import (
	"fmt"
	"sync"

	"chain-custody/internal/chain"
)

// keyedLocks 提供按 (user, chain) 维度的互斥锁。同一用户同一条链上的出金
// 必须串行执行，不同键之间互不阻塞。
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire 返回对应键的解锁函数。锁对象一经创建即长期存活，
// 托管用户规模下不做回收。
func (k *keyedLocks) acquire(userID int64, id chain.Chain) func() {
	key := fmt.Sprintf("%d/%s", userID, id)

	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
