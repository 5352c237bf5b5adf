package usecase

import "sync"

// keyedLock は商品IDごとの排他。同じ商品への画像差し替え・削除を直列にする。
// プロセス内だけで効く。複数台で動かす場合はDB側のロックが別途必要。
type keyedLock struct {
	mu    sync.Mutex
	locks map[int64]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{locks: map[int64]*keyedEntry{}}
}

// Lock は key のロックを取り、解放関数を返す。
func (k *keyedLock) Lock(key int64) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// 使用中のキー数（テスト用）
func (k *keyedLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
