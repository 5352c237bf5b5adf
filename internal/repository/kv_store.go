package repository

import (
	"context"
	"time"
)

// 文字列をキーで保存・取得・削除する約束（Redis / メモリ）
type KeyValueStore interface {
	// 無ければ ok=false
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// ttl が0なら期限なし
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Remove(ctx context.Context, key string) error

	// Update は読み込み→fn→書き込みを他の書き込みと混ざらないように行う。
	// fn が "" を返したらキーを消す。fn のエラーはそのまま返る。
	Update(ctx context.Context, key string, ttl time.Duration, fn func(cur string, found bool) (string, error)) error
}
