package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storefront/internal/repository"
)

const keyPrefix = "cart:"

// Store はセッションごとのカートを KeyValueStore に保存する。
type Store struct {
	kv  repository.KeyValueStore
	ttl time.Duration
}

// DI
func NewStore(kv repository.KeyValueStore, ttl time.Duration) *Store {
	return &Store{kv: kv, ttl: ttl}
}

func sessionKey(sessionID string) string {
	return keyPrefix + sessionID
}

// Load はセッションのカートを返す。無ければ空。
func (s *Store) Load(ctx context.Context, sessionID string) (State, error) {
	raw, ok, err := s.kv.Get(ctx, sessionKey(sessionID))
	if err != nil {
		return State{}, fmt.Errorf("load cart: %w", err)
	}
	if !ok {
		return State{Lines: []LineItem{}}, nil
	}
	return decodeState(raw)
}

// Dispatch は読み込み→Reduce→保存を行い、新しい状態を返す。
// 同じセッションへの Dispatch は KeyValueStore.Update で直列になる。
func (s *Store) Dispatch(ctx context.Context, sessionID string, cmd Command) (State, error) {
	var next State
	err := s.update(ctx, sessionID, func(cur State) State {
		next = Reduce(cur, cmd)
		return next
	})
	if err != nil {
		return State{}, err
	}
	return next, nil
}

// Settle は注文に含めた明細だけをカートから外す。
// 注文処理中に追加された商品は残る。
func (s *Store) Settle(ctx context.Context, sessionID string, ordered State) error {
	return s.update(ctx, sessionID, func(cur State) State {
		return cur.Without(ordered)
	})
}

// 空になったカートはキーごと消す
func (s *Store) update(ctx context.Context, sessionID string, fn func(cur State) State) error {
	err := s.kv.Update(ctx, sessionKey(sessionID), s.ttl, func(raw string, found bool) (string, error) {
		cur := State{Lines: []LineItem{}}
		if found {
			st, err := decodeState(raw)
			if err != nil {
				return "", err
			}
			cur = st
		}

		next := fn(cur)
		if next.IsEmpty() {
			return "", nil
		}
		b, err := json.Marshal(next)
		if err != nil {
			return "", fmt.Errorf("encode cart: %w", err)
		}
		return string(b), nil
	})
	if err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

func decodeState(raw string) (State, error) {
	st := State{Lines: []LineItem{}}
	if raw == "" {
		return st, nil
	}
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return State{}, fmt.Errorf("decode cart: %w", err)
	}
	if st.Lines == nil {
		st.Lines = []LineItem{}
	}
	return st, nil
}
