package repository

import (
	"context"
	"errors"

	"storefront/internal/domain/model"
)

var ErrNotFound = errors.New("not found")

// 一覧検索
type ProductListQuery struct {
	Page     int
	Limit    int
	Q        string
	MinPrice *int64
	MaxPrice *int64
	// trueならセール中の商品だけ
	OnSaleOnly bool
	Sort       string
}

// 商品の永続化（保存・取得）だけを約束。
type ProductRepository interface {
	ListPublic(ctx context.Context, q ProductListQuery) ([]model.Product, int64, error)
	FindByID(ctx context.Context, id int64) (model.Product, error)

	Create(ctx context.Context, p model.Product) (model.Product, error)
	Update(ctx context.Context, p model.Product) error
	// 画像ポインタだけを更新
	UpdateImage(ctx context.Context, id int64, image string) error
	SoftDelete(ctx context.Context, id int64) error

	// 削除されていない商品の画像パスをすべて返す（孤立画像の掃除用）
	ListImagePaths(ctx context.Context) ([]string, error)
}
