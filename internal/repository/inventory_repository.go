package repository

import (
	"context"

	"storefront/internal/domain/model"
)

type InventoryRepository interface {
	// 在庫とセール残数の現在値を設定
	SetStock(ctx context.Context, productID int64, newStock int64, newSaleQuantity int64) error

	// 在庫が足りるときだけ減算
	DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, error)

	// セール残数が足りるときだけ減算（条件付きUPDATE1文、行ロックなし）
	DecreaseSaleQuantityIfEnough(ctx context.Context, productID int64, qty int64) (bool, error)

	// 調整履歴作成
	CreateAdjustment(ctx context.Context, adjustment model.InventoryAdjustment) error
}
