package usecase

import (
	"context"
	"errors"
	"net/http"
	"time"

	"storefront/internal/cart"
	"storefront/internal/domain/model"
	repo "storefront/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type OrderUsecase struct {
	tx     repo.TransactionManager
	carts  *cart.Store
	logger *zap.Logger
}

func NewOrderUsecase(tx repo.TransactionManager, carts *cart.Store, logger *zap.Logger) *OrderUsecase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderUsecase{tx: tx, carts: carts, logger: logger}
}

type OrderItemOutput struct {
	ProductID    int64           `json:"product_id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	IsSalePriced bool            `json:"is_sale_priced"`
	Quantity     int64           `json:"quantity"`
}

type OrderOutput struct {
	ID         int64             `json:"id"`
	UserID     int64             `json:"user_id"`
	Status     string            `json:"status"`
	TotalPrice decimal.Decimal   `json:"total_price"`
	CreatedAt  time.Time         `json:"created_at"`
	Items      []OrderItemOutput `json:"items"`
}

// PlaceOrder はセッションのカートを注文にする。
// 価格はカートに入れた時点のもの。在庫・セール残数は確定時に条件付きで減らす。
func (u *OrderUsecase) PlaceOrder(ctx context.Context, userID int64, sessionID string) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if err := requireSession(sessionID); err != nil {
		return OrderOutput{}, err
	}

	st, err := u.carts.Load(ctx, sessionID)
	if err != nil {
		u.logger.Error("load cart", zap.Error(err))
		return OrderOutput{}, NewHTTPError(http.StatusInternalServerError, "cart store error")
	}
	if st.IsEmpty() {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "cart empty")
	}

	var out OrderOutput

	//注文処理はトランザクション
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orderItems := make([]model.OrderItem, 0, len(st.Lines))
		now := time.Now()

		for _, l := range st.Lines {
			//商品取得
			p, err := r.Products().FindByID(ctx, l.ProductID)
			if errors.Is(err, repo.ErrNotFound) {
				return NewHTTPError(http.StatusBadRequest, "invalid")
			}
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			if !p.IsActive {
				return NewHTTPError(http.StatusBadRequest, "invalid")
			}

			//セール価格の行はセール残数も減らす
			if l.IsSalePriced {
				ok, err := r.Inventory().DecreaseSaleQuantityIfEnough(ctx, l.ProductID, l.Quantity)
				if err != nil {
					return NewHTTPError(http.StatusInternalServerError, "db error")
				}
				if !ok {
					return NewHTTPError(http.StatusConflict, "sale quantity exceeded")
				}
			}

			//在庫減算（足りないなら false）
			ok, err := r.Inventory().DecreaseStockIfEnough(ctx, l.ProductID, l.Quantity)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			if !ok {
				return NewHTTPError(http.StatusBadRequest, "out of stock")
			}

			//スナップショット
			orderItems = append(orderItems, model.OrderItem{
				ProductID:           l.ProductID,
				ProductNameSnapshot: p.Name,
				UnitPriceSnapshot:   l.UnitPrice,
				IsSalePriced:        l.IsSalePriced,
				Quantity:            l.Quantity,
				CreatedAt:           now,
			})
		}

		// 注文作成
		order := model.Order{
			UserID:     userID,
			Status:     model.OrderStatusPending,
			TotalPrice: st.Total(),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		orderID, err := r.Orders().Create(ctx, order)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		//注文明細一括作成
		if err := r.OrderItems().CreateBulk(ctx, orderID, orderItems); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		order.ID = orderID
		out = toOrderOutput(order, orderItems)
		return nil
	})
	if err != nil {
		if _, ok := AsHTTPError(err); ok {
			return OrderOutput{}, err
		}
		return OrderOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	//注文は確定済み。注文にした明細だけ外す。失敗しても注文は返す
	if err := u.carts.Settle(ctx, sessionID, st); err != nil {
		u.logger.Warn("cart not cleared after checkout", zap.Int64("order_id", out.ID), zap.Error(err))
	}

	return out, nil
}

func (u *OrderUsecase) ListMyOrders(ctx context.Context, userID int64) ([]OrderOutput, error) {
	if userID <= 0 {
		return []OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	//ページングでまずは固定で取る
	var outs []OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, _, err := r.Orders().ListByUserID(ctx, userID, 1, 50)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		outs = make([]OrderOutput, 0, len(orders))
		for _, o := range orders {
			items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			outs = append(outs, toOrderOutput(o, items))
		}
		return nil
	})

	if err != nil {
		return []OrderOutput{}, err
	}
	return outs, nil
}

func (u *OrderUsecase) GetMyOrderDetail(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if o.UserID != userID {
			//他人の注文は「存在しない扱い」にする
			return NewHTTPError(http.StatusNotFound, "not found")
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		out = toOrderOutput(o, items)
		return nil
	})

	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

func toOrderOutput(o model.Order, items []model.OrderItem) OrderOutput {
	outItems := make([]OrderItemOutput, 0, len(items))
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			ProductID:    it.ProductID,
			Name:         it.ProductNameSnapshot,
			Price:        it.UnitPriceSnapshot,
			IsSalePriced: it.IsSalePriced,
			Quantity:     it.Quantity,
		})
	}

	return OrderOutput{
		ID:         o.ID,
		UserID:     o.UserID,
		Status:     string(o.Status),
		TotalPrice: o.TotalPrice,
		CreatedAt:  o.CreatedAt,
		Items:      outItems,
	}
}
