package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"storefront/internal/cart"
	"storefront/internal/domain/model"
	repo "storefront/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// 1回の追加で入れられる最大数
const maxAddQuantity = 99

// CartUsecase は /cart の業務ロジックです。
// カートはDBではなくセッションIDごとに KeyValueStore に置きます。
type CartUsecase struct {
	store       *cart.Store
	productRepo repo.ProductRepository
	logger      *zap.Logger
}

func NewCartUsecase(store *cart.Store, productRepo repo.ProductRepository, logger *zap.Logger) *CartUsecase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CartUsecase{
		store:       store,
		productRepo: productRepo,
		logger:      logger,
	}
}

// CartItemResponse は明細の返却形式。
// unit_price は追加時点の価格。
type CartItemResponse struct {
	ProductID    int64           `json:"product_id"`
	Name         string          `json:"name"`
	Image        string          `json:"image"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	IsSalePriced bool            `json:"is_sale_priced"`
	Quantity     int64           `json:"quantity"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

type CartResponse struct {
	Items []CartItemResponse `json:"items"`
	Total decimal.Decimal    `json:"total"`
}

type AddCartInput struct {
	ProductID int64
	Quantity  int64
}

type UpdateCartItemInput struct {
	ProductID    int64
	IsSalePriced bool
	Quantity     int64
}

func requireSession(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return NewHTTPError(http.StatusUnauthorized, "no cart session")
	}
	return nil
}

// GetCart はカート取得（無ければ空を返す）。
func (u *CartUsecase) GetCart(ctx context.Context, sessionID string) (CartResponse, error) {
	if err := requireSession(sessionID); err != nil {
		return CartResponse{}, err
	}

	st, err := u.store.Load(ctx, sessionID)
	if err != nil {
		u.logger.Error("load cart", zap.Error(err))
		return CartResponse{}, NewHTTPError(http.StatusInternalServerError, "cart store error")
	}
	return u.buildCartResponse(ctx, st), nil
}

// AddToCart はセール枠を考慮して1個ずつ追加する。
func (u *CartUsecase) AddToCart(ctx context.Context, sessionID string, in AddCartInput) (CartResponse, error) {
	if err := requireSession(sessionID); err != nil {
		return CartResponse{}, err
	}
	if in.ProductID <= 0 {
		return CartResponse{}, NewHTTPError(http.StatusBadRequest, "invalid product_id")
	}
	if in.Quantity > maxAddQuantity {
		return CartResponse{}, NewHTTPError(http.StatusBadRequest, "invalid quantity")
	}

	// 商品チェック（公開のみ）
	p, err := u.productRepo.FindByID(ctx, in.ProductID)
	if errors.Is(err, repo.ErrNotFound) {
		return CartResponse{}, NewHTTPError(http.StatusBadRequest, "invalid")
	}
	if err != nil {
		return CartResponse{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	if !p.IsActive {
		return CartResponse{}, NewHTTPError(http.StatusBadRequest, "invalid")
	}

	st, err := u.store.Dispatch(ctx, sessionID, cart.AddToCart{
		Product:  toSnapshot(p),
		Quantity: in.Quantity,
	})
	if err != nil {
		u.logger.Error("add to cart", zap.Int64("product_id", in.ProductID), zap.Error(err))
		return CartResponse{}, NewHTTPError(http.StatusInternalServerError, "cart store error")
	}
	return u.buildCartResponse(ctx, st), nil
}

// UpdateItem は明細（商品ID＋価格区分）の数量を直接変更する。1未満なら商品ごと外す。
func (u *CartUsecase) UpdateItem(ctx context.Context, sessionID string, in UpdateCartItemInput) (CartResponse, error) {
	if err := requireSession(sessionID); err != nil {
		return CartResponse{}, err
	}
	if in.ProductID <= 0 {
		return CartResponse{}, NewHTTPError(http.StatusBadRequest, "invalid product_id")
	}

	st, err := u.store.Dispatch(ctx, sessionID, cart.UpdateQuantity{
		Key:      cart.LineKey{ProductID: in.ProductID, IsSalePriced: in.IsSalePriced},
		Quantity: in.Quantity,
	})
	if err != nil {
		u.logger.Error("update cart item", zap.Int64("product_id", in.ProductID), zap.Error(err))
		return CartResponse{}, NewHTTPError(http.StatusInternalServerError, "cart store error")
	}
	return u.buildCartResponse(ctx, st), nil
}

// RemoveItem は商品の明細をセール・通常とも外す。
func (u *CartUsecase) RemoveItem(ctx context.Context, sessionID string, productID int64) (CartResponse, error) {
	if err := requireSession(sessionID); err != nil {
		return CartResponse{}, err
	}
	if productID <= 0 {
		return CartResponse{}, NewHTTPError(http.StatusBadRequest, "invalid product_id")
	}

	st, err := u.store.Dispatch(ctx, sessionID, cart.RemoveFromCart{ProductID: productID})
	if err != nil {
		u.logger.Error("remove cart item", zap.Int64("product_id", productID), zap.Error(err))
		return CartResponse{}, NewHTTPError(http.StatusInternalServerError, "cart store error")
	}
	return u.buildCartResponse(ctx, st), nil
}

func (u *CartUsecase) ClearCart(ctx context.Context, sessionID string) (CartResponse, error) {
	if err := requireSession(sessionID); err != nil {
		return CartResponse{}, err
	}

	st, err := u.store.Dispatch(ctx, sessionID, cart.ClearCart{})
	if err != nil {
		u.logger.Error("clear cart", zap.Error(err))
		return CartResponse{}, NewHTTPError(http.StatusInternalServerError, "cart store error")
	}
	return u.buildCartResponse(ctx, st), nil
}

func toSnapshot(p model.Product) cart.ProductSnapshot {
	return cart.ProductSnapshot{
		ID:                      p.ID,
		Price:                   p.Price,
		SalePrice:               p.SalePrice,
		IsOnSale:                p.IsOnSale,
		OnSaleQuantityRemaining: p.OnSaleQuantity,
	}
}

// 表示用に商品名・画像を付ける。商品が消えていても明細は残す。
func (u *CartUsecase) buildCartResponse(ctx context.Context, st cart.State) CartResponse {
	items := make([]CartItemResponse, 0, len(st.Lines))
	names := map[int64]model.Product{}

	for _, l := range st.Lines {
		p, ok := names[l.ProductID]
		if !ok {
			found, err := u.productRepo.FindByID(ctx, l.ProductID)
			if err == nil {
				p = found
			}
			names[l.ProductID] = p
		}

		items = append(items, CartItemResponse{
			ProductID:    l.ProductID,
			Name:         p.Name,
			Image:        p.Image,
			UnitPrice:    l.UnitPrice,
			IsSalePriced: l.IsSalePriced,
			Quantity:     l.Quantity,
			Subtotal:     l.Subtotal(),
		})
	}

	return CartResponse{
		Items: items,
		Total: st.Total(),
	}
}
