package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/infra/imagestore"
	repo "storefront/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// 商品画像のディスク操作（imagestore.Manager が実装）
type ImageStore interface {
	Save(ctx context.Context, originalName string, r io.Reader) (imagestore.StoredImage, error)
	ValidateImageExists(ctx context.Context, relativePath string) imagestore.ExistsResult
	ReplaceProductImage(ctx context.Context, oldPath string, newPath string) imagestore.ReplaceResult
	DeleteProductImage(ctx context.Context, relativePath string) imagestore.DeleteResult
}

type ProductUsecase struct {
	productRepo   repo.ProductRepository
	inventoryRepo repo.InventoryRepository
	auditRepo     repo.AuditLogRepository
	tx            repo.TransactionManager
	images        ImageStore
	logger        *zap.Logger

	// 同じ商品の更新・削除を直列にする
	locks *keyedLock
}

// DI
func NewProductUsecase(
	productRepo repo.ProductRepository,
	inventoryRepo repo.InventoryRepository,
	auditRepo repo.AuditLogRepository,
	tx repo.TransactionManager,
	images ImageStore,
	logger *zap.Logger,
) *ProductUsecase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProductUsecase{
		productRepo:   productRepo,
		inventoryRepo: inventoryRepo,
		auditRepo:     auditRepo,
		tx:            tx,
		images:        images,
		logger:        logger,
		locks:         newKeyedLock(),
	}
}

// GET /productsの入力DTO
type ListProductsInput struct {
	Page       int
	Limit      int
	Q          string
	MinPrice   *int64
	MaxPrice   *int64
	OnSaleOnly bool
	Sort       string
}

type ProductListOutput struct {
	Items []model.Product `json:"items"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
}

func (u *ProductUsecase) ListPublicProducts(ctx context.Context, in ListProductsInput) (ProductListOutput, error) {
	if in.Page < 1 {
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid page")
	}
	if in.Limit < 1 || in.Limit > 100 {
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}
	if len(in.Q) > 100 {
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "q too long")
	}
	if in.MinPrice != nil && *in.MinPrice < 0 {
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "min_price must be >= 0")
	}
	if in.MaxPrice != nil && *in.MaxPrice < 0 {
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "max_price must be >= 0")
	}
	if in.MinPrice != nil && in.MaxPrice != nil && *in.MinPrice > *in.MaxPrice {
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "min_price must be <= max_price")
	}
	switch in.Sort {
	case "", "new", "price_asc", "price_desc":
	default:
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid sort")
	}

	items, total, err := u.productRepo.ListPublic(ctx, repo.ProductListQuery{
		Page:       in.Page,
		Limit:      in.Limit,
		Q:          strings.TrimSpace(in.Q),
		MinPrice:   in.MinPrice,
		MaxPrice:   in.MaxPrice,
		OnSaleOnly: in.OnSaleOnly,
		Sort:       in.Sort,
	})
	if err != nil {
		return ProductListOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	return ProductListOutput{
		Items: items,
		Total: total,
		Page:  in.Page,
		Limit: in.Limit,
	}, nil
}

func (u *ProductUsecase) GetProductDetail(ctx context.Context, productID int64) (model.Product, error) {
	if productID <= 0 {
		return model.Product{}, NewHTTPError(http.StatusBadRequest, "invalid product id")
	}

	p, err := u.productRepo.FindByID(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Product{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return model.Product{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	if !p.IsActive {
		return model.Product{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	return p, nil
}

// アップロードされた画像（種類・サイズは handler で確認済み）
type ImageUpload struct {
	Filename string
	Body     io.Reader
}

type AdminProductInput struct {
	Name           string
	Description    string
	Price          decimal.Decimal
	SalePrice      decimal.NullDecimal
	IsOnSale       bool
	OnSaleQuantity int64
	Stock          int64
	IsActive       bool

	// nil なら画像を変更しない
	Image *ImageUpload
}

func validateProductInput(in AdminProductInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return NewHTTPError(http.StatusBadRequest, "name required")
	}
	if len(in.Name) > 255 {
		return NewHTTPError(http.StatusBadRequest, "name too long")
	}
	if in.Price.IsNegative() {
		return NewHTTPError(http.StatusBadRequest, "price must be >= 0")
	}
	if in.SalePrice.Valid && in.SalePrice.Decimal.IsNegative() {
		return NewHTTPError(http.StatusBadRequest, "sale_price must be >= 0")
	}
	if in.OnSaleQuantity < 0 {
		return NewHTTPError(http.StatusBadRequest, "on_sale_quantity must be >= 0")
	}
	if in.Stock < 0 {
		return NewHTTPError(http.StatusBadRequest, "stock must be >= 0")
	}
	return nil
}

type AdminProductOutput struct {
	Product model.Product `json:"product"`
	// 画像を差し替えたときだけ入る
	Image *imagestore.ReplaceResult `json:"image,omitempty"`
}

func (u *ProductUsecase) AdminCreateProduct(ctx context.Context, adminUserID int64, in AdminProductInput) (AdminProductOutput, error) {
	if adminUserID <= 0 {
		return AdminProductOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if err := validateProductInput(in); err != nil {
		return AdminProductOutput{}, err
	}

	imagePath := ""
	if in.Image != nil {
		stored, err := u.images.Save(ctx, in.Image.Filename, in.Image.Body)
		if err != nil {
			u.logger.Error("save product image", zap.Error(err))
			return AdminProductOutput{}, NewHTTPError(http.StatusInternalServerError, "image upload failed")
		}
		imagePath = stored.RelativePath
	}

	now := time.Now()
	p, err := u.productRepo.Create(ctx, model.Product{
		Name:           strings.TrimSpace(in.Name),
		Description:    in.Description,
		Price:          in.Price,
		SalePrice:      in.SalePrice,
		IsOnSale:       in.IsOnSale,
		OnSaleQuantity: in.OnSaleQuantity,
		Stock:          in.Stock,
		Image:          imagePath,
		IsActive:       in.IsActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		// 紐づかない画像を残さない
		u.discardUpload(ctx, imagePath)
		return AdminProductOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	return AdminProductOutput{Product: p}, nil
}

// AdminUpdateProduct は商品情報を更新し、画像があれば差し替える。
//
// 新しい画像を保存 → 存在確認 → DB更新(Tx) → 古い画像の削除、の順。
// 古い画像の削除に失敗しても更新自体は成功として返す。
func (u *ProductUsecase) AdminUpdateProduct(ctx context.Context, adminUserID int64, productID int64, in AdminProductInput) (AdminProductOutput, error) {
	if adminUserID <= 0 {
		return AdminProductOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if productID <= 0 {
		return AdminProductOutput{}, NewHTTPError(http.StatusBadRequest, "invalid product id")
	}
	if err := validateProductInput(in); err != nil {
		return AdminProductOutput{}, err
	}

	unlock := u.locks.Lock(productID)
	defer unlock()

	before, err := u.productRepo.FindByID(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return AdminProductOutput{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return AdminProductOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	newImage := ""
	if in.Image != nil {
		stored, err := u.images.Save(ctx, in.Image.Filename, in.Image.Body)
		if err != nil {
			u.logger.Error("save product image", zap.Int64("product_id", productID), zap.Error(err))
			return AdminProductOutput{}, NewHTTPError(http.StatusInternalServerError, "image upload failed")
		}
		newImage = stored.RelativePath

		//DBに書く前に、実際にディスクにあるか確認
		if check := u.images.ValidateImageExists(ctx, newImage); !check.Exists {
			u.logger.Error("uploaded image missing",
				zap.Int64("product_id", productID),
				zap.String("image", newImage),
				zap.String("reason", check.Error),
			)
			return AdminProductOutput{}, NewHTTPError(http.StatusInternalServerError, "image upload failed")
		}
	}

	after := before
	after.Name = strings.TrimSpace(in.Name)
	after.Description = in.Description
	after.Price = in.Price
	after.SalePrice = in.SalePrice
	after.IsOnSale = in.IsOnSale
	after.OnSaleQuantity = in.OnSaleQuantity
	after.Stock = in.Stock
	after.IsActive = in.IsActive
	after.UpdatedAt = time.Now()

	//項目と画像ポインタは同じTxで書く。どちらかが失敗したら両方戻す
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if err := r.Products().Update(ctx, after); err != nil {
			return err
		}
		if newImage == "" {
			return nil
		}
		return r.Products().UpdateImage(ctx, productID, newImage)
	})
	if err != nil {
		u.discardUpload(ctx, newImage)
		if errors.Is(err, repo.ErrNotFound) {
			return AdminProductOutput{}, NewHTTPError(http.StatusNotFound, "not found")
		}
		u.logger.Error("update product", zap.Int64("product_id", productID), zap.Error(err))
		return AdminProductOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	u.audit(ctx, adminUserID, model.AuditActionUpdateProduct, productID,
		productAuditJSON(before), productAuditJSON(after))

	out := AdminProductOutput{Product: after}
	if newImage == "" {
		return out, nil
	}
	out.Product.Image = newImage

	res := u.images.ReplaceProductImage(ctx, before.Image, newImage)
	out.Image = &res

	u.audit(ctx, adminUserID, model.AuditActionReplaceImage, productID,
		fmt.Sprintf(`{"image":%q}`, before.Image),
		fmt.Sprintf(`{"image":%q}`, newImage))

	return out, nil
}

// AdminDeleteProduct は商品を論理削除し、画像ファイルを削除する。
// 画像の削除に失敗しても商品の削除は取り消さない（孤立画像は CLI で掃除する）。
func (u *ProductUsecase) AdminDeleteProduct(ctx context.Context, adminUserID int64, productID int64) (imagestore.DeleteResult, error) {
	if adminUserID <= 0 {
		return imagestore.DeleteResult{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if productID <= 0 {
		return imagestore.DeleteResult{}, NewHTTPError(http.StatusBadRequest, "invalid product id")
	}

	unlock := u.locks.Lock(productID)
	defer unlock()

	p, err := u.productRepo.FindByID(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return imagestore.DeleteResult{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return imagestore.DeleteResult{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	err = u.productRepo.SoftDelete(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return imagestore.DeleteResult{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return imagestore.DeleteResult{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	res := u.images.DeleteProductImage(ctx, p.Image)
	if !res.Success {
		u.logger.Warn("product image not deleted",
			zap.Int64("product_id", productID),
			zap.String("image", p.Image),
			zap.Error(res.Err()),
		)
	}

	u.audit(ctx, adminUserID, model.AuditActionDeleteProduct, productID, productAuditJSON(p), "{}")

	return res, nil
}

type AdminInventoryInput struct {
	Stock int64
	// nil ならセール残数は変えない
	OnSaleQuantity *int64
	Reason         string
}

func (u *ProductUsecase) AdminUpdateInventory(ctx context.Context, adminUserID int64, productID int64, in AdminInventoryInput) error {
	if adminUserID <= 0 {
		return NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if productID <= 0 {
		return NewHTTPError(http.StatusBadRequest, "invalid product id")
	}
	if in.Stock < 0 {
		return NewHTTPError(http.StatusBadRequest, "stock must be >= 0")
	}
	if in.OnSaleQuantity != nil && *in.OnSaleQuantity < 0 {
		return NewHTTPError(http.StatusBadRequest, "on_sale_quantity must be >= 0")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return NewHTTPError(http.StatusBadRequest, "reason required")
	}

	unlock := u.locks.Lock(productID)
	defer unlock()

	//変更前の在庫（before）
	p, err := u.productRepo.FindByID(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return NewHTTPError(http.StatusInternalServerError, "db error")
	}

	newSale := p.OnSaleQuantity
	if in.OnSaleQuantity != nil {
		newSale = *in.OnSaleQuantity
	}

	beforeJSON := fmt.Sprintf(`{"stock":%d,"on_sale_quantity":%d}`, p.Stock, p.OnSaleQuantity)
	afterJSON := fmt.Sprintf(`{"stock":%d,"on_sale_quantity":%d}`, in.Stock, newSale)

	//在庫の現在値を更新
	if err := u.inventoryRepo.SetStock(ctx, productID, in.Stock, newSale); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		return NewHTTPError(http.StatusInternalServerError, "db error")
	}

	//履歴を作成（差分）
	adj := model.InventoryAdjustment{
		ProductID:         productID,
		AdminUserID:       adminUserID,
		Delta:             in.Stock - p.Stock,
		SaleQuantityDelta: newSale - p.OnSaleQuantity,
		Reason:            strings.TrimSpace(in.Reason),
		CreatedAt:         time.Now(),
	}
	if err := u.inventoryRepo.CreateAdjustment(ctx, adj); err != nil {
		return NewHTTPError(http.StatusInternalServerError, "db error")
	}

	//監査ログを作成（在庫更新）
	//「誰が」「何を」「どの対象に」「どう変えたか」を残す
	if err := u.auditRepo.Create(ctx, model.AuditLog{
		ActorUserID:  adminUserID,
		Action:       model.AuditActionUpdateStock,
		ResourceType: model.AuditResourceProduct,
		ResourceID:   productID,
		BeforeJSON:   beforeJSON,
		AfterJSON:    afterJSON,
		CreatedAt:    time.Now(),
	}); err != nil {
		return NewHTTPError(http.StatusInternalServerError, "db error")
	}

	return nil
}

type AuditLogListInput struct {
	ProductID *int64
	Limit     int
	Offset    int
}

// 商品に関する監査ログの一覧
func (u *ProductUsecase) AdminListAuditLogs(ctx context.Context, in AuditLogListInput) ([]model.AuditLog, error) {
	rt := model.AuditResourceProduct
	logs, err := u.auditRepo.List(ctx, repo.AuditLogFilter{
		ResourceType: &rt,
		ResourceID:   in.ProductID,
		Limit:        in.Limit,
		Offset:       in.Offset,
	})
	if err != nil {
		return nil, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	if logs == nil {
		logs = []model.AuditLog{}
	}
	return logs, nil
}

// 保存したがDBに紐づけられなかった画像を消す
func (u *ProductUsecase) discardUpload(ctx context.Context, relativePath string) {
	if relativePath == "" {
		return
	}
	if res := u.images.DeleteProductImage(ctx, relativePath); !res.Success {
		u.logger.Warn("discard uploaded image", zap.String("image", relativePath), zap.Error(res.Err()))
	}
}

// 監査ログは本処理を止めない
func (u *ProductUsecase) audit(ctx context.Context, actor int64, action model.AuditAction, productID int64, before, after string) {
	err := u.auditRepo.Create(ctx, model.AuditLog{
		ActorUserID:  actor,
		Action:       action,
		ResourceType: model.AuditResourceProduct,
		ResourceID:   productID,
		BeforeJSON:   before,
		AfterJSON:    after,
		CreatedAt:    time.Now(),
	})
	if err != nil {
		u.logger.Warn("audit log not written",
			zap.String("action", string(action)),
			zap.Int64("product_id", productID),
			zap.Error(err),
		)
	}
}

func productAuditJSON(p model.Product) string {
	sale := "null"
	if p.SalePrice.Valid {
		sale = fmt.Sprintf("%q", p.SalePrice.Decimal.String())
	}
	return fmt.Sprintf(`{"name":%q,"price":%q,"sale_price":%s,"is_on_sale":%t,"on_sale_quantity":%d,"stock":%d,"is_active":%t,"image":%q}`,
		p.Name, p.Price.String(), sale, p.IsOnSale, p.OnSaleQuantity, p.Stock, p.IsActive, p.Image)
}
