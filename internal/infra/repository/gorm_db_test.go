package repository_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/infra/db"
	infraRepo "storefront/internal/infra/repository"
	repo "storefront/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 実DBが必要。TEST_DATABASE_DSN が無ければスキップする。
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	gdb, err := db.Connect(ctx, dsn, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

func createProduct(t *testing.T, products *infraRepo.ProductGormRepository, p model.Product) model.Product {
	t.Helper()
	if p.Name == "" {
		p.Name = "db-test-" + time.Now().Format("150405.000000000")
	}
	if p.Price.IsZero() {
		p.Price = decimal.NewFromInt(100)
	}
	created, err := products.Create(context.Background(), p)
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	return created
}

func TestInventory_ConditionalDecrease(t *testing.T) {
	gdb := openTestDB(t)
	ctx := context.Background()

	products := infraRepo.NewProductGormRepository(gdb)
	inventory := infraRepo.NewInventoryGormRepository(gdb)

	p := createProduct(t, products, model.Product{
		Stock:          3,
		IsOnSale:       true,
		SalePrice:      decimal.NewNullDecimal(decimal.NewFromInt(80)),
		OnSaleQuantity: 1,
		IsActive:       true,
	})

	ok, err := inventory.DecreaseSaleQuantityIfEnough(ctx, p.ID, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = inventory.DecreaseSaleQuantityIfEnough(ctx, p.ID, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = inventory.DecreaseStockIfEnough(ctx, p.ID, 4)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = inventory.DecreaseStockIfEnough(ctx, p.ID, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := products.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Stock)
	assert.Equal(t, int64(0), got.OnSaleQuantity)

	assert.ErrorIs(t, inventory.SetStock(ctx, -1, 1, 0), repo.ErrNotFound)
}

func TestProduct_SoftDeleteAndImagePaths(t *testing.T) {
	gdb := openTestDB(t)
	ctx := context.Background()
	products := infraRepo.NewProductGormRepository(gdb)

	img := "/images/products/uploads/db-test-" + time.Now().Format("150405.000000000") + ".png"
	p := createProduct(t, products, model.Product{Image: img, IsActive: true})

	paths, err := products.ListImagePaths(ctx)
	require.NoError(t, err)
	assert.Contains(t, paths, img)

	// Update は画像を書き換えない
	p.Image = "/images/products/uploads/other.png"
	p.Name = p.Name + "-renamed"
	require.NoError(t, products.Update(ctx, p))
	got, err := products.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, img, got.Image)

	require.NoError(t, products.SoftDelete(ctx, p.ID))
	_, err = products.FindByID(ctx, p.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	//行は残り deleted_at だけ入る
	conn, err := pgx.Connect(ctx, os.Getenv("TEST_DATABASE_DSN"))
	require.NoError(t, err)
	defer func() { _ = conn.Close(ctx) }()

	var deleted bool
	require.NoError(t, conn.QueryRow(ctx, "SELECT deleted_at IS NOT NULL FROM products WHERE id = $1", p.ID).Scan(&deleted))
	assert.True(t, deleted)

	//削除済み商品の画像は参照扱いにしない
	paths, err = products.ListImagePaths(ctx)
	require.NoError(t, err)
	assert.NotContains(t, paths, img)
}

func TestTxManager_RollsBack(t *testing.T) {
	gdb := openTestDB(t)
	ctx := context.Background()
	products := infraRepo.NewProductGormRepository(gdb)
	p := createProduct(t, products, model.Product{Stock: 5, IsActive: true})

	boom := errors.New("boom")
	err := infraRepo.NewTxManagerGorm(gdb).WithinTx(ctx, func(r repo.TxRepos) error {
		ok, err := r.Inventory().DecreaseStockIfEnough(ctx, p.ID, 5)
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := products.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Stock)
}

// 項目更新の後に画像更新が失敗したら、項目も元に戻る
func TestTxManager_ProductUpdateRollsBack(t *testing.T) {
	gdb := openTestDB(t)
	ctx := context.Background()
	products := infraRepo.NewProductGormRepository(gdb)
	p := createProduct(t, products, model.Product{Image: "/images/products/uploads/keep.png", IsActive: true})

	renamed := p
	renamed.Name = p.Name + "-renamed"
	err := infraRepo.NewTxManagerGorm(gdb).WithinTx(ctx, func(r repo.TxRepos) error {
		require.NoError(t, r.Products().Update(ctx, renamed))
		return r.Products().UpdateImage(ctx, -1, "/images/products/uploads/new.png")
	})
	assert.ErrorIs(t, err, repo.ErrNotFound)

	got, err := products.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, p.Image, got.Image)
}

func TestUser_IncrementTokenVersion(t *testing.T) {
	gdb := openTestDB(t)
	ctx := context.Background()
	users := infraRepo.NewUserGormRepository(gdb)

	u := &model.User{
		Email:        "db-test-" + time.Now().Format("150405.000000000") + "@example.com",
		PasswordHash: "x",
		Role:         model.RoleUser,
		IsActive:     true,
	}
	require.NoError(t, users.Create(ctx, u))

	v, err := users.IncrementTokenVersion(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = users.IncrementTokenVersion(ctx, -1)
	assert.ErrorIs(t, err, repo.ErrUserNotFound)
}

func TestAuditLog_ListNewestFirst(t *testing.T) {
	gdb := openTestDB(t)
	ctx := context.Background()
	audit := infraRepo.NewAuditLogGormRepository(gdb)

	rid := time.Now().UnixNano()
	base := time.Now()
	for i, action := range []model.AuditAction{model.AuditActionUpdateProduct, model.AuditActionReplaceImage} {
		require.NoError(t, audit.Create(ctx, model.AuditLog{
			ActorUserID:  1,
			Action:       action,
			ResourceType: model.AuditResourceProduct,
			ResourceID:   rid,
			BeforeJSON:   "{}",
			AfterJSON:    "{}",
			CreatedAt:    base.Add(time.Duration(i) * time.Second),
		}))
	}

	rt := model.AuditResourceProduct
	logs, err := audit.List(ctx, repo.AuditLogFilter{ResourceType: &rt, ResourceID: &rid, Limit: 10})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, model.AuditActionReplaceImage, logs[0].Action)
}
