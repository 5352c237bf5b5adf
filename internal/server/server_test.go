package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"storefront/internal/cart"
	"storefront/internal/domain/model"
	"storefront/internal/handler"
	"storefront/internal/infra/imagestore"
	"storefront/internal/infra/kv"
	"storefront/internal/middleware"
	"storefront/internal/repository"
	"storefront/internal/server"
	"storefront/internal/usecase"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "server-test-secret"
	feURL      = "http://localhost:5173"
)

// =====================
// in-memory repositories
// =====================

type productStore struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]model.Product
}

func newProductStore() *productStore {
	return &productStore{nextID: 1, items: map[int64]model.Product{}}
}

func (s *productStore) ListPublic(ctx context.Context, q repository.ProductListQuery) ([]model.Product, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Product{}
	for _, p := range s.items {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, int64(len(out)), nil
}

func (s *productStore) FindByID(ctx context.Context, id int64) (model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok {
		return model.Product{}, repository.ErrNotFound
	}
	return p, nil
}

func (s *productStore) Create(ctx context.Context, p model.Product) (model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.nextID
	s.nextID++
	s.items[p.ID] = p
	return p, nil
}

func (s *productStore) Update(ctx context.Context, p model.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[p.ID]
	if !ok {
		return repository.ErrNotFound
	}
	p.Image = cur.Image
	s.items[p.ID] = p
	return nil
}

func (s *productStore) UpdateImage(ctx context.Context, id int64, img string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Image = img
	s.items[id] = p
	return nil
}

func (s *productStore) SoftDelete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *productStore) ListImagePaths(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []string{}
	for _, p := range s.items {
		if p.Image != "" {
			out = append(out, p.Image)
		}
	}
	return out, nil
}

type userStore struct {
	users map[int64]*model.User
}

func (s *userStore) Create(ctx context.Context, u *model.User) error { return nil }
func (s *userStore) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return nil, repository.ErrUserNotFound
}
func (s *userStore) FindByID(ctx context.Context, id int64) (*model.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return u, nil
}
func (s *userStore) Update(ctx context.Context, u *model.User) error { return nil }
func (s *userStore) IncrementTokenVersion(ctx context.Context, id int64) (int, error) {
	u, ok := s.users[id]
	if !ok {
		return 0, repository.ErrUserNotFound
	}
	u.TokenVersion++
	return u.TokenVersion, nil
}

type nopAudit struct{}

func (nopAudit) Create(ctx context.Context, l model.AuditLog) error { return nil }
func (nopAudit) List(ctx context.Context, f repository.AuditLogFilter) ([]model.AuditLog, error) {
	return nil, nil
}

// 商品だけを扱うTx。失敗時の巻き戻しはしない
type productTx struct{ products *productStore }

func (t productTx) Orders() repository.OrderRepository         { return nil }
func (t productTx) OrderItems() repository.OrderItemRepository { return nil }
func (t productTx) Inventory() repository.InventoryRepository  { return nopInventory{} }
func (t productTx) Products() repository.ProductRepository     { return t.products }

func (t productTx) WithinTx(ctx context.Context, fn func(r repository.TxRepos) error) error {
	return fn(t)
}

type nopInventory struct{}

func (nopInventory) SetStock(ctx context.Context, id, stock, sale int64) error { return nil }
func (nopInventory) DecreaseStockIfEnough(ctx context.Context, id, qty int64) (bool, error) {
	return true, nil
}
func (nopInventory) DecreaseSaleQuantityIfEnough(ctx context.Context, id, qty int64) (bool, error) {
	return true, nil
}
func (nopInventory) CreateAdjustment(ctx context.Context, a model.InventoryAdjustment) error {
	return nil
}

// =====================
// setup
// =====================

type testServer struct {
	e         *echo.Echo
	products  *productStore
	images    *imagestore.Manager
	publicDir string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	dir := t.TempDir()
	images := imagestore.New(imagestore.Options{PublicDir: dir})
	require.NoError(t, images.EnsureDirectoriesExist())

	mem, err := kv.NewMemoryStore(100)
	require.NoError(t, err)
	carts := cart.NewStore(mem, time.Hour)

	products := newProductStore()
	users := &userStore{users: map[int64]*model.User{
		1: {ID: 1, Role: model.RoleAdmin, IsActive: true},
		2: {ID: 2, Role: model.RoleUser, IsActive: true},
	}}

	productUC := usecase.NewProductUsecase(products, nopInventory{}, nopAudit{}, productTx{products: products}, images, nil)
	authUC := usecase.NewAuthUsecase(usecase.AuthConfig{JWTSecret: testSecret}, users, nopAudit{}, nil, nil)
	session := middleware.CartSession(middleware.CartSessionConfig{TTL: time.Hour})

	e := server.New(server.Options{
		FEURL:          feURL,
		PublicDir:      dir,
		BodyLimitBytes: 2 << 20,
	}, handler.Guards{JWTSecret: testSecret, Users: users}, server.Handlers{
		Auth:         handler.NewAuthHandler(authUC),
		Product:      handler.NewProductHandler(productUC),
		Cart:         handler.NewCartHandler(usecase.NewCartUsecase(carts, products, nil), session),
		Order:        handler.NewOrderHandler(usecase.NewOrderUsecase(nil, carts, nil), session),
		AdminProduct: handler.NewAdminProductHandler(productUC, 1<<20),
		AdminUser:    handler.NewAdminUserHandler(authUC),
	})

	return &testServer{e: e, products: products, images: images, publicDir: dir}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func token(t *testing.T, userID int64, role model.Role) string {
	t.Helper()
	now := time.Now()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  userID,
		"role": string(role),
		"tv":   0,
		"iat":  now.Unix(),
		"exp":  now.Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func pngImage(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func productForm(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		fw, err := w.CreateFormFile("image", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

// =====================
// tests
// =====================

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestStaticProductImages(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, os.WriteFile(s.images.AbsolutePath("a.png", imagestore.VariantOriginal), []byte("png"), 0o644))

	rec := s.do(httptest.NewRequest(http.MethodGet, "/images/products/uploads/a.png", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png", rec.Body.String())

	rec = s.do(httptest.NewRequest(http.MethodGet, "/images/products/uploads/missing.png", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/products", nil)
	req.Header.Set(echo.HeaderOrigin, feURL)
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodGet)

	rec := s.do(req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, feURL, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, "true", rec.Header().Get(echo.HeaderAccessControlAllowCredentials))
}

func TestCartFlowKeepsSession(t *testing.T) {
	s := newTestServer(t)
	_, err := s.products.Create(context.Background(), model.Product{
		Name:           "Coffee",
		Price:          decimal.NewFromInt(100),
		SalePrice:      decimal.NewNullDecimal(decimal.NewFromInt(80)),
		IsOnSale:       true,
		OnSaleQuantity: 2,
		Stock:          10,
		IsActive:       true,
	})
	require.NoError(t, err)

	// 最初のリクエストでセッションが発行される
	rec := s.do(httptest.NewRequest(http.MethodGet, "/cart", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	sessionCookie := cookies[0]
	assert.Equal(t, "cart_session", sessionCookie.Name)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/cart", strings.NewReader(`{"product_id":1}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.AddCookie(sessionCookie)
		rec = s.do(req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	var out usecase.CartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Items, 2)
	assert.True(t, out.Total.Equal(decimal.NewFromInt(260)))

	// Cookie無しは別のカート
	rec = s.do(httptest.NewRequest(http.MethodGet, "/cart", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Empty(t, out.Items)
}

func TestOrdersRequireLogin(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(httptest.NewRequest(http.MethodPost, "/orders", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminCreateProductWithImage(t *testing.T) {
	s := newTestServer(t)

	body, ct := productForm(t, map[string]string{
		"name":      "Coffee",
		"price":     "1200",
		"stock":     "5",
		"is_active": "true",
	}, "Coffee Beans.png", pngImage(t))

	req := httptest.NewRequest(http.MethodPost, "/admin/products", body)
	req.Header.Set(echo.HeaderContentType, ct)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, 1, model.RoleAdmin))

	rec := s.do(req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out usecase.AdminProductOutput
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, strings.HasSuffix(out.Product.Image, "-coffee-beans.png"), out.Product.Image)
	assert.True(t, s.images.ValidateImageExists(context.Background(), out.Product.Image).Exists)

	// 保存した画像はそのまま配信される
	rec = s.do(httptest.NewRequest(http.MethodGet, out.Product.Image, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminCreateProductRejectsNonImage(t *testing.T) {
	s := newTestServer(t)

	body, ct := productForm(t, map[string]string{"name": "X", "price": "1"}, "evil.png", []byte("#!/bin/sh\necho hi\n"))

	req := httptest.NewRequest(http.MethodPost, "/admin/products", body)
	req.Header.Set(echo.HeaderContentType, ct)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, 1, model.RoleAdmin))

	rec := s.do(req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	entries, err := os.ReadDir(s.publicDir + "/images/products/uploads")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAdminRoutesRejectUsers(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/admin/products/1", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, 2, model.RoleUser))

	rec := s.do(req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminDeleteProductRemovesImage(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	stored, err := s.images.Save(ctx, "a.png", bytes.NewReader(pngImage(t)))
	require.NoError(t, err)
	p, err := s.products.Create(ctx, model.Product{Name: "A", Price: decimal.NewFromInt(1), Image: stored.RelativePath, IsActive: true})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/admin/products/1", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, 1, model.RoleAdmin))

	rec := s.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(1), p.ID)
	assert.False(t, s.images.ValidateImageExists(ctx, stored.RelativePath).Exists)
}
