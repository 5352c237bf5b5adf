package handler

import (
	"bytes"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"storefront/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// multipart の画像フィールド名
const imageField = "image"

// 受け付ける画像の種類（中身から判定）
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// InventoryUpdateRequest は在庫更新の入力です。
type InventoryUpdateRequest struct {
	Stock          int64  `json:"stock"`
	OnSaleQuantity *int64 `json:"on_sale_quantity"`
	Reason         string `json:"reason"`
}

// /admin/products と /admin/inventory をまとめる
type AdminProductHandler struct {
	uc *usecase.ProductUsecase
	// アップロード画像の上限
	maxUploadBytes int64
}

// DI
func NewAdminProductHandler(uc *usecase.ProductUsecase, maxUploadBytes int64) *AdminProductHandler {
	return &AdminProductHandler{uc: uc, maxUploadBytes: maxUploadBytes}
}

// adminを登録
func (h *AdminProductHandler) RegisterRoutes(e *echo.Echo, guards Guards) {
	admin := e.Group("/admin", guards.Admin()...)

	admin.POST("/products", h.createProduct)
	admin.PUT("/products/:id", h.updateProduct)
	admin.DELETE("/products/:id", h.deleteProduct)
	admin.PUT("/inventory/:product_id", h.updateInventory)
	admin.GET("/audit-logs", h.listAuditLogs)
}

func (h *AdminProductHandler) createProduct(c echo.Context) error {
	adminID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	in, closeImage, err := h.readProductForm(c)
	if err != nil {
		return writeError(c, err)
	}
	defer closeImage()

	out, err := h.uc.AdminCreateProduct(c.Request().Context(), adminID, in)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusCreated, out)
}

func (h *AdminProductHandler) updateProduct(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	adminID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	in, closeImage, err := h.readProductForm(c)
	if err != nil {
		return writeError(c, err)
	}
	defer closeImage()

	out, err := h.uc.AdminUpdateProduct(c.Request().Context(), adminID, id, in)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}

func (h *AdminProductHandler) deleteProduct(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	adminID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	res, err := h.uc.AdminDeleteProduct(c.Request().Context(), adminID, id)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, res)
}

func (h *AdminProductHandler) updateInventory(c echo.Context) error {
	productID, err := strconv.ParseInt(c.Param("product_id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid product_id"})
	}

	var req InventoryUpdateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	adminID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	if err := h.uc.AdminUpdateInventory(c.Request().Context(), adminID, productID, usecase.AdminInventoryInput{
		Stock:          req.Stock,
		OnSaleQuantity: req.OnSaleQuantity,
		Reason:         req.Reason,
	}); err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, SuccessResponse{Message: "stock updated"})
}

func (h *AdminProductHandler) listAuditLogs(c echo.Context) error {
	in := usecase.AuditLogListInput{}

	if v := c.QueryParam("product_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid product_id"})
		}
		in.ProductID = &id
	}
	if v := c.QueryParam("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
		}
		in.Limit = l
	}
	if v := c.QueryParam("offset"); v != "" {
		o, err := strconv.Atoi(v)
		if err != nil || o < 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid offset"})
		}
		in.Offset = o
	}

	logs, err := h.uc.AdminListAuditLogs(c.Request().Context(), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, logs)
}

// readProductForm は multipart のフォームを読む。画像は任意。
// 戻り値の関数で画像ファイルを閉じる。
func (h *AdminProductHandler) readProductForm(c echo.Context) (usecase.AdminProductInput, func(), error) {
	noop := func() {}

	price, err := decimal.NewFromString(strings.TrimSpace(c.FormValue("price")))
	if err != nil {
		return usecase.AdminProductInput{}, noop, usecase.NewHTTPError(http.StatusBadRequest, "invalid price")
	}

	var salePrice decimal.NullDecimal
	if v := strings.TrimSpace(c.FormValue("sale_price")); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return usecase.AdminProductInput{}, noop, usecase.NewHTTPError(http.StatusBadRequest, "invalid sale_price")
		}
		salePrice = decimal.NewNullDecimal(d)
	}

	isOnSale, err := formBool(c, "is_on_sale")
	if err != nil {
		return usecase.AdminProductInput{}, noop, err
	}
	isActive, err := formBool(c, "is_active")
	if err != nil {
		return usecase.AdminProductInput{}, noop, err
	}
	stock, err := formInt(c, "stock")
	if err != nil {
		return usecase.AdminProductInput{}, noop, err
	}
	saleQty, err := formInt(c, "on_sale_quantity")
	if err != nil {
		return usecase.AdminProductInput{}, noop, err
	}

	in := usecase.AdminProductInput{
		Name:           c.FormValue("name"),
		Description:    c.FormValue("description"),
		Price:          price,
		SalePrice:      salePrice,
		IsOnSale:       isOnSale,
		OnSaleQuantity: saleQty,
		Stock:          stock,
		IsActive:       isActive,
	}

	fh, err := c.FormFile(imageField)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return in, noop, nil
	}
	if err != nil {
		return usecase.AdminProductInput{}, noop, usecase.NewHTTPError(http.StatusBadRequest, "invalid multipart form")
	}

	upload, closeFn, err := h.openImage(fh)
	if err != nil {
		return usecase.AdminProductInput{}, noop, err
	}
	in.Image = upload
	return in, closeFn, nil
}

// openImage はサイズと種類を確認してから読み出し用に開く。
func (h *AdminProductHandler) openImage(fh *multipart.FileHeader) (*usecase.ImageUpload, func(), error) {
	if fh.Size <= 0 {
		return nil, nil, usecase.NewHTTPError(http.StatusBadRequest, "empty image")
	}
	if fh.Size > h.maxUploadBytes {
		return nil, nil, usecase.NewHTTPError(http.StatusRequestEntityTooLarge, "image too large")
	}

	f, err := fh.Open()
	if err != nil {
		return nil, nil, usecase.NewHTTPError(http.StatusBadRequest, "invalid image")
	}

	// 送られてきた Content-Type は信用せず中身で判定
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		_ = f.Close()
		return nil, nil, usecase.NewHTTPError(http.StatusBadRequest, "invalid image")
	}
	head = head[:n]

	if !allowedImageTypes[http.DetectContentType(head)] {
		_ = f.Close()
		return nil, nil, usecase.NewHTTPError(http.StatusUnsupportedMediaType, "unsupported image type")
	}

	body := io.LimitReader(io.MultiReader(bytes.NewReader(head), f), h.maxUploadBytes)
	return &usecase.ImageUpload{Filename: fh.Filename, Body: body}, func() { _ = f.Close() }, nil
}

func formBool(c echo.Context, key string) (bool, error) {
	v := strings.TrimSpace(c.FormValue(key))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, usecase.NewHTTPError(http.StatusBadRequest, "invalid "+key)
	}
	return b, nil
}

func formInt(c echo.Context, key string) (int64, error) {
	v := strings.TrimSpace(c.FormValue(key))
	if v == "" {
		return 0, nil
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, usecase.NewHTTPError(http.StatusBadRequest, "invalid "+key)
	}
	return i, nil
}
