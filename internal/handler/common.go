package handler

import (
	"net/http"

	"storefront/internal/middleware"
	"storefront/internal/repository"
	"storefront/internal/usecase"

	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}

func writeError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}
	if he, ok := usecase.AsHTTPError(err); ok {
		return c.JSON(he.Status, ErrorResponse{Error: he.Message})
	}

	//500
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

// Guards はルートに付ける認証ミドルウェアの組み合わせ
type Guards struct {
	JWTSecret string
	Users     repository.UserRepository
}

// ログイン必須（JWT + token_version一致）
func (g Guards) User() []echo.MiddlewareFunc {
	return []echo.MiddlewareFunc{
		middleware.AuthJWT(g.JWTSecret),
		middleware.TokenVersionGuard(g.Users),
	}
}

// ADMIN限定
func (g Guards) Admin() []echo.MiddlewareFunc {
	return append(g.User(), middleware.AdminRoleGuard())
}

// middleware.AuthJWT が c.Set("user_id", int64) した値を取り出す
func getUserIDFromContext(c echo.Context) (int64, bool) {
	return middleware.UserID(c)
}
