package validator

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"storefront/internal/repository"
	"storefront/internal/usecase"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// パスワード最低文字数
const minPasswordLength = 8

type authValidator struct {
	users repository.UserRepository
}

// Usecaseは interface を依存注入
func NewAuthValidator(users repository.UserRepository) usecase.AuthValidator {
	return &authValidator{users: users}
}

// サインアップの入力を検証
func (v *authValidator) ValidateRegister(ctx context.Context, email string, password string) error {
	email = strings.TrimSpace(email)

	// 必須チェック
	if email == "" || password == "" {
		return usecase.NewHTTPError(http.StatusBadRequest, "email and password required")
	}

	// email形式
	if !emailPattern.MatchString(email) {
		return usecase.NewHTTPError(http.StatusBadRequest, "invalid email")
	}

	if len(password) < minPasswordLength {
		return usecase.NewHTTPError(http.StatusBadRequest, "password too short")
	}

	// email重複チェック（DBが必要）
	_, err := v.users.FindByEmail(ctx, email)
	if err == nil {
		return usecase.NewHTTPError(http.StatusConflict, "email already used")
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return usecase.NewHTTPError(http.StatusInternalServerError, "db error")
	}

	return nil
}

// ログインの入力を検証
func (v *authValidator) ValidateLogin(ctx context.Context, email string, password string) error {
	email = strings.TrimSpace(email)

	// 必須チェック
	if email == "" || password == "" {
		return usecase.NewHTTPError(http.StatusBadRequest, "email and password required")
	}

	// email形式
	if !emailPattern.MatchString(email) {
		return usecase.NewHTTPError(http.StatusBadRequest, "invalid email")
	}

	return nil
}

// 強制ログアウトの入力を検証
func (v *authValidator) ValidateForceLogout(ctx context.Context, targetUserID int64) error {
	if targetUserID <= 0 {
		return usecase.NewHTTPError(http.StatusBadRequest, "invalid user_id")
	}
	return nil
}
